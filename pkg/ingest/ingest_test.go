package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/document/inmemory"
	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/eventstream"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/ingest"
	testutils "github.com/papercomputeco/finsight/pkg/utils/test"
	"github.com/papercomputeco/finsight/pkg/vector"
)

func TestIngest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ingest Suite")
}

func vectorIDs(ctx context.Context, d vector.Driver) []string {
	ids, err := d.List(ctx)
	Expect(err).NotTo(HaveOccurred())
	return ids
}

func docCount(ctx context.Context, s document.Store) int {
	n, err := s.Count(ctx)
	Expect(err).NotTo(HaveOccurred())
	return n
}

var scenario = []document.Input{
	{ID: "d1", Text: "Apple earnings grew", Metadata: document.Metadata{"category": "business"}},
	{ID: "d2", Text: "Apple stock fell", Metadata: document.Metadata{"category": "markets"}},
	{ID: "d3", Text: "Tesla deliveries record", Metadata: document.Metadata{"category": "automotive"}},
}

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		store     *inmemory.Store
		vectors   *testutils.MockVectorDriver
		embedder  *testutils.MockEmbedder
		publisher *testutils.MockPublisher
		manager   *ingest.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewStore()
		vectors = testutils.NewMockVectorDriver()
		embedder = testutils.NewMockEmbedder("apple", "earnings", "stock", "tesla")
		publisher = testutils.NewMockPublisher()

		var err error
		manager, err = ingest.NewManager(ingest.Config{
			Store:     store,
			Vectors:   vectors,
			Embedder:  embedder,
			Publisher: publisher,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires every collaborator", func() {
		_, err := ingest.NewManager(ingest.Config{Store: store, Vectors: vectors})
		Expect(err).To(MatchError(ContainSubstring("embedder")))
	})

	Describe("Add", func() {
		It("writes both stores and reports ids in input order", func() {
			result, err := manager.Add(ctx, scenario, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IDs).To(Equal([]string{"d1", "d2", "d3"}))
			Expect(result.Created).To(Equal(3))
			Expect(result.Embedded).To(BeTrue())

			Expect(docCount(ctx, store)).To(Equal(3))
			Expect(vectorIDs(ctx, vectors)).To(Equal([]string{"d1", "d2", "d3"}))

			records, err := vectors.Get(ctx, []string{"d2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(records[0].Metadata).To(HaveKeyWithValue("category", "markets"))
			Expect(records[0].Embedding).To(Equal([]float32{1, 0, 1, 0}))

			Expect(publisher.Types()).To(Equal([]string{
				eventstream.EventTypeDocumentAdded,
				eventstream.EventTypeDocumentAdded,
				eventstream.EventTypeDocumentAdded,
			}))
		})

		It("is idempotent by content", func() {
			first, err := manager.Add(ctx, []document.Input{{Text: "X", Metadata: document.Metadata{"category": "a"}}}, true)
			Expect(err).NotTo(HaveOccurred())
			second, err := manager.Add(ctx, []document.Input{{Text: "X", Metadata: document.Metadata{"category": "b"}}}, true)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.IDs).To(Equal(first.IDs))
			Expect(second.Created).To(BeZero())
			Expect(second.Duplicates).To(Equal(1))
			Expect(docCount(ctx, store)).To(Equal(1))
			Expect(publisher.Events()).To(HaveLen(1))
		})

		It("validates every input before writing", func() {
			_, err := manager.Add(ctx, []document.Input{{Text: "fine"}, {Text: "  "}}, true)
			Expect(fault.IsValidation(err)).To(BeTrue())
			Expect(docCount(ctx, store)).To(BeZero())
			Expect(embedder.Calls()).To(BeZero())
		})

		It("rejects an empty batch", func() {
			_, err := manager.Add(ctx, nil, true)
			Expect(fault.IsValidation(err)).To(BeTrue())
		})

		It("rolls back both stores when embedding fails", func() {
			embedder.FailOn = "Apple stock fell"
			_, err := manager.Add(ctx, scenario, true)
			Expect(fault.IsUnavailable(err)).To(BeTrue())
			Expect(errors.Is(err, embeddings.ErrEmbedding)).To(BeTrue())

			Expect(docCount(ctx, store)).To(BeZero())
			Expect(vectorIDs(ctx, vectors)).To(BeEmpty())
			Expect(publisher.Events()).To(BeEmpty())
		})

		It("rolls back the document store when the index write fails", func() {
			vectors.FailUpsert(errors.New("index offline"))
			_, err := manager.Add(ctx, scenario, true)
			Expect(err).To(MatchError(ContainSubstring("index offline")))
			Expect(docCount(ctx, store)).To(BeZero())
		})

		It("keeps documents that existed before a failed batch", func() {
			_, err := manager.Add(ctx, scenario[:1], true)
			Expect(err).NotTo(HaveOccurred())

			embedder.FailOn = "Tesla deliveries record"
			_, err = manager.Add(ctx, scenario, true)
			Expect(err).To(HaveOccurred())

			Expect(docCount(ctx, store)).To(Equal(1))
			Expect(vectorIDs(ctx, vectors)).To(Equal([]string{"d1"}))
		})

		It("bounds each provider request rather than the whole batch", func() {
			slow := &slowEmbedder{MockEmbedder: embedder, delay: 40 * time.Millisecond}
			m, err := ingest.NewManager(ingest.Config{
				Store:    store,
				Vectors:  vectors,
				Embedder: slow,
				Timeout:  100 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			inputs := make([]document.Input, 5)
			for i := range inputs {
				inputs[i] = document.Input{Text: fmt.Sprintf("apple stock note %d", i)}
			}
			result, err := m.Add(ctx, inputs, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Created).To(Equal(5))
			Expect(vectorIDs(ctx, vectors)).To(HaveLen(5))
			Expect(slow.requests).To(Equal(5))
		})

		It("stores without embeddings when asked", func() {
			result, err := manager.Add(ctx, scenario, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Embedded).To(BeFalse())
			Expect(docCount(ctx, store)).To(Equal(3))
			Expect(vectorIDs(ctx, vectors)).To(BeEmpty())
			Expect(publisher.Events()[0].Embedded).To(BeFalse())
		})

		It("does not fail the write when publishing fails", func() {
			publisher.Fail(errors.New("broker down"))
			_, err := manager.Add(ctx, scenario, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(docCount(ctx, store)).To(Equal(3))
		})
	})

	Describe("Update", func() {
		BeforeEach(func() {
			_, err := manager.Add(ctx, scenario, true)
			Expect(err).NotTo(HaveOccurred())
		})

		It("re-embeds changed text", func() {
			text := "Tesla stock fell"
			doc, err := manager.Update(ctx, "d2", document.Update{Text: &text})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Text).To(Equal(text))

			records, _ := vectors.Get(ctx, []string{"d2"})
			Expect(records[0].Embedding).To(Equal([]float32{0, 0, 1, 1}))
			Expect(publisher.Types()).To(ContainElement(eventstream.EventTypeDocumentUpdated))
		})

		It("copies changed metadata onto the vector", func() {
			_, err := manager.Update(ctx, "d1", document.Update{Metadata: document.Metadata{"category": "markets"}})
			Expect(err).NotTo(HaveOccurred())

			records, _ := vectors.Get(ctx, []string{"d1"})
			Expect(records[0].Metadata).To(HaveKeyWithValue("category", "markets"))
		})

		It("restores the document when re-embedding fails", func() {
			text := "Apple earnings slumped"
			embedder.FailOn = text
			_, err := manager.Update(ctx, "d1", document.Update{Text: &text})
			Expect(fault.IsUnavailable(err)).To(BeTrue())

			doc, err := store.Get(ctx, "d1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Text).To(Equal("Apple earnings grew"))
		})

		It("reports unknown ids", func() {
			text := "anything"
			_, err := manager.Update(ctx, "missing", document.Update{Text: &text})
			Expect(err).To(MatchError(document.NotFoundError{ID: "missing"}))
		})

		It("rejects empty updates", func() {
			_, err := manager.Update(ctx, "d1", document.Update{})
			Expect(fault.IsValidation(err)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, err := manager.Add(ctx, scenario, true)
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes the id from both stores", func() {
			ok, err := manager.Delete(ctx, "d1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			_, err = store.Get(ctx, "d1")
			Expect(err).To(MatchError(document.NotFoundError{ID: "d1"}))
			Expect(vectorIDs(ctx, vectors)).To(Equal([]string{"d2", "d3"}))
			Expect(publisher.Types()).To(ContainElement(eventstream.EventTypeDocumentDeleted))
		})

		It("returns false for unknown ids", func() {
			ok, err := manager.Delete(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("keeps the document when the index delete fails", func() {
			vectors.FailDelete(errors.New("index offline"))
			_, err := manager.Delete(ctx, "d1")
			Expect(err).To(HaveOccurred())

			_, err = store.Get(ctx, "d1")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Reconcile", func() {
		BeforeEach(func() {
			_, err := manager.Add(ctx, scenario[:2], true)
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.Add(ctx, scenario[2:], false)
			Expect(err).NotTo(HaveOccurred())
			Expect(vectors.Upsert(ctx, []vector.Record{{ID: "ghost", Embedding: []float32{1, 1, 1, 1}}})).To(Succeed())
		})

		It("reports orphans and missing vectors", func() {
			report, err := manager.Reconcile(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Orphans).To(Equal([]string{"ghost"}))
			Expect(report.Missing).To(Equal([]string{"d3"}))
			Expect(report.Repaired).To(BeFalse())
			Expect(vectorIDs(ctx, vectors)).To(ContainElement("ghost"))
		})

		It("repairs both directions", func() {
			report, err := manager.Reconcile(ctx, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Repaired).To(BeTrue())
			Expect(report.Removed).To(Equal(1))
			Expect(report.Embedded).To(Equal(1))
			Expect(vectorIDs(ctx, vectors)).To(Equal([]string{"d1", "d2", "d3"}))

			again, err := manager.Reconcile(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Consistent()).To(BeTrue())
		})
	})
})

// slowEmbedder sends one text per request and takes delay per request.
type slowEmbedder struct {
	*testutils.MockEmbedder
	delay    time.Duration
	requests int
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embeddings.Batch(ctx, texts, 1, func(ctx context.Context, chunk []string) ([][]float32, error) {
		s.requests++
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return s.MockEmbedder.EmbedBatch(ctx, chunk)
	})
}

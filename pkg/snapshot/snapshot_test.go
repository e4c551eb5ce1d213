package snapshot_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/document/inmemory"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/snapshot"
	testutils "github.com/papercomputeco/finsight/pkg/utils/test"
	"github.com/papercomputeco/finsight/pkg/vector"
	vectorinmemory "github.com/papercomputeco/finsight/pkg/vector/inmemory"
)

func TestSnapshot(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Snapshot Suite")
}

var _ = Describe("Snapshotter", func() {
	var (
		ctx      context.Context
		store    *inmemory.Store
		vectors  *vectorinmemory.Driver
		embedder *testutils.MockEmbedder
		snap     *snapshot.Snapshotter
	)

	newSnapshotter := func(s document.Store, v vector.Driver) *snapshot.Snapshotter {
		out, err := snapshot.New(snapshot.Config{Store: s, Vectors: v, Embedder: embedder})
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewStore()
		vectors = vectorinmemory.NewDriver(0)
		embedder = testutils.NewMockEmbedder()
		snap = newSnapshotter(store, vectors)

		for _, in := range []document.Input{
			{ID: "d1", Text: "Apple earnings grew", Metadata: document.Metadata{"category": "business"}},
			{ID: "d2", Text: "Apple stock fell", Metadata: document.Metadata{"category": "markets"}},
		} {
			_, _, err := store.Add(ctx, in)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(vectors.Upsert(ctx, []vector.Record{
			{ID: "d1", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{"category": "business"}},
			{ID: "d2", Embedding: []float32{0, 1, 0}, Metadata: map[string]any{"category": "markets"}},
		})).To(Succeed())
	})

	It("round-trips into empty stores", func() {
		var buf bytes.Buffer
		stats, err := snap.Export(ctx, &buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Documents).To(Equal(2))
		Expect(stats.Vectors).To(Equal(2))
		Expect(buf.String()).To(ContainSubstring(`"format":"finsight.snapshot"`))

		targetStore := inmemory.NewStore()
		targetVectors := vectorinmemory.NewDriver(0)
		imported, err := newSnapshotter(targetStore, targetVectors).Import(ctx, &buf, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(imported.Documents).To(Equal(2))
		Expect(imported.Vectors).To(Equal(2))

		doc, err := targetStore.Get(ctx, "d2")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Text).To(Equal("Apple stock fell"))

		recs, err := targetVectors.Get(ctx, []string{"d1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(recs[0].Embedding).To(Equal([]float32{1, 0, 0}))
	})

	It("clears existing data when asked", func() {
		var buf bytes.Buffer
		_, err := snap.Export(ctx, &buf)
		Expect(err).NotTo(HaveOccurred())

		_, _, err = store.Add(ctx, document.Input{ID: "d9", Text: "Rates held"})
		Expect(err).NotTo(HaveOccurred())
		Expect(vectors.Upsert(ctx, []vector.Record{{ID: "d9", Embedding: []float32{0, 0, 1}}})).To(Succeed())

		_, err = snap.Import(ctx, &buf, true)
		Expect(err).NotTo(HaveOccurred())

		n, _ := store.Count(ctx)
		Expect(n).To(Equal(2))
		ids, _ := vectors.List(ctx)
		Expect(ids).To(Equal([]string{"d1", "d2"}))
	})

	It("skips vectors without documents", func() {
		bundle := `{"format":"finsight.snapshot","version":1,"documents":[],"vectors":[{"id":"ghost","embedding":[1,0,0]}]}`
		stats, err := snap.Import(ctx, strings.NewReader(bundle), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Skipped).To(Equal(1))
		n, _ := vectors.Count(ctx)
		Expect(n).To(BeZero())
	})

	DescribeTable("rejects bad bundles",
		func(bundle string) {
			_, err := snap.Import(ctx, strings.NewReader(bundle), true)
			Expect(fault.IsValidation(err)).To(BeTrue())
		},
		Entry("not json", `nope`),
		Entry("wrong format", `{"format":"other","version":1}`),
		Entry("future version", `{"format":"finsight.snapshot","version":99}`),
		Entry("dimension mismatch", `{"format":"finsight.snapshot","version":1,"embedding":{"dimensions":1024}}`),
	)

	It("leaves data alone when a bundle is rejected", func() {
		_, err := snap.Import(ctx, strings.NewReader(`{"format":"other"}`), true)
		Expect(err).To(HaveOccurred())
		n, _ := store.Count(ctx)
		Expect(n).To(Equal(2))
	})

	Describe("failed imports", func() {
		originalState := func(st document.Store, v vector.Driver) {
			doc, err := st.Get(ctx, "d1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Text).To(Equal("Apple earnings grew"))
			ids, err := st.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(docIDs(ids)).To(Equal([]string{"d1", "d2"}))

			vids, err := v.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(vids).To(ConsistOf("d1", "d2"))
			recs, err := v.Get(ctx, []string{"d1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs[0].Embedding).To(Equal([]float32{1, 0, 0}))
		}

		bundle := `{"format":"finsight.snapshot","version":1,
			"documents":[
				{"id":"d1","text":"Apple earnings revised","metadata":{}},
				{"id":"n1","text":"Oil prices rose","metadata":{}},
				{"id":"n2","text":"Gold steady","metadata":{}}],
			"vectors":[
				{"id":"d1","embedding":[0,0,1]},
				{"id":"n1","embedding":[0,1,1]}]}`

		It("restores both stores when the vector index fails midway", func() {
			failing := &failingVectors{Driver: vectors, failID: "n1"}
			_, err := newSnapshotter(store, failing).Import(ctx, strings.NewReader(bundle), false)
			Expect(err).To(MatchError(ContainSubstring("restoring vectors")))
			Expect(err).NotTo(MatchError(ContainSubstring("undoing")))

			_, err = store.Get(ctx, "n1")
			Expect(err).To(BeAssignableToTypeOf(document.NotFoundError{}))
			originalState(store, vectors)
		})

		It("restores cleared stores when a document cannot be written", func() {
			failing := &failingStore{Store: store, failID: "n2"}
			_, err := newSnapshotter(failing, vectors).Import(ctx, strings.NewReader(bundle), true)
			Expect(err).To(MatchError(ContainSubstring("restoring document n2")))

			originalState(store, vectors)
		})

		It("runs under the writer lock", func() {
			writes := &countingSerializer{}
			out, err := snapshot.New(snapshot.Config{Store: store, Vectors: vectors, Writes: writes})
			Expect(err).NotTo(HaveOccurred())

			var buf bytes.Buffer
			_, err = snap.Export(ctx, &buf)
			Expect(err).NotTo(HaveOccurred())
			_, err = out.Import(ctx, &buf, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(writes.calls).To(Equal(1))
		})
	})

	It("compresses .gz files", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "backup.json.gz")
		_, err := snap.ExportFile(ctx, path)
		Expect(err).NotTo(HaveOccurred())

		raw, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw[:2]).To(Equal([]byte{0x1f, 0x8b}))

		targetStore := inmemory.NewStore()
		stats, err := newSnapshotter(targetStore, vectorinmemory.NewDriver(0)).ImportFile(ctx, path, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Documents).To(Equal(2))
	})
})

func docIDs(docs []*document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

// failingVectors fails any upsert that carries failID.
type failingVectors struct {
	vector.Driver
	failID string
}

func (f *failingVectors) Upsert(ctx context.Context, records []vector.Record) error {
	for _, r := range records {
		if r.ID == f.failID {
			return errors.New("index unavailable")
		}
	}
	return f.Driver.Upsert(ctx, records)
}

// failingStore fails restoring the document with failID.
type failingStore struct {
	document.Store
	failID string
}

func (f *failingStore) Restore(ctx context.Context, doc *document.Document) error {
	if doc.ID == f.failID {
		return errors.New("disk full")
	}
	return f.Store.Restore(ctx, doc)
}

type countingSerializer struct {
	calls int
}

func (c *countingSerializer) Exclusive(fn func() error) error {
	c.calls++
	return fn()
}

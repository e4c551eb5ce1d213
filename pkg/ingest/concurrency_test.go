package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/document/inmemory"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/ingest"
	"github.com/papercomputeco/finsight/pkg/search"
	testutils "github.com/papercomputeco/finsight/pkg/utils/test"
)

var _ = Describe("Manager with concurrent callers", func() {
	const (
		workers = 8
		rounds  = 60
	)

	var (
		ctx     context.Context
		store   *inmemory.Store
		vectors *testutils.MockVectorDriver
		manager *ingest.Manager
		engine  *search.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewStore()
		vectors = testutils.NewMockVectorDriver()
		embedder := testutils.NewMockEmbedder("apple", "earnings", "stock", "tesla")

		var err error
		manager, err = ingest.NewManager(ingest.Config{Store: store, Vectors: vectors, Embedder: embedder})
		Expect(err).NotTo(HaveOccurred())
		engine, err = search.NewEngine(search.Config{Store: store, Embedder: embedder, Vectors: vectors})
		Expect(err).NotTo(HaveOccurred())
	})

	// expected reports errors that a racing caller may legitimately see:
	// the id was deleted, or re-added with different text.
	expected := func(err error) bool {
		var nf document.NotFoundError
		return err == nil || errors.As(err, &nf) || fault.IsValidation(err)
	}

	It("keeps the document store and vector index in agreement", func() {
		ids := []string{"a", "b", "c", "d"}

		var wg sync.WaitGroup
		for w := range workers {
			wg.Add(1)
			go func(w int) {
				defer GinkgoRecover()
				defer wg.Done()

				for i := range rounds {
					id := ids[(w+i)%len(ids)]
					switch (w + 3*i) % 5 {
					case 0:
						_, err := manager.Add(ctx, []document.Input{{
							ID:       id,
							Text:     "apple stock " + id,
							Metadata: document.Metadata{"category": "markets"},
						}}, true)
						Expect(expected(err)).To(BeTrue(), "add %s: %v", id, err)
					case 1:
						text := fmt.Sprintf("tesla earnings %s %d %d", id, w, i)
						_, err := manager.Update(ctx, id, document.Update{Text: &text})
						Expect(expected(err)).To(BeTrue(), "update %s: %v", id, err)
					case 2:
						_, err := manager.Update(ctx, id, document.Update{Metadata: document.Metadata{"round": i}})
						Expect(expected(err)).To(BeTrue(), "update metadata %s: %v", id, err)
					case 3:
						_, err := manager.Delete(ctx, id)
						Expect(err).NotTo(HaveOccurred())
					default:
						_, err := engine.Hybrid(ctx, search.Request{Query: "apple stock", K: 5})
						Expect(err).NotTo(HaveOccurred())
					}
				}
			}(w)
		}
		wg.Wait()

		docs, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		stored := make([]string, len(docs))
		for i, doc := range docs {
			stored[i] = doc.ID
		}
		Expect(vectorIDs(ctx, vectors)).To(ConsistOf(stored))

		report, err := manager.Reconcile(ctx, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Consistent()).To(BeTrue())
	})
})

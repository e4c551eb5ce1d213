package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/document/inmemory"
	"github.com/papercomputeco/finsight/pkg/document/sqlite"
	"github.com/papercomputeco/finsight/pkg/filter"
)

func TestSQLite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Document SQLite Suite")
}

var _ = Describe("Persister", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("creates the database file", func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "finsight.db")
		p, err := sqlite.NewPersister(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		_, err = os.Stat(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips documents", func() {
		p, err := sqlite.NewPersister(ctx, ":memory:")
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		doc := &document.Document{
			ID:          "d1",
			Text:        "Apple earnings grew",
			Metadata:    document.Metadata{"category": "business", "tags": []any{"earnings"}, "rank": float64(2)},
			ContentHash: document.ContentHash("Apple earnings grew"),
			CreatedAt:   created,
			UpdatedAt:   created,
		}
		Expect(p.Save(ctx, doc)).To(Succeed())

		doc.Metadata["category"] = "markets"
		doc.UpdatedAt = created.Add(time.Minute)
		Expect(p.Save(ctx, doc)).To(Succeed())

		loaded, err := p.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(1))
		Expect(loaded[0].Metadata).To(Equal(document.Metadata{
			"category": "markets",
			"tags":     []any{"earnings"},
			"rank":     float64(2),
		}))
		Expect(loaded[0].CreatedAt.Equal(created)).To(BeTrue())
		Expect(loaded[0].UpdatedAt.Equal(created.Add(time.Minute))).To(BeTrue())

		Expect(p.Remove(ctx, "d1")).To(Succeed())
		Expect(p.Remove(ctx, "missing")).To(Succeed())
		loaded, err = p.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(BeEmpty())
	})

	It("backs a store across reopen", func() {
		dbPath := filepath.Join(GinkgoT().TempDir(), "finsight.db")

		p, err := sqlite.NewPersister(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		store, err := inmemory.Open(ctx, inmemory.WithPersister(p))
		Expect(err).NotTo(HaveOccurred())

		_, _, err = store.Add(ctx, document.Input{ID: "d1", Text: "Apple earnings grew", Metadata: document.Metadata{"category": "business"}})
		Expect(err).NotTo(HaveOccurred())
		_, _, err = store.Add(ctx, document.Input{ID: "d2", Text: "Apple stock fell", Metadata: document.Metadata{"category": "markets"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Delete(ctx, "d2")
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Close()).To(Succeed())

		p, err = sqlite.NewPersister(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		reopened, err := inmemory.Open(ctx, inmemory.WithPersister(p))
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()

		docs, err := reopened.Filter(ctx, filter.Where("category", filter.Eq("business")))
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].ID).To(Equal("d1"))

		n, _ := reopened.Count(ctx)
		Expect(n).To(Equal(1))
	})

	It("truncates", func() {
		p, err := sqlite.NewPersister(ctx, ":memory:")
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		now := time.Now().UTC()
		Expect(p.Save(ctx, &document.Document{ID: "a", Text: "a", ContentHash: document.ContentHash("a"), CreatedAt: now, UpdatedAt: now})).To(Succeed())
		Expect(p.Truncate(ctx)).To(Succeed())

		loaded, err := p.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(BeEmpty())
	})
})

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/document/postgres"
	"github.com/papercomputeco/finsight/pkg/document/sqlstore"
)

func TestPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Document Postgres Suite")
}

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("FINSIGHT_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("FINSIGHT_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

var _ = Describe("Persister", func() {
	var (
		ctx context.Context
		p   *sqlstore.Persister
	)

	BeforeEach(func() {
		ctx = context.Background()
		dsn := connStr()

		var err error
		p, err = postgres.NewPersister(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Truncate(ctx)).To(Succeed())
	})

	AfterEach(func() {
		if p != nil {
			p.Close()
		}
	})

	It("upserts and loads documents", func() {
		now := time.Now().UTC().Truncate(time.Microsecond)
		doc := &document.Document{
			ID:          "d1",
			Text:        "Tesla deliveries record",
			Metadata:    document.Metadata{"category": "automotive"},
			ContentHash: document.ContentHash("Tesla deliveries record"),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		Expect(p.Save(ctx, doc)).To(Succeed())
		doc.Metadata["source"] = "reuters"
		Expect(p.Save(ctx, doc)).To(Succeed())

		loaded, err := p.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(1))
		Expect(loaded[0].Metadata).To(HaveKeyWithValue("source", "reuters"))
	})
})

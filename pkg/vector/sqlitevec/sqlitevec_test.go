package sqlitevec_test

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/logger"
	testutils "github.com/papercomputeco/finsight/pkg/utils/test"
	"github.com/papercomputeco/finsight/pkg/vector"
	"github.com/papercomputeco/finsight/pkg/vector/sqlitevec"
)

func TestSQLiteVec(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SQLiteVec Suite")
}

var _ = Describe("Driver", func() {
	Describe("NewDriver", func() {
		It("should return an error when DBPath is empty", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: "", Dimensions: 4}, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("database path is required")))
		})

		It("should error when dimension not specified", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:"}, logger.Nop())
			Expect(err).To(HaveOccurred())
		})

		It("reopens an existing database file", func() {
			dbPath := filepath.Join(GinkgoT().TempDir(), "vectors.db")
			cfg := sqlitevec.Config{DBPath: dbPath, Dimensions: 4}

			d, err := sqlitevec.NewDriver(cfg, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Upsert(context.Background(), []vector.Record{
				{ID: "d1", Embedding: []float32{1, 0, 0, 0}},
			})).To(Succeed())
			Expect(d.Close()).To(Succeed())

			d, err = sqlitevec.NewDriver(cfg, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()
			n, err := d.Count(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})
	})

	testutils.DescribeVectorDriver(func() vector.Driver {
		d, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:", Dimensions: 4}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return d
	})
})

package testutils

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/vector"
)

// DescribeVectorDriver registers the behavior every vector.Driver must show.
// newDriver is called before each spec with 4-dimensional embeddings.
func DescribeVectorDriver(newDriver func() vector.Driver) {
	Describe("vector.Driver behavior", func() {
		var (
			ctx    context.Context
			driver vector.Driver
		)

		BeforeEach(func() {
			ctx = context.Background()
			driver = newDriver()
			Expect(driver.Upsert(ctx, []vector.Record{
				{ID: "d1", Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]any{"category": "business", "source": "reuters"}},
				{ID: "d2", Embedding: []float32{0.9, 0.1, 0, 0}, Metadata: map[string]any{"category": "markets", "source": "reuters"}},
				{ID: "d3", Embedding: []float32{0, 0, 1, 0}, Metadata: map[string]any{"category": "automotive", "source": "bloomberg"}},
			})).To(Succeed())
		})

		AfterEach(func() {
			Expect(driver.Close()).To(Succeed())
		})

		It("orders matches by ascending cosine distance", func() {
			matches, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 3, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(3))
			Expect(matches[0].ID).To(Equal("d1"))
			Expect(matches[0].Distance).To(BeNumerically("~", 0, 1e-5))
			Expect(matches[1].ID).To(Equal("d2"))
			Expect(matches[2].ID).To(Equal("d3"))
			Expect(matches[2].Distance).To(BeNumerically("~", 1, 1e-5))
		})

		It("limits to k", func() {
			matches, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 1, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
		})

		It("applies metadata filters", func() {
			matches, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 3,
				filter.Where("source", filter.Eq("bloomberg")))
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].ID).To(Equal("d3"))
		})

		It("replaces records on upsert", func() {
			Expect(driver.Upsert(ctx, []vector.Record{
				{ID: "d3", Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]any{"category": "markets"}},
			})).To(Succeed())

			n, err := driver.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))

			recs, err := driver.Get(ctx, []string{"d3"})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].Embedding).To(Equal([]float32{1, 0, 0, 0}))
			Expect(recs[0].Metadata).To(HaveKeyWithValue("category", "markets"))
		})

		It("deletes, lists and clears", func() {
			Expect(driver.Delete(ctx, []string{"d2", "missing"})).To(Succeed())

			ids, err := driver.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf("d1", "d3"))

			matches, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
			Expect(err).NotTo(HaveOccurred())
			for _, m := range matches {
				Expect(m.ID).NotTo(Equal("d2"))
			}

			Expect(driver.Clear(ctx)).To(Succeed())
			n, err := driver.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("rejects embeddings of the wrong size", func() {
			err := driver.Upsert(ctx, []vector.Record{{ID: "bad", Embedding: []float32{1, 0}}})
			Expect(err).To(MatchError(vector.ErrDimensions))
		})
	})
}

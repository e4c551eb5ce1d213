package inmemory_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/vector"
	"github.com/papercomputeco/finsight/pkg/vector/inmemory"
	testutils "github.com/papercomputeco/finsight/pkg/utils/test"
)

func TestInmemory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Vector Inmemory Suite")
}

var _ = Describe("Driver", func() {
	testutils.DescribeVectorDriver(func() vector.Driver {
		return inmemory.NewDriver(4)
	})

	It("fixes the dimension on first upsert when unset", func() {
		d := inmemory.NewDriver(0)
		ctx := context.Background()
		Expect(d.Upsert(ctx, []vector.Record{{ID: "a", Embedding: []float32{1, 2}}})).To(Succeed())
		Expect(d.Upsert(ctx, []vector.Record{{ID: "b", Embedding: []float32{1, 2, 3}}})).To(MatchError(vector.ErrDimensions))
	})

	It("breaks distance ties by id", func() {
		d := inmemory.NewDriver(2)
		ctx := context.Background()
		Expect(d.Upsert(ctx, []vector.Record{
			{ID: "b", Embedding: []float32{1, 0}},
			{ID: "a", Embedding: []float32{1, 0}},
		})).To(Succeed())

		matches, err := d.Query(ctx, []float32{1, 0}, 2, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect([]string{matches[0].ID, matches[1].ID}).To(Equal([]string{"a", "b"}))
	})
})

package ingest_test

import (
	"context"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/document/inmemory"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/ingest"
	testutils "github.com/papercomputeco/finsight/pkg/utils/test"
)

// gatedEmbedder blocks every batch until gate is closed.
type gatedEmbedder struct {
	*testutils.MockEmbedder
	gate chan struct{}
}

func (g *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MockEmbedder.EmbedBatch(ctx, texts)
}

var _ = Describe("Pool", func() {
	var (
		ctx      context.Context
		store    *inmemory.Store
		embedder *gatedEmbedder
		pool     *ingest.Pool
	)

	newPool := func(workers, queue uint) {
		manager, err := ingest.NewManager(ingest.Config{
			Store:    store,
			Vectors:  testutils.NewMockVectorDriver(),
			Embedder: embedder,
		})
		Expect(err).NotTo(HaveOccurred())

		pool, err = ingest.NewPool(ingest.PoolConfig{Manager: manager, NumWorkers: workers, QueueSize: queue})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewStore()
		embedder = &gatedEmbedder{MockEmbedder: testutils.NewMockEmbedder(), gate: make(chan struct{})}
	})

	It("requires a manager", func() {
		_, err := ingest.NewPool(ingest.PoolConfig{})
		Expect(err).To(HaveOccurred())
	})

	It("drains queued jobs on close", func() {
		close(embedder.gate)
		newPool(0, 0)

		id, err := pool.Enqueue(scenario, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeEmpty())
		pool.Close()

		status, found := pool.Status(id)
		Expect(found).To(BeTrue())
		Expect(status.State).To(Equal(ingest.JobSucceeded))
		Expect(status.Result.IDs).To(Equal([]string{"d1", "d2", "d3"}))
		Expect(status.FinishedAt).NotTo(BeNil())
		Expect(docCount(ctx, store)).To(Equal(3))
	})

	It("records failures", func() {
		close(embedder.gate)
		embedder.FailOn = "Apple stock fell"
		newPool(1, 1)

		id, err := pool.Enqueue(scenario, true)
		Expect(err).NotTo(HaveOccurred())
		pool.Close()

		status, _ := pool.Status(id)
		Expect(status.State).To(Equal(ingest.JobFailed))
		Expect(status.Error).To(ContainSubstring("mock embedding failure"))
		Expect(docCount(ctx, store)).To(BeZero())
	})

	It("drops jobs when the queue is full", func() {
		newPool(1, 1)

		first, err := pool.Enqueue([]document.Input{{Text: "first"}}, true)
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() ingest.JobState {
			s, _ := pool.Status(first)
			return s.State
		}).Should(Equal(ingest.JobRunning))

		_, err = pool.Enqueue([]document.Input{{Text: "second"}}, true)
		Expect(err).NotTo(HaveOccurred())

		dropped, err := pool.Enqueue([]document.Input{{Text: "third"}}, true)
		Expect(err).To(MatchError(ingest.ErrQueueFull))
		Expect(dropped).To(BeEmpty())

		close(embedder.gate)
		pool.Close()
		Expect(docCount(ctx, store)).To(Equal(2))
	})

	It("refuses work after close and tolerates closing twice", func() {
		close(embedder.gate)
		newPool(1, 1)

		pool.Close()
		Expect(pool.Close).NotTo(Panic())

		id, err := pool.Enqueue(scenario, true)
		Expect(err).To(MatchError(ingest.ErrPoolClosed))
		Expect(fault.IsUnavailable(err)).To(BeTrue())
		Expect(id).To(BeEmpty())
		Expect(docCount(ctx, store)).To(BeZero())
	})

	It("refuses work from callers racing close", func() {
		close(embedder.gate)
		newPool(2, 64)

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for j := range 8 {
					_, err := pool.Enqueue([]document.Input{{Text: fmt.Sprintf("race %d %d", i, j)}}, false)
					if err != nil {
						Expect(err).To(Or(MatchError(ingest.ErrPoolClosed), MatchError(ingest.ErrQueueFull)))
					}
				}
			}()
		}
		pool.Close()
		wg.Wait()
	})

	Context("when more jobs are tracked than the limit", func() {
		BeforeEach(func() {
			DeferCleanup(ingest.SetMaxTrackedJobs(2))
		})

		It("evicts the oldest finished job and keeps pending ones", func() {
			newPool(1, 4)

			first, err := pool.Enqueue([]document.Input{{Text: "first"}}, true)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() ingest.JobState {
				s, _ := pool.Status(first)
				return s.State
			}).Should(Equal(ingest.JobRunning))

			second, err := pool.Enqueue([]document.Input{{Text: "second"}}, true)
			Expect(err).NotTo(HaveOccurred())
			third, err := pool.Enqueue([]document.Input{{Text: "third"}}, true)
			Expect(err).NotTo(HaveOccurred())

			for _, id := range []string{first, second, third} {
				_, found := pool.Status(id)
				Expect(found).To(BeTrue(), "pending job %s was evicted", id)
			}

			close(embedder.gate)
			pool.Close()

			_, found := pool.Status(first)
			Expect(found).To(BeFalse())
			for _, id := range []string{second, third} {
				s, found := pool.Status(id)
				Expect(found).To(BeTrue())
				Expect(s.State).To(Equal(ingest.JobSucceeded))
			}
		})
	})
})

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/logger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	maxTrackedJobs           = 1024
)

var (
	// ErrQueueFull is returned by Enqueue when the job queue has no room.
	ErrQueueFull = errors.New("ingest queue is full")

	// ErrPoolClosed is returned by Enqueue once Close has been called.
	ErrPoolClosed = errors.New("ingest pool is closed")
)

// JobState is the lifecycle state of an async ingest job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Job is a unit of work for the pool.
type Job struct {
	ID     string
	Inputs []document.Input
	Embed  bool
}

// JobStatus reports what happened to a job.
type JobStatus struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	Documents  int        `json:"documents"`
	Result     *AddResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PoolConfig is the configuration for the pool.
type PoolConfig struct {
	Manager *Manager

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	Logger *slog.Logger
}

// Pool runs add jobs asynchronously so API callers never block on the
// embedding provider.
type Pool struct {
	manager *Manager
	queue   chan Job
	wg      sync.WaitGroup
	logger  *slog.Logger

	// mu guards closed, jobs and order. Sends on queue happen under mu so
	// Close never races an Enqueue.
	mu     sync.Mutex
	closed bool
	jobs   map[string]*JobStatus
	order  []string
}

// NewPool creates a pool and starts its workers.
func NewPool(c PoolConfig) (*Pool, error) {
	if c.Manager == nil {
		return nil, fmt.Errorf("ingest pool requires a manager")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	p := &Pool{
		manager: c.Manager,
		queue:   make(chan Job, c.QueueSize),
		logger:  c.Logger,
		jobs:    make(map[string]*JobStatus),
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}
	return p, nil
}

// Enqueue submits inputs for asynchronous ingestion and returns the job id.
// A full queue drops the job with ErrQueueFull; a closed pool refuses it
// with a ProviderUnavailableError wrapping ErrPoolClosed.
func (p *Pool) Enqueue(inputs []document.Input, embed bool) (string, error) {
	job := Job{ID: uuid.NewString(), Inputs: inputs, Embed: embed}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", fault.Unavailable("ingest pool", ErrPoolClosed)
	}

	select {
	case p.queue <- job:
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"job_id", job.ID,
			"count", len(inputs),
		)
		return "", ErrQueueFull
	}

	p.jobs[job.ID] = &JobStatus{
		ID:         job.ID,
		State:      JobQueued,
		Documents:  len(inputs),
		EnqueuedAt: time.Now().UTC(),
	}
	p.order = append(p.order, job.ID)
	p.evict()

	p.logger.Debug("job queued", "job_id", job.ID, "count", len(inputs))
	return job.ID, nil
}

// Status returns the status of a tracked job.
func (p *Pool) Status(id string) (JobStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return *s, true
}

// Close stops accepting work and waits for queued jobs to drain. Calling it
// again only waits.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("ingest worker started", "worker_id", id)

	for job := range p.queue {
		p.process(job)
	}

	p.logger.Debug("ingest worker stopped", "worker_id", id)
}

func (p *Pool) process(job Job) {
	p.update(job.ID, func(s *JobStatus) { s.State = JobRunning })

	result, err := p.manager.Add(context.Background(), job.Inputs, job.Embed)
	finished := time.Now().UTC()
	if err != nil {
		p.logger.Error("async ingest failed", "job_id", job.ID, "error", err)
		p.update(job.ID, func(s *JobStatus) {
			s.State = JobFailed
			s.Error = err.Error()
			s.FinishedAt = &finished
		})
		return
	}

	p.logger.Info("async ingest finished", "job_id", job.ID, "created", result.Created)
	p.update(job.ID, func(s *JobStatus) {
		s.State = JobSucceeded
		s.Result = result
		s.FinishedAt = &finished
	})
}

// evict drops the oldest finished jobs while more than maxTrackedJobs are
// tracked. Queued and running jobs are never dropped. Callers hold mu.
func (p *Pool) evict() {
	for len(p.order) > maxTrackedJobs {
		i := slices.IndexFunc(p.order, func(id string) bool {
			return p.jobs[id].FinishedAt != nil
		})
		if i < 0 {
			return
		}
		delete(p.jobs, p.order[i])
		p.order = slices.Delete(p.order, i, i+1)
	}
}

func (p *Pool) update(id string, fn func(*JobStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.jobs[id]; ok {
		fn(s)
	}
	p.evict()
}

// Package rag is the service facade over the retrieval engine. A Service owns
// the document store, vector index, embedder and optional generator for the
// life of the process and exposes every retrieval, ingestion and answering
// operation to the API and CLI.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/eventstream"
	"github.com/papercomputeco/finsight/pkg/eventstream/nop"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/generation"
	"github.com/papercomputeco/finsight/pkg/ingest"
	"github.com/papercomputeco/finsight/pkg/logger"
	"github.com/papercomputeco/finsight/pkg/retrieval"
	"github.com/papercomputeco/finsight/pkg/search"
	"github.com/papercomputeco/finsight/pkg/snapshot"
	"github.com/papercomputeco/finsight/pkg/telemetry"
	"github.com/papercomputeco/finsight/pkg/vector"
)

// ErrQueueFull is returned when the async ingest queue cannot take a job.
var ErrQueueFull = ingest.ErrQueueFull

// Config holds the collaborators of a Service. Store, Vectors and Embedder
// are required; Generator and Publisher are optional.
type Config struct {
	Store     document.Store
	Vectors   vector.Driver
	Embedder  embeddings.Embedder
	Generator generation.Generator
	Publisher eventstream.Publisher

	// Tuning seeds the search weights and threshold.
	Tuning *search.Tuning

	DefaultK      int
	MaxContext    int
	SearchTimeout time.Duration
	IngestTimeout time.Duration

	MaxTokens   int
	Temperature float64

	Workers   uint
	QueueSize uint

	// Providers names the configured backends for Status.
	Providers Providers

	Logger *slog.Logger
	Now    func() time.Time

	// Shutdown runs last in Close, after every collaborator is closed.
	Shutdown func(context.Context) error
}

// Service is the long-lived retrieval service. It is safe for concurrent use.
type Service struct {
	store     document.Store
	vectors   vector.Driver
	embedder  embeddings.Embedder
	generator generation.Generator
	publisher eventstream.Publisher

	engine       *search.Engine
	orchestrator *retrieval.Orchestrator
	manager      *ingest.Manager
	pool         *ingest.Pool
	snapshotter  *snapshot.Snapshotter

	defaultK    int
	maxContext  int
	maxTokens   int
	temperature float64
	providers   Providers
	events      bool

	logger   *slog.Logger
	now      func() time.Time
	shutdown func(context.Context) error
}

// New wires a Service from c.
func New(c Config) (*Service, error) {
	switch {
	case c.Store == nil:
		return nil, errors.New("rag service requires a document store")
	case c.Vectors == nil:
		return nil, errors.New("rag service requires a vector index")
	case c.Embedder == nil:
		return nil, errors.New("rag service requires an embedder")
	}

	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.DefaultK <= 0 {
		c.DefaultK = retrieval.DefaultK
	}
	if c.MaxContext <= 0 {
		c.MaxContext = retrieval.DefaultMaxContext
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = generation.DefaultMaxTokens
	}
	events := c.Publisher != nil
	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}

	engine, err := search.NewEngine(search.Config{
		Store:    c.Store,
		Embedder: c.Embedder,
		Vectors:  c.Vectors,
		Tuning:   c.Tuning,
		Timeout:  c.SearchTimeout,
		Logger:   c.Logger.With("component", "search"),
	})
	if err != nil {
		return nil, err
	}

	orchestrator, err := retrieval.New(retrieval.Config{
		Searcher: engine,
		Store:    c.Store,
		Vectors:  c.Vectors,
		Embedder: c.Embedder,
		DefaultK: c.DefaultK,
		Logger:   c.Logger.With("component", "retrieval"),
		Now:      c.Now,
	})
	if err != nil {
		return nil, err
	}

	manager, err := ingest.NewManager(ingest.Config{
		Store:     c.Store,
		Vectors:   c.Vectors,
		Embedder:  c.Embedder,
		Publisher: c.Publisher,
		Timeout:   c.IngestTimeout,
		Logger:    c.Logger.With("component", "ingest"),
		Now:       c.Now,
	})
	if err != nil {
		return nil, err
	}

	pool, err := ingest.NewPool(ingest.PoolConfig{
		Manager:    manager,
		NumWorkers: c.Workers,
		QueueSize:  c.QueueSize,
		Logger:     c.Logger.With("component", "ingest_pool"),
	})
	if err != nil {
		return nil, err
	}

	snapshotter, err := snapshot.New(snapshot.Config{
		Store:    c.Store,
		Vectors:  c.Vectors,
		Embedder: c.Embedder,
		Writes:   manager,
		Logger:   c.Logger.With("component", "snapshot"),
		Now:      c.Now,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Service{
		store:        c.Store,
		vectors:      c.Vectors,
		embedder:     c.Embedder,
		generator:    c.Generator,
		publisher:    c.Publisher,
		engine:       engine,
		orchestrator: orchestrator,
		manager:      manager,
		pool:         pool,
		snapshotter:  snapshotter,
		defaultK:     c.DefaultK,
		maxContext:   c.MaxContext,
		maxTokens:    c.MaxTokens,
		temperature:  c.Temperature,
		providers:    c.Providers,
		events:       events,
		logger:       c.Logger,
		now:          c.Now,
		shutdown:     c.Shutdown,
	}, nil
}

// Retrieve runs a retrieval. Only malformed requests fail.
func (s *Service) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error) {
	ctx, span := telemetry.Start(ctx, "rag.retrieve",
		attribute.String("search_type", req.Method),
		attribute.Int("k", req.K),
	)
	res, err := s.orchestrator.Retrieve(ctx, req)
	if err == nil {
		span.SetAttributes(attribute.Int("count", len(res.Results)))
	}
	telemetry.End(span, err)
	return res, err
}

// Search runs one search method directly. An empty method is hybrid.
func (s *Service) Search(ctx context.Context, method string, req search.Request) ([]search.Result, error) {
	m, err := search.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	if req.K == 0 {
		req.K = s.defaultK
	}

	ctx, span := telemetry.Start(ctx, "rag.search", attribute.String("search_type", string(m)))
	results, err := s.engine.Search(ctx, m, req)
	telemetry.End(span, err)
	return results, err
}

// SearchScoped searches within one category or source. key is
// document.KeyCategory or document.KeySource; an empty query searches for the
// scope value itself.
func (s *Service) SearchScoped(ctx context.Context, key, value, method string, req search.Request) ([]search.Result, error) {
	m, err := search.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	if req.K == 0 {
		req.K = s.defaultK
	}

	ctx, span := telemetry.Start(ctx, "rag.search_scoped",
		attribute.String("search_type", string(m)),
		attribute.String("scope", key),
	)
	var results []search.Result
	switch key {
	case document.KeyCategory:
		results, err = s.engine.ByCategory(ctx, value, m, req)
	case document.KeySource:
		results, err = s.engine.BySource(ctx, value, m, req)
	default:
		err = fault.Validation("scope", "unknown scope %q", key)
	}
	telemetry.End(span, err)
	return results, err
}

// Suggestions completes a partial query.
func (s *Service) Suggestions(ctx context.Context, partial string, limit int) []string {
	return s.engine.Suggestions(ctx, partial, limit)
}

// AddDocuments stores and, when embed is set, indexes inputs synchronously.
func (s *Service) AddDocuments(ctx context.Context, inputs []document.Input, embed bool) (*ingest.AddResult, error) {
	ctx, span := telemetry.Start(ctx, "rag.add_documents",
		attribute.Int("count", len(inputs)),
		attribute.Bool("embed", embed),
	)
	res, err := s.manager.Add(ctx, inputs, embed)
	telemetry.End(span, err)
	return res, err
}

// EnqueueDocuments submits inputs to the async ingest pool and returns the
// job id. Inputs are validated before queueing so malformed batches fail
// immediately.
func (s *Service) EnqueueDocuments(inputs []document.Input, embed bool) (string, error) {
	if len(inputs) == 0 {
		return "", fault.Validation("documents", "no documents given")
	}
	for i, in := range inputs {
		if err := document.ValidateInput(in); err != nil {
			return "", fmt.Errorf("document %d: %w", i, err)
		}
	}

	return s.pool.Enqueue(inputs, embed)
}

// Job reports an async ingest job.
func (s *Service) Job(id string) (ingest.JobStatus, bool) {
	return s.pool.Status(id)
}

// GetDocument returns one document.
func (s *Service) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return s.store.Get(ctx, id)
}

// ListDocuments returns the documents matching f, or every document for an
// empty filter.
func (s *Service) ListDocuments(ctx context.Context, f filter.Expr) ([]*document.Document, error) {
	return s.store.Filter(ctx, f)
}

// UpdateDocument applies u, re-embedding when the text changes.
func (s *Service) UpdateDocument(ctx context.Context, id string, u document.Update) (*document.Document, error) {
	ctx, span := telemetry.Start(ctx, "rag.update_document", attribute.String("doc_id", id))
	doc, err := s.manager.Update(ctx, id, u)
	telemetry.End(span, err)
	return doc, err
}

// DeleteDocument removes id from both stores. It returns false for unknown
// ids.
func (s *Service) DeleteDocument(ctx context.Context, id string) (bool, error) {
	ctx, span := telemetry.Start(ctx, "rag.delete_document", attribute.String("doc_id", id))
	ok, err := s.manager.Delete(ctx, id)
	telemetry.End(span, err)
	return ok, err
}

// Summary reports corpus statistics.
func (s *Service) Summary(ctx context.Context) (*document.Summary, error) {
	return s.store.Summary(ctx)
}

// Reconcile compares the document store with the vector index and, with
// repair, fixes what it finds.
func (s *Service) Reconcile(ctx context.Context, repair bool) (*ingest.ReconcileReport, error) {
	return s.manager.Reconcile(ctx, repair)
}

// Export writes a snapshot to path. Paths ending in .gz are compressed.
func (s *Service) Export(ctx context.Context, path string) (*snapshot.Stats, error) {
	return s.snapshotter.ExportFile(ctx, path)
}

// Import loads a snapshot from path, optionally clearing both stores first.
func (s *Service) Import(ctx context.Context, path string, clearExisting bool) (*snapshot.Stats, error) {
	return s.snapshotter.ImportFile(ctx, path, clearExisting)
}

// Tuning returns the live search parameters.
func (s *Service) Tuning() search.Tuning {
	return s.engine.Tuning()
}

// SetTuning replaces the search parameters used by subsequent searches.
func (s *Service) SetTuning(t search.Tuning) error {
	return s.engine.SetTuning(t)
}

// CanGenerate reports whether a generator is configured.
func (s *Service) CanGenerate() bool {
	return s.generator != nil
}

// Close drains the ingest pool and releases every collaborator.
func (s *Service) Close(ctx context.Context) error {
	s.pool.Close()

	var errs []error
	errs = append(errs, s.publisher.Close())
	errs = append(errs, s.embedder.Close())
	errs = append(errs, s.vectors.Close())
	errs = append(errs, s.store.Close())
	if s.shutdown != nil {
		errs = append(errs, s.shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Package search implements the hybrid search engine: semantic search over
// the vector index, keyword scoring over the document store, and weighted
// fusion of the two.
//
// Query-time failures of the embedding provider, vector index or store never
// reach the caller. They degrade to empty results and are counted in Stats.
// Only malformed requests return an error, always a fault.ValidationError.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/logger"
	"github.com/papercomputeco/finsight/pkg/vector"
)

// Method selects a search mode.
type Method string

const (
	MethodSemantic Method = "semantic"
	MethodText     Method = "text"
	MethodHybrid   Method = "hybrid"
)

// Methods lists every supported search mode.
var Methods = []Method{MethodSemantic, MethodText, MethodHybrid}

const (
	// MaxK bounds the number of results a caller may request.
	MaxK = 100

	// DefaultThreshold is the minimum semantic similarity kept.
	DefaultThreshold = 0.5

	// DefaultSemanticWeight and DefaultTextWeight sum to 1, keeping hybrid
	// scores in [0, 1].
	DefaultSemanticWeight = 0.7
	DefaultTextWeight     = 0.3
)

// ParseMethod validates a search mode name. An empty name is hybrid.
func ParseMethod(name string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return MethodHybrid, nil
	case MethodSemantic, MethodText, MethodHybrid:
		return m, nil
	default:
		return "", fault.Validation("search_type", "unknown search type %q", name)
	}
}

// Weights scales the two scores fused by hybrid search. Hybrid scores lie in
// [0, Semantic+Text].
type Weights struct {
	Semantic float64 `json:"semantic"`
	Text     float64 `json:"text"`
}

// Validate rejects negative or all-zero weights.
func (w Weights) Validate() error {
	if w.Semantic < 0 || w.Text < 0 {
		return fault.Validation("weights", "weights must be non-negative")
	}
	if w.Semantic == 0 && w.Text == 0 {
		return fault.Validation("weights", "at least one weight must be positive")
	}
	return nil
}

// Tuning holds the engine parameters that may change while serving.
type Tuning struct {
	Weights   Weights `json:"weights"`
	Threshold float64 `json:"threshold"`
}

// DefaultTuning returns the default weights and threshold.
func DefaultTuning() Tuning {
	return Tuning{
		Weights:   Weights{Semantic: DefaultSemanticWeight, Text: DefaultTextWeight},
		Threshold: DefaultThreshold,
	}
}

// Validate checks every parameter.
func (t Tuning) Validate() error {
	if err := t.Weights.Validate(); err != nil {
		return err
	}
	return validateThreshold(t.Threshold)
}

func validateThreshold(v float64) error {
	if v < 0 || v > 1 {
		return fault.Validation("threshold", "threshold %v is outside [0, 1]", v)
	}
	return nil
}

// Request describes one search call.
type Request struct {
	Query   string
	K       int
	Filters filter.Expr

	// Threshold overrides the tuned semantic threshold when set.
	Threshold *float64

	// Weights overrides the tuned hybrid weights when set.
	Weights *Weights

	// SortBy reorders the top K. Empty keeps the score ranking.
	SortBy Order
}

// Result is one ranked document. SemanticScore and TextScore are the
// per-method scores fused into Score.
type Result struct {
	Document      *document.Document `json:"document"`
	Score         float64            `json:"score"`
	SemanticScore float64            `json:"semantic_score"`
	TextScore     float64            `json:"text_score"`
	Method        Method             `json:"search_type"`
}

// Config configures an Engine.
type Config struct {
	Store    document.Store
	Embedder embeddings.Embedder
	Vectors  vector.Driver

	// Tuning defaults to DefaultTuning.
	Tuning *Tuning

	// Timeout bounds each embedding and vector index call. Zero leaves the
	// caller's deadline in charge.
	Timeout time.Duration

	Logger *slog.Logger
}

// Engine runs searches. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	store    document.Store
	embedder embeddings.Embedder
	vectors  vector.Driver
	timeout  time.Duration
	tuning   atomic.Pointer[Tuning]
	stats    *Stats
	logger   *slog.Logger
}

// NewEngine builds an engine. Every collaborator is required.
func NewEngine(c Config) (*Engine, error) {
	switch {
	case c.Store == nil:
		return nil, errors.New("search engine requires a document store")
	case c.Embedder == nil:
		return nil, errors.New("search engine requires an embedder")
	case c.Vectors == nil:
		return nil, errors.New("search engine requires a vector index")
	}

	tuning := DefaultTuning()
	if c.Tuning != nil {
		tuning = *c.Tuning
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("search tuning: %w", err)
	}

	l := c.Logger
	if l == nil {
		l = logger.Nop()
	}

	e := &Engine{
		store:    c.Store,
		embedder: c.Embedder,
		vectors:  c.Vectors,
		timeout:  c.Timeout,
		stats:    newStats(),
		logger:   l,
	}
	e.tuning.Store(&tuning)
	return e, nil
}

// Tuning returns the current parameters.
func (e *Engine) Tuning() Tuning {
	return *e.tuning.Load()
}

// SetTuning replaces the parameters used by subsequent searches.
func (e *Engine) SetTuning(t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.tuning.Store(&t)
	e.logger.Info("search tuning updated",
		"semantic_weight", t.Weights.Semantic,
		"text_weight", t.Weights.Text,
		"threshold", t.Threshold,
	)
	return nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Search dispatches req to the given method.
func (e *Engine) Search(ctx context.Context, method Method, req Request) ([]Result, error) {
	switch method {
	case MethodSemantic:
		return e.Semantic(ctx, req)
	case MethodText:
		return e.Text(ctx, req)
	case MethodHybrid:
		return e.Hybrid(ctx, req)
	default:
		return nil, fault.Validation("search_type", "unknown search type %q", method)
	}
}

// Semantic ranks documents by embedding similarity to the query.
func (e *Engine) Semantic(ctx context.Context, req Request) ([]Result, error) {
	threshold, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	e.stats.recordSearch(MethodSemantic)
	return Sort(e.semantic(ctx, strings.TrimSpace(req.Query), req.K, req.Filters, threshold), req.SortBy), nil
}

// Text ranks documents by keyword frequency and position.
func (e *Engine) Text(ctx context.Context, req Request) ([]Result, error) {
	if _, err := e.validate(req); err != nil {
		return nil, err
	}
	e.stats.recordSearch(MethodText)
	return Sort(e.text(ctx, strings.TrimSpace(req.Query), req.K, req.Filters), req.SortBy), nil
}

// Hybrid fuses semantic and text rankings with the tuned or requested
// weights.
func (e *Engine) Hybrid(ctx context.Context, req Request) ([]Result, error) {
	threshold, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	weights := e.Tuning().Weights
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			return nil, err
		}
		weights = *req.Weights
	}
	e.stats.recordSearch(MethodHybrid)
	results := e.hybrid(ctx, strings.TrimSpace(req.Query), req.K, req.Filters, threshold, weights)
	return Sort(results, req.SortBy), nil
}

// ByCategory searches within one category. An empty query searches for the
// category name itself.
func (e *Engine) ByCategory(ctx context.Context, category string, method Method, req Request) ([]Result, error) {
	return e.scoped(ctx, document.KeyCategory, category, method, req)
}

// BySource searches within one source. An empty query searches for the
// source name itself.
func (e *Engine) BySource(ctx context.Context, source string, method Method, req Request) ([]Result, error) {
	return e.scoped(ctx, document.KeySource, source, method, req)
}

func (e *Engine) scoped(ctx context.Context, key, value string, method Method, req Request) ([]Result, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fault.Validation(key, "%s is required", key)
	}
	if strings.TrimSpace(req.Query) == "" {
		req.Query = value
	}
	req.Filters = req.Filters.With(key, filter.Eq(value))
	if method == "" {
		method = MethodHybrid
	}
	return e.Search(ctx, method, req)
}

// validate checks req and resolves the semantic threshold.
func (e *Engine) validate(req Request) (float64, error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, fault.Validation("query", "query is empty")
	}
	if req.K < 1 || req.K > MaxK {
		return 0, fault.Validation("k", "k must be between 1 and %d, got %d", MaxK, req.K)
	}
	if err := req.Filters.Validate(); err != nil {
		return 0, err
	}
	if _, err := ParseOrder(string(req.SortBy)); err != nil {
		return 0, err
	}
	threshold := e.Tuning().Threshold
	if req.Threshold != nil {
		if err := validateThreshold(*req.Threshold); err != nil {
			return 0, err
		}
		threshold = *req.Threshold
	}
	return threshold, nil
}

// degrade records a query-path failure.
func (e *Engine) degrade(stage string, err error) {
	kind := fault.Kind(err)
	e.stats.recordDegraded(kind, err)
	e.logger.Warn("search degraded",
		"stage", stage,
		"kind", kind,
		"error", err,
	)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

// rank sorts by descending score with ascending id as the tie-break and
// keeps the first k.
func rank(results []Result, k int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

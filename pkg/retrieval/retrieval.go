// Package retrieval is the retrieval orchestrator. It applies request
// defaults, runs the hybrid search engine, and assembles the bounded context
// handed to generation.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/logger"
	"github.com/papercomputeco/finsight/pkg/search"
	"github.com/papercomputeco/finsight/pkg/vector"
)

const (
	// DefaultK is the number of documents retrieved when unset.
	DefaultK = 5

	// DefaultMaxContext is the context budget in characters.
	DefaultMaxContext = 4000
)

// Searcher runs searches. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, method search.Method, req search.Request) ([]search.Result, error)
	Stats() search.StatsSnapshot
	Tuning() search.Tuning
}

// Request describes a retrieval. Zero values take the orchestrator defaults.
type Request struct {
	Query     string      `json:"query"`
	K         int         `json:"k,omitempty"`
	Method    string      `json:"method,omitempty"`
	Filters   filter.Expr `json:"filters,omitempty"`
	Threshold *float64    `json:"threshold,omitempty"`
}

// Result is the outcome of one retrieval. An empty Results means no context
// was found; it is never an error.
type Result struct {
	Results     []search.Result `json:"results"`
	Query       string          `json:"query"`
	Method      search.Method   `json:"method"`
	RetrievedAt time.Time       `json:"retrieved_at"`
}

// Analytics describes what the orchestrator can serve.
type Analytics struct {
	DocumentsAvailable int                  `json:"documents_available"`
	VectorIndexSize    int                  `json:"vector_index_size"`
	EmbeddingModel     embeddings.ModelInfo `json:"embedding_model"`
	DefaultK           int                  `json:"default_k"`
	DefaultThreshold   float64              `json:"default_threshold"`
	SupportedMethods   []search.Method      `json:"supported_methods"`
	Capabilities       map[string]bool      `json:"capabilities"`
	Search             search.StatsSnapshot `json:"search"`
}

// Config configures an Orchestrator.
type Config struct {
	Searcher Searcher
	Store    document.Store
	Vectors  vector.Driver
	Embedder embeddings.Embedder

	// DefaultK and DefaultMethod apply to requests that leave them unset.
	DefaultK      int
	DefaultMethod search.Method

	Logger *slog.Logger
	Now    func() time.Time
}

// Orchestrator implements retrieval.
type Orchestrator struct {
	searcher      Searcher
	store         document.Store
	vectors       vector.Driver
	embedder      embeddings.Embedder
	defaultK      int
	defaultMethod search.Method
	logger        *slog.Logger
	now           func() time.Time
}

// New builds an Orchestrator. Every collaborator is required.
func New(c Config) (*Orchestrator, error) {
	switch {
	case c.Searcher == nil:
		return nil, errors.New("retrieval requires a searcher")
	case c.Store == nil:
		return nil, errors.New("retrieval requires a document store")
	case c.Vectors == nil:
		return nil, errors.New("retrieval requires a vector index")
	case c.Embedder == nil:
		return nil, errors.New("retrieval requires an embedder")
	}

	o := &Orchestrator{
		searcher:      c.Searcher,
		store:         c.Store,
		vectors:       c.Vectors,
		embedder:      c.Embedder,
		defaultK:      c.DefaultK,
		defaultMethod: c.DefaultMethod,
		logger:        c.Logger,
		now:           c.Now,
	}
	if o.defaultK <= 0 {
		o.defaultK = DefaultK
	}
	if o.defaultMethod == "" {
		o.defaultMethod = search.MethodHybrid
	}
	if o.logger == nil {
		o.logger = logger.Nop()
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o, nil
}

// Retrieve runs req. It returns an error only for malformed requests; any
// other failure yields an empty Result.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (*Result, error) {
	method := o.defaultMethod
	if strings.TrimSpace(req.Method) != "" {
		m, err := search.ParseMethod(req.Method)
		if err != nil {
			return nil, err
		}
		method = m
	}
	k := req.K
	if k == 0 {
		k = o.defaultK
	}

	results, err := o.searcher.Search(ctx, method, search.Request{
		Query:     req.Query,
		K:         k,
		Filters:   req.Filters,
		Threshold: req.Threshold,
	})
	if err != nil {
		return nil, err
	}

	o.logger.Debug("retrieved documents",
		"method", method,
		"k", k,
		"count", len(results),
	)
	return &Result{
		Results:     results,
		Query:       strings.TrimSpace(req.Query),
		Method:      method,
		RetrievedAt: o.now(),
	}, nil
}

// Analytics reports corpus sizes, the embedding model and the supported
// methods. The threshold is the one the searcher currently applies. Count
// failures are logged and reported as zero.
func (o *Orchestrator) Analytics(ctx context.Context) Analytics {
	docs, err := o.store.Count(ctx)
	if err != nil {
		o.logger.Warn("counting documents", "error", err)
	}
	vecs, err := o.vectors.Count(ctx)
	if err != nil {
		o.logger.Warn("counting vectors", "error", err)
	}

	return Analytics{
		DocumentsAvailable: docs,
		VectorIndexSize:    vecs,
		EmbeddingModel:     o.embedder.Info(),
		DefaultK:           o.defaultK,
		DefaultThreshold:   o.searcher.Tuning().Threshold,
		SupportedMethods:   append([]search.Method(nil), search.Methods...),
		Capabilities: map[string]bool{
			"category_filtering":   true,
			"source_filtering":     true,
			"date_range_filtering": true,
			"metadata_filtering":   true,
			"similarity_threshold": true,
		},
		Search: o.searcher.Stats(),
	}
}

// Documents returns the ranked documents.
func (r *Result) Documents() []*document.Document {
	out := make([]*document.Document, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Document
	}
	return out
}

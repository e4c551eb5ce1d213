package rag

import (
	"context"

	"github.com/papercomputeco/finsight/pkg/generation"
	"github.com/papercomputeco/finsight/pkg/retrieval"
	"github.com/papercomputeco/finsight/pkg/search"
)

// Providers names the configured backends.
type Providers struct {
	Storage    string `json:"storage"`
	Vector     string `json:"vector"`
	Embedding  string `json:"embedding"`
	Generation string `json:"generation"`
	Events     string `json:"events"`
}

// Status describes the running service.
type Status struct {
	DocumentCount   int                      `json:"document_count"`
	VectorIndexSize int                      `json:"vector_index_size"`
	Analytics       retrieval.Analytics      `json:"analytics"`
	Generation      *generation.ModelInfo    `json:"generation,omitempty"`
	Tuning          search.Tuning            `json:"tuning"`
	Degraded        map[string]int64         `json:"degraded"`
	Providers       Providers                `json:"providers"`
	Capabilities    map[string]bool          `json:"capabilities"`
	InsightTypes    []generation.InsightType `json:"insight_types"`
}

// Status reports corpus sizes, model identity and the degradation counters
// of the query path.
func (s *Service) Status(ctx context.Context) Status {
	analytics := s.orchestrator.Analytics(ctx)

	st := Status{
		DocumentCount:   analytics.DocumentsAvailable,
		VectorIndexSize: analytics.VectorIndexSize,
		Analytics:       analytics,
		Tuning:          s.engine.Tuning(),
		Degraded:        analytics.Search.Degraded,
		Providers:       s.providers,
		Capabilities: map[string]bool{
			string(search.MethodSemantic): true,
			string(search.MethodText):     true,
			string(search.MethodHybrid):   true,
			"generation":                  s.generator != nil,
			"events":                      s.events,
		},
		InsightTypes: append([]generation.InsightType(nil), generation.InsightTypes...),
	}
	if s.generator != nil {
		info := s.generator.Info()
		st.Generation = &info
	}
	return st
}

package search

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/telemetry"
)

// hybrid runs both sub-searches for 2k results concurrently and fuses them by
// document id. A document missing from one side scores 0 there.
func (e *Engine) hybrid(ctx context.Context, query string, k int, f filter.Expr, threshold float64, w Weights) []Result {
	ctx, span := telemetry.Start(ctx, "search.hybrid",
		attribute.Int("search.k", k),
		attribute.Float64("search.semantic_weight", w.Semantic),
		attribute.Float64("search.text_weight", w.Text),
	)
	defer span.End()

	var (
		wg       sync.WaitGroup
		semantic []Result
		text     []Result
	)
	wg.Go(func() {
		semantic = e.semantic(ctx, query, 2*k, f, threshold)
	})
	wg.Go(func() {
		text = e.text(ctx, query, 2*k, f)
	})
	wg.Wait()

	fused := make(map[string]*Result, len(semantic)+len(text))
	for _, r := range semantic {
		fused[r.Document.ID] = &Result{
			Document:      r.Document,
			SemanticScore: r.Score,
			Method:        MethodHybrid,
		}
	}
	for _, r := range text {
		if existing, ok := fused[r.Document.ID]; ok {
			existing.TextScore = r.Score
			continue
		}
		fused[r.Document.ID] = &Result{
			Document:  r.Document,
			TextScore: r.Score,
			Method:    MethodHybrid,
		}
	}

	results := make([]Result, 0, len(fused))
	for _, r := range fused {
		r.Score = r.SemanticScore*w.Semantic + r.TextScore*w.Text
		results = append(results, *r)
	}

	span.SetAttributes(attribute.Int("search.results", len(results)))
	return rank(results, k)
}

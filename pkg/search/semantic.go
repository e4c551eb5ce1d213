package search

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/telemetry"
	"github.com/papercomputeco/finsight/pkg/vector"
)

// maxCandidates caps how many neighbours one semantic search asks for.
const maxCandidates = 8192

// semantic embeds the query, asks the index for 2k candidates and keeps
// those scoring at least threshold. Every hydrated document is checked
// against f since drivers may apply it only partially. While fewer than k
// documents pass, the candidate count grows until the index runs out or the
// remaining neighbours fall below threshold.
func (e *Engine) semantic(ctx context.Context, query string, k int, f filter.Expr, threshold float64) []Result {
	ctx, span := telemetry.Start(ctx, "search.semantic",
		attribute.Int("search.k", k),
		attribute.Float64("search.threshold", threshold),
	)
	defer span.End()

	embedCtx, cancel := e.callContext(ctx)
	emb, err := e.embedder.Embed(embedCtx, query)
	cancel()
	if err != nil {
		e.degrade("embed", timeoutOr(embedCtx, "embed", err))
		return []Result{}
	}

	results := make([]Result, 0, k)
	seen := make(map[string]struct{})
	passes := 0
	for fetch := 2 * k; ; fetch *= 4 {
		fetch = min(fetch, maxCandidates)
		passes++

		queryCtx, cancel := e.callContext(ctx)
		matches, err := e.vectors.Query(queryCtx, emb, fetch, f)
		cancel()
		if err != nil {
			e.degrade("vector_query", timeoutOr(queryCtx, "vector_query", err))
			break
		}

		exhausted := len(matches) < fetch
		for _, m := range matches {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}

			score := vector.Similarity(m.Distance)
			if score < threshold {
				// Matches come nearest first, so the rest score lower.
				exhausted = true
				continue
			}

			if r, ok := e.hydrate(ctx, m.ID, score, f); ok {
				results = append(results, r)
			}
		}

		if len(results) >= k || exhausted || fetch >= maxCandidates {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("search.results", len(results)),
		attribute.Int("search.passes", passes),
	)
	return rank(results, k)
}

// hydrate loads the document behind a vector match and checks it against f.
func (e *Engine) hydrate(ctx context.Context, id string, score float64, f filter.Expr) (Result, bool) {
	doc, err := e.store.Get(ctx, id)
	if err != nil {
		var notFound document.NotFoundError
		if errors.As(err, &notFound) {
			e.orphan(id)
		} else {
			e.degrade("hydrate", err)
		}
		return Result{}, false
	}
	if !f.IsEmpty() && !f.Match(doc.Metadata) {
		return Result{}, false
	}
	return Result{
		Document:      doc,
		Score:         score,
		SemanticScore: score,
		Method:        MethodSemantic,
	}, true
}

// orphan records a vector id with no backing document. The id is treated as
// absent.
func (e *Engine) orphan(id string) {
	err := fault.Inconsistent(id, "vector index returned an id missing from the document store")
	e.stats.recordOrphan(err)
	e.logger.Warn("orphaned vector id",
		"doc_id", id,
		"kind", fault.KindIndexInconsistency,
	)
}

// timeoutOr reports err as a TimeoutError when the call's own deadline
// expired.
func timeoutOr(ctx context.Context, op string, err error) error {
	if fault.IsTimeout(err) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.Timeout(op, err)
	}
	return err
}

package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/telemetry"
)

const (
	occurrenceWeight = 0.1
	leadBonus        = 0.2

	// leadFraction is the share of the text counted as its lead.
	leadFraction = 0.3
)

// TextScore scores text against query. Each lowercased whitespace token adds
// 0.1 per occurrence, plus 0.2 when it first occurs within the first 30% of
// the text. Positions and lengths count characters, not bytes. The score is
// capped at 1.
func TextScore(query, text string) float64 {
	lower := strings.ToLower(text)
	lead := float64(utf8.RuneCountInString(lower)) * leadFraction

	var score float64
	for _, token := range strings.Fields(strings.ToLower(query)) {
		first := strings.Index(lower, token)
		if first < 0 {
			continue
		}
		score += occurrenceWeight * float64(strings.Count(lower, token))
		if float64(utf8.RuneCountInString(lower[:first])) < lead {
			score += leadBonus
		}
	}
	return min(score, 1)
}

func (e *Engine) text(ctx context.Context, query string, k int, f filter.Expr) []Result {
	ctx, span := telemetry.Start(ctx, "search.text", attribute.Int("search.k", k))
	defer span.End()

	docs, err := e.store.Filter(ctx, f)
	if err != nil {
		e.degrade("filter", err)
		return []Result{}
	}

	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		score := TextScore(query, doc.Text)
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			Document:  doc,
			Score:     score,
			TextScore: score,
			Method:    MethodText,
		})
	}

	span.SetAttributes(attribute.Int("search.results", len(results)))
	return rank(results, k)
}

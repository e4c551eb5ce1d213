package search

import (
	"context"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/finsight/pkg/document"
)

const (
	// DefaultMaxSuggestions caps Suggestions when the caller passes no limit.
	DefaultMaxSuggestions = 5

	suggestionScanLimit = 50
	suggestionWindow    = 2
	minSuggestionLength = 2
)

// Suggestions completes a partial query from document titles and known
// categories. Titles contribute the words around each word containing
// partial; categories contribute "category:<name>" entries.
func (e *Engine) Suggestions(ctx context.Context, partial string, limit int) []string {
	partial = strings.TrimSpace(partial)
	if utf8.RuneCountInString(partial) < minSuggestionLength {
		return []string{}
	}
	if limit <= 0 {
		limit = DefaultMaxSuggestions
	}
	needle := strings.ToLower(partial)

	suggestions := make([]string, 0, limit)
	add := func(s string) bool {
		if !slices.Contains(suggestions, s) {
			suggestions = append(suggestions, s)
		}
		return len(suggestions) >= limit
	}

	docs, err := e.store.SearchByText(ctx, partial, nil, suggestionScanLimit)
	if err != nil {
		e.degrade("suggestions", err)
		return suggestions
	}
	for _, doc := range docs {
		title := doc.Title()
		if !strings.Contains(strings.ToLower(title), needle) {
			continue
		}
		words := strings.Fields(title)
		for i, word := range words {
			if !strings.Contains(strings.ToLower(word), needle) {
				continue
			}
			start := max(0, i-suggestionWindow)
			end := min(len(words), i+suggestionWindow+1)
			if add(strings.Join(words[start:end], " ")) {
				return suggestions
			}
		}
	}

	summary, err := e.store.Summary(ctx)
	if err != nil {
		e.degrade("suggestions", err)
		return suggestions
	}
	categories := make([]string, 0, len(summary.Categories))
	for name := range summary.Categories {
		if name != document.Unknown {
			categories = append(categories, name)
		}
	}
	sort.Strings(categories)
	for _, name := range categories {
		if !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		if add("category:" + name) {
			break
		}
	}
	return suggestions
}

package retrieval

import (
	"strings"
	"unicode/utf8"
)

const (
	contextSeparator = "\n\n"
	ellipsis         = "..."

	// minTruncatedFragment is the least remaining budget worth filling with
	// a truncated document.
	minTruncatedFragment = 100
)

// ContextText joins document texts in rank order, separated by blank lines,
// within maxLength characters. Separators count against the budget. When the
// next document does not fit and at least 100 characters remain, a prefix of
// it ending in "..." fills the remainder; otherwise assembly stops at the
// last whole document. A maxLength <= 0 uses DefaultMaxContext.
func (r *Result) ContextText(maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxContext
	}

	var (
		b    strings.Builder
		used int
	)
	for _, res := range r.Results {
		sep := 0
		if used > 0 {
			sep = utf8.RuneCountInString(contextSeparator)
		}
		text := res.Document.Text
		n := utf8.RuneCountInString(text)

		if used+sep+n <= maxLength {
			if sep > 0 {
				b.WriteString(contextSeparator)
			}
			b.WriteString(text)
			used += sep + n
			continue
		}

		remaining := maxLength - used - sep
		if remaining >= minTruncatedFragment {
			if sep > 0 {
				b.WriteString(contextSeparator)
			}
			b.WriteString(prefix(text, remaining-utf8.RuneCountInString(ellipsis)))
			b.WriteString(ellipsis)
		}
		break
	}
	return b.String()
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

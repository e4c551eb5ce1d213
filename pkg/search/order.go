package search

import (
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/filter"
)

// Order is the order results are returned in.
type Order string

const (
	// OrderScore keeps the ranking: score descending, then id.
	OrderScore Order = "score"

	// OrderDate puts the most recently published documents first.
	OrderDate Order = "date"

	// OrderTitle sorts by title, ignoring case.
	OrderTitle Order = "title"
)

// Orders lists the supported orders.
var Orders = []Order{OrderScore, OrderDate, OrderTitle}

// ParseOrder resolves an order name. Empty means OrderScore.
func ParseOrder(name string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(name))); o {
	case "":
		return OrderScore, nil
	case OrderScore, OrderDate, OrderTitle:
		return o, nil
	default:
		return "", fault.Validation("sort_by", "unknown sort order %q", name)
	}
}

// Sort reorders ranked results by order and returns them. Documents missing
// the sort key go last; ties keep their ranked order.
func Sort(results []Result, order Order) []Result {
	switch Order(strings.ToLower(string(order))) {
	case OrderDate:
		slices.SortStableFunc(results, func(a, b Result) int {
			at, aok := published(a.Document)
			bt, bok := published(b.Document)
			return missingLast(aok, bok, func() int { return bt.Compare(at) })
		})
	case OrderTitle:
		slices.SortStableFunc(results, func(a, b Result) int {
			at, bt := title(a.Document), title(b.Document)
			return missingLast(at != "", bt != "", func() int { return strings.Compare(at, bt) })
		})
	}
	return results
}

func missingLast(aok, bok bool, cmp func() int) int {
	switch {
	case aok && bok:
		return cmp()
	case aok:
		return -1
	case bok:
		return 1
	default:
		return 0
	}
}

func published(doc *document.Document) (time.Time, bool) {
	s, ok := doc.Metadata[document.KeyPublished].(string)
	if !ok {
		return time.Time{}, false
	}
	return filter.ParseTime(strings.TrimSpace(s))
}

func title(doc *document.Document) string {
	s, _ := doc.Metadata[document.KeyTitle].(string)
	return strings.ToLower(strings.TrimSpace(s))
}

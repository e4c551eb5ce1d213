package document

import (
	"sort"

	"github.com/papercomputeco/finsight/pkg/filter"
)

// Index is an inverted metadata index: field -> value -> set of document ids.
// List values are indexed per element. Index is not safe for concurrent use;
// stores guard it with their own lock.
type Index struct {
	fields map[string]map[string]*posting
}

type posting struct {
	value any
	ids   map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{fields: make(map[string]map[string]*posting)}
}

// Add indexes metadata for id.
func (ix *Index) Add(id string, md Metadata) {
	for field, v := range md {
		for _, scalar := range scalars(v) {
			values, ok := ix.fields[field]
			if !ok {
				values = make(map[string]*posting)
				ix.fields[field] = values
			}
			key := filter.Key(scalar)
			p, ok := values[key]
			if !ok {
				p = &posting{value: scalar, ids: make(map[string]struct{})}
				values[key] = p
			}
			p.ids[id] = struct{}{}
		}
	}
}

// Remove drops every entry md contributed for id. Empty postings and fields
// are pruned so the index never holds stale values.
func (ix *Index) Remove(id string, md Metadata) {
	for field, v := range md {
		values, ok := ix.fields[field]
		if !ok {
			continue
		}
		for _, scalar := range scalars(v) {
			key := filter.Key(scalar)
			p, ok := values[key]
			if !ok {
				continue
			}
			delete(p.ids, id)
			if len(p.ids) == 0 {
				delete(values, key)
			}
		}
		if len(values) == 0 {
			delete(ix.fields, field)
		}
	}
}

// Replace re-indexes id from old to updated metadata.
func (ix *Index) Replace(id string, old, updated Metadata) {
	ix.Remove(id, old)
	ix.Add(id, updated)
}

// Lookup returns the ids matching every condition of expr. A key absent from
// the index yields an empty set, which empties the whole intersection.
func (ix *Index) Lookup(expr filter.Expr) map[string]struct{} {
	var result map[string]struct{}
	for _, key := range expr.Keys() {
		matched := ix.lookupCondition(key, expr[key])
		if result == nil {
			result = matched
		} else {
			result = intersect(result, matched)
		}
		if len(result) == 0 {
			return map[string]struct{}{}
		}
	}
	if result == nil {
		return map[string]struct{}{}
	}
	return result
}

func (ix *Index) lookupCondition(field string, cond filter.Condition) map[string]struct{} {
	values, ok := ix.fields[field]
	if !ok {
		return map[string]struct{}{}
	}

	out := make(map[string]struct{})
	switch cond.Op {
	case filter.OpEq, filter.OpIn:
		for _, v := range cond.Values {
			if p, ok := values[filter.Key(v)]; ok {
				for id := range p.ids {
					out[id] = struct{}{}
				}
			}
		}
	case filter.OpRange:
		for _, p := range values {
			if !cond.Matches(p.value) {
				continue
			}
			for id := range p.ids {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

// Fields returns every indexed field with its distinct values, sorted by
// their index key.
func (ix *Index) Fields() map[string][]any {
	out := make(map[string][]any, len(ix.fields))
	for field, values := range ix.fields {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		distinct := make([]any, len(keys))
		for i, k := range keys {
			distinct[i] = values[k].value
		}
		out[field] = distinct
	}
	return out
}

// Values returns the distinct values of field.
func (ix *Index) Values(field string) []any {
	return ix.Fields()[field]
}

func scalars(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(map[string]struct{}, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

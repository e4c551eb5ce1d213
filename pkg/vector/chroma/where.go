package chroma

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/finsight/pkg/filter"
)

// listMarker suffixes the key that flags a list-valued field. Chroma metadata
// holds scalars only, so lists are stored joined and always pass pushdown.
const listMarker = "__list"

// encodeMetadata flattens metadata into Chroma's scalar-only form.
func encodeMetadata(md map[string]any) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		list, ok := v.([]any)
		if !ok {
			out[k] = v
			continue
		}
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		out[k] = strings.Join(parts, ",")
		out[k+listMarker] = true
	}
	return out
}

// decodeMetadata reverses encodeMetadata. Joined list elements come back as
// strings.
func decodeMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		if strings.HasSuffix(k, listMarker) {
			continue
		}
		if isList, _ := md[k+listMarker].(bool); isList {
			s, _ := v.(string)
			items := []any{}
			if s != "" {
				for _, part := range strings.Split(s, ",") {
					items = append(items, part)
				}
			}
			out[k] = items
			continue
		}
		out[k] = v
	}
	return out
}

// buildWhere translates the pushable part of f into a Chroma where clause.
// Range bounds that are not numbers stay unpushed; callers post-verify.
func buildWhere(f filter.Expr) map[string]any {
	var clauses []map[string]any
	for _, key := range f.Keys() {
		clause := conditionClause(key, f[key])
		if clause == nil {
			continue
		}
		clauses = append(clauses, map[string]any{
			"$or": []map[string]any{
				clause,
				{key + listMarker: map[string]any{"$eq": true}},
			},
		})
	}

	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return map[string]any{"$and": clauses}
	}
}

func conditionClause(key string, c filter.Condition) map[string]any {
	switch c.Op {
	case filter.OpEq:
		return map[string]any{key: map[string]any{"$eq": c.Values[0]}}
	case filter.OpIn:
		return map[string]any{key: map[string]any{"$in": c.Values}}
	case filter.OpRange:
		var bounds []map[string]any
		for _, b := range []struct {
			op string
			v  any
		}{
			{"$gt", c.Range.GT},
			{"$gte", c.Range.GTE},
			{"$lt", c.Range.LT},
			{"$lte", c.Range.LTE},
		} {
			if b.v == nil {
				continue
			}
			if _, ok := b.v.(float64); !ok {
				return nil
			}
			bounds = append(bounds, map[string]any{key: map[string]any{b.op: b.v}})
		}
		switch len(bounds) {
		case 0:
			return nil
		case 1:
			return bounds[0]
		default:
			return map[string]any{"$and": bounds}
		}
	}
	return nil
}

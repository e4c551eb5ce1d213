package qdrant

import (
	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/finsight/pkg/filter"
)

// docIDKey holds the original document id in every point payload.
const docIDKey = "doc_id"

// pointNamespace derives stable point UUIDs from document ids, since Qdrant
// accepts only UUIDs and integers as point ids.
var pointNamespace = uuid.MustParse("6f1c8a52-3d0e-4b7e-9a51-2f7f0c9e8d41")

func pointID(docID string) *qc.PointId {
	return qc.NewID(uuid.NewSHA1(pointNamespace, []byte(docID)).String())
}

func payloadFor(docID string, md map[string]any) map[string]any {
	payload := make(map[string]any, len(md)+1)
	for k, v := range md {
		payload[k] = v
	}
	payload[docIDKey] = docID
	return payload
}

// fromValue converts a payload value back to the normalized scalar form.
func fromValue(v *qc.Value) any {
	switch kind := v.GetKind().(type) {
	case *qc.Value_StringValue:
		return kind.StringValue
	case *qc.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *qc.Value_DoubleValue:
		return kind.DoubleValue
	case *qc.Value_BoolValue:
		return kind.BoolValue
	case *qc.Value_ListValue:
		items := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			items = append(items, fromValue(item))
		}
		return items
	default:
		return nil
	}
}

func metadataFrom(payload map[string]*qc.Value) (string, map[string]any) {
	var docID string
	md := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == docIDKey {
			docID = v.GetStringValue()
			continue
		}
		md[k] = fromValue(v)
	}
	return docID, md
}

// buildFilter translates the pushable part of f into Qdrant conditions.
// Qdrant matches list payloads element-wise, which agrees with filter
// semantics. Conditions it cannot express exactly are left to the caller's
// post-verification.
func buildFilter(f filter.Expr) *qc.Filter {
	var must []*qc.Condition
	for _, key := range f.Keys() {
		if c := condition(key, f[key]); c != nil {
			must = append(must, c)
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &qc.Filter{Must: must}
}

func condition(key string, c filter.Condition) *qc.Condition {
	switch c.Op {
	case filter.OpEq, filter.OpIn:
		return matchAny(key, c.Values)
	case filter.OpRange:
		r := &qc.Range{}
		for _, b := range []struct {
			v   any
			dst **float64
		}{
			{c.Range.GT, &r.Gt},
			{c.Range.GTE, &r.Gte},
			{c.Range.LT, &r.Lt},
			{c.Range.LTE, &r.Lte},
		} {
			if b.v == nil {
				continue
			}
			f, ok := b.v.(float64)
			if !ok {
				return nil
			}
			*b.dst = &f
		}
		return qc.NewRange(key, r)
	}
	return nil
}

// matchAny matches key against any of values. Metadata numbers are stored as
// doubles, which Qdrant's integer match never hits, so numbers match as
// closed ranges instead.
func matchAny(key string, values []any) *qc.Condition {
	var (
		keywords []string
		numbers  []float64
		bools    []bool
	)
	for _, v := range values {
		switch t := v.(type) {
		case string:
			keywords = append(keywords, t)
		case float64:
			numbers = append(numbers, t)
		case bool:
			bools = append(bools, t)
		default:
			return nil
		}
	}

	switch {
	case len(keywords) == len(values):
		if len(keywords) == 1 {
			return qc.NewMatch(key, keywords[0])
		}
		return qc.NewMatchKeywords(key, keywords...)
	case len(numbers) == len(values):
		if len(numbers) == 1 {
			return numberEq(key, numbers[0])
		}
		should := make([]*qc.Condition, len(numbers))
		for i, n := range numbers {
			should[i] = numberEq(key, n)
		}
		return &qc.Condition{ConditionOneOf: &qc.Condition_Filter{Filter: &qc.Filter{Should: should}}}
	case len(bools) == 1 && len(values) == 1:
		return qc.NewMatchBool(key, bools[0])
	default:
		return nil
	}
}

func numberEq(key string, n float64) *qc.Condition {
	return qc.NewRange(key, &qc.Range{Gte: &n, Lte: &n})
}

package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/papercomputeco/finsight/pkg/fault"
)

// FromMap builds an Expr from the loose JSON shape accepted at the API
// boundary:
//
//	{"category": "markets"}                        equality
//	{"source": ["reuters", "bloomberg"]}           membership
//	{"published": {"$gte": "2024-01-01"}}          range
//	{"ticker": {"$in": ["AAPL"]}}                  explicit operators
func FromMap(m map[string]any) (Expr, error) {
	if len(m) == 0 {
		return nil, nil
	}

	expr := make(Expr, len(m))
	for key, raw := range m {
		cond, err := conditionFrom(raw)
		if err != nil {
			return nil, fault.Validation("filters", "key %q: %v", key, err)
		}
		expr[key] = cond
	}

	if err := expr.Validate(); err != nil {
		return nil, err
	}
	return expr, nil
}

// ParseJSON decodes a JSON object into an Expr. An empty string yields a nil
// expression.
func ParseJSON(s string) (Expr, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fault.Validation("filters", "not a JSON object: %v", err)
	}
	return FromMap(m)
}

func conditionFrom(raw any) (Condition, error) {
	switch v := raw.(type) {
	case nil:
		return Condition{}, fmt.Errorf("null value")
	case []any:
		if len(v) == 0 {
			return Condition{}, fmt.Errorf("empty list")
		}
		return In(v...), nil
	case []string:
		values := make([]any, len(v))
		for i, s := range v {
			values[i] = s
		}
		return conditionFrom(values)
	case map[string]any:
		return operatorCondition(v)
	default:
		if !IsScalar(v) {
			return Condition{}, fmt.Errorf("unsupported value %v (%T)", v, v)
		}
		return Eq(v), nil
	}
}

func operatorCondition(ops map[string]any) (Condition, error) {
	if len(ops) == 0 {
		return Condition{}, fmt.Errorf("empty operator object")
	}

	var (
		r        Range
		hasRange bool
		cond     *Condition
	)
	for op, arg := range ops {
		switch op {
		case "$eq":
			c := Eq(arg)
			cond = &c
		case "$in":
			list, ok := arg.([]any)
			if !ok || len(list) == 0 {
				return Condition{}, fmt.Errorf("$in needs a non-empty list")
			}
			c := In(list...)
			cond = &c
		case "$gt":
			r.GT, hasRange = normalize(arg), true
		case "$gte":
			r.GTE, hasRange = normalize(arg), true
		case "$lt":
			r.LT, hasRange = normalize(arg), true
		case "$lte":
			r.LTE, hasRange = normalize(arg), true
		default:
			return Condition{}, fmt.Errorf("unknown operator %q", op)
		}
	}

	switch {
	case cond != nil && hasRange:
		return Condition{}, fmt.Errorf("cannot mix range and equality operators")
	case cond != nil:
		if len(ops) > 1 {
			return Condition{}, fmt.Errorf("cannot combine $eq and $in")
		}
		return *cond, nil
	default:
		return Condition{Op: OpRange, Range: r}, nil
	}
}

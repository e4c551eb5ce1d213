// Package filter implements metadata filter expressions.
//
// An Expr maps metadata keys to a Condition. Keys are ANDed together; a
// Condition is one of equality, membership in a set, or a range. A document
// whose metadata lacks a filtered key never matches.
package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/pkg/fault"
)

// Op is the kind of a Condition.
type Op string

const (
	OpEq    Op = "eq"
	OpIn    Op = "in"
	OpRange Op = "range"
)

// Range bounds a value. Nil bounds are open. GTE and LTE are inclusive, GT
// and LT exclusive.
type Range struct {
	GT  any `json:"gt,omitempty"`
	GTE any `json:"gte,omitempty"`
	LT  any `json:"lt,omitempty"`
	LTE any `json:"lte,omitempty"`
}

// Condition is a single predicate over one metadata value.
type Condition struct {
	Op     Op    `json:"op"`
	Values []any `json:"values,omitempty"`
	Range  Range `json:"range,omitzero"`
}

// Expr is a conjunction of per-key conditions.
type Expr map[string]Condition

// Eq matches values equal to v.
func Eq(v any) Condition {
	return Condition{Op: OpEq, Values: []any{normalize(v)}}
}

// In matches values equal to any of vs.
func In(vs ...any) Condition {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = normalize(v)
	}
	return Condition{Op: OpIn, Values: values}
}

// Between matches lo <= value <= hi.
func Between(lo, hi any) Condition {
	return Condition{Op: OpRange, Range: Range{GTE: normalize(lo), LTE: normalize(hi)}}
}

// AtLeast matches value >= lo.
func AtLeast(lo any) Condition {
	return Condition{Op: OpRange, Range: Range{GTE: normalize(lo)}}
}

// AtMost matches value <= hi.
func AtMost(hi any) Condition {
	return Condition{Op: OpRange, Range: Range{LTE: normalize(hi)}}
}

// Where builds a single-key expression.
func Where(key string, c Condition) Expr {
	return Expr{key: c}
}

// IsEmpty reports whether the expression has no conditions.
func (e Expr) IsEmpty() bool {
	return len(e) == 0
}

// Keys returns the filtered keys in sorted order.
func (e Expr) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of e with key set to c.
func (e Expr) With(key string, c Condition) Expr {
	out := make(Expr, len(e)+1)
	for k, v := range e {
		out[k] = v
	}
	out[key] = c
	return out
}

// Validate checks that every condition is well formed.
func (e Expr) Validate() error {
	for _, key := range e.Keys() {
		if strings.TrimSpace(key) == "" {
			return fault.Validation("filters", "empty filter key")
		}
		if err := e[key].validate(); err != nil {
			return fault.Validation("filters", "key %q: %v", key, err)
		}
	}
	return nil
}

// Match reports whether metadata satisfies every condition.
func (e Expr) Match(metadata map[string]any) bool {
	for key, cond := range e {
		v, ok := metadata[key]
		if !ok {
			return false
		}
		if !cond.Matches(v) {
			return false
		}
	}
	return true
}

func (c Condition) validate() error {
	switch c.Op {
	case OpEq:
		if len(c.Values) != 1 {
			return fmt.Errorf("equality needs exactly one value")
		}
	case OpIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("membership needs at least one value")
		}
	case OpRange:
		r := c.Range
		if r.GT == nil && r.GTE == nil && r.LT == nil && r.LTE == nil {
			return fmt.Errorf("range needs at least one bound")
		}
		if r.GT != nil && r.GTE != nil {
			return fmt.Errorf("range cannot set both gt and gte")
		}
		if r.LT != nil && r.LTE != nil {
			return fmt.Errorf("range cannot set both lt and lte")
		}
		for _, b := range []any{r.GT, r.GTE, r.LT, r.LTE} {
			if b == nil {
				continue
			}
			if _, ok := b.(bool); ok {
				return fmt.Errorf("range bounds must be numbers or strings")
			}
			if !IsScalar(b) {
				return fmt.Errorf("unsupported bound %v (%T)", b, b)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown operator %q", c.Op)
	}

	for _, v := range c.Values {
		if !IsScalar(v) {
			return fmt.Errorf("unsupported value %v (%T)", v, v)
		}
	}
	return nil
}

// Matches reports whether a metadata value satisfies c. A list value matches
// when any of its elements does.
func (c Condition) Matches(v any) bool {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if c.matchScalar(normalize(item)) {
				return true
			}
		}
		return false
	}
	return c.matchScalar(normalize(v))
}

func (c Condition) matchScalar(v any) bool {
	switch c.Op {
	case OpEq:
		return len(c.Values) == 1 && equal(v, c.Values[0])
	case OpIn:
		for _, want := range c.Values {
			if equal(v, want) {
				return true
			}
		}
		return false
	case OpRange:
		return c.Range.contains(v)
	default:
		return false
	}
}

func (r Range) contains(v any) bool {
	checks := []struct {
		bound any
		ok    func(int) bool
	}{
		{r.GT, func(c int) bool { return c > 0 }},
		{r.GTE, func(c int) bool { return c >= 0 }},
		{r.LT, func(c int) bool { return c < 0 }},
		{r.LTE, func(c int) bool { return c <= 0 }},
	}
	for _, check := range checks {
		if check.bound == nil {
			continue
		}
		cmp, ok := Compare(v, check.bound)
		if !ok || !check.ok(cmp) {
			return false
		}
	}
	return true
}

// Compare orders two normalized scalars. Numbers compare numerically. Strings
// that both parse as timestamps (RFC 3339 or YYYY-MM-DD) compare as instants,
// other strings lexically. Mixed kinds are not comparable.
func Compare(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		if at, aok := ParseTime(av); aok {
			if bt, bok := ParseTime(bv); bok {
				return at.Compare(bt), true
			}
		}
		return strings.Compare(av, bv), true
	default:
		return 0, false
	}
}

// ParseTime parses the timestamp layouts accepted in range filters.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func equal(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

// IsScalar reports whether v is a supported scalar after normalization.
func IsScalar(v any) bool {
	switch normalize(v).(type) {
	case string, float64, bool:
		return true
	default:
		return false
	}
}

// Normalize converts v to the canonical scalar representation used for
// comparisons: all numbers become float64 and times become RFC 3339 strings.
// Unsupported values are returned unchanged.
func Normalize(v any) any {
	return normalize(v)
}

func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// Key returns a canonical, type-tagged string for a normalized scalar, for
// use as an index key.
func Key(v any) string {
	switch t := normalize(v).(type) {
	case string:
		return "s:" + t
	case float64:
		return "n:" + strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(t)
	default:
		return fmt.Sprintf("?:%v", t)
	}
}

// Package rules evaluates reward rules against employee events.
package rules

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/sells-group/rewards-engine/internal/model"
)

// Evaluate reports whether a single condition holds for record. AI-judged
// conditions always report true here; they are resolved by a Judge.
// Unsupported operators never match.
func Evaluate(c model.Condition, record Record) bool {
	switch cond := c.(type) {
	case model.Compare:
		actual, _ := record.Get(cond.Field)
		return compare(cond.Op, actual, cond.Value)

	case model.Presence:
		_, present := record.Get(cond.Field)
		if cond.Op == model.OpIsNull {
			return !present
		}
		return present

	case model.FieldRef:
		left, ok := record.Get(cond.Field)
		if !ok {
			return false
		}
		right, ok := record.Get(cond.Other)
		if !ok {
			return false
		}
		n, ok := order(left, right)
		if !ok {
			return false
		}
		if cond.Op == model.OpLteField {
			return n <= 0
		}
		return n >= 0

	case model.Contains:
		actual, _ := record.Get(cond.Field)
		s, ok := actual.(string)
		if !ok {
			return false
		}
		fold := cases.Fold()
		return strings.Contains(fold.String(s), fold.String(cond.Substring))

	case model.LLMJudgment, model.SentimentMatch, model.QualityThreshold:
		return true
	}
	return false
}

// EvaluateAll is the conjunction of Evaluate over conds. An empty list matches.
func EvaluateAll(conds model.Conditions, record Record) bool {
	for _, c := range conds {
		if !Evaluate(c, record) {
			return false
		}
	}
	return true
}

// HasAIConditions reports whether any condition needs a model judgment.
func HasAIConditions(conds model.Conditions) bool {
	for _, c := range conds {
		if c.Operator().IsAI() {
			return true
		}
	}
	return false
}

// AIConditions returns the model-judged conditions in order.
func AIConditions(conds model.Conditions) model.Conditions {
	var out model.Conditions
	for _, c := range conds {
		if c.Operator().IsAI() {
			out = append(out, c)
		}
	}
	return out
}

// StaticConditions returns the deterministic conditions in order.
func StaticConditions(conds model.Conditions) model.Conditions {
	var out model.Conditions
	for _, c := range conds {
		if !c.Operator().IsAI() {
			out = append(out, c)
		}
	}
	return out
}

func compare(op model.Operator, actual, expected any) bool {
	switch op {
	case model.OpEq:
		return equal(actual, expected)
	case model.OpNeq:
		return !equal(actual, expected)
	}

	if actual == nil || expected == nil {
		return false
	}
	n, ok := order(actual, expected)
	if !ok {
		return false
	}
	switch op {
	case model.OpGt:
		return n > 0
	case model.OpGte:
		return n >= 0
	case model.OpLt:
		return n < 0
	case model.OpLte:
		return n <= 0
	}
	return false
}

// equal is strict: values of different kinds are never equal.
func equal(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	na, ok := model.NormalizeScalar(a)
	if !ok {
		return false
	}
	nb, ok := model.NormalizeScalar(b)
	if !ok {
		return false
	}
	return na == nb
}

// order returns -1, 0 or 1 comparing a to b. The second return is false
// when the values are not comparable without coercion. Timestamps compare
// with RFC 3339 strings.
func order(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb), true
		}
	}

	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(sa, sb), true
	}
	if aStr || bStr {
		return 0, false
	}

	fa, ok := model.NormalizeScalar(a)
	if !ok {
		return 0, false
	}
	fb, ok := model.NormalizeScalar(b)
	if !ok {
		return 0, false
	}
	x, ok := fa.(float64)
	if !ok {
		return 0, false
	}
	y, ok := fb.(float64)
	if !ok {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

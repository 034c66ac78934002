package model

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Operator names a condition test. The set is closed.
type Operator string

const (
	OpEq           Operator = "eq"
	OpNeq          Operator = "neq"
	OpGt           Operator = "gt"
	OpGte          Operator = "gte"
	OpLt           Operator = "lt"
	OpLte          Operator = "lte"
	OpNotNull      Operator = "not_null"
	OpIsNull       Operator = "is_null"
	OpLteField     Operator = "lte_field"
	OpGteField     Operator = "gte_field"
	OpContains     Operator = "contains"
	OpLLM          Operator = "llm"
	OpSentiment    Operator = "sentiment"
	OpQualityScore Operator = "quality_score"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte,
	OpNotNull, OpIsNull, OpLteField, OpGteField, OpContains,
	OpLLM, OpSentiment, OpQualityScore,
}

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	for _, op := range Operators {
		if op == o {
			return true
		}
	}
	return false
}

// IsAI reports whether o is judged by a language model.
func (o Operator) IsAI() bool {
	return o == OpLLM || o == OpSentiment || o == OpQualityScore
}

// Sentiment is a sentiment label.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Valid reports whether s is a known label.
func (s Sentiment) Valid() bool {
	return s == SentimentPositive || s == SentimentNegative || s == SentimentNeutral
}

// ConditionSpec is the wire form of a condition.
type ConditionSpec struct {
	Field string   `json:"field" yaml:"field"`
	Op    Operator `json:"op" yaml:"op"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Condition is one field test. Concrete types are Compare, Presence,
// FieldRef, Contains, Judgment conditions (LLMJudgment, SentimentMatch,
// QualityThreshold) and Unknown.
type Condition interface {
	FieldName() string
	Operator() Operator
	// Expected is the configured operand, used in diagnostics.
	Expected() any
	isCondition()
}

// Compare tests a field against a scalar: eq, neq, gt, gte, lt, lte.
// Value is nil, bool, float64 or string.
type Compare struct {
	Field string
	Op    Operator
	Value any
}

// Presence tests whether a field has a value: not_null, is_null.
type Presence struct {
	Field string
	Op    Operator
}

// FieldRef compares two fields of the same record: lte_field, gte_field.
type FieldRef struct {
	Field string
	Op    Operator
	Other string
}

// Contains is a case-insensitive substring test.
type Contains struct {
	Field     string
	Substring string
}

// LLMJudgment asks a model a free-form yes/no question about a field.
type LLMJudgment struct {
	Field  string
	Prompt string
}

// SentimentMatch matches when the field's predicted sentiment equals Label.
type SentimentMatch struct {
	Field string
	Label Sentiment
}

// QualityThreshold matches when the field's predicted quality score (0-100)
// is at least Threshold.
type QualityThreshold struct {
	Field     string
	Threshold float64
}

// Unknown carries a stored condition whose operator is not supported.
// It never matches.
type Unknown struct {
	Field string
	Op    Operator
	Value any
}

func (c Compare) FieldName() string { return c.Field }
func (c Compare) Operator() Operator { return c.Op }
func (c Compare) Expected() any { return c.Value }
func (Compare) isCondition() {}
func (c Presence) FieldName() string { return c.Field }
func (c Presence) Operator() Operator { return c.Op }
func (Presence) Expected() any { return nil }
func (Presence) isCondition() {}
func (c FieldRef) FieldName() string { return c.Field }
func (c FieldRef) Operator() Operator { return c.Op }
func (c FieldRef) Expected() any { return c.Other }
func (FieldRef) isCondition() {}
func (c Contains) FieldName() string { return c.Field }
func (Contains) Operator() Operator { return OpContains }
func (c Contains) Expected() any { return c.Substring }
func (Contains) isCondition() {}
func (c LLMJudgment) FieldName() string { return c.Field }
func (LLMJudgment) Operator() Operator { return OpLLM }
func (c LLMJudgment) Expected() any { return c.Prompt }
func (LLMJudgment) isCondition() {}
func (c SentimentMatch) FieldName() string { return c.Field }
func (SentimentMatch) Operator() Operator { return OpSentiment }
func (c SentimentMatch) Expected() any { return string(c.Label) }
func (SentimentMatch) isCondition() {}
func (c QualityThreshold) FieldName() string { return c.Field }
func (QualityThreshold) Operator() Operator { return OpQualityScore }
func (c QualityThreshold) Expected() any { return c.Threshold }
func (QualityThreshold) isCondition() {}
func (c Unknown) FieldName() string { return c.Field }
func (c Unknown) Operator() Operator { return c.Op }
func (c Unknown) Expected() any { return c.Value }
func (Unknown) isCondition() {}

// SpecOf returns the wire form of c.
func SpecOf(c Condition) ConditionSpec {
	spec := ConditionSpec{Field: c.FieldName(), Op: c.Operator()}
	if _, ok := c.(Presence); !ok {
		spec.Value = c.Expected()
	}
	return spec
}

// ParseCondition validates spec and returns the typed condition.
func ParseCondition(spec ConditionSpec) (Condition, error) {
	field := strings.TrimSpace(spec.Field)
	if field == "" {
		return nil, Invalid("condition field is required")
	}

	switch spec.Op {
	case OpEq, OpNeq:
		v, ok := NormalizeScalar(spec.Value)
		if !ok {
			return nil, Invalid("%s on %q needs a scalar value", spec.Op, field)
		}
		return Compare{Field: field, Op: spec.Op, Value: v}, nil

	case OpGt, OpGte, OpLt, OpLte:
		v, ok := NormalizeScalar(spec.Value)
		if !ok || v == nil {
			return nil, Invalid("%s on %q needs a number or string value", spec.Op, field)
		}
		if _, isBool := v.(bool); isBool {
			return nil, Invalid("%s on %q needs a number or string value", spec.Op, field)
		}
		return Compare{Field: field, Op: spec.Op, Value: v}, nil

	case OpNotNull, OpIsNull:
		return Presence{Field: field, Op: spec.Op}, nil

	case OpLteField, OpGteField:
		other, ok := spec.Value.(string)
		if !ok || strings.TrimSpace(other) == "" {
			return nil, Invalid("%s on %q needs the name of another field", spec.Op, field)
		}
		return FieldRef{Field: field, Op: spec.Op, Other: other}, nil

	case OpContains:
		sub, ok := spec.Value.(string)
		if !ok {
			return nil, Invalid("contains on %q needs a string value", field)
		}
		return Contains{Field: field, Substring: sub}, nil

	case OpLLM:
		prompt, ok := spec.Value.(string)
		if !ok || strings.TrimSpace(prompt) == "" {
			return nil, Invalid("llm on %q needs a prompt", field)
		}
		return LLMJudgment{Field: field, Prompt: prompt}, nil

	case OpSentiment:
		label, _ := spec.Value.(string)
		s := Sentiment(strings.ToLower(label))
		if !s.Valid() {
			return nil, Invalid("sentiment on %q must be positive, negative or neutral", field)
		}
		return SentimentMatch{Field: field, Label: s}, nil

	case OpQualityScore:
		v, ok := NormalizeScalar(spec.Value)
		f, isNum := v.(float64)
		if !ok || !isNum || f < 0 || f > 100 {
			return nil, Invalid("quality_score on %q needs a threshold between 0 and 100", field)
		}
		return QualityThreshold{Field: field, Threshold: f}, nil
	}

	return nil, Invalid("unknown operator %q", spec.Op)
}

// DecodeCondition converts a stored spec without rejecting it. Anything that
// fails validation becomes an Unknown condition.
func DecodeCondition(spec ConditionSpec) Condition {
	c, err := ParseCondition(spec)
	if err != nil {
		return Unknown{Field: spec.Field, Op: spec.Op, Value: spec.Value}
	}
	return c
}

// ParseConditions validates every spec, reporting the index of the first failure.
func ParseConditions(specs []ConditionSpec) (Conditions, error) {
	out := make(Conditions, 0, len(specs))
	for i, spec := range specs {
		c, err := ParseCondition(spec)
		if err != nil {
			return nil, eris.Wrapf(err, "conditions[%d]", i)
		}
		out = append(out, c)
	}
	return out, nil
}

// Conditions is an ordered conjunction of conditions.
type Conditions []Condition

// Specs returns the wire form of every condition.
func (cs Conditions) Specs() []ConditionSpec {
	out := make([]ConditionSpec, len(cs))
	for i, c := range cs {
		out[i] = SpecOf(c)
	}
	return out
}

// MarshalJSON encodes the conditions in wire form.
func (cs Conditions) MarshalJSON() ([]byte, error) {
	return json.Marshal(cs.Specs())
}

// UnmarshalJSON decodes stored conditions leniently.
func (cs *Conditions) UnmarshalJSON(data []byte) error {
	var specs []ConditionSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return eris.Wrap(err, "model: decode conditions")
	}
	out := make(Conditions, len(specs))
	for i, spec := range specs {
		out[i] = DecodeCondition(spec)
	}
	*cs = out
	return nil
}

// NormalizeScalar converts v to nil, bool, float64 or string. The second
// return is false for non-scalar values.
func NormalizeScalar(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case bool, string:
		return x, true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil || math.IsNaN(f) {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

package model

import (
	"strings"
	"time"
)

// DefaultEventType is applied to rules created without an event type.
const DefaultEventType = "shift"

// Rule is a named policy awarding Points when every condition matches.
type Rule struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description"`
	EventType   string     `json:"event_type" yaml:"event_type"`
	Conditions  Conditions `json:"conditions" yaml:"-"`
	Points      int64      `json:"points" yaml:"points"`
	Active      bool       `json:"active" yaml:"active"`
	CreatedAt   time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"-"`
}

// AppliesTo reports whether the rule targets events of the given type.
// A rule without an event type applies to every event.
func (r Rule) AppliesTo(eventType string) bool {
	return r.EventType == "" || r.EventType == eventType
}

// RuleInput is the administrative payload for creating a rule.
type RuleInput struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	EventType   string          `json:"event_type" yaml:"event_type"`
	Conditions  []ConditionSpec `json:"conditions" yaml:"conditions"`
	Points      int64           `json:"points" yaml:"points"`
	Active      *bool           `json:"active,omitempty" yaml:"active"`
}

// Build validates the input and returns the typed rule (without id or timestamps).
func (in RuleInput) Build() (Rule, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Rule{}, Invalid("name is required")
	}
	if len(name) > 200 {
		return Rule{}, Invalid("name must be at most 200 characters")
	}
	if in.Points <= 0 {
		return Rule{}, Invalid("points must be a positive integer")
	}
	if len(in.Conditions) == 0 {
		return Rule{}, Invalid("at least one condition is required")
	}
	conds, err := ParseConditions(in.Conditions)
	if err != nil {
		return Rule{}, err
	}

	eventType := in.EventType
	if eventType == "" {
		eventType = DefaultEventType
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	return Rule{
		Name:        name,
		Description: in.Description,
		EventType:   eventType,
		Conditions:  conds,
		Points:      in.Points,
		Active:      active,
	}, nil
}

// RulePatch is a partial update. Nil fields are left unchanged.
type RulePatch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	EventType   *string          `json:"event_type,omitempty"`
	Conditions  *[]ConditionSpec `json:"conditions,omitempty"`
	Points      *int64           `json:"points,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

// Apply returns a copy of r with the patch applied and re-validated.
func (p RulePatch) Apply(r Rule) (Rule, error) {
	in := RuleInput{
		Name:        r.Name,
		Description: r.Description,
		EventType:   r.EventType,
		Conditions:  r.Conditions.Specs(),
		Points:      r.Points,
		Active:      &r.Active,
	}
	if p.Name != nil {
		in.Name = *p.Name
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.EventType != nil {
		in.EventType = *p.EventType
	}
	if p.Conditions != nil {
		in.Conditions = *p.Conditions
	}
	if p.Points != nil {
		in.Points = *p.Points
	}
	if p.Active != nil {
		in.Active = p.Active
	}

	out, err := in.Build()
	if err != nil {
		return Rule{}, err
	}
	out.ID = r.ID
	out.CreatedAt = r.CreatedAt
	out.UpdatedAt = r.UpdatedAt
	return out, nil
}

// RuleFilter selects a page of rules.
type RuleFilter struct {
	Active *bool `json:"active,omitempty"`
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
}

// Normalize clamps Limit to 1..100 (default 50) and Offset to >= 0.
func (f RuleFilter) Normalize() RuleFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

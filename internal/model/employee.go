package model

import "time"

// Employee is the subject that earns points. PointBalance is only ever
// changed by committed grant batches.
type Employee struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	PointBalance int64     `json:"point_balance" yaml:"point_balance"`
	Onboarded    bool      `json:"onboarded" yaml:"onboarded"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// EmployeeDetail is an employee together with the grants awarded to them.
type EmployeeDetail struct {
	Employee
	Grants []GrantDetail `json:"grants"`
}

// Event is an immutable fact about an employee at a point in time.
type Event struct {
	ID         string         `json:"id" yaml:"id"`
	EmployeeID string         `json:"employee_id" yaml:"employee_id"`
	Type       string         `json:"type" yaml:"type"`
	Timestamp  time.Time      `json:"timestamp" yaml:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata"`
	CreatedAt  time.Time      `json:"created_at" yaml:"-"`
}

// Grant proves a rule paid out for an event. At most one exists per
// (RuleID, EventID).
type Grant struct {
	ID            string    `json:"id"`
	RuleID        string    `json:"rule_id"`
	EmployeeID    string    `json:"employee_id"`
	EventID       string    `json:"event_id"`
	PointsAwarded int64     `json:"points_awarded"`
	CreatedAt     time.Time `json:"created_at"`
}

// Key returns the idempotency key of the grant.
func (g Grant) Key() GrantKey {
	return GrantKey{RuleID: g.RuleID, EventID: g.EventID}
}

// GrantDetail is a grant joined with the name of the rule that issued it.
type GrantDetail struct {
	Grant
	RuleName string `json:"rule_name"`
}

// GrantKey identifies a (rule, event) pair.
type GrantKey struct {
	RuleID  string
	EventID string
}

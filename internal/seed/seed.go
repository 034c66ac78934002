// Package seed loads demo employees, events and rules from YAML fixtures.
package seed

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/rewards-engine/internal/model"
)

// Fixture is the YAML document shape.
type Fixture struct {
	Employees []model.Employee `yaml:"employees"`
	Events    []model.Event    `yaml:"events"`
	Rules     []Rule           `yaml:"rules"`
}

// Rule is a rule definition with an optional stable id.
type Rule struct {
	ID              string `yaml:"id"`
	model.RuleInput `yaml:",inline"`
}

// Writer is the subset of the store a fixture is written to.
type Writer interface {
	CreateEmployee(ctx context.Context, e model.Employee) (*model.Employee, error)
	CreateEvent(ctx context.Context, e model.Event) (*model.Event, error)
	CreateRule(ctx context.Context, r model.Rule) (*model.Rule, error)
}

// Result counts the records written.
type Result struct {
	Employees int `json:"employees"`
	Events    int `json:"events"`
	Rules     int `json:"rules"`
}

// LoadFile reads and validates a fixture from path.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "seed: read fixture")
	}
	return Parse(data)
}

// Parse decodes and validates a fixture. Unknown keys are rejected.
func Parse(data []byte) (*Fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, model.Invalid("seed: decode fixture: %s", err.Error())
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every record before anything is written.
func (f *Fixture) Validate() error {
	employees := make(map[string]bool, len(f.Employees))
	for i, e := range f.Employees {
		if strings.TrimSpace(e.Name) == "" {
			return model.Invalid("employees[%d]: name is required", i)
		}
		if e.ID != "" {
			employees[e.ID] = true
		}
	}
	for i, ev := range f.Events {
		if ev.EmployeeID == "" {
			return model.Invalid("events[%d]: employee_id is required", i)
		}
		if len(employees) > 0 && !employees[ev.EmployeeID] {
			return model.Invalid("events[%d]: unknown employee %q", i, ev.EmployeeID)
		}
		if ev.Type == "" {
			return model.Invalid("events[%d]: type is required", i)
		}
		if ev.Timestamp.IsZero() {
			return model.Invalid("events[%d]: timestamp is required", i)
		}
	}
	for i, r := range f.Rules {
		if _, err := r.Build(); err != nil {
			return eris.Wrapf(err, "rules[%d]", i)
		}
	}
	return nil
}

// Apply writes employees, then rules, then events. It stops at the first
// failure.
func Apply(ctx context.Context, w Writer, f *Fixture) (Result, error) {
	var res Result

	for _, e := range f.Employees {
		if _, err := w.CreateEmployee(ctx, e); err != nil {
			return res, eris.Wrapf(err, "seed: employee %s", e.Name)
		}
		res.Employees++
	}

	for _, r := range f.Rules {
		rule, err := r.Build()
		if err != nil {
			return res, err
		}
		rule.ID = r.ID
		if _, err := w.CreateRule(ctx, rule); err != nil {
			return res, eris.Wrapf(err, "seed: rule %s", r.Name)
		}
		res.Rules++
	}

	for _, ev := range f.Events {
		if _, err := w.CreateEvent(ctx, ev); err != nil {
			return res, eris.Wrapf(err, "seed: event %s", ev.ID)
		}
		res.Events++
	}

	zap.L().Info("seeded fixture",
		zap.Int("employees", res.Employees),
		zap.Int("rules", res.Rules),
		zap.Int("events", res.Events),
	)
	return res, nil
}

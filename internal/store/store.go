// Package store persists employees, events, rules and grants.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/rewards-engine/internal/model"
)

// DefaultChunkSize bounds the number of grant rows written per statement.
const DefaultChunkSize = 500

// Store is the full persistence surface: the engine's needs plus rule
// administration and employee/event bookkeeping.
type Store interface {
	// Rules
	CreateRule(ctx context.Context, r model.Rule) (*model.Rule, error)
	GetRule(ctx context.Context, id string) (*model.Rule, error)
	UpdateRule(ctx context.Context, r model.Rule) (*model.Rule, error)
	DeactivateRule(ctx context.Context, id string) error
	ListRules(ctx context.Context, filter model.RuleFilter) ([]model.Rule, int, error)
	ActiveRules(ctx context.Context) ([]model.Rule, error)

	// Employees and events
	CreateEmployee(ctx context.Context, e model.Employee) (*model.Employee, error)
	ListEmployees(ctx context.Context) ([]model.Employee, error)
	GetEmployee(ctx context.Context, id string) (*model.EmployeeDetail, error)
	CreateEvent(ctx context.Context, e model.Event) (*model.Event, error)
	ListEvents(ctx context.Context, ids []string) ([]model.Event, error)

	// Grants
	GrantKeys(ctx context.Context) (map[model.GrantKey]struct{}, error)
	CommitGrants(ctx context.Context, grants []model.Grant, deltas map[string]int64) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// stamp fills a missing id and creation time.
func stamp(id *string, createdAt *time.Time, now time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if createdAt.IsZero() {
		*createdAt = now
	}
}

func chunkBounds(n, size int) [][2]int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

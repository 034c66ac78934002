package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rewards-engine/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// tick makes every call to st.now one second later than the last.
func tick(st *SQLiteStore) {
	at := fixedNow
	st.now = func() time.Time {
		at = at.Add(time.Second)
		return at
	}
}

func seedEmployee(t *testing.T, st *SQLiteStore, id, name string) {
	t.Helper()
	_, err := st.CreateEmployee(context.Background(), model.Employee{ID: id, Name: name})
	require.NoError(t, err)
}

func seedRule(t *testing.T, st *SQLiteStore, name string) *model.Rule {
	t.Helper()
	r, err := model.RuleInput{
		Name:       name,
		Points:     10,
		Conditions: []model.ConditionSpec{{Field: "hours", Op: model.OpGte, Value: 8}},
	}.Build()
	require.NoError(t, err)
	out, err := st.CreateRule(context.Background(), r)
	require.NoError(t, err)
	return out
}

func seedEvent(t *testing.T, st *SQLiteStore, id, employee string) {
	t.Helper()
	_, err := st.CreateEvent(context.Background(), model.Event{
		ID:         id,
		EmployeeID: employee,
		Type:       "shift",
		Timestamp:  fixedNow,
		Metadata:   map[string]any{"hours": 9},
	})
	require.NoError(t, err)
}

// --- Rules ---

func TestSQLite_Rule_CreateGetUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	tick(st)
	ctx := context.Background()

	created := seedRule(t, st, "Long shift")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "shift", created.EventType)

	got, err := st.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Long shift", got.Name)
	assert.True(t, got.Active)
	assert.Equal(t, model.Conditions{model.Compare{Field: "hours", Op: model.OpGte, Value: float64(8)}}, got.Conditions)

	name := "Very long shift"
	patched, err := model.RulePatch{Name: &name}.Apply(*got)
	require.NoError(t, err)
	updated, err := st.UpdateRule(ctx, patched)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(got.UpdatedAt))

	got, err = st.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Very long shift", got.Name)
}

func TestSQLite_Rule_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRule(ctx, "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = st.UpdateRule(ctx, model.Rule{ID: "nope", Name: "x", Points: 1})
	assert.True(t, errors.Is(err, model.ErrNotFound))

	assert.True(t, errors.Is(st.DeactivateRule(ctx, "nope"), model.ErrNotFound))
}

func TestSQLite_Rule_DeactivateAndActiveRules(t *testing.T) {
	st := newTestSQLiteStore(t)
	tick(st)
	ctx := context.Background()

	a := seedRule(t, st, "A")
	b := seedRule(t, st, "B")
	require.NoError(t, st.DeactivateRule(ctx, a.ID))

	active, err := st.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	// Deactivated rules are still readable.
	got, err := st.GetRule(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestSQLite_ListRules_NewestFirstWithPaging(t *testing.T) {
	st := newTestSQLiteStore(t)
	tick(st)
	ctx := context.Background()

	for i := range 5 {
		seedRule(t, st, fmt.Sprintf("rule-%d", i))
	}
	inactive := seedRule(t, st, "retired")
	require.NoError(t, st.DeactivateRule(ctx, inactive.ID))

	rules, total, err := st.ListRules(ctx, model.RuleFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, rules, 2)
	assert.Equal(t, "rule-4", rules[0].Name)
	assert.Equal(t, "rule-3", rules[1].Name)

	yes := true
	rules, total, err = st.ListRules(ctx, model.RuleFilter{Active: &yes})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, rules, 5)
}

// --- Employees and events ---

func TestSQLite_Employees_OrderedByBalance(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateEmployee(ctx, model.Employee{ID: "e-low", Name: "Zed", PointBalance: 5})
	require.NoError(t, err)
	_, err = st.CreateEmployee(ctx, model.Employee{ID: "e-high", Name: "Amy", PointBalance: 50, Onboarded: true})
	require.NoError(t, err)

	list, err := st.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e-high", list[0].ID)
	assert.True(t, list[0].Onboarded)

	_, err = st.CreateEmployee(ctx, model.Employee{ID: "e-low", Name: "Dup"})
	assert.True(t, errors.Is(err, model.ErrConflict))

	_, err = st.GetEmployee(ctx, "ghost")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestSQLite_ListEvents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedEmployee(t, st, "emp-1", "Ana")
	seedEvent(t, st, "ev-1", "emp-1")
	seedEvent(t, st, "ev-2", "emp-1")

	all, err := st.ListEvents(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := st.ListEvents(ctx, []string{"ev-2", "missing"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "ev-2", some[0].ID)
	assert.Equal(t, float64(9), some[0].Metadata["hours"])
	assert.True(t, some[0].Timestamp.Equal(fixedNow))
}

// --- Grants ---

func TestSQLite_CommitGrants(t *testing.T) {
	st := newTestSQLiteStore(t)
	st.SetChunkSize(2)
	ctx := context.Background()

	seedEmployee(t, st, "emp-1", "Ana")
	seedEmployee(t, st, "emp-2", "Ben")
	r := seedRule(t, st, "Long shift")
	for _, ev := range []string{"ev-1", "ev-2", "ev-3"} {
		seedEvent(t, st, ev, "emp-1")
	}

	grants := []model.Grant{
		{ID: "g1", RuleID: r.ID, EmployeeID: "emp-1", EventID: "ev-1", PointsAwarded: 10},
		{ID: "g2", RuleID: r.ID, EmployeeID: "emp-1", EventID: "ev-2", PointsAwarded: 10},
		{ID: "g3", RuleID: r.ID, EmployeeID: "emp-2", EventID: "ev-3", PointsAwarded: 10},
	}
	require.NoError(t, st.CommitGrants(ctx, grants, map[string]int64{"emp-1": 20, "emp-2": 10}))

	keys, err := st.GrantKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.Contains(t, keys, model.GrantKey{RuleID: r.ID, EventID: "ev-2"})

	d, err := st.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), d.PointBalance)
	require.Len(t, d.Grants, 2)
	assert.Equal(t, "Long shift", d.Grants[0].RuleName)
}

func TestSQLite_CommitGrants_DuplicateRollsBack(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedEmployee(t, st, "emp-1", "Ana")
	r := seedRule(t, st, "Long shift")
	seedEvent(t, st, "ev-1", "emp-1")
	seedEvent(t, st, "ev-2", "emp-1")

	first := []model.Grant{{ID: "g1", RuleID: r.ID, EmployeeID: "emp-1", EventID: "ev-1", PointsAwarded: 10}}
	require.NoError(t, st.CommitGrants(ctx, first, map[string]int64{"emp-1": 10}))

	// Second batch repeats (rule, ev-1) after a fresh grant for ev-2.
	second := []model.Grant{
		{ID: "g2", RuleID: r.ID, EmployeeID: "emp-1", EventID: "ev-2", PointsAwarded: 10},
		{ID: "g3", RuleID: r.ID, EmployeeID: "emp-1", EventID: "ev-1", PointsAwarded: 10},
	}
	err := st.CommitGrants(ctx, second, map[string]int64{"emp-1": 20})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConflict))

	keys, err := st.GrantKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	d, err := st.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), d.PointBalance)
}

func TestSQLite_CommitGrants_MissingEmployeeRollsBack(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedEmployee(t, st, "emp-1", "Ana")
	r := seedRule(t, st, "Long shift")
	seedEvent(t, st, "ev-1", "emp-1")

	grants := []model.Grant{{ID: "g1", RuleID: r.ID, EmployeeID: "emp-1", EventID: "ev-1", PointsAwarded: 10}}
	err := st.CommitGrants(ctx, grants, map[string]int64{"emp-1": 10, "emp-ghost": 5})
	assert.True(t, errors.Is(err, model.ErrNotFound))

	keys, err := st.GrantKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

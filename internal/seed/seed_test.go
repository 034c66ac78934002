package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rewards-engine/internal/model"
	"github.com/sells-group/rewards-engine/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestLoadFile_Demo(t *testing.T) {
	f, err := LoadFile(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	assert.Len(t, f.Employees, 2)
	assert.Len(t, f.Rules, 3)
	assert.Len(t, f.Events, 2)

	assert.Equal(t, "4c2d7e10-5b3a-4f6e-8d21-9a0b1c2d3e01", f.Rules[0].ID)
	assert.Equal(t, "On-time clock in", f.Rules[0].Name)
	assert.Equal(t, model.OpLteField, f.Rules[0].Conditions[0].Op)
	assert.Equal(t, true, f.Events[0].Metadata["correctClockInMethod"])
	assert.Nil(t, f.Events[1].Metadata["documentation"])
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile("/nonexistent/seed.yaml")
	require.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("employees: [unterminated"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("employees:\n  - name: Ann\n    salary: 10\n"))
	require.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "employee without name",
			yaml: "employees:\n  - id: e1\n",
			want: "employees[0]: name is required",
		},
		{
			name: "event for unknown employee",
			yaml: "employees:\n  - {id: e1, name: Ann}\nevents:\n  - {employee_id: e2, type: shift, timestamp: 2026-03-02T09:00:00Z}\n",
			want: `events[0]: unknown employee "e2"`,
		},
		{
			name: "event without timestamp",
			yaml: "events:\n  - {employee_id: e1, type: shift}\n",
			want: "events[0]: timestamp is required",
		},
		{
			name: "rule with bad operator",
			yaml: "rules:\n  - name: Bad\n    points: 5\n    conditions:\n      - {field: x, op: between, value: 1}\n",
			want: "rules[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, "VALIDATION_ERROR", model.ErrorCode(err))
		})
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	f, err := LoadFile(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	res, err := Apply(ctx, st, f)
	require.NoError(t, err)
	assert.Equal(t, Result{Employees: 2, Events: 2, Rules: 3}, res)

	rule, err := st.GetRule(ctx, "4c2d7e10-5b3a-4f6e-8d21-9a0b1c2d3e02")
	require.NoError(t, err)
	assert.Equal(t, "Detailed visit notes", rule.Name)
	assert.True(t, rule.Active)
	assert.Len(t, rule.Conditions, 2)

	events, err := st.ListEvents(ctx, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "shift", events[0].Type)
}

func TestApply_TwiceConflicts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	f, err := LoadFile(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	_, err = Apply(ctx, st, f)
	require.NoError(t, err)

	res, err := Apply(ctx, st, f)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConflict))
	assert.Equal(t, 0, res.Employees)
}

func TestApply_GeneratesIDs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	data := []byte(`
employees:
  - name: Ann
rules:
  - name: Long shift
    points: 5
    conditions:
      - {field: hours, op: gte, value: 8}
`)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)

	res, err := Apply(ctx, st, f)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rules)

	emps, err := st.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, emps, 1)
	assert.NotEmpty(t, emps[0].ID)

	rules, total, err := st.ListRules(ctx, model.RuleFilter{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, model.DefaultEventType, rules[0].EventType)
}

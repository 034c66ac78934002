package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rewards-engine/internal/model"
)

func shiftEvent(id, employee string, meta map[string]any) model.Event {
	return model.Event{
		ID:         id,
		EmployeeID: employee,
		Type:       "shift",
		Timestamp:  time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		Metadata:   meta,
	}
}

func rule(t *testing.T, id string, points int64, specs ...model.ConditionSpec) model.Rule {
	t.Helper()
	conds, err := model.ParseConditions(specs)
	require.NoError(t, err)
	return model.Rule{ID: id, Name: id, EventType: "shift", Conditions: conds, Points: points, Active: true}
}

func TestProcessEvents_Idempotent(t *testing.T) {
	st := newMemStore(
		[]model.Rule{rule(t, "clock-in", 10, model.ConditionSpec{Field: "correctClockInMethod", Op: model.OpEq, Value: true})},
		[]model.Event{shiftEvent("ev-1", "emp-1", map[string]any{"correctClockInMethod": true})},
	)
	eng := NewEngine(st, nil)
	ctx := context.Background()

	first, err := eng.ProcessEvents(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.GrantsCreated)
	assert.Equal(t, int64(10), first.TotalPointsAwarded)
	assert.Equal(t, int64(10), st.balances["emp-1"])

	second, err := eng.ProcessEvents(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.GrantsCreated)
	assert.Equal(t, 1, second.SkippedExisting)
	assert.Equal(t, 1, second.TotalRulesEvaluated)
	assert.Equal(t, int64(10), st.balances["emp-1"])
	assert.Len(t, st.grants, 1)
}

func TestProcessEvents_Conjunction(t *testing.T) {
	r := rule(t, "documented-clock-in", 5,
		model.ConditionSpec{Field: "correctClockInMethod", Op: model.OpEq, Value: true},
		model.ConditionSpec{Field: "documentation", Op: model.OpNotNull},
	)
	st := newMemStore([]model.Rule{r}, []model.Event{
		shiftEvent("ev-1", "emp-1", map[string]any{"correctClockInMethod": true}),
		shiftEvent("ev-2", "emp-2", map[string]any{"correctClockInMethod": true, "documentation": "signed"}),
		shiftEvent("ev-3", "emp-3", map[string]any{"correctClockInMethod": false, "documentation": "signed"}),
	})

	res, err := NewEngine(st, nil).ProcessEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalEvents)
	assert.Equal(t, 1, res.GrantsCreated)
	assert.Equal(t, int64(5), st.balances["emp-2"])
	assert.Zero(t, st.balances["emp-1"])
	assert.Zero(t, st.balances["emp-3"])
}

func TestProcessEvents_MultipleRulesPerEvent(t *testing.T) {
	st := newMemStore(
		[]model.Rule{
			rule(t, "a", 10, model.ConditionSpec{Field: "on_time", Op: model.OpEq, Value: true}),
			rule(t, "b", 3, model.ConditionSpec{Field: "notes", Op: model.OpContains, Value: "meal"}),
		},
		[]model.Event{shiftEvent("ev-1", "emp-1", map[string]any{"on_time": true, "notes": "Prepared a Meal"})},
	)

	res, err := NewEngine(st, nil).ProcessEvents(context.Background(), []string{"ev-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.GrantsCreated)
	assert.Equal(t, int64(13), res.TotalPointsAwarded)
	assert.Equal(t, int64(13), st.balances["emp-1"])
	assert.Equal(t, 1, st.commits)
}

func TestProcessEvents_EventTypeScoping(t *testing.T) {
	r := rule(t, "shift-only", 4, model.ConditionSpec{Field: "ok", Op: model.OpEq, Value: true})
	ev := shiftEvent("ev-1", "emp-1", map[string]any{"ok": true})
	ev.Type = "training"
	st := newMemStore([]model.Rule{r}, []model.Event{ev})

	res, err := NewEngine(st, nil).ProcessEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalRulesEvaluated)
	assert.Equal(t, 0, res.GrantsCreated)
}

func TestProcessEvents_NoRulesOrEvents(t *testing.T) {
	inactive := rule(t, "off", 1, model.ConditionSpec{Field: "x", Op: model.OpIsNull})
	inactive.Active = false
	st := newMemStore([]model.Rule{inactive}, []model.Event{shiftEvent("ev-1", "emp-1", nil)})

	res, err := NewEngine(st, nil).ProcessEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.TotalEvents)
	assert.Empty(t, res.Errors)

	st = newMemStore([]model.Rule{rule(t, "on", 1, model.ConditionSpec{Field: "x", Op: model.OpIsNull})}, nil)
	res, err = NewEngine(st, nil).ProcessEvents(context.Background(), []string{"missing"})
	require.NoError(t, err)
	assert.Zero(t, res.TotalEvents)
	assert.Zero(t, res.TotalRulesEvaluated)
}

func TestProcessEvents_AIShortCircuit(t *testing.T) {
	r := rule(t, "kind-words", 20,
		model.ConditionSpec{Field: "correctClockInMethod", Op: model.OpEq, Value: true},
		model.ConditionSpec{Field: "notes", Op: model.OpSentiment, Value: "positive"},
	)
	st := newMemStore([]model.Rule{r}, []model.Event{
		shiftEvent("ev-1", "emp-1", map[string]any{"correctClockInMethod": false, "notes": "Lovely visit"}),
	})
	judge := new(mockJudge)

	res, err := NewEngine(st, judge).ProcessEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.GrantsCreated)
	judge.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessEvents_AllAIConditionsMustMatch(t *testing.T) {
	r := rule(t, "great-notes", 15,
		model.ConditionSpec{Field: "notes", Op: model.OpSentiment, Value: "positive"},
		model.ConditionSpec{Field: "notes", Op: model.OpQualityScore, Value: 80},
	)
	st := newMemStore([]model.Rule{r}, []model.Event{
		shiftEvent("ev-1", "emp-1", map[string]any{"notes": "Great visit"}),
	})
	judge := new(mockJudge)
	judge.On("Evaluate", mock.Anything, mock.AnythingOfType("model.SentimentMatch"), "Great visit").
		Return(model.Judgment{Match: true, Confidence: 1, Label: "positive"})
	judge.On("Evaluate", mock.Anything, mock.AnythingOfType("model.QualityThreshold"), "Great visit").
		Return(model.Judgment{Match: false, Confidence: 0.5})

	res, err := NewEngine(st, judge).ProcessEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.GrantsCreated)
	judge.AssertNumberOfCalls(t, "Evaluate", 2)
}

func TestProcessEvents_AIErrorRecordedAndSkipped(t *testing.T) {
	r := rule(t, "judged", 15, model.ConditionSpec{Field: "notes", Op: model.OpLLM, Value: "Was the caregiver attentive?"})
	other := rule(t, "upbeat", 5, model.ConditionSpec{Field: "notes", Op: model.OpSentiment, Value: "positive"})
	plain := rule(t, "plain", 1, model.ConditionSpec{Field: "notes", Op: model.OpNotNull})
	st := newMemStore([]model.Rule{r, other, plain}, []model.Event{
		shiftEvent("ev-1", "emp-1", map[string]any{"notes": "Sat with client"}),
	})
	judge := new(mockJudge)
	judge.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).
		Return(model.Judgment{Reasoning: "Evaluation failed", Err: errors.New("rate limit exceeded")})

	res, err := NewEngine(st, judge).ProcessEvents(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	assert.ElementsMatch(t, []string{
		"LLM error for rule judged event ev-1: rate limit exceeded",
		"LLM error for rule upbeat event ev-1: rate limit exceeded",
	}, res.Errors)
	assert.Equal(t, 1, res.GrantsCreated)
	assert.Equal(t, int64(1), st.balances["emp-1"])
}

func TestProcessEvents_CommitFailureLeavesNothing(t *testing.T) {
	st := newMemStore(
		[]model.Rule{rule(t, "r", 10, model.ConditionSpec{Field: "ok", Op: model.OpEq, Value: true})},
		[]model.Event{
			shiftEvent("ev-1", "emp-1", map[string]any{"ok": true}),
			shiftEvent("ev-2", "emp-2", map[string]any{"ok": true}),
		},
	)
	st.commitErr = errors.New("connection lost")

	res, err := NewEngine(st, nil).ProcessEvents(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit grants")
	assert.Zero(t, res.GrantsCreated)
	assert.Zero(t, res.TotalPointsAwarded)
	assert.Empty(t, st.grants)
	assert.Empty(t, st.balances)
}

func TestProcessEvents_ConflictSurfaced(t *testing.T) {
	st := newMemStore(
		[]model.Rule{rule(t, "r", 10, model.ConditionSpec{Field: "ok", Op: model.OpEq, Value: true})},
		[]model.Event{shiftEvent("ev-1", "emp-1", map[string]any{"ok": true})},
	)
	st.commitErr = model.Conflict(nil, "duplicate grant")

	res, err := NewEngine(st, nil).ProcessEvents(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConflict))
	assert.Zero(t, res.GrantsCreated)
}

type recordingObserver struct {
	results []model.ProcessResult
}

func (o *recordingObserver) ObserveRun(r model.ProcessResult, _ error) {
	o.results = append(o.results, r)
}

func TestProcessEvents_Observer(t *testing.T) {
	st := newMemStore(
		[]model.Rule{rule(t, "r", 2, model.ConditionSpec{Field: "ok", Op: model.OpEq, Value: true})},
		[]model.Event{shiftEvent("ev-1", "emp-1", map[string]any{"ok": true})},
	)
	obs := &recordingObserver{}

	_, err := NewEngine(st, nil, WithObserver(obs), WithConcurrency(2)).ProcessEvents(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, obs.results, 1)
	assert.Equal(t, 1, obs.results[0].GrantsCreated)
}

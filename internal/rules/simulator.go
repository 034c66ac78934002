package rules

import (
	"context"
	"time"

	"github.com/sells-group/rewards-engine/internal/model"
)

// Simulate evaluates every condition against record without side effects
// and reports a diagnostic per condition. judge may be nil, in which case
// AI-judged conditions fail with a "Skipped" reasoning.
func Simulate(ctx context.Context, judge Judge, conds model.Conditions, record Record) model.SimulationResult {
	start := time.Now()
	results := make([]model.ConditionResult, 0, len(conds))
	matches := true

	for _, c := range conds {
		res := simulateOne(ctx, judge, c, record)
		if !res.Passed {
			matches = false
		}
		results = append(results, res)
	}

	return model.SimulationResult{
		Matches:          matches,
		ConditionResults: results,
		DurationMs:       model.Since(start),
	}
}

func simulateOne(ctx context.Context, judge Judge, c model.Condition, record Record) model.ConditionResult {
	actual, _ := record.Get(c.FieldName())
	res := model.ConditionResult{
		Field:  c.FieldName(),
		Op:     c.Operator(),
		Value:  c.Expected(),
		Actual: actual,
	}

	if !c.Operator().IsAI() {
		res.Passed = Evaluate(c, record)
		return res
	}

	if judge == nil {
		res.Reasoning = "Skipped"
		return res
	}

	j := judge.Evaluate(ctx, c, actual)
	if j.Err != nil {
		res.Reasoning = "Error: " + j.Err.Error()
		return res
	}
	res.Passed = j.Match
	res.Reasoning = j.Reasoning
	return res
}

package model

import "time"

// Tier is a cost/capability class for model selection.
type Tier string

const (
	TierSimple       Tier = "simple"
	TierComplex      Tier = "complex"
	TierUltraComplex Tier = "ultra-complex"
)

// Judgment is the outcome of one AI-judged condition. Err is set when the
// model call failed; Match is then always false.
type Judgment struct {
	Match      bool     `json:"match"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Label      string   `json:"label,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	Cached     bool     `json:"cached,omitempty"`
	Err        error    `json:"-"`
}

// ProcessResult summarizes one processing run.
type ProcessResult struct {
	TotalEvents         int      `json:"totalEvents"`
	TotalRulesEvaluated int      `json:"totalRulesEvaluated"`
	GrantsCreated       int      `json:"grantsCreated"`
	TotalPointsAwarded  int64    `json:"totalPointsAwarded"`
	SkippedExisting     int      `json:"skippedExisting"`
	Errors              []string `json:"errors"`
	DurationMs          int64    `json:"durationMs"`
}

// ConditionResult is the per-condition diagnostic of a simulation.
type ConditionResult struct {
	Field     string   `json:"field"`
	Op        Operator `json:"op"`
	Value     any      `json:"value"`
	Actual    any      `json:"actual"`
	Passed    bool     `json:"passed"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// SimulationResult is the outcome of a dry run.
type SimulationResult struct {
	Matches          bool              `json:"matches"`
	ConditionResults []ConditionResult `json:"conditionResults"`
	DurationMs       int64             `json:"durationMs"`
}

// Since returns the elapsed milliseconds since start.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

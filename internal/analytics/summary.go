package analytics

import (
	"fmt"
	"math"

	"github.com/sells-group/rewards-engine/internal/cost"
	"github.com/sells-group/rewards-engine/internal/model"
)

// ComplexityDistribution counts calls per tier.
type ComplexityDistribution struct {
	Simple       int `json:"simple"`
	Complex      int `json:"complex"`
	UltraComplex int `json:"ultraComplex"`
}

// Summary aggregates a metric log.
type Summary struct {
	TotalCalls             int                    `json:"totalCalls"`
	TotalInputTokens       int                    `json:"totalInputTokens"`
	TotalOutputTokens      int                    `json:"totalOutputTokens"`
	TotalCost              float64                `json:"totalCost"`
	CacheHitRate           float64                `json:"cacheHitRate"`
	AvgLatencyMs           float64                `json:"avgLatencyMs"`
	CostSavingsVsBaseline  float64                `json:"costSavingsVsOpus"`
	BaselineModel          string                 `json:"baselineModel"`
	ComplexityDistribution ComplexityDistribution `json:"complexityDistribution"`
	ModelUsage             map[string]int         `json:"modelUsage"`
	OperatorUsage          map[string]int         `json:"operatorUsage"`
}

// Summarize aggregates metrics. Savings compare the recorded cost against
// running every call's tokens through baselineModel.
func Summarize(metrics []Metric, calc *cost.Calculator, baselineModel string) Summary {
	s := Summary{
		BaselineModel: baselineModel,
		ModelUsage:    map[string]int{},
		OperatorUsage: map[string]int{},
	}
	if len(metrics) == 0 {
		return s
	}

	var cached int
	var latency int64
	for _, m := range metrics {
		s.TotalInputTokens += m.InputTokens
		s.TotalOutputTokens += m.OutputTokens
		s.TotalCost += m.Cost
		latency += m.LatencyMs
		if m.Cached {
			cached++
		}
		switch m.Tier {
		case model.TierSimple:
			s.ComplexityDistribution.Simple++
		case model.TierComplex:
			s.ComplexityDistribution.Complex++
		case model.TierUltraComplex:
			s.ComplexityDistribution.UltraComplex++
		}
		s.ModelUsage[m.Model]++
		s.OperatorUsage[string(m.Operator)]++
	}

	s.TotalCalls = len(metrics)
	s.CacheHitRate = float64(cached) / float64(s.TotalCalls)
	s.AvgLatencyMs = float64(latency) / float64(s.TotalCalls)
	if calc != nil {
		s.CostSavingsVsBaseline = calc.Tokens(baselineModel, s.TotalInputTokens, s.TotalOutputTokens) - s.TotalCost
	}
	return s
}

// Display is the human-readable rendering of a Summary.
type Display struct {
	Summary    DisplayTotals     `json:"summary"`
	Complexity map[string]string `json:"complexity"`
	Models     map[string]int    `json:"models"`
	Operators  map[string]int    `json:"operators"`
}

// DisplayTotals holds formatted headline numbers.
type DisplayTotals struct {
	TotalCalls        int    `json:"totalCalls"`
	CachedCalls       int    `json:"cachedCalls"`
	CacheHitRate      string `json:"cacheHitRate"`
	TotalCost         string `json:"totalCost"`
	CostSavings       string `json:"costSavings"`
	SavingsMultiplier string `json:"savingsMultiplier"`
	AvgLatency        string `json:"avgLatency"`
}

// Format renders s for display.
func Format(s Summary) Display {
	multiplier := "n/a"
	if s.TotalCost > 0 {
		multiplier = fmt.Sprintf("%.2fx", s.CostSavingsVsBaseline/s.TotalCost+1)
	}

	return Display{
		Summary: DisplayTotals{
			TotalCalls:        s.TotalCalls,
			CachedCalls:       int(math.Round(s.CacheHitRate * float64(s.TotalCalls))),
			CacheHitRate:      fmt.Sprintf("%.1f%%", s.CacheHitRate*100),
			TotalCost:         fmt.Sprintf("$%.4f", s.TotalCost),
			CostSavings:       fmt.Sprintf("$%.4f", s.CostSavingsVsBaseline),
			SavingsMultiplier: multiplier,
			AvgLatency:        fmt.Sprintf("%dms", int64(math.Round(s.AvgLatencyMs))),
		},
		Complexity: map[string]string{
			"simple":       share(s.ComplexityDistribution.Simple, s.TotalCalls),
			"complex":      share(s.ComplexityDistribution.Complex, s.TotalCalls),
			"ultraComplex": share(s.ComplexityDistribution.UltraComplex, s.TotalCalls),
		},
		Models:    s.ModelUsage,
		Operators: s.OperatorUsage,
	}
}

func share(n, total int) string {
	if total == 0 {
		return "0 (0%)"
	}
	return fmt.Sprintf("%d (%.0f%%)", n, float64(n)/float64(total)*100)
}

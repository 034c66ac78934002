package cost

// Rates holds per-model token pricing keyed by model id.
type Rates map[string]ModelRate

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input" json:"input"`
	Output float64 `yaml:"output" mapstructure:"output" json:"output"`
}

// Calculator computes costs for model usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Missing models
// fall back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	merged := DefaultRates()
	for model, r := range rates {
		merged[model] = r
	}
	return &Calculator{rates: merged}
}

// Known reports whether the calculator has pricing for model.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates[model]
	return ok
}

// Tokens computes the cost of a call with the given token counts. Unknown
// models cost 0.
func (c *Calculator) Tokens(model string, input, output int) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	return inCost + outCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
		"o1-preview":                 {Input: 15.00, Output: 60.00},
	}
}

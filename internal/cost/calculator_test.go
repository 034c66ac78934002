package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(nil)

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{
			name:  "haiku simple",
			model: "claude-haiku-4-5-20251001",
			input: 1000000, output: 100000,
			want: 0.80 + 0.40,
		},
		{
			name:  "opus",
			model: "claude-opus-4-6",
			input: 200000, output: 10000,
			want: 3.00 + 0.75,
		},
		{
			name:  "gpt-4o-mini",
			model: "gpt-4o-mini",
			input: 1000000, output: 1000000,
			want: 0.15 + 0.60,
		},
		{
			name:  "unknown model",
			model: "mystery",
			input: 1000, output: 1000,
			want: 0,
		},
		{
			name:  "zero tokens",
			model: "gpt-4o",
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Tokens(tt.model, tt.input, tt.output)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestNewCalculator_Overrides(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{
		"gpt-4o":    {Input: 1, Output: 2},
		"local-llm": {Input: 0.1, Output: 0.1},
	})

	assert.InDelta(t, 3.0, calc.Tokens("gpt-4o", 1000000, 1000000), 1e-9)
	assert.True(t, calc.Known("local-llm"))
	assert.True(t, calc.Known("claude-sonnet-4-5-20250929"))
	assert.False(t, calc.Known("nope"))
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	assert.Len(t, r, 6)
	assert.Equal(t, 15.00, r["claude-opus-4-6"].Input)
	assert.Equal(t, 60.00, r["o1-preview"].Output)
}

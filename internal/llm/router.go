package llm

import (
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rewards-engine/internal/model"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultModels maps each provider's tiers to model ids.
var DefaultModels = map[string]map[model.Tier]string{
	ProviderAnthropic: {
		model.TierSimple:       "claude-haiku-4-5-20251001",
		model.TierComplex:      "claude-sonnet-4-5-20250929",
		model.TierUltraComplex: "claude-opus-4-6",
	},
	ProviderOpenAI: {
		model.TierSimple:       "gpt-4o-mini",
		model.TierComplex:      "gpt-4o",
		model.TierUltraComplex: "o1-preview",
	},
}

// Complexity score thresholds.
const (
	UltraComplexAbove = 0.75
	ComplexAbove      = 0.4

	// QualityComplexAt is the quality threshold from which scoring goes to
	// the complex tier.
	QualityComplexAt = 70

	longContentChars = 500
)

var (
	reasoningKeywords = regexp.MustCompile(`(?i)\b(why|how|compare|analy[sz]e|evaluate|explain|assess|judge)\b`)
	deepReasoning     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcompare\b.*\b(with|against|to|versus|vs\.?)\b`),
		regexp.MustCompile(`(?i)\b(step[- ]by[- ]step|in detail|detailed analysis|thorough(ly)?)\b`),
		regexp.MustCompile(`(?i)\b(pros and cons|trade-?offs?|strengths and weaknesses)\b`),
		regexp.MustCompile(`(?i)\b(both|each of|all of)\b.*\band\b.*\band\b`),
		regexp.MustCompile(`(?i)\b(first|1\.|\(1\)).*\b(second|then|2\.|\(2\))\b`),
	}
)

// Score returns the weighted complexity of judging content with prompt,
// in [0,1]. Lengths are counted in characters.
func Score(prompt, content string) float64 {
	tokens := float64(utf8.RuneCountInString(prompt)) / 4
	score := math.Min(tokens/100, 0.4)

	if reasoningKeywords.MatchString(prompt) {
		score += 0.2
	}
	for _, re := range deepReasoning {
		if re.MatchString(prompt) {
			score += 0.2
			break
		}
	}
	if utf8.RuneCountInString(content) > longContentChars {
		score += 0.2
	}
	return math.Min(score, 1)
}

// TierFor maps a complexity score to a tier.
func TierFor(score float64) model.Tier {
	switch {
	case score > UltraComplexAbove:
		return model.TierUltraComplex
	case score > ComplexAbove:
		return model.TierComplex
	default:
		return model.TierSimple
	}
}

// Classify picks the tier for judging content against c. Sentiment is
// always simple; quality is complex from QualityComplexAt.
func Classify(c model.Condition, content string) model.Tier {
	switch c := c.(type) {
	case model.LLMJudgment:
		return TierFor(Score(c.Prompt, content))
	case model.QualityThreshold:
		if c.Threshold >= QualityComplexAt {
			return model.TierComplex
		}
		return model.TierSimple
	default:
		return model.TierSimple
	}
}

// Router resolves tiers to concrete model ids for one provider.
type Router struct {
	provider string
	models   map[model.Tier]string
	override string
}

// NewRouter builds a Router for provider. Non-empty tier entries replace
// the defaults; a non-empty override pins every tier to one model.
func NewRouter(provider string, tiers map[model.Tier]string, override string) (*Router, error) {
	defaults, ok := DefaultModels[provider]
	if !ok {
		return nil, eris.Errorf("llm: unknown provider %q (supported: %s, %s)", provider, ProviderOpenAI, ProviderAnthropic)
	}

	models := make(map[model.Tier]string, len(defaults))
	for t, m := range defaults {
		models[t] = m
	}
	for t, m := range tiers {
		if m != "" {
			models[t] = m
		}
	}
	return &Router{provider: provider, models: models, override: override}, nil
}

// Provider returns the provider name.
func (r *Router) Provider() string { return r.provider }

// Model returns the model id for tier.
func (r *Router) Model(t model.Tier) string {
	if r.override != "" {
		return r.override
	}
	if m, ok := r.models[t]; ok {
		return m
	}
	return r.models[model.TierSimple]
}

// BaselineModel is the provider's ultra-complex model, ignoring any global
// override. Cost savings are reported against it.
func (r *Router) BaselineModel() string {
	return r.models[model.TierUltraComplex]
}

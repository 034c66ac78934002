package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/rewards-engine/internal/analytics"
	"github.com/sells-group/rewards-engine/internal/cache"
	"github.com/sells-group/rewards-engine/internal/cost"
	"github.com/sells-group/rewards-engine/internal/model"
	"github.com/sells-group/rewards-engine/internal/resilience"
)

// Reasoning strings of degraded judgments.
const (
	ReasonSkipped = "Skipped"
	ReasonFailed  = "Evaluation failed"
)

const (
	judgeSystem     = "You are a judge evaluating employee visit data. Be concise."
	sentimentSystem = "You are a sentiment analyzer for employee visit documentation. Be concise."
	qualitySystem   = "You are a documentation quality assessor for employee visit notes. Score based on helpfulness, detail, and professionalism. Be concise."

	// Cache prompts for the fixed-question operators.
	sentimentQuestion = "Analyze the sentiment of this text"
	qualityQuestion   = "Rate the quality of this documentation"
)

var (
	evaluationSchema = Schema{
		Name:        "evaluation",
		Description: "Record whether the content meets the criteria.",
		Properties: map[string]any{
			"steps": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Step-by-step reasoning before deciding",
			},
			"match":      map[string]any{"type": "boolean", "description": "Whether the content meets the criteria"},
			"confidence": map[string]any{"type": "number", "description": "Confidence score between 0 and 1"},
			"reasoning":  map[string]any{"type": "string", "description": "Brief one-sentence explanation"},
		},
		Required: []string{"steps", "match", "confidence", "reasoning"},
	}
	sentimentSchema = Schema{
		Name:        "sentiment",
		Description: "Record the overall sentiment of the text.",
		Properties: map[string]any{
			"sentiment": map[string]any{
				"type":        "string",
				"enum":        []string{string(model.SentimentPositive), string(model.SentimentNegative), string(model.SentimentNeutral)},
				"description": "Overall sentiment of the text",
			},
			"reasoning": map[string]any{"type": "string", "description": "Brief one-sentence explanation"},
		},
		Required: []string{"sentiment", "reasoning"},
	}
	qualitySchema = Schema{
		Name:        "quality",
		Description: "Record the documentation quality score.",
		Properties: map[string]any{
			"score":     map[string]any{"type": "integer", "description": "Quality score from 0 (poor) to 100 (excellent)"},
			"reasoning": map[string]any{"type": "string", "description": "Brief one-sentence explanation"},
		},
		Required: []string{"score", "reasoning"},
	}
)

// Judge evaluates AI conditions. It implements rules.Judge and never
// returns an error: failures come back as a non-matching Judgment with Err
// set.
type Judge struct {
	provider Provider
	router   *Router
	cache    *cache.Semantic
	recorder analytics.Recorder
	calc     *cost.Calculator
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	now      func() time.Time
}

// JudgeOption configures a Judge.
type JudgeOption func(*Judge)

// WithCache enables semantic caching of judgments.
func WithCache(c *cache.Semantic) JudgeOption {
	return func(j *Judge) { j.cache = c }
}

// WithRecorder records a metric for every real or cached judgment.
func WithRecorder(r analytics.Recorder) JudgeOption {
	return func(j *Judge) { j.recorder = r }
}

// WithCalculator sets the pricing used for metric costs.
func WithCalculator(c *cost.Calculator) JudgeOption {
	return func(j *Judge) { j.calc = c }
}

// WithRateLimit caps outbound model calls per second. Zero disables it.
func WithRateLimit(rps float64) JudgeOption {
	return func(j *Judge) {
		if rps > 0 {
			j.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithRetry replaces the default retry policy.
func WithRetry(cfg resilience.RetryConfig) JudgeOption {
	return func(j *Judge) { j.retry = cfg }
}

// NewJudge creates a Judge. A nil provider means no credential is
// configured and every judgment is skipped.
func NewJudge(provider Provider, router *Router, opts ...JudgeOption) *Judge {
	j := &Judge{
		provider: provider,
		router:   router,
		calc:     cost.NewCalculator(nil),
		retry:    resilience.DefaultRetryConfig(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(j)
	}
	if j.retry.OnRetry == nil {
		j.retry.OnRetry = resilience.RetryLogger("llm", "generate_object")
	}
	return j
}

// Configured reports whether model calls can be made.
func (j *Judge) Configured() bool {
	return j.provider != nil && j.router != nil
}

// task is one judgment request, independent of operator.
type task struct {
	op       model.Operator
	question string // cache prompt
	tier     model.Tier
	system   string
	prompt   string
	schema   Schema
	decode   func(json.RawMessage) (model.Judgment, error)
	finalize func(model.Judgment) model.Judgment
}

// Evaluate judges value against an AI condition.
func (j *Judge) Evaluate(ctx context.Context, c model.Condition, value any) model.Judgment {
	text, ok := subject(value)
	if !j.Configured() || !ok {
		return model.Judgment{Reasoning: ReasonSkipped}
	}

	switch c := c.(type) {
	case model.LLMJudgment:
		return j.run(ctx, text, task{
			op:       model.OpLLM,
			question: c.Prompt,
			tier:     Classify(c, text),
			system:   judgeSystem,
			prompt:   chainOfThought(c.Prompt, text),
			schema:   evaluationSchema,
			decode:   decodeEvaluation,
			finalize: func(r model.Judgment) model.Judgment { return r },
		})
	case model.SentimentMatch:
		return j.run(ctx, text, task{
			op:       model.OpSentiment,
			question: sentimentQuestion,
			tier:     Classify(c, text),
			system:   sentimentSystem,
			prompt:   fmt.Sprintf("%s:\n\"%s\"", sentimentQuestion, text),
			schema:   sentimentSchema,
			decode:   decodeSentiment,
			finalize: func(r model.Judgment) model.Judgment {
				r.Match = r.Label == string(c.Label)
				r.Confidence = 1
				return r
			},
		})
	case model.QualityThreshold:
		return j.run(ctx, text, task{
			op:       model.OpQualityScore,
			question: qualityQuestion,
			tier:     Classify(c, text),
			system:   qualitySystem,
			prompt:   fmt.Sprintf("%s:\n\"%s\"", qualityQuestion, text),
			schema:   qualitySchema,
			decode:   decodeQuality,
			finalize: func(r model.Judgment) model.Judgment {
				if r.Score != nil {
					r.Match = *r.Score >= c.Threshold
					r.Confidence = *r.Score / 100
				}
				return r
			},
		})
	default:
		return model.Judgment{Reasoning: ReasonSkipped}
	}
}

func (j *Judge) run(ctx context.Context, text string, t task) model.Judgment {
	start := j.now()
	modelID := j.router.Model(t.tier)

	if j.cache != nil {
		if hit, ok := j.cache.Lookup(ctx, t.op, t.question, text); ok {
			j.record(ctx, analytics.Metric{
				Timestamp: start,
				Model:     modelID,
				Tier:      t.tier,
				LatencyMs: j.now().Sub(start).Milliseconds(),
				Cached:    true,
				Operator:  t.op,
			})
			return t.finalize(hit)
		}
	}

	req := ObjectRequest{
		Model:  modelID,
		System: t.system,
		Prompt: t.prompt,
		Schema: t.schema,
	}
	resp, err := resilience.DoVal(ctx, j.retry, func(ctx context.Context) (*ObjectResponse, error) {
		if j.limiter != nil {
			if err := j.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return j.provider.GenerateObject(ctx, req)
	})
	if err != nil {
		return j.failed(t, modelID, eris.Wrapf(err, "llm: %s via %s", t.op, modelID))
	}

	raw, err := t.decode(resp.Object)
	if err != nil {
		return j.failed(t, modelID, eris.Wrapf(err, "llm: decode %s object", t.schema.Name))
	}

	in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
	if in == 0 && out == 0 {
		in = estimateTokens(t.system + t.prompt)
		out = estimateTokens(string(resp.Object))
	}
	spend := j.calc.Tokens(modelID, in, out)
	latency := j.now().Sub(start)

	zap.L().Info("cost attribution",
		zap.String("model", modelID),
		zap.String("phase", string(t.op)),
		zap.String("tier", string(t.tier)),
		zap.Int("input_tokens", in),
		zap.Int("output_tokens", out),
		zap.Duration("latency", latency),
		zap.Float64("estimated_cost_usd", spend),
	)
	j.record(ctx, analytics.Metric{
		Timestamp:    start,
		Model:        modelID,
		Tier:         t.tier,
		InputTokens:  in,
		OutputTokens: out,
		LatencyMs:    latency.Milliseconds(),
		Cost:         spend,
		Operator:     t.op,
	})

	if j.cache != nil {
		if err := j.cache.Put(ctx, t.op, t.question, text, raw); err != nil {
			zap.L().Warn("cache write failed", zap.String("operator", string(t.op)), zap.Error(err))
		}
	}
	return t.finalize(raw)
}

func (j *Judge) failed(t task, modelID string, err error) model.Judgment {
	zap.L().Warn("ai judgment failed",
		zap.String("operator", string(t.op)),
		zap.String("model", modelID),
		zap.Error(err),
	)
	return model.Judgment{Reasoning: ReasonFailed, Err: err}
}

func (j *Judge) record(ctx context.Context, m analytics.Metric) {
	if j.recorder != nil {
		j.recorder.Record(ctx, m)
	}
}

// subject renders the judged field value. Absent, empty and false values
// are not judged.
func subject(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case bool:
		return "true", v
	default:
		s := fmt.Sprint(v)
		return s, s != "" && s != "0"
	}
}

func chainOfThought(prompt, text string) string {
	return fmt.Sprintf("%s\n\nContent to evaluate:\n\"%s\"\n\n"+
		"Think through the question step by step, listing each step, "+
		"then decide whether the content meets the criteria.", prompt, text)
}

// estimateTokens approximates four characters per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func decodeEvaluation(obj json.RawMessage) (model.Judgment, error) {
	var out struct {
		Steps      []string `json:"steps"`
		Match      bool     `json:"match"`
		Confidence float64  `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return model.Judgment{}, err
	}
	return model.Judgment{
		Match:      out.Match,
		Confidence: min(max(out.Confidence, 0), 1),
		Reasoning:  out.Reasoning,
	}, nil
}

func decodeSentiment(obj json.RawMessage) (model.Judgment, error) {
	var out struct {
		Sentiment string `json:"sentiment"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return model.Judgment{}, err
	}
	if !model.Sentiment(out.Sentiment).Valid() {
		return model.Judgment{}, eris.Errorf("unknown sentiment %q", out.Sentiment)
	}
	return model.Judgment{Label: out.Sentiment, Reasoning: out.Reasoning}, nil
}

func decodeQuality(obj json.RawMessage) (model.Judgment, error) {
	var out struct {
		Score     *float64 `json:"score"`
		Reasoning string   `json:"reasoning"`
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return model.Judgment{}, err
	}
	if out.Score == nil {
		return model.Judgment{}, eris.New("missing score")
	}
	score := min(max(*out.Score, 0), 100)
	return model.Judgment{Score: &score, Reasoning: out.Reasoning}, nil
}

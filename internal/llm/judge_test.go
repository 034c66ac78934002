package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rewards-engine/internal/analytics"
	"github.com/sells-group/rewards-engine/internal/cache"
	"github.com/sells-group/rewards-engine/internal/model"
	"github.com/sells-group/rewards-engine/internal/resilience"
	"github.com/sells-group/rewards-engine/pkg/openai"
)

// fakeProvider replays scripted answers and counts calls.
type fakeProvider struct {
	mu      sync.Mutex
	answers []any // string JSON object or error
	reqs    []ObjectRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GenerateObject(_ context.Context, req ObjectRequest) (*ObjectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.answers) == 0 {
		return nil, errors.New("no scripted answer")
	}
	a := f.answers[0]
	if len(f.answers) > 1 {
		f.answers = f.answers[1:]
	}
	if err, ok := a.(error); ok {
		return nil, err
	}
	return &ObjectResponse{Object: json.RawMessage(a.(string)), Model: req.Model, Usage: Usage{InputTokens: 100, OutputTokens: 20}}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func newTestJudge(t *testing.T, p Provider, opts ...JudgeOption) (*Judge, *analytics.MemoryRecorder) {
	t.Helper()
	r, err := NewRouter(ProviderAnthropic, nil, "")
	require.NoError(t, err)
	rec := analytics.NewMemoryRecorder()
	base := []JudgeOption{
		WithRecorder(rec),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}),
	}
	return NewJudge(p, r, append(base, opts...)...), rec
}

func TestJudge_LLM(t *testing.T) {
	p := &fakeProvider{answers: []any{`{"steps":["a","b"],"match":true,"confidence":0.8,"reasoning":"Stayed late to help"}`}}
	j, rec := newTestJudge(t, p)

	got := j.Evaluate(context.Background(), model.LLMJudgment{Field: "notes", Prompt: "Did they go above and beyond?"}, "Stayed late")
	require.NoError(t, got.Err)
	assert.True(t, got.Match)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Equal(t, "Stayed late to help", got.Reasoning)

	require.Equal(t, 1, p.calls())
	req := p.reqs[0]
	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	assert.Equal(t, judgeSystem, req.System)
	assert.Contains(t, req.Prompt, "Did they go above and beyond?\n\nContent to evaluate:\n\"Stayed late\"")
	assert.Equal(t, "evaluation", req.Schema.Name)
	assert.Contains(t, req.Schema.Required, "steps")

	metrics, err := rec.Metrics(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	m := metrics[0]
	assert.False(t, m.Cached)
	assert.Equal(t, model.OpLLM, m.Operator)
	assert.Equal(t, model.TierSimple, m.Tier)
	assert.Equal(t, 100, m.InputTokens)
	assert.Greater(t, m.Cost, 0.0)
}

func TestJudge_SentimentAndQuality(t *testing.T) {
	p := &fakeProvider{answers: []any{
		`{"sentiment":"positive","reasoning":"warm"}`,
		`{"score":72,"reasoning":"detailed"}`,
	}}
	j, _ := newTestJudge(t, p)
	ctx := context.Background()

	s := j.Evaluate(ctx, model.SentimentMatch{Field: "notes", Label: model.SentimentNegative}, "Lovely day")
	assert.False(t, s.Match)
	assert.Equal(t, "positive", s.Label)
	assert.Equal(t, 1.0, s.Confidence)
	assert.Equal(t, sentimentSystem, p.reqs[0].System)
	assert.Equal(t, "claude-haiku-4-5-20251001", p.reqs[0].Model)

	q := j.Evaluate(ctx, model.QualityThreshold{Field: "notes", Threshold: 70}, "Thorough notes")
	assert.True(t, q.Match)
	assert.InDelta(t, 0.72, q.Confidence, 1e-9)
	assert.Equal(t, "claude-sonnet-4-5-20250929", p.reqs[1].Model)
}

func TestJudge_Skipped(t *testing.T) {
	j := NewJudge(nil, nil)
	got := j.Evaluate(context.Background(), model.LLMJudgment{Field: "notes", Prompt: "p"}, "text")
	assert.False(t, j.Configured())
	assert.Equal(t, model.Judgment{Reasoning: ReasonSkipped}, got)

	p := &fakeProvider{}
	j, _ = newTestJudge(t, p)
	for _, v := range []any{nil, "", false, 0} {
		got = j.Evaluate(context.Background(), model.LLMJudgment{Field: "notes", Prompt: "p"}, v)
		assert.Equal(t, ReasonSkipped, got.Reasoning)
		assert.NoError(t, got.Err)
	}
	assert.Zero(t, p.calls())
}

func TestJudge_RetriesTransient(t *testing.T) {
	p := &fakeProvider{answers: []any{
		resilience.NewTransientError(errors.New("overloaded"), 503),
		errors.New("429 rate limit"),
		`{"sentiment":"neutral","reasoning":"flat"}`,
	}}
	j, _ := newTestJudge(t, p)

	got := j.Evaluate(context.Background(), model.SentimentMatch{Field: "notes", Label: model.SentimentNeutral}, "ok")
	require.NoError(t, got.Err)
	assert.True(t, got.Match)
	assert.Equal(t, 3, p.calls())
}

func TestJudge_NonTransientFailsFast(t *testing.T) {
	p := &fakeProvider{answers: []any{errors.New("invalid api key")}}
	j, rec := newTestJudge(t, p)

	got := j.Evaluate(context.Background(), model.LLMJudgment{Field: "notes", Prompt: "p"}, "text")
	require.Error(t, got.Err)
	assert.False(t, got.Match)
	assert.Zero(t, got.Confidence)
	assert.Equal(t, ReasonFailed, got.Reasoning)
	assert.Equal(t, 1, p.calls())

	metrics, _ := rec.Metrics(context.Background())
	assert.Empty(t, metrics)
}

func TestJudge_OpenAIStatusRetries(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		body  string
		calls int32
	}{
		{"bad request mentioning 5000", http.StatusBadRequest, `{"error":{"message":"max_tokens must be at most 5000"}}`, 1},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"invalid api key"}}`, 1},
		{"bad gateway", http.StatusBadGateway, `upstream timeout`, 1},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, 3},
		{"unavailable", http.StatusServiceUnavailable, `{}`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewOpenAIProvider(openai.NewClient("sk-test", openai.WithBaseURL(srv.URL)))
			j, _ := newTestJudge(t, p)

			got := j.Evaluate(context.Background(), model.LLMJudgment{Field: "notes", Prompt: "Did they help?"}, "Stayed late")
			require.Error(t, got.Err)
			assert.False(t, got.Match)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestJudge_BadObject(t *testing.T) {
	p := &fakeProvider{answers: []any{`{"sentiment":"ecstatic","reasoning":"?"}`}}
	j, _ := newTestJudge(t, p)

	got := j.Evaluate(context.Background(), model.SentimentMatch{Field: "notes", Label: model.SentimentPositive}, "text")
	require.Error(t, got.Err)
	assert.Equal(t, ReasonFailed, got.Reasoning)
}

func TestJudge_CacheHitSkipsProvider(t *testing.T) {
	p := &fakeProvider{answers: []any{`{"score":80,"reasoning":"good"}`}}
	sem := cache.New(cache.NewMemoryStore())
	j, rec := newTestJudge(t, p, WithCache(sem))
	ctx := context.Background()

	first := j.Evaluate(ctx, model.QualityThreshold{Field: "notes", Threshold: 90}, "Client ate lunch")
	assert.False(t, first.Match)
	assert.False(t, first.Cached)

	// Same subject, different threshold: served from cache, match recomputed.
	second := j.Evaluate(ctx, model.QualityThreshold{Field: "notes", Threshold: 50}, "Client ate lunch")
	assert.True(t, second.Match)
	assert.True(t, second.Cached)
	assert.InDelta(t, 0.8, second.Confidence, 1e-9)

	assert.Equal(t, 1, p.calls())

	metrics, err := rec.Metrics(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.True(t, metrics[1].Cached)
	assert.Zero(t, metrics[1].Cost)
	assert.Zero(t, metrics[1].InputTokens)
}

func TestJudge_RateLimitHonorsContext(t *testing.T) {
	p := &fakeProvider{answers: []any{`{"sentiment":"neutral","reasoning":"x"}`}}
	j, _ := newTestJudge(t, p, WithRateLimit(0.001))
	ctx := context.Background()

	require.NoError(t, j.Evaluate(ctx, model.SentimentMatch{Field: "n", Label: model.SentimentNeutral}, "a").Err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	got := j.Evaluate(short, model.SentimentMatch{Field: "n", Label: model.SentimentNeutral}, "b")
	assert.Error(t, got.Err)
	assert.Equal(t, 1, p.calls())
}

func TestSubject(t *testing.T) {
	s, ok := subject(42.5)
	assert.True(t, ok)
	assert.Equal(t, "42.5", s)
	_, ok = subject(true)
	assert.True(t, ok)
}

package analytics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/rewards-engine/internal/model"
)

const namespace = "rewards"

// PrometheusRecorder decorates a Recorder with Prometheus metrics. It also
// observes processing runs.
//
// Metrics:
//   - rewards_llm_calls_total{model,tier,operator,cached}
//   - rewards_llm_tokens_total{model,direction}
//   - rewards_llm_cost_usd_total{model}
//   - rewards_llm_latency_seconds{model,cached}
//   - rewards_engine_runs_total{outcome}
//   - rewards_engine_events_total
//   - rewards_engine_grants_total
//   - rewards_engine_points_total
//   - rewards_engine_skipped_existing_total
//   - rewards_engine_judgment_errors_total
type PrometheusRecorder struct {
	next Recorder

	calls   *prometheus.CounterVec
	tokens  *prometheus.CounterVec
	cost    *prometheus.CounterVec
	latency *prometheus.HistogramVec

	runs        *prometheus.CounterVec
	events      prometheus.Counter
	grants      prometheus.Counter
	points      prometheus.Counter
	skipped     prometheus.Counter
	judgeErrors prometheus.Counter
}

// NewPrometheusRecorder creates the collectors, registers them with reg
// and forwards every metric to next.
func NewPrometheusRecorder(next Recorder, reg prometheus.Registerer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		next: next,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "calls_total",
			Help: "AI judgments by model, complexity tier, operator and cache outcome",
		}, []string{"model", "tier", "operator", "cached"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "tokens_total",
			Help: "Estimated tokens by model and direction",
		}, []string{"model", "direction"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "cost_usd_total",
			Help: "Estimated model spend in USD",
		}, []string{"model"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "llm", Name: "latency_seconds",
			Help:    "AI judgment latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"model", "cached"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "runs_total",
			Help: "Processing runs by outcome",
		}, []string{"outcome"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "events_total",
			Help: "Events considered by processing runs",
		}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "grants_total",
			Help: "Grants committed",
		}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "points_total",
			Help: "Points awarded",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "skipped_existing_total",
			Help: "Rule/event pairs skipped because a grant already existed",
		}),
		judgeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "judgment_errors_total",
			Help: "Rule/event pairs skipped because an AI judgment failed",
		}),
	}

	reg.MustRegister(
		p.calls, p.tokens, p.cost, p.latency,
		p.runs, p.events, p.grants, p.points, p.skipped, p.judgeErrors,
	)
	return p
}

func (p *PrometheusRecorder) Record(ctx context.Context, m Metric) {
	cached := "false"
	if m.Cached {
		cached = "true"
	}
	p.calls.WithLabelValues(m.Model, string(m.Tier), string(m.Operator), cached).Inc()
	p.tokens.WithLabelValues(m.Model, "input").Add(float64(m.InputTokens))
	p.tokens.WithLabelValues(m.Model, "output").Add(float64(m.OutputTokens))
	p.cost.WithLabelValues(m.Model).Add(m.Cost)
	p.latency.WithLabelValues(m.Model, cached).Observe(float64(m.LatencyMs) / 1000)

	p.next.Record(ctx, m)
}

func (p *PrometheusRecorder) Metrics(ctx context.Context) ([]Metric, error) {
	return p.next.Metrics(ctx)
}

// Reset clears the wrapped log. Prometheus counters are monotonic and
// are not reset.
func (p *PrometheusRecorder) Reset(ctx context.Context) error {
	return p.next.Reset(ctx)
}

// ObserveRun records the counters of a processing run.
func (p *PrometheusRecorder) ObserveRun(r model.ProcessResult, err error) {
	switch {
	case err == nil:
		p.runs.WithLabelValues("ok").Inc()
	case errors.Is(err, model.ErrConflict):
		p.runs.WithLabelValues("conflict").Inc()
	default:
		p.runs.WithLabelValues("error").Inc()
	}
	p.events.Add(float64(r.TotalEvents))
	p.grants.Add(float64(r.GrantsCreated))
	p.points.Add(float64(r.TotalPointsAwarded))
	p.skipped.Add(float64(r.SkippedExisting))
	p.judgeErrors.Add(float64(len(r.Errors)))
}

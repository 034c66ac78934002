// Package monitoring periodically checks AI judgment spend and quality and
// posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rewards-engine/internal/analytics"
)

// Snapshot holds the AI judgment totals of one lookback window.
type Snapshot struct {
	Calls        int     `json:"calls"`
	CachedCalls  int     `json:"cached_calls"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	CostUSD      float64 `json:"cost_usd"`
	// AvgLatencyMs covers uncached calls only.
	AvgLatencyMs int64 `json:"avg_latency_ms"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// MetricSource is the read side of an analytics.Recorder.
type MetricSource interface {
	Metrics(ctx context.Context) ([]analytics.Metric, error)
}

// Collector builds snapshots from recorded metrics.
type Collector struct {
	source MetricSource
	now    func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(source MetricSource) *Collector {
	return &Collector{source: source, now: time.Now}
}

// Collect summarizes the metrics recorded within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	metrics, err := c.source.Metrics(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load metrics")
	}

	var latency int64
	var live int
	for _, m := range metrics {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		snap.Calls++
		snap.CostUSD += m.Cost
		if m.Cached {
			snap.CachedCalls++
			continue
		}
		latency += m.LatencyMs
		live++
	}

	if snap.Calls > 0 {
		snap.CacheHitRate = float64(snap.CachedCalls) / float64(snap.Calls)
	}
	if live > 0 {
		snap.AvgLatencyMs = latency / int64(live)
	}
	return snap, nil
}

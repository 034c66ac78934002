// Package analytics records AI judgment calls and summarizes their cost.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/rewards-engine/internal/model"
)

// Metric is one AI judgment, real or served from cache.
type Metric struct {
	Timestamp    time.Time      `json:"timestamp"`
	Model        string         `json:"model"`
	Tier         model.Tier     `json:"complexity"`
	InputTokens  int            `json:"inputTokens"`
	OutputTokens int            `json:"outputTokens"`
	LatencyMs    int64          `json:"latencyMs"`
	Cost         float64        `json:"cost"`
	Cached       bool           `json:"cached"`
	Operator     model.Operator `json:"operator"`
}

// Recorder is an append-only log of metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	Record(ctx context.Context, m Metric)
	Metrics(ctx context.Context) ([]Metric, error)
	Reset(ctx context.Context) error
}

// MemoryRecorder keeps metrics in process memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	metrics []Metric
}

// NewMemoryRecorder creates an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
}

func (r *MemoryRecorder) Metrics(_ context.Context) ([]Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out, nil
}

func (r *MemoryRecorder) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = nil
	return nil
}

package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rewards-engine/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCostOverrun     AlertType = "cost_overrun"
	AlertLowCacheHitRate AlertType = "low_cache_hit_rate"
	AlertSlowJudgments   AlertType = "slow_judgments"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// threshold is one alert rule. It returns nil when the snapshot is within
// bounds or the rule is disabled.
type threshold func(cfg config.MonitoringConfig, snap *Snapshot) *Alert

var thresholds = []threshold{costOverrun, lowCacheHitRate, slowJudgments}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero threshold disables its check.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert
	for _, check := range thresholds {
		if alert := check(a.cfg, snap); alert != nil {
			alert.Timestamp = now
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

func costOverrun(cfg config.MonitoringConfig, snap *Snapshot) *Alert {
	if cfg.CostThresholdUSD <= 0 || snap.CostUSD <= cfg.CostThresholdUSD {
		return nil
	}
	return &Alert{
		Type:     AlertCostOverrun,
		Severity: "high",
		Message: fmt.Sprintf("AI judgment cost $%.2f exceeds threshold $%.2f in last %dh",
			snap.CostUSD, cfg.CostThresholdUSD, snap.LookbackHours),
		Details: map[string]any{
			"cost_usd":      snap.CostUSD,
			"threshold_usd": cfg.CostThresholdUSD,
			"calls":         snap.Calls,
		},
	}
}

// lowCacheHitRate and slowJudgments stay quiet below MinCalls.
func lowCacheHitRate(cfg config.MonitoringConfig, snap *Snapshot) *Alert {
	if cfg.MinCacheHitRate <= 0 || snap.Calls < cfg.MinCalls || snap.CacheHitRate >= cfg.MinCacheHitRate {
		return nil
	}
	return &Alert{
		Type:     AlertLowCacheHitRate,
		Severity: "medium",
		Message: fmt.Sprintf("Judgment cache hit rate %.1f%% is below %.1f%% (%d of %d calls in last %dh)",
			snap.CacheHitRate*100, cfg.MinCacheHitRate*100, snap.CachedCalls, snap.Calls, snap.LookbackHours),
		Details: map[string]any{
			"hit_rate":  snap.CacheHitRate,
			"threshold": cfg.MinCacheHitRate,
			"cached":    snap.CachedCalls,
			"calls":     snap.Calls,
		},
	}
}

func slowJudgments(cfg config.MonitoringConfig, snap *Snapshot) *Alert {
	if cfg.LatencyThresholdMs <= 0 || snap.Calls < cfg.MinCalls || snap.AvgLatencyMs <= cfg.LatencyThresholdMs {
		return nil
	}
	return &Alert{
		Type:     AlertSlowJudgments,
		Severity: "medium",
		Message: fmt.Sprintf("Average model latency %dms exceeds %dms in last %dh",
			snap.AvgLatencyMs, cfg.LatencyThresholdMs, snap.LookbackHours),
		Details: map[string]any{
			"avg_latency_ms": snap.AvgLatencyMs,
			"threshold_ms":   cfg.LatencyThresholdMs,
		},
	}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

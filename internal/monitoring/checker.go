package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/rewards-engine/internal/config"
)

// Checker runs periodic alert checks in the background. An alert type that
// was delivered is not re-sent until one lookback window has passed.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks every CheckIntervalSecs (default five minutes) until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting spend alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("spend alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot, evaluates it and delivers the alerts that
// are not in cooldown. It returns the alerts delivered.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		zap.L().Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		zap.L().Debug("monitoring: no alerts due",
			zap.Int("calls", snap.Calls),
			zap.Float64("cost_usd", snap.CostUSD),
		)
		return nil
	}

	var delivered []Alert
	for _, alert := range due {
		if c.alerter.SendAlerts(ctx, []Alert{alert}) == 1 {
			c.markSent(alert.Type)
			delivered = append(delivered, alert)
		}
	}
	zap.L().Info("monitoring: alert check complete",
		zap.Int("alerts_due", len(due)),
		zap.Int("alerts_sent", len(delivered)),
	)
	return delivered
}

func (c *Checker) due(alerts []Alert) []Alert {
	cooldown := time.Duration(c.cfg.LookbackWindowHours) * time.Hour
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < cooldown {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Checker) markSent(t AlertType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSent[t] = c.now()
}

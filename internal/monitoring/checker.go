package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/config"
)

// Checker drives the alert loop: collect a snapshot, evaluate thresholds,
// send whatever fired. The first check runs right away so a freshly started
// server reports problems without waiting a full interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
}

// NewChecker creates a background alert checker from monitoring config.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled, checking once immediately and then on
// every interval tick.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker running",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.checkOnce(ctx, log)

		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *Checker) checkOnce(ctx context.Context, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("collect metrics for alerting", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	types := make([]string, len(alerts))
	for i, a := range alerts {
		types[i] = string(a.Type)
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("alerts triggered",
		zap.Strings("types", types),
		zap.Int("sent", sent),
	)
}

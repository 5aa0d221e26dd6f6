package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on a fixed interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// New builds a Checker over runs using the thresholds in cfg.
func New(runs RunLister, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: NewCollector(runs, time.Duration(cfg.StuckAfterMins)*time.Minute),
		alerter:   NewAlerter(cfg),
		cfg:       cfg,
	}
}

// Run checks once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) error {
	every := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if every <= 0 {
		every = defaultCheckInterval
	}
	zap.L().Info("monitoring: checker started",
		zap.Duration("every", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: checker stopped")
			return nil
		case <-tick.C:
			c.Check(ctx)
		}
	}
}

// Check runs one collect/evaluate/notify cycle and returns the alerts it
// raised. Failures are logged; the next tick tries again.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		zap.L().Error("monitoring: collect", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		zap.L().Debug("monitoring: healthy",
			zap.Int("runs", snap.RunsTotal),
			zap.Int("active", snap.RunsActive),
		)
		return nil
	}

	if err := c.alerter.Notify(ctx, snap, alerts); err != nil {
		zap.L().Error("monitoring: notify", zap.Int("alerts", len(alerts)), zap.Error(err))
	}
	return alerts
}

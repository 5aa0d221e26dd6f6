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

	"github.com/sells-group/news-pipeline/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertStuckRuns      AlertType = "stuck_runs"
	AlertStorageOutage  AlertType = "storage_outage"
)

// minFinishedRuns is the sample size below which the failure rate is not
// judged.
const minFinishedRuns = 5

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a MetricsSnapshot into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter returns an Alerter using the thresholds and webhook in cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts snap triggers, most severe first.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()
	raise := func(t AlertType, sev string, details map[string]any, format string, args ...any) Alert {
		return Alert{Type: t, Severity: sev, Message: fmt.Sprintf(format, args...), Details: details, Timestamp: now}
	}

	var alerts []Alert
	if finished := snap.RunsCompleted + snap.RunsFailed; finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, raise(AlertRunFailureRate, "high",
			map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
				"error_kinds":  snap.ErrorKinds,
			},
			"%d of %d runs failed in the last %dh (%.1f%%, threshold %.1f%%)",
			snap.RunsFailed, finished, snap.LookbackHours, snap.FailRate*100, a.cfg.FailureRateThreshold*100,
		))
	}
	if snap.StorageFailures > 0 {
		alerts = append(alerts, raise(AlertStorageOutage, "high",
			map[string]any{"failed": snap.StorageFailures},
			"%d run(s) aborted on storage errors in the last %dh", snap.StorageFailures, snap.LookbackHours,
		))
	}
	if len(snap.StuckRuns) > 0 {
		alerts = append(alerts, raise(AlertStuckRuns, "medium",
			map[string]any{"workflow_ids": snap.StuckRuns},
			"%d run(s) idle for more than %d minutes", len(snap.StuckRuns), a.cfg.StuckAfterMins,
		))
	}
	return alerts
}

// Notification is the webhook body: every alert raised by one check along
// with the snapshot that raised them.
type Notification struct {
	Service  string           `json:"service"`
	Alerts   []Alert          `json:"alerts"`
	Snapshot *MetricsSnapshot `json:"snapshot"`
}

// Notify posts alerts raised from snap as a single webhook call. It is a
// no-op without a webhook URL or alerts.
func (a *Alerter) Notify(ctx context.Context, snap *MetricsSnapshot, alerts []Alert) error {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	payload, err := json.Marshal(Notification{Service: "news-pipeline", Alerts: alerts, Snapshot: snap})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: webhook status %d", resp.StatusCode)
	}

	types := make([]string, len(alerts))
	for i, al := range alerts {
		types[i] = string(al.Type)
	}
	zap.L().Info("monitoring: alerts delivered", zap.Strings("types", types))
	return nil
}

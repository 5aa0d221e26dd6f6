// Package monitoring watches workflow-run health and raises webhook alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
	"github.com/sells-group/news-pipeline/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs created within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsActive    int     `json:"runs_active"`
	FailRate      float64 `json:"fail_rate"`

	// StorageFailures counts failed runs whose error kind is a store outage.
	StorageFailures int `json:"storage_failures"`
	// StuckRuns lists non-terminal runs with no update for the stuck window.
	// Discovery-only runs parked at SCRAPED are not stuck.
	StuckRuns []string `json:"stuck_runs,omitempty"`

	ErrorKinds map[string]int `json:"error_kinds,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the run-store query the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.WorkflowRun, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	runs       RunLister
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. A non-positive stuckAfter
// disables stuck-run detection.
func NewCollector(runs RunLister, stuckAfter time.Duration) *Collector {
	return &Collector{runs: runs, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ErrorKinds:    map[string]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.CurrentStatus {
		case model.StatusCompleted:
			snap.RunsCompleted++
		case model.StatusFailed:
			snap.RunsFailed++
			kind, _ := r.Details[model.DetailErrorKind].(string)
			if kind == "" {
				kind = string(resilience.Unknown)
			}
			snap.ErrorKinds[kind]++
			if kind == string(resilience.StorageTransient) || kind == string(resilience.StorageFatal) {
				snap.StorageFailures++
			}
		case model.StatusScraped:
			// Discovery-only runs end here.
		default:
			snap.RunsActive++
			if c.stuckAfter > 0 && now.Sub(r.UpdatedAt) > c.stuckAfter {
				snap.StuckRuns = append(snap.StuckRuns, r.ID)
			}
		}
	}

	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}

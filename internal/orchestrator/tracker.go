// Package orchestrator sequences the pipeline stages into named workflows,
// owns workflow status transitions, and runs tasks on a single worker.
package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/model"
)

// ErrIllegalTransition is returned when a status change would break the run
// lifecycle.
var ErrIllegalTransition = errors.New("illegal status transition")

// RunStore is the run persistence the tracker writes through.
type RunStore interface {
	CreateOrUpdateRun(ctx context.Context, runID string, status model.Status, details model.Details, errText string) (*model.WorkflowRun, error)
	GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error)
}

// Tracker records run transitions, refusing any that model.CanTransition
// rejects. Unknown detail keys are dropped with a warning.
type Tracker struct {
	runs RunStore

	mu      sync.Mutex
	current map[string]model.Status
}

// NewTracker creates a Tracker over runs.
func NewTracker(runs RunStore) *Tracker {
	return &Tracker{runs: runs, current: make(map[string]model.Status)}
}

// Record moves runID to status. The first record of a run must be STARTED.
func (t *Tracker) Record(ctx context.Context, runID string, status model.Status, details model.Details, errText string) error {
	runID = model.TruncateID(runID)

	clean, dropped := details.Clean()
	if len(dropped) > 0 {
		zap.L().Warn("dropping unknown detail keys",
			zap.String("workflow_id", runID),
			zap.Strings("keys", dropped),
		)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.current[runID]
	if !ok {
		run, err := t.runs.GetRun(ctx, runID)
		if err != nil {
			return eris.Wrapf(err, "orchestrator: load run %s", runID)
		}
		if run != nil {
			from = run.CurrentStatus
		}
	}
	if !model.CanTransition(from, status) {
		return eris.Wrapf(ErrIllegalTransition, "orchestrator: %s %q -> %q", runID, from, status)
	}

	if _, err := t.runs.CreateOrUpdateRun(ctx, runID, status, clean, errText); err != nil {
		return eris.Wrapf(err, "orchestrator: record %s %s", runID, status)
	}

	if status.Terminal() {
		delete(t.current, runID)
	} else {
		t.current[runID] = status
	}
	zap.L().Debug("run transition",
		zap.String("workflow_id", runID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)
	return nil
}

// forget drops the cached status of a run that is parked at a non-terminal
// status on purpose. A later Record reloads it from the store.
func (t *Tracker) forget(runID string) {
	t.mu.Lock()
	delete(t.current, model.TruncateID(runID))
	t.mu.Unlock()
}

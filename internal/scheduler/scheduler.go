// Package scheduler enqueues a workflow on a cron schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/orchestrator"
)

// Enqueuer accepts tasks for the worker.
type Enqueuer interface {
	Enqueue(t orchestrator.Task) (string, error)
}

// Scheduler triggers one workflow kind on a standard five-field cron
// expression. Triggers only enqueue; a trigger that finds the queue full is
// skipped and logged.
type Scheduler struct {
	queue Enqueuer
	kind  orchestrator.TaskKind
	spec  string
	cron  *cron.Cron
}

// New validates the expression and the workflow name.
func New(queue Enqueuer, spec, workflow string) (*Scheduler, error) {
	kind, err := orchestrator.ParseTaskKind(workflow)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: workflow")
	}
	switch kind {
	case orchestrator.TaskClassify:
		return nil, eris.Errorf("scheduler: %s needs explicit links and cannot be scheduled", kind)
	}

	s := &Scheduler{
		queue: queue,
		kind:  kind,
		spec:  spec,
		cron:  cron.New(),
	}
	if _, err := s.cron.AddFunc(spec, s.Trigger); err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse cron %q", spec)
	}
	return s, nil
}

// Trigger enqueues the workflow once.
func (s *Scheduler) Trigger() {
	id, err := s.queue.Enqueue(orchestrator.Task{Kind: s.kind})
	if err != nil {
		zap.L().Warn("scheduled trigger skipped",
			zap.String("task", string(s.kind)),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("scheduled trigger enqueued",
		zap.String("task", string(s.kind)),
		zap.String("workflow_id", id),
	)
}

// Next returns the next trigger time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Schedule.Next(t)
}

// Run starts the cron loop and blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	zap.L().Info("scheduler started",
		zap.String("cron", s.spec),
		zap.String("task", string(s.kind)),
		zap.Time("next", s.Next(time.Now())),
	)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	zap.L().Info("scheduler stopped")
	return nil
}

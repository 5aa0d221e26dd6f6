package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/model"
)

// TaskKind names a workflow a task runs.
type TaskKind string

const (
	TaskDiscover       TaskKind = "discover"
	TaskClassify       TaskKind = "classify"
	TaskClassifyLatest TaskKind = "classify-latest"
	TaskExtract        TaskKind = "extract"
	TaskFullChain      TaskKind = "full-chain"
	TaskExtendedChain  TaskKind = "extended-chain"
	TaskReanalyze      TaskKind = "reanalyze"
)

// TaskKinds lists every task kind.
func TaskKinds() []TaskKind {
	return []TaskKind{
		TaskDiscover, TaskClassify, TaskClassifyLatest, TaskExtract,
		TaskFullChain, TaskExtendedChain, TaskReanalyze,
	}
}

// ParseTaskKind validates a task name.
func ParseTaskKind(s string) (TaskKind, error) {
	for _, k := range TaskKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", eris.Errorf("orchestrator: unknown task %q", s)
}

// Task is one unit of queued work. MaxLinks caps the links a task picks up;
// for reanalyze it is the number of failed analyses retried.
type Task struct {
	Kind     TaskKind `json:"task"`
	RunID    string   `json:"workflow_id,omitempty"`
	Links    []string `json:"links,omitempty"`
	MaxLinks int      `json:"max_links,omitempty"`
}

// Executor runs a task to completion.
type Executor interface {
	Execute(ctx context.Context, t Task) error
}

var (
	// ErrQueueFull is returned by Enqueue when the buffer is at capacity.
	ErrQueueFull = errors.New("orchestrator: task queue full")
	// ErrQueueClosed is returned by Enqueue after Shutdown.
	ErrQueueClosed = errors.New("orchestrator: task queue closed")
	// ErrRunExists is returned by Enqueue when a caller supplied identifier
	// is already recorded or already queued.
	ErrRunExists = errors.New("orchestrator: workflow id already exists")
	// ErrRunLookup is returned by Enqueue when the identifier check could
	// not reach the store.
	ErrRunLookup = errors.New("orchestrator: workflow id check failed")
)

// lookupTimeout bounds the store read Enqueue makes for a caller supplied
// identifier.
const lookupTimeout = 5 * time.Second

// RunLookup reads recorded runs. GetRun returns nil, nil for an unknown id.
type RunLookup interface {
	GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error)
}

// Queue is a bounded FIFO drained by a single worker. Tasks run one at a
// time under a context detached from the caller, so a request ending or a
// shutdown signal never cancels a task midway.
type Queue struct {
	exec  Executor
	runs  RunLookup
	tasks chan Task
	now   func() time.Time

	mu      sync.Mutex
	ids     map[string]struct{}
	closed  bool
	started bool
	running string
	stop    chan struct{}
	done    chan struct{}
}

// NewQueue creates a Queue holding up to size pending tasks. When runs is
// non-nil, caller supplied identifiers that already name a recorded run are
// refused at Enqueue.
func NewQueue(exec Executor, runs RunLookup, size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		exec:  exec,
		runs:  runs,
		tasks: make(chan Task, size),
		now:   time.Now,
		ids:   map[string]struct{}{},
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Enqueue adds t without blocking and returns its run identifier. A caller
// supplied identifier is kept, shortened to the identifier cap, and must not
// name a run that is already recorded, queued or running.
func (q *Queue) Enqueue(t Task) (string, error) {
	if _, err := ParseTaskKind(string(t.Kind)); err != nil {
		return "", err
	}
	supplied := t.RunID != ""
	if !supplied {
		t.RunID = NewTaskID(t.Kind, q.now())
	}
	t.RunID = model.TruncateID(t.RunID)

	if supplied {
		if err := q.checkRecorded(t.RunID); err != nil {
			return "", err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	if _, taken := q.ids[t.RunID]; taken {
		return "", ErrRunExists
	}
	select {
	case q.tasks <- t:
		q.ids[t.RunID] = struct{}{}
		zap.L().Info("task enqueued",
			zap.String("workflow_id", t.RunID),
			zap.String("task", string(t.Kind)),
			zap.Int("pending", len(q.tasks)),
		)
		return t.RunID, nil
	default:
		return "", ErrQueueFull
	}
}

// checkRecorded refuses an identifier the store already holds.
func (q *Queue) checkRecorded(runID string) error {
	if q.runs == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	run, err := q.runs.GetRun(ctx, runID)
	if err != nil {
		zap.L().Error("workflow id check failed", zap.String("workflow_id", runID), zap.Error(err))
		return ErrRunLookup
	}
	if run != nil {
		zap.L().Warn("refusing reused workflow id",
			zap.String("workflow_id", runID),
			zap.String("current_status", string(run.CurrentStatus)),
		)
		return ErrRunExists
	}
	return nil
}

// Pending returns the number of tasks waiting to run.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

// Running returns the run identifier of the task in progress, if any.
func (q *Queue) Running() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Start launches the worker. Calling it more than once has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.work(context.WithoutCancel(ctx))
}

// Shutdown stops accepting tasks and waits for the task in progress to
// finish, or for ctx to end. Tasks still queued are dropped.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	close(q.stop)
	q.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-q.done:
		if n := len(q.tasks); n > 0 {
			zap.L().Warn("dropping queued tasks on shutdown", zap.Int("pending", n))
		}
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "orchestrator: shutdown")
	}
}

// Run starts the worker and blocks until ctx ends, then shuts down waiting
// at most grace for the task in progress.
func (q *Queue) Run(ctx context.Context, grace time.Duration) error {
	q.Start(ctx)
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	return q.Shutdown(sctx)
}

func (q *Queue) work(ctx context.Context) {
	defer close(q.done)
	zap.L().Info("task worker started")
	for {
		// Prefer stopping over picking another task.
		select {
		case <-q.stop:
			zap.L().Info("task worker stopped")
			return
		default:
		}
		select {
		case <-q.stop:
			zap.L().Info("task worker stopped")
			return
		case t := <-q.tasks:
			q.execute(ctx, t)
		}
	}
}

// execute runs one task; neither an error nor a panic escapes it.
func (q *Queue) execute(ctx context.Context, t Task) {
	q.setRunning(t.RunID)
	defer q.release(t.RunID)

	log := zap.L().With(zap.String("workflow_id", t.RunID), zap.String("task", string(t.Kind)))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", zap.Any("panic", r))
		}
	}()

	if err := q.exec.Execute(ctx, t); err != nil {
		log.Error("task failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	log.Info("task finished", zap.Duration("elapsed", time.Since(start)))
}

// release clears the running marker and frees the identifier.
func (q *Queue) release(id string) {
	q.mu.Lock()
	q.running = ""
	delete(q.ids, id)
	q.mu.Unlock()
}

func (q *Queue) setRunning(id string) {
	q.mu.Lock()
	q.running = id
	q.mu.Unlock()
}

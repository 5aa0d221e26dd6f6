package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
)

// DefaultStoreAttempts is how many times a storage call is tried before a
// transient failure is surfaced.
const DefaultStoreAttempts = 3

// Retrying decorates a Store so transient storage failures are retried with a
// short pause and a Reinit of the connection between attempts. Errors that
// come out are tagged StorageTransient or StorageFatal.
type Retrying struct {
	inner Store
	cfg   resilience.RetryConfig
}

var _ Store = (*Retrying)(nil)

// NewRetrying wraps inner. attempts <= 0 selects DefaultStoreAttempts.
func NewRetrying(inner Store, attempts int, pause time.Duration) *Retrying {
	if attempts <= 0 {
		attempts = DefaultStoreAttempts
	}
	cfg := resilience.FixedRetryConfig(attempts, pause)
	cfg.ShouldRetry = IsTransient
	return &Retrying{inner: inner, cfg: cfg}
}

// Unwrap returns the decorated store.
func (r *Retrying) Unwrap() Store { return r.inner }

func (r *Retrying) config(op string) resilience.RetryConfig {
	cfg := r.cfg
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("store: transient failure, reinitializing",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		// Reinit uses a fresh context so a deadline on the failed call does
		// not also doom the reconnect.
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rerr := r.inner.Reinit(rctx); rerr != nil {
			zap.L().Warn("store: reinit failed", zap.String("operation", op), zap.Error(rerr))
		}
	}
	return cfg
}

func withRetry[T any](ctx context.Context, r *Retrying, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := resilience.DoVal(ctx, r.config(op), fn)
	if err != nil {
		return v, resilience.Tag(Classify(err), err)
	}
	return v, nil
}

func doRetry(ctx context.Context, r *Retrying, op string, fn func(ctx context.Context) error) error {
	_, err := withRetry(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *Retrying) CreateOrUpdateRun(ctx context.Context, runID string, status model.Status, details model.Details, errText string) (*model.WorkflowRun, error) {
	return withRetry(ctx, r, "create_or_update_run", func(ctx context.Context) (*model.WorkflowRun, error) {
		return r.inner.CreateOrUpdateRun(ctx, runID, status, details, errText)
	})
}

func (r *Retrying) GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	return withRetry(ctx, r, "get_run", func(ctx context.Context) (*model.WorkflowRun, error) {
		return r.inner.GetRun(ctx, runID)
	})
}

func (r *Retrying) ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error) {
	return withRetry(ctx, r, "list_runs", func(ctx context.Context) ([]model.WorkflowRun, error) {
		return r.inner.ListRuns(ctx, filter)
	})
}

func (r *Retrying) ActiveHomepages(ctx context.Context) ([]model.Homepage, error) {
	return withRetry(ctx, r, "active_homepages", r.inner.ActiveHomepages)
}

func (r *Retrying) UpsertHomepages(ctx context.Context, homepages []model.Homepage) (int, error) {
	return withRetry(ctx, r, "upsert_homepages", func(ctx context.Context) (int, error) {
		return r.inner.UpsertHomepages(ctx, homepages)
	})
}

func (r *Retrying) LinkCache(ctx context.Context, homepage string) ([]string, error) {
	return withRetry(ctx, r, "link_cache", func(ctx context.Context) ([]string, error) {
		return r.inner.LinkCache(ctx, homepage)
	})
}

func (r *Retrying) AddToLinkCache(ctx context.Context, homepage string, links []string) (int, error) {
	return withRetry(ctx, r, "add_to_link_cache", func(ctx context.Context) (int, error) {
		return r.inner.AddToLinkCache(ctx, homepage, links)
	})
}

func (r *Retrying) SaveNewLinks(ctx context.Context, batch model.NewLinkBatch) error {
	return doRetry(ctx, r, "save_new_links", func(ctx context.Context) error {
		return r.inner.SaveNewLinks(ctx, batch)
	})
}

func (r *Retrying) PruneLinkCache(ctx context.Context, olderThan time.Time) (int, error) {
	return withRetry(ctx, r, "prune_link_cache", func(ctx context.Context) (int, error) {
		return r.inner.PruneLinkCache(ctx, olderThan)
	})
}

func (r *Retrying) LatestNewLinks(ctx context.Context, max int) ([]model.LinkRecord, error) {
	return withRetry(ctx, r, "latest_new_links", func(ctx context.Context) ([]model.LinkRecord, error) {
		return r.inner.LatestNewLinks(ctx, max)
	})
}

func (r *Retrying) SaveLinkAnalysis(ctx context.Context, a model.LinkAnalysis) error {
	return doRetry(ctx, r, "save_link_analysis", func(ctx context.Context) error {
		return r.inner.SaveLinkAnalysis(ctx, a)
	})
}

func (r *Retrying) GetLinkAnalysis(ctx context.Context, linkID string) (*model.LinkAnalysis, error) {
	return withRetry(ctx, r, "get_link_analysis", func(ctx context.Context) (*model.LinkAnalysis, error) {
		return r.inner.GetLinkAnalysis(ctx, linkID)
	})
}

func (r *Retrying) FailedAnalyses(ctx context.Context, limit int) ([]model.LinkAnalysis, error) {
	return withRetry(ctx, r, "failed_analyses", func(ctx context.Context) ([]model.LinkAnalysis, error) {
		return r.inner.FailedAnalyses(ctx, limit)
	})
}

func (r *Retrying) LatestValidLinks(ctx context.Context, max int) ([]model.LinkRecord, error) {
	return withRetry(ctx, r, "latest_valid_links", func(ctx context.Context) ([]model.LinkRecord, error) {
		return r.inner.LatestValidLinks(ctx, max)
	})
}

func (r *Retrying) SaveBatchAnalysis(ctx context.Context, b model.BatchAnalysis) error {
	return doRetry(ctx, r, "save_batch_analysis", func(ctx context.Context) error {
		return r.inner.SaveBatchAnalysis(ctx, b)
	})
}

func (r *Retrying) SaveContent(ctx context.Context, c model.ContentRecord) error {
	return doRetry(ctx, r, "save_content", func(ctx context.Context) error {
		return r.inner.SaveContent(ctx, c)
	})
}

func (r *Retrying) GetContent(ctx context.Context, linkID string) (*model.ContentRecord, error) {
	return withRetry(ctx, r, "get_content", func(ctx context.Context) (*model.ContentRecord, error) {
		return r.inner.GetContent(ctx, linkID)
	})
}

func (r *Retrying) Migrate(ctx context.Context) error {
	return doRetry(ctx, r, "migrate", r.inner.Migrate)
}

func (r *Retrying) Ping(ctx context.Context) error {
	return doRetry(ctx, r, "ping", r.inner.Ping)
}

func (r *Retrying) Reinit(ctx context.Context) error {
	return r.inner.Reinit(ctx)
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}

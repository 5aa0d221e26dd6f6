// Package store persists workflow runs, their status history, and the
// link/content tables the pipeline stages own.
package store

import (
	"context"
	"time"

	"github.com/sells-group/news-pipeline/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.Status `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// RunStore is the durable record of workflow runs.
type RunStore interface {
	// CreateOrUpdateRun creates the run with status as its only history entry,
	// or appends a history entry and moves current_status. details are merged
	// into the run-level details. The run and its history are written in one
	// transaction.
	CreateOrUpdateRun(ctx context.Context, runID string, status model.Status, details model.Details, errText string) (*model.WorkflowRun, error)
	// GetRun returns the run with full history, or nil when it does not exist.
	GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error)
	// ListRuns returns runs with full history, most recently updated first.
	ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error)
}

// LinkStore holds the homepage registry, link cache, analyses and content.
type LinkStore interface {
	// Homepage registry
	ActiveHomepages(ctx context.Context) ([]model.Homepage, error)
	UpsertHomepages(ctx context.Context, homepages []model.Homepage) (int, error)

	// Link cache and discovery batches
	LinkCache(ctx context.Context, homepage string) ([]string, error)
	// AddToLinkCache unions links into the homepage cache and returns how many
	// were not cached before.
	AddToLinkCache(ctx context.Context, homepage string, links []string) (int, error)
	// SaveNewLinks saves the batch and unions its links into the homepage
	// cache in one transaction.
	SaveNewLinks(ctx context.Context, batch model.NewLinkBatch) error
	PruneLinkCache(ctx context.Context, olderThan time.Time) (int, error)
	LatestNewLinks(ctx context.Context, max int) ([]model.LinkRecord, error)

	// Classification
	SaveLinkAnalysis(ctx context.Context, a model.LinkAnalysis) error
	GetLinkAnalysis(ctx context.Context, linkID string) (*model.LinkAnalysis, error)
	FailedAnalyses(ctx context.Context, limit int) ([]model.LinkAnalysis, error)
	LatestValidLinks(ctx context.Context, max int) ([]model.LinkRecord, error)
	SaveBatchAnalysis(ctx context.Context, b model.BatchAnalysis) error

	// Extraction
	SaveContent(ctx context.Context, c model.ContentRecord) error
	GetContent(ctx context.Context, linkID string) (*model.ContentRecord, error)
}

// Store is the full persistence surface.
type Store interface {
	RunStore
	LinkStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	// Reinit replaces the underlying connection resource after a transient
	// failure.
	Reinit(ctx context.Context) error
	Close() error
}

// Package classify asks the understanding service whether each discovered
// link is a news article worth extracting and records the verdicts.
package classify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/extract"
	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
	"github.com/sells-group/news-pipeline/internal/understand"
)

// Store is the persistence classification needs.
type Store interface {
	SaveLinkAnalysis(ctx context.Context, a model.LinkAnalysis) error
	SaveBatchAnalysis(ctx context.Context, b model.BatchAnalysis) error
}

// Config tunes a Classifier.
type Config struct {
	// Retries is how many times a failed service call is retried.
	Retries int
	Backoff time.Duration
	// Pause spaces consecutive links.
	Pause time.Duration
	Sleep func(ctx context.Context, d time.Duration) error
}

// Results buckets the links of one classification pass.
type Results struct {
	BatchID    string             `json:"batch_id"`
	WorkflowID string             `json:"workflow_id"`
	Valid      []string           `json:"valid"`
	Invalid    []string           `json:"invalid"`
	Failed     []string           `json:"failed"`
	LinkIDs    map[string]string  `json:"link_ids"`
	Records    []model.LinkRecord `json:"-"`
}

// ValidRecords returns the valid links with their new identifiers.
func (r *Results) ValidRecords() []model.LinkRecord {
	valid := make(map[string]struct{}, len(r.Valid))
	for _, l := range r.Valid {
		valid[l] = struct{}{}
	}
	var out []model.LinkRecord
	for _, rec := range r.Records {
		if _, ok := valid[rec.URL]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Classifier runs classification passes.
type Classifier struct {
	store Store
	asker understand.Client
	cfg   Config
	now   func() time.Time
}

// New creates a Classifier.
func New(store Store, asker understand.Client, cfg Config) *Classifier {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Classifier{store: store, asker: asker, cfg: cfg, now: time.Now}
}

// Classify judges every link under workflowID. Each link gets a fresh
// identifier "<workflowID>_<n>" and a persisted analysis whether or not the
// service answered. Duplicate URLs are judged once. Only an unreachable
// store aborts the pass.
func (c *Classifier) Classify(ctx context.Context, workflowID string, links []model.LinkRecord) (*Results, error) {
	log := zap.L().With(zap.String("stage", "classification"), zap.String("workflow_id", workflowID))

	res := &Results{
		BatchID:    batchIDOf(workflowID, links),
		WorkflowID: workflowID,
		Valid:      []string{},
		Invalid:    []string{},
		Failed:     []string{},
		LinkIDs:    make(map[string]string, len(links)),
	}
	pacer := resilience.NewPacer(c.cfg.Pause)

	n := 0
	for _, link := range links {
		if link.URL == "" {
			continue
		}
		if _, seen := res.LinkIDs[link.URL]; seen {
			continue
		}
		if err := pacer.Wait(ctx); err != nil {
			return res, err
		}
		n++

		link.LinkID = model.SubID(workflowID, n)
		link.WorkflowID = workflowID
		res.LinkIDs[link.URL] = link.LinkID
		res.Records = append(res.Records, link)

		analysis := c.judge(ctx, link)
		pacer.Done()
		if err := c.store.SaveLinkAnalysis(ctx, analysis); err != nil {
			if resilience.KindOf(err) == resilience.StorageTransient {
				return res, eris.Wrapf(err, "classify: save analysis %s", link.LinkID)
			}
			log.Error("save analysis failed", zap.String("link_id", link.LinkID), zap.Error(err))
		}

		switch {
		case analysis.Failed:
			res.Failed = append(res.Failed, link.URL)
		case analysis.IsValid:
			res.Valid = append(res.Valid, link.URL)
		default:
			res.Invalid = append(res.Invalid, link.URL)
		}
		log.Debug("link classified",
			zap.String("link_id", link.LinkID),
			zap.String("link", link.URL),
			zap.Bool("valid", analysis.IsValid),
			zap.Bool("failed", analysis.Failed),
		)
	}

	snapshot := model.BatchAnalysis{
		BatchID:    res.BatchID,
		WorkflowID: workflowID,
		Valid:      res.Valid,
		Invalid:    res.Invalid,
		Failed:     res.Failed,
		LinkIDs:    res.LinkIDs,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.store.SaveBatchAnalysis(ctx, snapshot); err != nil {
		if resilience.KindOf(err) == resilience.StorageTransient {
			return res, eris.Wrap(err, "classify: save batch analysis")
		}
		log.Error("save batch analysis failed", zap.Error(err))
	}

	log.Info("classification finished",
		zap.Int("valid", len(res.Valid)),
		zap.Int("invalid", len(res.Invalid)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// judge asks the service about one link, retrying transient, malformed and
// empty replies within the stage budget. A final failure becomes an invalid
// analysis with zero confidence and the error as reason.
func (c *Classifier) judge(ctx context.Context, link model.LinkRecord) model.LinkAnalysis {
	retry := resilience.FixedRetryConfig(c.cfg.Retries+1, c.cfg.Backoff)
	retry.ShouldRetry = resilience.IsRetryable
	retry.OnRetry = resilience.RetryLogger("understand", "classify")
	retry.Sleep = c.cfg.Sleep

	verdict, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*extract.Verdict, error) {
		reply, err := c.asker.Ask(ctx, understand.AppClassify, link.URL)
		if err != nil {
			return nil, err
		}
		return extract.ParseVerdict(reply.Text)
	})

	now := c.now().UTC()
	a := model.LinkAnalysis{
		LinkID:     link.LinkID,
		URL:        link.URL,
		WorkflowID: link.WorkflowID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err != nil {
		a.Failed = true
		a.Reason = string(resilience.KindOf(err)) + ": " + err.Error()
		return a
	}
	a.IsValid = verdict.NeedCrawl
	a.Confidence = verdict.Confidence
	a.Reason = verdict.Reason
	a.Payload = verdict.Payload
	return a
}

// batchIDOf reuses the discovery batch of the links when they share one.
func batchIDOf(workflowID string, links []model.LinkRecord) string {
	batch := ""
	for _, l := range links {
		if l.BatchID == "" || (batch != "" && l.BatchID != batch) {
			return workflowID
		}
		batch = l.BatchID
	}
	if batch == "" {
		return workflowID
	}
	return batch
}

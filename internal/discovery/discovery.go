// Package discovery finds links that appeared on news homepages since the
// previous pass and records them as new-link batches.
package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
	"github.com/sells-group/news-pipeline/internal/scrape"
)

// Store is the persistence discovery needs.
type Store interface {
	ActiveHomepages(ctx context.Context) ([]model.Homepage, error)
	LinkCache(ctx context.Context, homepage string) ([]string, error)
	AddToLinkCache(ctx context.Context, homepage string, links []string) (int, error)
	SaveNewLinks(ctx context.Context, batch model.NewLinkBatch) error
}

// Config tunes a Discoverer.
type Config struct {
	// Retries is how many times a homepage fetch is retried after a rate
	// limit or timeout.
	Retries int
	// Backoff is the fixed pause between fetch attempts.
	Backoff time.Duration
	// FetchTimeout bounds a single fetch attempt. Zero means no extra bound.
	FetchTimeout    time.Duration
	ExcludePatterns []string
	// Sleep replaces the pause between attempts (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result summarizes one discovery pass.
type Result struct {
	BatchID   string             `json:"batch_id"`
	Links     []model.LinkRecord `json:"links"`
	Homepages int                `json:"homepages"`
	Skipped   []string           `json:"skipped,omitempty"`
}

// PrimeResult summarizes a cache prime.
type PrimeResult struct {
	Homepages int      `json:"homepages"`
	Added     int      `json:"added"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Discoverer runs discovery passes over the active homepages.
type Discoverer struct {
	store  Store
	lister scrape.LinkLister
	filter *Filter
	cfg    Config
	now    func() time.Time
}

// New creates a Discoverer.
func New(store Store, lister scrape.LinkLister, cfg Config) *Discoverer {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Discoverer{
		store:  store,
		lister: lister,
		filter: NewFilter(cfg.ExcludePatterns),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run lists links on every active homepage, diffs them against each
// homepage's cache and saves the new ones under one batch identifier. A
// homepage whose fetch keeps failing is skipped. Only an unreachable store
// aborts the pass.
func (d *Discoverer) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("stage", "discovery"))

	homepages, err := d.store.ActiveHomepages(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: load homepages")
	}

	res := &Result{
		BatchID:   model.NewRunID("batch", d.now()),
		Homepages: len(homepages),
	}
	log.Info("discovery started", zap.Int("homepages", len(homepages)), zap.String("batch_id", res.BatchID))

	for _, hp := range homepages {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		links, err := d.discoverHomepage(ctx, hp, res.BatchID)
		if err != nil {
			if storeDown(err) {
				return res, eris.Wrapf(err, "discovery: homepage %s", hp.URL)
			}
			log.Warn("homepage skipped", zap.String("homepage", hp.URL), zap.Error(err))
			res.Skipped = append(res.Skipped, hp.URL)
			continue
		}
		res.Links = append(res.Links, links...)
	}

	log.Info("discovery finished",
		zap.Int("new_links", len(res.Links)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

func (d *Discoverer) discoverHomepage(ctx context.Context, hp model.Homepage, batchID string) ([]model.LinkRecord, error) {
	current, err := d.fetch(ctx, hp.URL)
	if err != nil {
		return nil, err
	}

	cached, err := d.store.LinkCache(ctx, hp.URL)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: load cache")
	}
	known := make(map[string]struct{}, len(cached))
	for _, l := range cached {
		known[l] = struct{}{}
	}

	var fresh []string
	for _, l := range current {
		if _, ok := known[l]; !ok {
			fresh = append(fresh, l)
		}
	}
	zap.L().Debug("homepage diffed",
		zap.String("homepage", hp.URL),
		zap.Int("current", len(current)),
		zap.Int("cached", len(cached)),
		zap.Int("new", len(fresh)),
	)
	if len(fresh) == 0 {
		return nil, nil
	}

	batch := model.NewLinkBatch{
		BatchID:      batchID,
		Homepage:     hp.URL,
		Source:       hp.Source,
		Note:         hp.Note,
		Links:        fresh,
		DiscoveredAt: d.now().UTC(),
	}
	if err := d.store.SaveNewLinks(ctx, batch); err != nil {
		return nil, eris.Wrap(err, "discovery: save new links")
	}

	records := make([]model.LinkRecord, len(fresh))
	for i, l := range fresh {
		records[i] = model.LinkRecord{
			URL:      l,
			Homepage: hp.URL,
			Source:   hp.Source,
			Note:     hp.Note,
			BatchID:  batchID,
		}
	}
	return records, nil
}

// fetch lists and filters the links of one homepage. Only rate limits and
// timeouts are retried.
func (d *Discoverer) fetch(ctx context.Context, homepage string) ([]string, error) {
	retry := resilience.FixedRetryConfig(d.cfg.Retries+1, d.cfg.Backoff)
	retry.ShouldRetry = resilience.IsRateLimitOrTimeout
	retry.OnRetry = resilience.RetryLogger(d.lister.Name(), "list_links")
	retry.Sleep = d.cfg.Sleep

	raw, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]string, error) {
		if d.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.cfg.FetchTimeout)
			defer cancel()
		}
		return d.lister.ListLinks(ctx, homepage)
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list links")
	}
	return d.filter.Apply(homepage, raw), nil
}

// Prime records the current links of every active homepage in its cache
// without creating a batch, so the next pass reports only links published
// afterwards.
func (d *Discoverer) Prime(ctx context.Context) (*PrimeResult, error) {
	homepages, err := d.store.ActiveHomepages(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: load homepages")
	}

	res := &PrimeResult{Homepages: len(homepages)}
	for _, hp := range homepages {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		links, err := d.fetch(ctx, hp.URL)
		if err == nil {
			var n int
			n, err = d.store.AddToLinkCache(ctx, hp.URL, links)
			res.Added += n
		}
		if err != nil {
			if storeDown(err) {
				return res, eris.Wrapf(err, "discovery: prime %s", hp.URL)
			}
			zap.L().Warn("prime skipped homepage", zap.String("homepage", hp.URL), zap.Error(err))
			res.Skipped = append(res.Skipped, hp.URL)
		}
	}
	return res, nil
}

func storeDown(err error) bool {
	return resilience.KindOf(err) == resilience.StorageTransient
}

package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/classify"
	"github.com/sells-group/news-pipeline/internal/config"
	"github.com/sells-group/news-pipeline/internal/discovery"
	"github.com/sells-group/news-pipeline/internal/extraction"
	"github.com/sells-group/news-pipeline/internal/orchestrator"
	"github.com/sells-group/news-pipeline/internal/scrape"
	"github.com/sells-group/news-pipeline/internal/store"
	"github.com/sells-group/news-pipeline/internal/understand"
	"github.com/sells-group/news-pipeline/pkg/firecrawl"
	"github.com/sells-group/news-pipeline/pkg/jina"
)

// pipelineEnv holds the store and the wired stages needed by the run and
// serve commands.
type pipelineEnv struct {
	Store      store.Store
	Tracker    *orchestrator.Tracker
	Discoverer *discovery.Discoverer
	Engine     *orchestrator.Engine
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// scrapers holds the link-listing and page-fetching chains.
type scrapers struct {
	Links *scrape.LinkChain
	Pages *scrape.FetchChain
}

// buildScrapers wires Jina first, Firecrawl when a key is configured, and
// the local scraper last in both chains.
func buildScrapers(c *config.Config) scrapers {
	timeout := time.Duration(c.Discovery.FetchTimeoutSec) * time.Second

	jinaAdapter := scrape.NewJinaAdapter(jina.NewClient(c.Jina.Key,
		jina.WithBaseURL(c.Jina.BaseURL),
		jina.WithTimeout(timeout),
	))
	local := scrape.NewLocalScraper(timeout)

	listers := []scrape.LinkLister{jinaAdapter}
	fetchers := []scrape.Fetcher{jinaAdapter}
	if c.Firecrawl.Key != "" {
		fc := scrape.NewFirecrawlAdapter(firecrawl.NewClient(c.Firecrawl.Key,
			firecrawl.WithBaseURL(c.Firecrawl.BaseURL),
			firecrawl.WithTimeout(timeout),
		))
		listers = append(listers, fc)
		fetchers = append(fetchers, fc)
	} else {
		zap.L().Debug("NEWS_FIRECRAWL_KEY not set, firecrawl fallback disabled")
	}
	listers = append(listers, local)
	fetchers = append(fetchers, local)

	return scrapers{
		Links: scrape.NewLinkChain(listers...),
		Pages: scrape.NewFetchChain(scrape.NewPathMatcher(c.Discovery.ExcludePatterns), fetchers...),
	}
}

func newDiscoverer(c *config.Config, st discovery.Store, links scrape.LinkLister) *discovery.Discoverer {
	return discovery.New(st, links, discovery.Config{
		Retries:         c.Discovery.Retries,
		Backoff:         time.Duration(c.Pipeline.BackoffSecs) * time.Second,
		FetchTimeout:    time.Duration(c.Discovery.FetchTimeoutSec) * time.Second,
		ExcludePatterns: c.Discovery.ExcludePatterns,
	})
}

// buildEngine wires the stages over st. asker answers the classification
// and extraction prompts.
func buildEngine(c *config.Config, st store.Store, asker understand.Client, sc scrapers) *pipelineEnv {
	backoff := time.Duration(c.Pipeline.BackoffSecs) * time.Second
	pause := time.Duration(c.Pipeline.ItemPauseMs) * time.Millisecond

	tracker := orchestrator.NewTracker(st)
	disc := newDiscoverer(c, st, sc.Links)
	cls := classify.New(st, asker, classify.Config{
		Retries: c.Pipeline.ClassifyRetries,
		Backoff: backoff,
		Pause:   pause,
	})
	ext := extraction.New(st, tracker, asker, sc.Pages, extraction.Config{
		MaxAttempts: c.Pipeline.MaxAttempts,
		Backoff:     backoff,
		Pause:       pause,
	})
	eng := orchestrator.NewEngine(tracker, st, disc, cls, ext, orchestrator.Config{
		ClassifyMaxLinks: c.Pipeline.ClassifyMaxLinks,
		ExtractMaxLinks:  c.Pipeline.ExtractMaxLinks,
	})

	return &pipelineEnv{Store: st, Tracker: tracker, Discoverer: disc, Engine: eng}
}

// initPipeline validates the config for mode, opens the store and builds
// every stage. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	asker, err := understand.New(cfg.Understand, time.Duration(cfg.Pipeline.CallTimeoutSecs)*time.Second)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env := buildEngine(cfg, st, asker, buildScrapers(cfg))
	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("understand", cfg.Understand.Provider),
	)
	return env, nil
}

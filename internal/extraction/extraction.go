// Package extraction turns valid links into structured article records. Each
// link runs under its own sub-run: the understanding service is asked with the
// URL first, and when that path is exhausted the page is fetched and the
// service is asked again with the page text.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/extract"
	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
	"github.com/sells-group/news-pipeline/internal/scrape"
	"github.com/sells-group/news-pipeline/internal/understand"
)

const (
	// maxTitleDetail caps the title recorded in run details.
	maxTitleDetail = 50
	// maxFallbackContent caps the page text sent on the fallback path.
	maxFallbackContent = 20000
)

// Store is the persistence extraction needs.
type Store interface {
	ActiveHomepages(ctx context.Context) ([]model.Homepage, error)
	SaveContent(ctx context.Context, c model.ContentRecord) error
}

// Recorder moves a run through its lifecycle.
type Recorder interface {
	Record(ctx context.Context, runID string, status model.Status, details model.Details, errText string) error
}

// Config tunes an Extractor.
type Config struct {
	// MaxAttempts is the primary attempt budget per link.
	MaxAttempts int
	Backoff     time.Duration
	// Pause spaces consecutive links in a batch.
	Pause time.Duration
	Sleep func(ctx context.Context, d time.Duration) error
}

// ItemResult is the outcome of one link.
type ItemResult struct {
	RunID    string              `json:"workflow_id"`
	LinkID   string              `json:"link_id"`
	URL      string              `json:"link"`
	OK       bool                `json:"ok"`
	Path     resilience.Path     `json:"path"`
	Title    string              `json:"title,omitempty"`
	Attempts int                 `json:"attempts"`
	Taxonomy resilience.Taxonomy `json:"error_kind,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Elapsed  time.Duration       `json:"elapsed"`
}

// BatchResult aggregates an ExtractAll pass.
type BatchResult struct {
	Total     int          `json:"total_links"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

// Extractor runs extraction for single links and batches.
type Extractor struct {
	store    Store
	recorder Recorder
	asker    understand.Client
	fetcher  scrape.Fetcher
	cfg      Config
	now      func() time.Time
}

// New creates an Extractor. A nil fetcher disables the fallback path.
func New(store Store, recorder Recorder, asker understand.Client, fetcher scrape.Fetcher, cfg Config) *Extractor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	return &Extractor{
		store:    store,
		recorder: recorder,
		asker:    asker,
		fetcher:  fetcher,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ExtractAll processes links one after another under parentID, pacing
// consecutive links. Each link gets the sub-run "<parentID>_x<n>". Only an
// unreachable store stops the batch early.
func (e *Extractor) ExtractAll(ctx context.Context, parentID string, links []model.LinkRecord) (*BatchResult, error) {
	log := zap.L().With(zap.String("stage", "extraction"), zap.String("workflow_id", parentID))

	res := &BatchResult{Items: []ItemResult{}}
	homepages, err := e.homepages(ctx)
	if err != nil {
		return res, err
	}

	pacer := resilience.NewPacer(e.cfg.Pause)
	for i, link := range links {
		if err := pacer.Wait(ctx); err != nil {
			return res, err
		}
		if link.LinkID == "" {
			link.LinkID = model.SubID(parentID, i+1)
		}
		item, err := e.extract(ctx, model.ItemRunID(parentID, i+1), parentID, link, homepages)
		pacer.Done()
		if item != nil {
			res.Items = append(res.Items, *item)
			res.Total++
			if item.OK {
				res.Succeeded++
			} else {
				res.Failed++
			}
		}
		if err != nil {
			return res, err
		}
	}

	log.Info("extraction finished",
		zap.Int("total", res.Total),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// ExtractOne processes a single link under runID.
func (e *Extractor) ExtractOne(ctx context.Context, runID string, link model.LinkRecord) (*ItemResult, error) {
	homepages, err := e.homepages(ctx)
	if err != nil {
		return nil, err
	}
	if link.LinkID == "" {
		link.LinkID = runID
	}
	return e.extract(ctx, runID, link.WorkflowID, link, homepages)
}

func (e *Extractor) homepages(ctx context.Context) ([]model.Homepage, error) {
	hps, err := e.store.ActiveHomepages(ctx)
	if err != nil {
		if resilience.KindOf(err) == resilience.StorageTransient {
			return nil, eris.Wrap(err, "extraction: load homepages")
		}
		zap.L().Warn("extraction: homepages unavailable, records will carry no homepage", zap.Error(err))
	}
	return hps, nil
}

func (e *Extractor) extract(ctx context.Context, runID, parentID string, link model.LinkRecord, homepages []model.Homepage) (*ItemResult, error) {
	log := zap.L().With(
		zap.String("stage", "extraction"),
		zap.String("workflow_id", runID),
		zap.String("link_id", link.LinkID),
	)

	start := model.Details{
		model.DetailLink:   link.URL,
		model.DetailLinkID: link.LinkID,
	}
	if parentID != "" && parentID != runID {
		start[model.DetailParentWorkflowID] = parentID
	}
	if err := e.record(ctx, runID, model.StatusStarted, start, ""); err != nil {
		return nil, err
	}
	if err := e.record(ctx, runID, model.StatusProcessing, nil, ""); err != nil {
		return nil, err
	}

	hp := ResolveHomepage(link.URL, homepages)
	outcome := resilience.Run(ctx, e.controller(), e.primary(link), e.fallback(link))

	item := &ItemResult{
		RunID:    runID,
		LinkID:   link.LinkID,
		URL:      link.URL,
		OK:       outcome.OK,
		Path:     outcome.Path,
		Attempts: outcome.Attempts,
		Taxonomy: outcome.Taxonomy,
		Reason:   outcome.Reason,
		Elapsed:  outcome.Elapsed,
	}

	record := model.ContentRecord{
		LinkID:     link.LinkID,
		URL:        link.URL,
		WorkflowID: runID,
		Importance: model.ImportanceLow,
		CreatedAt:  e.now().UTC(),
	}
	if hp != nil {
		record.Homepage = hp.URL
		record.Source = hp.Source
	} else {
		record.Homepage = link.Homepage
		record.Source = link.Source
	}

	if outcome.OK {
		a := outcome.Value
		item.Title = a.Title
		record.Title = a.Title
		record.Content = a.Content
		record.EventTags = a.EventTags
		record.SpaceTags = a.SpaceTags
		record.CategoryTags = a.CategoryTags
		record.ImpactTags = a.ImpactTags
		record.PublishTime = a.PublishTime
		record.Importance = model.ParseImportance(a.Importance)
		record.State = mergeStates([]string{model.StateExtractionSucceeded, pathState(outcome.Path)}, a.State)
	} else {
		stage := string(resilience.PathPrimary)
		if outcome.FallbackUsed {
			stage = string(resilience.PathFallback)
		}
		record.State = []string{model.FailedState(stage)}
	}

	if err := e.store.SaveContent(ctx, record); err != nil {
		if resilience.KindOf(err) == resilience.StorageTransient {
			return item, eris.Wrapf(err, "extraction: save content %s", link.LinkID)
		}
		log.Error("save content failed", zap.Error(err))
		if outcome.OK {
			item.OK = false
			item.Taxonomy = resilience.KindOf(err)
			item.Reason = err.Error()
		}
	}

	if item.OK {
		log.Info("link extracted",
			zap.String("path", string(outcome.Path)),
			zap.Int("attempts", outcome.Attempts),
			zap.Duration("elapsed", outcome.Elapsed),
		)
		return item, e.record(ctx, runID, model.StatusCompleted, model.Details{
			model.DetailTitle:     TruncateTitle(item.Title),
			model.DetailElapsedMs: outcome.Elapsed.Milliseconds(),
			model.DetailPath:      string(outcome.Path),
		}, "")
	}

	log.Warn("link extraction failed",
		zap.String("error_kind", string(item.Taxonomy)),
		zap.String("reason", item.Reason),
	)
	return item, e.record(ctx, runID, model.StatusFailed, model.Details{
		model.DetailErrorKind: string(item.Taxonomy),
		model.DetailElapsedMs: outcome.Elapsed.Milliseconds(),
		model.DetailLink:      link.URL,
	}, item.Reason)
}

func (e *Extractor) record(ctx context.Context, runID string, status model.Status, details model.Details, errText string) error {
	if e.recorder == nil {
		return nil
	}
	err := e.recorder.Record(ctx, runID, status, details, errText)
	if err == nil {
		return nil
	}
	if resilience.KindOf(err) == resilience.StorageTransient {
		return eris.Wrapf(err, "extraction: record %s %s", runID, status)
	}
	zap.L().Error("extraction: record status failed",
		zap.String("workflow_id", runID),
		zap.String("status", string(status)),
		zap.Error(err),
	)
	return nil
}

func (e *Extractor) controller() *resilience.Controller {
	c := resilience.NewController("extraction", e.cfg.MaxAttempts, e.cfg.Backoff)
	c.Sleep = e.cfg.Sleep
	return c
}

// primary asks the extraction app with the bare URL.
func (e *Extractor) primary(link model.LinkRecord) resilience.Unit[*extract.Article] {
	return func(ctx context.Context) resilience.Result[*extract.Article] {
		return e.ask(ctx, link.URL)
	}
}

// fallback fetches the page and asks again with its text. It runs once.
func (e *Extractor) fallback(link model.LinkRecord) resilience.Unit[*extract.Article] {
	if e.fetcher == nil {
		return nil
	}
	return func(ctx context.Context) resilience.Result[*extract.Article] {
		page, err := e.fetcher.Fetch(ctx, link.URL)
		if err != nil {
			return resilience.Fail[*extract.Article](fetchKind(err), err.Error())
		}
		res := e.ask(ctx, fallbackPrompt(link.URL, page))
		if res.Kind == resilience.KindOK && res.Value.Title == "" {
			res.Value.Title = page.Title
		}
		return res
	}
}

func (e *Extractor) ask(ctx context.Context, prompt string) resilience.Result[*extract.Article] {
	reply, err := e.asker.Ask(ctx, understand.AppExtract, prompt)
	if err != nil {
		return resilience.FromError[*extract.Article](nil, err)
	}
	a, err := extract.ParseArticle(reply.Text, e.now())
	return resilience.FromError(a, err)
}

func fetchKind(err error) resilience.Taxonomy {
	if k := resilience.KindOf(err); k != resilience.Unknown {
		return k
	}
	return resilience.TransientService
}

func fallbackPrompt(url string, page *scrape.Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", url)
	if page.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", page.Title)
	}
	b.WriteString("\n")
	b.WriteString(truncateRunes(page.Content, maxFallbackContent))
	return b.String()
}

func pathState(p resilience.Path) string {
	if p == resilience.PathFallback {
		return model.StatePathFallback
	}
	return model.StatePathPrimary
}

func mergeStates(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(base, extra...) {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// TruncateTitle shortens a title to the length recorded in run details.
func TruncateTitle(title string) string {
	return truncateRunes(title, maxTitleDetail)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

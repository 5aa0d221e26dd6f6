package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/classify"
	"github.com/sells-group/news-pipeline/internal/discovery"
	"github.com/sells-group/news-pipeline/internal/extraction"
	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
)

// Discoverer runs a discovery pass.
type Discoverer interface {
	Run(ctx context.Context) (*discovery.Result, error)
}

// Classifier judges links under a workflow.
type Classifier interface {
	Classify(ctx context.Context, workflowID string, links []model.LinkRecord) (*classify.Results, error)
}

// Extractor extracts links one by one under a parent workflow.
type Extractor interface {
	ExtractAll(ctx context.Context, parentID string, links []model.LinkRecord) (*extraction.BatchResult, error)
}

// LinkSource supplies the links workflows pick up from earlier passes.
type LinkSource interface {
	LatestNewLinks(ctx context.Context, max int) ([]model.LinkRecord, error)
	LatestValidLinks(ctx context.Context, max int) ([]model.LinkRecord, error)
	FailedAnalyses(ctx context.Context, limit int) ([]model.LinkAnalysis, error)
}

// Config holds workflow defaults.
type Config struct {
	ClassifyMaxLinks int
	ExtractMaxLinks  int
	ReanalyzeLimit   int
}

// Messages recorded when a workflow has nothing to do.
const (
	MsgNoNewLinks    = "no new links discovered"
	MsgNoLinks       = "no links to classify"
	MsgNoValidLinks  = "no valid links to extract"
	MsgNoFailedLinks = "no failed links to reanalyze"
)

// Engine executes workflows and records every transition through a Tracker.
type Engine struct {
	tracker  *Tracker
	links    LinkSource
	discover Discoverer
	classify Classifier
	extract  Extractor
	cfg      Config
}

// NewEngine wires the stages into an Engine.
func NewEngine(tracker *Tracker, links LinkSource, d Discoverer, c Classifier, x Extractor, cfg Config) *Engine {
	if cfg.ClassifyMaxLinks <= 0 {
		cfg.ClassifyMaxLinks = 50
	}
	if cfg.ExtractMaxLinks <= 0 {
		cfg.ExtractMaxLinks = 10
	}
	if cfg.ReanalyzeLimit <= 0 {
		cfg.ReanalyzeLimit = 100
	}
	return &Engine{tracker: tracker, links: links, discover: d, classify: c, extract: x, cfg: cfg}
}

// Execute runs t to completion. A panic inside a workflow is recovered and
// recorded as a failure of the run.
func (e *Engine) Execute(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("orchestrator: task %s panicked: %v", t.Kind, r)
			zap.L().Error("task panicked",
				zap.String("workflow_id", t.RunID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			e.fail(ctx, t.RunID, err)
		}
	}()

	switch t.Kind {
	case TaskDiscover:
		_, err = e.Discover(ctx, t.RunID)
	case TaskClassify:
		_, err = e.Classify(ctx, t.RunID, linkRecords(t.Links))
	case TaskClassifyLatest:
		_, err = e.ClassifyLatest(ctx, t.RunID, t.MaxLinks)
	case TaskExtract:
		_, err = e.Extract(ctx, t.RunID, linkRecords(t.Links), t.MaxLinks)
	case TaskFullChain:
		_, err = e.FullChain(ctx, t.RunID)
	case TaskExtendedChain:
		_, err = e.ExtendedChain(ctx, t.RunID)
	case TaskReanalyze:
		_, err = e.Reanalyze(ctx, t.RunID, t.MaxLinks)
	default:
		err = eris.Errorf("orchestrator: unknown task %q", t.Kind)
	}
	return err
}

// Discover runs discovery only. The run stops at SCRAPED with the number of
// new links, or goes straight to COMPLETED when there are none.
func (e *Engine) Discover(ctx context.Context, runID string) (*discovery.Result, error) {
	if err := e.start(ctx, runID, TaskDiscover, nil); err != nil {
		return nil, err
	}
	res, err := e.runDiscovery(ctx, runID)
	if err != nil {
		return res, err
	}
	if len(res.Links) == 0 {
		return res, e.complete(ctx, runID, model.Details{model.DetailMessage: MsgNoNewLinks})
	}
	e.tracker.forget(runID)
	return res, nil
}

// Classify judges the given links under runID.
func (e *Engine) Classify(ctx context.Context, runID string, links []model.LinkRecord) (*classify.Results, error) {
	if err := e.start(ctx, runID, TaskClassify, model.Details{model.DetailLinksCount: len(links)}); err != nil {
		return nil, err
	}
	return e.classifyAndComplete(ctx, runID, links, MsgNoLinks)
}

// ClassifyLatest judges up to max links from the most recent discovery
// batches. A non-positive max uses the configured default.
func (e *Engine) ClassifyLatest(ctx context.Context, runID string, max int) (*classify.Results, error) {
	if max <= 0 {
		max = e.cfg.ClassifyMaxLinks
	}
	if err := e.start(ctx, runID, TaskClassifyLatest, nil); err != nil {
		return nil, err
	}
	links, err := e.links.LatestNewLinks(ctx, max)
	if err != nil {
		return nil, e.fail(ctx, runID, eris.Wrap(err, "orchestrator: load latest links"))
	}
	return e.classifyAndComplete(ctx, runID, links, MsgNoLinks)
}

// Reanalyze classifies again up to limit links whose last analysis failed.
// Each gets a new link identifier under runID.
func (e *Engine) Reanalyze(ctx context.Context, runID string, limit int) (*classify.Results, error) {
	if limit <= 0 {
		limit = e.cfg.ReanalyzeLimit
	}
	if err := e.start(ctx, runID, TaskReanalyze, nil); err != nil {
		return nil, err
	}
	failed, err := e.links.FailedAnalyses(ctx, limit)
	if err != nil {
		return nil, e.fail(ctx, runID, eris.Wrap(err, "orchestrator: load failed analyses"))
	}
	links := make([]model.LinkRecord, 0, len(failed))
	for _, a := range failed {
		links = append(links, model.LinkRecord{URL: a.URL})
	}
	return e.classifyAndComplete(ctx, runID, links, MsgNoFailedLinks)
}

// Extract processes up to max links. With no links given, the most recent
// valid links without content are used.
func (e *Engine) Extract(ctx context.Context, runID string, links []model.LinkRecord, max int) (*extraction.BatchResult, error) {
	if max <= 0 {
		max = e.cfg.ExtractMaxLinks
	}
	if err := e.start(ctx, runID, TaskExtract, nil); err != nil {
		return nil, err
	}
	if len(links) == 0 {
		var err error
		links, err = e.links.LatestValidLinks(ctx, max)
		if err != nil {
			return nil, e.fail(ctx, runID, eris.Wrap(err, "orchestrator: load valid links"))
		}
	}
	if len(links) > max {
		links = links[:max]
	}
	if len(links) == 0 {
		return &extraction.BatchResult{Items: []extraction.ItemResult{}},
			e.complete(ctx, runID, model.Details{model.DetailMessage: MsgNoValidLinks})
	}

	res, err := e.runExtraction(ctx, runID, links)
	if err != nil {
		return res, err
	}
	return res, e.complete(ctx, runID, extractionDetails(res))
}

// FullChain runs discovery then classification under one run.
func (e *Engine) FullChain(ctx context.Context, runID string) (*classify.Results, error) {
	if err := e.start(ctx, runID, TaskFullChain, nil); err != nil {
		return nil, err
	}
	found, err := e.runDiscovery(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(found.Links) == 0 {
		return nil, e.complete(ctx, runID, model.Details{model.DetailMessage: MsgNoNewLinks})
	}

	res, err := e.runClassification(ctx, runID, found.Links)
	if err != nil {
		return res, err
	}
	return res, e.complete(ctx, runID, classificationDetails(res))
}

// ChainSummary aggregates the three stages of an extended chain.
type ChainSummary struct {
	LinksFound int                     `json:"step1_links_found"`
	ValidLinks int                     `json:"step2_valid_links"`
	Results    *extraction.BatchResult `json:"step3_results,omitempty"`
}

// ExtendedChain runs discovery, classification and extraction of the valid
// links under one run and records all three summaries on completion.
func (e *Engine) ExtendedChain(ctx context.Context, runID string) (*ChainSummary, error) {
	if err := e.start(ctx, runID, TaskExtendedChain, nil); err != nil {
		return nil, err
	}
	summary := &ChainSummary{}

	found, err := e.runDiscovery(ctx, runID)
	if err != nil {
		return summary, err
	}
	summary.LinksFound = len(found.Links)
	if summary.LinksFound == 0 {
		return summary, e.complete(ctx, runID, model.Details{
			model.DetailMessage:         MsgNoNewLinks,
			model.DetailStep1LinksFound: 0,
		})
	}

	classified, err := e.runClassification(ctx, runID, found.Links)
	if err != nil {
		return summary, err
	}
	valid := classified.ValidRecords()
	summary.ValidLinks = len(valid)
	if summary.ValidLinks == 0 {
		return summary, e.complete(ctx, runID, model.Details{
			model.DetailMessage:         MsgNoValidLinks,
			model.DetailStep1LinksFound: summary.LinksFound,
			model.DetailStep2ValidLinks: 0,
		})
	}

	results, err := e.runExtraction(ctx, runID, valid)
	summary.Results = results
	if err != nil {
		return summary, err
	}
	return summary, e.complete(ctx, runID, model.Details{
		model.DetailStep1LinksFound: summary.LinksFound,
		model.DetailStep2ValidLinks: summary.ValidLinks,
		model.DetailStep3Results:    extractionDetails(results),
	})
}

func (e *Engine) runDiscovery(ctx context.Context, runID string) (*discovery.Result, error) {
	if err := e.tracker.Record(ctx, runID, model.StatusScraping, nil, ""); err != nil {
		return nil, e.fail(ctx, runID, err)
	}
	res, err := e.discover.Run(ctx)
	if err != nil {
		return res, e.fail(ctx, runID, eris.Wrap(err, "orchestrator: discovery"))
	}
	for i := range res.Links {
		res.Links[i].WorkflowID = runID
	}
	details := model.Details{
		model.DetailLinksFound: len(res.Links),
		model.DetailBatchID:    res.BatchID,
		model.DetailHomepages:  res.Homepages,
	}
	if len(res.Skipped) > 0 {
		details[model.DetailSkipped] = res.Skipped
	}
	if err := e.tracker.Record(ctx, runID, model.StatusScraped, details, ""); err != nil {
		return res, e.fail(ctx, runID, err)
	}
	return res, nil
}

func (e *Engine) classifyAndComplete(ctx context.Context, runID string, links []model.LinkRecord, emptyMsg string) (*classify.Results, error) {
	if len(links) == 0 {
		return nil, e.complete(ctx, runID, model.Details{model.DetailMessage: emptyMsg})
	}
	res, err := e.runClassification(ctx, runID, links)
	if err != nil {
		return res, err
	}
	return res, e.complete(ctx, runID, classificationDetails(res))
}

func (e *Engine) runClassification(ctx context.Context, runID string, links []model.LinkRecord) (*classify.Results, error) {
	if err := e.tracker.Record(ctx, runID, model.StatusAnalyzing, model.Details{model.DetailLinksCount: len(links)}, ""); err != nil {
		return nil, e.fail(ctx, runID, err)
	}
	res, err := e.classify.Classify(ctx, runID, links)
	if err != nil {
		return res, e.fail(ctx, runID, eris.Wrap(err, "orchestrator: classification"))
	}
	if err := e.tracker.Record(ctx, runID, model.StatusAnalyzed, classificationDetails(res), ""); err != nil {
		return res, e.fail(ctx, runID, err)
	}
	return res, nil
}

func (e *Engine) runExtraction(ctx context.Context, runID string, links []model.LinkRecord) (*extraction.BatchResult, error) {
	for i := range links {
		if links[i].LinkID == "" {
			links[i].LinkID = model.SubID(runID, i+1)
		}
		if links[i].WorkflowID == "" {
			links[i].WorkflowID = runID
		}
	}
	if err := e.tracker.Record(ctx, runID, model.StatusProcessing, model.Details{model.DetailTotalLinks: len(links)}, ""); err != nil {
		return nil, e.fail(ctx, runID, err)
	}
	res, err := e.extract.ExtractAll(ctx, runID, links)
	if err != nil {
		return res, e.fail(ctx, runID, eris.Wrap(err, "orchestrator: extraction"))
	}
	return res, nil
}

func (e *Engine) start(ctx context.Context, runID string, kind TaskKind, details model.Details) error {
	if details == nil {
		details = model.Details{}
	}
	details[model.DetailTask] = string(kind)
	zap.L().Info("workflow started", zap.String("workflow_id", runID), zap.String("task", string(kind)))
	if err := e.tracker.Record(ctx, runID, model.StatusStarted, details, ""); err != nil {
		return eris.Wrapf(err, "orchestrator: start %s", runID)
	}
	return nil
}

func (e *Engine) complete(ctx context.Context, runID string, details model.Details) error {
	if err := e.tracker.Record(ctx, runID, model.StatusCompleted, details, ""); err != nil {
		return e.fail(ctx, runID, err)
	}
	zap.L().Info("workflow completed", zap.String("workflow_id", runID))
	return nil
}

// fail records FAILED with the error taxonomy and returns cause. When the
// store cannot take the record either, the run stays at its last status.
func (e *Engine) fail(ctx context.Context, runID string, cause error) error {
	kind := resilience.KindOf(cause)
	zap.L().Error("workflow failed",
		zap.String("workflow_id", runID),
		zap.String("error_kind", string(kind)),
		zap.Error(cause),
	)
	if err := e.tracker.Record(ctx, runID, model.StatusFailed, model.Details{
		model.DetailErrorKind: string(kind),
	}, cause.Error()); err != nil {
		zap.L().Error("could not record failure", zap.String("workflow_id", runID), zap.Error(err))
	}
	return cause
}

func classificationDetails(res *classify.Results) model.Details {
	if res == nil {
		return nil
	}
	return model.Details{
		model.DetailBatchID:      res.BatchID,
		model.DetailValidCount:   len(res.Valid),
		model.DetailInvalidCount: len(res.Invalid),
		model.DetailFailedCount:  len(res.Failed),
	}
}

func extractionDetails(res *extraction.BatchResult) model.Details {
	if res == nil {
		return nil
	}
	return model.Details{
		model.DetailTotalLinks: res.Total,
		model.DetailSucceeded:  res.Succeeded,
		model.DetailFailed:     res.Failed,
	}
}

// linkRecords turns caller-supplied URLs into link records, dropping blanks
// and duplicates.
func linkRecords(urls []string) []model.LinkRecord {
	seen := make(map[string]struct{}, len(urls))
	out := make([]model.LinkRecord, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, model.LinkRecord{URL: u})
	}
	return out
}

// NewTaskID builds the run identifier for a task of kind started at now.
func NewTaskID(kind TaskKind, now time.Time) string {
	return model.NewRunID(fmt.Sprintf("workflow_%s", taskPrefix(kind)), now)
}

func taskPrefix(kind TaskKind) string {
	switch kind {
	case TaskClassifyLatest:
		return "latest"
	case TaskFullChain:
		return "full"
	case TaskExtendedChain:
		return "extended"
	default:
		return string(kind)
	}
}

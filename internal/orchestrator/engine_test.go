package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/news-pipeline/internal/discovery"
	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
)

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

type engineFixture struct {
	runs  *memRuns
	disc  *stubDiscoverer
	cls   *stubClassifier
	ext   *stubExtractor
	links *stubLinks
	eng   *Engine
}

func newEngineFixture(found ...string) *engineFixture {
	f := &engineFixture{
		runs:  newMemRuns(),
		disc:  &stubDiscoverer{res: &discovery.Result{BatchID: "batch_1", Homepages: 1}},
		cls:   &stubClassifier{valid: map[string]bool{}},
		ext:   &stubExtractor{},
		links: &stubLinks{},
	}
	for _, u := range found {
		f.disc.res.Links = append(f.disc.res.Links, model.LinkRecord{URL: u, BatchID: "batch_1"})
	}
	f.eng = NewEngine(NewTracker(f.runs), f.links, f.disc, f.cls, f.ext, Config{})
	return f
}

func TestEngine_DiscoverStopsAtScraped(t *testing.T) {
	f := newEngineFixture("https://n.test/a", "https://n.test/b")

	res, err := f.eng.Discover(context.Background(), "wf")
	require.NoError(t, err)
	assert.Len(t, res.Links, 2)
	assert.Equal(t, "wf", res.Links[0].WorkflowID)

	assert.Equal(t, []model.Status{model.StatusStarted, model.StatusScraping, model.StatusScraped}, f.runs.statuses("wf"))
	run := f.runs.run("wf")
	assert.Equal(t, 2, run.Details[model.DetailLinksFound])
	assert.Equal(t, "batch_1", run.Details[model.DetailBatchID])
	assert.Equal(t, "discover", run.Details[model.DetailTask])
}

func TestEngine_ZeroLinksCompletesImmediately(t *testing.T) {
	for _, kind := range []TaskKind{TaskDiscover, TaskFullChain, TaskExtendedChain} {
		t.Run(string(kind), func(t *testing.T) {
			f := newEngineFixture()
			require.NoError(t, f.eng.Execute(context.Background(), Task{Kind: kind, RunID: "wf"}))

			assert.Equal(t, []model.Status{
				model.StatusStarted, model.StatusScraping, model.StatusScraped, model.StatusCompleted,
			}, f.runs.statuses("wf"))
			assert.Equal(t, MsgNoNewLinks, f.runs.run("wf").Details[model.DetailMessage])
			assert.Empty(t, f.cls.seen)
		})
	}
}

func TestEngine_FullChain(t *testing.T) {
	f := newEngineFixture("https://n.test/a", "https://n.test/b")
	f.cls.valid["https://n.test/a"] = true

	res, err := f.eng.FullChain(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://n.test/a"}, res.Valid)

	assert.Equal(t, []model.Status{
		model.StatusStarted, model.StatusScraping, model.StatusScraped,
		model.StatusAnalyzing, model.StatusAnalyzed, model.StatusCompleted,
	}, f.runs.statuses("wf"))
	run := f.runs.run("wf")
	assert.Equal(t, 1, run.Details[model.DetailValidCount])
	assert.Equal(t, 1, run.Details[model.DetailInvalidCount])
	assert.Empty(t, f.ext.seen)
}

func TestEngine_ExtendedChain(t *testing.T) {
	f := newEngineFixture("https://n.test/a", "https://n.test/b")
	f.cls.valid["https://n.test/a"] = true

	summary, err := f.eng.ExtendedChain(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.LinksFound)
	assert.Equal(t, 1, summary.ValidLinks)
	require.NotNil(t, summary.Results)
	assert.Equal(t, 1, summary.Results.Succeeded)

	require.Len(t, f.ext.seen, 1)
	assert.Equal(t, "https://n.test/a", f.ext.seen[0].URL)
	assert.Equal(t, "wf_1", f.ext.seen[0].LinkID)

	assert.Equal(t, []model.Status{
		model.StatusStarted, model.StatusScraping, model.StatusScraped,
		model.StatusAnalyzing, model.StatusAnalyzed, model.StatusProcessing, model.StatusCompleted,
	}, f.runs.statuses("wf"))
	run := f.runs.run("wf")
	assert.Equal(t, 2, run.Details[model.DetailStep1LinksFound])
	assert.Equal(t, 1, run.Details[model.DetailStep2ValidLinks])
	step3, ok := run.Details[model.DetailStep3Results].(model.Details)
	require.True(t, ok)
	assert.Equal(t, 1, step3[model.DetailSucceeded])
}

func TestEngine_ExtendedChainNoValidLinks(t *testing.T) {
	f := newEngineFixture("https://n.test/a")

	summary, err := f.eng.ExtendedChain(context.Background(), "wf")
	require.NoError(t, err)
	assert.Zero(t, summary.ValidLinks)
	assert.Empty(t, f.ext.seen)
	assert.Equal(t, MsgNoValidLinks, f.runs.run("wf").Details[model.DetailMessage])
	assert.Equal(t, model.StatusCompleted, f.runs.run("wf").CurrentStatus)
}

func TestEngine_StoreDownFailsRun(t *testing.T) {
	f := newEngineFixture()
	f.disc.err = resilience.Tag(resilience.StorageTransient, errors.New("pool exhausted"))

	err := f.eng.Execute(context.Background(), Task{Kind: TaskFullChain, RunID: "wf"})
	require.Error(t, err)

	run := f.runs.run("wf")
	assert.Equal(t, model.StatusFailed, run.CurrentStatus)
	assert.Equal(t, string(resilience.StorageTransient), run.Details[model.DetailErrorKind])
	assert.Contains(t, run.LastError(), "pool exhausted")
}

func TestEngine_ClassifyGivenLinks(t *testing.T) {
	f := newEngineFixture()
	f.cls.valid["https://n.test/a"] = true

	err := f.eng.Execute(context.Background(), Task{
		Kind:  TaskClassify,
		RunID: "wf",
		Links: []string{"https://n.test/a", " https://n.test/a ", "", "https://n.test/b"},
	})
	require.NoError(t, err)
	require.Len(t, f.cls.seen, 1)
	assert.Len(t, f.cls.seen[0], 2)
	assert.Equal(t, []model.Status{
		model.StatusStarted, model.StatusAnalyzing, model.StatusAnalyzed, model.StatusCompleted,
	}, f.runs.statuses("wf"))
	assert.Equal(t, 2, f.runs.run("wf").Details[model.DetailLinksCount])
}

func TestEngine_ClassifyLatestUsesDefaultMax(t *testing.T) {
	f := newEngineFixture()
	f.links.newLinks = []model.LinkRecord{{URL: "https://n.test/a"}}

	_, err := f.eng.ClassifyLatest(context.Background(), "wf", 0)
	require.NoError(t, err)
	assert.Equal(t, 50, f.links.lastMax)
	assert.Len(t, f.cls.seen, 1)
}

func TestEngine_ExtractFromStore(t *testing.T) {
	f := newEngineFixture()
	f.links.validLinks = []model.LinkRecord{
		{LinkID: "old_1", URL: "https://n.test/a", WorkflowID: "old"},
		{LinkID: "old_2", URL: "https://n.test/b", WorkflowID: "old"},
	}

	res, err := f.eng.Extract(context.Background(), "wf", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.links.lastMax)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "old_1", f.ext.seen[0].LinkID)

	run := f.runs.run("wf")
	assert.Equal(t, []model.Status{model.StatusStarted, model.StatusProcessing, model.StatusCompleted}, f.runs.statuses("wf"))
	assert.Equal(t, 1, run.Details[model.DetailSucceeded])
}

func TestEngine_ExtractGivenURLsGetLinkIDs(t *testing.T) {
	f := newEngineFixture()

	err := f.eng.Execute(context.Background(), Task{Kind: TaskExtract, RunID: "wf", Links: []string{"https://n.test/a"}})
	require.NoError(t, err)
	require.Len(t, f.ext.seen, 1)
	assert.Equal(t, "wf_1", f.ext.seen[0].LinkID)
	assert.Equal(t, "wf", f.ext.seen[0].WorkflowID)
}

func TestEngine_ExtractNothingToDo(t *testing.T) {
	f := newEngineFixture()

	_, err := f.eng.Extract(context.Background(), "wf", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, MsgNoValidLinks, f.runs.run("wf").Details[model.DetailMessage])
	assert.Equal(t, model.StatusCompleted, f.runs.run("wf").CurrentStatus)
}

func TestEngine_Reanalyze(t *testing.T) {
	f := newEngineFixture()
	f.links.failed = []model.LinkAnalysis{
		{LinkID: "old_1", URL: "https://n.test/a", Failed: true},
		{LinkID: "old_2", URL: "https://n.test/b", Failed: true},
	}

	res, err := f.eng.Reanalyze(context.Background(), "wf", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, f.links.lastMax)
	assert.Equal(t, "wf_1", res.LinkIDs["https://n.test/a"])
	assert.Equal(t, "reanalyze", f.runs.run("wf").Details[model.DetailTask])
}

func TestEngine_ReanalyzeNothingFailed(t *testing.T) {
	f := newEngineFixture()

	_, err := f.eng.Reanalyze(context.Background(), "wf", 0)
	require.NoError(t, err)
	assert.Equal(t, MsgNoFailedLinks, f.runs.run("wf").Details[model.DetailMessage])
}

func TestEngine_PanicRecordedAsFailure(t *testing.T) {
	f := newEngineFixture()
	f.cls.panic = true

	err := f.eng.Execute(context.Background(), Task{Kind: TaskClassify, RunID: "wf", Links: []string{"https://n.test/a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, model.StatusFailed, f.runs.run("wf").CurrentStatus)
}

func TestEngine_UnknownTask(t *testing.T) {
	f := newEngineFixture()
	require.Error(t, f.eng.Execute(context.Background(), Task{Kind: "bogus", RunID: "wf"}))
}

func TestEngine_ReusedRunIDRefused(t *testing.T) {
	f := newEngineFixture()
	require.NoError(t, f.eng.Execute(context.Background(), Task{Kind: TaskDiscover, RunID: "wf"}))

	err := f.eng.Execute(context.Background(), Task{Kind: TaskDiscover, RunID: "wf"})
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, 1, f.disc.calls)
}

func TestNewTaskID(t *testing.T) {
	id := NewTaskID(TaskExtendedChain, fixedNow)
	assert.Regexp(t, `^workflow_extended_20261018090000_[0-9a-f]{8}$`, id)
	assert.LessOrEqual(t, len(id), model.MaxRunIDLength)

	assert.Regexp(t, `^workflow_latest_`, NewTaskID(TaskClassifyLatest, fixedNow))
	assert.Regexp(t, `^workflow_discover_`, NewTaskID(TaskDiscover, fixedNow))
}

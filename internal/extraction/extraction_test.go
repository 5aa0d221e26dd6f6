package extraction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/resilience"
	"github.com/sells-group/news-pipeline/internal/scrape"
	"github.com/sells-group/news-pipeline/internal/understand"
)

const articleReply = `{"title": "Port reopens after storm", "content": "Line one\nLine two", "event_tags": ["storm"], "importance": "high", "publish_time": "2026-10-17 08:30:00"}`

type askFunc func(prompt string) (string, error)

type fakeAsker struct {
	mu      sync.Mutex
	fn      askFunc
	prompts []string
}

func (f *fakeAsker) Ask(_ context.Context, app understand.App, prompt string) (*understand.Reply, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if app != understand.AppExtract {
		return nil, errors.New("wrong app")
	}
	text, err := f.fn(prompt)
	if err != nil {
		return nil, err
	}
	return &understand.Reply{Text: text}, nil
}

func (f *fakeAsker) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	page  *scrape.Page
	err   error
	calls int
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p := *f.page
	p.URL = url
	return &p, nil
}

type memStore struct {
	homepages []model.Homepage
	contents  map[string]model.ContentRecord
	saveErr   error
}

func newMemStore() *memStore {
	return &memStore{
		homepages: []model.Homepage{{URL: "https://news.example.com/", Source: "Example News", Active: true}},
		contents:  map[string]model.ContentRecord{},
	}
}

func (m *memStore) ActiveHomepages(context.Context) ([]model.Homepage, error) {
	return m.homepages, nil
}

func (m *memStore) SaveContent(_ context.Context, c model.ContentRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.contents[c.LinkID] = c
	return nil
}

type transition struct {
	status  model.Status
	details model.Details
	errText string
}

type memRecorder struct {
	runs map[string][]transition
}

func newMemRecorder() *memRecorder { return &memRecorder{runs: map[string][]transition{}} }

func (r *memRecorder) Record(_ context.Context, runID string, status model.Status, details model.Details, errText string) error {
	r.runs[runID] = append(r.runs[runID], transition{status: status, details: details, errText: errText})
	return nil
}

func (r *memRecorder) statuses(runID string) []model.Status {
	var out []model.Status
	for _, t := range r.runs[runID] {
		out = append(out, t.status)
	}
	return out
}

func (r *memRecorder) last(runID string) transition {
	ts := r.runs[runID]
	return ts[len(ts)-1]
}

var sleeps int

func countSleep(_ context.Context, _ time.Duration) error {
	sleeps++
	return nil
}

func newTestExtractor(st Store, rec Recorder, asker understand.Client, fetcher scrape.Fetcher) *Extractor {
	e := New(st, rec, asker, fetcher, Config{MaxAttempts: 2, Backoff: 5 * time.Second, Sleep: countSleep})
	e.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	return e
}

func link(id, url string) model.LinkRecord {
	return model.LinkRecord{LinkID: id, URL: url, WorkflowID: "wf1"}
}

func TestExtractOne_PrimarySuccess(t *testing.T) {
	st := newMemStore()
	rec := newMemRecorder()
	asker := &fakeAsker{fn: func(string) (string, error) { return articleReply, nil }}
	fetcher := &fakeFetcher{page: &scrape.Page{Content: "unused"}}

	item, err := newTestExtractor(st, rec, asker, fetcher).
		ExtractOne(context.Background(), "run1", link("wf1_1", "https://news.example.com/2026/port"))
	require.NoError(t, err)

	assert.True(t, item.OK)
	assert.Equal(t, resilience.PathPrimary, item.Path)
	assert.Equal(t, 1, item.Attempts)
	assert.Zero(t, fetcher.calls)

	c := st.contents["wf1_1"]
	assert.Equal(t, "Port reopens after storm", c.Title)
	assert.Equal(t, `Line one\nLine two`, c.Content)
	assert.Equal(t, model.ImportanceHigh, c.Importance)
	assert.Equal(t, "2026-10-17", c.PublishTime)
	assert.Equal(t, []string{model.StateExtractionSucceeded, model.StatePathPrimary}, c.State)
	assert.Equal(t, "https://news.example.com/", c.Homepage)
	assert.Equal(t, "Example News", c.Source)

	assert.Equal(t, []model.Status{model.StatusStarted, model.StatusProcessing, model.StatusCompleted}, rec.statuses("run1"))
	done := rec.last("run1")
	assert.Equal(t, "Port reopens after storm", done.details[model.DetailTitle])
	assert.Equal(t, "primary", done.details[model.DetailPath])
	assert.Contains(t, done.details, model.DetailElapsedMs)
}

func TestExtractOne_FallbackAfterMalformedPrimary(t *testing.T) {
	st := newMemStore()
	rec := newMemRecorder()
	asker := &fakeAsker{fn: func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "URL: ") {
			return `{"content": "Body from page"}`, nil
		}
		return "no json here", nil
	}}
	fetcher := &fakeFetcher{page: &scrape.Page{Title: "Page title", Content: "Body from page", Source: "jina"}}

	item, err := newTestExtractor(st, rec, asker, fetcher).
		ExtractOne(context.Background(), "run1", link("wf1_1", "https://news.example.com/a"))
	require.NoError(t, err)

	assert.True(t, item.OK)
	assert.Equal(t, resilience.PathFallback, item.Path)
	assert.Equal(t, 2, asker.count("https://news.example.com/a"))
	assert.Equal(t, 1, asker.count("URL: "))
	assert.Equal(t, 1, fetcher.calls)

	c := st.contents["wf1_1"]
	assert.Equal(t, "Page title", c.Title)
	assert.Equal(t, []string{model.StateExtractionSucceeded, model.StatePathFallback}, c.State)
	assert.Equal(t, "fallback", rec.last("run1").details[model.DetailPath])
}

func TestExtractOne_ClientErrorStatusRetriedBeforeFallback(t *testing.T) {
	st := newMemStore()
	rec := newMemRecorder()
	asker := &fakeAsker{fn: func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "URL: ") {
			return articleReply, nil
		}
		return "", resilience.NewTransientError(errors.New("dify: status 401: invalid api key"), 401)
	}}
	fetcher := &fakeFetcher{page: &scrape.Page{Content: "text"}}

	item, err := newTestExtractor(st, rec, asker, fetcher).
		ExtractOne(context.Background(), "run1", link("wf1_1", "https://news.example.com/a"))
	require.NoError(t, err)
	assert.True(t, item.OK)
	assert.Equal(t, resilience.PathFallback, item.Path)
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, 2, asker.count("https://news.example.com/a"))
	assert.Equal(t, 1, fetcher.calls)
}

func TestExtractOne_EmptyPrimaryFallsBackOnce(t *testing.T) {
	st := newMemStore()
	rec := newMemRecorder()
	asker := &fakeAsker{fn: func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "URL: ") {
			return articleReply, nil
		}
		return `{"title":"","content":""}`, nil
	}}
	fetcher := &fakeFetcher{page: &scrape.Page{Title: "Page title", Content: "Body text."}}

	item, err := newTestExtractor(st, rec, asker, fetcher).
		ExtractOne(context.Background(), "run1", link("wf1_1", "https://news.example.com/a"))
	require.NoError(t, err)

	assert.True(t, item.OK)
	assert.Equal(t, resilience.PathFallback, item.Path)
	assert.Equal(t, 2, asker.count("https://news.example.com/a"))
	assert.Equal(t, 1, asker.count("URL: "))
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, []string{model.StateExtractionSucceeded, model.StatePathFallback}, st.contents["wf1_1"].State)
}

func TestExtractOne_BothPathsFail(t *testing.T) {
	st := newMemStore()
	rec := newMemRecorder()
	asker := &fakeAsker{fn: func(string) (string, error) {
		return "", resilience.NewTransientError(errors.New("service busy"), 503)
	}}
	fetcher := &fakeFetcher{err: errors.New("scrape: all fetchers failed")}

	item, err := newTestExtractor(st, rec, asker, fetcher).
		ExtractOne(context.Background(), "run1", link("wf1_1", "https://news.example.com/a"))
	require.NoError(t, err)

	assert.False(t, item.OK)
	assert.Equal(t, resilience.PathNone, item.Path)
	assert.Equal(t, 2, item.Attempts)

	c := st.contents["wf1_1"]
	assert.Empty(t, c.Content)
	assert.Equal(t, []string{model.FailedState("fallback")}, c.State)

	assert.Equal(t, []model.Status{model.StatusStarted, model.StatusProcessing, model.StatusFailed}, rec.statuses("run1"))
	failed := rec.last("run1")
	assert.Equal(t, string(resilience.TransientService), failed.details[model.DetailErrorKind])
	assert.Contains(t, failed.errText, "all fetchers failed")
}

func TestExtractOne_NoFallbackConfigured(t *testing.T) {
	st := newMemStore()
	rec := newMemRecorder()
	asker := &fakeAsker{fn: func(string) (string, error) { return `{"title": "", "content": ""}`, nil }}

	item, err := newTestExtractor(st, rec, asker, nil).
		ExtractOne(context.Background(), "run1", link("wf1_1", "https://news.example.com/a"))
	require.NoError(t, err)
	assert.False(t, item.OK)
	assert.Equal(t, resilience.SemanticFailure, item.Taxonomy)
	assert.Equal(t, []string{model.FailedState("primary")}, st.contents["wf1_1"].State)
}

func TestExtractAll_SequentialSubRuns(t *testing.T) {
	st := newMemStore()
	rec := newMemRecorder()
	asker := &fakeAsker{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "/bad") {
			return "", errors.New("rejected")
		}
		return articleReply, nil
	}}

	res, err := newTestExtractor(st, rec, asker, nil).ExtractAll(context.Background(), "parent", []model.LinkRecord{
		link("wf1_1", "https://news.example.com/a"),
		link("wf1_2", "https://news.example.com/bad"),
		{URL: "https://other.example.org/c"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "parent_x1", res.Items[0].RunID)
	assert.Equal(t, "parent_x2", res.Items[1].RunID)
	assert.Equal(t, "parent_x3", res.Items[2].RunID)
	assert.Equal(t, "parent_3", res.Items[2].LinkID)

	first := rec.runs["parent_x1"][0]
	assert.Equal(t, "parent", first.details[model.DetailParentWorkflowID])
	assert.Empty(t, st.contents["parent_3"].Homepage)
}

func TestExtractAll_StoreDownAborts(t *testing.T) {
	st := newMemStore()
	st.saveErr = resilience.Tag(resilience.StorageTransient, errors.New("conn refused"))
	asker := &fakeAsker{fn: func(string) (string, error) { return articleReply, nil }}

	res, err := newTestExtractor(st, newMemRecorder(), asker, nil).ExtractAll(context.Background(), "parent", []model.LinkRecord{
		link("wf1_1", "https://news.example.com/a"),
		link("wf1_2", "https://news.example.com/b"),
	})
	require.Error(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, asker.count("https://news.example.com/a"))
	assert.Zero(t, asker.count("https://news.example.com/b"))
}

func TestExtractAll_FatalSaveMarksItemFailed(t *testing.T) {
	st := newMemStore()
	st.saveErr = resilience.Tag(resilience.StorageFatal, errors.New("value too long"))
	rec := newMemRecorder()
	asker := &fakeAsker{fn: func(string) (string, error) { return articleReply, nil }}

	res, err := newTestExtractor(st, rec, asker, nil).ExtractAll(context.Background(), "parent", []model.LinkRecord{
		link("wf1_1", "https://news.example.com/a"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, model.StatusFailed, rec.last("parent_x1").status)
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "short", TruncateTitle("short"))
	long := strings.Repeat("港", 60)
	assert.Equal(t, strings.Repeat("港", 50), TruncateTitle(long))
}

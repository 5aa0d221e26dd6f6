package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/news-pipeline/internal/classify"
	"github.com/sells-group/news-pipeline/internal/discovery"
	"github.com/sells-group/news-pipeline/internal/extraction"
	"github.com/sells-group/news-pipeline/internal/model"
)

// memRuns implements RunStore for testing, merging details the way the
// relational stores do.
type memRuns struct {
	mu     sync.Mutex
	runs   map[string]*model.WorkflowRun
	getErr error
	putErr error
	gets   int
}

func newMemRuns() *memRuns { return &memRuns{runs: map[string]*model.WorkflowRun{}} }

func (m *memRuns) CreateOrUpdateRun(_ context.Context, runID string, status model.Status, details model.Details, errText string) (*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return nil, m.putErr
	}
	now := time.Now().UTC()
	run, ok := m.runs[runID]
	if !ok {
		run = &model.WorkflowRun{ID: runID, Details: model.Details{}, CreatedAt: now}
		m.runs[runID] = run
	}
	for k, v := range details {
		run.Details[k] = v
	}
	run.CurrentStatus = status
	run.UpdatedAt = now
	run.History = append(run.History, model.StatusEntry{Status: status, Timestamp: now, Details: details, Error: errText})
	cp := *run
	return &cp, nil
}

func (m *memRuns) GetRun(_ context.Context, runID string) (*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memRuns) statuses(runID string) []model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil
	}
	out := make([]model.Status, len(run.History))
	for i, h := range run.History {
		out[i] = h.Status
	}
	return out
}

func (m *memRuns) run(runID string) *model.WorkflowRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID]
}

type stubDiscoverer struct {
	res   *discovery.Result
	err   error
	calls int
}

func (s *stubDiscoverer) Run(context.Context) (*discovery.Result, error) {
	s.calls++
	if s.err != nil {
		return &discovery.Result{}, s.err
	}
	return s.res, nil
}

type stubClassifier struct {
	valid map[string]bool
	err   error
	seen  [][]model.LinkRecord
	panic bool
}

func (s *stubClassifier) Classify(_ context.Context, workflowID string, links []model.LinkRecord) (*classify.Results, error) {
	if s.panic {
		panic("classifier exploded")
	}
	s.seen = append(s.seen, links)
	if s.err != nil {
		return nil, s.err
	}
	res := &classify.Results{
		BatchID: workflowID, WorkflowID: workflowID,
		Valid: []string{}, Invalid: []string{}, Failed: []string{},
		LinkIDs: map[string]string{},
	}
	for i, l := range links {
		l.LinkID = model.SubID(workflowID, i+1)
		res.LinkIDs[l.URL] = l.LinkID
		res.Records = append(res.Records, l)
		if s.valid[l.URL] {
			res.Valid = append(res.Valid, l.URL)
		} else {
			res.Invalid = append(res.Invalid, l.URL)
		}
	}
	return res, nil
}

type stubExtractor struct {
	seen []model.LinkRecord
	err  error
}

func (s *stubExtractor) ExtractAll(_ context.Context, parentID string, links []model.LinkRecord) (*extraction.BatchResult, error) {
	s.seen = append(s.seen, links...)
	res := &extraction.BatchResult{Items: []extraction.ItemResult{}}
	for i, l := range links {
		res.Items = append(res.Items, extraction.ItemResult{RunID: model.ItemRunID(parentID, i+1), LinkID: l.LinkID, URL: l.URL, OK: true})
		res.Total++
		res.Succeeded++
	}
	return res, s.err
}

type stubLinks struct {
	newLinks   []model.LinkRecord
	validLinks []model.LinkRecord
	failed     []model.LinkAnalysis
	err        error
	lastMax    int
}

func (s *stubLinks) LatestNewLinks(_ context.Context, max int) ([]model.LinkRecord, error) {
	s.lastMax = max
	return s.newLinks, s.err
}

func (s *stubLinks) LatestValidLinks(_ context.Context, max int) ([]model.LinkRecord, error) {
	s.lastMax = max
	return s.validLinks, s.err
}

func (s *stubLinks) FailedAnalyses(_ context.Context, limit int) ([]model.LinkAnalysis, error) {
	s.lastMax = limit
	return s.failed, s.err
}

package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/orchestrator"
	"github.com/sells-group/news-pipeline/internal/store"
)

// MockQueue is a testify mock of Queue.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(t orchestrator.Task) (string, error) {
	args := m.Called(t)
	return args.String(0), args.Error(1)
}

func (m *MockQueue) Pending() int {
	return m.Called().Int(0)
}

func (m *MockQueue) Running() string {
	return m.Called().String(0)
}

// MockReader is a testify mock of Reader.
type MockReader struct {
	mock.Mock
}

func (m *MockReader) GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	args := m.Called(ctx, runID)
	run, _ := args.Get(0).(*model.WorkflowRun)
	return run, args.Error(1)
}

func (m *MockReader) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.WorkflowRun, error) {
	args := m.Called(ctx, filter)
	runs, _ := args.Get(0).([]model.WorkflowRun)
	return runs, args.Error(1)
}

func (m *MockReader) GetLinkAnalysis(ctx context.Context, linkID string) (*model.LinkAnalysis, error) {
	args := m.Called(ctx, linkID)
	a, _ := args.Get(0).(*model.LinkAnalysis)
	return a, args.Error(1)
}

func (m *MockReader) GetContent(ctx context.Context, linkID string) (*model.ContentRecord, error) {
	args := m.Called(ctx, linkID)
	c, _ := args.Get(0).(*model.ContentRecord)
	return c, args.Error(1)
}

func (m *MockReader) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

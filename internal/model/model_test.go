package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		{"", StatusStarted, true},
		{"", StatusScraping, false},
		{StatusStarted, StatusScraping, true},
		{StatusScraping, StatusScraped, true},
		{StatusScraped, StatusAnalyzing, true},
		{StatusAnalyzed, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusScraped, StatusCompleted, true},
		{StatusStarted, StatusAnalyzing, true},
		{StatusAnalyzing, StatusScraping, false},
		{StatusScraped, StatusScraped, false},
		{StatusProcessing, StatusFailed, true},
		{StatusStarted, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusStarted, false},
		{StatusCompleted, StatusStarted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range AllStatuses() {
		got, err := ParseStatus(strings.ToLower(string(s)))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("queued")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model: unknown status")
}

func TestTruncateID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", TruncateID("short"))
	long := strings.Repeat("x", 80)
	assert.Len(t, TruncateID(long), MaxRunIDLength)
}

func TestNewRunID(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	id := NewRunID("workflow_extended", now)
	assert.True(t, strings.HasPrefix(id, "workflow_extended_20250102030405_"), id)
	assert.LessOrEqual(t, len(id), MaxRunIDLength)
	assert.NotEqual(t, id, NewRunID("workflow_extended", now))

	long := NewRunID(strings.Repeat("p", 60), now)
	assert.Len(t, long, MaxRunIDLength)
	assert.Contains(t, long, "_20250102030405_")
}

func TestSubID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "wf_1", SubID("wf", 1))

	parent := strings.Repeat("a", MaxRunIDLength)
	first, second := SubID(parent, 1), SubID(parent, 2)
	assert.Len(t, first, MaxRunIDLength)
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasSuffix(second, "_2"))
}

func TestItemRunID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "wf_x3", ItemRunID("wf", 3))
	assert.NotEqual(t, SubID("wf", 3), ItemRunID("wf", 3))
	assert.Len(t, ItemRunID(strings.Repeat("a", MaxRunIDLength), 12), MaxRunIDLength)
}

func TestWorkflowRunLastError(t *testing.T) {
	t.Parallel()

	r := &WorkflowRun{History: []StatusEntry{
		{Status: StatusStarted},
		{Status: StatusFailed, Error: "boom"},
	}}
	assert.Equal(t, "boom", r.LastError())
	assert.Empty(t, (&WorkflowRun{}).LastError())
}

func TestDetails(t *testing.T) {
	t.Parallel()

	d := Details{DetailLinksFound: 3, "bogus": true, "other": 1}
	err := ValidateDetails(d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	assert.Contains(t, err.Error(), "other")

	clean, dropped := d.Clean()
	assert.Equal(t, Details{DetailLinksFound: 3}, clean)
	assert.Equal(t, []string{"bogus", "other"}, dropped)
	assert.NoError(t, ValidateDetails(clean))

	nilClean, nilDropped := Details(nil).Clean()
	assert.Nil(t, nilClean)
	assert.Nil(t, nilDropped)

	assert.Equal(t, 3, clean.Int(DetailLinksFound))
	assert.Equal(t, 2, Details{"n": float64(2)}.Int("n"))
	assert.Equal(t, 0, Details{"n": "x"}.Int("n"))
	assert.True(t, IsKnownDetailKey(DetailStep2ValidLinks))
}

func TestParseImportance(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ImportanceHigh, ParseImportance("High"))
	assert.Equal(t, ImportanceHigh, ParseImportance("高"))
	assert.Equal(t, ImportanceMedium, ParseImportance("中"))
	assert.Equal(t, ImportanceLow, ParseImportance(""))
	assert.Equal(t, ImportanceLow, ParseImportance("critical"))
}

func TestFailedState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "extraction-failed-fallback", FailedState("fallback"))
	assert.Equal(t, "extraction-failed", FailedState(""))
}

func TestNormalizePublishTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"   ", ""},
		{"2024-03-05", "2024-03-05"},
		{"2024-03-05T10:11:12Z", "2024-03-05"},
		{"2024-03-05 10:11:12", "2024-03-05"},
		{"2024/03/05", "2024-03-05"},
		{"2024年3月5日", "2024-03-05"},
		{"2024-03-05 morning", "2024-03-05"},
		{"yesterday", "2025-06-01"},
		{"2024-13-45", "2025-06-01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePublishTime(tt.in, now), tt.in)
	}
}

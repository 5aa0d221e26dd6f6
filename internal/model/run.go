package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// MaxRunIDLength caps every generated run and link identifier.
const MaxRunIDLength = 50

// Status is the lifecycle state of a workflow run.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusScraping   Status = "SCRAPING"
	StatusScraped    Status = "SCRAPED"
	StatusAnalyzing  Status = "ANALYZING"
	StatusAnalyzed   Status = "ANALYZED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var statusRank = map[Status]int{
	StatusStarted:    1,
	StatusScraping:   2,
	StatusScraped:    3,
	StatusAnalyzing:  4,
	StatusAnalyzed:   5,
	StatusProcessing: 6,
	StatusCompleted:  7,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusStarted, StatusScraping, StatusScraped, StatusAnalyzing,
		StatusAnalyzed, StatusProcessing, StatusCompleted, StatusFailed,
	}
}

// ParseStatus converts a case-insensitive name into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st == StatusFailed {
		return st, nil
	}
	if _, ok := statusRank[st]; ok {
		return st, nil
	}
	return "", eris.Errorf("model: unknown status %q", s)
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a run in from may move to to. An empty from
// means the run does not exist yet. Stages may be skipped but never revisited;
// FAILED is reachable from any non-terminal state.
func CanTransition(from, to Status) bool {
	if from == "" {
		return to == StatusStarted
	}
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

// StatusEntry is one element of a run's append-only history.
type StatusEntry struct {
	Status    Status    `json:"status" yaml:"status"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Details   Details   `json:"details,omitempty" yaml:"details,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// WorkflowRun is the durable record of one pipeline invocation.
type WorkflowRun struct {
	ID            string        `json:"workflow_id" yaml:"workflow_id"`
	CurrentStatus Status        `json:"current_status" yaml:"current_status"`
	Details       Details       `json:"details,omitempty" yaml:"details,omitempty"`
	CreatedAt     time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" yaml:"updated_at"`
	History       []StatusEntry `json:"history" yaml:"history"`
}

// LastError returns the error text of the most recent failed entry.
func (r *WorkflowRun) LastError() string {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Error != "" {
			return r.History[i].Error
		}
	}
	return ""
}

// TruncateID shortens id to MaxRunIDLength.
func TruncateID(id string) string {
	if len(id) <= MaxRunIDLength {
		return id
	}
	return id[:MaxRunIDLength]
}

// NewRunID builds "<prefix>_<yyyymmddhhmmss>_<8 hex>". The random suffix keeps
// two runs started within the same second apart.
func NewRunID(prefix string, now time.Time) string {
	suffix := "_" + now.UTC().Format("20060102150405") + "_" + uuid.NewString()[:8]
	return joinCapped(prefix, suffix)
}

// SubID derives a child identifier such as "<parent>_3" that always fits
// MaxRunIDLength. The parent is shortened rather than the suffix so siblings
// never collide.
func SubID(parent string, n int) string {
	return joinCapped(parent, fmt.Sprintf("_%d", n))
}

// ItemRunID derives the run identifier of the n-th per-link extraction under
// parent, "<parent>_x<n>". The marker keeps it apart from link identifiers,
// which use SubID under the same workflow.
func ItemRunID(parent string, n int) string {
	return joinCapped(parent, fmt.Sprintf("_x%d", n))
}

func joinCapped(head, tail string) string {
	room := MaxRunIDLength - len(tail)
	if room < 0 {
		return TruncateID(tail)
	}
	if len(head) > room {
		head = head[:room]
	}
	return head + tail
}

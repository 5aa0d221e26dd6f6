package model

import (
	"strings"
	"time"
)

// Importance grades an extracted article.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// ParseImportance maps a service-supplied label to an Importance. Unknown or
// empty labels become ImportanceLow.
func ParseImportance(s string) Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "高":
		return ImportanceHigh
	case "medium", "mid", "中":
		return ImportanceMedium
	default:
		return ImportanceLow
	}
}

// State labels written to ContentRecord.State.
const (
	StateExtractionSucceeded = "extraction-succeeded"
	StateExtractionFailed    = "extraction-failed"
	StatePathPrimary         = "path-primary"
	StatePathFallback        = "path-fallback"
)

// FailedState returns the state label for a failure at the named stage.
func FailedState(stage string) string {
	if stage == "" {
		return StateExtractionFailed
	}
	return StateExtractionFailed + "-" + stage
}

// ContentRecord is the structured article extracted for one link.
type ContentRecord struct {
	LinkID       string     `json:"link_id"`
	URL          string     `json:"link,omitempty"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	EventTags    []string   `json:"event_tags"`
	SpaceTags    []string   `json:"space_tags"`
	CategoryTags []string   `json:"cat_tags"`
	ImpactTags   []string   `json:"impact_factors"`
	PublishTime  string     `json:"publish_time"`
	Importance   Importance `json:"importance"`
	State        []string   `json:"state"`
	Source       string     `json:"source_note,omitempty"`
	Homepage     string     `json:"homepage_url,omitempty"`
	WorkflowID   string     `json:"workflow_id"`
	CreatedAt    time.Time  `json:"created_at"`
}

const dateLayout = "2006-01-02"

var publishLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	dateLayout,
	"2006/01/02",
	"2006.01.02",
	"2006年01月02日",
	"2006年1月2日",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// NormalizePublishTime truncates a publish timestamp to day precision. An empty
// input stays empty; anything unparseable becomes the date of now.
func NormalizePublishTime(s string, now time.Time) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range publishLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout)
		}
	}
	// Leading date followed by an unknown time suffix.
	if len(s) > len(dateLayout) {
		if t, err := time.Parse(dateLayout, s[:len(dateLayout)]); err == nil {
			return t.Format(dateLayout)
		}
	}
	return now.Format(dateLayout)
}

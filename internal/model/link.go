package model

import (
	"encoding/json"
	"time"
)

// Homepage is an entry of the homepage registry.
type Homepage struct {
	URL    string `json:"link" yaml:"link"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Note   string `json:"note,omitempty" yaml:"note,omitempty"`
	Active bool   `json:"active" yaml:"active"`
}

// LinkRecord is one candidate article link owned by the workflow that
// discovered or analyzed it.
type LinkRecord struct {
	LinkID     string `json:"link_id,omitempty"`
	URL        string `json:"link"`
	Homepage   string `json:"homepage,omitempty"`
	Source     string `json:"source,omitempty"`
	Note       string `json:"note,omitempty"`
	BatchID    string `json:"batch_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// NewLinkBatch is the set of links first seen under one homepage during one
// discovery pass.
type NewLinkBatch struct {
	BatchID      string    `json:"batch_id"`
	Homepage     string    `json:"homepage"`
	Source       string    `json:"source,omitempty"`
	Note         string    `json:"note,omitempty"`
	Links        []string  `json:"links"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// LinkAnalysis is the classification verdict for one link identifier. Failed
// marks a verdict written because the service call itself failed.
type LinkAnalysis struct {
	LinkID     string          `json:"link_id"`
	URL        string          `json:"link"`
	IsValid    bool            `json:"is_valid"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
	Failed     bool            `json:"failed"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	WorkflowID string          `json:"workflow_id"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// BatchAnalysis is the persisted snapshot of one classification pass.
type BatchAnalysis struct {
	BatchID    string            `json:"batch_id"`
	WorkflowID string            `json:"workflow_id"`
	Valid      []string          `json:"valid"`
	Invalid    []string          `json:"invalid"`
	Failed     []string          `json:"failed"`
	LinkIDs    map[string]string `json:"link_ids"`
	CreatedAt  time.Time         `json:"created_at"`
}

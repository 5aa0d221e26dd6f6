package model

import (
	"sort"

	"github.com/rotisserie/eris"
)

// Detail keys recorded on status transitions. Anything outside this set is
// rejected at the API edge and dropped internally.
const (
	DetailLinksFound       = "links_found"
	DetailLinksCount       = "links_count"
	DetailValidCount       = "valid_count"
	DetailInvalidCount     = "invalid_count"
	DetailFailedCount      = "failed_count"
	DetailTotalLinks       = "total_links"
	DetailSucceeded        = "succeeded"
	DetailFailed           = "failed"
	DetailMessage          = "message"
	DetailTitle            = "title"
	DetailElapsedMs        = "elapsed_ms"
	DetailPath             = "path"
	DetailErrorKind        = "error_kind"
	DetailLink             = "link"
	DetailLinkID           = "link_id"
	DetailParentWorkflowID = "parent_workflow_id"
	DetailStep1LinksFound  = "step1_links_found"
	DetailStep2ValidLinks  = "step2_valid_links"
	DetailStep3Results     = "step3_results"
	DetailTask             = "task"
	DetailBatchID          = "batch_id"
	DetailHomepages        = "homepages"
	DetailSkipped          = "skipped"
)

var knownDetailKeys = map[string]bool{
	DetailLinksFound: true, DetailLinksCount: true, DetailValidCount: true,
	DetailInvalidCount: true, DetailFailedCount: true, DetailTotalLinks: true,
	DetailSucceeded: true, DetailFailed: true, DetailMessage: true,
	DetailTitle: true, DetailElapsedMs: true, DetailPath: true,
	DetailErrorKind: true, DetailLink: true, DetailLinkID: true,
	DetailParentWorkflowID: true, DetailStep1LinksFound: true,
	DetailStep2ValidLinks: true, DetailStep3Results: true, DetailTask: true,
	DetailBatchID: true, DetailHomepages: true, DetailSkipped: true,
}

// Details is the key/value snapshot attached to a status transition.
type Details map[string]any

// IsKnownDetailKey reports whether key belongs to the detail vocabulary.
func IsKnownDetailKey(key string) bool {
	return knownDetailKeys[key]
}

// ValidateDetails returns an error naming every unknown key in d.
func ValidateDetails(d Details) error {
	var unknown []string
	for k := range d {
		if !knownDetailKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return eris.Errorf("model: unknown detail keys: %v", unknown)
}

// Clean returns a copy of d restricted to known keys, along with the keys that
// were dropped.
func (d Details) Clean() (Details, []string) {
	if d == nil {
		return nil, nil
	}
	out := make(Details, len(d))
	var dropped []string
	for k, v := range d {
		if knownDetailKeys[k] {
			out[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return out, dropped
}

// Int reads an integer detail, tolerating the float64 that JSON decoding
// produces.
func (d Details) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/internal/model"
)

type scannable interface {
	Scan(dest ...any) error
}

// rowIter is the iteration surface shared by pgx.Rows and *sql.Rows.
type rowIter interface {
	scannable
	Next() bool
	Err() error
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// pgLimit maps a non-positive limit to NULL, which Postgres reads as "no limit".
func pgLimit(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

// sqliteLimit maps a non-positive limit to -1, which SQLite reads as "no limit".
func sqliteLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func uniqueNonEmpty(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func homepageRows(homepages []model.Homepage) [][]any {
	seen := make(map[string]bool, len(homepages))
	rows := make([][]any, 0, len(homepages))
	for _, h := range homepages {
		url := strings.TrimSpace(h.URL)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		rows = append(rows, []any{url, h.Source, h.Note, h.Active})
	}
	return rows
}

func linkCacheRows(homepage string, links []string, at time.Time) [][]any {
	links = uniqueNonEmpty(links)
	rows := make([][]any, len(links))
	for i, link := range links {
		rows[i] = []any{homepage, link, at}
	}
	return rows
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func scanAnalysis(row scannable) (*model.LinkAnalysis, error) {
	var a model.LinkAnalysis
	var payload []byte
	if err := row.Scan(&a.LinkID, &a.URL, &a.IsValid, &a.Confidence, &a.Reason, &a.Failed,
		&payload, &a.WorkflowID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		a.Payload = json.RawMessage(payload)
	}
	return &a, nil
}

// collectValidLinks reads (link_id, link, workflow_id) rows newest first and
// keeps the first analysis per URL, stopping after max links (0 = all).
func collectValidLinks(rows rowIter, max int) ([]model.LinkRecord, error) {
	seen := make(map[string]bool)
	var out []model.LinkRecord
	for rows.Next() {
		var r model.LinkRecord
		if err := rows.Scan(&r.LinkID, &r.URL, &r.WorkflowID); err != nil {
			return nil, err
		}
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, rows.Err()
}

func contentArgs(c model.ContentRecord) ([]any, error) {
	lists := [][]string{c.EventTags, c.SpaceTags, c.CategoryTags, c.ImpactTags, c.State}
	encoded := make([][]byte, len(lists))
	for i, l := range lists {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		encoded[i] = b
	}
	importance := c.Importance
	if importance == "" {
		importance = model.ImportanceLow
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return []any{
		c.LinkID, c.URL, c.Title, c.Content,
		encoded[0], encoded[1], encoded[2], encoded[3],
		c.PublishTime, string(importance), encoded[4],
		c.Source, c.Homepage, c.WorkflowID, created,
	}, nil
}

func scanContent(row scannable) (*model.ContentRecord, error) {
	var c model.ContentRecord
	var importance string
	var events, spaces, cats, impacts, state []byte
	if err := row.Scan(&c.LinkID, &c.URL, &c.Title, &c.Content, &events, &spaces, &cats, &impacts,
		&c.PublishTime, &importance, &state, &c.Source, &c.Homepage, &c.WorkflowID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Importance = model.ParseImportance(importance)

	targets := []*[]string{&c.EventTags, &c.SpaceTags, &c.CategoryTags, &c.ImpactTags, &c.State}
	for i, raw := range [][]byte{events, spaces, cats, impacts, state} {
		*targets[i] = []string{}
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, targets[i]); err != nil {
			return nil, eris.Wrap(err, "unmarshal content tags")
		}
	}
	return &c, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/news-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	mu  sync.RWMutex
	db  *sql.DB
	dsn string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, dsn: dsn}, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps "database is locked" to the busy timeout.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return db, nil
}

func (s *SQLiteStore) conn() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	current_status TEXT NOT NULL,
	details        TEXT NOT NULL DEFAULT '{}',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	status     TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '{}',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(current_status);
CREATE INDEX IF NOT EXISTS idx_run_history_run_id ON run_history(run_id, id);

CREATE TABLE IF NOT EXISTS homepage_registry (
	link       TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	note       TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS link_cache (
	homepage      TEXT NOT NULL,
	link          TEXT NOT NULL,
	first_seen_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (homepage, link)
);

CREATE TABLE IF NOT EXISTS new_links (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id      TEXT NOT NULL,
	homepage      TEXT NOT NULL,
	link          TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	note          TEXT NOT NULL DEFAULT '',
	discovered_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_new_links_link ON new_links(link);

CREATE TABLE IF NOT EXISTS link_analysis (
	link_id     TEXT PRIMARY KEY,
	link        TEXT NOT NULL,
	is_valid    BOOLEAN NOT NULL DEFAULT 0,
	confidence  REAL NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	failed      BOOLEAN NOT NULL DEFAULT 0,
	payload     TEXT,
	workflow_id TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS batch_analysis (
	batch_id    TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	result      TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS content (
	link_id        TEXT PRIMARY KEY,
	link           TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	event_tags     TEXT NOT NULL DEFAULT '[]',
	space_tags     TEXT NOT NULL DEFAULT '[]',
	cat_tags       TEXT NOT NULL DEFAULT '[]',
	impact_factors TEXT NOT NULL DEFAULT '[]',
	publish_time   TEXT NOT NULL DEFAULT '',
	importance     TEXT NOT NULL DEFAULT 'low',
	state          TEXT NOT NULL DEFAULT '[]',
	source_note    TEXT NOT NULL DEFAULT '',
	homepage_url   TEXT NOT NULL DEFAULT '',
	workflow_id    TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_content_link ON content(link);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.conn().ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.conn().PingContext(ctx), "sqlite: ping")
}

// Reinit reopens the database file.
func (s *SQLiteStore) Reinit(ctx context.Context) error {
	db, err := openSQLite(s.dsn)
	if err != nil {
		return eris.Wrap(err, "sqlite: reinit")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return eris.Wrap(err, "sqlite: reinit ping")
	}

	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.conn().Close()
}

// withTx runs fn in a transaction, committing on nil and rolling back
// otherwise.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) CreateOrUpdateRun(ctx context.Context, runID string, status model.Status, details model.Details, errText string) (*model.WorkflowRun, error) {
	if runID == "" {
		return nil, eris.New("sqlite: run id is required")
	}
	runID = model.TruncateID(runID)
	if err := model.ValidateDetails(details); err != nil {
		return nil, eris.Wrap(err, "sqlite: run details")
	}

	entryJSON, err := marshalDetails(details)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal details")
	}
	now := time.Now().UTC()

	var run *model.WorkflowRun
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT details FROM runs WHERE id = ?`, runID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO runs (id, current_status, details, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
				runID, string(status), string(entryJSON), now, now,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert run %s", runID)
			}
		case err != nil:
			return eris.Wrapf(err, "sqlite: read run %s", runID)
		default:
			merged, err := mergeDetails(existing, details)
			if err != nil {
				return eris.Wrapf(err, "sqlite: merge details %s", runID)
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE runs SET current_status = ?, details = ?, updated_at = ? WHERE id = ?`,
				string(status), string(merged), now, runID,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: update run %s", runID)
			}
			if err := checkRowsAffected(res, "run", runID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_history (run_id, status, details, error, created_at) VALUES (?, ?, ?, ?, ?)`,
			runID, string(status), string(entryJSON), errText, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: append history %s", runID)
		}

		got, err := getRunSQLite(ctx, tx, runID)
		if err != nil {
			return err
		}
		run = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func mergeDetails(existing string, add model.Details) ([]byte, error) {
	base, err := unmarshalDetails([]byte(existing))
	if err != nil {
		return nil, err
	}
	if base == nil {
		base = model.Details{}
	}
	for k, v := range add {
		base[k] = v
	}
	return marshalDetails(base)
}

// GetRun reads the run row and its history in one transaction so that
// CurrentStatus always matches the last history entry.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	var run *model.WorkflowRun
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		run, err = getRunSQLite(ctx, tx, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func getRunSQLite(ctx context.Context, q sqlQuerier, runID string) (*model.WorkflowRun, error) {
	r, err := scanRun(q.QueryRowContext(ctx,
		`SELECT id, current_status, details, created_at, updated_at FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	history, err := loadHistorySQLite(ctx, q, []string{runID})
	if err != nil {
		return nil, err
	}
	r.History = history[runID]
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error) {
	query := `SELECT id, current_status, details, created_at, updated_at FROM runs WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND current_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, sqliteLimit(filter.Limit))

	var runs []model.WorkflowRun
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		runs, err = listRunsSQLite(ctx, tx, query, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func listRunsSQLite(ctx context.Context, q sqlQuerier, query string, args []any) ([]model.WorkflowRun, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	var ids []string
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs iterate")
	}
	rows.Close()

	if len(ids) == 0 {
		return runs, nil
	}
	history, err := loadHistorySQLite(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].History = history[runs[i].ID]
	}
	return runs, nil
}

func scanRun(row scannable) (*model.WorkflowRun, error) {
	var r model.WorkflowRun
	var detailsJSON string
	if err := row.Scan(&r.ID, &r.CurrentStatus, &detailsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := unmarshalDetails([]byte(detailsJSON))
	if err != nil {
		return nil, eris.Wrap(err, "unmarshal run details")
	}
	r.Details = d
	return &r, nil
}

func loadHistorySQLite(ctx context.Context, q sqlQuerier, runIDs []string) (map[string][]model.StatusEntry, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runIDs)), ",")
	args := make([]any, len(runIDs))
	for i, id := range runIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx,
		`SELECT run_id, status, details, error, created_at FROM run_history WHERE run_id IN (`+placeholders+`) ORDER BY run_id, id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load history")
	}
	defer rows.Close()

	out := make(map[string][]model.StatusEntry, len(runIDs))
	for rows.Next() {
		var runID, detailsJSON string
		var e model.StatusEntry
		if err := rows.Scan(&runID, &e.Status, &detailsJSON, &e.Error, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		if e.Details, err = unmarshalDetails([]byte(detailsJSON)); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal history details")
		}
		out[runID] = append(out[runID], e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load history iterate")
}

func (s *SQLiteStore) ActiveHomepages(ctx context.Context) ([]model.Homepage, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT link, source, note, active FROM homepage_registry WHERE active ORDER BY link`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active homepages")
	}
	defer rows.Close()

	var out []model.Homepage
	for rows.Next() {
		var h model.Homepage
		if err := rows.Scan(&h.URL, &h.Source, &h.Note, &h.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan homepage")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: active homepages iterate")
}

func (s *SQLiteStore) UpsertHomepages(ctx context.Context, homepages []model.Homepage) (int, error) {
	rows := homepageRows(homepages)
	if len(rows) == 0 {
		return 0, nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO homepage_registry (link, source, note, active) VALUES (?, ?, ?, ?)
			ON CONFLICT (link) DO UPDATE SET source = excluded.source, note = excluded.note, active = excluded.active`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare homepage upsert")
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r...); err != nil {
				return eris.Wrapf(err, "sqlite: upsert homepage %v", r[0])
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *SQLiteStore) LinkCache(ctx context.Context, homepage string) ([]string, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT link FROM link_cache WHERE homepage = ? ORDER BY link`, homepage)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: link cache %s", homepage)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan link cache")
		}
		out = append(out, link)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: link cache iterate")
}

func (s *SQLiteStore) AddToLinkCache(ctx context.Context, homepage string, links []string) (int, error) {
	var added int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		added, err = addToLinkCacheTx(ctx, tx, homepage, links, time.Now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func addToLinkCacheTx(ctx context.Context, tx *sql.Tx, homepage string, links []string, at time.Time) (int, error) {
	rows := linkCacheRows(homepage, links, at)
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO link_cache (homepage, link, first_seen_at) VALUES (?, ?, ?) ON CONFLICT (homepage, link) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare link cache insert")
	}
	defer stmt.Close()

	added := 0
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx, r...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: add to link cache %s", homepage)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		added += int(n)
	}
	return added, nil
}

func (s *SQLiteStore) SaveNewLinks(ctx context.Context, batch model.NewLinkBatch) error {
	if batch.BatchID == "" {
		return eris.New("sqlite: batch id is required")
	}
	at := batch.DiscoveredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	links := uniqueNonEmpty(batch.Links)
	if len(links) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO new_links (batch_id, homepage, link, source, note, discovered_at) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare new links insert")
		}
		defer stmt.Close()
		for _, link := range links {
			if _, err := stmt.ExecContext(ctx, batch.BatchID, batch.Homepage, link, batch.Source, batch.Note, at); err != nil {
				return eris.Wrapf(err, "sqlite: save new links %s", batch.BatchID)
			}
		}
		_, err = addToLinkCacheTx(ctx, tx, batch.Homepage, links, at)
		return err
	})
}

func (s *SQLiteStore) PruneLinkCache(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM link_cache WHERE first_seen_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune link cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) LatestNewLinks(ctx context.Context, max int) ([]model.LinkRecord, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT batch_id, homepage, link, source, note FROM new_links
		WHERE id IN (SELECT MAX(id) FROM new_links GROUP BY link)
		ORDER BY id DESC LIMIT ?`,
		sqliteLimit(max),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest new links")
	}
	defer rows.Close()

	var out []model.LinkRecord
	for rows.Next() {
		var r model.LinkRecord
		if err := rows.Scan(&r.BatchID, &r.Homepage, &r.URL, &r.Source, &r.Note); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan new link")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: latest new links iterate")
}

func (s *SQLiteStore) SaveLinkAnalysis(ctx context.Context, a model.LinkAnalysis) error {
	if a.LinkID == "" {
		return eris.New("sqlite: link id is required")
	}
	now := time.Now().UTC()
	var payload any
	if len(a.Payload) > 0 {
		payload = string(a.Payload)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO link_analysis (link_id, link, is_valid, confidence, reason, failed, payload, workflow_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (link_id) DO UPDATE SET
				link = excluded.link,
				is_valid = excluded.is_valid,
				confidence = excluded.confidence,
				reason = excluded.reason,
				failed = excluded.failed,
				payload = excluded.payload,
				updated_at = excluded.updated_at`,
			a.LinkID, a.URL, a.IsValid, a.Confidence, a.Reason, a.Failed, payload, a.WorkflowID, now, now,
		)
		return eris.Wrapf(err, "sqlite: save link analysis %s", a.LinkID)
	})
}

const sqliteAnalysisColumns = `link_id, link, is_valid, confidence, reason, failed, payload, workflow_id, created_at, updated_at`

func (s *SQLiteStore) GetLinkAnalysis(ctx context.Context, linkID string) (*model.LinkAnalysis, error) {
	a, err := scanAnalysis(s.conn().QueryRowContext(ctx,
		`SELECT `+sqliteAnalysisColumns+` FROM link_analysis WHERE link_id = ?`, linkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get link analysis %s", linkID)
	}
	return a, nil
}

func (s *SQLiteStore) FailedAnalyses(ctx context.Context, limit int) ([]model.LinkAnalysis, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT `+sqliteAnalysisColumns+` FROM link_analysis WHERE failed ORDER BY updated_at DESC, link_id LIMIT ?`,
		sqliteLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: failed analyses")
	}
	defer rows.Close()

	var out []model.LinkAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: failed analyses iterate")
}

func (s *SQLiteStore) LatestValidLinks(ctx context.Context, max int) ([]model.LinkRecord, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT a.link_id, a.link, a.workflow_id FROM link_analysis a
		WHERE a.is_valid AND NOT EXISTS (SELECT 1 FROM content c WHERE c.link = a.link)
		ORDER BY a.updated_at DESC, a.link_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest valid links")
	}
	defer rows.Close()

	out, err := collectValidLinks(rows, max)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest valid links")
	}
	return out, nil
}

func (s *SQLiteStore) SaveBatchAnalysis(ctx context.Context, b model.BatchAnalysis) error {
	if b.BatchID == "" {
		return eris.New("sqlite: batch id is required")
	}
	result, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch analysis")
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO batch_analysis (batch_id, workflow_id, result, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (batch_id) DO UPDATE SET result = excluded.result`,
			b.BatchID, b.WorkflowID, string(result), created,
		)
		return eris.Wrapf(err, "sqlite: save batch analysis %s", b.BatchID)
	})
}

func (s *SQLiteStore) SaveContent(ctx context.Context, c model.ContentRecord) error {
	if c.LinkID == "" {
		return eris.New("sqlite: link id is required")
	}
	args, err := contentArgs(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode content")
	}
	// JSON list columns are TEXT here.
	for _, i := range []int{4, 5, 6, 7, 10} {
		args[i] = string(args[i].([]byte))
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO content (link_id, link, title, content, event_tags, space_tags, cat_tags, impact_factors,
				publish_time, importance, state, source_note, homepage_url, workflow_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (link_id) DO UPDATE SET
				link = excluded.link,
				title = excluded.title,
				content = excluded.content,
				event_tags = excluded.event_tags,
				space_tags = excluded.space_tags,
				cat_tags = excluded.cat_tags,
				impact_factors = excluded.impact_factors,
				publish_time = excluded.publish_time,
				importance = excluded.importance,
				state = excluded.state,
				source_note = excluded.source_note,
				homepage_url = excluded.homepage_url,
				workflow_id = excluded.workflow_id`,
			args...,
		)
		return eris.Wrapf(err, "sqlite: save content %s", c.LinkID)
	})
}

func (s *SQLiteStore) GetContent(ctx context.Context, linkID string) (*model.ContentRecord, error) {
	c, err := scanContent(s.conn().QueryRowContext(ctx,
		`SELECT link_id, link, title, content, event_tags, space_tags, cat_tags, impact_factors,
			publish_time, importance, state, source_note, homepage_url, workflow_id, created_at
		FROM content WHERE link_id = ?`, linkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get content %s", linkID)
	}
	return c, nil
}

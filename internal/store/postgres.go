package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/internal/db"
	"github.com/sells-group/news-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	mu         sync.RWMutex
	pool       db.Pool
	closeFn    func()
	connString string
	poolCfg    *PoolConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pool, err := openPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{
		pool:       pool,
		closeFn:    pool.Close,
		connString: connString,
		poolCfg:    poolCfg,
	}, nil
}

func openPool(ctx context.Context, connString string, poolCfg *PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

// Pool returns the pool currently in use.
func (s *PostgresStore) Pool() db.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	current_status TEXT NOT NULL,
	details        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_history (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	status     TEXT NOT NULL,
	details    JSONB NOT NULL DEFAULT '{}'::jsonb,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(current_status);
CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_history_run_id ON run_history(run_id, id);

CREATE TABLE IF NOT EXISTS homepage_registry (
	link       TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	note       TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS link_cache (
	homepage      TEXT NOT NULL,
	link          TEXT NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (homepage, link)
);

CREATE INDEX IF NOT EXISTS idx_link_cache_first_seen ON link_cache(first_seen_at);

CREATE TABLE IF NOT EXISTS new_links (
	id            BIGSERIAL PRIMARY KEY,
	batch_id      TEXT NOT NULL,
	homepage      TEXT NOT NULL,
	link          TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	note          TEXT NOT NULL DEFAULT '',
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_new_links_link ON new_links(link);

CREATE TABLE IF NOT EXISTS link_analysis (
	link_id     TEXT PRIMARY KEY,
	link        TEXT NOT NULL,
	is_valid    BOOLEAN NOT NULL DEFAULT false,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	failed      BOOLEAN NOT NULL DEFAULT false,
	payload     JSONB,
	workflow_id TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_link_analysis_valid ON link_analysis(is_valid, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_link_analysis_failed ON link_analysis(failed, updated_at DESC);

CREATE TABLE IF NOT EXISTS batch_analysis (
	batch_id    TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	result      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS content (
	link_id        TEXT PRIMARY KEY,
	link           TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	event_tags     JSONB NOT NULL DEFAULT '[]'::jsonb,
	space_tags     JSONB NOT NULL DEFAULT '[]'::jsonb,
	cat_tags       JSONB NOT NULL DEFAULT '[]'::jsonb,
	impact_factors JSONB NOT NULL DEFAULT '[]'::jsonb,
	publish_time   TEXT NOT NULL DEFAULT '',
	importance     TEXT NOT NULL DEFAULT 'low',
	state          JSONB NOT NULL DEFAULT '[]'::jsonb,
	source_note    TEXT NOT NULL DEFAULT '',
	homepage_url   TEXT NOT NULL DEFAULT '',
	workflow_id    TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_content_link ON content(link);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.Pool().Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.Pool().Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Reinit replaces the pool with a freshly dialed one. Stores built around an
// injected pool only re-check connectivity.
func (s *PostgresStore) Reinit(ctx context.Context) error {
	if s.connString == "" {
		return s.Ping(ctx)
	}
	pool, err := openPool(ctx, s.connString, s.poolCfg)
	if err != nil {
		return eris.Wrap(err, "postgres: reinit")
	}

	s.mu.Lock()
	oldClose := s.closeFn
	s.pool = pool
	s.closeFn = pool.Close
	s.mu.Unlock()

	if oldClose != nil {
		oldClose()
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeFn != nil {
		s.closeFn()
		s.closeFn = nil
	}
	return nil
}

func (s *PostgresStore) CreateOrUpdateRun(ctx context.Context, runID string, status model.Status, details model.Details, errText string) (*model.WorkflowRun, error) {
	if runID == "" {
		return nil, eris.New("postgres: run id is required")
	}
	runID = model.TruncateID(runID)
	if err := model.ValidateDetails(details); err != nil {
		return nil, eris.Wrap(err, "postgres: run details")
	}

	detailsJSON, err := marshalDetails(details)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal details")
	}
	now := time.Now().UTC()

	var run *model.WorkflowRun
	err = db.WithTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO runs (id, current_status, details, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (id) DO UPDATE SET
				current_status = EXCLUDED.current_status,
				details = runs.details || EXCLUDED.details,
				updated_at = EXCLUDED.updated_at`,
			runID, string(status), detailsJSON, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert run %s", runID)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO run_history (run_id, status, details, error, created_at) VALUES ($1, $2, $3, $4, $5)`,
			runID, string(status), detailsJSON, errText, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: append history %s", runID)
		}

		got, err := getRunPostgres(ctx, tx, runID)
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

// GetRun reads the run row and its history in one snapshot so that
// CurrentStatus always matches the last history entry.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	var run *model.WorkflowRun
	err := db.WithReadTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		var err error
		run, err = getRunPostgres(ctx, tx, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func getRunPostgres(ctx context.Context, q db.Querier, runID string) (*model.WorkflowRun, error) {
	var r model.WorkflowRun
	var detailsJSON []byte
	err := q.QueryRow(ctx,
		`SELECT id, current_status, details, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.CurrentStatus, &detailsJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if r.Details, err = unmarshalDetails(detailsJSON); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run details")
	}

	history, err := loadHistoryPostgres(ctx, q, []string{runID})
	if err != nil {
		return nil, err
	}
	r.History = history[runID]
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error) {
	query := `SELECT id, current_status, details, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND current_status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	var runs []model.WorkflowRun
	err := db.WithReadTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		var err error
		runs, err = listRunsPostgres(ctx, tx, query, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func listRunsPostgres(ctx context.Context, q db.Querier, query string, args []any) ([]model.WorkflowRun, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	var ids []string
	for rows.Next() {
		var r model.WorkflowRun
		var detailsJSON []byte
		if err := rows.Scan(&r.ID, &r.CurrentStatus, &detailsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if r.Details, err = unmarshalDetails(detailsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run details")
		}
		runs = append(runs, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list runs iterate")
	}
	rows.Close()

	if len(ids) == 0 {
		return runs, nil
	}
	history, err := loadHistoryPostgres(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].History = history[runs[i].ID]
	}
	return runs, nil
}

func loadHistoryPostgres(ctx context.Context, q db.Querier, runIDs []string) (map[string][]model.StatusEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT run_id, status, details, error, created_at FROM run_history WHERE run_id = ANY($1) ORDER BY run_id, id`,
		runIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load history")
	}
	defer rows.Close()

	out := make(map[string][]model.StatusEntry, len(runIDs))
	for rows.Next() {
		var runID string
		var e model.StatusEntry
		var detailsJSON []byte
		if err := rows.Scan(&runID, &e.Status, &detailsJSON, &e.Error, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		if e.Details, err = unmarshalDetails(detailsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal history details")
		}
		out[runID] = append(out[runID], e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load history iterate")
}

// marshalDetails encodes details for a JSON column; nil becomes "{}".
func marshalDetails(d model.Details) ([]byte, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func unmarshalDetails(b []byte) (model.Details, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var d model.Details
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	if len(d) == 0 {
		return nil, nil
	}
	return d, nil
}

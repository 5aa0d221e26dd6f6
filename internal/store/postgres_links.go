package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/internal/db"
	"github.com/sells-group/news-pipeline/internal/model"
)

var (
	homepageUpsert = db.UpsertConfig{
		Table:        "homepage_registry",
		Columns:      []string{"link", "source", "note", "active"},
		ConflictKeys: []string{"link"},
	}
	linkCacheUpsert = db.UpsertConfig{
		Table:        "link_cache",
		Columns:      []string{"homepage", "link", "first_seen_at"},
		ConflictKeys: []string{"homepage", "link"},
		UpdateCols:   []string{},
	}
	newLinkColumns = []string{"batch_id", "homepage", "link", "source", "note", "discovered_at"}
)

func (s *PostgresStore) ActiveHomepages(ctx context.Context) ([]model.Homepage, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT link, source, note, active FROM homepage_registry WHERE active ORDER BY link`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active homepages")
	}
	defer rows.Close()

	var out []model.Homepage
	for rows.Next() {
		var h model.Homepage
		if err := rows.Scan(&h.URL, &h.Source, &h.Note, &h.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan homepage")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: active homepages iterate")
}

func (s *PostgresStore) UpsertHomepages(ctx context.Context, homepages []model.Homepage) (int, error) {
	rows := homepageRows(homepages)
	if len(rows) == 0 {
		return 0, nil
	}
	var n int64
	err := db.WithTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		var err error
		n, err = db.BulkUpsert(ctx, tx, homepageUpsert, rows)
		return err
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert homepages")
	}
	return int(n), nil
}

func (s *PostgresStore) LinkCache(ctx context.Context, homepage string) ([]string, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT link FROM link_cache WHERE homepage = $1 ORDER BY link`, homepage)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: link cache %s", homepage)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, eris.Wrap(err, "postgres: scan link cache")
		}
		out = append(out, link)
	}
	return out, eris.Wrap(rows.Err(), "postgres: link cache iterate")
}

func (s *PostgresStore) AddToLinkCache(ctx context.Context, homepage string, links []string) (int, error) {
	rows := linkCacheRows(homepage, links, time.Now().UTC())
	if len(rows) == 0 {
		return 0, nil
	}
	var n int64
	err := db.WithTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		var err error
		n, err = db.BulkUpsert(ctx, tx, linkCacheUpsert, rows)
		return err
	})
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: add to link cache %s", homepage)
	}
	return int(n), nil
}

func (s *PostgresStore) SaveNewLinks(ctx context.Context, batch model.NewLinkBatch) error {
	if batch.BatchID == "" {
		return eris.New("postgres: batch id is required")
	}
	at := batch.DiscoveredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	links := uniqueNonEmpty(batch.Links)
	if len(links) == 0 {
		return nil
	}

	rows := make([][]any, len(links))
	for i, link := range links {
		rows[i] = []any{batch.BatchID, batch.Homepage, link, batch.Source, batch.Note, at}
	}

	return db.WithTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		if _, err := db.CopyFrom(ctx, tx, "new_links", newLinkColumns, rows); err != nil {
			return eris.Wrapf(err, "postgres: save new links %s", batch.BatchID)
		}
		if _, err := db.BulkUpsert(ctx, tx, linkCacheUpsert, linkCacheRows(batch.Homepage, links, at)); err != nil {
			return eris.Wrapf(err, "postgres: cache new links %s", batch.BatchID)
		}
		return nil
	})
}

func (s *PostgresStore) PruneLinkCache(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.Pool().Exec(ctx, `DELETE FROM link_cache WHERE first_seen_at < $1`, olderThan)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune link cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) LatestNewLinks(ctx context.Context, max int) ([]model.LinkRecord, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT batch_id, homepage, link, source, note FROM new_links
		WHERE id IN (SELECT MAX(id) FROM new_links GROUP BY link)
		ORDER BY id DESC LIMIT $1`,
		pgLimit(max),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest new links")
	}
	defer rows.Close()

	var out []model.LinkRecord
	for rows.Next() {
		var r model.LinkRecord
		if err := rows.Scan(&r.BatchID, &r.Homepage, &r.URL, &r.Source, &r.Note); err != nil {
			return nil, eris.Wrap(err, "postgres: scan new link")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: latest new links iterate")
}

func (s *PostgresStore) SaveLinkAnalysis(ctx context.Context, a model.LinkAnalysis) error {
	if a.LinkID == "" {
		return eris.New("postgres: link id is required")
	}
	now := time.Now().UTC()
	return db.WithTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO link_analysis (link_id, link, is_valid, confidence, reason, failed, payload, workflow_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (link_id) DO UPDATE SET
				link = EXCLUDED.link,
				is_valid = EXCLUDED.is_valid,
				confidence = EXCLUDED.confidence,
				reason = EXCLUDED.reason,
				failed = EXCLUDED.failed,
				payload = EXCLUDED.payload,
				updated_at = EXCLUDED.updated_at`,
			a.LinkID, a.URL, a.IsValid, a.Confidence, a.Reason, a.Failed, nullableJSON(a.Payload), a.WorkflowID, now,
		)
		return eris.Wrapf(err, "postgres: save link analysis %s", a.LinkID)
	})
}

func (s *PostgresStore) GetLinkAnalysis(ctx context.Context, linkID string) (*model.LinkAnalysis, error) {
	a, err := scanAnalysis(s.Pool().QueryRow(ctx,
		`SELECT link_id, link, is_valid, confidence, reason, failed, payload, workflow_id, created_at, updated_at
		FROM link_analysis WHERE link_id = $1`, linkID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get link analysis %s", linkID)
	}
	return a, nil
}

func (s *PostgresStore) FailedAnalyses(ctx context.Context, limit int) ([]model.LinkAnalysis, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT link_id, link, is_valid, confidence, reason, failed, payload, workflow_id, created_at, updated_at
		FROM link_analysis WHERE failed ORDER BY updated_at DESC, link_id LIMIT $1`,
		pgLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: failed analyses")
	}
	defer rows.Close()

	var out []model.LinkAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: failed analyses iterate")
}

func (s *PostgresStore) LatestValidLinks(ctx context.Context, max int) ([]model.LinkRecord, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT a.link_id, a.link, a.workflow_id FROM link_analysis a
		WHERE a.is_valid AND NOT EXISTS (SELECT 1 FROM content c WHERE c.link = a.link)
		ORDER BY a.updated_at DESC, a.link_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest valid links")
	}
	defer rows.Close()

	out, err := collectValidLinks(rows, max)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest valid links")
	}
	return out, nil
}

func (s *PostgresStore) SaveBatchAnalysis(ctx context.Context, b model.BatchAnalysis) error {
	if b.BatchID == "" {
		return eris.New("postgres: batch id is required")
	}
	result, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch analysis")
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return db.WithTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO batch_analysis (batch_id, workflow_id, result, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (batch_id) DO UPDATE SET result = EXCLUDED.result`,
			b.BatchID, b.WorkflowID, result, created,
		)
		return eris.Wrapf(err, "postgres: save batch analysis %s", b.BatchID)
	})
}

func (s *PostgresStore) SaveContent(ctx context.Context, c model.ContentRecord) error {
	if c.LinkID == "" {
		return eris.New("postgres: link id is required")
	}
	args, err := contentArgs(c)
	if err != nil {
		return eris.Wrap(err, "postgres: encode content")
	}
	return db.WithTx(ctx, s.Pool(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO content (link_id, link, title, content, event_tags, space_tags, cat_tags, impact_factors,
				publish_time, importance, state, source_note, homepage_url, workflow_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (link_id) DO UPDATE SET
				link = EXCLUDED.link,
				title = EXCLUDED.title,
				content = EXCLUDED.content,
				event_tags = EXCLUDED.event_tags,
				space_tags = EXCLUDED.space_tags,
				cat_tags = EXCLUDED.cat_tags,
				impact_factors = EXCLUDED.impact_factors,
				publish_time = EXCLUDED.publish_time,
				importance = EXCLUDED.importance,
				state = EXCLUDED.state,
				source_note = EXCLUDED.source_note,
				homepage_url = EXCLUDED.homepage_url,
				workflow_id = EXCLUDED.workflow_id`,
			args...,
		)
		return eris.Wrapf(err, "postgres: save content %s", c.LinkID)
	})
}

func (s *PostgresStore) GetContent(ctx context.Context, linkID string) (*model.ContentRecord, error) {
	c, err := scanContent(s.Pool().QueryRow(ctx,
		`SELECT link_id, link, title, content, event_tags, space_tags, cat_tags, impact_factors,
			publish_time, importance, state, source_note, homepage_url, workflow_id, created_at
		FROM content WHERE link_id = $1`, linkID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get content %s", linkID)
	}
	return c, nil
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/news-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

var runColumns = []string{"id", "current_status", "details", "created_at", "updated_at"}
var historyColumns = []string{"run_id", "status", "details", "error", "created_at"}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`SELECT id, current_status, details, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectCommit()

	run, err := s.GetRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_WithHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("wf_1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("wf_1", model.StatusScraped, []byte(`{"links_found":3}`), now, now))
	mock.ExpectQuery(`FROM run_history WHERE run_id = ANY\(\$1\)`).
		WithArgs([]string{"wf_1"}).
		WillReturnRows(pgxmock.NewRows(historyColumns).
			AddRow("wf_1", model.StatusStarted, []byte(`{}`), "", now).
			AddRow("wf_1", model.StatusScraping, []byte(`{}`), "", now).
			AddRow("wf_1", model.StatusScraped, []byte(`{"links_found":3}`), "", now))
	mock.ExpectCommit()

	run, err := s.GetRun(context.Background(), "wf_1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.StatusScraped, run.CurrentStatus)
	assert.Equal(t, float64(3), run.Details["links_found"])
	require.Len(t, run.History, 3)
	assert.Equal(t, run.CurrentStatus, run.History[len(run.History)-1].Status)
	assert.Nil(t, run.History[0].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_RollsBackReadOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("wf_1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("wf_1", model.StatusScraped, []byte(`{}`), now, now))
	mock.ExpectQuery(`FROM run_history`).
		WithArgs([]string{"wf_1"}).
		WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	run, err := s.GetRun(context.Background(), "wf_1")
	require.Error(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOrUpdateRun_SingleTransaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs .* ON CONFLICT \(id\) DO UPDATE SET`).
		WithArgs("wf_1", "STARTED", []byte(`{"task":"discover"}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO run_history`).
		WithArgs("wf_1", "STARTED", []byte(`{"task":"discover"}`), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("wf_1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("wf_1", model.StatusStarted, []byte(`{"task":"discover"}`), now, now))
	mock.ExpectQuery(`FROM run_history`).
		WithArgs([]string{"wf_1"}).
		WillReturnRows(pgxmock.NewRows(historyColumns).
			AddRow("wf_1", model.StatusStarted, []byte(`{"task":"discover"}`), "", now))
	mock.ExpectCommit()

	run, err := s.CreateOrUpdateRun(context.Background(), "wf_1", model.StatusStarted,
		model.Details{model.DetailTask: "discover"}, "")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "wf_1", run.ID)
	require.Len(t, run.History, 1)
	assert.Equal(t, "discover", run.History[0].Details[model.DetailTask])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOrUpdateRun_RollsBackOnHistoryFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs("wf_1", "FAILED", []byte(`{}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO run_history`).
		WithArgs("wf_1", "FAILED", []byte(`{}`), "boom", pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	run, err := s.CreateOrUpdateRun(context.Background(), "wf_1", model.StatusFailed, nil, "boom")
	require.Error(t, err)
	assert.Nil(t, run)
	assert.Contains(t, err.Error(), "append history")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOrUpdateRun_TruncatesID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	long := "workflow_extended_20250101120000_abcdefgh_0123456789_overflow"
	want := long[:model.MaxRunIDLength]

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(want, "STARTED", []byte(`{}`), pgxmock.AnyArg()).
		WillReturnError(errors.New("stop here"))
	mock.ExpectRollback()

	_, err := s.CreateOrUpdateRun(context.Background(), long, model.StatusStarted, nil, "")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOrUpdateRun_RequiresID(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.CreateOrUpdateRun(context.Background(), "", model.StatusStarted, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run id is required")
}

func TestPostgresStore_ListRuns_StatusAndLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`FROM runs WHERE true AND current_status = \$1 ORDER BY updated_at DESC, id DESC LIMIT \$2`).
		WithArgs("FAILED", 5).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("wf_b", model.StatusFailed, []byte(`{}`), now, now).
			AddRow("wf_a", model.StatusFailed, []byte(`{}`), now, now.Add(-time.Minute)))
	mock.ExpectQuery(`FROM run_history`).
		WithArgs([]string{"wf_b", "wf_a"}).
		WillReturnRows(pgxmock.NewRows(historyColumns).
			AddRow("wf_a", model.StatusStarted, []byte(`{}`), "", now).
			AddRow("wf_a", model.StatusFailed, []byte(`{}`), "x", now).
			AddRow("wf_b", model.StatusStarted, []byte(`{}`), "", now).
			AddRow("wf_b", model.StatusFailed, []byte(`{}`), "y", now))
	mock.ExpectCommit()

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.StatusFailed, Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "wf_b", runs[0].ID)
	assert.Equal(t, "y", runs[0].LastError())
	assert.Len(t, runs[1].History, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBeginTx(snapshotTx)
	mock.ExpectQuery(`FROM runs WHERE true ORDER BY updated_at DESC, id DESC$`).
		WillReturnRows(pgxmock.NewRows(runColumns))
	mock.ExpectCommit()

	runs, err := s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveNewLinks_CopyAndCacheInOneTx(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"new_links"}, newLinkColumns).WillReturnResult(2)
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_link_cache"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_link_cache"}, linkCacheUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("homepage", "link"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.SaveNewLinks(context.Background(), model.NewLinkBatch{
		BatchID:      "batch_1",
		Homepage:     "https://news.example.com",
		Links:        []string{"https://news.example.com/a", "https://news.example.com/b", "https://news.example.com/a", ""},
		DiscoveredAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveNewLinks_CacheFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"new_links"}, newLinkColumns).WillReturnResult(1)
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err := s.SaveNewLinks(context.Background(), model.NewLinkBatch{
		BatchID:  "batch_1",
		Homepage: "https://news.example.com",
		Links:    []string{"https://news.example.com/a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache new links")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveNewLinks_EmptyBatchIsNoop(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.SaveNewLinks(context.Background(), model.NewLinkBatch{BatchID: "b", Links: []string{" "}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLinkAnalysis_KeepsWorkflowID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO link_analysis`).
		WithArgs("wf_1_1", "https://a", true, 0.9, "looks like news", false, pgxmock.AnyArg(), "wf_1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveLinkAnalysis(context.Background(), model.LinkAnalysis{
		LinkID: "wf_1_1", URL: "https://a", IsValid: true, Confidence: 0.9,
		Reason: "looks like news", WorkflowID: "wf_1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLinkAnalysis_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM link_analysis WHERE link_id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.GetLinkAnalysis(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestValidLinks_DedupesAndCaps(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM link_analysis a\s+WHERE a.is_valid AND NOT EXISTS`).
		WillReturnRows(pgxmock.NewRows([]string{"link_id", "link", "workflow_id"}).
			AddRow("wf_2_1", "https://a", "wf_2").
			AddRow("wf_1_1", "https://a", "wf_1").
			AddRow("wf_1_2", "https://b", "wf_1").
			AddRow("wf_1_3", "https://c", "wf_1"))

	links, err := s.LatestValidLinks(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "wf_2_1", links[0].LinkID)
	assert.Equal(t, "https://b", links[1].URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveContent_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO content .* ON CONFLICT \(link_id\) DO UPDATE SET`).
		WithArgs("wf_1_1", "https://a", "Title", "Body",
			[]byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`[]`),
			"", "low", []byte(`["extraction-succeeded","path-primary"]`),
			"", "", "wf_1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveContent(context.Background(), model.ContentRecord{
		LinkID: "wf_1_1", URL: "https://a", Title: "Title", Content: "Body",
		State:      []string{model.StateExtractionSucceeded, model.StatePathPrimary},
		WorkflowID: "wf_1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PruneLinkCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM link_cache WHERE first_seen_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := s.PruneLinkCache(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Reinit_InjectedPoolPings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Reinit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package nameindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) (*Index, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, Config{SimilarityThreshold: 0.3, DefaultLimit: 50}), mock
}

func TestSearch_TrigramRanked(t *testing.T) {
	ix, mock := newTestIndex(t)
	ix.ready.Store(true)

	mock.ExpectQuery(`SELECT cui, denumire, similarity\(name_norm, \$1\)`).
		WithArgs("alpha bet", 0.3, 50).
		WillReturnRows(pgxmock.NewRows([]string{"cui", "denumire", "sim"}).
			AddRow("100200", "Alpha Beta SRL", 0.82).
			AddRow("100300", "Alpha Bet Construct", 0.61))

	matches, err := ix.Search(context.Background(), "Alpha Bet", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "100200", matches[0].CUI)
	assert.InDelta(t, 0.82, matches[0].Similarity, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_NormalizesQuery(t *testing.T) {
	ix, mock := newTestIndex(t)
	ix.ready.Store(true)

	mock.ExpectQuery(`similarity\(name_norm, \$1\)`).
		WithArgs("teava inalta", 0.3, 50).
		WillReturnRows(pgxmock.NewRows([]string{"cui", "denumire", "sim"}))

	_, err := ix.Search(context.Background(), "  Țeavă Înaltă ", 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_DigitsExactCUI(t *testing.T) {
	ix, mock := newTestIndex(t)
	ix.ready.Store(true)

	mock.ExpectQuery(`SELECT cui, denumire FROM firms WHERE cui = \$1`).
		WithArgs("12345678").
		WillReturnRows(pgxmock.NewRows([]string{"cui", "denumire"}).
			AddRow("12345678", "Alpha Beta SRL"))

	matches, err := ix.Search(context.Background(), "12345678", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_EmptyQuery(t *testing.T) {
	ix, _ := newTestIndex(t)
	matches, err := ix.Search(context.Background(), "   ", 10)
	assert.NoError(t, err)
	assert.Nil(t, matches)
}

func TestSearch_FallbackWhenNotReady(t *testing.T) {
	ix, mock := newTestIndex(t)

	mock.ExpectQuery(`name_norm LIKE`).
		WithArgs("alpha", 50).
		WillReturnRows(pgxmock.NewRows([]string{"cui", "denumire"}).
			AddRow("100200", "Alpha Beta SRL"))

	matches, err := ix.Search(context.Background(), "Alpha", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Zero(t, matches[0].Similarity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_DegradesOnTrigramError(t *testing.T) {
	ix, mock := newTestIndex(t)
	ix.ready.Store(true)

	mock.ExpectQuery(`similarity\(name_norm, \$1\)`).
		WithArgs("alpha", 0.3, 50).
		WillReturnError(fmt.Errorf(`function similarity(text, text) does not exist`))
	mock.ExpectQuery(`name_norm LIKE`).
		WithArgs("alpha", 50).
		WillReturnRows(pgxmock.NewRows([]string{"cui", "denumire"}).
			AddRow("100200", "Alpha Beta SRL"))

	matches, err := ix.Search(context.Background(), "Alpha", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.False(t, ix.Ready(), "failed trigram query should clear the ready flag")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProbe(t *testing.T) {
	ix, mock := newTestIndex(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(trigramIndexName).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, ix.Probe(context.Background()))
	assert.True(t, ix.Ready())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebuild_UpdatesChangedProjectionsOnly(t *testing.T) {
	ix, mock := newTestIndex(t)

	mock.ExpectQuery(`SELECT cui, denumire, name_norm FROM firms`).
		WillReturnRows(pgxmock.NewRows([]string{"cui", "denumire", "name_norm"}).
			AddRow("100200", "Alpha Beta SRL", "alpha beta srl"). // unchanged
			AddRow("100300", "Țeavă SRL", ""))                    // needs refresh

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_firms"}, []string{"cui", "name_norm"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "firms"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	mock.ExpectExec(`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_firms_name_trgm`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, ix.Rebuild(context.Background()))
	assert.True(t, ix.Ready())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebuild_NoChanges(t *testing.T) {
	ix, mock := newTestIndex(t)

	mock.ExpectQuery(`SELECT cui, denumire, name_norm FROM firms`).
		WillReturnRows(pgxmock.NewRows([]string{"cui", "denumire", "name_norm"}).
			AddRow("100200", "Alpha Beta SRL", "alpha beta srl"))

	mock.ExpectExec(`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_firms_name_trgm`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, ix.Rebuild(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebuild_IndexFailureLeavesNotReady(t *testing.T) {
	ix, mock := newTestIndex(t)

	mock.ExpectQuery(`SELECT cui, denumire, name_norm FROM firms`).
		WillReturnRows(pgxmock.NewRows([]string{"cui", "denumire", "name_norm"}))
	mock.ExpectExec(`CREATE INDEX CONCURRENTLY`).
		WillReturnError(fmt.Errorf("deadlock detected"))

	err := ix.Rebuild(context.Background())
	require.Error(t, err)
	assert.False(t, ix.Ready())
}

func TestAnalyze_NonFatal(t *testing.T) {
	ix, mock := newTestIndex(t)

	mock.ExpectExec(`ANALYZE firms`).WillReturnError(fmt.Errorf("permission denied"))
	ix.Analyze(context.Background()) // must not panic or propagate
	assert.NoError(t, mock.ExpectationsWereMet())
}

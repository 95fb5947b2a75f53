package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "firms",
		Columns:      []string{"cui", "denumire"},
		ConflictKeys: []string{"cui"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "firms",
		ConflictKeys: []string{"cui"},
	}, [][]any{{"123", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "firms",
		Columns: []string{"cui", "denumire"},
	}, [][]any{{"123", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_firms"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_firms"}, []string{"cui", "name_norm"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "firms" .+ ON CONFLICT \("cui"\) DO UPDATE SET "name_norm" = EXCLUDED."name_norm" WHERE "firms"."name_norm" IS DISTINCT FROM EXCLUDED."name_norm"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "firms",
		Columns:      []string{"cui", "name_norm"},
		ConflictKeys: []string{"cui"},
	}, [][]any{{"100200", "alpha beta srl"}, {"100201", "gamma srl"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_firms"}, []string{"cui", "name_norm"}).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "firms",
		Columns:      []string{"cui", "name_norm"},
		ConflictKeys: []string{"cui"},
	}, [][]any{{"100200", "alpha"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"firms", `"firms"`},
		{"public.caen_codes", `"public"."caen_codes"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"cui", "denumire", "caen"})
	assert.Equal(t, `"cui", "denumire", "caen"`, result)
}

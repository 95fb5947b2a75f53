package activity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/opencrm-ro/firmdir/internal/db"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InsertIdempotent relies on the unique index on dedup_key: the conflict
// check happens inside the same atomic insert, closing the race window
// between concurrent identical submissions.
func (s *PostgresStore) InsertIdempotent(ctx context.Context, a *Activity, dedupKey string) (bool, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO activities (cui, kind, body, score, created_at, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id`,
		a.CUI, a.Kind, a.Body, a.Score, a.CreatedAt, dedupKey,
	).Scan(&a.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict: a row with this dedup key already exists.
			return false, nil
		}
		return false, eris.Wrap(err, "activity: insert")
	}
	return true, nil
}

// FindByDedupKey returns the canonical record for a dedup key, or nil.
func (s *PostgresStore) FindByDedupKey(ctx context.Context, dedupKey string) (*Activity, error) {
	a := &Activity{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, cui, kind, body, score, created_at
		FROM activities WHERE dedup_key = $1`,
		dedupKey,
	).Scan(&a.ID, &a.CUI, &a.Kind, &a.Body, &a.Score, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "activity: find by dedup key")
	}
	return a, nil
}

// ListByFirm deduplicates on the read path too: DISTINCT ON (dedup_key)
// guards against duplicates that predate the unique index.
func (s *PostgresStore) ListByFirm(ctx context.Context, cui string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, cui, kind, body, score, created_at FROM (
			SELECT DISTINCT ON (dedup_key) id, cui, kind, body, score, created_at
			FROM activities
			WHERE cui = $1
			ORDER BY dedup_key, id
		) a
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		cui, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "activity: list for firm %s", cui)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ListForDate returns the agenda view: one firm's activities within a single
// UTC calendar day.
func (s *PostgresStore) ListForDate(ctx context.Context, cui string, day time.Time) ([]Activity, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT id, cui, kind, body, score, created_at
		FROM activities
		WHERE cui = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC`,
		cui, start, end,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "activity: list for date %s", cui)
	}
	defer rows.Close()
	return scanActivities(rows)
}

func scanActivities(rows pgx.Rows) ([]Activity, error) {
	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.CUI, &a.Kind, &a.Body, &a.Score, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "activity: scan")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

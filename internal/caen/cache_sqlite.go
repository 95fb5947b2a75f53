package caen

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/opencrm-ro/firmdir/internal/db"
)

// Cache is a local SQLite snapshot of the nomenclature for offline CLI
// lookups.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the cache file at path.
func OpenCache(path string) (*Cache, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "caen: open cache")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "caen: exec %s", pragma)
		}
	}
	if _, err := sdb.Exec(`
		CREATE TABLE IF NOT EXISTS caen_codes (
			code        TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			nace        TEXT,
			division    TEXT
		)`); err != nil {
		sdb.Close()
		return nil, eris.Wrap(err, "caen: create cache schema")
	}
	return &Cache{db: sdb}, nil
}

// Close releases the cache file.
func (c *Cache) Close() error { return c.db.Close() }

// Sync replaces the cache contents with a fresh snapshot from Postgres.
func (c *Cache) Sync(ctx context.Context, pool db.Pool) (int, error) {
	records, err := ListCodes(ctx, pool)
	if err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "caen: begin cache sync")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM caen_codes`); err != nil {
		return 0, eris.Wrap(err, "caen: clear cache")
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO caen_codes (code, description, nace, division)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "caen: prepare cache insert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Code, r.Description, r.NACE, r.Division); err != nil {
			return 0, eris.Wrapf(err, "caen: cache code %s", r.Code)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "caen: commit cache sync")
	}
	return len(records), nil
}

// Lookup returns the cached record for an exact code, or nil.
func (c *Cache) Lookup(ctx context.Context, code string) (*Record, error) {
	r := &Record{}
	err := c.db.QueryRowContext(ctx, `
		SELECT code, description, nace, division
		FROM caen_codes WHERE code = ?`, code,
	).Scan(&r.Code, &r.Description, &r.NACE, &r.Division)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "caen: lookup %s", code)
	}
	return r, nil
}

// Search returns cached records whose code starts with the given prefix.
func (c *Cache) Search(ctx context.Context, prefix string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT code, description, nace, division
		FROM caen_codes WHERE code LIKE ? || '%'
		ORDER BY code LIMIT ?`, prefix, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "caen: search %s", prefix)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Code, &r.Description, &r.NACE, &r.Division); err != nil {
			return nil, eris.Wrap(err, "caen: scan cached code")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package firm

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/opencrm-ro/firmdir/internal/db"
	"github.com/opencrm-ro/firmdir/internal/nameindex"
)

var firmColumns = []string{
	"cui", "denumire", "name_norm", "judet", "localitate",
	"cifra_afaceri", "profit_net", "angajati", "licente", "caen", "updated_at",
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetFirm fetches one firm by CUI. Returns (nil, nil) when absent.
func (s *PostgresStore) GetFirm(ctx context.Context, cui string) (*Firm, error) {
	f := &Firm{}
	err := s.pool.QueryRow(ctx, `
		SELECT cui, denumire, judet, localitate, cifra_afaceri, profit_net,
		       angajati, licente, caen
		FROM firms WHERE cui = $1`,
		cui,
	).Scan(&f.CUI, &f.Name, &f.County, &f.Locality, &f.Revenue, &f.NetProfit,
		&f.Employees, &f.Licenses, &f.CAEN)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "firm: get %s", cui)
	}
	return f, nil
}

// UpsertFirms bulk-refreshes firm rows via a temp-table upsert. Unchanged
// rows are not rewritten, so reloading the same file is a near no-op. The
// name projection is written alongside so search stays consistent with the
// displayed name.
func (s *PostgresStore) UpsertFirms(ctx context.Context, firms []Firm) (int64, error) {
	if len(firms) == 0 {
		return 0, nil
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "firms",
		Columns:      firmColumns,
		ConflictKeys: []string{"cui"},
		UpdateCols: []string{
			"denumire", "name_norm", "judet", "localitate",
			"cifra_afaceri", "profit_net", "angajati", "licente", "caen",
		},
	}, firmRows(firms))
	if err != nil {
		return 0, eris.Wrap(err, "firm: bulk upsert")
	}
	return n, nil
}

// ReplaceFirms truncates and reloads the firms table in one transaction, so
// readers see either the old directory or the new one, never a mix.
func (s *PostgresStore) ReplaceFirms(ctx context.Context, firms []Firm) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "firm: begin replace")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE firms`); err != nil {
		return 0, eris.Wrap(err, "firm: truncate")
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"firms"}, firmColumns, pgx.CopyFromRows(firmRows(firms)))
	if err != nil {
		return 0, eris.Wrap(err, "firm: copy")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "firm: commit replace")
	}
	return n, nil
}

// Count returns the number of firms in the directory.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM firms`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "firm: count")
	}
	return n, nil
}

func firmRows(firms []Firm) [][]any {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(firms))
	for _, f := range firms {
		rows = append(rows, []any{
			f.CUI,
			f.Name,
			nameindex.Normalize(f.Name, nameindex.DefaultProjectionLen),
			f.County,
			f.Locality,
			f.Revenue,
			f.NetProfit,
			f.Employees,
			f.Licenses,
			f.CAEN,
			now,
		})
	}
	return rows
}

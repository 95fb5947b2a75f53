package nameindex

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opencrm-ro/firmdir/internal/db"
)

const (
	trigramIndexName = "idx_firms_name_trgm"
	rebuildBatchSize = 5000
)

// Match is one ranked search result.
type Match struct {
	CUI        string  `json:"cui"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// Config tunes search behavior.
type Config struct {
	// SimilarityThreshold excludes matches scoring below it. Default 0.3.
	SimilarityThreshold float64
	// ProjectionLen bounds the normalized name projection.
	ProjectionLen int
	// DefaultLimit caps result counts when the caller passes limit <= 0.
	DefaultLimit int
}

// Index serves fuzzy name search over the firms table and owns the derived
// trigram structure. The underlying projection is rebuildable from firm rows
// alone; losing it never loses data.
type Index struct {
	pool db.Pool
	cfg  Config
	log  *zap.Logger

	// ready is the read pointer for the derived structure: once the trigram
	// index exists, searches use similarity ranking; before that (or after a
	// failed probe) they fall back to substring matching.
	ready atomic.Bool
}

// New creates an Index. Call Probe or Rebuild before serving to set the
// ready flag; until then searches use the degraded fallback path.
func New(pool db.Pool, cfg Config) *Index {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.3
	}
	if cfg.ProjectionLen <= 0 {
		cfg.ProjectionLen = DefaultProjectionLen
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	return &Index{
		pool: pool,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "nameindex")),
	}
}

// Ready reports whether the trigram index is serving queries.
func (ix *Index) Ready() bool {
	return ix.ready.Load()
}

// Probe checks the catalog for the trigram index and sets the ready flag
// accordingly. Safe to call at startup and after rebuilds.
func (ix *Index) Probe(ctx context.Context) error {
	var exists bool
	err := ix.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)`,
		trigramIndexName,
	).Scan(&exists)
	if err != nil {
		return eris.Wrap(err, "nameindex: probe index")
	}
	ix.ready.Store(exists)
	return nil
}

// Search returns firms ranked by trigram similarity against the normalized
// query, ties broken by cui. Digit-only queries short-circuit to an exact
// registration-code lookup. When the trigram index is unavailable the search
// degrades to substring matching with zero scores.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 || limit > 1000 {
		limit = ix.cfg.DefaultLimit
	}

	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}

	if isDigits(q) {
		return ix.searchExactCUI(ctx, q)
	}

	norm := Normalize(q, ix.cfg.ProjectionLen)

	if ix.ready.Load() {
		matches, err := ix.searchTrigram(ctx, norm, limit)
		if err == nil {
			return matches, nil
		}
		// Degrade rather than fail: the index may have been dropped or the
		// extension removed underneath us.
		ix.ready.Store(false)
		ix.log.Warn("trigram search failed, falling back to substring match", zap.Error(err))
	}

	return ix.searchSubstring(ctx, norm, limit)
}

func (ix *Index) searchExactCUI(ctx context.Context, cui string) ([]Match, error) {
	rows, err := ix.pool.Query(ctx,
		`SELECT cui, denumire FROM firms WHERE cui = $1`,
		cui,
	)
	if err != nil {
		return nil, eris.Wrap(err, "nameindex: exact cui search")
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.CUI, &m.Name); err != nil {
			return nil, eris.Wrap(err, "nameindex: scan exact match")
		}
		m.Similarity = 1
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "nameindex: exact cui search iterate")
}

func (ix *Index) searchTrigram(ctx context.Context, norm string, limit int) ([]Match, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT cui, denumire, similarity(name_norm, $1)::float8 AS sim
		FROM firms
		WHERE similarity(name_norm, $1) >= $2
		ORDER BY sim DESC, cui
		LIMIT $3`,
		norm, ix.cfg.SimilarityThreshold, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "nameindex: trigram search")
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.CUI, &m.Name, &m.Similarity); err != nil {
			return nil, eris.Wrap(err, "nameindex: scan trigram match")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "nameindex: trigram search iterate")
}

func (ix *Index) searchSubstring(ctx context.Context, norm string, limit int) ([]Match, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT cui, denumire
		FROM firms
		WHERE name_norm LIKE '%' || $1 || '%'
		ORDER BY denumire, cui
		LIMIT $2`,
		norm, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "nameindex: substring search")
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.CUI, &m.Name); err != nil {
			return nil, eris.Wrap(err, "nameindex: scan substring match")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "nameindex: substring search iterate")
}

// Rebuild recomputes the normalized projection for every firm and builds the
// trigram index online. It never takes an exclusive lock: projections are
// flushed in bulk-upsert batches that only touch changed rows, and the index
// is created CONCURRENTLY so reads and writes proceed throughout. On success
// the ready flag flips; on failure any previously built index keeps serving.
func (ix *Index) Rebuild(ctx context.Context) error {
	start := time.Now()

	changed, scanned, err := ix.refreshProjections(ctx)
	if err != nil {
		return err
	}

	// CONCURRENTLY must run outside a transaction; pool.Exec autocommits.
	if _, err := ix.pool.Exec(ctx,
		`CREATE INDEX CONCURRENTLY IF NOT EXISTS `+trigramIndexName+
			` ON firms USING gin (name_norm gin_trgm_ops)`,
	); err != nil {
		return eris.Wrap(err, "nameindex: create trigram index")
	}

	ix.ready.Store(true)

	ix.log.Info("rebuild complete",
		zap.Int("firms_scanned", scanned),
		zap.Int64("projections_updated", changed),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// refreshProjections streams every firm, recomputes its projection in
// memory, and bulk-upserts only the rows whose stored projection differs.
func (ix *Index) refreshProjections(ctx context.Context) (int64, int, error) {
	rows, err := ix.pool.Query(ctx, `SELECT cui, denumire, name_norm FROM firms`)
	if err != nil {
		return 0, 0, eris.Wrap(err, "nameindex: stream firms")
	}

	var pending [][]any
	scanned := 0
	for rows.Next() {
		var cui, name, stored string
		if err := rows.Scan(&cui, &name, &stored); err != nil {
			rows.Close()
			return 0, scanned, eris.Wrap(err, "nameindex: scan firm")
		}
		scanned++
		if want := Normalize(name, ix.cfg.ProjectionLen); want != stored {
			pending = append(pending, []any{cui, want})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, scanned, eris.Wrap(err, "nameindex: stream firms iterate")
	}
	rows.Close()

	var changed int64
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return changed, scanned, eris.Wrap(err, "nameindex: rebuild canceled")
		}
		batch := pending
		if len(batch) > rebuildBatchSize {
			batch = batch[:rebuildBatchSize]
		}
		pending = pending[len(batch):]

		n, err := db.BulkUpsert(ctx, ix.pool, db.UpsertConfig{
			Table:        "firms",
			Columns:      []string{"cui", "name_norm"},
			ConflictKeys: []string{"cui"},
		}, batch)
		if err != nil {
			return changed, scanned, eris.Wrap(err, "nameindex: flush projections")
		}
		changed += n
	}

	return changed, scanned, nil
}

// Analyze refreshes planner statistics for the firms table after bulk
// changes. Advisory: failures are logged, never fatal, since stale stats
// only cost performance.
func (ix *Index) Analyze(ctx context.Context) {
	if _, err := ix.pool.Exec(ctx, `ANALYZE firms`); err != nil {
		ix.log.Warn("analyze failed", zap.Error(err))
		return
	}
	ix.log.Info("planner statistics refreshed")
}

// Maintain runs Rebuild then Analyze on a fixed interval until ctx is
// canceled. This is the service's only background task; it coordinates with
// request traffic solely through the atomic ready flag.
func (ix *Index) Maintain(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := ix.Rebuild(ctx); err != nil {
			ix.log.Warn("background rebuild failed, stale index keeps serving", zap.Error(err))
		} else {
			ix.Analyze(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

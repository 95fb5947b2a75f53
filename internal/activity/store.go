package activity

import (
	"context"
	"time"
)

// Store is the persistence boundary for the ledger. The uniqueness of the
// dedup key must be enforced inside the insert itself, not as a separate
// check, so concurrent identical submissions cannot both land.
type Store interface {
	// InsertIdempotent atomically inserts a unless a row with the same dedup
	// key exists. It reports whether a new row was created and fills in the
	// server-assigned ID on success.
	InsertIdempotent(ctx context.Context, a *Activity, dedupKey string) (created bool, err error)

	// FindByDedupKey returns the canonical record for a dedup key, or nil.
	FindByDedupKey(ctx context.Context, dedupKey string) (*Activity, error)

	// ListByFirm returns a firm's activities newest-first, deduplicated by
	// dedup key even if storage-level uniqueness was somehow bypassed.
	ListByFirm(ctx context.Context, cui string, limit int) ([]Activity, error)

	// ListForDate returns a firm's activities within one calendar day (UTC),
	// newest-first.
	ListForDate(ctx context.Context, cui string, day time.Time) ([]Activity, error)
}

package firm

import "context"

// Store is the persistence boundary for firm records.
type Store interface {
	// GetFirm fetches one firm by CUI. Returns (nil, nil) when absent.
	GetFirm(ctx context.Context, cui string) (*Firm, error)

	// UpsertFirms bulk-refreshes firm rows, touching only rows whose content
	// actually changed. Returns the number of rows written.
	UpsertFirms(ctx context.Context, firms []Firm) (int64, error)

	// ReplaceFirms truncates and reloads the firms table in one transaction.
	// Seed loads only.
	ReplaceFirms(ctx context.Context, firms []Firm) (int64, error)

	// Count returns the number of firms in the directory.
	Count(ctx context.Context) (int64, error)
}

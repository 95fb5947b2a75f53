package firm

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/opencrm-ro/firmdir/internal/activity"
)

// QueryService serves the firm read model, coalescing concurrent fetches of
// the same firm into a single store round-trip.
type QueryService struct {
	store  Store
	ledger *activity.Ledger
	group  singleflight.Group
	log    *zap.Logger
}

// NewQueryService creates a QueryService over the given store and ledger.
func NewQueryService(store Store, ledger *activity.Ledger) *QueryService {
	return &QueryService{
		store:  store,
		ledger: ledger,
		log:    zap.L().With(zap.String("component", "firmquery")),
	}
}

// Get returns the complete view for one firm: the firm row plus its activity
// history. Concurrent calls for the same CUI share one in-flight fetch; every
// coalesced caller gets the same outcome, ErrNotFound included.
func (q *QueryService) Get(ctx context.Context, cui string) (*FirmView, error) {
	v, err, shared := q.group.Do(cui, func() (any, error) {
		return q.fetch(ctx, cui)
	})
	if shared {
		q.log.Debug("coalesced firm fetch", zap.String("cui", cui))
	}
	if err != nil {
		return nil, err
	}
	return v.(*FirmView), nil
}

// fetch assembles the replacement read model. The view is complete or absent,
// never partial.
func (q *QueryService) fetch(ctx context.Context, cui string) (*FirmView, error) {
	f, err := q.store.GetFirm(ctx, cui)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}
	acts, err := q.ledger.ListByFirm(ctx, cui, 0)
	if err != nil {
		return nil, err
	}
	return &FirmView{Firm: *f, Activities: acts}, nil
}

package firm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencrm-ro/firmdir/internal/activity"
)

// blockingStore counts fetches and holds them until released, so tests can
// pile up concurrent callers behind one in-flight fetch.
type blockingStore struct {
	firms   map[string]*Firm
	fetches atomic.Int32
	release chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{firms: map[string]*Firm{}, release: make(chan struct{})}
}

func (s *blockingStore) GetFirm(ctx context.Context, cui string) (*Firm, error) {
	s.fetches.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f, ok := s.firms[cui]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (s *blockingStore) UpsertFirms(context.Context, []Firm) (int64, error)  { return 0, nil }
func (s *blockingStore) ReplaceFirms(context.Context, []Firm) (int64, error) { return 0, nil }
func (s *blockingStore) Count(context.Context) (int64, error)                { return 0, nil }

// nullActivityStore satisfies activity.Store with an empty ledger.
type nullActivityStore struct{}

func (nullActivityStore) InsertIdempotent(context.Context, *activity.Activity, string) (bool, error) {
	return false, nil
}
func (nullActivityStore) FindByDedupKey(context.Context, string) (*activity.Activity, error) {
	return nil, nil
}
func (nullActivityStore) ListByFirm(context.Context, string, int) ([]activity.Activity, error) {
	return nil, nil
}
func (nullActivityStore) ListForDate(context.Context, string, time.Time) ([]activity.Activity, error) {
	return nil, nil
}

func TestGet_CoalescesConcurrentCallers(t *testing.T) {
	store := newBlockingStore()
	store.firms["100200"] = &Firm{CUI: "100200", Name: "Alpha Beta SRL"}
	q := NewQueryService(store, activity.NewLedger(nullActivityStore{}))

	const callers = 50
	var wg sync.WaitGroup
	views := make([]*FirmView, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i], errs[i] = q.Get(context.Background(), "100200")
		}(i)
	}

	// Let the callers stack up behind the single in-flight fetch.
	require.Eventually(t, func() bool { return store.fetches.Load() >= 1 },
		time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	assert.Equal(t, int32(1), store.fetches.Load(), "all callers share one fetch")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Alpha Beta SRL", views[i].Firm.Name)
	}
}

func TestGet_CoalescedNotFound(t *testing.T) {
	store := newBlockingStore()
	q := NewQueryService(store, activity.NewLedger(nullActivityStore{}))

	const callers = 50
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = q.Get(context.Background(), "nope")
		}(i)
	}

	require.Eventually(t, func() bool { return store.fetches.Load() >= 1 },
		time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	assert.Equal(t, int32(1), store.fetches.Load())
	for i := 0; i < callers; i++ {
		assert.ErrorIs(t, errs[i], ErrNotFound, "every coalesced caller sees the miss")
	}
}

func TestGet_DistinctFirmsDoNotCoalesce(t *testing.T) {
	store := newBlockingStore()
	close(store.release)
	store.firms["a"] = &Firm{CUI: "a", Name: "A"}
	store.firms["b"] = &Firm{CUI: "b", Name: "B"}
	q := NewQueryService(store, activity.NewLedger(nullActivityStore{}))

	_, err := q.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = q.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.fetches.Load())
}

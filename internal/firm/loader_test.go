package firm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore captures every batch handed to it.
type recordingStore struct {
	mu       sync.Mutex
	upserted []Firm
	replaced []Firm
	failures int
}

func (s *recordingStore) GetFirm(context.Context, string) (*Firm, error) { return nil, nil }
func (s *recordingStore) Count(context.Context) (int64, error)          { return 0, nil }

func (s *recordingStore) UpsertFirms(_ context.Context, firms []Firm) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return 0, fmt.Errorf("conn closed")
	}
	s.upserted = append(s.upserted, firms...)
	return int64(len(firms)), nil
}

func (s *recordingStore) ReplaceFirms(_ context.Context, firms []Firm) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced = append(s.replaced, firms...)
	return int64(len(firms)), nil
}

func TestLoad_UpsertMode(t *testing.T) {
	store := &recordingStore{}
	l := NewLoader(store)
	input := "cui,denumire,judet,localitate,cifra_afaceri,profit_net,angajati,licente,caen\n" +
		"100200,Alpha Beta SRL,GALATI,Galati,10000000,1200000,45,5,4120\n" +
		"100300,Construct SA,GALATI,Galati,5000000,300000,12,2,\n"

	res, err := l.Load(context.Background(), strings.NewReader(input), false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Read)
	assert.Equal(t, int64(2), res.Written)
	assert.Zero(t, res.Rejected)

	require.Len(t, store.upserted, 2)
	byCUI := map[string]Firm{}
	for _, f := range store.upserted {
		byCUI[f.CUI] = f
	}
	alpha := byCUI["100200"]
	assert.Equal(t, int64(10000000), alpha.Revenue)
	require.NotNil(t, alpha.CAEN)
	assert.Equal(t, "4120", *alpha.CAEN)
	assert.Nil(t, byCUI["100300"].CAEN, "blank CAEN stays absent")
}

func TestLoad_ReplaceMode(t *testing.T) {
	store := &recordingStore{}
	l := NewLoader(store)
	input := "cui,denumire\n1,A\n2,B\n3,C\n"

	res, err := l.Load(context.Background(), strings.NewReader(input), true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Written)
	assert.Len(t, store.replaced, 3)
	assert.Empty(t, store.upserted)
}

func TestLoad_RejectsIncompleteRows(t *testing.T) {
	store := &recordingStore{}
	l := NewLoader(store)
	input := "cui,denumire\n100200,Alpha\n,NoCUI\n100300,\n"

	res, err := l.Load(context.Background(), strings.NewReader(input), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Read)
	assert.Equal(t, 2, res.Rejected)
}

func TestLoad_RetriesTransientFlush(t *testing.T) {
	store := &recordingStore{failures: 1}
	l := NewLoader(store)
	input := "cui,denumire\n100200,Alpha\n"

	res, err := l.Load(context.Background(), strings.NewReader(input), false)
	require.NoError(t, err, "transient store fault is retried")
	assert.Equal(t, int64(1), res.Written)
}

func TestLoad_ParsesFormattedNumbers(t *testing.T) {
	store := &recordingStore{}
	l := NewLoader(store)
	input := "cui,denumire,cifra_afaceri\n100200,Alpha,\"10.000.000\"\n"

	_, err := l.Load(context.Background(), strings.NewReader(input), false)
	require.NoError(t, err)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, int64(10000000), store.upserted[0].Revenue)
}

func TestLoad_MissingCUIColumn(t *testing.T) {
	l := NewLoader(&recordingStore{})
	_, err := l.Load(context.Background(), strings.NewReader("denumire\nAlpha\n"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cui")
}

func TestLoad_BatchesLargeFiles(t *testing.T) {
	store := &recordingStore{}
	l := NewLoader(store)
	var b strings.Builder
	b.WriteString("cui,denumire\n")
	for i := 0; i < loaderBatchSize+50; i++ {
		fmt.Fprintf(&b, "%d,Firm %d\n", 100000+i, i)
	}

	res, err := l.Load(context.Background(), strings.NewReader(b.String()), false)
	require.NoError(t, err)
	assert.Equal(t, loaderBatchSize+50, res.Read)
	assert.Equal(t, int64(loaderBatchSize+50), res.Written)
	assert.Len(t, store.upserted, loaderBatchSize+50)
}

package firm

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opencrm-ro/firmdir/internal/resilience"
)

const (
	loaderBatchSize = 1000
	loaderFlushers  = 4
)

// LoadResult summarizes one directory load.
type LoadResult struct {
	Read     int   `json:"read"`
	Written  int64 `json:"written"`
	Rejected int   `json:"rejected"`
}

// Loader streams a firm directory CSV into the store. Upsert loads flush
// batches concurrently; since the upsert only writes changed rows, a batch
// retried after a transient fault cannot double-apply.
type Loader struct {
	store Store
	retry resilience.RetryConfig
	log   *zap.Logger
}

// NewLoader creates a Loader over the given store.
func NewLoader(store Store) *Loader {
	return &Loader{
		store: store,
		retry: resilience.RetryConfig{MaxAttempts: 3},
		log:   zap.L().With(zap.String("component", "firmloader")),
	}
}

// Load reads the CSV stream and applies it. With replace set the whole file
// is staged and swapped in a single transaction; otherwise batches are
// upserted as they stream in.
func (l *Loader) Load(ctx context.Context, r io.Reader, replace bool) (*LoadResult, error) {
	if replace {
		return l.loadReplace(ctx, r)
	}
	return l.loadUpsert(ctx, r)
}

func (l *Loader) loadReplace(ctx context.Context, r io.Reader) (*LoadResult, error) {
	res := &LoadResult{}
	var all []Firm
	err := l.parse(r, func(f Firm) error {
		res.Read++
		all = append(all, f)
		return ctx.Err()
	}, res)
	if err != nil {
		return res, err
	}

	n, err := l.store.ReplaceFirms(ctx, all)
	if err != nil {
		return res, err
	}
	res.Written = n
	l.log.Info("directory replaced", zap.Int64("firms", n))
	return res, nil
}

func (l *Loader) loadUpsert(ctx context.Context, r io.Reader) (*LoadResult, error) {
	res := &LoadResult{}
	var written atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loaderFlushers)

	flush := func(batch []Firm) {
		g.Go(func() error {
			return resilience.Do(gctx, l.retry, func(ctx context.Context) error {
				n, err := l.store.UpsertFirms(ctx, batch)
				if err != nil {
					return err
				}
				written.Add(n)
				return nil
			})
		})
	}

	batch := make([]Firm, 0, loaderBatchSize)
	parseErr := l.parse(r, func(f Firm) error {
		res.Read++
		batch = append(batch, f)
		if len(batch) >= loaderBatchSize {
			flush(batch)
			batch = make([]Firm, 0, loaderBatchSize)
		}
		return gctx.Err()
	}, res)
	if len(batch) > 0 && parseErr == nil {
		flush(batch)
	}

	if err := g.Wait(); err != nil {
		res.Written = written.Load()
		return res, err
	}
	if parseErr != nil {
		res.Written = written.Load()
		return res, parseErr
	}

	res.Written = written.Load()
	l.log.Info("directory load complete",
		zap.Int("read", res.Read),
		zap.Int64("written", res.Written),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

// csv header fallbacks cover both the export format and the raw registry dump.
var firmColumnNames = map[string][]string{
	"cui":       {"cui"},
	"name":      {"denumire", "name"},
	"county":    {"judet", "adr_judet", "county"},
	"locality":  {"localitate", "adr_localitate", "locality"},
	"revenue":   {"cifra_afaceri", "cifra_de_afaceri_neta", "revenue"},
	"netprofit": {"profit_net", "profitul_net", "net_profit"},
	"employees": {"angajati", "numar_mediu_de_salariati", "employees"},
	"licenses":  {"licente", "numar_licente", "licenses"},
	"caen":      {"caen", "caen_code", "cod_caen"},
}

func (l *Loader) parse(r io.Reader, emit func(Firm) error, res *LoadResult) error {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return eris.Wrap(err, "firm: read CSV header")
	}
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF")))] = i
	}
	if _, ok := lookupCol(colIdx, "cui"); !ok {
		return eris.New("firm: CSV is missing a cui column")
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				res.Rejected++
				continue
			}
			return eris.Wrap(err, "firm: read CSV stream")
		}

		f := Firm{
			CUI:       col(record, colIdx, "cui"),
			Name:      col(record, colIdx, "name"),
			County:    col(record, colIdx, "county"),
			Locality:  col(record, colIdx, "locality"),
			Revenue:   colInt64(record, colIdx, "revenue"),
			NetProfit: colInt64(record, colIdx, "netprofit"),
			Employees: int(colInt64(record, colIdx, "employees")),
			Licenses:  int(colInt64(record, colIdx, "licenses")),
		}
		if caen := col(record, colIdx, "caen"); caen != "" {
			f.CAEN = &caen
		}
		if f.CUI == "" || f.Name == "" {
			res.Rejected++
			continue
		}
		if err := emit(f); err != nil {
			return err
		}
	}
}

func lookupCol(colIdx map[string]int, field string) (int, bool) {
	for _, name := range firmColumnNames[field] {
		if idx, ok := colIdx[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

func col(record []string, colIdx map[string]int, field string) string {
	if idx, ok := lookupCol(colIdx, field); ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}

// colInt64 parses tolerantly: the registry dumps carry thousands separators
// and occasional blanks.
func colInt64(record []string, colIdx map[string]int, field string) int64 {
	raw := col(record, colIdx, field)
	if raw == "" {
		return 0
	}
	raw = strings.NewReplacer(".", "", ",", "", " ", "").Replace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

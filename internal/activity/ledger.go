package activity

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Ledger is the idempotent activity log. Duplicate submissions resolve to
// the original record, never a second one.
type Ledger struct {
	store Store
	now   func() time.Time
	log   *zap.Logger
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "ledger")),
	}
}

// Submit records a candidate activity. The returned outcome distinguishes a
// fresh record from an idempotent replay; both are successes and callers
// must not retry on OutcomeAlreadyExists.
func (l *Ledger) Submit(ctx context.Context, c Candidate) (*Activity, Outcome, error) {
	cui := strings.TrimSpace(c.CUI)
	if cui == "" {
		return nil, "", ErrMissingFirm
	}
	body := strings.TrimSpace(c.Body)
	if body == "" {
		return nil, "", ErrEmptyText
	}

	a := &Activity{
		CUI:       cui,
		Kind:      strings.TrimSpace(c.Kind),
		Body:      body,
		Score:     c.Score,
		CreatedAt: c.CreatedAt.UTC(),
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now().UTC()
	}

	key := DedupKey(a.CUI, a.Kind, a.Body, a.CreatedAt)

	created, err := l.store.InsertIdempotent(ctx, a, key)
	if err != nil {
		return nil, "", err
	}
	if created {
		return a, OutcomeCreated, nil
	}

	existing, err := l.store.FindByDedupKey(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		// The conflicting row vanished between insert and fetch. Activities
		// are never deleted, so this indicates storage trouble.
		return nil, "", eris.Errorf("activity: dedup conflict but no canonical row for firm %s", cui)
	}

	l.log.Debug("duplicate submission resolved to canonical record",
		zap.String("cui", cui),
		zap.Int64("id", existing.ID),
	)
	return existing, OutcomeAlreadyExists, nil
}

// ListByFirm returns a firm's activities newest-first, deduplicated.
func (l *Ledger) ListByFirm(ctx context.Context, cui string, limit int) ([]Activity, error) {
	return l.store.ListByFirm(ctx, cui, limit)
}

// ListForDate returns a firm's activities for one UTC calendar day.
func (l *Ledger) ListForDate(ctx context.Context, cui string, day time.Time) ([]Activity, error) {
	return l.store.ListForDate(ctx, cui, day)
}

// ImportStats summarizes one activity CSV import run.
type ImportStats struct {
	Created    int      `json:"created"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}

// csv column fallbacks mirror the upstream export formats.
var (
	kindColumns = []string{"type", "activity_type", "tip"}
	bodyColumns = []string{"comment", "text", "descriere"}
	dateColumns = []string{"date", "created_at", "data"}
	dateFormats = []string{time.RFC3339, "2006-01-02", "02.01.2006", "02/01/2006", "2006/01/02"}
)

// ImportCSV bulk-loads activities for one firm from a CSV stream, routing
// every row through Submit so the dedup guarantee holds: re-importing the
// same file reports duplicates, not new records. Malformed rows are counted
// and skipped without aborting the run.
func (l *Ledger) ImportCSV(ctx context.Context, cui string, r io.Reader, maxErrors int) (*ImportStats, error) {
	if maxErrors <= 0 {
		maxErrors = 20
	}

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return &ImportStats{}, eris.Wrap(err, "activity: read CSV header")
	}
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF")))] = i
	}

	stats := &ImportStats{}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "activity: import canceled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				stats.Rejected++
				stats.addError(maxErrors, "line %d: %v", line, err)
				continue
			}
			return stats, eris.Wrap(err, "activity: read CSV stream")
		}

		cand := Candidate{
			CUI:  cui,
			Kind: firstCol(record, colIdx, kindColumns),
			Body: firstCol(record, colIdx, bodyColumns),
		}
		if raw := firstCol(record, colIdx, []string{"score", "scor"}); raw != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
				cand.Score = &n
			}
		}
		if raw := firstCol(record, colIdx, dateColumns); raw != "" {
			cand.CreatedAt = parseDate(raw)
		}

		_, outcome, err := l.Submit(ctx, cand)
		switch {
		case err == nil && outcome == OutcomeCreated:
			stats.Created++
		case err == nil:
			stats.Duplicates++
		case eris.Is(err, ErrEmptyText) || eris.Is(err, ErrMissingFirm):
			stats.Rejected++
			stats.addError(maxErrors, "line %d: %v", line, err)
		default:
			// Store fault: stop the run, preserving counts so far.
			return stats, err
		}
	}

	l.log.Info("activity import complete",
		zap.String("cui", cui),
		zap.Int("created", stats.Created),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("rejected", stats.Rejected),
	)
	return stats, nil
}

func (s *ImportStats) addError(maxErrors int, format string, args ...any) {
	if len(s.Errors) < maxErrors {
		s.Errors = append(s.Errors, eris.Errorf(format, args...).Error())
	}
}

func firstCol(record []string, colIdx map[string]int, names []string) string {
	for _, name := range names {
		if idx, ok := colIdx[name]; ok && idx < len(record) {
			if v := strings.TrimSpace(record[idx]); v != "" {
				return v
			}
		}
	}
	return ""
}

func parseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

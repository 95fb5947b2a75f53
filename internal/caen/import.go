package caen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opencrm-ro/firmdir/internal/db"
)

// Result summarizes one import run. Counts are exact per row: Imported rows
// changed the table, Skipped rows were already present with identical
// content, Rejected rows failed validation.
type Result struct {
	RunID    uuid.UUID `json:"run_id"`
	Imported int       `json:"imported"`
	Skipped  int       `json:"skipped"`
	Rejected int       `json:"rejected"`
	Errors   []string  `json:"errors,omitempty"`
}

// ErrUnsupportedContent reports a payload that is not delimited text.
var ErrUnsupportedContent = eris.New("caen: content type is not delimited text")

// Importer streams CAEN nomenclature files into Postgres. Every row is
// applied and committed independently, so a failed run keeps the rows that
// landed before the fault and a rerun of the same file skips them.
type Importer struct {
	pool      db.Pool
	maxErrors int
	limiter   *rate.Limiter
	log       *zap.Logger
}

// ImporterConfig tunes an Importer.
type ImporterConfig struct {
	MaxErrors  int     // error messages kept in the Result; default 20
	RowsPerSec float64 // 0 = unthrottled
}

// NewImporter creates an Importer over the given pool.
func NewImporter(pool db.Pool, cfg ImporterConfig) *Importer {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 20
	}
	var limiter *rate.Limiter
	if cfg.RowsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RowsPerSec), int(cfg.RowsPerSec))
	}
	return &Importer{
		pool:      pool,
		maxErrors: cfg.MaxErrors,
		limiter:   limiter,
		log:       zap.L().With(zap.String("component", "caenimport")),
	}
}

var textualTypes = map[string]bool{
	"text/csv":        true,
	"text/plain":      true,
	"application/csv": true,
}

// Run imports one nomenclature stream. A stream-level fault stops the run
// and returns the partial Result alongside the error; rows already applied
// stay applied.
func (im *Importer) Run(ctx context.Context, r io.Reader, contentType string) (*Result, error) {
	res := &Result{RunID: uuid.New()}

	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || !textualTypes[mediaType] {
			return res, ErrUnsupportedContent
		}
	}

	br := bufio.NewReader(r)
	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(br)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return res, eris.Wrap(err, "caen: read header")
	}
	cols := mapColumns(header)
	if _, ok := cols["grupa"]; !ok {
		return res, eris.New("caen: file is missing a GRUPA column")
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "caen: import canceled")
		}
		if im.limiter != nil {
			if err := im.limiter.Wait(ctx); err != nil {
				return res, eris.Wrap(err, "caen: import canceled")
			}
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				im.reject(res, line, "malformed row: %v", err)
				continue
			}
			// Stream fault. Committed rows stay.
			return res, eris.Wrap(err, "caen: read stream")
		}

		rec := Record{
			Code:        getCol(record, cols, "grupa"),
			Description: getCol(record, cols, "denumire"),
			NACE:        getCol(record, cols, "nace"),
			Division:    getCol(record, cols, "diviziune"),
		}
		if !rec.Validate() {
			im.reject(res, line, "invalid code %q or empty description", rec.Code)
			continue
		}

		changed, err := im.apply(ctx, rec)
		if err != nil {
			return res, err
		}
		if changed {
			res.Imported++
		} else {
			res.Skipped++
		}
	}

	im.log.Info("caen import complete",
		zap.String("run_id", res.RunID.String()),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

// apply upserts one code. The DO UPDATE is guarded by IS DISTINCT FROM so an
// unchanged row affects nothing, which is what makes reruns report skips.
func (im *Importer) apply(ctx context.Context, rec Record) (bool, error) {
	tag, err := im.pool.Exec(ctx, `
		INSERT INTO caen_codes (code, description, nace, division, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			nace = EXCLUDED.nace,
			division = EXCLUDED.division,
			updated_at = now()
		WHERE caen_codes.description IS DISTINCT FROM EXCLUDED.description
		   OR caen_codes.nace IS DISTINCT FROM EXCLUDED.nace
		   OR caen_codes.division IS DISTINCT FROM EXCLUDED.division`,
		rec.Code, strings.TrimSpace(rec.Description), rec.NACE, rec.Division,
	)
	if err != nil {
		return false, eris.Wrapf(err, "caen: apply code %s", rec.Code)
	}
	return tag.RowsAffected() == 1, nil
}

func (im *Importer) reject(res *Result, line int, format string, args ...any) {
	res.Rejected++
	if len(res.Errors) < im.maxErrors {
		res.Errors = append(res.Errors, fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)))
	}
}

// sniffDelimiter peeks at the first line: the official nomenclature ships
// semicolon-delimited, re-exports use commas.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		peek = peek[:i]
	}
	if bytes.ContainsRune(peek, ';') {
		return ';'
	}
	return ','
}

func mapColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF")))
		cols[name] = i
	}
	return cols
}

func getCol(record []string, cols map[string]int, name string) string {
	if idx, ok := cols[name]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}

package caen

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/opencrm-ro/firmdir/internal/db"
)

var exportHeader = []string{"GRUPA", "DENUMIRE", "NACE", "DIVIZIUNE"}

// ListCodes returns the full nomenclature ordered by code.
func ListCodes(ctx context.Context, pool db.Pool) ([]Record, error) {
	rows, err := pool.Query(ctx, `
		SELECT code, description, nace, division
		FROM caen_codes ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "caen: list codes")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Code, &r.Description, &r.NACE, &r.Division); err != nil {
			return nil, eris.Wrap(err, "caen: scan code")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WriteCSV streams the nomenclature as semicolon-delimited CSV, the same
// shape the importer accepts, so an export re-imports cleanly.
func WriteCSV(ctx context.Context, pool db.Pool, w io.Writer) error {
	records, err := ListCodes(ctx, pool)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(exportHeader); err != nil {
		return eris.Wrap(err, "caen: write CSV header")
	}
	for _, r := range records {
		if err := cw.Write([]string{r.Code, r.Description, r.NACE, r.Division}); err != nil {
			return eris.Wrap(err, "caen: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "caen: flush CSV")
}

// WriteXLSX writes the nomenclature as a single-sheet workbook, one row per
// code.
func WriteXLSX(ctx context.Context, pool db.Pool, w io.Writer) error {
	records, err := ListCodes(ctx, pool)
	if err != nil {
		return err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("CAEN")
	if err != nil {
		return eris.Wrap(err, "caen: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportHeader {
		header.AddCell().SetString(col)
	}
	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Code)
		row.AddCell().SetString(r.Description)
		row.AddCell().SetString(r.NACE)
		row.AddCell().SetString(r.Division)
	}

	return eris.Wrap(f.Write(w), "caen: write workbook")
}

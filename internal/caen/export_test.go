package caen

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func expectListCodes(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`SELECT code, description, nace, division.*FROM caen_codes ORDER BY code`).
		WillReturnRows(pgxmock.NewRows([]string{"code", "description", "nace", "division"}).
			AddRow("0111", "Cultivarea cerealelor", "01.11", "01").
			AddRow("4120", "Lucrari de constructii", "41.20", "41"))
}

func TestWriteCSV_RoundTripsThroughImporter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	expectListCodes(mock)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(context.Background(), mock, &buf))

	r := csv.NewReader(&buf)
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"GRUPA", "DENUMIRE", "NACE", "DIVIZIUNE"}, rows[0])
	assert.Equal(t, []string{"0111", "Cultivarea cerealelor", "01.11", "01"}, rows[1])
}

func TestWriteXLSX_OneRowPerCode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	expectListCodes(mock)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(context.Background(), mock, &buf))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "CAEN", sheet.Name)
	require.Len(t, sheet.Rows, 3, "header plus one row per code")
	assert.Equal(t, "0111", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "Lucrari de constructii", sheet.Rows[2].Cells[1].String())
}

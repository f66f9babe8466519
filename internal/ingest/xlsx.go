package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadflow-engine/internal/model"
)

// ReadXLSXFile parses the first sheet of an XLSX lead file. The first row
// is the header; unknown columns land in each lead's extra payload.
func ReadXLSXFile(ctx context.Context, path string) ([]model.RawLead, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("xlsx: %s has no sheets", path)
	}
	sheet := f.Sheets[0]

	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("xlsx: %s first sheet is empty", path)
	}

	headerRow := rowToStrings(sheet.Rows[0])
	header := make([]string, len(headerRow))
	for i, cell := range headerRow {
		header[i] = normalizeHeader(cell)
	}

	var leads []model.RawLead
	for _, row := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		if lead, ok := leadFromRow(header, rowToStrings(row)); ok {
			leads = append(leads, lead)
		}
	}

	return leads, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

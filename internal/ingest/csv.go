package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow-engine/internal/model"
)

// ReadCSV parses a CSV lead file. The first row is the header; unknown
// columns land in each lead's extra payload. Fully blank rows are skipped.
func ReadCSV(ctx context.Context, r io.Reader) ([]model.RawLead, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields

	headerRow, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("csv: file is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	header := make([]string, len(headerRow))
	for i, cell := range headerRow {
		header[i] = normalizeHeader(cell)
	}

	var leads []model.RawLead
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}

		for i, field := range row {
			row[i] = strings.TrimSpace(field)
		}

		if lead, ok := leadFromRow(header, row); ok {
			leads = append(leads, lead)
		}
	}

	return leads, nil
}

// ReadCSVFile opens and parses a CSV lead file from disk.
func ReadCSVFile(ctx context.Context, path string) ([]model.RawLead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return ReadCSV(ctx, f)
}

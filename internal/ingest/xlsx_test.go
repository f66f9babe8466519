package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	require.NoError(t, err)

	for _, row := range rows {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}

	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSXFile(t *testing.T) {
	path := writeTestXLSX(t, [][]string{
		{"Email", "First Name", "Company", "Notes"},
		{"jane@acme.com", "Jane", "Acme", "enterprise rollout"},
		{"", "", "", ""},
		{"john@beta.io", "John", "", ""},
	})

	leads, err := ReadXLSXFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, leads, 2)

	assert.Equal(t, "jane@acme.com", leads[0].Email)
	assert.Equal(t, "Jane", leads[0].FirstName)
	assert.Equal(t, "Acme", leads[0].Company)
	assert.Equal(t, "enterprise rollout", leads[0].Extra["Notes"])

	assert.Equal(t, "john@beta.io", leads[1].Email)
	assert.Nil(t, leads[1].Extra)
}

func TestReadXLSXFileMissing(t *testing.T) {
	_, err := ReadXLSXFile(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"))
	assert.Error(t, err)
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "email", normalizeHeader(" Email Address "))
	assert.Equal(t, "jobTitle", normalizeHeader("TITLE"))
	assert.Equal(t, "Custom Field", normalizeHeader(" Custom Field "))
}

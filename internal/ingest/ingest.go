// Package ingest parses lead files (CSV, XLSX, JSON) into raw leads. Known
// columns map onto the lead's named fields; every other column is carried
// through verbatim in the lead's extra payload.
package ingest

import (
	"strings"

	"github.com/sells-group/leadflow-engine/internal/model"
)

// column name aliases, matched case-insensitively after trimming.
var columnAliases = map[string]string{
	"email":         "email",
	"email address": "email",
	"e-mail":        "email",
	"first name":    "firstName",
	"firstname":     "firstName",
	"first_name":    "firstName",
	"last name":     "lastName",
	"lastname":      "lastName",
	"last_name":     "lastName",
	"company":       "company",
	"company name":  "company",
	"organization":  "company",
	"job title":     "jobTitle",
	"jobtitle":      "jobTitle",
	"job_title":     "jobTitle",
	"title":         "jobTitle",
	"source":        "source",
	"lead source":   "source",
	"lead_source":   "source",
}

// normalizeHeader resolves a header cell to a canonical field name, or
// returns the trimmed original for pass-through columns.
func normalizeHeader(cell string) string {
	trimmed := strings.TrimSpace(cell)
	if canonical, ok := columnAliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

// leadFromRow builds a RawLead from one data row using the normalized
// header. Blank cells are skipped; rows with no non-blank cell return false.
func leadFromRow(header []string, row []string) (model.RawLead, bool) {
	lead := model.RawLead{}
	any := false

	for i, key := range header {
		if key == "" || i >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}
		any = true

		switch key {
		case "email":
			lead.Email = value
		case "firstName":
			lead.FirstName = value
		case "lastName":
			lead.LastName = value
		case "company":
			lead.Company = value
		case "jobTitle":
			lead.JobTitle = value
		case "source":
			lead.Source = value
		default:
			if lead.Extra == nil {
				lead.Extra = map[string]interface{}{}
			}
			lead.Extra[key] = value
		}
	}

	return lead, any
}

package ingest

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow-engine/internal/model"
)

// ReadJSON parses a JSON lead file: either a bare array of leads or an
// object with a top-level "leads" array (the run request shape).
func ReadJSON(ctx context.Context, r io.Reader) ([]model.RawLead, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "ingest: read json")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read json")
	}

	var leads []model.RawLead
	if err := json.Unmarshal(data, &leads); err == nil {
		return leads, nil
	}

	var wrapped struct {
		Leads []model.RawLead `json:"leads"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, eris.Wrap(err, "ingest: parse json leads")
	}
	return wrapped.Leads, nil
}

// ReadJSONFile reads leads from a JSON file on disk.
func ReadJSONFile(ctx context.Context, path string) ([]model.RawLead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return ReadJSON(ctx, f)
}

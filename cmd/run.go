package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow-engine/internal/ingest"
	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/pipeline"
	"github.com/sells-group/leadflow-engine/internal/scoring"
)

var (
	runAgentID    string
	runSnapshotID string
	runIdemKey    string
	runSimulate   bool
	runDemo       bool
)

var runCmd = &cobra.Command{
	Use:   "run [lead files...]",
	Short: "Execute a lead flow run from CSV/XLSX/JSON files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		leads, err := readLeadFiles(ctx, args)
		if err != nil {
			return err
		}
		zap.L().Info("leads loaded", zap.Int("count", len(leads)))

		if runDemo {
			return demoRun(leads)
		}

		engine, st, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		req := model.RunRequest{
			AgentID:            runAgentID,
			Source:             model.SourceCSV,
			SettingsSnapshotID: runSnapshotID,
			Simulate:           runSimulate,
			Leads:              leads,
		}

		key := runIdemKey
		if key == "" && !runSimulate {
			key = uuid.NewString()
			zap.L().Info("generated idempotency key", zap.String("key", key))
		}

		payload, runErr := engine.Execute(ctx, req, key)
		if runErr != nil {
			detail, _ := json.Marshal(runErr)
			return eris.Errorf("run failed: %s", detail)
		}

		return printJSON(payload)
	},
}

// demoRun processes leads entirely locally with the demo scoring heuristic.
// No store, no CRM, no quota.
func demoRun(leads []model.RawLead) error {
	ruleCfg, err := loadRules()
	if err != nil {
		return err
	}

	processor := pipeline.NewProcessor(ruleCfg, scoring.DemoScorer{})
	settings := model.DefaultSettings()

	results := make([]model.ProcessResult, 0, len(leads))
	for _, lead := range leads {
		results = append(results, processor.Process(lead, settings))
	}

	result := model.RunResult{
		Summary:   pipeline.BuildSummary(results, ruleCfg, pipeline.MeetingsHalfQualified),
		Leads:     results,
		Simulated: true,
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "marshal demo result")
	}
	return printJSON(payload)
}

func readLeadFiles(ctx context.Context, paths []string) ([]model.RawLead, error) {
	var leads []model.RawLead
	for _, path := range paths {
		fileLeads, err := readLeadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		leads = append(leads, fileLeads...)
	}
	return leads, nil
}

func readLeadFile(ctx context.Context, path string) ([]model.RawLead, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ingest.ReadXLSXFile(ctx, path)
	case ".csv":
		return ingest.ReadCSVFile(ctx, path)
	case ".json":
		return ingest.ReadJSONFile(ctx, path)
	default:
		return nil, eris.Errorf("unsupported lead file type: %s", path)
	}
}

func printJSON(payload []byte) error {
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		_, werr := os.Stdout.Write(payload)
		return werr
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	runCmd.Flags().StringVar(&runAgentID, "agent", "", "agent ID (required)")
	runCmd.Flags().StringVar(&runSnapshotID, "snapshot", "", "settings snapshot ID (required for real runs)")
	runCmd.Flags().StringVar(&runIdemKey, "key", "", "idempotency key (generated when omitted)")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "simulated run: no CRM writes, no quota usage")
	runCmd.Flags().BoolVar(&runDemo, "demo", false, "local demo run with the heuristic scorer")
	_ = runCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(runCmd)
}

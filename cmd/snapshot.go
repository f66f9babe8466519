package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadflow-engine/internal/model"
)

var (
	snapshotAgentID string
	snapshotID      string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage settings snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Freeze the agent's current settings into a new snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		agentID := model.NormalizeAgentID(snapshotAgentID)
		settings, err := st.GetSettings(ctx, agentID)
		if err != nil {
			return err
		}

		id, err := st.CreateSnapshot(ctx, agentID, settings)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]any{
			"settingsSnapshotId": id,
			"settings":           settings,
		})
		if err != nil {
			return err
		}
		return printJSON(payload)
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a stored snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		settings, err := st.GetSnapshot(ctx, model.NormalizeAgentID(snapshotAgentID), snapshotID)
		if err != nil {
			return err
		}
		if settings == nil {
			return eris.Errorf("snapshot %s not found", snapshotID)
		}

		payload, err := json.Marshal(map[string]any{
			"settingsSnapshotId": snapshotID,
			"settings":           settings,
		})
		if err != nil {
			return err
		}
		return printJSON(payload)
	},
}

func init() {
	snapshotCmd.PersistentFlags().StringVar(&snapshotAgentID, "agent", "", "agent ID (required)")
	_ = snapshotCmd.MarkPersistentFlagRequired("agent")

	snapshotShowCmd.Flags().StringVar(&snapshotID, "id", "", "snapshot ID (required)")
	_ = snapshotShowCmd.MarkFlagRequired("id")

	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	rootCmd.AddCommand(snapshotCmd)
}

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadflow-engine/internal/model"
)

var settingsAgentID string

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and update tenant settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the agent's current settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		settings, err := st.GetSettings(ctx, model.NormalizeAgentID(settingsAgentID))
		if err != nil {
			return err
		}

		payload, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		return printJSON(payload)
	},
}

var (
	setEnabled   bool
	setThreshold int
	setAutoClose bool
	setOwner     string
	setDueDays   int
)

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the agent's settings (only changed flags apply)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var patch model.SettingsPatch
		if cmd.Flags().Changed("enabled") {
			patch.IsEnabled = &setEnabled
		}
		if cmd.Flags().Changed("threshold") {
			patch.QualificationScoreThreshold = &setThreshold
		}
		if cmd.Flags().Changed("auto-close") {
			patch.AutoCloseBelowThreshold = &setAutoClose
		}
		if cmd.Flags().Changed("owner") {
			patch.DefaultOwner = &setOwner
		}
		if cmd.Flags().Changed("due-days") {
			patch.FollowUpDueInDays = &setDueDays
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		settings, err := st.SaveSettings(ctx, model.NormalizeAgentID(settingsAgentID), patch)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		return printJSON(payload)
	},
}

func init() {
	settingsCmd.PersistentFlags().StringVar(&settingsAgentID, "agent", "", "agent ID (required)")
	_ = settingsCmd.MarkPersistentFlagRequired("agent")

	settingsSetCmd.Flags().BoolVar(&setEnabled, "enabled", true, "enable or disable the autopilot")
	settingsSetCmd.Flags().IntVar(&setThreshold, "threshold", 0, "qualification score threshold")
	settingsSetCmd.Flags().BoolVar(&setAutoClose, "auto-close", false, "auto-close leads below the threshold")
	settingsSetCmd.Flags().StringVar(&setOwner, "owner", "", "default task owner")
	settingsSetCmd.Flags().IntVar(&setDueDays, "due-days", 0, "follow-up due in days")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow-engine/internal/model"
)

var (
	idemAgentID string
	idemKey     string
)

var idempotencyCmd = &cobra.Command{
	Use:   "idempotency",
	Short: "Operate on idempotency records",
}

// clear removes a stuck or failed record so the key can be retried. There
// is no automatic reaping of in_progress records; this is the operator's
// escape hatch after a crashed run.
var idempotencyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the idempotency record for a key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		agentID := model.NormalizeAgentID(idemAgentID)
		if err := st.DeleteIdempotencyRecord(ctx, agentID, idemKey); err != nil {
			return err
		}

		zap.L().Info("idempotency record cleared",
			zap.String("agent_id", agentID),
			zap.String("key", idemKey),
		)
		return nil
	},
}

func init() {
	idempotencyCmd.PersistentFlags().StringVar(&idemAgentID, "agent", "", "agent ID (required)")
	idempotencyCmd.PersistentFlags().StringVar(&idemKey, "key", "", "idempotency key (required)")
	_ = idempotencyCmd.MarkPersistentFlagRequired("agent")
	_ = idempotencyCmd.MarkPersistentFlagRequired("key")

	idempotencyCmd.AddCommand(idempotencyClearCmd)
	rootCmd.AddCommand(idempotencyCmd)
}

package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and decide queued review items",
}

var reviewListLimit int

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending review items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		items, err := st.PendingReviews(ctx, reviewListLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	},
}

var (
	decideDecision string
	decideValue    string
	decideBy       string
)

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <item-id>",
	Short: "Record a decision for a pending review item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		decision := model.Decision(decideDecision)
		switch decision {
		case model.DecisionApprove, model.DecisionReject, model.DecisionOverride:
		default:
			return eris.Errorf("unknown decision %q (approve|reject|override)", decideDecision)
		}
		if decision == model.DecisionOverride && decideValue == "" {
			return eris.New("--value is required for override")
		}

		st, err := store.Open(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		d := model.DecidedItem{
			ItemID:        args[0],
			Decision:      decision,
			OverrideValue: decideValue,
			DecidedBy:     decideBy,
			DecidedAt:     time.Now().UTC(),
		}
		if err := st.SubmitDecision(ctx, d); err != nil {
			return err
		}
		zap.L().Info("decision recorded",
			zap.String("item_id", d.ItemID),
			zap.String("decision", string(d.Decision)))
		return nil
	},
}

func init() {
	reviewListCmd.Flags().IntVar(&reviewListLimit, "limit", 50, "maximum items to list")
	reviewDecideCmd.Flags().StringVar(&decideDecision, "decision", "", "approve, reject, or override")
	reviewDecideCmd.Flags().StringVar(&decideValue, "value", "", "replacement value for override decisions")
	reviewDecideCmd.Flags().StringVar(&decideBy, "by", "", "reviewer identity for the audit trail")
	reviewCmd.AddCommand(reviewListCmd, reviewDecideCmd)
	rootCmd.AddCommand(reviewCmd)
}

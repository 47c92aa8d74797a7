package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/consolidate-cli/internal/store"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent run summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		summaries, err := st.ListRunSummaries(ctx, statusLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "maximum summaries to show")
	rootCmd.AddCommand(statusCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "consolidate-cli",
	Short: "Adaptive record consolidation pipeline",
	Long:  "Enriches organisational records through tiered offline-first strategies, resolves duplicates probabilistically, and routes borderline outcomes to human review.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/model"
)

var (
	runTargetsPath  string
	runOutPath      string
	runAllowNetwork bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich and resolve a batch of targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		targets, err := loadTargets(runTargetsPath)
		if err != nil {
			return err
		}
		if runAllowNetwork {
			for _, t := range targets {
				t.AllowNetwork = true
			}
		}

		env, err := initRuntime(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		results, summary, err := env.Orchestrator.Run(ctx, targets)
		if err != nil {
			zap.L().Warn("run ended early", zap.Error(err))
		}

		out := struct {
			Summary model.RunSummary     `json:"summary"`
			Results []model.TargetResult `json:"results"`
		}{Summary: summary, Results: results}

		enc := json.NewEncoder(os.Stdout)
		if runOutPath != "" {
			f, err := os.Create(runOutPath)
			if err != nil {
				return eris.Wrapf(err, "create %s", runOutPath)
			}
			defer f.Close()
			enc = json.NewEncoder(f)
		}
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(out), "write results")
	},
}

func loadTargets(path string) ([]*model.ResearchTarget, error) {
	if path == "" {
		return nil, eris.New("--targets is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read targets %s", path)
	}
	var targets []*model.ResearchTarget
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, eris.Wrap(err, "parse targets")
	}
	if len(targets) == 0 {
		return nil, eris.New("no targets in input")
	}
	for i, t := range targets {
		if t.EntityID == "" {
			return nil, eris.Errorf("target %d: entity_id is required", i)
		}
		t.State = model.TargetPending
	}
	return targets, nil
}

func init() {
	runCmd.Flags().StringVar(&runTargetsPath, "targets", "", "JSON file with targets to enrich")
	runCmd.Flags().StringVar(&runOutPath, "out", "", "write results to a file instead of stdout")
	runCmd.Flags().BoolVar(&runAllowNetwork, "allow-network", false, "set the per-call network gate for every target")
	rootCmd.AddCommand(runCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"reva/internal/analysis"
	"reva/internal/progress"
	"reva/internal/store"

	"github.com/spf13/cobra"
)

var (
	runsStatus string
	runsLimit  int
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted analysis runs",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status (pending, processing, completed, failed, cancelled)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	eng, err := openEngineHere()
	if err != nil {
		return err
	}
	defer eng.close()

	opts := store.ListOptions{Limit: runsLimit}
	if runsStatus != "" {
		opts.Status = []analysis.RunStatus{analysis.RunStatus(runsStatus)}
	}

	runs, err := eng.store.ListRuns(opts)
	if err != nil {
		return err
	}

	if runsJSON {
		now := time.Now().UTC()
		snapshots := make([]progress.Snapshot, 0, len(runs))
		for _, run := range runs {
			snapshots = append(snapshots, progress.Snap(run, now))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshots)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-10s  %-20s  %5s  %6s\n",
		"RUN", "PROJECT", "STATUS", "STAGE", "PROG", "SCORE")
	for _, run := range runs {
		fmt.Printf("%-36s  %-20s  %-10s  %-20s  %4d%%  %6d\n",
			run.ID, run.ProjectRef, run.Status, run.CurrentStage,
			run.Progress, run.Metrics.QualityScore)
	}
	return nil
}

// openEngineHere builds an engine rooted at the current directory.
func openEngineHere() (*engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := loadValidatedConfig(cwd)
	if err != nil {
		return nil, err
	}
	return buildEngine(cwd, cfg, newLogger(cfg))
}

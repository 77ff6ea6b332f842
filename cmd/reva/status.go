package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <runId>",
	Short: "Show status, progress, and ETA for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := openEngineHere()
	if err != nil {
		return err
	}
	defer eng.close()

	snap, err := eng.orch.Status(args[0])
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Printf("Run:      %s\n", snap.RunID)
	fmt.Printf("Project:  %s\n", snap.ProjectRef)
	fmt.Printf("Status:   %s\n", snap.Status)
	fmt.Printf("Stage:    %s\n", snap.CurrentStage)
	fmt.Printf("Progress: %d%%\n", snap.ProgressPercent)
	switch {
	case snap.ETASeconds < 0:
		fmt.Println("ETA:      unknown")
	case snap.ETASeconds > 0:
		fmt.Printf("ETA:      %ds\n", snap.ETASeconds)
	}
	if snap.Error != "" {
		fmt.Printf("Error:    %s\n", snap.Error)
	}
	if snap.Summary != "" {
		fmt.Printf("Summary:  %s\n", snap.Summary)
	}
	if snap.Status == "completed" {
		m := snap.Metrics
		fmt.Printf("Files:    %d/%d\n", m.FilesProcessed, m.TotalFiles)
		fmt.Printf("Findings: %d\n", m.ErrorCount)
		fmt.Printf("Fixed:    %d file(s)\n", m.FixedFileCount)
		fmt.Printf("Score:    %d\n", m.QualityScore)
	}
	return nil
}

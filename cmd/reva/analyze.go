package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"reva/internal/config"
	"reva/internal/fileset"

	"github.com/spf13/cobra"
)

var (
	analyzeProject string
	analyzeBackend string
	analyzeWorkers int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <dir>",
	Short: "Run the analysis pipeline over a directory",
	Long: `Loads the source files under <dir> (honoring an optional .reva.yaml
manifest), runs them through the full analysis pipeline, and prints the final
report as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeProject, "project", "", "Project reference (default: directory name)")
	analyzeCmd.Flags().StringVar(&analyzeBackend, "backend", "", "Override backend kind: http or mock")
	analyzeCmd.Flags().IntVar(&analyzeWorkers, "workers", 0, "Override per-stage worker count")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", args[0])
	}

	cfg, err := loadValidatedConfig(dir, func(c *config.Config) {
		if analyzeBackend != "" {
			c.Backend.Kind = analyzeBackend
		}
		if analyzeWorkers > 0 {
			c.Pipeline.Workers = analyzeWorkers
		}
	})
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	eng, err := buildEngine(dir, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if err := eng.orch.Recover(); err != nil {
		return err
	}

	files, err := fileset.Load(dir, fileset.Options{
		MaxFileSizeBytes: cfg.FileSet.MaxFileSizeBytes,
		MaxFiles:         cfg.FileSet.MaxFiles,
	})
	if err != nil {
		return err
	}

	project := analyzeProject
	if project == "" {
		project = filepath.Base(dir)
	}

	run, err := eng.orch.StartRun(project, files)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Run %s started: %d files\n", run.ID, len(files))

	eng.orch.Wait(run.ID)

	snap, err := eng.orch.Status(run.ID)
	if err != nil {
		return err
	}
	findings, err := eng.store.GetFindings(run.ID)
	if err != nil {
		return err
	}
	fixes, err := eng.store.GetFixes(run.ID)
	if err != nil {
		return err
	}
	fixedFiles, err := eng.store.GetFixedFiles(run.ID)
	if err != nil {
		return err
	}

	report := map[string]interface{}{
		"run":        snap,
		"findings":   findings,
		"fixes":      fixes,
		"fixedFiles": fixedFiles,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

package main

import (
	"reva/internal/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reva",
	Short: "reva - AI code review analysis engine",
	Long: `reva runs multi-file source projects through an ordered AI-driven analysis
pipeline (syntax, types, security, performance, quality, fix generation) and
aggregates the findings and machine-generated fixes into a persisted run.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("reva version {{.Version}}\n")
}

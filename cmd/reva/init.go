package main

import (
	"fmt"
	"os"
	"path/filepath"

	"reva/internal/config"

	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize reva configuration",
	Long:  "Creates a .reva/ directory with the default configuration in the current directory",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	configPath := filepath.Join(cwd, ".reva", "config.json")
	if _, statErr := os.Stat(configPath); statErr == nil && !initForce {
		// Idempotent behavior: already initialized is success (CI-friendly)
		fmt.Println("reva already initialized.")
		fmt.Printf("Configuration at: %s\n", configPath)
		fmt.Println("\nRun 'reva init --force' to overwrite.")
		return nil
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(cwd); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Initialized reva configuration at %s\n", configPath)
	fmt.Printf("Set the %s environment variable before running analyses.\n", cfg.Backend.APIKeyEnv)
	return nil
}

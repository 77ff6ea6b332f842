package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reva/internal/api"
	"reva/internal/config"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger API",
	Long: `Start the reva HTTP API server. The server exposes run triggering,
status polling, result retrieval, and cancellation over JSON endpoints.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg, err := loadValidatedConfig(cwd, func(c *config.Config) {
		if serveAddr != "" {
			c.Server.Addr = serveAddr
		}
	})
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	eng, err := buildEngine(cwd, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if err := eng.orch.Recover(); err != nil {
		return err
	}

	// Prune old terminal runs on startup.
	if cfg.Store.RetentionHours > 0 {
		retention := time.Duration(cfg.Store.RetentionHours) * time.Hour
		if pruned, err := eng.store.PruneRuns(retention); err != nil {
			logger.Warn("Failed to prune old runs", map[string]interface{}{
				"error": err.Error(),
			})
		} else if pruned > 0 {
			logger.Info("Pruned old runs", map[string]interface{}{
				"count": pruned,
			})
		}
	}

	server := api.NewServer(cfg.Server.Addr, eng.orch, eng.store, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("reva API server listening on http://%s\n", cfg.Server.Addr)
		fmt.Println("Press Ctrl+C to stop")
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	case sig := <-shutdown:
		logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error during shutdown", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	}

	return nil
}

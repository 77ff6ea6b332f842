package main

import (
	"fmt"
	"path/filepath"
	"time"

	"reva/internal/aicache"
	"reva/internal/aiclient"
	"reva/internal/config"
	"reva/internal/logging"
	"reva/internal/pipeline"
	"reva/internal/ratelimit"
	"reva/internal/store"
)

// engine bundles the wired components behind one lifecycle.
type engine struct {
	cfg   *config.Config
	orch  *pipeline.Orchestrator
	store *store.Store
	cache *aicache.Cache
}

// newLogger builds a logger from the configured format and level.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
}

// buildBackend constructs the configured AI backend.
func buildBackend(cfg *config.Config) (aiclient.Backend, error) {
	switch cfg.Backend.Kind {
	case "mock":
		return &aiclient.MockBackend{}, nil
	case "http":
		return aiclient.NewHTTPBackend(aiclient.HTTPBackendConfig{
			URL:       cfg.Backend.URL,
			Model:     cfg.Backend.Model,
			APIKeyEnv: cfg.Backend.APIKeyEnv,
			Timeout:   time.Duration(cfg.Backend.TimeoutMs) * time.Millisecond,
		})
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", cfg.Backend.Kind)
	}
}

// loadValidatedConfig loads the config from root, applies any overrides, and
// validates the result.
func loadValidatedConfig(root string, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildEngine wires cache, limiter, client, store, and orchestrator from a
// validated config. Commands that execute runs call orch.Recover themselves;
// read-only commands must not fail another process's live runs.
func buildEngine(root string, cfg *config.Config, logger *logging.Logger) (*engine, error) {
	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := aicache.New(aicache.Options{
		TTL:           time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		SweepInterval: time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
		MaxEntries:    cfg.Cache.MaxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.MaxRequestsPerWindow,
		time.Duration(cfg.RateLimit.WindowMs)*time.Millisecond)

	client := aiclient.New(backend, cache, limiter, logger, aiclient.Config{
		MaxRetries:  cfg.Backend.MaxRetries,
		CallTimeout: time.Duration(cfg.Pipeline.CallTimeoutMs) * time.Millisecond,
		MaxTokens:   cfg.Backend.MaxTokens,
	})

	st, err := store.Open(storeDir(root, cfg), logger)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	orch := pipeline.New(client, st, logger, pipeline.Config{
		Workers:         cfg.Pipeline.Workers,
		GenerateSummary: cfg.Pipeline.GenerateSummary,
	})

	return &engine{cfg: cfg, orch: orch, store: st, cache: cache}, nil
}

func (e *engine) close() {
	_ = e.orch.Stop(10 * time.Second)
	_ = e.store.Close()
	e.cache.Close()
}

func storeDir(root string, cfg *config.Config) string {
	dir := cfg.Store.DataDir
	if dir == "" {
		dir = ".reva"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return dir
}

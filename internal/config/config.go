// Package config loads and validates the reva configuration from
// .reva/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete reva configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Backend   BackendConfig   `json:"backend" mapstructure:"backend"`
	RateLimit RateLimitConfig `json:"rateLimit" mapstructure:"rateLimit"`
	Cache     CacheConfig     `json:"cache" mapstructure:"cache"`
	Pipeline  PipelineConfig  `json:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	FileSet   FileSetConfig   `json:"fileSet" mapstructure:"fileSet"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// BackendConfig contains AI backend configuration
type BackendConfig struct {
	Kind       string `json:"kind" mapstructure:"kind"` // "http" or "mock"
	URL        string `json:"url" mapstructure:"url"`
	Model      string `json:"model" mapstructure:"model"`
	APIKeyEnv  string `json:"apiKeyEnv" mapstructure:"apiKeyEnv"`
	TimeoutMs  int    `json:"timeoutMs" mapstructure:"timeoutMs"`
	MaxRetries int    `json:"maxRetries" mapstructure:"maxRetries"`
	MaxTokens  int    `json:"maxTokens" mapstructure:"maxTokens"`
}

// RateLimitConfig contains outbound request budget configuration
type RateLimitConfig struct {
	MaxRequestsPerWindow int `json:"maxRequestsPerWindow" mapstructure:"maxRequestsPerWindow"`
	WindowMs             int `json:"windowMs" mapstructure:"windowMs"`
}

// CacheConfig contains fingerprint cache configuration
type CacheConfig struct {
	TTLSeconds           int `json:"ttlSeconds" mapstructure:"ttlSeconds"`
	SweepIntervalSeconds int `json:"sweepIntervalSeconds" mapstructure:"sweepIntervalSeconds"`
	MaxEntries           int `json:"maxEntries" mapstructure:"maxEntries"`
}

// PipelineConfig contains orchestrator configuration
type PipelineConfig struct {
	Workers         int  `json:"workers" mapstructure:"workers"`
	CallTimeoutMs   int  `json:"callTimeoutMs" mapstructure:"callTimeoutMs"`
	GenerateSummary bool `json:"generateSummary" mapstructure:"generateSummary"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// FileSetConfig contains file intake limits
type FileSetConfig struct {
	MaxFileSizeBytes int `json:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes"`
	MaxFiles         int `json:"maxFiles" mapstructure:"maxFiles"`
}

// StoreConfig contains persistence configuration
type StoreConfig struct {
	DataDir        string `json:"dataDir" mapstructure:"dataDir"`
	RetentionHours int    `json:"retentionHours" mapstructure:"retentionHours"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Backend: BackendConfig{
			Kind:       "http",
			URL:        "https://api.anthropic.com/v1/messages",
			Model:      "claude-sonnet-4-20250514",
			APIKeyEnv:  "REVA_API_KEY",
			TimeoutMs:  120000,
			MaxRetries: 5,
			MaxTokens:  8192,
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerWindow: 60,
			WindowMs:             60000,
		},
		Cache: CacheConfig{
			TTLSeconds:           3600,
			SweepIntervalSeconds: 300,
			MaxEntries:           4096,
		},
		Pipeline: PipelineConfig{
			Workers:       4,
			CallTimeoutMs: 120000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8742",
		},
		FileSet: FileSetConfig{
			MaxFileSizeBytes: 1000000,
			MaxFiles:         500,
		},
		Store: StoreConfig{
			DataDir:        ".reva",
			RetentionHours: 720,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <root>/.reva/config.json, falling back
// to defaults when the file is absent. Values present in the file override
// defaults field by field.
func LoadConfig(root string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	var defaultMap map[string]interface{}
	raw, err := json.Marshal(defaults)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &defaultMap); err != nil {
		return nil, err
	}
	for key, value := range defaultMap {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(root, ".reva"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults, nil
		}
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to <root>/.reva/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, ".reva")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Backend.Kind != "http" && c.Backend.Kind != "mock" {
		return &ConfigError{Field: "backend.kind", Message: "must be \"http\" or \"mock\""}
	}
	if c.Backend.Kind == "http" && c.Backend.URL == "" {
		return &ConfigError{Field: "backend.url", Message: "required for the http backend"}
	}
	if c.RateLimit.MaxRequestsPerWindow <= 0 {
		return &ConfigError{Field: "rateLimit.maxRequestsPerWindow", Message: "must be positive"}
	}
	if c.RateLimit.WindowMs <= 0 {
		return &ConfigError{Field: "rateLimit.windowMs", Message: "must be positive"}
	}
	if c.Pipeline.Workers <= 0 {
		return &ConfigError{Field: "pipeline.workers", Message: "must be positive"}
	}
	if c.FileSet.MaxFiles <= 0 {
		return &ConfigError{Field: "fileSet.maxFiles", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

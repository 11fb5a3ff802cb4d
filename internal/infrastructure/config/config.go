// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	lookback := cfg.Worker.LookbackDays
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Matching      MatchingConfig      `yaml:"matching"`
	Worker        WorkerConfig        `yaml:"worker"`
	Splits        SplitsConfig        `yaml:"splits"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig holds the tunable thresholds of the matching engine.
// Zero values fall back to engine defaults.
type MatchingConfig struct {
	AutoApplyScore      float64 `yaml:"auto_apply_score"`
	AutoApplyConfidence float64 `yaml:"auto_apply_confidence"`
	MaxCandidates       int     `yaml:"max_candidates"`
}

// WorkerConfig holds the batch reconciliation worker settings
type WorkerConfig struct {
	LookbackDays       int     `yaml:"lookback_days"`
	PriorityAmount     float64 `yaml:"priority_amount"`
	UnmatchedAfterDays int     `yaml:"unmatched_after_days"`
	Concurrency        int     `yaml:"concurrency"`
	RateLimit          float64 `yaml:"rate_limit"`
	MaxAttempts        int     `yaml:"max_attempts"`
}

// SplitsConfig holds the split workflow policy
type SplitsConfig struct {
	RequireApproval bool `yaml:"require_approval"`
}

// APIConfig holds the HTTP server settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECON_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			DatabasePath: getEnv("RECON_DB_PATH", "recon.db"),
		},
		Matching: MatchingConfig{
			AutoApplyScore:      getEnvFloat("RECON_AUTO_APPLY_SCORE", 0),
			AutoApplyConfidence: getEnvFloat("RECON_AUTO_APPLY_CONFIDENCE", 0),
			MaxCandidates:       getEnvInt("RECON_MAX_CANDIDATES", 0),
		},
		Worker: WorkerConfig{
			LookbackDays:       getEnvInt("RECON_LOOKBACK_DAYS", 0),
			PriorityAmount:     getEnvFloat("RECON_PRIORITY_AMOUNT", 0),
			UnmatchedAfterDays: getEnvInt("RECON_UNMATCHED_AFTER_DAYS", 0),
			Concurrency:        getEnvInt("RECON_WORKER_CONCURRENCY", 0),
			RateLimit:          getEnvFloat("RECON_WORKER_RATE_LIMIT", 0),
			MaxAttempts:        getEnvInt("RECON_WORKER_MAX_ATTEMPTS", 0),
		},
		Splits: SplitsConfig{
			RequireApproval: getEnv("RECON_SPLITS_REQUIRE_APPROVAL", "true") != "false",
		},
		API: APIConfig{
			Port: getEnvInt("RECON_API_PORT", 0),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// applyDefaults fills in zero values left by a sparse YAML file
func (c *Config) applyDefaults() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "recon.db"
	}
	if c.Matching.AutoApplyScore == 0 {
		c.Matching.AutoApplyScore = 0.95
	}
	if c.Matching.AutoApplyConfidence == 0 {
		c.Matching.AutoApplyConfidence = 0.90
	}
	if c.Matching.MaxCandidates == 0 {
		c.Matching.MaxCandidates = 5
	}
	if c.Worker.LookbackDays == 0 {
		c.Worker.LookbackDays = 90
	}
	if c.Worker.PriorityAmount == 0 {
		c.Worker.PriorityAmount = 10000
	}
	if c.Worker.UnmatchedAfterDays == 0 {
		c.Worker.UnmatchedAfterDays = 7
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 10
	}
	if c.Worker.RateLimit == 0 {
		c.Worker.RateLimit = 100
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvFloat retrieves a float environment variable with a fallback default
func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var result float64
		if _, err := fmt.Sscanf(val, "%g", &result); err == nil {
			return result
		}
	}
	return fallback
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: /var/lib/recon/recon.db
matching:
  auto_apply_score: 0.97
worker:
  lookback_days: 30
  concurrency: 4
splits:
  require_approval: true
api:
  port: 9090
  allowed_origins:
    - https://reviews.example.com
observability:
  logging:
    level: debug
    format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/recon/recon.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 0.97, cfg.Matching.AutoApplyScore)
	assert.Equal(t, 30, cfg.Worker.LookbackDays)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.True(t, cfg.Splits.RequireApproval)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, []string{"https://reviews.example.com"}, cfg.API.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)

	// Unset fields fall back to defaults.
	assert.Equal(t, 0.90, cfg.Matching.AutoApplyConfidence)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_RECON_DB", "/tmp/expanded.db")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "storage:\n  database_path: ${TEST_RECON_DB}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/expanded.db", cfg.Storage.DatabasePath)
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()

	assert.Equal(t, "recon.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 0.95, cfg.Matching.AutoApplyScore)
	assert.Equal(t, 0.90, cfg.Matching.AutoApplyConfidence)
	assert.Equal(t, 90, cfg.Worker.LookbackDays)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, 100.0, cfg.Worker.RateLimit)
	assert.True(t, cfg.Splits.RequireApproval)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("RECON_DB_PATH", "/data/other.db")
	t.Setenv("RECON_LOOKBACK_DAYS", "45")
	t.Setenv("RECON_AUTO_APPLY_SCORE", "0.99")
	t.Setenv("RECON_SPLITS_REQUIRE_APPROVAL", "false")

	cfg := LoadFromEnv()

	assert.Equal(t, "/data/other.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 45, cfg.Worker.LookbackDays)
	assert.Equal(t, 0.99, cfg.Matching.AutoApplyScore)
	assert.False(t, cfg.Splits.RequireApproval)
}

func TestLoadOrEnvWithPathFallsBack(t *testing.T) {
	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NotNil(t, cfg)
	assert.Equal(t, "recon.db", cfg.Storage.DatabasePath)
}

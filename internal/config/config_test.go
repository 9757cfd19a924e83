package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HENRII_CONFIG", "")
	t.Setenv("PORT", "")
	t.Setenv("HENRII_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Server.DuplicateWindow())
	assert.Equal(t, 15*time.Second, cfg.Sync.Interval())
	assert.Equal(t, 2*time.Second, cfg.Sync.BackoffBase())
	assert.Equal(t, time.Minute, cfg.Sync.BackoffMax())
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Sync.RefreshDebounce())
	assert.Equal(t, "http://127.0.0.1:8090", cfg.Sync.BaseURL)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "henrii.yaml")
	body := `
log_level: debug
server:
  port: "9000"
  database_url: postgres://localhost/henrii
sync:
  base_url: https://henrii.example/
  user_id: owner
  baby_id: baby-1
  max_attempts: 3
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("HENRII_CONFIG", path)
	t.Setenv("PORT", "")
	t.Setenv("HENRII_PORT", "")
	t.Setenv("HENRII_USER_ID", "caregiver")
	t.Setenv("HENRII_SYNC_INTERVAL_SECONDS", "30")
	t.Setenv("HENRII_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/henrii", cfg.Server.DatabaseURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowOrigins)
	assert.Equal(t, "https://henrii.example", cfg.Sync.BaseURL)
	assert.Equal(t, "caregiver", cfg.Sync.UserID)
	assert.Equal(t, "baby-1", cfg.Sync.BabyID)
	assert.Equal(t, 3, cfg.Sync.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval())
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("HENRII_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robalyx/profilegov/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(content), 0o600))
}

func TestLoadConfigFromKeepsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `
version = 1

[queue]
min_interval = 1500

[cache]
backend = "redis"
coalesce = true

[profile_service]
base_url = "https://profiles.example.com"
api_key = "secret"
`)

	cfg, usedPath, err := config.LoadConfigFrom(filepath.Join(dir, "missing"), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, usedPath)

	defaults := config.Default()

	assert.Equal(t, 1500, cfg.Queue.MinInterval)
	assert.Equal(t, defaults.Queue.MaxPerWindow, cfg.Queue.MaxPerWindow)
	assert.Equal(t, defaults.Queue.Window, cfg.Queue.Window)
	assert.Equal(t, config.BackendRedis, cfg.Cache.Backend)
	assert.True(t, cfg.Cache.Coalesce)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.StalenessThreshold())
	assert.Equal(t, "https://profiles.example.com", cfg.ProfileService.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.ProfileService.Timeout())
	assert.Equal(t, defaults.Redis, cfg.Redis)
}

func TestLoadConfigFromErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing version",
			content: "[queue]\nmin_interval = 3000\n",
			wantErr: config.ErrConfigVersionMissing,
		},
		{
			name:    "version mismatch",
			content: "version = 99\n",
			wantErr: config.ErrConfigVersionMismatch,
		},
		{
			name:    "unknown backend",
			content: "version = 1\n[cache]\nbackend = \"mongo\"\n",
			wantErr: config.ErrInvalidBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, _, err := config.LoadConfigFrom(dir)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfigFromNotFound(t *testing.T) {
	t.Parallel()

	_, _, err := config.LoadConfigFrom(t.TempDir())
	require.ErrorIs(t, err, config.ErrConfigFileNotFound)
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.CurrentVersion, cfg.Version)
	assert.Equal(t, 10, cfg.Queue.MaxPerWindow)
	assert.Equal(t, 3000, cfg.Queue.MinInterval)
	assert.False(t, cfg.Cache.Coalesce)
}

func TestSampleConfigLoads(t *testing.T) {
	t.Parallel()

	cfg, _, err := config.LoadConfigFrom(filepath.Join("..", "..", "..", "config"))
	require.NoError(t, err)
	assert.Equal(t, config.BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, uint32(5), cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 3000, cfg.Queue.MinInterval)
}

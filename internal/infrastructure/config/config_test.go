package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(32<<20), cfg.Upload.MaxFileBytes)
	assert.Equal(t, time.Hour, cfg.Analysis.RunTTL)
	assert.Equal(t, 500_000, cfg.Analysis.MaxAccessRows)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9090"
analysis:
  max_access_rows: 1000
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 1000, cfg.Analysis.MaxAccessRows)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched keys keep their defaults.
	assert.Equal(t, time.Hour, cfg.Analysis.RunTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SOD_SERVER_ADDRESS", ":7070")
	t.Setenv("SOD_ENVIRONMENT", "staging")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: shout
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
}

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
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 3*time.Second, cfg.CreatePollInterval)
	assert.Equal(t, 5*time.Second, cfg.StopPollInterval)
	assert.Equal(t, 10*time.Second, cfg.PollErrorWait)
	assert.Equal(t, 30*time.Second, cfg.PollDisconnectWait)
	assert.Equal(t, 99, cfg.StopTimeout)
	assert.Equal(t, 10, cfg.WarmupStopTimeout)
	assert.Equal(t, 120, cfg.WarmupDuration)
	assert.Equal(t, 30*time.Second, cfg.WaitBuffer)
	assert.Equal(t, 5557, cfg.WorkerBasePort)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("CREATE_POLL_INTERVAL", "1s")
	t.Setenv("STOP_TIMEOUT", "42")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, time.Second, cfg.CreatePollInterval)
	assert.Equal(t, 42, cfg.StopTimeout)
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	body := "create_poll_interval: 7s\nhttp_read_timeout: 90s\nusers_per_process: 250\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("ENGINE_CONFIG_FILE", path)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.CreatePollInterval)
	assert.Equal(t, 90*time.Second, cfg.HTTPReadTimeout)
	assert.Equal(t, 250, cfg.UsersPerProcess)
	// Untouched fields keep env defaults.
	assert.Equal(t, 5*time.Second, cfg.StopPollInterval)
}

func TestLoadYAMLOverlayMissingFile(t *testing.T) {
	t.Setenv("ENGINE_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
}

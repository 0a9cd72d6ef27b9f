package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"STUDIO_DATA_DIR", "STUDIO_BACKEND_URL", "STUDIO_API_TOKEN", "STUDIO_RUN_TIMEOUT", "STUDIO_LOG_LEVEL", "STUDIO_LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	t.Setenv("STUDIO_DATA_DIR", filepath.Join(home, ".agent-studio"))
	t.Setenv("STUDIO_BACKEND_URL", "http://localhost:8010/")
	t.Setenv("STUDIO_LOG_LEVEL", "info")
	t.Setenv("STUDIO_LOG_FORMAT", "text")

	c, err := New()
	require.NoError(t, err)

	dataDir := filepath.Join(home, ".agent-studio")
	assert.Equal(t, dataDir, c.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "studio.db"), c.DBPath)
	assert.Equal(t, filepath.Join(dataDir, "configs"), c.ConfigDir)
	assert.Equal(t, filepath.Join(dataDir, "workspaces"), c.WorkspacesDir())
	assert.Equal(t, "http://localhost:8010", c.BackendURL)
	assert.Equal(t, 10*time.Minute, c.RunTimeout)
	assert.Equal(t, slog.LevelInfo, c.LogLevel)
	assert.Equal(t, LogFormatText, c.LogFormat)
}

func TestNewFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STUDIO_DATA_DIR", dir)
	t.Setenv("STUDIO_BACKEND_URL", "https://backend.example")
	t.Setenv("STUDIO_API_TOKEN", "secret")
	t.Setenv("STUDIO_RUN_TIMEOUT", "90s")
	t.Setenv("STUDIO_LOG_LEVEL", "debug")
	t.Setenv("STUDIO_LOG_FORMAT", "JSON")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, "https://backend.example", c.BackendURL)
	assert.Equal(t, "secret", c.APIToken)
	assert.Equal(t, 90*time.Second, c.RunTimeout)
	assert.Equal(t, slog.LevelDebug, c.LogLevel)
	assert.Equal(t, LogFormatJSON, c.LogFormat)

	require.NoError(t, c.EnsureDataDir())
	assert.DirExists(t, c.ConfigDir)
}

func TestNewRejectsBadValues(t *testing.T) {
	t.Setenv("STUDIO_DATA_DIR", t.TempDir())
	t.Setenv("STUDIO_LOG_LEVEL", "info")
	t.Setenv("STUDIO_LOG_FORMAT", "text")

	t.Setenv("STUDIO_RUN_TIMEOUT", "soon")
	_, err := New()
	require.Error(t, err)

	t.Setenv("STUDIO_RUN_TIMEOUT", "-1s")
	_, err = New()
	require.Error(t, err)

	t.Setenv("STUDIO_RUN_TIMEOUT", "1m")
	t.Setenv("STUDIO_LOG_FORMAT", "xml")
	_, err = New()
	require.Error(t, err)

	t.Setenv("STUDIO_LOG_FORMAT", "text")
	t.Setenv("STUDIO_LOG_LEVEL", "loud")
	_, err = New()
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := parseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhattention/agent-studio/internal/config"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &config.Config{LogFormat: config.LogFormatJSON, LogLevel: slog.LevelWarn})

	logger.Info("hidden")
	logger.Warn("shown", slog.String("team", "research"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, "research", record["team"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &config.Config{LogFormat: config.LogFormatText, LogLevel: slog.LevelDebug})

	logger.Debug("expanded team", slog.Int("nodes", 3))
	assert.Contains(t, buf.String(), "expanded team")
	assert.Contains(t, buf.String(), "nodes=3")
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultBackendURL = "http://localhost:8010"
	defaultRunTimeout = 10 * time.Minute
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	DataDir          string
	DBPath           string
	ConfigDir        string
	ProjectConfigDir string

	BackendURL string
	APIToken   string
	RunTimeout time.Duration

	LogLevel  slog.Level
	LogFormat LogFormat
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("STUDIO_DATA_DIR", filepath.Join(homeDir, ".agent-studio"))

	timeout := defaultRunTimeout
	if raw := getEnv("STUDIO_RUN_TIMEOUT", ""); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("STUDIO_RUN_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return nil, fmt.Errorf("STUDIO_RUN_TIMEOUT must be positive, got %s", raw)
		}
	}

	level, err := parseLogLevel(getEnv("STUDIO_LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	format, err := parseLogFormat(getEnv("STUDIO_LOG_FORMAT", string(LogFormatText)))
	if err != nil {
		return nil, err
	}

	c := &Config{
		DataDir:          dataDir,
		DBPath:           filepath.Join(dataDir, "studio.db"),
		ConfigDir:        filepath.Join(dataDir, "configs"),
		ProjectConfigDir: filepath.Join(".agent-studio", "configs"),
		BackendURL:       strings.TrimRight(getEnv("STUDIO_BACKEND_URL", defaultBackendURL), "/"),
		APIToken:         getEnv("STUDIO_API_TOKEN", ""),
		RunTimeout:       timeout,
		LogLevel:         level,
		LogFormat:        format,
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.ConfigDir, 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("STUDIO_LOG_LEVEL: %w", err)
	}
	return level, nil
}

func parseLogFormat(s string) (LogFormat, error) {
	switch f := LogFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case LogFormatText, LogFormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("STUDIO_LOG_FORMAT: unknown format %q", s)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

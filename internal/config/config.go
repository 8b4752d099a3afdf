package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr  = ":8080"
	defaultRootDirName = ".servicing"
	defaultDBFileName  = "servicing.db"

	envListenAddr   = "SERVICING_LISTEN_ADDR"
	envRootDir      = "SERVICING_ROOT_DIR"
	envDBPath       = "SERVICING_DB_PATH"
	envLogLevel     = "SERVICING_LOG_LEVEL"
	envPollInterval = "SERVICING_POLL_INTERVAL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	RootDir      string
	DBPath       string
	LogLevel     slog.Level
	PollInterval time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. The root directory defaults to a dot-prefixed folder under the
// user's home directory.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		RootDir:    defaultRootDir(),
		LogLevel:   slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envRootDir); v != "" {
		cfg.RootDir = v
	}
	cfg.DBPath = filepath.Join(cfg.RootDir, defaultDBFileName)
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envPollInterval); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.PollInterval = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func defaultRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultRootDirName
	}
	return filepath.Join(home, defaultRootDirName)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

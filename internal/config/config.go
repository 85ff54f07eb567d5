// Package config resolves settings from MINDMAP_* environment variables and
// an optional config.yaml under $XDG_CONFIG_HOME/mindmap. Environment
// variables win over the file.
package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultRemoteURL        = "http://localhost:8740"
	DefaultListenAddr       = ":8740"
	DefaultSlowSubscriberMS = 16
	DefaultHistoryLimit     = 500
)

var (
	once    sync.Once
	v       *viper.Viper
	loadErr error
)

func load() {
	v = viper.New()
	v.SetDefault("db_path", "")
	v.SetDefault("remote_url", DefaultRemoteURL)
	v.SetDefault("mindmap_id", "")
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("slow_subscriber_ms", DefaultSlowSubscriberMS)
	v.SetDefault("history_limit", DefaultHistoryLimit)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("MINDMAP")
	v.AutomaticEnv()

	v.SetConfigName("config") // .yaml is implicit
	v.SetConfigType("yaml")
	if override := os.Getenv("MINDMAP_CONFIG_PATH"); override != "" {
		v.AddConfigPath(override)
	}
	v.AddConfigPath(Dir())

	if readErr := v.ReadInConfig(); readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			loadErr = readErr
		}
	}
}

func get() *viper.Viper {
	once.Do(load)
	return v
}

// reset forgets the loaded settings so the next accessor reads them again
func reset() {
	once = sync.Once{}
	v, loadErr = nil, nil
}

// Err reports a config file that exists but could not be read. Accessors
// fall back to environment variables and defaults in that case.
func Err() error {
	get()
	return loadErr
}

// File returns the config file in use, or an empty string
func File() string {
	return get().ConfigFileUsed()
}

// Dir returns the directory searched for config.yaml
func Dir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "mindmap")
}

// DatabasePath returns the local store path from MINDMAP_DB_PATH. An empty
// value selects the store's default location.
func DatabasePath() string {
	return get().GetString("db_path")
}

// RemoteURL returns the base URL of the remote backend
func RemoteURL() string {
	return get().GetString("remote_url")
}

// MindmapID returns the mindmap opened when none is given explicitly
func MindmapID() string {
	return get().GetString("mindmap_id")
}

// ListenAddr returns the address the reference remote server listens on
func ListenAddr() string {
	return get().GetString("listen_addr")
}

// MetricsAddr returns the address the MCP server exposes /metrics on. Empty
// disables the endpoint.
func MetricsAddr() string {
	return get().GetString("metrics_addr")
}

// SlowSubscriberThreshold returns the latency above which subscribers are
// logged as slow
func SlowSubscriberThreshold() time.Duration {
	ms := get().GetInt("slow_subscriber_ms")
	if ms <= 0 {
		ms = DefaultSlowSubscriberMS
	}
	return time.Duration(ms) * time.Millisecond
}

// HistoryLimit returns the undo depth; zero keeps everything
func HistoryLimit() int {
	if n := get().GetInt("history_limit"); n >= 0 {
		return n
	}
	return DefaultHistoryLimit
}

// LogLevel returns the minimum level for structured logs
func LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(get().GetString("log_level")))); err != nil {
		return slog.LevelInfo
	}
	return level
}

package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Config holds all macrocore server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string   `json:"db_path"`
	LogLevel       string   `json:"log_level"`
	PoolSize       int      `json:"pool_size"`
	IntervalMS     int      `json:"interval_ms"`
	WakeIntervalMS int      `json:"wake_interval_ms"`
	MaxDepth       int      `json:"max_depth"`
	Journal        bool     `json:"journal"`
	RetentionHours int      `json:"retention_hours"`
	Scenes         []string `json:"scenes"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(macrocoreDir(), "macrocore.db"),
		LogLevel:       "info",
		PoolSize:       8,
		IntervalMS:     300,
		WakeIntervalMS: 100,
		Journal:        true,
		RetentionHours: 168,
	}
}

func macrocoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".macrocore"
	}
	return filepath.Join(home, ".macrocore")
}

func settingsPath() string {
	return filepath.Join(macrocoreDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(macrocoreDir(), "macrocore.pid")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("MACROCORE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MACROCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MACROCORE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("MACROCORE_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IntervalMS = n
		}
	}
	if v := os.Getenv("MACROCORE_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxDepth = n
		}
	}
	if v := os.Getenv("MACROCORE_JOURNAL"); v != "" {
		cfg.Journal = v == "true" || v == "1"
	}
	if v := os.Getenv("MACROCORE_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionHours = n
		}
	}
	if v := os.Getenv("MACROCORE_SCENES"); v != "" {
		cfg.Scenes = strings.Split(v, ",")
	}

	return cfg
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	IntervalChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.IntervalMS != new.IntervalMS {
		d.IntervalChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.WakeIntervalMS != new.WakeIntervalMS {
		d.RestartNeeded = append(d.RestartNeeded, "wake_interval_ms")
	}
	if old.MaxDepth != new.MaxDepth {
		d.RestartNeeded = append(d.RestartNeeded, "max_depth")
	}
	if old.Journal != new.Journal {
		d.RestartNeeded = append(d.RestartNeeded, "journal")
	}
	if !slices.Equal(old.Scenes, new.Scenes) {
		d.RestartNeeded = append(d.RestartNeeded, "scenes")
	}
	return d
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

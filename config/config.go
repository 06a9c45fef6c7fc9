package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DataPaths holds all data directory and file path configuration
// These paths can be overridden via environment variables
type DataPaths struct {
	// DataDir is the base data directory (SECLOG_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath defaults to <data_dir>/seclog.db
	SQLitePath string `mapstructure:"sqlite_path"`
	// ArchiveDir defaults to <data_dir>/archive
	ArchiveDir string `mapstructure:"archive_dir"`
}

// Config holds the application configuration
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	Rules struct {
		File string `mapstructure:"file"`
	} `mapstructure:"rules"`

	Source struct {
		// Type is "file" (JSON-lines event logs) or "memory"
		Type     string   `mapstructure:"type"`
		Dir      string   `mapstructure:"dir"`
		Logfiles []string `mapstructure:"logfiles"`
		// Kind selects the normalizer: windows, syslog or generic
		Kind string `mapstructure:"kind"`
	} `mapstructure:"source"`

	Poller struct {
		Interval       time.Duration `mapstructure:"interval"`
		Buffer         int           `mapstructure:"buffer"`
		ReplayExisting bool          `mapstructure:"replay_existing"`
	} `mapstructure:"poller"`

	Engine struct {
		EvaluateAfterIngest bool `mapstructure:"evaluate_after_ingest"`
		// Interval 0 disables timed evaluation
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"engine"`

	Retention struct {
		MaxAgeDays    int           `mapstructure:"max_age_days"`
		Mode          string        `mapstructure:"mode"`
		CheckInterval time.Duration `mapstructure:"check_interval"`
		OnStartup     bool          `mapstructure:"on_startup"`
	} `mapstructure:"retention"`

	Storage struct {
		DedupCacheSize int `mapstructure:"dedup_cache_size"`
	} `mapstructure:"storage"`

	API struct {
		Enabled   bool    `mapstructure:"enabled"`
		Addr      string  `mapstructure:"addr"`
		RateLimit float64 `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "")
	viper.SetDefault("data_paths.archive_dir", "")

	viper.SetDefault("rules.file", "rules.json")

	viper.SetDefault("source.type", "file")
	viper.SetDefault("source.dir", "")
	viper.SetDefault("source.logfiles", []string{"Security", "System", "Application"})
	viper.SetDefault("source.kind", "windows")

	viper.SetDefault("poller.interval", "3s")
	viper.SetDefault("poller.buffer", 16)
	viper.SetDefault("poller.replay_existing", false)

	viper.SetDefault("engine.evaluate_after_ingest", true)
	viper.SetDefault("engine.interval", "1m")

	viper.SetDefault("retention.max_age_days", 90)
	viper.SetDefault("retention.mode", "archive")
	viper.SetDefault("retention.check_interval", "24h")
	viper.SetDefault("retention.on_startup", true)

	viper.SetDefault("storage.dedup_cache_size", 10000)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.addr", "127.0.0.1:8089")
	viper.SetDefault("api.rate_limit", 50.0)

	viper.SetDefault("log.level", "info")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("SECLOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// shorter names for the path settings
	_ = viper.BindEnv("data_paths.data_dir", "SECLOG_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "SECLOG_SQLITE_PATH")
	_ = viper.BindEnv("data_paths.archive_dir", "SECLOG_ARCHIVE_DIR")
	_ = viper.BindEnv("log.level", "SECLOG_LOG_LEVEL")
}

// LoadConfig reads config.yaml from . or ./config, applies SECLOG_*
// environment overrides and validates the result.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no file: defaults and env vars only
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.ResolveDataPaths()
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	c.DataPaths.DataDir = filepath.Clean(dataDir)

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(c.DataPaths.DataDir, "seclog.db")
	} else {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	if c.DataPaths.ArchiveDir == "" {
		c.DataPaths.ArchiveDir = filepath.Join(c.DataPaths.DataDir, "archive")
	} else {
		c.DataPaths.ArchiveDir = filepath.Clean(c.DataPaths.ArchiveDir)
	}

	if c.Source.Dir == "" {
		c.Source.Dir = filepath.Join(c.DataPaths.DataDir, "eventlogs")
	}
}

func validateConfig(config *Config) error {
	switch config.Source.Type {
	case "file", "memory":
	default:
		return fmt.Errorf("invalid source.type %q: must be file or memory", config.Source.Type)
	}
	switch config.Source.Kind {
	case "windows", "syslog", "generic":
	default:
		return fmt.Errorf("invalid source.kind %q: must be windows, syslog or generic", config.Source.Kind)
	}
	if len(config.Source.Logfiles) == 0 {
		return fmt.Errorf("source.logfiles cannot be empty")
	}
	seen := make(map[string]bool)
	for _, name := range config.Source.Logfiles {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return fmt.Errorf("source.logfiles contains an empty name")
		}
		if seen[key] {
			return fmt.Errorf("source.logfiles lists %q twice", name)
		}
		seen[key] = true
	}

	if config.Poller.Interval < 100*time.Millisecond {
		return fmt.Errorf("poller.interval must be at least 100ms")
	}
	if config.Poller.Buffer < 1 {
		return fmt.Errorf("poller.buffer must be positive")
	}
	if config.Engine.Interval < 0 {
		return fmt.Errorf("engine.interval cannot be negative")
	}

	switch config.Retention.Mode {
	case "archive", "delete":
	default:
		return fmt.Errorf("invalid retention.mode %q: must be archive or delete", config.Retention.Mode)
	}
	if config.Retention.MaxAgeDays > 0 && config.Retention.CheckInterval < time.Minute {
		return fmt.Errorf("retention.check_interval must be at least 1m")
	}

	if config.Storage.DedupCacheSize < 0 {
		return fmt.Errorf("storage.dedup_cache_size cannot be negative")
	}

	if config.API.Enabled {
		host, port, err := net.SplitHostPort(config.API.Addr)
		if err != nil {
			return fmt.Errorf("invalid api.addr %q: %w", config.API.Addr, err)
		}
		if port == "" {
			return fmt.Errorf("invalid api.addr %q: missing port", config.API.Addr)
		}
		if host != "" && host != "localhost" && net.ParseIP(host) == nil {
			return fmt.Errorf("invalid api.addr host %q", host)
		}
	}
	if config.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit cannot be negative")
	}

	switch strings.ToLower(config.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", config.Log.Level)
	}
	return nil
}

// RetentionEnabled reports whether retention runs at all.
func (c *Config) RetentionEnabled() bool {
	return c.Retention.MaxAgeDays > 0
}

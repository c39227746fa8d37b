// Package config provides server configuration loading and the dashboard
// settings store. Server config is operator-owned YAML; dashboard settings
// are a JSON document the API itself writes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Auth    AuthConfig    `yaml:"auth"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DataConfig locates the on-disk data files.
type DataConfig struct {
	Dir             string `yaml:"dir"`
	EventsFile      string `yaml:"events_file"`
	SettingsFile    string `yaml:"settings_file"`
	GroundTruthFile string `yaml:"ground_truth_file"`
	AnnotationsDB   string `yaml:"annotations_db"`
	CursorFile      string `yaml:"cursor_file"`
	RunLogFile      string `yaml:"run_log_file"`

	// DemoFallback serves generated sample events while no event file
	// exists yet.
	DemoFallback bool `yaml:"demo_fallback"`
}

// AuthConfig configures bearer-token API auth. An empty token with
// TokenFile set loads (or generates) the token from that file.
type AuthConfig struct {
	Token     string `yaml:"token,omitempty"`
	TokenFile string `yaml:"token_file,omitempty"`
}

// IngestConfig configures the session-log adapter.
type IngestConfig struct {
	LogPath      string        `yaml:"log_path"`
	SessionsFile string        `yaml:"sessions_file"`
	RegistryFile string        `yaml:"registry_file"`
	Interval     time.Duration `yaml:"interval"`
	RemoteURL    string        `yaml:"remote_url,omitempty"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8899,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Data: DataConfig{
			Dir:             "data",
			EventsFile:      "cost-events.ndjson",
			SettingsFile:    "config.json",
			GroundTruthFile: "ground_truth.json",
			AnnotationsDB:   "annotations.db",
			CursorFile:      "ingest-cursors.json",
			RunLogFile:      "last_run.json",
			DemoFallback:    true,
		},
		Ingest: IngestConfig{
			Interval: time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a YAML config file over the defaults. A missing file yields
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must not be empty")
	}
	if c.Data.EventsFile == "" {
		return fmt.Errorf("data.events_file must not be empty")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not recognized", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format %q not recognized", c.Logging.Format)
	}
	return nil
}

func (c *Config) path(name string) string {
	return filepath.Join(c.Data.Dir, name)
}

// EventsPath returns the event file location.
func (c *Config) EventsPath() string { return c.path(c.Data.EventsFile) }

// SettingsPath returns the dashboard settings file location.
func (c *Config) SettingsPath() string { return c.path(c.Data.SettingsFile) }

// GroundTruthPath returns the ground-truth document location.
func (c *Config) GroundTruthPath() string { return c.path(c.Data.GroundTruthFile) }

// AnnotationsPath returns the annotations database location.
func (c *Config) AnnotationsPath() string { return c.path(c.Data.AnnotationsDB) }

// CursorPath returns the ingestion cursor location.
func (c *Config) CursorPath() string { return c.path(c.Data.CursorFile) }

// RunLogPath returns the ingestion run summary location.
func (c *Config) RunLogPath() string { return c.path(c.Data.RunLogFile) }

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/costpilot/costpilot/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8899 {
		t.Errorf("port = %d, want default 8899", cfg.Server.Port)
	}
	if !cfg.Data.DemoFallback {
		t.Error("demo fallback not defaulted on")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costpilot.yaml")
	raw := `
server:
  port: 9900
data:
  dir: /var/lib/costpilot
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9900 {
		t.Errorf("port = %d, want 9900", cfg.Server.Port)
	}
	if cfg.Data.Dir != "/var/lib/costpilot" {
		t.Errorf("data dir = %q", cfg.Data.Dir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	// Untouched sections keep defaults.
	if cfg.Data.EventsFile != "cost-events.ndjson" {
		t.Errorf("events file = %q, want default", cfg.Data.EventsFile)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 99999\n"},
		{"bad level", "logging:\n  level: chatty\n"},
		{"empty data dir", "data:\n  dir: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "costpilot.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := config.Load(path); err == nil {
				t.Error("Load accepted invalid config")
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Dir = "/data"
	if got := cfg.EventsPath(); got != "/data/cost-events.ndjson" {
		t.Errorf("EventsPath = %q", got)
	}
	if got := cfg.AnnotationsPath(); got != "/data/annotations.db" {
		t.Errorf("AnnotationsPath = %q", got)
	}
}

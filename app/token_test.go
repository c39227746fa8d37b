package app_test

import (
	"path/filepath"
	"testing"

	"github.com/costpilot/costpilot/app"
	"github.com/costpilot/costpilot/config"
)

func TestEnsureToken_ConfiguredWins(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Token = "explicit"

	token, err := app.EnsureToken(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if token != "explicit" {
		t.Errorf("token = %q", token)
	}
}

func TestEnsureToken_GeneratesAndPersists(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Dir = t.TempDir()
	cfg.Auth.TokenFile = filepath.Join(cfg.Data.Dir, ".api-token")

	first, err := app.EnsureToken(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 48 {
		t.Errorf("token length = %d, want 48 hex chars", len(first))
	}

	second, err := app.EnsureToken(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Error("token not stable across calls")
	}
}

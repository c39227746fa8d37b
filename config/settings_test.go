package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/costpilot/costpilot/config"
)

func newSettings(t *testing.T) (*config.SettingsStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	return config.NewSettingsStore(path, zerolog.Nop()), path
}

func TestSettings_MissingFileIsDefaults(t *testing.T) {
	s, _ := newSettings(t)
	set := s.Get()
	if set.DailyBudgetUSD != 200.0 || set.Theme != "dark" || set.CurrencyRate != 1.0 {
		t.Errorf("defaults = %+v", set)
	}
}

func TestSettings_WrongTypedFieldFallsBack(t *testing.T) {
	s, path := newSettings(t)
	raw := `{"daily_budget_usd": "not a number", "theme": "light", "max_events_display": 25}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	set := s.Get()
	if set.DailyBudgetUSD != 200.0 {
		t.Errorf("budget = %v, want default 200 after type mismatch", set.DailyBudgetUSD)
	}
	if set.Theme != "light" {
		t.Errorf("theme = %q, want light (valid field kept)", set.Theme)
	}
	if set.MaxEventsDisplay != 25 {
		t.Errorf("max events = %d, want 25", set.MaxEventsDisplay)
	}
}

func TestSettings_UpdateMergesAndPersists(t *testing.T) {
	s, path := newSettings(t)

	set, err := s.Update(map[string]json.RawMessage{
		"theme":            json.RawMessage(`"light"`),
		"daily_budget_usd": json.RawMessage(`80`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if set.Theme != "light" || set.DailyBudgetUSD != 80 {
		t.Errorf("after update = theme %q budget %v", set.Theme, set.DailyBudgetUSD)
	}

	// Second update must not clobber the first field.
	set, err = s.Update(map[string]json.RawMessage{
		"dashboard_title": json.RawMessage(`"Ops Costs"`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if set.Theme != "light" {
		t.Errorf("theme = %q, want light preserved across updates", set.Theme)
	}

	// A fresh store over the same file sees the merged state.
	fresh := config.NewSettingsStore(path, zerolog.Nop())
	if got := fresh.Get(); got.DashboardTitle != "Ops Costs" || got.DailyBudgetUSD != 80 {
		t.Errorf("persisted = title %q budget %v", got.DashboardTitle, got.DailyBudgetUSD)
	}
}

func TestSettings_GuardRails(t *testing.T) {
	s, path := newSettings(t)
	raw := `{"currency_rate": -2, "cost_precision": 99, "max_events_display": 0}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	set := s.Get()
	if set.CurrencyRate != 1.0 {
		t.Errorf("rate = %v, want clamped to 1.0", set.CurrencyRate)
	}
	if set.CostPrecision != 4 {
		t.Errorf("precision = %d, want clamped to 4", set.CostPrecision)
	}
	if set.MaxEventsDisplay != 50 {
		t.Errorf("max events = %d, want clamped to 50", set.MaxEventsDisplay)
	}
}

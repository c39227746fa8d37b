package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Category colors a task-name keyword on the dashboard.
type Category struct {
	Keyword string `json:"keyword"`
	Label   string `json:"label"`
	Color   string `json:"color"`
}

// AlertLevels holds the daily-spend alert thresholds in USD.
type AlertLevels struct {
	Warn     float64 `json:"warn"`
	Critical float64 `json:"critical"`
}

// Settings is the dashboard settings document. The API reads and writes
// it, so every field tolerates absence and falls back to its default.
type Settings struct {
	User                  string            `json:"user"`
	Project               string            `json:"project"`
	Currency              string            `json:"currency"`
	CurrencyRate          float64           `json:"currency_rate"`
	Timezone              string            `json:"timezone"`
	AlertThresholdUSD     float64           `json:"alert_threshold_usd"`
	DailyBudgetUSD        float64           `json:"daily_budget_usd"`
	AlertLevels           AlertLevels       `json:"alert_levels"`
	RefreshIntervalSec    int               `json:"refresh_interval_sec"`
	Theme                 string            `json:"theme"`
	DateFormat            string            `json:"date_format"`
	DefaultSort           string            `json:"default_sort"`
	DefaultFilter         string            `json:"default_filter"`
	ShowSessions          bool              `json:"show_sessions"`
	CompactDefault        bool              `json:"compact_default"`
	MaxEventsDisplay      int               `json:"max_events_display"`
	HideZeroCost          bool              `json:"hide_zero_cost"`
	GroupByTask           bool              `json:"group_by_task"`
	ShowTokenCounts       bool              `json:"show_token_counts"`
	CostPrecision         int               `json:"cost_precision"`
	DashboardTitle        string            `json:"dashboard_title"`
	WeeklyGoalUSD         float64           `json:"weekly_goal_usd"`
	ModelAliases          map[string]string `json:"model_aliases"`
	SessionLabelOverrides map[string]string `json:"session_label_overrides"`
	ExcludeSessions       []string          `json:"exclude_sessions"`
	WebhookURL            string            `json:"webhook_url"`
	NotifyOnThreshold     bool              `json:"notify_on_threshold"`
	RetentionDays         int               `json:"retention_days"`
	Categories            []Category        `json:"categories"`
}

// DefaultSettings returns the built-in dashboard settings.
func DefaultSettings() Settings {
	return Settings{
		User:               "User",
		Project:            "AI Operations",
		Currency:           "USD",
		CurrencyRate:       1.0,
		Timezone:           "UTC",
		AlertThresholdUSD:  10.0,
		DailyBudgetUSD:     200.0,
		AlertLevels:        AlertLevels{Warn: 150.0, Critical: 200.0},
		RefreshIntervalSec: 2,
		Theme:              "dark",
		DateFormat:         "relative",
		DefaultSort:        "ts",
		DefaultFilter:      "ALL",
		ShowSessions:       true,
		MaxEventsDisplay:   50,
		ShowTokenCounts:    true,
		CostPrecision:      4,
		DashboardTitle:     "CostPilot",
		ModelAliases:       map[string]string{},
		RetentionDays:      90,
		Categories: []Category{
			{Keyword: "MALL", Label: "MALL", Color: "yellow"},
			{Keyword: "MOLT", Label: "MOLT", Color: "cyan"},
			{Keyword: "CCK", Label: "CCK", Color: "green"},
			{Keyword: "ARENA", Label: "ARENA", Color: "gold"},
			{Keyword: "NEWS", Label: "NEWS", Color: "blue"},
			{Keyword: "OPS", Label: "OPS", Color: "red"},
			{Keyword: "KIRA", Label: "KIRA", Color: "blue"},
		},
	}
}

// SettingsStore reads and writes the settings document with mtime caching.
// Field-level decode failures fall back to defaults instead of rejecting
// the whole file, so one hand-edited bad value never blanks the dashboard.
type SettingsStore struct {
	path string
	log  zerolog.Logger

	mu       sync.Mutex
	cached   *Settings
	cachedAt time.Time

	watcher  *fsnotify.Watcher
	onChange []func(Settings)
	stopCh   chan struct{}
}

// NewSettingsStore returns a store over the given JSON path.
func NewSettingsStore(path string, log zerolog.Logger) *SettingsStore {
	return &SettingsStore{
		path:   path,
		log:    log.With().Str("component", "settings").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Get returns the current settings. A missing or unreadable file yields
// the defaults.
func (s *SettingsStore) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.path)
	if err != nil {
		return DefaultSettings()
	}
	if s.cached != nil && fi.ModTime().Equal(s.cachedAt) {
		return *s.cached
	}

	set := s.loadLocked()
	s.cached = &set
	s.cachedAt = fi.ModTime()
	return set
}

func (s *SettingsStore) loadLocked() Settings {
	set := DefaultSettings()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return set
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn().Err(err).Msg("settings file unreadable, using defaults")
		return set
	}

	// Decode field by field so one wrong-typed value degrades to its
	// default instead of poisoning the rest.
	decode := func(key string, dst any) {
		rawField, ok := doc[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(rawField, dst); err != nil {
			s.log.Warn().Str("field", key).Msg("settings field has wrong type, using default")
		}
	}

	decode("user", &set.User)
	decode("project", &set.Project)
	decode("currency", &set.Currency)
	decode("currency_rate", &set.CurrencyRate)
	decode("timezone", &set.Timezone)
	decode("alert_threshold_usd", &set.AlertThresholdUSD)
	decode("daily_budget_usd", &set.DailyBudgetUSD)
	decode("alert_levels", &set.AlertLevels)
	decode("refresh_interval_sec", &set.RefreshIntervalSec)
	decode("theme", &set.Theme)
	decode("date_format", &set.DateFormat)
	decode("default_sort", &set.DefaultSort)
	decode("default_filter", &set.DefaultFilter)
	decode("show_sessions", &set.ShowSessions)
	decode("compact_default", &set.CompactDefault)
	decode("max_events_display", &set.MaxEventsDisplay)
	decode("hide_zero_cost", &set.HideZeroCost)
	decode("group_by_task", &set.GroupByTask)
	decode("show_token_counts", &set.ShowTokenCounts)
	decode("cost_precision", &set.CostPrecision)
	decode("dashboard_title", &set.DashboardTitle)
	decode("weekly_goal_usd", &set.WeeklyGoalUSD)
	decode("model_aliases", &set.ModelAliases)
	decode("session_label_overrides", &set.SessionLabelOverrides)
	decode("exclude_sessions", &set.ExcludeSessions)
	decode("webhook_url", &set.WebhookURL)
	decode("notify_on_threshold", &set.NotifyOnThreshold)
	decode("retention_days", &set.RetentionDays)
	decode("categories", &set.Categories)

	if set.CurrencyRate <= 0 {
		set.CurrencyRate = 1.0
	}
	if set.CostPrecision < 0 || set.CostPrecision > 10 {
		set.CostPrecision = 4
	}
	if set.MaxEventsDisplay <= 0 {
		set.MaxEventsDisplay = 50
	}
	return set
}

// Update merges a JSON patch into the stored document, writes the result
// atomically, and invalidates the cache. Returns the settings after merge.
func (s *SettingsStore) Update(patch map[string]json.RawMessage) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := map[string]json.RawMessage{}
	if raw, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(raw, &doc); err != nil {
			doc = map[string]json.RawMessage{}
		}
	}
	for k, v := range patch {
		doc[k] = v
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Settings{}, fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return Settings{}, fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return Settings{}, fmt.Errorf("replace settings: %w", err)
	}
	s.cached = nil

	set := s.loadLocked()
	return set, nil
}

// OnChange registers a callback invoked after the settings file changes on
// disk. Register before calling Watch.
func (s *SettingsStore) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Watch starts watching the settings file for external edits. The parent
// directory is watched because most editors replace files atomically.
func (s *SettingsStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch settings dir: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop()
	s.log.Info().Str("path", s.path).Msg("watching settings file")
	return nil
}

func (s *SettingsStore) watchLoop() {
	base := filepath.Base(s.path)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.mu.Lock()
			s.cached = nil
			callbacks := append([]func(Settings){}, s.onChange...)
			s.mu.Unlock()

			set := s.Get()
			for _, fn := range callbacks {
				fn(set)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("settings watcher error")
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the watcher.
func (s *SettingsStore) Close() {
	close(s.stopCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

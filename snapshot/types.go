// Package snapshot builds the aggregated analytics document served to the
// dashboard and pushed over the event stream. Building is a pure function
// of the event list, the ground-truth document, the dashboard settings,
// and the clock; the Engine adds caching on top.
package snapshot

import (
	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/domain/rules"
	"github.com/costpilot/costpilot/groundtruth"
)

// SchemaVersion is bumped whenever the snapshot shape changes.
const SchemaVersion = 3

// KPI holds the headline numbers.
type KPI struct {
	TodayCost            float64  `json:"today_cost"`
	TrackedTodayCost     float64  `json:"tracked_today_cost"`
	GTTodayAvailable     bool     `json:"gt_today_available"`
	YesterdayCost        float64  `json:"yesterday_cost"`
	WeekCost             float64  `json:"week_cost"`
	MonthCost            float64  `json:"month_cost"`
	RunningCost          float64  `json:"running_cost"`
	AvgTaskCost          float64  `json:"avg_task_cost"`
	Projection           float64  `json:"projection"`
	TasksToday           int      `json:"tasks_today"`
	TokensIn             int64    `json:"tokens_in"`
	TokensOut            int64    `json:"tokens_out"`
	TokensCache          int64    `json:"tokens_cache"`
	TokenRatio           float64  `json:"token_ratio"`
	CacheSavings         float64  `json:"cache_savings"`
	CostVelocity         float64  `json:"cost_velocity"`
	SessionCountToday    int      `json:"session_count_today"`
	DailyBudgetRemaining float64  `json:"daily_budget_remaining"`
	ProjectedMonthCost   float64  `json:"projected_month_cost"`
	WeeklyGoalPct        float64  `json:"weekly_goal_pct"`
	ForecastSource       string   `json:"forecast_source"`
	GTAvgDailyReal       *float64 `json:"gt_avg_daily_real"`
}

// Status holds the dashboard status lights.
type Status struct {
	Day               string `json:"day"`
	Avg               string `json:"avg"`
	Projection        string `json:"projection"`
	HasRunning        bool   `json:"has_running"`
	AnomalyCount      int    `json:"anomaly_count"`
	AlertLevel        string `json:"alert_level"`
	EffTrend          string `json:"eff_trend"`
	DataVolumeWarning bool   `json:"data_volume_warning"`
}

// SessionCost is one row of the per-task cost breakdown.
type SessionCost struct {
	Session string  `json:"session"`
	Cost    float64 `json:"cost"`
	Runs    int     `json:"runs"`
}

// ModelCost is one row of the per-model cost breakdown.
type ModelCost struct {
	Model       string  `json:"model"`
	Label       string  `json:"label"`
	Cost        float64 `json:"cost"`
	Pct         float64 `json:"pct"`
	Runs        int     `json:"runs"`
	TokensIn    int64   `json:"tokens_in"`
	TokensOut   int64   `json:"tokens_out"`
	TokensCache int64   `json:"tokens_cache"`
}

// HourCost is one hour of the daily heatmap.
type HourCost struct {
	Hour int     `json:"hour"`
	Cost float64 `json:"cost"`
}

// WeekDay is one bar of the weekly chart.
type WeekDay struct {
	Date         string  `json:"date"`
	Cost         float64 `json:"cost"`
	Label        string  `json:"label"`
	SessionCount int     `json:"session_count"`
	TrackedCost  float64 `json:"tracked_cost"`
	IsGT         bool    `json:"is_gt"`
}

// ForecastDay is one projected day of spend.
type ForecastDay struct {
	Day  int     `json:"day"`
	Cost float64 `json:"cost"`
}

// RecentTask is one row of the recent-events table.
type RecentTask struct {
	TS              int64    `json:"ts"`
	ID              string   `json:"id"`
	Task            string   `json:"task"`
	Model           string   `json:"model"`
	ModelDisplay    string   `json:"model_display"`
	Cost            float64  `json:"cost"`
	Status          string   `json:"status"`
	DurationSec     float64  `json:"duration_sec"`
	Session         string   `json:"session"`
	AgeSec          int64    `json:"age_sec"`
	Anomaly         string   `json:"anomaly,omitempty"`
	AnomalyCost     float64  `json:"anomaly_cost,omitempty"`
	InputTokens     int64    `json:"input_tokens"`
	OutputTokens    int64    `json:"output_tokens"`
	CacheReadTokens int64    `json:"cache_read_tokens"`
	Tags            []string `json:"tags"`
	IsRecurring     bool     `json:"is_recurring"`
}

// Anomaly is one flagged cost spike.
type Anomaly struct {
	Task string  `json:"task"`
	Note string  `json:"note"`
	Cost float64 `json:"cost"`
}

// PeakTask is the most expensive completed event of a period.
type PeakTask struct {
	Task string  `json:"task"`
	Cost float64 `json:"cost"`
	ID   string  `json:"id,omitempty"`
	Date string  `json:"date,omitempty"`
}

// LongestSession is the longest-running event on record.
type LongestSession struct {
	Task        string  `json:"task"`
	DurationSec float64 `json:"duration_sec"`
	Date        string  `json:"date"`
}

// LeaderboardRow ranks a task by output efficiency.
type LeaderboardRow struct {
	Task    string  `json:"task"`
	EffPct  float64 `json:"eff_pct"`
	AvgCost float64 `json:"avg_cost"`
	Runs    int     `json:"runs"`
	P90Cost float64 `json:"p90_cost"`
}

// TagCost is one row of the tag spend summary.
type TagCost struct {
	Tag  string  `json:"tag"`
	Cost float64 `json:"cost"`
}

// PercentileStats summarizes the all-time cost distribution.
type PercentileStats struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

// GTDay is one day of the ground-truth comparison chart.
type GTDay struct {
	Date        string   `json:"date"`
	RealCost    float64  `json:"real_cost"`
	TrackedCost *float64 `json:"tracked_cost"`
	CacheW5m    int64    `json:"cache_w_5m,omitempty"`
	CacheRead   int64    `json:"cache_read,omitempty"`
	Output      int64    `json:"output,omitempty"`
	Models      []string `json:"models"`
}

// GroundTruthSection compares tracked costs against provider billing.
type GroundTruthSection struct {
	Available         bool                            `json:"available"`
	GeneratedAt       string                          `json:"generated_at,omitempty"`
	SourceFiles       []string                        `json:"source_files,omitempty"`
	TodayRealCost     *float64                        `json:"today_real_cost,omitempty"`
	WeekRealCost      float64                         `json:"week_real_cost,omitempty"`
	MonthRealCost     float64                         `json:"month_real_cost,omitempty"`
	TotalRealCost     float64                         `json:"total_real_cost,omitempty"`
	AvgDailyReal      *float64                        `json:"avg_daily_real,omitempty"`
	TodayTrackedCost  float64                         `json:"today_tracked_cost,omitempty"`
	WeekTrackedCost   float64                         `json:"week_tracked_cost,omitempty"`
	MonthTrackedCost  float64                         `json:"month_tracked_cost,omitempty"`
	AccuracyTodayPct  *float64                        `json:"accuracy_today_pct,omitempty"`
	CacheReadTotal    int64                           `json:"cache_read_total,omitempty"`
	CacheWriteTotal   int64                           `json:"cache_write_total,omitempty"`
	OutputTokensTotal int64                           `json:"output_tokens_total,omitempty"`
	DailyList         []GTDay                         `json:"daily_list,omitempty"`
	FullDaily         []GTDay                         `json:"full_daily,omitempty"`
	HourlyToday       map[string]groundtruth.DayTotal `json:"gt_hourly_today,omitempty"`
}

// ClientConfig is the settings subset echoed to the dashboard.
type ClientConfig struct {
	Theme             string             `json:"theme"`
	DateFormat        string             `json:"date_format"`
	DefaultSort       string             `json:"default_sort"`
	DefaultFilter     string             `json:"default_filter"`
	ShowSessions      bool               `json:"show_sessions"`
	CompactDefault    bool               `json:"compact_default"`
	MaxEventsDisplay  int                `json:"max_events_display"`
	HideZeroCost      bool               `json:"hide_zero_cost"`
	GroupByTask       bool               `json:"group_by_task"`
	ShowTokenCounts   bool               `json:"show_token_counts"`
	CostPrecision     int                `json:"cost_precision"`
	DashboardTitle    string             `json:"dashboard_title"`
	ModelAliases      map[string]string  `json:"model_aliases"`
	WeeklyGoalUSD     float64            `json:"weekly_goal_usd"`
	AlertThresholdUSD float64            `json:"alert_threshold_usd"`
	DailyBudgetUSD    float64            `json:"daily_budget_usd"`
	AlertLevels       map[string]float64 `json:"alert_levels"`
	Categories        any                `json:"categories"`
}

// Snapshot is the full analytics document.
type Snapshot struct {
	TS            int64        `json:"ts"`
	DemoMode      bool         `json:"demo_mode"`
	SchemaVersion int          `json:"schema_version"`
	Currency      string       `json:"currency"`
	CurrencyRate  float64      `json:"currency_rate"`
	Config        ClientConfig `json:"config"`
	KPI           KPI          `json:"kpi"`
	Status        Status       `json:"status"`

	Running               []event.Event      `json:"running"`
	Breakdown             []SessionCost      `json:"breakdown"`
	BreakdownWeek         []SessionCost      `json:"breakdown_week"`
	BreakdownMonth        []SessionCost      `json:"breakdown_month"`
	BreakdownByModel      []ModelCost        `json:"breakdown_by_model"`
	BreakdownByModelWeek  []ModelCost        `json:"breakdown_by_model_week"`
	BreakdownByModelMonth []ModelCost        `json:"breakdown_by_model_month"`
	BreakdownByHour       []HourCost         `json:"breakdown_by_hour"`
	Weekly                []WeekDay          `json:"weekly"`
	Avg30d                float64            `json:"avg_30d"`
	Forecast3d            []ForecastDay      `json:"forecast_3d"`
	WoWPct                float64            `json:"wow_pct"`
	Recent                []RecentTask       `json:"recent"`
	Anomalies             []Anomaly          `json:"anomalies"`
	HourlyCosts           []float64          `json:"hourly_costs"`
	Hourly7dAvg           []float64          `json:"hourly_7d_avg"`
	CostPerHour7d         []float64          `json:"cost_per_hour_7d"`
	ModelSplit            map[string]float64 `json:"model_split"`
	IORatios              map[string]float64 `json:"io_ratios"`
	TrendPct              float64            `json:"trend_pct"`
	PeakTask              *PeakTask          `json:"peak_task"`
	PeakTaskAllTime       *PeakTask          `json:"peak_task_all_time"`
	LongestSession        *LongestSession    `json:"longest_session"`
	BusiestDay            string             `json:"busiest_day,omitempty"`
	CostByWeekday         map[string]float64 `json:"cost_by_weekday"`
	TaskLeaderboard       []LeaderboardRow   `json:"task_leaderboard"`
	TaskFrequency         map[string]float64 `json:"task_frequency"`
	TagsSummary           []TagCost          `json:"tags_summary"`
	Percentiles           PercentileStats    `json:"percentile_stats"`
	TotalCostAllTime      float64            `json:"total_cost_all_time"`
	TotalCostTracked      float64            `json:"total_cost_tracked"`
	TotalEventsAllTime    int                `json:"total_events_all_time"`
	MalformedLines        int                `json:"malformed_lines"`
	GroundTruth           GroundTruthSection `json:"ground_truth"`
	Rules                 rules.Report       `json:"rules"`
}

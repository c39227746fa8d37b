package snapshot

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/costpilot/costpilot/config"
	"github.com/costpilot/costpilot/domain/event"
	"github.com/costpilot/costpilot/domain/pricing"
	"github.com/costpilot/costpilot/domain/rules"
	"github.com/costpilot/costpilot/domain/stats"
	"github.com/costpilot/costpilot/groundtruth"
)

// Input carries everything Build needs. GT may be nil when no ground
// truth has been imported.
type Input struct {
	Events    []event.Event
	DemoMode  bool
	Malformed int
	GT        *groundtruth.Data
	Settings  config.Settings
	Now       time.Time
}

const sonnetInputPerM = 3.0

// Build computes the full analytics document. Pure: same input, same
// output, no clock or file access.
func Build(in Input) *Snapshot {
	set := in.Settings
	now := in.Now
	rate := set.CurrencyRate
	if rate <= 0 {
		rate = 1.0
	}
	precision := set.CostPrecision

	events := in.Events
	if set.HideZeroCost {
		kept := events[:0:0]
		for _, e := range events {
			if e.CostUSD > 0 {
				kept = append(kept, e)
			}
		}
		events = kept
	}

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := todayStart.AddDate(0, 0, -6)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	yesterdayStart := todayStart.AddDate(0, 0, -1)

	var todayEvents, weekEvents, monthEvents, yesterdayEvents []event.Event
	for _, e := range events {
		ts := e.TS
		if ts >= todayStart.Unix() {
			todayEvents = append(todayEvents, e)
		}
		if ts >= weekStart.Unix() {
			weekEvents = append(weekEvents, e)
		}
		if ts >= monthStart.Unix() {
			monthEvents = append(monthEvents, e)
		}
		if ts >= yesterdayStart.Unix() && ts < todayStart.Unix() {
			yesterdayEvents = append(yesterdayEvents, e)
		}
	}

	trackedToday := sumCost(todayEvents)
	trackedWeek := sumCost(weekEvents)
	trackedMonth := sumCost(monthEvents)
	trackedYesterday := sumCost(yesterdayEvents)

	todayISO := todayStart.Format("2006-01-02")
	monthPrefix := todayStart.Format("2006-01")

	// Ground truth takes precedence for calendar totals where it exists.
	// A zero ground-truth sum falls back to tracked costs, so a fully
	// idle billed week and a missing import read the same.
	gtToday, gtTodayOK := in.GT.DailyCost(todayISO)
	todayCost := trackedToday
	if gtTodayOK {
		todayCost = gtToday
	}

	weekCost := 0.0
	for i := 0; i < 7; i++ {
		d := weekStart.AddDate(0, 0, i).Format("2006-01-02")
		if c, ok := in.GT.DailyCost(d); ok {
			weekCost += c
		}
	}
	if weekCost == 0 {
		weekCost = trackedWeek
	}

	monthCost := 0.0
	if in.GT != nil {
		for d, v := range in.GT.Daily {
			if strings.HasPrefix(d, monthPrefix) {
				monthCost += v.CostUSD
			}
		}
	}
	if monthCost == 0 {
		monthCost = trackedMonth
	}

	yesterdayCost := trackedYesterday
	if c, ok := in.GT.DailyCost(yesterdayStart.Format("2006-01-02")); ok {
		yesterdayCost = c
	}

	var gtAvgDailyReal *float64
	if in.GT != nil {
		var sum float64
		var n int
		for _, v := range in.GT.Daily {
			if v.CostUSD > 0 {
				sum += v.CostUSD
				n++
			}
		}
		if n > 0 {
			v := roundTo(sum/float64(n)*rate, 2)
			gtAvgDailyReal = &v
		}
	}

	var running []event.Event
	for _, e := range events {
		if e.Status == event.StatusRunning {
			running = append(running, e)
		}
	}
	runningCost := sumCost(running)

	var completedToday []event.Event
	for _, e := range todayEvents {
		if e.Status == event.StatusCompleted {
			completedToday = append(completedToday, e)
		}
	}
	avgTaskCost := 0.0
	if len(completedToday) > 0 {
		avgTaskCost = sumCost(completedToday) / float64(len(completedToday))
	}

	elapsedFrac := now.Sub(todayStart).Seconds() / 86400
	projection := 0.0
	if elapsedFrac > 0.01 {
		projection = todayCost / elapsedFrac
	}
	forecastSource := "tracking"
	if gtTodayOK {
		forecastSource = "ground_truth"
	}

	// Weekly chart.
	type dayAgg struct {
		cost     float64
		sessions map[string]struct{}
	}
	days := make([]string, 7)
	byDay := map[string]*dayAgg{}
	for i := 0; i < 7; i++ {
		d := weekStart.AddDate(0, 0, i).Format("2006-01-02")
		days[i] = d
		byDay[d] = &dayAgg{sessions: map[string]struct{}{}}
	}
	for _, e := range weekEvents {
		d := e.Time().Format("2006-01-02")
		if agg, ok := byDay[d]; ok {
			agg.cost += e.CostUSD
			sess := e.Session
			if sess == "" {
				sess = "other"
			}
			agg.sessions[sess] = struct{}{}
		}
	}
	weekly := make([]WeekDay, 0, 7)
	for _, d := range days {
		agg := byDay[d]
		row := WeekDay{
			Date:         d,
			Cost:         roundTo(agg.cost*rate, 4),
			Label:        shortDay(d),
			SessionCount: len(agg.sessions),
			TrackedCost:  roundTo(agg.cost*rate, 4),
		}
		if c, ok := in.GT.DailyCost(d); ok {
			row.Cost = roundTo(c*rate, 2)
			row.IsGT = true
		}
		weekly = append(weekly, row)
	}

	// 30-day rolling daily average.
	thirtyStart := todayStart.AddDate(0, 0, -29).Unix()
	daily30 := map[string]float64{}
	for _, e := range events {
		if e.TS >= thirtyStart {
			daily30[e.Time().Format("2006-01-02")] += e.CostUSD
		}
	}
	avg30 := 0.0
	if len(daily30) > 0 {
		var sum float64
		for _, c := range daily30 {
			sum += c
		}
		avg30 = sum / float64(len(daily30)) * rate
	}

	// 3-day forecast from the weekly chart.
	chartCosts := make([]float64, 7)
	for i, w := range weekly {
		chartCosts[i] = w.Cost
	}
	forecastVals := stats.Forecast(chartCosts, 3)
	forecast3d := make([]ForecastDay, 0, 3)
	for i, c := range forecastVals {
		forecast3d = append(forecast3d, ForecastDay{Day: i + 1, Cost: roundTo(c, 4)})
	}

	// Week over week.
	lastWeekStart := weekStart.AddDate(0, 0, -7).Unix()
	lastWeekCost := 0.0
	for _, e := range events {
		if e.TS >= lastWeekStart && e.TS < weekStart.Unix() {
			lastWeekCost += e.CostUSD
		}
	}
	lastWeekCost *= rate
	wowPct := 0.0
	if lastWeekCost > 0 {
		wowPct = (weekCost*rate - lastWeekCost) / lastWeekCost * 100
	}

	// Recurring tasks and per-task averages for anomaly detection.
	taskCounts := map[string]int{}
	taskCostSums := map[string]float64{}
	taskCostNs := map[string]int{}
	for _, e := range events {
		t := strings.TrimSpace(e.Task)
		if t == "" {
			continue
		}
		taskCounts[t]++
		if e.CostUSD > 0 {
			taskCostSums[t] += e.CostUSD
			taskCostNs[t]++
		}
	}
	taskAvg := func(t string) float64 {
		if n := taskCostNs[t]; n > 0 {
			return taskCostSums[t] / float64(n)
		}
		return 0
	}

	// Recent events, newest first.
	recentSrc := append([]event.Event(nil), events...)
	sort.SliceStable(recentSrc, func(i, j int) bool { return recentSrc[i].TS > recentSrc[j].TS })
	if len(recentSrc) > set.MaxEventsDisplay {
		recentSrc = recentSrc[:set.MaxEventsDisplay]
	}
	recent := make([]RecentTask, 0, len(recentSrc))
	for _, e := range recentSrc {
		task := strings.TrimSpace(e.Task)
		avg := taskAvg(task)
		isAnomaly := avg > 0 && e.CostUSD > 5*avg && e.CostUSD > 0.5
		row := RecentTask{
			TS:              e.TS,
			ID:              e.ID,
			Task:            e.Task,
			Model:           e.Model,
			ModelDisplay:    pricing.ResolveAlias(set.ModelAliases, e.Model),
			Cost:            roundTo(e.CostUSD*rate, precision),
			Status:          e.Status,
			DurationSec:     e.DurationSec,
			Session:         e.Session,
			AgeSec:          now.Unix() - e.TS,
			Anomaly:         e.Anomaly,
			InputTokens:     e.InputTokens,
			OutputTokens:    e.OutputTokens,
			CacheReadTokens: e.CacheReadTokens,
			Tags:            event.Tags(e.Task),
			IsRecurring:     taskCounts[task] >= 3,
		}
		if row.ID == "" {
			row.ID = event.Identity(e)
		}
		if row.Anomaly == "" && isAnomaly {
			row.Anomaly = "Cost spike"
			row.AnomalyCost = roundTo(e.CostUSD*rate, precision)
		}
		recent = append(recent, row)
	}

	// Token stats.
	var tokensIn, tokensOut, tokensCache int64
	for _, e := range todayEvents {
		tokensIn += e.InputTokens
		tokensOut += e.OutputTokens
		tokensCache += e.CacheReadTokens
	}
	tokenRatio := 0.0
	if tokensIn+tokensOut > 0 {
		denom := tokensOut
		if denom == 0 {
			denom = 1
		}
		tokenRatio = roundTo(float64(tokensIn)/float64(denom), 1)
	}
	cacheSavings := float64(tokensCache) / 1_000_000 * sonnetInputPerM * 0.9 * rate

	// Status lights.
	dailyBudget := set.DailyBudgetUSD * rate
	if dailyBudget <= 0 {
		dailyBudget = 200.0 * rate
	}
	dayStatus := trafficLight(todayCost*rate, dailyBudget*0.3, dailyBudget)
	avgStatus := trafficLight(avgTaskCost*rate, 0.30*rate, 1.00*rate)
	projStatus := trafficLight(projection*rate, dailyBudget*0.3, dailyBudget)

	warnThresh := set.AlertLevels.Warn
	if warnThresh <= 0 {
		warnThresh = set.DailyBudgetUSD * 0.75
	}
	critThresh := set.AlertLevels.Critical
	if critThresh <= 0 {
		critThresh = set.DailyBudgetUSD
	}
	alertLevel := "ok"
	switch {
	case todayCost*rate >= critThresh*rate:
		alertLevel = "critical"
	case todayCost*rate >= warnThresh*rate:
		alertLevel = "warn"
	}

	// Hourly heatmaps.
	hourlyAll := make([]float64, 24)
	hourlyByDay := map[string][]float64{}
	for _, e := range events {
		hourlyAll[e.Time().Hour()] += e.CostUSD
	}
	for _, e := range weekEvents {
		d := e.Time().Format("2006-01-02")
		if hourlyByDay[d] == nil {
			hourlyByDay[d] = make([]float64, 24)
		}
		hourlyByDay[d][e.Time().Hour()] += e.CostUSD
	}
	hourlyCosts := make([]float64, 24)
	for h := range hourlyAll {
		hourlyCosts[h] = roundTo(hourlyAll[h]*rate, 4)
	}
	hourly7dAvg := make([]float64, 24)
	for h := 0; h < 24; h++ {
		var vals []float64
		for _, dayVals := range hourlyByDay {
			if dayVals[h] > 0 {
				vals = append(vals, dayVals[h])
			}
		}
		if len(vals) > 0 {
			hourly7dAvg[h] = roundTo(stats.Mean(vals)*rate, 4)
		}
	}
	breakdownByHour := make([]HourCost, 24)
	for h := 0; h < 24; h++ {
		breakdownByHour[h] = HourCost{Hour: h, Cost: hourlyCosts[h]}
	}
	costPerHour7d := make([]float64, 24)
	for _, e := range weekEvents {
		costPerHour7d[e.Time().Hour()] += e.CostUSD * rate
	}
	for h := range costPerHour7d {
		costPerHour7d[h] = roundTo(costPerHour7d[h], 4)
	}

	// Model split for today.
	modelSplit := map[string]float64{}
	for _, e := range todayEvents {
		m := strings.ToLower(e.Model)
		key := "other"
		switch {
		case strings.Contains(m, "sonnet"):
			key = "sonnet"
		case strings.Contains(m, "opus"):
			key = "opus"
		case strings.Contains(m, "haiku"):
			key = "haiku"
		}
		modelSplit[key] += e.CostUSD
	}
	for k, v := range modelSplit {
		modelSplit[k] = roundTo(v*rate, 4)
	}

	// Trend: recent 3 completed days vs the prior 4.
	threeDaysAgo := todayStart.AddDate(0, 0, -3).Unix()
	var recent3Sum, prior4Sum float64
	var recent3N, prior4N int
	var weekEffVals []float64
	for _, e := range weekEvents {
		if e.Status != event.StatusCompleted {
			continue
		}
		if e.TS >= threeDaysAgo {
			recent3Sum += e.CostUSD
			recent3N++
		} else {
			prior4Sum += e.CostUSD
			prior4N++
		}
		if e.InputTokens+e.OutputTokens > 0 {
			weekEffVals = append(weekEffVals, float64(e.OutputTokens)/float64(e.InputTokens+e.OutputTokens))
		}
	}
	trendPct := 0.0
	if prior4N > 0 && prior4Sum > 0 {
		avgRecent := 0.0
		if recent3N > 0 {
			avgRecent = recent3Sum / float64(recent3N)
		}
		avgPrior := prior4Sum / float64(prior4N)
		trendPct = (avgRecent - avgPrior) / avgPrior * 100
	}
	effTrend := "flat"
	if len(weekEffVals) >= 4 {
		mid := len(weekEffVals) / 2
		early := stats.Mean(weekEffVals[:mid])
		late := stats.Mean(weekEffVals[mid:])
		if late > early*1.05 {
			effTrend = "improving"
		} else if late < early*0.95 {
			effTrend = "declining"
		}
	}

	// Peaks.
	var peakToday *PeakTask
	if len(completedToday) > 0 {
		pt := completedToday[0]
		for _, e := range completedToday[1:] {
			if e.CostUSD > pt.CostUSD {
				pt = e
			}
		}
		id := pt.ID
		if id == "" {
			id = event.Identity(pt)
		}
		peakToday = &PeakTask{Task: pt.Task, Cost: roundTo(pt.CostUSD*rate, precision), ID: id}
	}
	var peakAllTime *PeakTask
	var longest *LongestSession
	for _, e := range events {
		if e.Status == event.StatusCompleted {
			if peakAllTime == nil || e.CostUSD*rate > peakAllTime.Cost {
				peakAllTime = &PeakTask{
					Task: e.Task,
					Cost: roundTo(e.CostUSD*rate, precision),
					Date: e.Time().Format("2006-01-02"),
				}
			}
		}
		if e.DurationSec > 0 && (longest == nil || e.DurationSec > longest.DurationSec) {
			longest = &LongestSession{Task: e.Task, DurationSec: e.DurationSec, Date: e.Time().Format("2006-01-02")}
		}
	}

	// Task leaderboard by output efficiency.
	type taskAgg struct {
		costs    []float64
		inp, out int64
	}
	taskStats := map[string]*taskAgg{}
	for _, e := range events {
		t := strings.TrimSpace(e.Task)
		if t == "" {
			t = "Unknown"
		}
		agg := taskStats[t]
		if agg == nil {
			agg = &taskAgg{}
			taskStats[t] = agg
		}
		agg.costs = append(agg.costs, e.CostUSD)
		agg.inp += e.InputTokens
		agg.out += e.OutputTokens
	}
	leaderboard := make([]LeaderboardRow, 0, len(taskStats))
	for t, agg := range taskStats {
		effPct := 0.0
		if total := agg.inp + agg.out; total > 0 {
			effPct = roundTo(float64(agg.out)/float64(total)*100, 1)
		}
		leaderboard = append(leaderboard, LeaderboardRow{
			Task:    t,
			EffPct:  effPct,
			AvgCost: roundTo(stats.Mean(agg.costs)*rate, precision),
			Runs:    len(agg.costs),
			P90Cost: roundTo(stats.Percentile(agg.costs, 90)*rate, precision),
		})
	}
	sort.SliceStable(leaderboard, func(i, j int) bool { return leaderboard[i].EffPct > leaderboard[j].EffPct })
	if len(leaderboard) > 10 {
		leaderboard = leaderboard[:10]
	}

	// All-time cost percentiles.
	var allCosts []float64
	for _, e := range events {
		if e.CostUSD > 0 {
			allCosts = append(allCosts, e.CostUSD)
		}
	}
	percentiles := PercentileStats{}
	if len(allCosts) > 0 {
		percentiles = PercentileStats{
			P50: roundTo(stats.Percentile(allCosts, 50)*rate, precision),
			P90: roundTo(stats.Percentile(allCosts, 90)*rate, precision),
			P99: roundTo(stats.Percentile(allCosts, 99)*rate, precision),
		}
	}

	// Top-3 task run frequency (runs per day over the chart range).
	rangeDays := float64(len(days))
	type freq struct {
		task   string
		perDay float64
	}
	freqs := make([]freq, 0, len(taskCounts))
	for t, n := range taskCounts {
		freqs = append(freqs, freq{task: t, perDay: roundTo(float64(n)/rangeDays, 2)})
	}
	sort.SliceStable(freqs, func(i, j int) bool { return freqs[i].perDay > freqs[j].perDay })
	if len(freqs) > 3 {
		freqs = freqs[:3]
	}
	taskFrequency := map[string]float64{}
	for _, f := range freqs {
		taskFrequency[f.task] = f.perDay
	}

	// Tag spend summary.
	tagCosts := map[string]float64{}
	for _, e := range events {
		for _, tag := range event.Tags(e.Task) {
			tagCosts[tag] += e.CostUSD * rate
		}
	}
	tagsSummary := make([]TagCost, 0, len(tagCosts))
	for t, c := range tagCosts {
		tagsSummary = append(tagsSummary, TagCost{Tag: t, Cost: roundTo(c, precision)})
	}
	sort.SliceStable(tagsSummary, func(i, j int) bool {
		if tagsSummary[i].Cost != tagsSummary[j].Cost {
			return tagsSummary[i].Cost > tagsSummary[j].Cost
		}
		return tagsSummary[i].Tag < tagsSummary[j].Tag
	})

	// Busiest weekday by average event cost.
	weekdaySums := map[string]float64{}
	weekdayNs := map[string]int{}
	for _, e := range events {
		wd := e.Time().Weekday().String()
		weekdaySums[wd] += e.CostUSD
		weekdayNs[wd]++
	}
	costByWeekday := map[string]float64{}
	busiestDay := ""
	busiestVal := math.Inf(-1)
	for wd, sum := range weekdaySums {
		avg := roundTo(sum/float64(weekdayNs[wd])*rate, precision)
		costByWeekday[wd] = avg
		if avg > busiestVal || (avg == busiestVal && wd < busiestDay) {
			busiestDay = wd
			busiestVal = avg
		}
	}

	// Input:output token ratio per model.
	type ioAgg struct{ inp, out int64 }
	ioByModel := map[string]*ioAgg{}
	for _, e := range events {
		m := strings.ToLower(e.Model)
		if m == "" {
			m = "unknown"
		}
		agg := ioByModel[m]
		if agg == nil {
			agg = &ioAgg{}
			ioByModel[m] = agg
		}
		agg.inp += e.InputTokens
		agg.out += e.OutputTokens
	}
	ioRatios := map[string]float64{}
	for m, agg := range ioByModel {
		out := agg.out
		if out == 0 {
			out = 1
		}
		ioRatios[m] = roundTo(float64(agg.inp)/float64(out), 1)
	}

	// Anomalies today: explicit flags plus computed spikes, deduped by id.
	seenAnomaly := map[string]Anomaly{}
	var anomalyOrder []string
	addAnomaly := func(e event.Event, note string) {
		id := e.ID
		if id == "" {
			id = event.Identity(e)
		}
		if _, ok := seenAnomaly[id]; !ok {
			anomalyOrder = append(anomalyOrder, id)
		}
		seenAnomaly[id] = Anomaly{Task: e.Task, Note: note, Cost: roundTo(e.CostUSD*rate, precision)}
	}
	for _, e := range todayEvents {
		if e.Anomaly != "" {
			addAnomaly(e, e.Anomaly)
		}
	}
	for _, e := range todayEvents {
		avg := taskAvg(strings.TrimSpace(e.Task))
		if avg > 0 && e.CostUSD > 5*avg && e.CostUSD > 0.5 {
			if e.Anomaly == "" {
				addAnomaly(e, "Cost spike")
			}
		}
	}
	anomalies := make([]Anomaly, 0, len(anomalyOrder))
	for _, id := range anomalyOrder {
		anomalies = append(anomalies, seenAnomaly[id])
	}

	// Cost velocity of running events, USD per minute.
	costVelocity := 0.0
	for _, r := range running {
		dur := r.DurationSec
		if dur < 1 {
			dur = 1
		}
		costVelocity += r.CostUSD / dur * 60
	}

	weeklyGoalPct := 0.0
	if set.WeeklyGoalUSD > 0 {
		weeklyGoalPct = roundTo(math.Min(100, weekCost*rate/set.WeeklyGoalUSD*100), 1)
	}

	sessionsToday := map[string]struct{}{}
	for _, e := range todayEvents {
		sessionsToday[e.Session] = struct{}{}
	}

	totalTracked := roundTo(sumCost(events)*rate, precision)
	totalAllTime := totalTracked
	if in.GT != nil && len(in.GT.Daily) > 0 {
		var gtSum float64
		for _, v := range in.GT.Daily {
			gtSum += v.CostUSD
		}
		totalAllTime = roundTo(gtSum*rate, 2)
	}

	dailyTracked := map[string]float64{}
	for _, d := range days {
		dailyTracked[d] = byDay[d].cost
	}

	return &Snapshot{
		TS:            now.Unix(),
		DemoMode:      in.DemoMode,
		SchemaVersion: SchemaVersion,
		Currency:      set.Currency,
		CurrencyRate:  rate,
		Config:        clientConfig(set),
		KPI: KPI{
			TodayCost:            roundTo(todayCost*rate, precision),
			TrackedTodayCost:     roundTo(trackedToday*rate, precision),
			GTTodayAvailable:     gtTodayOK,
			YesterdayCost:        roundTo(yesterdayCost*rate, precision),
			WeekCost:             roundTo(weekCost*rate, precision),
			MonthCost:            roundTo(monthCost*rate, precision),
			RunningCost:          roundTo(runningCost*rate, 6),
			AvgTaskCost:          roundTo(avgTaskCost*rate, precision),
			Projection:           roundTo(projection*rate, 2),
			TasksToday:           len(todayEvents),
			TokensIn:             tokensIn,
			TokensOut:            tokensOut,
			TokensCache:          tokensCache,
			TokenRatio:           tokenRatio,
			CacheSavings:         roundTo(cacheSavings, precision),
			CostVelocity:         roundTo(costVelocity*rate, 6),
			SessionCountToday:    len(sessionsToday),
			DailyBudgetRemaining: roundTo(math.Max(0, dailyBudget-todayCost*rate), precision),
			ProjectedMonthCost:   roundTo(todayCost*30*rate, 2),
			WeeklyGoalPct:        weeklyGoalPct,
			ForecastSource:       forecastSource,
			GTAvgDailyReal:       gtAvgDailyReal,
		},
		Status: Status{
			Day:               dayStatus,
			Avg:               avgStatus,
			Projection:        projStatus,
			HasRunning:        len(running) > 0,
			AnomalyCount:      len(anomalies),
			AlertLevel:        alertLevel,
			EffTrend:          effTrend,
			DataVolumeWarning: len(todayEvents) > 1000,
		},
		Running:               running,
		Breakdown:             sessionBreakdown(todayEvents, rate),
		BreakdownWeek:         sessionBreakdown(weekEvents, rate),
		BreakdownMonth:        sessionBreakdown(monthEvents, rate),
		BreakdownByModel:      modelBreakdown(todayEvents, rate),
		BreakdownByModelWeek:  modelBreakdown(weekEvents, rate),
		BreakdownByModelMonth: modelBreakdown(monthEvents, rate),
		BreakdownByHour:       breakdownByHour,
		Weekly:                weekly,
		Avg30d:                roundTo(avg30, precision),
		Forecast3d:            forecast3d,
		WoWPct:                roundTo(wowPct, 1),
		Recent:                recent,
		Anomalies:             anomalies,
		HourlyCosts:           hourlyCosts,
		Hourly7dAvg:           hourly7dAvg,
		CostPerHour7d:         costPerHour7d,
		ModelSplit:            modelSplit,
		IORatios:              ioRatios,
		TrendPct:              roundTo(trendPct, 1),
		PeakTask:              peakToday,
		PeakTaskAllTime:       peakAllTime,
		LongestSession:        longest,
		BusiestDay:            busiestDay,
		CostByWeekday:         costByWeekday,
		TaskLeaderboard:       leaderboard,
		TaskFrequency:         taskFrequency,
		TagsSummary:           tagsSummary,
		Percentiles:           percentiles,
		TotalCostAllTime:      totalAllTime,
		TotalCostTracked:      totalTracked,
		TotalEventsAllTime:    len(events),
		MalformedLines:        in.Malformed,
		GroundTruth: groundTruthSection(in.GT, rate, trackedToday, trackedWeek, trackedMonth,
			todayISO, monthPrefix, weekStart, dailyTracked),
		Rules: rules.Evaluate(todayEvents),
	}
}

func clientConfig(set config.Settings) ClientConfig {
	return ClientConfig{
		Theme:             set.Theme,
		DateFormat:        set.DateFormat,
		DefaultSort:       set.DefaultSort,
		DefaultFilter:     set.DefaultFilter,
		ShowSessions:      set.ShowSessions,
		CompactDefault:    set.CompactDefault,
		MaxEventsDisplay:  set.MaxEventsDisplay,
		HideZeroCost:      set.HideZeroCost,
		GroupByTask:       set.GroupByTask,
		ShowTokenCounts:   set.ShowTokenCounts,
		CostPrecision:     set.CostPrecision,
		DashboardTitle:    set.DashboardTitle,
		ModelAliases:      set.ModelAliases,
		WeeklyGoalUSD:     set.WeeklyGoalUSD,
		AlertThresholdUSD: set.AlertThresholdUSD,
		DailyBudgetUSD:    set.DailyBudgetUSD,
		AlertLevels:       map[string]float64{"warn": set.AlertLevels.Warn, "critical": set.AlertLevels.Critical},
		Categories:        set.Categories,
	}
}

func sessionBreakdown(events []event.Event, rate float64) []SessionCost {
	type agg struct {
		cost float64
		runs int
	}
	totals := map[string]*agg{}
	var order []string
	for _, e := range events {
		key := e.Task
		if key == "" {
			key = e.Session
		}
		if key == "" {
			key = "other"
		}
		a := totals[key]
		if a == nil {
			a = &agg{}
			totals[key] = a
			order = append(order, key)
		}
		a.cost += e.CostUSD
		a.runs++
	}
	out := make([]SessionCost, 0, len(order))
	for _, key := range order {
		out = append(out, SessionCost{Session: key, Cost: roundTo(totals[key].cost*rate, 4), Runs: totals[key].runs})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost > out[j].Cost })
	return out
}

func modelBreakdown(events []event.Event, rate float64) []ModelCost {
	type agg struct {
		cost                    float64
		tokIn, tokOut, tokCache int64
		runs                    int
	}
	totals := map[string]*agg{}
	var order []string
	var totalCost float64
	for _, e := range events {
		m := e.Model
		if m == "" {
			m = "unknown"
		}
		a := totals[m]
		if a == nil {
			a = &agg{}
			totals[m] = a
			order = append(order, m)
		}
		a.cost += e.CostUSD
		a.tokIn += e.InputTokens
		a.tokOut += e.OutputTokens
		a.tokCache += e.CacheReadTokens
		a.runs++
		totalCost += e.CostUSD
	}
	if totalCost == 0 {
		totalCost = 1
	}
	out := make([]ModelCost, 0, len(order))
	for _, m := range order {
		a := totals[m]
		out = append(out, ModelCost{
			Model:       m,
			Label:       pricing.ModelLabel(m),
			Cost:        roundTo(a.cost*rate, 4),
			Pct:         roundTo(a.cost/totalCost*100, 1),
			Runs:        a.runs,
			TokensIn:    a.tokIn,
			TokensOut:   a.tokOut,
			TokensCache: a.tokCache,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost > out[j].Cost })
	return out
}

func groundTruthSection(gt *groundtruth.Data, rate, trackedToday, trackedWeek, trackedMonth float64,
	todayISO, monthPrefix string, weekStart time.Time, dailyTracked map[string]float64) GroundTruthSection {
	if gt == nil {
		return GroundTruthSection{Available: false}
	}

	sec := GroundTruthSection{
		Available:        true,
		GeneratedAt:      gt.GeneratedAt,
		SourceFiles:      gt.SourceFiles,
		TodayTrackedCost: roundTo(trackedToday*rate, 2),
		WeekTrackedCost:  roundTo(trackedWeek*rate, 2),
		MonthTrackedCost: roundTo(trackedMonth*rate, 2),
	}

	if v, ok := gt.Daily[todayISO]; ok {
		c := roundTo(v.CostUSD*rate, 2)
		sec.TodayRealCost = &c
		if v.CostUSD > 0 && trackedToday > 0 {
			acc := roundTo(trackedToday/v.CostUSD*100, 1)
			sec.AccuracyTodayPct = &acc
		}
	}

	var weekReal, total float64
	for i := 0; i < 7; i++ {
		d := weekStart.AddDate(0, 0, i).Format("2006-01-02")
		if v, ok := gt.Daily[d]; ok {
			weekReal += v.CostUSD
		}
		tracked := roundTo(dailyTracked[d]*rate, 2)
		row := GTDay{Date: d, TrackedCost: &tracked}
		if v, ok := gt.Daily[d]; ok {
			row.RealCost = roundTo(v.CostUSD*rate, 2)
			row.Models = v.Models
		}
		sec.DailyList = append(sec.DailyList, row)
	}
	sec.WeekRealCost = roundTo(weekReal*rate, 2)

	var monthReal float64
	dates := make([]string, 0, len(gt.Daily))
	for d, v := range gt.Daily {
		total += v.CostUSD
		if strings.HasPrefix(d, monthPrefix) {
			monthReal += v.CostUSD
		}
		sec.CacheReadTotal += v.CacheRead
		sec.CacheWriteTotal += v.CacheW5m
		sec.OutputTokensTotal += v.Output
		dates = append(dates, d)
	}
	sec.MonthRealCost = roundTo(monthReal*rate, 2)
	sec.TotalRealCost = roundTo(total*rate, 2)
	if n := len(gt.Daily); n > 0 {
		avg := roundTo(total/float64(n)*rate, 2)
		sec.AvgDailyReal = &avg
	}

	sort.Strings(dates)
	for _, d := range dates {
		v := gt.Daily[d]
		sec.FullDaily = append(sec.FullDaily, GTDay{
			Date:      d,
			RealCost:  roundTo(v.CostUSD*rate, 2),
			CacheW5m:  v.CacheW5m,
			CacheRead: v.CacheRead,
			Output:    v.Output,
			Models:    v.Models,
		})
	}
	sec.HourlyToday = gt.Hourly[todayISO]
	return sec
}

func trafficLight(v, green, yellow float64) string {
	switch {
	case v < green:
		return "green"
	case v < yellow:
		return "yellow"
	}
	return "red"
}

func sumCost(events []event.Event) float64 {
	var sum float64
	for _, e := range events {
		sum += e.CostUSD
	}
	return sum
}

var dayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func shortDay(isoDate string) string {
	t, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return ""
	}
	// time.Weekday starts at Sunday.
	return dayNames[(int(t.Weekday())+6)%7]
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}

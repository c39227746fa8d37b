package store

import (
	"time"

	"github.com/costpilot/costpilot/domain/event"
)

// DemoEvents generates a deterministic week of sample events ending at now.
// Served instead of an empty dashboard until real data arrives; demo events
// are never written to disk.
func DemoEvents(now time.Time) []event.Event {
	type job struct {
		task    string
		model   string
		hour    int
		cost    float64
		session string
	}
	jobs := []job{
		{task: "Morning Digest", model: "claude-haiku-3-5", hour: 7, cost: 0.018, session: "agent:cron:digest"},
		{task: "Inbox Triage", model: "claude-haiku-3-5", hour: 9, cost: 0.032, session: "agent:cron:triage"},
		{task: "Primary", model: "claude-sonnet-4-6", hour: 10, cost: 0.41, session: "agent:main:main"},
		{task: "Primary", model: "claude-sonnet-4-6", hour: 14, cost: 0.27, session: "agent:main:main"},
		{task: "Research Brief", model: "claude-opus-4-6", hour: 16, cost: 0.88, session: "agent:cron:research"},
		{task: "Nightly Summary", model: "claude-sonnet-4-6", hour: 22, cost: 0.095, session: "agent:cron:nightly"},
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var events []event.Event
	for d := 6; d >= 0; d-- {
		base := day.AddDate(0, 0, -d)
		for i, j := range jobs {
			ts := base.Add(time.Duration(j.hour) * time.Hour).Unix()
			if ts > now.Unix() {
				continue
			}
			// Mild day-to-day variation so charts are not flat.
			cost := j.cost * (1 + 0.1*float64((d+i)%3-1))
			events = append(events, event.WithIdentity(event.Event{
				TS:           ts,
				Task:         j.task,
				Model:        j.model,
				CostUSD:      cost,
				Status:       event.StatusCompleted,
				Session:      j.session,
				Source:       "demo",
				InputTokens:  int64(2000 + 500*i),
				OutputTokens: int64(800 + 200*i),
			}))
		}
	}
	return events
}

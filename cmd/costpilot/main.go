// Package main is the entry point for CostPilot, a local-first AI usage
// cost tracker: it ingests billed usage from session logs, provider CSV
// exports, and usage APIs, and serves a live analytics dashboard.
package main

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	Execute()
}

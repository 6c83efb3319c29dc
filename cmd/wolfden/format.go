package main

import (
	"fmt"
	"strings"
	"time"

	"wolfden/internal/api"
	"wolfden/internal/den"
)

const (
	dreamCloudChars = 60
	shelfRows       = 3
	booksPerRow     = 7
)

type trophy struct {
	label  string
	earned bool
}

func formatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	default:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}

func trophies(status *api.AgentStatus) []trophy {
	var tasks, rules int
	var trust float64
	if status != nil {
		tasks = status.TotalTasks
		rules = status.RulesLearned
		trust = status.TrustScore
	}
	return []trophy{
		{"First Hunt", tasks >= 1},
		{"10 Tasks", tasks >= 10},
		{"50 Tasks", tasks >= 50},
		{"First Rule", rules >= 1},
		{"Trusted", trust >= 0.8},
	}
}

// campfireLevel buckets composite fitness into high, steady or low.
func campfireLevel(fitness float64) string {
	switch {
	case fitness >= 0.7:
		return "high"
	case fitness < 0.3:
		return "low"
	default:
		return "steady"
	}
}

func bookshelf(rules int) string {
	shown := clampInt(rules, 0, shelfRows*booksPerRow)
	rows := make([]string, 0, shelfRows)
	for row := 0; row < shelfRows && shown > 0; row++ {
		n := minInt(booksPerRow, shown)
		rows = append(rows, strings.Repeat("▮", n))
		shown -= n
	}
	label := fmt.Sprintf("%d rule", rules)
	if rules != 1 {
		label += "s"
	}
	if len(rows) == 0 {
		return label
	}
	return strings.Join(rows, "\n") + "\n" + label
}

func dreamCloud(reports []api.DreamReport) string {
	if len(reports) == 0 {
		return "No dreams yet..."
	}
	latest := reports[0]
	summary := strings.TrimSpace(latest.Summary)
	if summary == "" {
		return fmt.Sprintf("%d episodes reviewed", latest.EpisodesProcessed)
	}
	runes := []rune(summary)
	if len(runes) > dreamCloudChars {
		return string(runes[:dreamCloudChars]) + "..."
	}
	return summary
}

func stateBadge(state den.AgentState) string {
	switch state {
	case den.StateWorking:
		return "⚡ Working"
	case den.StateDreaming:
		return "🌙 Dreaming"
	case den.StateAlert:
		return "🛡 Alert!"
	default:
		return "🐺 Resting"
	}
}

func agentHeader(status *api.AgentStatus) (string, string) {
	name, version := "Romulus", "0.1.0"
	if status != nil {
		name = nullCoalesce(status.Name, name)
		version = nullCoalesce(status.Version, version)
	}
	return name, "v" + version
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func compactSingleLine(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	return truncate(compact, limit)
}

func nullCoalesce(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

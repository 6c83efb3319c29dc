// Package den reconciles the agent's independently polled resources into one
// view: it aggregates per-source snapshots, merges them into a ranked activity
// feed, derives the agent state and publishes views to a single renderer.
package den

import (
	"time"

	"wolfden/internal/api"
)

// Source identifies one polled slot of the snapshot.
type Source string

const (
	SourceStatus    Source = "status"
	SourceTraces    Source = "traces"
	SourceIncidents Source = "incidents"
	SourceDreams    Source = "dreams"
	SourceRules     Source = "rules"
)

// Sources lists every polled slot in feed emission order.
var Sources = []Source{SourceStatus, SourceTraces, SourceIncidents, SourceDreams, SourceRules}

// Snapshot holds the most recent successful value of every source. Slices are
// replaced wholesale and never mutated after being stored, so copies of a
// Snapshot share them read-only.
type Snapshot struct {
	Status       *api.AgentStatus
	Traces       []api.ExecutionTrace
	Incidents    []api.Incident
	DreamReports []api.DreamReport
	Rules        []api.Rule

	// Connected reflects only the status source's transport health.
	Connected bool
	// LastSuccess records when each source last fetched successfully.
	LastSuccess map[Source]time.Time
	// StatusFetchedAt anchors uptime interpolation.
	StatusFetchedAt time.Time
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.LastSuccess = make(map[Source]time.Time, len(s.LastSuccess))
	for k, v := range s.LastSuccess {
		out.LastSuccess[k] = v
	}
	return out
}

// Uptime interpolates the agent's uptime: the last reported value plus the
// time elapsed since that report was received.
func (s Snapshot) Uptime(now time.Time) time.Duration {
	if s.Status == nil || s.StatusFetchedAt.IsZero() {
		return 0
	}
	base := time.Duration(s.Status.UptimeSeconds * float64(time.Second))
	elapsed := now.Sub(s.StatusFetchedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return base + elapsed
}

// Stale reports whether source has never fetched successfully or its last
// success is older than maxAge.
func (s Snapshot) Stale(source Source, now time.Time, maxAge time.Duration) bool {
	at, ok := s.LastSuccess[source]
	if !ok || at.IsZero() {
		return true
	}
	return now.Sub(at) > maxAge
}

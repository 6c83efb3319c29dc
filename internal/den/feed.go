package den

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wolfden/internal/api"
)

// Kind is the visual category of a feed entry.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindVigil   Kind = "vigil"
	KindDream   Kind = "dream"
	KindRule    Kind = "rule"
	KindInfo    Kind = "info"
)

// Entry is one line of the activity feed.
type Entry struct {
	ID   string
	Kind Kind
	Text string
	// Time is zero when the source timestamp was missing or unparseable.
	Time time.Time
	// Local marks entries synthesised from a user action.
	Local bool
}

// NewLocalEntry builds an entry for the outcome of a user action.
func NewLocalEntry(kind Kind, text string, at time.Time) Entry {
	return Entry{ID: "local:" + uuid.NewString(), Kind: kind, Text: text, Time: at, Local: true}
}

// Age is the recency label shown next to an entry.
func (e Entry) Age(now time.Time) string {
	return RelativeAge(e.Time, now)
}

// RelativeAge formats the distance from t to now as "just now", "Nm ago",
// "Nh ago" or "Nd ago". The zero time yields "".
func RelativeAge(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	}
}

// Percent renders a ratio in [0,1] as a rounded percentage.
func Percent(value float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(value*100)))
}

// BuildFeed merges the event-shaped sources and the local entries into one
// timeline, newest first. Entries with equal timestamps keep their input
// order (traces, incidents, dreams, rules, then local entries as emitted);
// entries without a timestamp rank as the epoch. Only the ruleLimit most
// recently validated rules are projected. The result holds at most feedCap
// entries.
func BuildFeed(snap Snapshot, local []Entry, feedCap, ruleLimit int) []Entry {
	rules := recentRules(snap.Rules, ruleLimit)
	items := make([]Entry, 0, len(snap.Traces)+len(snap.Incidents)+len(snap.DreamReports)+len(rules)+len(local))

	for i, trace := range snap.Traces {
		items = append(items, traceEntry(i, trace))
	}
	for i, incident := range snap.Incidents {
		items = append(items, incidentEntry(i, incident))
	}
	for i, report := range snap.DreamReports {
		items = append(items, dreamEntry(i, report))
	}
	for i, rule := range rules {
		items = append(items, ruleEntry(i, rule))
	}
	items = append(items, local...)

	sort.SliceStable(items, func(i, j int) bool {
		return sortKey(items[i].Time) > sortKey(items[j].Time)
	})
	if feedCap >= 0 && len(items) > feedCap {
		items = items[:feedCap]
	}
	return items
}

func sortKey(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func recentRules(rules []api.Rule, limit int) []api.Rule {
	if limit <= 0 || len(rules) == 0 {
		return nil
	}
	sorted := make([]api.Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sortKey(sorted[i].LastValidated.Time) > sortKey(sorted[j].LastValidated.Time)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func entryID(prefix, id string, index int) string {
	if strings.TrimSpace(id) != "" {
		return prefix + ":" + id
	}
	return fmt.Sprintf("%s:#%d", prefix, index)
}

func traceEntry(index int, trace api.ExecutionTrace) Entry {
	kind := KindError
	fallback := "Failed"
	if trace.Success {
		kind = KindSuccess
		fallback = "Success"
	}
	outcome := strings.TrimSpace(trace.Outcome)
	if outcome == "" {
		outcome = fallback
	}
	return Entry{
		ID:   entryID("trace", trace.ID, index),
		Kind: kind,
		Text: fmt.Sprintf("Task: %s · %s", trace.Task, outcome),
		Time: trace.Timestamp.Time,
	}
}

func incidentEntry(index int, incident api.Incident) Entry {
	reason := firstNonEmpty(incident.Reason, incident.Category, "Blocked")
	text := "Vigil: " + reason
	if subject := firstNonEmpty(incident.Task, incident.Target); subject != "" {
		text += " · " + subject
	}
	return Entry{
		ID:   entryID("incident", incident.ID, index),
		Kind: KindVigil,
		Text: text,
		Time: incident.Timestamp.Time,
	}
}

func dreamEntry(index int, report api.DreamReport) Entry {
	summary := strings.TrimSpace(report.Summary)
	if summary == "" {
		summary = fmt.Sprintf("%d episodes processed", report.EpisodesProcessed)
	}
	return Entry{
		ID:   entryID("dream", report.ID, index),
		Kind: KindDream,
		Text: "Dream: " + summary,
		Time: report.Date.Time,
	}
}

func ruleEntry(index int, rule api.Rule) Entry {
	return Entry{
		ID:   entryID("rule", rule.ID, index),
		Kind: KindRule,
		Text: fmt.Sprintf("Rule learned: %s (%s)", rule.Rule, Percent(rule.Confidence)),
		Time: rule.LastValidated.Time,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Feed retains the local entries produced by user actions and merges them
// with the polled sources. A local entry lives until it no longer makes the
// capped feed. Local entries are not deduplicated against source records.
type Feed struct {
	mu        sync.Mutex
	cap       int
	ruleLimit int
	local     []Entry
}

func NewFeed(feedCap, ruleLimit int) *Feed {
	return &Feed{cap: feedCap, ruleLimit: ruleLimit}
}

// Append records a local entry.
func (f *Feed) Append(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.Local = true
	f.local = append(f.local, entry)
	if len(f.local) > f.cap {
		f.local = f.local[len(f.local)-f.cap:]
	}
}

// Build merges snap with the retained local entries and evicts local entries
// that fell beyond the cap.
func (f *Feed) Build(snap Snapshot) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	merged := BuildFeed(snap, f.local, f.cap, f.ruleLimit)

	kept := make(map[string]struct{}, len(f.local))
	for _, entry := range merged {
		if entry.Local {
			kept[entry.ID] = struct{}{}
		}
	}
	retained := f.local[:0:0]
	for _, entry := range f.local {
		if _, ok := kept[entry.ID]; ok {
			retained = append(retained, entry)
		}
	}
	f.local = retained
	return merged
}

// Local returns a copy of the retained local entries in emission order.
func (f *Feed) Local() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, len(f.local))
	copy(out, f.local)
	return out
}

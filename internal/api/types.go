package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AgentStatus is the agent's self-reported status payload.
type AgentStatus struct {
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	Running          bool     `json:"running"`
	UptimeSeconds    float64  `json:"uptime_seconds"`
	TotalTasks       int      `json:"total_tasks"`
	SuccessfulTasks  int      `json:"successful_tasks"`
	TrustScore       float64  `json:"trust_score"`
	SuccessRate7d    float64  `json:"success_rate_7d"`
	CompositeFitness float64  `json:"composite_fitness"`
	RulesLearned     int      `json:"rules_learned"`
	TotalTraces      int      `json:"total_traces"`
	Model            string   `json:"model"`
	Platform         Platform `json:"platform"`
}

type Platform struct {
	System        string `json:"system"`
	Machine       string `json:"machine"`
	Hostname      string `json:"hostname"`
	IsPi          bool   `json:"is_pi"`
	IsMac         bool   `json:"is_mac"`
	PythonVersion string `json:"python_version"`
}

// Descriptor returns the "system machine" label shown in the stats panel.
func (p Platform) Descriptor() string {
	return strings.TrimSpace(p.System + " " + p.Machine)
}

type ExecutionTrace struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Decision   string    `json:"decision"`
	Outcome    string    `json:"outcome"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	LatencyMS  int       `json:"latency_ms"`
	TokensUsed int       `json:"tokens_used"`
	Timestamp  Timestamp `json:"timestamp"`
}

type Incident struct {
	ID         string    `json:"id"`
	Timestamp  Timestamp `json:"timestamp"`
	ActionType string    `json:"action_type"`
	Target     string    `json:"target"`
	Category   string    `json:"category"`
	Layer      string    `json:"layer"`
	Reason     string    `json:"reason"`
	Task       string    `json:"task"`
	Blocked    Flag      `json:"blocked"`
}

type Rule struct {
	ID            string    `json:"id"`
	Rule          string    `json:"rule"`
	Confidence    float64   `json:"confidence"`
	EvidenceCount int       `json:"evidence_count"`
	LastValidated Timestamp `json:"last_validated"`
	Domain        string    `json:"domain"`
}

// DreamReport is one completed consolidation cycle. The listing endpoint
// returns stored rows where the extracted rules are a JSON-encoded string
// under "new_rules"; the trigger endpoint returns them inline under
// "new_rules_extracted". Both decode into NewRules.
type DreamReport struct {
	ID                   string    `json:"id"`
	Date                 Timestamp `json:"date"`
	Summary              string    `json:"summary"`
	EpisodesProcessed    int       `json:"episodes_processed"`
	CounterfactualsRun   int       `json:"counterfactuals_run"`
	NewRules             []Rule    `json:"new_rules_extracted"`
	MemoriesPruned       int       `json:"memories_pruned"`
	ConfidenceAdjustment float64   `json:"confidence_adjustment"`
}

func (d *DreamReport) UnmarshalJSON(data []byte) error {
	type plain DreamReport
	var aux struct {
		plain
		StoredRules json.RawMessage `json:"new_rules"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = DreamReport(aux.plain)
	if len(d.NewRules) == 0 && len(aux.StoredRules) > 0 {
		rules, err := decodeStoredRules(aux.StoredRules)
		if err != nil {
			return fmt.Errorf("dream report new_rules: %w", err)
		}
		d.NewRules = rules
	}
	return nil
}

func decodeStoredRules(raw json.RawMessage) ([]Rule, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		encoded = strings.TrimSpace(encoded)
		if encoded == "" {
			return nil, nil
		}
		raw = json.RawMessage(encoded)
	}
	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err == nil {
		return rules, nil
	}
	// Some rows store bare rule texts.
	var texts []string
	if err := json.Unmarshal(raw, &texts); err != nil {
		return nil, err
	}
	rules = make([]Rule, 0, len(texts))
	for _, text := range texts {
		rules = append(rules, Rule{Rule: text})
	}
	return rules, nil
}

// TaskResult is the ask command response. Optional fields are pointers so
// "absent" and "zero" stay distinguishable.
type TaskResult struct {
	Task       string   `json:"task"`
	Response   string   `json:"response"`
	Success    *bool    `json:"success,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	TokensUsed int      `json:"tokens_used"`
	LatencyMS  int      `json:"latency_ms"`
	VigilFlags []string `json:"vigil_flags"`
}

// Succeeded reports the result's own success flag, defaulting to true when
// the server omitted it.
func (r TaskResult) Succeeded() bool {
	return r.Success == nil || *r.Success
}

// Flag decodes booleans that may arrive as JSON bools or 0/1 integers
// (sqlite rows).
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	switch text {
	case "true":
		*f = true
	case "false", "null", `""`:
		*f = false
	default:
		text = strings.Trim(text, `"`)
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("invalid flag value %s", string(data))
		}
		*f = n != 0
	}
	return nil
}

// Timestamp is a server timestamp. Values that cannot be parsed decode to
// the zero time; Raw keeps the original text.
type Timestamp struct {
	time.Time
	Raw string
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		// Numbers are treated as unix seconds.
		var secs float64
		if numErr := json.Unmarshal(data, &secs); numErr != nil {
			*t = Timestamp{Raw: string(data)}
			return nil
		}
		whole := int64(secs)
		*t = Timestamp{
			Time: time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC(),
			Raw:  string(data),
		}
		return nil
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		*t = Timestamp{Raw: raw}
		return nil
	}
	*t = Timestamp{Time: parsed, Raw: raw}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		if t.Raw == "" {
			return []byte("null"), nil
		}
		return json.Marshal(t.Raw)
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func At(value time.Time) Timestamp {
	return Timestamp{Time: value, Raw: value.Format(time.RFC3339Nano)}
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 with or without fractional seconds and the
// naive ISO-8601 forms produced by the agent. Naive values are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, errors.New("empty")
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err == nil {
		return parsed, nil
	}
	parsed, err = time.Parse(time.RFC3339Nano, trimmed)
	if err == nil {
		return parsed, nil
	}
	for _, layout := range naiveLayouts {
		if parsed, layoutErr := time.ParseInLocation(layout, trimmed, time.UTC); layoutErr == nil {
			return parsed, nil
		}
	}
	return time.Time{}, err
}

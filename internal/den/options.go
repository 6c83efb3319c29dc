package den

import (
	"math"
	"time"
)

// Options are the tunables of the engine. Zero intervals and limits take the
// defaults, except RuleLimit, RefreshDelay and StatusCheckInterval where zero
// is meaningful.
type Options struct {
	PollInterval        time.Duration
	FeedCap             int
	TraceLimit          int
	IncidentLookback    time.Duration
	AlertWindow         time.Duration
	RuleLimit           int
	RefreshDelay        time.Duration
	StatusCheckInterval time.Duration

	// Clock is the wall clock; tests replace it.
	Clock func() time.Time
}

const (
	DefaultPollInterval        = 5 * time.Second
	DefaultFeedCap             = 50
	DefaultTraceLimit          = 30
	DefaultIncidentLookback    = 48 * time.Hour
	DefaultAlertWindow         = 300 * time.Second
	DefaultRuleLimit           = 10
	DefaultRefreshDelay        = time.Second
	DefaultStatusCheckInterval = 2 * time.Second
)

// DefaultOptions returns the stock engine settings.
func DefaultOptions() Options {
	return Options{
		PollInterval:        DefaultPollInterval,
		FeedCap:             DefaultFeedCap,
		TraceLimit:          DefaultTraceLimit,
		IncidentLookback:    DefaultIncidentLookback,
		AlertWindow:         DefaultAlertWindow,
		RuleLimit:           DefaultRuleLimit,
		RefreshDelay:        DefaultRefreshDelay,
		StatusCheckInterval: DefaultStatusCheckInterval,
		Clock:               time.Now,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.FeedCap <= 0 {
		o.FeedCap = DefaultFeedCap
	}
	if o.TraceLimit <= 0 {
		o.TraceLimit = DefaultTraceLimit
	}
	if o.IncidentLookback <= 0 {
		o.IncidentLookback = DefaultIncidentLookback
	}
	if o.AlertWindow <= 0 {
		o.AlertWindow = DefaultAlertWindow
	}
	// RuleLimit 0 is meaningful (no rule entries); negative means default.
	if o.RuleLimit < 0 {
		o.RuleLimit = DefaultRuleLimit
	}
	if o.RefreshDelay < 0 {
		o.RefreshDelay = DefaultRefreshDelay
	}
	if o.StatusCheckInterval < 0 {
		o.StatusCheckInterval = DefaultStatusCheckInterval
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// IncidentLookbackHours is the lookback rounded up to whole hours, as the
// incidents resource expects.
func (o Options) IncidentLookbackHours() int {
	hours := int(math.Ceil(o.IncidentLookback.Hours()))
	if hours < 1 {
		return 1
	}
	return hours
}

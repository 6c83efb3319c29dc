package den

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wolfden/internal/api"
	"wolfden/internal/logging"
)

var (
	// ErrEmptyTask is returned by SubmitTask for blank input; no request is made.
	ErrEmptyTask = errors.New("task text is empty")
	// ErrRateLimited is returned by CheckStatus when called too often.
	ErrRateLimited = errors.New("status check rate limited")
)

const taskSummaryChars = 80

// Commander is the write side of the agent API.
type Commander interface {
	Ask(ctx context.Context, task string, taskContext map[string]any) (api.TaskResult, error)
	Dream(ctx context.Context) (api.DreamReport, error)
}

// Backend is the full agent API as used by the publisher.
type Backend interface {
	Fetcher
	Commander
}

// Deferrer runs fn once after delay. Pending work is dropped when the
// deferrer shuts down.
type Deferrer interface {
	After(delay time.Duration, name string, fn func(ctx context.Context)) error
}

// View is one immutable snapshot handed to the renderer. Its slices must be
// treated as read-only.
type View struct {
	Snapshot    Snapshot
	Feed        []Entry
	State       AgentState
	Connected   bool
	Uptime      time.Duration
	Working     bool
	Dreaming    bool
	GeneratedAt time.Time
}

// Event is delivered to subscribers: a ViewEvent or a FeedAppendEvent.
type Event interface {
	event()
}

// ViewEvent carries a freshly assembled view.
type ViewEvent struct {
	View View
}

// FeedAppendEvent carries a local entry produced by a user action.
type FeedAppendEvent struct {
	Entry Entry
}

func (ViewEvent) event()       {}
func (FeedAppendEvent) event() {}

// TaskOutcome is the settled result of SubmitTask.
type TaskOutcome struct {
	Task          string
	Response      string
	Success       bool
	ConfidencePct *int
	TokensUsed    int
	LatencyMS     int
	VigilFlags    []string
	Entry         Entry
}

// Meta is the response panel's detail line.
func (o TaskOutcome) Meta() string {
	parts := make([]string, 0, 4)
	if o.ConfidencePct != nil {
		parts = append(parts, fmt.Sprintf("%d%% confident", *o.ConfidencePct))
	}
	if o.TokensUsed > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", o.TokensUsed))
	}
	if o.LatencyMS > 0 {
		parts = append(parts, fmt.Sprintf("%dms", o.LatencyMS))
	}
	if len(o.VigilFlags) > 0 {
		parts = append(parts, "Vigil: "+strings.Join(o.VigilFlags, ", "))
	}
	return strings.Join(parts, " | ")
}

// DreamOutcome is the settled result of TriggerDreamCycle. Skipped is set
// when another dream cycle was already outstanding.
type DreamOutcome struct {
	Summary           string
	EpisodesProcessed int
	NewRules          []api.Rule
	MemoriesPruned    int
	Skipped           bool
	Entry             Entry
}

func (o DreamOutcome) Meta() string {
	return fmt.Sprintf("%d episodes | %d new rules | %d pruned", o.EpisodesProcessed, len(o.NewRules), o.MemoriesPruned)
}

// Publisher is the dashboard's single state container. It owns the
// aggregator, the feed and the transient action flags, assembles views and
// delivers them to subscribers.
type Publisher struct {
	agg      *Aggregator
	feed     *Feed
	cmd      Commander
	opts     Options
	log      *zap.Logger
	metrics  *Metrics
	now      func() time.Time
	limiter  *rate.Limiter
	deferrer atomic.Pointer[deferrerBox]

	working  atomic.Int32
	dreaming atomic.Bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

type deferrerBox struct {
	d Deferrer
}

func NewPublisher(backend Backend, opts Options, logger *zap.Logger, metrics *Metrics) *Publisher {
	opts = opts.withDefaults()
	logger = logging.OrNop(logger)
	p := &Publisher{
		agg:     NewAggregator(backend, opts, logger, metrics),
		feed:    NewFeed(opts.FeedCap, opts.RuleLimit),
		cmd:     backend,
		opts:    opts,
		log:     logger.Named("publisher"),
		metrics: metrics,
		now:     opts.Clock,
		subs:    map[int]chan Event{},
	}
	if opts.StatusCheckInterval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(opts.StatusCheckInterval), 1)
	}
	return p
}

// SetDeferrer installs the scheduler used for post-action refreshes.
func (p *Publisher) SetDeferrer(d Deferrer) {
	p.deferrer.Store(&deferrerBox{d: d})
}

func (p *Publisher) Options() Options {
	return p.opts
}

func (p *Publisher) Flags() Flags {
	return Flags{Working: p.working.Load() > 0, Dreaming: p.dreaming.Load()}
}

// Current assembles a view from the retained snapshot without fetching.
func (p *Publisher) Current() View {
	snap := p.agg.Snapshot()
	now := p.now()
	flags := p.Flags()
	return View{
		Snapshot:    snap,
		Feed:        p.feed.Build(snap),
		State:       DeriveState(snap, flags, now, p.opts.AlertWindow),
		Connected:   snap.Connected,
		Uptime:      snap.Uptime(now),
		Working:     flags.Working,
		Dreaming:    flags.Dreaming,
		GeneratedAt: now,
	}
}

// Tick runs one aggregation round and publishes the resulting view.
func (p *Publisher) Tick(ctx context.Context) View {
	p.agg.Poll(ctx)
	view := p.Current()
	p.publish(view)
	return view
}

// RefreshStatus re-fetches the status source alone and publishes.
func (p *Publisher) RefreshStatus(ctx context.Context) (View, error) {
	_, err := p.agg.RefreshStatus(ctx)
	view := p.Current()
	p.publish(view)
	return view, err
}

// SubmitTask sends a task to the agent. The state is forced to working until
// the call settles; the outcome is appended to the feed as a local entry and
// a status refresh is scheduled shortly after.
func (p *Publisher) SubmitTask(ctx context.Context, text string) (TaskOutcome, error) {
	task := strings.TrimSpace(text)
	if task == "" {
		return TaskOutcome{}, ErrEmptyTask
	}

	p.working.Add(1)
	p.publish(p.Current())
	result, err := p.cmd.Ask(ctx, task, nil)
	p.working.Add(-1)

	outcome := TaskOutcome{Task: task}
	if err != nil {
		p.log.Warn("task submission failed", zap.String("task", clip(task, taskSummaryChars)), zap.Error(err))
		p.metrics.observeAction("task", "error")
		outcome.Entry = NewLocalEntry(KindError, fmt.Sprintf("Task failed: %s · %s", task, err), p.now())
	} else {
		outcome.Response = result.Response
		outcome.Success = result.Succeeded()
		outcome.TokensUsed = result.TokensUsed
		outcome.LatencyMS = result.LatencyMS
		outcome.VigilFlags = result.VigilFlags
		if result.Confidence != nil {
			pct := int(*result.Confidence*100 + 0.5)
			outcome.ConfidencePct = &pct
		}
		kind := KindSuccess
		if !outcome.Success {
			kind = KindError
		}
		summary := clip(strings.TrimSpace(result.Response), taskSummaryChars)
		if summary == "" {
			summary = "done"
		}
		p.metrics.observeAction("task", string(kind))
		outcome.Entry = NewLocalEntry(kind, fmt.Sprintf("Task: %s · %s", task, summary), p.now())
	}

	p.appendLocal(outcome.Entry)
	p.scheduleRefresh("status-refresh", func(ctx context.Context) {
		_, _ = p.RefreshStatus(ctx)
	})
	return outcome, err
}

// TriggerDreamCycle asks the agent to run a consolidation cycle. At most one
// may be outstanding; a call made while one is running returns a skipped
// outcome without contacting the agent. A full refresh is scheduled shortly
// after the cycle settles.
func (p *Publisher) TriggerDreamCycle(ctx context.Context) (DreamOutcome, error) {
	if !p.dreaming.CompareAndSwap(false, true) {
		p.metrics.observeAction("dream", "skipped")
		return DreamOutcome{Skipped: true}, nil
	}
	p.publish(p.Current())
	report, err := p.cmd.Dream(ctx)
	p.dreaming.Store(false)

	var outcome DreamOutcome
	if err != nil {
		p.log.Warn("dream cycle failed", zap.Error(err))
		p.metrics.observeAction("dream", "error")
		outcome.Entry = NewLocalEntry(KindError, fmt.Sprintf("Dream failed: %s", err), p.now())
	} else {
		outcome.Summary = report.Summary
		outcome.EpisodesProcessed = report.EpisodesProcessed
		outcome.NewRules = report.NewRules
		outcome.MemoriesPruned = report.MemoriesPruned
		summary := strings.TrimSpace(report.Summary)
		if summary == "" {
			summary = "Cycle complete"
		}
		p.metrics.observeAction("dream", "ok")
		outcome.Entry = NewLocalEntry(KindDream, "Dream: "+summary, p.now())
	}

	p.appendLocal(outcome.Entry)
	p.scheduleRefresh("full-refresh", func(ctx context.Context) {
		p.Tick(ctx)
	})
	return outcome, err
}

// CheckStatus is the manual "is the agent alive" action: it refreshes the
// status source and records the result in the feed.
func (p *Publisher) CheckStatus(ctx context.Context) (Entry, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return Entry{}, ErrRateLimited
	}
	_, err := p.agg.RefreshStatus(ctx)
	var entry Entry
	if err != nil {
		p.metrics.observeAction("status-check", "error")
		entry = NewLocalEntry(KindError, fmt.Sprintf("Status check failed: %s", err), p.now())
	} else {
		p.metrics.observeAction("status-check", "ok")
		entry = NewLocalEntry(KindInfo, "Status check: all systems nominal", p.now())
	}
	p.appendLocal(entry)
	return entry, err
}

func (p *Publisher) appendLocal(entry Entry) {
	p.feed.Append(entry)
	p.emit(FeedAppendEvent{Entry: entry})
	p.publish(p.Current())
}

func (p *Publisher) scheduleRefresh(name string, fn func(ctx context.Context)) {
	box := p.deferrer.Load()
	if box == nil || box.d == nil {
		p.log.Debug("no scheduler installed, skipping deferred refresh", zap.String("job", name))
		return
	}
	if err := box.d.After(p.opts.RefreshDelay, name, fn); err != nil {
		p.log.Warn("schedule deferred refresh", zap.String("job", name), zap.Error(err))
	}
}

// Subscribe registers a renderer. Events are dropped, never blocked on, when
// the buffer is full; the next view supersedes them. The returned function
// unsubscribes and closes the channel.
func (p *Publisher) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			defer p.subMu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

// Close closes every subscription. Later publishes are discarded.
func (p *Publisher) Close() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}

func (p *Publisher) publish(view View) {
	p.metrics.observeView(view.State, view.Connected)
	p.emit(ViewEvent{View: view})
}

func (p *Publisher) emit(ev Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.log.Debug("subscriber buffer full, dropping event", zap.Int("subscriber", id))
		}
	}
}

func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

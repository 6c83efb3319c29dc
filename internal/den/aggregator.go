package den

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wolfden/internal/api"
	"wolfden/internal/logging"
)

// Fetcher is the read side of the agent API.
type Fetcher interface {
	Status(ctx context.Context) (api.AgentStatus, error)
	Traces(ctx context.Context, limit int) ([]api.ExecutionTrace, error)
	Incidents(ctx context.Context, hours int) ([]api.Incident, error)
	DreamReports(ctx context.Context) ([]api.DreamReport, error)
	Rules(ctx context.Context) ([]api.Rule, error)
}

// Aggregator polls every source and keeps the last successful value of each.
type Aggregator struct {
	src     Fetcher
	opts    Options
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

func NewAggregator(src Fetcher, opts Options, logger *zap.Logger, metrics *Metrics) *Aggregator {
	opts = opts.withDefaults()
	return &Aggregator{
		src:     src,
		opts:    opts,
		log:     logging.OrNop(logger).Named("aggregator"),
		metrics: metrics,
		now:     opts.Clock,
		snap:    Snapshot{LastSuccess: map[Source]time.Time{}},
	}
}

// Snapshot returns a copy of the current snapshot.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap.clone()
}

// Poll runs one aggregation round. All five fetches run concurrently and
// every outcome is collected; a failure only leaves its own slot stale.
func (a *Aggregator) Poll(ctx context.Context) Snapshot {
	var g errgroup.Group
	for _, source := range Sources {
		source := source
		g.Go(func() error {
			a.fetch(ctx, source)
			return nil
		})
	}
	_ = g.Wait()
	return a.Snapshot()
}

// RefreshStatus re-fetches the status slot alone.
func (a *Aggregator) RefreshStatus(ctx context.Context) (Snapshot, error) {
	err := a.fetch(ctx, SourceStatus)
	return a.Snapshot(), err
}

func (a *Aggregator) fetch(ctx context.Context, source Source) error {
	started := a.now()
	var err error
	switch source {
	case SourceStatus:
		var status api.AgentStatus
		status, err = a.src.Status(ctx)
		a.storeStatus(status, err)
	case SourceTraces:
		var traces []api.ExecutionTrace
		if traces, err = a.src.Traces(ctx, a.opts.TraceLimit); err == nil {
			a.store(source, func(s *Snapshot) { s.Traces = traces })
		}
	case SourceIncidents:
		var incidents []api.Incident
		if incidents, err = a.src.Incidents(ctx, a.opts.IncidentLookbackHours()); err == nil {
			a.store(source, func(s *Snapshot) { s.Incidents = incidents })
		}
	case SourceDreams:
		var reports []api.DreamReport
		if reports, err = a.src.DreamReports(ctx); err == nil {
			a.store(source, func(s *Snapshot) { s.DreamReports = reports })
		}
	case SourceRules:
		var rules []api.Rule
		if rules, err = a.src.Rules(ctx); err == nil {
			a.store(source, func(s *Snapshot) { s.Rules = rules })
		}
	}

	a.metrics.observeFetch(source, err, a.now().Sub(started))
	if err != nil {
		a.log.Warn("source fetch failed", zap.String("source", string(source)), zap.Error(err))
		return err
	}
	a.log.Debug("source fetched", zap.String("source", string(source)))
	return nil
}

func (a *Aggregator) storeStatus(status api.AgentStatus, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.snap.Connected = false
		return
	}
	now := a.now()
	a.snap.Status = &status
	a.snap.StatusFetchedAt = now
	a.snap.Connected = true
	a.snap.LastSuccess[SourceStatus] = now
}

func (a *Aggregator) store(source Source, apply func(*Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	apply(&a.snap)
	a.snap.LastSuccess[source] = a.now()
}

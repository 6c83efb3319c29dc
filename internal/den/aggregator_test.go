package den

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"wolfden/internal/api"
)

func seededBackend() *fakeBackend {
	backend := newFakeBackend()
	backend.traces = []api.ExecutionTrace{{ID: "t1", Task: "ls", Success: true, Timestamp: ago(10 * time.Second)}}
	backend.incidents = []api.Incident{{ID: "i1", Reason: "rm -rf", Timestamp: ago(time.Hour)}}
	backend.dreams = []api.DreamReport{{ID: "d1", Summary: "consolidated", Date: ago(2 * time.Hour)}}
	backend.rules = []api.Rule{{ID: "r1", Rule: "prefer ls -la", Confidence: 0.8, LastValidated: ago(3 * time.Hour)}}
	return backend
}

func TestPollStoresEverySource(t *testing.T) {
	clock := newFakeClock()
	backend := seededBackend()
	agg := NewAggregator(backend, testOptions(clock), nil, nil)

	snap := agg.Poll(context.Background())

	require.NotNil(t, snap.Status)
	assert.Equal(t, "Romulus", snap.Status.Name)
	assert.True(t, snap.Connected)
	assert.Len(t, snap.Traces, 1)
	assert.Len(t, snap.Incidents, 1)
	assert.Len(t, snap.DreamReports, 1)
	assert.Len(t, snap.Rules, 1)
	for _, source := range Sources {
		assert.Equal(t, baseTime, snap.LastSuccess[source], "last success for %s", source)
		assert.Equal(t, 1, backend.Calls(string(source)), "calls for %s", source)
	}
	assert.Equal(t, DefaultTraceLimit, backend.traceLimit)
	assert.Equal(t, 48, backend.incidentHours)
}

func TestPollIsIdempotentForUnchangedSources(t *testing.T) {
	clock := newFakeClock()
	agg := NewAggregator(seededBackend(), testOptions(clock), nil, nil)

	first := agg.Poll(context.Background())
	second := agg.Poll(context.Background())

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("snapshot changed between identical polls (-first +second):\n%s", diff)
	}
}

func TestPollKeepsLastGoodValueOnFailure(t *testing.T) {
	clock := newFakeClock()
	backend := seededBackend()
	core, logs := observer.New(zap.WarnLevel)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	agg := NewAggregator(backend, testOptions(clock), zap.New(core), metrics)

	first := agg.Poll(context.Background())
	clock.Advance(5 * time.Second)
	backend.set(func(f *fakeBackend) {
		f.tracesErr = errors.New("connection reset")
		f.traces = nil
		f.rules = append(f.rules, api.Rule{ID: "r2", Rule: "new", LastValidated: ago(time.Minute)})
	})

	second := agg.Poll(context.Background())

	assert.Equal(t, first.Traces, second.Traces, "failed source keeps its previous value")
	assert.Equal(t, baseTime, second.LastSuccess[SourceTraces])
	assert.Len(t, second.Rules, 2, "healthy sources still update")
	assert.Equal(t, baseTime.Add(5*time.Second), second.LastSuccess[SourceRules])
	assert.True(t, second.Connected)

	failures := logs.FilterMessage("source fetch failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "traces", failures[0].ContextMap()["source"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fetches.WithLabelValues("traces", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fetches.WithLabelValues("traces", "ok")))
}

func TestConnectedFollowsStatusSourceOnly(t *testing.T) {
	clock := newFakeClock()
	backend := seededBackend()
	agg := NewAggregator(backend, testOptions(clock), nil, nil)
	agg.Poll(context.Background())

	backend.set(func(f *fakeBackend) { f.statusErr = errors.New("refused") })
	snap := agg.Poll(context.Background())
	assert.False(t, snap.Connected)
	require.NotNil(t, snap.Status, "last good status is retained while disconnected")
	assert.Equal(t, "Romulus", snap.Status.Name)

	backend.set(func(f *fakeBackend) {
		f.statusErr = nil
		f.tracesErr = errors.New("boom")
		f.incidentsErr = errors.New("boom")
		f.dreamsErr = errors.New("boom")
		f.rulesErr = errors.New("boom")
	})
	snap = agg.Poll(context.Background())
	assert.True(t, snap.Connected)
}

func TestRefreshStatusFetchesOnlyStatus(t *testing.T) {
	clock := newFakeClock()
	backend := seededBackend()
	agg := NewAggregator(backend, testOptions(clock), nil, nil)

	snap, err := agg.RefreshStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Connected)
	assert.Equal(t, 1, backend.Calls("status"))
	assert.Equal(t, 0, backend.Calls("traces"))
	assert.Empty(t, snap.Traces)
	assert.True(t, snap.Stale(SourceTraces, clock.Now(), time.Minute))
	assert.False(t, snap.Stale(SourceStatus, clock.Now(), time.Minute))
}

func TestIncidentLookbackRoundsUpToHours(t *testing.T) {
	clock := newFakeClock()
	backend := seededBackend()
	opts := testOptions(clock)
	opts.IncidentLookback = 90 * time.Minute
	opts.TraceLimit = 7
	agg := NewAggregator(backend, opts, nil, nil)

	agg.Poll(context.Background())

	assert.Equal(t, 2, backend.incidentHours)
	assert.Equal(t, 7, backend.traceLimit)
}

func TestUptimeInterpolatesAndNeverDecreases(t *testing.T) {
	clock := newFakeClock()
	backend := seededBackend()
	agg := NewAggregator(backend, testOptions(clock), nil, nil)
	agg.Poll(context.Background())

	var last time.Duration
	for i := 0; i < 5; i++ {
		uptime := agg.Snapshot().Uptime(clock.Now())
		assert.GreaterOrEqual(t, uptime, last)
		last = uptime
		clock.Advance(time.Second)
	}
	assert.Equal(t, 104*time.Second, last)

	backend.set(func(f *fakeBackend) { f.status.UptimeSeconds = 106 })
	agg.Poll(context.Background())
	assert.Equal(t, 106*time.Second, agg.Snapshot().Uptime(clock.Now()))
	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 107500*time.Millisecond, agg.Snapshot().Uptime(clock.Now()))
}

func TestUptimeWithoutStatusIsZero(t *testing.T) {
	assert.Zero(t, Snapshot{}.Uptime(baseTime))
}

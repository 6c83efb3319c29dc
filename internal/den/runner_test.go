package den

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerPollsAndRunsDeferredWork(t *testing.T) {
	backend := seededBackend()
	opts := DefaultOptions()
	opts.PollInterval = 50 * time.Millisecond
	opts.RefreshDelay = 10 * time.Millisecond
	pub := NewPublisher(backend, opts, nil, nil)
	runner, err := NewRunner(pub, nil)
	require.NoError(t, err)
	events, cancel := pub.Subscribe(64)
	defer cancel()

	require.NoError(t, runner.Start(context.Background()))
	require.NoError(t, runner.Start(context.Background()), "second start is a no-op")

	view := waitForView(t, events, func(v View) bool { return v.Connected })
	assert.NotNil(t, view.Snapshot.Status)
	require.Eventually(t, func() bool { return backend.Calls("status") >= 2 }, 2*time.Second, 10*time.Millisecond)

	ran := make(chan struct{})
	require.NoError(t, runner.After(10*time.Millisecond, "probe", func(ctx context.Context) {
		assert.NoError(t, ctx.Err())
		close(ran)
	}))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("deferred job did not run")
	}

	_, err = pub.SubmitTask(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, runner.Shutdown())
	require.NoError(t, runner.Shutdown())
	assert.Error(t, runner.After(time.Millisecond, "late", func(context.Context) {}))

	for range events {
	}
}

func TestRunnerAfterRequiresStart(t *testing.T) {
	pub := NewPublisher(seededBackend(), DefaultOptions(), nil, nil)
	runner, err := NewRunner(pub, nil)
	require.NoError(t, err)

	assert.Error(t, runner.After(time.Millisecond, "early", func(context.Context) {}))
	require.NoError(t, runner.Shutdown())
	assert.Error(t, runner.Start(context.Background()))
}

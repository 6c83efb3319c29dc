package den

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"wolfden/internal/logging"
)

var errRunnerStopped = errors.New("runner stopped")

// Runner drives a publisher on a fixed poll interval and runs its deferred
// refreshes. It implements Deferrer.
type Runner struct {
	pub       *Publisher
	scheduler gocron.Scheduler
	log       *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

func NewRunner(pub *Publisher, logger *zap.Logger) (*Runner, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	r := &Runner{
		pub:       pub,
		scheduler: scheduler,
		log:       logging.OrNop(logger).Named("runner"),
	}
	pub.SetDeferrer(r)
	return r, nil
}

// Start schedules the poll job with an immediate first run. Jobs receive a
// context derived from ctx that is cancelled by Shutdown.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errRunnerStopped
	}
	if r.started {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	interval := r.pub.Options().PollInterval
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			r.pub.Tick(r.jobContext())
		}),
		gocron.WithName("poll"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		r.cancel()
		return fmt.Errorf("schedule poll: %w", err)
	}
	r.scheduler.Start()
	r.started = true
	r.log.Info("polling started", zap.Duration("interval", interval))
	return nil
}

// After runs fn once after delay.
func (r *Runner) After(delay time.Duration, name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || !r.started {
		return errRunnerStopped
	}
	at := gocron.OneTimeJobStartImmediately()
	if delay > 0 {
		at = gocron.OneTimeJobStartDateTime(time.Now().Add(delay))
	}
	_, err := r.scheduler.NewJob(
		gocron.OneTimeJob(at),
		gocron.NewTask(func() {
			ctx := r.jobContext()
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Shutdown cancels in-flight work, stops the scheduler and closes the
// publisher's subscriptions. Pending deferred jobs never run.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	err := r.scheduler.Shutdown()
	r.pub.Close()
	if err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	r.log.Info("polling stopped")
	return nil
}

func (r *Runner) jobContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

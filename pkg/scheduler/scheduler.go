// Package scheduler drives the periodic engine sweep on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/lease"
	"github.com/robfig/cron/v3"
)

const DefaultSpec = "@every 1m"

var ErrSweeperNil = errors.New("sweeper cannot be nil")

// Sweeper runs one sweep. *engine.Engine implements it.
type Sweeper interface {
	Tick(ctx context.Context) (engine.TickReport, error)
}

// Runner calls the sweeper on every cron activation. Overlapping activations
// in one process are skipped, and the sweep lease keeps workers in other
// processes from sweeping at the same time.
type Runner struct {
	spec    string
	sweeper Sweeper
	locker  lease.Locker
	ttl     time.Duration
	timeout time.Duration

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc

	logger *slog.Logger
}

type Options struct {
	// Spec is a standard cron expression or a descriptor such as "@every 30s".
	Spec string
	// Timeout bounds a single sweep. Zero means the sweep lease TTL.
	Timeout time.Duration
	// LeaseTTL is how long the sweep lease is held at most.
	LeaseTTL time.Duration
}

func New(sweeper Sweeper, locker lease.Locker, opts Options, logger *slog.Logger) (*Runner, error) {
	if sweeper == nil {
		return nil, ErrSweeperNil
	}

	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}

	if _, err := cron.ParseStandard(opts.Spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Spec, err)
	}

	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = lease.DefaultTTL
	}

	if opts.Timeout <= 0 {
		opts.Timeout = opts.LeaseTTL
	}

	if locker == nil {
		locker = lease.NewLocal()
	}

	return &Runner{
		spec:    opts.Spec,
		sweeper: sweeper,
		locker:  locker,
		ttl:     opts.LeaseTTL,
		timeout: opts.Timeout,
		logger:  logger.With("module", "scheduler", "spec", opts.Spec),
	}, nil
}

// Start schedules the sweep and returns right away.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	cronLogger := cronLogger{logger: r.logger}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	if _, err := c.AddFunc(r.spec, func() { r.RunOnce(ctx) }); err != nil {
		cancel()

		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	c.Start()

	r.cron = c
	r.cancel = cancel

	r.logger.Info("scheduler started")

	return nil
}

// Stop cancels the running sweep and waits for it to return.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}

	cancel()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.Info("scheduler stopped")

	return nil
}

// RunOnce runs a single sweep unless another worker holds the sweep lease.
// It reports whether this call swept.
func (r *Runner) RunOnce(ctx context.Context) bool {
	held, err := r.locker.TryAcquire(ctx, lease.SweepKey, r.ttl)
	if err != nil {
		if errors.Is(err, lease.ErrNotAcquired) {
			r.logger.Debug("sweep already running elsewhere")
		} else {
			r.logger.Error("failed to acquire sweep lease", "error", err)
		}

		return false
	}

	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to release sweep lease", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	report, err := r.sweeper.Tick(ctx)
	if err != nil {
		r.logger.Error("sweep finished with errors", "error", err)
	}

	r.logger.Info("sweep finished",
		"resumed", report.Resumed,
		"enrolled", report.Enrolled,
		"advanced", report.Advanced,
		"fired", report.Fired)

	return true
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Package lease provides short-lived exclusive leases keyed by string, used to
// serialize work on one (program, entity) pair across workers.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotAcquired = errors.New("lease not acquired")

const (
	DefaultTTL          = 2 * time.Minute
	DefaultWait         = 5 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out leases. TryAcquire never blocks; it returns ErrNotAcquired
// when another holder owns key.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Options bound AcquireWait.
type Options struct {
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}

	if o.Wait < 0 {
		o.Wait = 0
	}

	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}

	return o
}

// AcquireWait polls locker until key is acquired, opts.Wait elapses or ctx ends.
func AcquireWait(ctx context.Context, locker Locker, key string, opts Options) (Lease, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Wait)

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		l, err := locker.TryAcquire(ctx, key, opts.TTL)
		if err == nil {
			return l, nil
		}

		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotAcquired)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// With runs fn while holding key. The lease is released with a context that
// survives cancellation of ctx.
func With(ctx context.Context, locker Locker, key string, opts Options, fn func(ctx context.Context) error) error {
	l, err := AcquireWait(ctx, locker, key, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = l.Release(context.WithoutCancel(ctx))
	}()

	return fn(ctx)
}

// Pair keys are scoped by tenant.

func FlowKey(tenantID, flowID, entityID string) string {
	return "tenant:" + tenantID + ":flow:" + flowID + ":entity:" + entityID
}

func CadenceKey(tenantID, cadenceID, entityID string) string {
	return "tenant:" + tenantID + ":cadence:" + cadenceID + ":entity:" + entityID
}

func InactivityKey(tenantID, ruleID, entityID string) string {
	return "tenant:" + tenantID + ":inactivity:" + ruleID + ":entity:" + entityID
}

func ExecutionKey(executionID string) string {
	return "execution:" + executionID
}

// SweepKey guards the periodic tick so a single worker sweeps at a time.
const SweepKey = "scheduler:sweep"

// Package retry computes bounded exponential backoff delays for step attempts.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 30 * time.Second
	DefaultMaxInterval     = 30 * time.Minute
	DefaultMultiplier      = 2.0
)

// Policy bounds how often and how far apart a failed step is retried.
// Attempts are persisted between ticks, so the policy only computes delays
// and never sleeps.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}

	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}

	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}

	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}

	return p
}

// Exhausted reports whether attempts already made reach the ceiling.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.normalized().MaxAttempts
}

// Next returns the delay before the next attempt after attempts failures.
// The second return is false once the ceiling is reached.
func (p Policy) Next(attempts int) (time.Duration, bool) {
	p = p.normalized()

	if attempts >= p.MaxAttempts {
		return 0, false
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.InitialInterval
	for range max(attempts, 1) {
		delay = b.NextBackOff()
	}

	return delay, true
}

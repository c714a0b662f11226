package retry_test

import (
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/retry"
	"github.com/stretchr/testify/assert"
)

func TestPolicy_Next(t *testing.T) {
	p := retry.Policy{
		MaxAttempts:     4,
		InitialInterval: time.Second,
		MaxInterval:     3 * time.Second,
		Multiplier:      2,
	}

	tests := []struct {
		attempts int
		want     time.Duration
		ok       bool
	}{
		{attempts: 1, want: time.Second, ok: true},
		{attempts: 2, want: 2 * time.Second, ok: true},
		{attempts: 3, want: 3 * time.Second, ok: true},
		{attempts: 4, want: 0, ok: false},
		{attempts: 9, want: 0, ok: false},
	}

	for _, tt := range tests {
		got, ok := p.Next(tt.attempts)
		assert.Equal(t, tt.ok, ok, "attempts=%d", tt.attempts)
		assert.Equal(t, tt.want, got, "attempts=%d", tt.attempts)
	}
}

func TestPolicy_Defaults(t *testing.T) {
	var p retry.Policy

	assert.False(t, p.Exhausted(retry.DefaultMaxAttempts-1))
	assert.True(t, p.Exhausted(retry.DefaultMaxAttempts))

	delay, ok := p.Next(1)
	assert.True(t, ok)
	assert.Equal(t, retry.DefaultInitialInterval, delay)
}

// Package delegates holds the outbound adapters the action executor calls:
// email over SES, chat messages over an HTTP gateway and webhooks.
package delegates

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
)

const (
	// IdempotencyHeader carries the step idempotency key to the remote side.
	IdempotencyHeader = "Idempotency-Key"

	DefaultTimeout = 30 * time.Second

	maxErrorBody = 4 << 10
)

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}

	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether a response with code is worth retrying: server
// errors, throttling and request timeouts.
func Retryable(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout
}

// CheckStatus turns a non-2xx response into a DelegateError. The body of
// failed responses is consumed.
func CheckStatus(delegate, op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}

	if Retryable(resp.StatusCode) {
		return actions.Transient(delegate, op, err)
	}

	return actions.Permanent(delegate, op, err)
}

// TransportError wraps a failed round trip. Transport failures are retried.
func TransportError(delegate, op string, err error) error {
	return actions.Transient(delegate, op, err)
}

// IsStatus reports whether err carries a response with code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError

	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// NewClient returns an HTTP client with timeout, or DefaultTimeout when zero.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{Timeout: timeout}
}

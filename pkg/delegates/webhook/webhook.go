// Package webhook performs the outbound calls of send-webhook actions.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/delegates"
)

const (
	name = "webhook"

	maxResponseBody = 64 << 10
)

type Caller struct {
	client *http.Client
	logger *slog.Logger
}

func New(client *http.Client, logger *slog.Logger) *Caller {
	if client == nil {
		client = delegates.NewClient(0)
	}

	return &Caller{
		client: client,
		logger: logger.With("module", "webhook"),
	}
}

// Call sends req once. Retries are left to the engine; 5xx, 429 and transport
// failures come back retryable, other non-2xx responses do not.
func (c *Caller) Call(ctx context.Context, req actions.WebhookRequest) (actions.WebhookResponse, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return actions.WebhookResponse{}, actions.Permanent(name, "call", fmt.Errorf("failed to create http request: %w", err))
	}

	if req.Body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if req.IdempotencyKey != "" {
		httpReq.Header.Set(delegates.IdempotencyHeader, req.IdempotencyKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return actions.WebhookResponse{}, delegates.TransportError(name, "call", err)
	}
	defer resp.Body.Close()

	if err := delegates.CheckStatus(name, "call", resp); err != nil {
		c.logger.WarnContext(ctx, "webhook rejected", "url", req.URL, "status", resp.StatusCode)

		return actions.WebhookResponse{StatusCode: resp.StatusCode}, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return actions.WebhookResponse{}, delegates.TransportError(name, "read", err)
	}

	c.logger.DebugContext(ctx, "webhook delivered", "url", req.URL, "status", resp.StatusCode, "body_length", len(raw))

	return actions.WebhookResponse{StatusCode: resp.StatusCode, Body: string(raw)}, nil
}

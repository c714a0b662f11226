package webhook_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/delegates"
	"github.com/dukex/crmflow/pkg/delegates/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaller_Call(t *testing.T) {
	t.Parallel()

	type captured struct {
		method string
		body   string
		header http.Header
	}

	seen := make(chan captured, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen <- captured{method: r.Method, body: string(raw), header: r.Header.Clone()}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	caller := webhook.New(server.Client(), slog.New(slog.DiscardHandler))

	resp, err := caller.Call(context.Background(), actions.WebhookRequest{
		URL:            server.URL + "/hooks/lead",
		Headers:        map[string]string{"X-Signature": "abc"},
		Body:           `{"lead":"lead-1"}`,
		IdempotencyKey: "exec-1:0",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, resp.Body)

	got := <-seen
	assert.Equal(t, http.MethodPost, got.method)
	assert.JSONEq(t, `{"lead":"lead-1"}`, got.body)
	assert.Equal(t, "abc", got.header.Get("X-Signature"))
	assert.Equal(t, "exec-1:0", got.header.Get(delegates.IdempotencyHeader))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
}

func TestCaller_CallStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "throttled", status: http.StatusTooManyRequests, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, retryable: false},
		{name: "gone", status: http.StatusGone, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			caller := webhook.New(server.Client(), slog.New(slog.DiscardHandler))

			resp, err := caller.Call(context.Background(), actions.WebhookRequest{URL: server.URL, Method: "get"})
			require.Error(t, err)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.retryable, actions.IsRetryable(err))
			assert.True(t, delegates.IsStatus(err, tt.status))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestCaller_CallTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	caller := webhook.New(server.Client(), slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := caller.Call(ctx, actions.WebhookRequest{URL: server.URL})
	require.Error(t, err)
	assert.True(t, actions.IsRetryable(err))
}

func TestCaller_CallInvalidURL(t *testing.T) {
	t.Parallel()

	caller := webhook.New(nil, slog.New(slog.DiscardHandler))

	_, err := caller.Call(context.Background(), actions.WebhookRequest{URL: "://bad", Method: http.MethodPost})
	require.Error(t, err)
	assert.False(t, actions.IsRetryable(err))
}

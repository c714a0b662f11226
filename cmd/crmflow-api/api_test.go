package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/crm/memory"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/metrics"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	crm := memory.New()
	reg := prometheus.NewRegistry()

	eng, err := engine.New(engine.Config{}, engine.Dependencies{
		Store:     file.NewPersistence(t.TempDir()),
		Delegates: actions.Dependencies{Entities: crm, Tasks: crm, Notifier: crm},
		Metrics:   metrics.New(reg),
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return NewAPI(slog.New(slog.DiscardHandler), eng, nil, reg).App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "crmflow API", body)
}

func TestAPI_Probes(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		status, body := get(t, app, path)
		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "OK", body, path)
	}

	status, body := get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"store":"ok"`)
}

func TestAPI_Metrics(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "crmflow_"), "engine metrics are exposed")
}

func TestAPI_ListsAreEmptyOnFreshStore(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/tenants/t1/flows")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"items":[],"count":0}`, body)
}

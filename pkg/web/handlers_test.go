package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/crm/memory"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "t1"

type fixture struct {
	app    *fiber.App
	engine *engine.Engine
	crm    *memory.CRM
}

func setupTestApp(t *testing.T, sink web.EventSink) *fixture {
	t.Helper()

	crm := memory.New()
	crm.Put(&models.Entity{
		ID:       "lead-1",
		TenantID: tenant,
		Kind:     models.EntityLead,
		Name:     "Ana Souza",
		Email:    "ana@example.com",
		Stage:    "new",
	})

	eng, err := engine.New(engine.Config{}, engine.Dependencies{
		Store: file.NewPersistence(t.TempDir()),
		Delegates: actions.Dependencies{
			Entities: crm,
			Email:    crm,
			Messages: crm,
			Webhooks: crm,
			Tasks:    crm,
			Notifier: crm,
		},
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	app := fiber.New()
	web.NewAPIHandlers(eng, sink, slog.New(slog.DiscardHandler)).Register(app)

	return &fixture{app: app, engine: eng, crm: crm}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, raw
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var p map[string]any
	require.NoError(t, json.Unmarshal(body, &p))

	kind, _ := p["type"].(string)

	return kind
}

func taskFlow() models.AutomationFlow {
	return models.AutomationFlow{
		Name:    "Welcome task",
		Trigger: models.Trigger{Type: models.TriggerNewRecord, Config: models.Config{"entityKind": "lead"}},
		Actions: []models.AutomationAction{{
			Type:   models.ActionCreateTask,
			Config: models.Config{"title": "Call {{name}}", "assignee": "owner"},
		}},
		IsActive: true,
	}
}

func newRecordEvent() web.EventRequest {
	return web.EventRequest{
		TenantID:   tenant,
		Kind:       models.EventKind(models.TriggerNewRecord),
		EntityID:   "lead-1",
		EntityKind: models.EntityLead,
	}
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	status, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}

func TestAPIHandlers_SubmitEventRunsFlows(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	status, _ := f.do(t, http.MethodPut, "/tenants/t1/flows/welcome", taskFlow())
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodPost, "/events", newRecordEvent())
	require.Equal(t, http.StatusAccepted, status)

	var accepted web.EventAccepted
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.NotEmpty(t, accepted.ID)

	status, body = f.do(t, http.MethodGet, "/executions?tenant_id=t1&flow_id=welcome", nil)
	require.Equal(t, http.StatusOK, status)

	var list web.ListResponse[models.AutomationExecution]
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, models.ExecutionCompleted, list.Items[0].Status)

	tasks := f.crm.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Call Ana Souza", tasks[0].Title)

	status, body = f.do(t, http.MethodGet, "/executions/"+list.Items[0].ID+"/attempts", nil)
	require.Equal(t, http.StatusOK, status)

	var attempts web.ListResponse[models.StepAttempt]
	require.NoError(t, json.Unmarshal(body, &attempts))
	assert.Equal(t, 1, attempts.Count)

	status, body = f.do(t, http.MethodPost, "/executions/"+list.Items[0].ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", problemType(t, body))
}

func TestAPIHandlers_SubmitEventValidation(t *testing.T) {
	t.Parallel()

	missingTenant := newRecordEvent()
	missingTenant.TenantID = ""

	unknownKind := newRecordEvent()
	unknownKind.Kind = "lead-teleported"

	badSource := newRecordEvent()
	badSource.Source = "carrier-pigeon"

	tests := []struct {
		name string
		body any
	}{
		{name: "invalid JSON", body: "invalid-json"},
		{name: "missing tenant", body: missingTenant},
		{name: "unknown kind", body: unknownKind},
		{name: "unknown source", body: badSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := setupTestApp(t, nil)

			status, body := f.do(t, http.MethodPost, "/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "validation_error", problemType(t, body))
		})
	}
}

type recordingPublisher struct {
	mu        sync.Mutex
	keys      []string
	published []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.keys = append(p.keys, key)
	p.published = append(p.published, event)

	return nil
}

func TestAPIHandlers_SubmitEventToBus(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{}
	f := setupTestApp(t, web.NewBusSink(publisher))

	status, _ := f.do(t, http.MethodPut, "/tenants/t1/flows/welcome", taskFlow())
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/events", newRecordEvent())
	require.Equal(t, http.StatusAccepted, status)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, []string{"lead-1"}, publisher.keys)

	received, ok := publisher.published[0].(events.DomainEventReceived)
	require.True(t, ok)
	assert.Equal(t, tenant, received.TenantID)
	assert.Equal(t, models.SourceLive, received.Event.Source)
	assert.NotEmpty(t, received.Event.ID)

	assert.Empty(t, f.crm.Tasks(), "the bus sink must not run flows in the API process")
}

func TestAPIHandlers_NotFound(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	for _, path := range []string{
		"/executions/missing",
		"/executions/missing/attempts",
		"/enrollments/missing",
		"/tenants/t1/flows/missing",
		"/tenants/t1/cadences/missing",
		"/tenants/t1/inactivity-rules/missing",
		"/tenants/t1/templates/missing",
	} {
		status, body := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Equal(t, "not_found", problemType(t, body), path)
	}
}

func TestAPIHandlers_ReplayStepRejectsBadOrder(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	status, _ := f.do(t, http.MethodPost, "/executions/x/steps/first/replay", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_FlowDefinitions(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	invalid := taskFlow()
	invalid.Actions[0].Config = models.Config{"title": "Call {{nickname}}"}

	status, body := f.do(t, http.MethodPut, "/tenants/t1/flows/welcome", invalid)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_definition", problemType(t, body))

	draft := taskFlow()
	draft.IsActive = false

	status, _ = f.do(t, http.MethodPut, "/tenants/t1/flows/welcome", draft)
	require.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodGet, "/tenants/t1/flows?active=true", nil)
	require.Equal(t, http.StatusOK, status)

	var active web.ListResponse[models.AutomationFlow]
	require.NoError(t, json.Unmarshal(body, &active))
	assert.Equal(t, 0, active.Count)

	status, body = f.do(t, http.MethodPost, "/tenants/t1/flows/welcome/activate", nil)
	require.Equal(t, http.StatusOK, status)

	var flow models.AutomationFlow
	require.NoError(t, json.Unmarshal(body, &flow))
	assert.True(t, flow.IsActive)
	assert.Equal(t, "welcome", flow.ID)
	assert.Equal(t, tenant, flow.TenantID)

	status, body = f.do(t, http.MethodGet, "/tenants/t1/flows", nil)
	require.Equal(t, http.StatusOK, status)

	var all web.ListResponse[models.AutomationFlow]
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Equal(t, 1, all.Count)
}

func TestAPIHandlers_Enrollments(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	cadence := models.Cadence{
		Name: "Onboarding",
		Steps: []models.CadenceStep{
			{Order: 0, DayOffset: 0, Action: models.AutomationAction{
				Type:   models.ActionCreateTask,
				Config: models.Config{"title": "Intro call", "assignee": "owner"},
			}},
			{Order: 1, DayOffset: 3, Action: models.AutomationAction{
				Type:   models.ActionCreateTask,
				Config: models.Config{"title": "Follow up", "assignee": "owner"},
			}},
		},
		IsActive: true,
	}

	status, _ := f.do(t, http.MethodPut, "/tenants/t1/cadences/onboarding", cadence)
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodPost, "/tenants/t1/cadences/onboarding/enrollments", web.EnrollRequest{EntityID: "lead-1"})
	require.Equal(t, http.StatusCreated, status)

	var first web.EnrollResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Created)
	assert.Equal(t, models.EnrollmentActive, first.Enrollment.Status)

	status, body = f.do(t, http.MethodPost, "/tenants/t1/cadences/onboarding/enrollments", web.EnrollRequest{EntityID: "lead-1"})
	require.Equal(t, http.StatusOK, status)

	var second web.EnrollResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.False(t, second.Created)
	assert.Equal(t, first.Enrollment.ID, second.Enrollment.ID)

	status, _ = f.do(t, http.MethodPost, "/tenants/t1/cadences/onboarding/enrollments", web.EnrollRequest{EntityID: "lead-404"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/tenants/t1/cadences/onboarding/enrollments", web.EnrollRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodPost, "/enrollments/"+first.Enrollment.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, status)

	var paused models.CadenceEnrollment
	require.NoError(t, json.Unmarshal(body, &paused))
	assert.Equal(t, models.EnrollmentPaused, paused.Status)

	status, body = f.do(t, http.MethodPost, "/enrollments/"+first.Enrollment.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", problemType(t, body))

	status, body = f.do(t, http.MethodGet, "/enrollments?tenant_id=t1&status=paused", nil)
	require.Equal(t, http.StatusOK, status)

	var list web.ListResponse[models.CadenceEnrollment]
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Count)

	status, _ = f.do(t, http.MethodGet, "/enrollments?status=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_EnrollInactiveCadence(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	cadence := models.Cadence{
		Name: "Dormant",
		Steps: []models.CadenceStep{{Action: models.AutomationAction{
			Type:   models.ActionCreateTask,
			Config: models.Config{"title": "Ping", "assignee": "owner"},
		}}},
	}

	status, _ := f.do(t, http.MethodPut, "/tenants/t1/cadences/dormant", cadence)
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/tenants/t1/cadences/dormant/enrollments", web.EnrollRequest{EntityID: "lead-1"})
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPIHandlers_SaveTemplate(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	status, body := f.do(t, http.MethodPut, "/tenants/t1/templates/welcome", models.MessageTemplate{
		Name:    "Welcome",
		Channel: models.ChannelEmail,
		Subject: "Hello {{name}}",
		Body:    "Your plan is {{favourite_colour}}",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, string(body), "favourite_colour")

	status, _ = f.do(t, http.MethodPut, "/tenants/t1/templates/welcome", models.MessageTemplate{
		Name:    "Welcome",
		Channel: models.ChannelEmail,
		Subject: "Hello {{name}}",
		Body:    "See you on {{current_date}}",
	})
	require.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodGet, "/tenants/t1/templates/welcome", nil)
	require.Equal(t, http.StatusOK, status)

	var tpl models.MessageTemplate
	require.NoError(t, json.Unmarshal(body, &tpl))
	assert.Equal(t, "Hello {{name}}", tpl.Subject)
}

func TestAPIHandlers_Truncations(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t, nil)

	status, body := f.do(t, http.MethodGet, "/tenants/t1/truncations?limit=10", nil)
	require.Equal(t, http.StatusOK, status)

	var list web.ListResponse[models.ChainTruncation]
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Items)

	status, _ = f.do(t, http.MethodGet, "/tenants/t1/truncations?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "crmflow_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	app := fiber.New()
	app.Get("/metrics", web.MetricsHandler(registry))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "crmflow_test_total 1")
}

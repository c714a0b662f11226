package rest_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/crm/rest"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCRM serves the subset of the CRM API the client calls.
type fakeCRM struct {
	mu            sync.Mutex
	tasks         map[string]string
	notifications []map[string]any
	mutations     []models.Mutation
	authHeaders   []string
}

func newFakeCRM(t *testing.T) (*fakeCRM, *rest.Client) {
	t.Helper()

	f := &fakeCRM{tasks: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tenants/{tenant}/entities/{id}", f.getEntity)
	mux.HandleFunc("GET /tenants/{tenant}/entities", f.listEntities)
	mux.HandleFunc("POST /tenants/{tenant}/entities/{id}/mutations", f.mutate)
	mux.HandleFunc("POST /tenants/{tenant}/tasks", f.createTask)
	mux.HandleFunc("POST /tenants/{tenant}/notifications", f.notify)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		f.mu.Unlock()

		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := rest.New(rest.Config{BaseURL: server.URL + "/", Token: "tok", PageSize: 2}, server.Client(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return f, client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeCRM) getEntity(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("id") != "lead-1" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":    "lead-1",
		"kind":  "lead",
		"name":  "Ana Souza",
		"stage": "qualified",
		"score": 72,
		"tags":  []string{"vip"},
	})
}

func (f *fakeCRM) listEntities(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("kind") != "lead" {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})

		return
	}

	switch r.URL.Query().Get("cursor") {
	case "":
		writeJSON(w, http.StatusOK, map[string]any{
			"items":       []map[string]any{{"id": "lead-1", "kind": "lead"}, {"id": "lead-2", "kind": "lead"}},
			"next_cursor": "page-2",
		})
	case "page-2":
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{{"id": "lead-3", "kind": "lead"}},
		})
	default:
		writeJSON(w, http.StatusBadRequest, nil)
	}
}

func (f *fakeCRM) mutate(w http.ResponseWriter, r *http.Request) {
	var m models.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, nil)

		return
	}

	f.mu.Lock()
	f.mutations = append(f.mutations, m)
	f.mu.Unlock()

	if m.Kind == models.MutationUpdateField {
		writeJSON(w, http.StatusOK, map[string]any{"event": nil})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"event": map[string]any{
		"id":          "evt-9",
		"tenant_id":   r.PathValue("tenant"),
		"kind":        "tag-applied",
		"entity_id":   r.PathValue("id"),
		"entity_kind": "lead",
		"source":      "live",
		"data":        map[string]any{"tagId": m.TagID},
	}})
}

func (f *fakeCRM) createTask(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")

	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.tasks[key]
	if !ok {
		id = "task-" + key
		f.tasks[key] = id
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (f *fakeCRM) notify(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.notifications = append(f.notifications, body)
	f.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := rest.New(rest.Config{}, nil, slog.New(slog.DiscardHandler))
	require.ErrorIs(t, err, rest.ErrBaseURL)
}

func TestClient_GetEntity(t *testing.T) {
	t.Parallel()

	crm, client := newFakeCRM(t)

	entity, err := client.GetEntity(context.Background(), "t1", "lead-1")
	require.NoError(t, err)

	assert.Equal(t, "t1", entity.TenantID)
	assert.Equal(t, models.EntityLead, entity.Kind)
	assert.Equal(t, "qualified", entity.Stage)
	require.NotNil(t, entity.Score)
	assert.InDelta(t, 72.0, *entity.Score, 0.001)
	assert.True(t, entity.HasTag("vip"))

	_, err = client.GetEntity(context.Background(), "t1", "lead-404")
	require.ErrorIs(t, err, actions.ErrEntityNotFound)
	assert.False(t, actions.IsRetryable(err))

	crm.mu.Lock()
	defer crm.mu.Unlock()

	assert.Equal(t, "Bearer tok", crm.authHeaders[0])
}

func TestClient_ListEntitiesFollowsCursor(t *testing.T) {
	t.Parallel()

	_, client := newFakeCRM(t)

	leads, err := client.ListEntities(context.Background(), "t1", models.EntityLead)
	require.NoError(t, err)

	ids := make([]string, 0, len(leads))
	for _, l := range leads {
		ids = append(ids, l.ID)
		assert.Equal(t, "t1", l.TenantID)
	}

	assert.Equal(t, []string{"lead-1", "lead-2", "lead-3"}, ids)

	clients, err := client.ListEntities(context.Background(), "t1", models.EntityClient)
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestClient_ApplyMutation(t *testing.T) {
	t.Parallel()

	crm, client := newFakeCRM(t)
	ctx := context.Background()

	event, err := client.ApplyMutation(ctx, models.Mutation{
		TenantID:   "t1",
		EntityID:   "lead-1",
		EntityKind: models.EntityLead,
		Kind:       models.MutationApplyTag,
		TagID:      "hot",
	})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, models.EventKind(models.TriggerTagApplied), event.Kind)

	tag, ok := event.Data.String(models.DataTagID)
	require.True(t, ok)
	assert.Equal(t, "hot", tag)

	event, err = client.ApplyMutation(ctx, models.Mutation{
		TenantID: "t1",
		EntityID: "lead-1",
		Kind:     models.MutationUpdateField,
		Field:    "industry",
		Value:    "retail",
	})
	require.NoError(t, err)
	assert.Nil(t, event)

	crm.mu.Lock()
	defer crm.mu.Unlock()

	require.Len(t, crm.mutations, 2)
	assert.Equal(t, "industry", crm.mutations[1].Field)
}

func TestClient_CreateTaskIsIdempotent(t *testing.T) {
	t.Parallel()

	_, client := newFakeCRM(t)
	ctx := context.Background()

	task := actions.Task{
		TenantID:       "t1",
		EntityID:       "lead-1",
		EntityKind:     models.EntityLead,
		Title:          "Call Ana",
		Assignee:       "owner-1",
		DueDate:        time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		IdempotencyKey: "exec-1:0",
	}

	first, err := client.CreateTask(ctx, task)
	require.NoError(t, err)

	second, err := client.CreateTask(ctx, task)
	require.NoError(t, err)

	assert.Equal(t, "task-exec-1:0", first)
	assert.Equal(t, first, second)
}

func TestClient_Notify(t *testing.T) {
	t.Parallel()

	crm, client := newFakeCRM(t)

	err := client.Notify(context.Background(), actions.Notification{
		TenantID: "t1",
		UserIDs:  []string{"u1", "u2"},
		Message:  "Ana went quiet",
	})
	require.NoError(t, err)

	crm.mu.Lock()
	defer crm.mu.Unlock()

	require.Len(t, crm.notifications, 1)
	assert.Equal(t, "Ana went quiet", crm.notifications[0]["message"])
	assert.Equal(t, []any{"u1", "u2"}, crm.notifications[0]["user_ids"])
}

func TestClient_ServerErrorsAreRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := rest.New(rest.Config{BaseURL: server.URL}, server.Client(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, err = client.GetEntity(context.Background(), "t1", "lead-1")
	require.Error(t, err)
	assert.True(t, actions.IsRetryable(err))
}

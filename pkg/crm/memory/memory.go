// Package memory is an in-process CRM used by tests and the dev worker. It
// implements the entity store, task, notification and message delegates.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

var ErrEntityNotFound = actions.ErrEntityNotFound

type CRM struct {
	mu       sync.RWMutex
	entities map[string]*models.Entity
	tasks    []actions.Task
	taskIDs  map[string]string
	notified []actions.Notification
	messages []actions.Message
	webhooks []actions.WebhookRequest
	now      func() time.Time
}

func New() *CRM {
	return &CRM{
		entities: map[string]*models.Entity{},
		taskIDs:  map[string]string{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for activity timestamps.
func (c *CRM) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
}

func key(tenantID, entityID string) string {
	return tenantID + "/" + entityID
}

func clone(e *models.Entity) *models.Entity {
	out := *e
	out.Tags = slices.Clone(e.Tags)
	out.Fields = maps.Clone(e.Fields)
	out.Activity = maps.Clone(e.Activity)

	return &out
}

// Put stores a copy of entity, replacing any previous version.
func (c *CRM) Put(entity *models.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entities[key(entity.TenantID, entity.ID)] = clone(entity)
}

// Delete removes the entity, as when a record is deleted in the CRM.
func (c *CRM) Delete(tenantID, entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entities, key(tenantID, entityID))
}

func (c *CRM) GetEntity(_ context.Context, tenantID, entityID string) (*models.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entities[key(tenantID, entityID)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", entityID, ErrEntityNotFound)
	}

	return clone(e), nil
}

func (c *CRM) ListEntities(_ context.Context, tenantID string, kind models.EntityKind) ([]*models.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Entity, 0)

	for _, e := range c.entities {
		if e.TenantID == tenantID && (kind == "" || e.Kind == kind) {
			out = append(out, clone(e))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// RecordActivity stamps an interaction of kind on the entity.
func (c *CRM) RecordActivity(tenantID, entityID string, kind models.ActivityKind, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entities[key(tenantID, entityID)]
	if !ok {
		return fmt.Errorf("%s: %w", entityID, ErrEntityNotFound)
	}

	touch(e, kind, at)

	return nil
}

func touch(e *models.Entity, kind models.ActivityKind, at time.Time) {
	if e.Activity == nil {
		e.Activity = map[models.ActivityKind]time.Time{}
	}

	e.Activity[kind] = at

	if e.LastActivityAt == nil || at.After(*e.LastActivityAt) {
		e.LastActivityAt = &at
	}
}

func (c *CRM) ApplyMutation(_ context.Context, mutation models.Mutation) (*models.DomainEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entities[key(mutation.TenantID, mutation.EntityID)]
	if !ok {
		return nil, actions.Permanent("crm", string(mutation.Kind), fmt.Errorf("%s: %w", mutation.EntityID, ErrEntityNotFound))
	}

	now := c.now()

	switch mutation.Kind {
	case models.MutationApplyTag:
		if e.HasTag(mutation.TagID) {
			return nil, nil
		}

		e.Tags = append(e.Tags, mutation.TagID)

		return c.event(e, models.EventKind(models.TriggerTagApplied), models.Config{models.DataTagID: mutation.TagID}, now), nil
	case models.MutationRemoveTag:
		e.Tags = slices.DeleteFunc(e.Tags, func(t string) bool { return t == mutation.TagID })

		return nil, nil
	case models.MutationMoveStage:
		if e.Stage == mutation.Stage {
			return nil, nil
		}

		from := e.Stage
		e.Stage = mutation.Stage
		touch(e, models.ActivityStageChange, now)

		return c.event(e, models.EventKind(models.TriggerStageChange),
			models.Config{models.DataFromStage: from, models.DataToStage: mutation.Stage}, now), nil
	case models.MutationUpdateField:
		return c.updateField(e, mutation.Field, mutation.Value, now)
	default:
		return nil, actions.Permanent("crm", "apply-mutation", fmt.Errorf("unknown mutation %q", mutation.Kind))
	}
}

func (c *CRM) updateField(e *models.Entity, field string, value any, now time.Time) (*models.DomainEvent, error) {
	text := fmt.Sprint(value)

	switch field {
	case "name":
		e.Name = text
	case "email":
		e.Email = text
	case "phone":
		e.Phone = text
	case "company":
		e.Company = text
	case "status":
		e.Status = text
	case "source":
		e.Source = text
	case "owner":
		e.OwnerID = text
	case "value":
		f, ok := models.ToFloat(value)
		if !ok {
			return nil, actions.Permanent("crm", "update-field", fmt.Errorf("value %q is not numeric", text))
		}

		e.Value = &f
	case "score":
		f, ok := models.ToFloat(value)
		if !ok {
			return nil, actions.Permanent("crm", "update-field", fmt.Errorf("score %q is not numeric", text))
		}

		data := models.Config{models.DataScore: f}
		if e.Score != nil {
			data[models.DataPreviousScore] = *e.Score
		}

		e.Score = &f

		return c.event(e, models.EventScoreChanged, data, now), nil
	default:
		if e.Fields == nil {
			e.Fields = map[string]any{}
		}

		e.Fields[field] = value
	}

	return nil, nil
}

func (c *CRM) event(e *models.Entity, kind models.EventKind, data models.Config, now time.Time) *models.DomainEvent {
	return &models.DomainEvent{
		ID:         uuid.NewString(),
		TenantID:   e.TenantID,
		Kind:       kind,
		EntityID:   e.ID,
		EntityKind: e.Kind,
		Source:     models.SourceLive,
		OccurredAt: now,
		Data:       data,
		Snapshot:   clone(e),
	}
}

func (c *CRM) CreateTask(_ context.Context, task actions.Task) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.taskIDs[task.IdempotencyKey]; ok && task.IdempotencyKey != "" {
		return id, nil
	}

	id := uuid.NewString()
	c.taskIDs[task.IdempotencyKey] = id
	c.tasks = append(c.tasks, task)

	if e, ok := c.entities[key(task.TenantID, task.EntityID)]; ok {
		now := c.now()
		e.LastTaskAt = &now
	}

	return id, nil
}

func (c *CRM) Notify(_ context.Context, n actions.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notified = append(c.notified, n)

	return nil
}

// Send records the message as delivered.
func (c *CRM) Send(_ context.Context, msg actions.Message) (actions.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msg)

	return actions.SendResult{ProviderMessageID: "memory-" + uuid.NewString()}, nil
}

// Call records the webhook request and answers 200.
func (c *CRM) Call(_ context.Context, req actions.WebhookRequest) (actions.WebhookResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.webhooks = append(c.webhooks, req)

	return actions.WebhookResponse{StatusCode: 200}, nil
}

func (c *CRM) Tasks() []actions.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.tasks)
}

func (c *CRM) Notifications() []actions.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.notified)
}

func (c *CRM) Messages() []actions.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.messages)
}

func (c *CRM) Webhooks() []actions.WebhookRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.webhooks)
}

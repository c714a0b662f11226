package actions

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// ErrEntityNotFound is returned by entity stores for unknown entity IDs.
var ErrEntityNotFound = errors.New("entity not found")

// EntityStore reads CRM snapshots and applies mutations. ApplyMutation returns
// the domain event the mutation produced, or nil when it produced none.
type EntityStore interface {
	GetEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error)
	ListEntities(ctx context.Context, tenantID string, kind models.EntityKind) ([]*models.Entity, error)
	ApplyMutation(ctx context.Context, mutation models.Mutation) (*models.DomainEvent, error)
}

// Message is rendered content ready for delivery.
type Message struct {
	TenantID       string
	EntityID       string
	Channel        models.Channel
	To             string
	Subject        string
	Body           string
	IdempotencyKey string
}

type SendResult struct {
	ProviderMessageID string
}

// Sender delivers messages over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

type WebhookRequest struct {
	URL            string
	Method         string
	Headers        map[string]string
	Body           string
	IdempotencyKey string
}

type WebhookResponse struct {
	StatusCode int
	Body       string
}

// WebhookCaller performs outbound HTTP calls.
type WebhookCaller interface {
	Call(ctx context.Context, req WebhookRequest) (WebhookResponse, error)
}

type Task struct {
	TenantID       string
	EntityID       string
	EntityKind     models.EntityKind
	Title          string
	Description    string
	Assignee       string
	DueDate        time.Time
	Priority       string
	IdempotencyKey string
}

// TaskCreator creates CRM tasks and returns the new task id.
type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) (string, error)
}

type Notification struct {
	TenantID       string
	UserIDs        []string
	Title          string
	Message        string
	IdempotencyKey string
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TemplateStore resolves stored message templates. A missing template must be
// reported with ErrTemplateNotFound.
type TemplateStore interface {
	GetTemplate(ctx context.Context, tenantID, templateID string) (*models.MessageTemplate, error)
}

// Enroller adds an entity to a cadence. created is false when an open
// enrollment for the pair already existed.
type Enroller interface {
	Enroll(ctx context.Context, tenantID, cadenceID string, entity *models.Entity) (enrollment *models.CadenceEnrollment, created bool, err error)
}

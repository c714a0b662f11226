package web

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// EventRequest is a CRM domain event posted by the CRM or an external
// platform. ID and OccurredAt are filled in when absent.
type EventRequest struct {
	ID         string             `json:"id,omitempty"`
	TenantID   string             `json:"tenant_id"   validate:"required"`
	Kind       models.EventKind   `json:"kind"        validate:"required"`
	EntityID   string             `json:"entity_id"   validate:"required"`
	EntityKind models.EntityKind  `json:"entity_kind" validate:"required"`
	Source     models.EventSource `json:"source,omitempty"`
	OccurredAt *time.Time         `json:"occurred_at,omitempty"`
	Data       models.Config      `json:"data,omitempty"`
}

// DomainEvent converts the request, defaulting the source to live. Requests
// cannot carry a causal chain: posted events always start a new one.
func (r EventRequest) DomainEvent(id string, now time.Time) models.DomainEvent {
	event := models.DomainEvent{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Kind:       r.Kind,
		EntityID:   r.EntityID,
		EntityKind: r.EntityKind,
		Source:     r.Source,
		OccurredAt: now,
		Data:       r.Data,
	}

	if event.ID == "" {
		event.ID = id
	}

	if event.Source == "" {
		event.Source = models.SourceLive
	}

	if r.OccurredAt != nil {
		event.OccurredAt = *r.OccurredAt
	}

	return event
}

type EventAccepted struct {
	ID string `json:"id"`
}

type EnrollRequest struct {
	EntityID string `json:"entity_id" validate:"required"`
}

type EnrollResponse struct {
	Enrollment *models.CadenceEnrollment `json:"enrollment"`
	Created    bool                      `json:"created"`
}

// ListResponse wraps every collection endpoint.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}

	return ListResponse[T]{Items: items, Count: len(items)}
}

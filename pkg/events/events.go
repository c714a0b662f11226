// Package events defines the messages carried by the automation event bus.
package events

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "crmflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound CRM activity.
	DomainEventReceivedType EventType = "crm.event.received"

	// Execution lifecycle.
	ExecutionCompletedType EventType = "execution.completed"
	ExecutionFailedType    EventType = "execution.failed"
	StepFailedType         EventType = "step.failed"

	ChainTruncatedType EventType = "chain.truncated"

	// Enrollment lifecycle.
	EnrollmentExitedType    EventType = "enrollment.exited"
	EnrollmentCompletedType EventType = "enrollment.completed"
	EnrollmentFailedType    EventType = "enrollment.failed"
)

func AllEventTypes() []EventType {
	return []EventType{
		DomainEventReceivedType,
		ExecutionCompletedType,
		ExecutionFailedType,
		StepFailedType,
		ChainTruncatedType,
		EnrollmentExitedType,
		EnrollmentCompletedType,
		EnrollmentFailedType,
	}
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

// DomainEventReceived carries CRM activity to the workers.
type DomainEventReceived struct {
	BaseEvent

	Event models.DomainEvent `json:"event"`
}

func (e DomainEventReceived) GetType() EventType {
	return DomainEventReceivedType
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID  string                 `json:"execution_id"`
	Source       models.ExecutionSource `json:"source"`
	FlowID       string                 `json:"flow_id,omitempty"`
	EnrollmentID string                 `json:"enrollment_id,omitempty"`
	EntityID     string                 `json:"entity_id"`
	Duration     time.Duration          `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedType
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string                 `json:"execution_id"`
	Source       models.ExecutionSource `json:"source"`
	FlowID       string                 `json:"flow_id,omitempty"`
	EnrollmentID string                 `json:"enrollment_id,omitempty"`
	EntityID     string                 `json:"entity_id"`
	FailedSteps  []int                  `json:"failed_steps"`
	Error        string                 `json:"error,omitempty"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedType
}

// StepFailed is published when a step exhausts its attempts or fails permanently.
type StepFailed struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	Order       int               `json:"order"`
	ActionType  models.ActionType `json:"action_type"`
	ErrorKind   models.ErrorKind  `json:"error_kind"`
	Message     string            `json:"message"`
	Attempts    int               `json:"attempts"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedType
}

type ChainTruncated struct {
	BaseEvent

	TruncationID string   `json:"truncation_id"`
	RootEventID  string   `json:"root_event_id"`
	EntityID     string   `json:"entity_id"`
	Depth        int      `json:"depth"`
	SkippedFlows []string `json:"skipped_flows"`
}

func (e ChainTruncated) GetType() EventType {
	return ChainTruncatedType
}

type EnrollmentExited struct {
	BaseEvent

	EnrollmentID string             `json:"enrollment_id"`
	ProgramKind  models.ProgramKind `json:"program_kind"`
	ProgramID    string             `json:"program_id"`
	EntityID     string             `json:"entity_id"`
	Reason       models.ExitReason  `json:"reason"`
}

func (e EnrollmentExited) GetType() EventType {
	return EnrollmentExitedType
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string             `json:"enrollment_id"`
	ProgramKind  models.ProgramKind `json:"program_kind"`
	ProgramID    string             `json:"program_id"`
	EntityID     string             `json:"entity_id"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedType
}

// EnrollmentFailed reports an enrollment closed because it could not proceed,
// e.g. its entity was deleted from the CRM.
type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string             `json:"enrollment_id"`
	ProgramKind  models.ProgramKind `json:"program_kind"`
	ProgramID    string             `json:"program_id"`
	EntityID     string             `json:"entity_id"`
	Reason       models.ExitReason  `json:"reason"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedType
}

// New returns an empty value of the concrete type behind eventType, ready to
// be unmarshaled into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case DomainEventReceivedType:
		return &DomainEventReceived{}, true
	case ExecutionCompletedType:
		return &ExecutionCompleted{}, true
	case ExecutionFailedType:
		return &ExecutionFailed{}, true
	case StepFailedType:
		return &StepFailed{}, true
	case ChainTruncatedType:
		return &ChainTruncated{}, true
	case EnrollmentExitedType:
		return &EnrollmentExited{}, true
	case EnrollmentCompletedType:
		return &EnrollmentCompleted{}, true
	case EnrollmentFailedType:
		return &EnrollmentFailed{}, true
	default:
		return nil, false
	}
}

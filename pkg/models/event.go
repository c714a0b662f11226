package models

import (
	"slices"
	"time"
)

// EventKind identifies a domain event. Trigger types double as event kinds;
// the remaining kinds feed score triggers and enrollment exit checks.
type EventKind string

const (
	EventScoreChanged     EventKind = "score-changed"
	EventReplyReceived    EventKind = "reply-received"
	EventTaskCompleted    EventKind = "task-completed"
	EventActivityRecorded EventKind = "activity-recorded"
)

func AllEventKinds() []EventKind {
	kinds := make([]EventKind, 0, len(AllTriggerTypes())+4)
	for _, t := range AllTriggerTypes() {
		if t == TriggerScoreThreshold {
			continue
		}

		kinds = append(kinds, EventKind(t))
	}

	return append(kinds, EventScoreChanged, EventReplyReceived, EventTaskCompleted, EventActivityRecorded)
}

func (k EventKind) Valid() bool {
	return slices.Contains(AllEventKinds(), k)
}

// EventSource tells live CRM activity apart from the periodic sweep and
// external platforms.
type EventSource string

const (
	SourceLive      EventSource = "live"
	SourceScheduler EventSource = "scheduler"
	SourceExternal  EventSource = "external"
)

func (s EventSource) Valid() bool {
	return s == SourceLive || s == SourceScheduler || s == SourceExternal
}

// Well-known keys of DomainEvent.Data.
const (
	DataFromStage       = "fromStage"
	DataToStage         = "toStage"
	DataTagID           = "tagId"
	DataPreviousScore   = "previousScore"
	DataScore           = "score"
	DataDaysUntilExpiry = "daysUntilExpiry"
	DataCampaignID      = "campaignId"
	DataLinkURL         = "linkUrl"
	DataFormID          = "formId"
	DataActivityKind    = "activityKind"
)

// DomainEvent is something that happened to a CRM entity.
type DomainEvent struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenant_id"   validate:"required"`
	Kind       EventKind   `json:"kind"        validate:"required,enum"`
	EntityID   string      `json:"entity_id"   validate:"required"`
	EntityKind EntityKind  `json:"entity_kind" validate:"required,enum"`
	Source     EventSource `json:"source"      validate:"required,enum"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       Config      `json:"data,omitempty"`
	Chain      CausalChain `json:"chain"`

	// Snapshot is the entity state at OccurredAt. Scheduler events always
	// carry one; live events are resolved through the entity store when absent.
	Snapshot *Entity `json:"snapshot,omitempty"`
}

// CausalChain links an event to the event that started the cascade.
type CausalChain struct {
	RootEventID string   `json:"root_event_id,omitempty"`
	Depth       int      `json:"depth"`
	Flows       []string `json:"flows,omitempty"`
}

// Root returns the chain id, falling back to the event id for origin events.
func (c CausalChain) Root(eventID string) string {
	if c.RootEventID == "" {
		return eventID
	}

	return c.RootEventID
}

// Next returns the chain inherited by events emitted while running flowID.
func (c CausalChain) Next(eventID, flowID string) CausalChain {
	flows := make([]string, 0, len(c.Flows)+1)
	flows = append(flows, c.Flows...)

	if flowID != "" {
		flows = append(flows, flowID)
	}

	return CausalChain{
		RootEventID: c.Root(eventID),
		Depth:       c.Depth + 1,
		Flows:       flows,
	}
}

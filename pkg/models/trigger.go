package models

// TriggerType is the closed set of events a flow can react to.
type TriggerType string

const (
	TriggerNewRecord          TriggerType = "new-record"
	TriggerStageChange        TriggerType = "stage-change"
	TriggerInactivityElapsed  TriggerType = "inactivity-elapsed"
	TriggerNoRecentTask       TriggerType = "no-recent-task"
	TriggerTagApplied         TriggerType = "tag-applied"
	TriggerScoreThreshold     TriggerType = "score-threshold-reached"
	TriggerContractSigned     TriggerType = "contract-signed"
	TriggerContractExpired    TriggerType = "contract-expired"
	TriggerContractExpiring   TriggerType = "contract-expiring"
	TriggerExternalEmailOpen  TriggerType = "external-email-opened"
	TriggerExternalEmailClick TriggerType = "external-email-clicked"
	TriggerExternalFormSubmit TriggerType = "external-form-submitted"
)

// AllTriggerTypes lists every supported trigger type.
func AllTriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerNewRecord,
		TriggerStageChange,
		TriggerInactivityElapsed,
		TriggerNoRecentTask,
		TriggerTagApplied,
		TriggerScoreThreshold,
		TriggerContractSigned,
		TriggerContractExpired,
		TriggerContractExpiring,
		TriggerExternalEmailOpen,
		TriggerExternalEmailClick,
		TriggerExternalFormSubmit,
	}
}

func (t TriggerType) Valid() bool {
	for _, known := range AllTriggerTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// EventKind is the domain event kind this trigger type consumes.
// Score triggers listen to score updates; every other type shares its name with the event.
func (t TriggerType) EventKind() EventKind {
	if t == TriggerScoreThreshold {
		return EventScoreChanged
	}

	return EventKind(t)
}

// ScheduledOnly reports whether the trigger is only ever evaluated by the periodic sweep.
func (t TriggerType) ScheduledOnly() bool {
	return t == TriggerInactivityElapsed || t == TriggerNoRecentTask
}

// Trigger pairs a trigger type with its type-specific parameters.
type Trigger struct {
	Type   TriggerType `json:"type"   yaml:"type"   validate:"required,enum"`
	Config Config      `json:"config" yaml:"config"`
}

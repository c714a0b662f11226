package models

import "time"

// OnActivity is what happens to an inactivity enrollment when the entity
// becomes active again.
type OnActivity string

const (
	OnActivityReset OnActivity = "reset"
	OnActivityPause OnActivity = "pause"
)

func (o OnActivity) Valid() bool {
	return o == OnActivityReset || o == OnActivityPause || o == ""
}

// InactivityRule enrolls entities that stayed inactive for TriggerAfterDays
// and walks them through Steps.
type InactivityRule struct {
	ID               string             `json:"id"                    yaml:"id"                 validate:"required"`
	TenantID         string             `json:"tenant_id"             yaml:"tenant_id"          validate:"required"`
	Name             string             `json:"name"                  yaml:"name"               validate:"required,min=3"`
	Description      string             `json:"description,omitempty" yaml:"description"`
	EntityKind       EntityKind         `json:"entity_kind"           yaml:"entity_kind"        validate:"required,enum"`
	TriggerAfterDays int                `json:"trigger_after_days"    yaml:"trigger_after_days" validate:"gte=1"`
	Criteria         InactivityCriteria `json:"criteria"              yaml:"criteria"`
	OnActivity       OnActivity         `json:"on_activity"           yaml:"on_activity"        validate:"enum"`
	PauseConditions  []Condition        `json:"pause_conditions"      yaml:"pause_conditions"   validate:"dive"`
	Steps            []CadenceStep      `json:"steps"                 yaml:"steps"              validate:"required,min=1,dive"`
	IsActive         bool               `json:"is_active"             yaml:"is_active"`
	CreatedAt        time.Time          `json:"created_at"            yaml:"-"`
	UpdatedAt        time.Time          `json:"updated_at"            yaml:"-"`
}

func (r *InactivityRule) Threshold() time.Duration {
	return time.Duration(r.TriggerAfterDays) * 24 * time.Hour
}

// InactivityCriteria selects the interaction kinds that count as activity.
type InactivityCriteria struct {
	Emails       bool `json:"emails"        yaml:"emails"`
	Messages     bool `json:"messages"      yaml:"messages"`
	Calls        bool `json:"calls"         yaml:"calls"`
	Tasks        bool `json:"tasks"         yaml:"tasks"`
	StageChanges bool `json:"stage_changes" yaml:"stage_changes"`
	Notes        bool `json:"notes"         yaml:"notes"`
}

// Kinds lists the selected activity kinds. No selection means every kind.
func (c InactivityCriteria) Kinds() []ActivityKind {
	var kinds []ActivityKind

	if c.Emails {
		kinds = append(kinds, ActivityEmail)
	}

	if c.Messages {
		kinds = append(kinds, ActivityMessage)
	}

	if c.Calls {
		kinds = append(kinds, ActivityCall)
	}

	if c.Tasks {
		kinds = append(kinds, ActivityTask)
	}

	if c.StageChanges {
		kinds = append(kinds, ActivityStageChange)
	}

	if c.Notes {
		kinds = append(kinds, ActivityNote)
	}

	if len(kinds) == 0 {
		return AllActivityKinds()
	}

	return kinds
}

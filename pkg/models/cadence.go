package models

import (
	"slices"
	"sort"
	"time"
)

// Cadence is a multi-day sequence of actions applied to enrolled entities.
type Cadence struct {
	ID                 string             `json:"id"                    yaml:"id"                  validate:"required"`
	TenantID           string             `json:"tenant_id"             yaml:"tenant_id"           validate:"required"`
	Name               string             `json:"name"                  yaml:"name"                validate:"required,min=3"`
	Description        string             `json:"description,omitempty" yaml:"description"`
	Steps              []CadenceStep      `json:"steps"                 yaml:"steps"               validate:"required,min=1,dive"`
	EnrollmentCriteria EnrollmentCriteria `json:"enrollment_criteria"   yaml:"enrollment_criteria"`
	ExitCriteria       ExitCriteria       `json:"exit_criteria"         yaml:"exit_criteria"`
	IsActive           bool               `json:"is_active"             yaml:"is_active"`
	CreatedAt          time.Time          `json:"created_at"            yaml:"-"`
	UpdatedAt          time.Time          `json:"updated_at"            yaml:"-"`
}

// CadenceStep runs Action DayOffset days after enrollment.
type CadenceStep struct {
	Order     int              `json:"order"      yaml:"order"      validate:"gte=0"`
	DayOffset int              `json:"day_offset" yaml:"day_offset" validate:"gte=0"`
	Action    AutomationAction `json:"action"     yaml:"action"`
}

func (s CadenceStep) Offset() time.Duration {
	return time.Duration(s.DayOffset) * 24 * time.Hour
}

// OrderedSteps sorts steps by order, breaking ties on day offset.
func OrderedSteps(steps []CadenceStep) []CadenceStep {
	out := make([]CadenceStep, len(steps))
	copy(out, steps)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order == out[j].Order {
			return out[i].DayOffset < out[j].DayOffset
		}

		return out[i].Order < out[j].Order
	})

	return out
}

// EnrollmentCriteria decides which entities a cadence enrolls on its own.
type EnrollmentCriteria struct {
	AutoEnroll  bool         `json:"auto_enroll"            yaml:"auto_enroll"`
	EntityKinds []EntityKind `json:"entity_kinds,omitempty" yaml:"entity_kinds" validate:"dive,enum"`
	EventKinds  []EventKind  `json:"event_kinds,omitempty"  yaml:"event_kinds"  validate:"dive,enum"`
	Conditions  []Condition  `json:"conditions,omitempty"   yaml:"conditions"   validate:"dive"`
}

// ListensTo reports whether events of kind may auto-enroll. New records are
// the default when no kinds are configured.
func (c EnrollmentCriteria) ListensTo(kind EventKind) bool {
	if len(c.EventKinds) == 0 {
		return kind == EventKind(TriggerNewRecord)
	}

	return slices.Contains(c.EventKinds, kind)
}

// AcceptsKind reports whether entities of kind may be enrolled.
func (c EnrollmentCriteria) AcceptsKind(kind EntityKind) bool {
	if !kind.Enrollable() {
		return false
	}

	return len(c.EntityKinds) == 0 || slices.Contains(c.EntityKinds, kind)
}

// ExitCriteria removes an entity from a cadence. Any criterion met is enough.
type ExitCriteria struct {
	OnReply         bool     `json:"on_reply"          yaml:"on_reply"`
	OnTaskCompleted bool     `json:"on_task_completed" yaml:"on_task_completed"`
	OnStageChange   bool     `json:"on_stage_change"   yaml:"on_stage_change"`
	TagIDs          []string `json:"tag_ids,omitempty" yaml:"tag_ids"`
	MaxDays         int      `json:"max_days"          yaml:"max_days" validate:"gte=0"`
}

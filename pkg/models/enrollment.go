package models

import "time"

// ProgramKind distinguishes cadence enrollments from implicit inactivity ones.
type ProgramKind string

const (
	ProgramCadence    ProgramKind = "cadence"
	ProgramInactivity ProgramKind = "inactivity"
)

func (p ProgramKind) Valid() bool {
	return p == ProgramCadence || p == ProgramInactivity
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
	EnrollmentFailed    EnrollmentStatus = "failed"
)

func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentActive, EnrollmentPaused, EnrollmentCompleted, EnrollmentExited, EnrollmentFailed:
		return true
	default:
		return false
	}
}

// Open reports whether the enrollment still holds the entity+program slot.
func (s EnrollmentStatus) Open() bool {
	return s == EnrollmentActive || s == EnrollmentPaused
}

// PauseReason records who paused an enrollment, which decides who may resume it.
type PauseReason string

const (
	PausedByOperator   PauseReason = "operator"
	PausedByActivity   PauseReason = "activity"
	PausedByConditions PauseReason = "conditions"
)

type ExitReason string

const (
	ExitReply         ExitReason = "reply-received"
	ExitTaskCompleted ExitReason = "task-completed"
	ExitStageChange   ExitReason = "stage-changed"
	ExitTagApplied    ExitReason = "tag-applied"
	ExitMaxDays       ExitReason = "max-days"
	ExitActivity      ExitReason = "activity"
	ExitProgramGone   ExitReason = "program-inactive"
	// ExitEntityGone closes failed enrollments whose entity the CRM no
	// longer knows.
	ExitEntityGone ExitReason = "entity-gone"
)

// CadenceEnrollment tracks one entity walking through one cadence or
// inactivity rule.
type CadenceEnrollment struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	ProgramKind       ProgramKind      `json:"program_kind"`
	ProgramID         string           `json:"program_id"`
	EntityID          string           `json:"entity_id"`
	EntityKind        EntityKind       `json:"entity_kind"`
	Status            EnrollmentStatus `json:"status"`
	CurrentStep       int              `json:"current_step"`
	NextStepAt        *time.Time       `json:"next_step_at,omitempty"`
	EnrolledAt        time.Time        `json:"enrolled_at"`
	StageAtEnrollment string           `json:"stage_at_enrollment,omitempty"`
	// ActivityAt is the last activity seen when an inactivity enrollment was
	// created or last resumed. Activity after it counts as re-engagement.
	ActivityAt   *time.Time     `json:"activity_at,omitempty"`
	PausedAt     *time.Time     `json:"paused_at,omitempty"`
	PauseReason  PauseReason    `json:"pause_reason,omitempty"`
	ExitReason   ExitReason     `json:"exit_reason,omitempty"`
	StepProgress []StepProgress `json:"step_progress"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// StepProgress mirrors the status of the execution that ran one step.
type StepProgress struct {
	Order       int        `json:"order"`
	Status      StepStatus `json:"status"`
	ExecutionID string     `json:"execution_id,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Progress returns the progress entry for order, or nil.
func (e *CadenceEnrollment) Progress(order int) *StepProgress {
	for i := range e.StepProgress {
		if e.StepProgress[i].Order == order {
			return &e.StepProgress[i]
		}
	}

	return nil
}

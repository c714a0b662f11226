package models

import "time"

// ExecutionSource records what created an execution.
type ExecutionSource string

const (
	ExecutionFromFlow       ExecutionSource = "flow"
	ExecutionFromCadence    ExecutionSource = "cadence"
	ExecutionFromInactivity ExecutionSource = "inactivity"
	ExecutionFromReplay     ExecutionSource = "replay"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

func AllExecutionStatuses() []ExecutionStatus {
	return []ExecutionStatus{
		ExecutionPending, ExecutionRunning, ExecutionCompleted,
		ExecutionFailed, ExecutionPaused, ExecutionCancelled,
	}
}

func (s ExecutionStatus) Valid() bool {
	for _, known := range AllExecutionStatuses() {
		if s == known {
			return true
		}
	}

	return false
}

// Terminal executions are never mutated again.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped || s == StepCancelled
}

// ControlRequest is an operator request applied before the next step starts.
type ControlRequest string

const (
	ControlNone   ControlRequest = ""
	ControlPause  ControlRequest = "pause"
	ControlCancel ControlRequest = "cancel"
)

// ErrorKind classifies step failures.
type ErrorKind string

const (
	ErrorConfiguration ErrorKind = "configuration"
	ErrorDelegate      ErrorKind = "delegate"
	ErrorTimeout       ErrorKind = "timeout"
	ErrorInterrupted   ErrorKind = "interrupted"
	ErrorInternal      ErrorKind = "internal"
)

// StepFailure is the persisted form of a failed step attempt.
type StepFailure struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// ExecutionStep is one action inside an execution.
type ExecutionStep struct {
	Order         int              `json:"order"`
	Action        AutomationAction `json:"action"`
	Status        StepStatus       `json:"status"`
	Result        map[string]any   `json:"result,omitempty"`
	Error         *StepFailure     `json:"error,omitempty"`
	RetryCount    int              `json:"retry_count"`
	ScheduledAt   *time.Time       `json:"scheduled_at,omitempty"`
	NextAttemptAt *time.Time       `json:"next_attempt_at,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// AutomationExecution is one firing of a flow, cadence step or replay
// against one entity.
type AutomationExecution struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Source         ExecutionSource `json:"source"`
	FlowID         string          `json:"flow_id,omitempty"`
	ProgramID      string          `json:"program_id,omitempty"`
	EnrollmentID   string          `json:"enrollment_id,omitempty"`
	EntityID       string          `json:"entity_id"`
	EntityKind     EntityKind      `json:"entity_kind"`
	EventID        string          `json:"event_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         ExecutionStatus `json:"status"`
	Steps          []ExecutionStep `json:"steps"`
	ResumeAt       *time.Time      `json:"resume_at,omitempty"`
	Control        ControlRequest  `json:"control,omitempty"`
	Chain          CausalChain     `json:"chain"`
	StopOnError    bool            `json:"stop_on_error"`
	ReplayOf       string          `json:"replay_of,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NextStep returns the index of the first non-terminal step, or -1.
func (e *AutomationExecution) NextStep() int {
	for i := range e.Steps {
		if !e.Steps[i].Status.Terminal() {
			return i
		}
	}

	return -1
}

// Step returns the step with the given order, or nil.
func (e *AutomationExecution) Step(order int) *ExecutionStep {
	for i := range e.Steps {
		if e.Steps[i].Order == order {
			return &e.Steps[i]
		}
	}

	return nil
}

// HasFailedStep reports whether any step ended permanently failed.
func (e *AutomationExecution) HasFailedStep() bool {
	for _, s := range e.Steps {
		if s.Status == StepFailed {
			return true
		}
	}

	return false
}

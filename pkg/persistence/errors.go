package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	ErrFlowNotFound           = errors.New("flow not found")
	ErrCadenceNotFound        = errors.New("cadence not found")
	ErrInactivityRuleNotFound = errors.New("inactivity rule not found")
	ErrEnrollmentNotFound     = errors.New("enrollment not found")
	ErrExecutionNotFound      = errors.New("execution not found")
	ErrTemplateNotFound       = errors.New("template not found")

	// ErrExecutionImmutable is returned when saving over a completed, failed
	// or cancelled execution.
	ErrExecutionImmutable = errors.New("execution is immutable")

	ErrInvalidID = errors.New("invalid record id")
)

// RecordError wraps storage errors with the operation and record involved.
type RecordError struct {
	Op     string // Operation being performed (e.g., "SaveFlow", "ExecutionByID")
	Record string // Record kind
	ID     string
	Err    error
}

func (e *RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Record, e.Err)
	}

	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Record, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewRecordError(op, record, id string, err error) *RecordError {
	return &RecordError{Op: op, Record: record, ID: id, Err: err}
}

// IsNotFound checks if err reports any missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrCadenceNotFound) ||
		errors.Is(err, ErrInactivityRuleNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrTemplateNotFound)
}

func IsExecutionImmutable(err error) bool {
	return errors.Is(err, ErrExecutionImmutable)
}

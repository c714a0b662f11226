package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
)

var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrRecipientMissing   = errors.New("recipient missing")
	ErrDelegateMissing    = errors.New("delegate not configured")
	ErrUnknownActionType  = errors.New("unknown action type")
	ErrInvalidActionValue = errors.New("invalid action value")
)

// DelegateError is returned by collaborator adapters to say whether a
// failure is worth retrying.
type DelegateError struct {
	Delegate  string
	Op        string
	Retryable bool
	Err       error
}

func (e *DelegateError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Delegate, e.Op, e.Err)
}

func (e *DelegateError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not retryable.
func Permanent(delegate, op string, err error) error {
	return &DelegateError{Delegate: delegate, Op: op, Retryable: false, Err: err}
}

// Transient marks err as retryable.
func Transient(delegate, op string, err error) error {
	return &DelegateError{Delegate: delegate, Op: op, Retryable: true, Err: err}
}

// StepError is the typed failure of one action execution.
type StepError struct {
	Kind      models.ErrorKind
	Message   string
	Retryable bool
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Failure converts the error to its persisted form.
func (e *StepError) Failure() *models.StepFailure {
	return &models.StepFailure{
		Kind:      e.Kind,
		Message:   e.Message,
		Retryable: e.Retryable,
	}
}

func configurationError(err error) *StepError {
	return &StepError{
		Kind:      models.ErrorConfiguration,
		Message:   err.Error(),
		Retryable: false,
		Err:       err,
	}
}

// classify maps a delegate error to a step error.
func classify(err error) *StepError {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &StepError{Kind: models.ErrorTimeout, Message: err.Error(), Retryable: true, Err: err}
	}

	var delegateErr *DelegateError
	if errors.As(err, &delegateErr) {
		return &StepError{Kind: models.ErrorDelegate, Message: err.Error(), Retryable: delegateErr.Retryable, Err: err}
	}

	if errors.Is(err, ErrRecipientMissing) || errors.Is(err, ErrDelegateMissing) || errors.Is(err, ErrInvalidActionValue) {
		return &StepError{Kind: models.ErrorDelegate, Message: err.Error(), Retryable: false, Err: err}
	}

	return &StepError{Kind: models.ErrorDelegate, Message: err.Error(), Retryable: true, Err: err}
}

// IsRetryable reports whether err is a retryable step or delegate failure.
func IsRetryable(err error) bool {
	return classify(err).Retryable
}

// IsConfigurationError checks if err is a configuration failure.
func IsConfigurationError(err error) bool {
	var stepErr *StepError

	return errors.As(err, &stepErr) && stepErr.Kind == models.ErrorConfiguration
}

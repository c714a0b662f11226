package web

import (
	"errors"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/lease"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func conflict(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusConflict, "conflict", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleEngineError maps engine and storage errors to problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsNotFound(err), errors.Is(err, actions.ErrEntityNotFound):
		return notFound(c, err.Error())

	case errors.Is(err, engine.ErrStepNotFound):
		return problem(c, fiber.StatusNotFound, "step_not_found", err.Error())

	case engine.IsDefinitionError(err):
		return problem(c, fiber.StatusUnprocessableEntity, "invalid_definition", err.Error())

	case errors.Is(err, engine.ErrInvalidEvent),
		errors.Is(err, engine.ErrEntityNotEnrollable),
		errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())

	case errors.Is(err, engine.ErrExecutionTerminal),
		errors.Is(err, engine.ErrExecutionNotTerminal),
		errors.Is(err, engine.ErrExecutionNotPaused),
		errors.Is(err, engine.ErrStepNotFailed),
		errors.Is(err, engine.ErrEnrollmentNotActive),
		errors.Is(err, engine.ErrEnrollmentNotPaused),
		errors.Is(err, engine.ErrProgramInactive),
		persistence.IsExecutionImmutable(err):
		return conflict(c, err.Error())

	case errors.Is(err, lease.ErrNotAcquired):
		c.Set(fiber.HeaderRetryAfter, "1")

		return problem(c, fiber.StatusServiceUnavailable, "busy", "record is being processed, retry shortly")

	default:
		return internalError(c, err)
	}
}

// Package web exposes the automation engine over a REST API: event intake,
// execution and enrollment control, definitions and the audit trail.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type APIHandlers struct {
	engine    *engine.Engine
	sink      EventSink
	validator *validator.Validate
	logger    *slog.Logger
}

// NewAPIHandlers serves reads and control from eng. Posted events go to sink,
// or straight to eng when sink is nil.
func NewAPIHandlers(eng *engine.Engine, sink EventSink, logger *slog.Logger) *APIHandlers {
	if sink == nil {
		sink = eng
	}

	return &APIHandlers{
		engine:    eng,
		sink:      sink,
		validator: models.NewValidator(),
		logger:    logger.With("module", "web"),
	}
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Post("/events", h.SubmitEvent)

	x := router.Group("/executions")
	x.Get("/", h.ListExecutions)
	x.Get("/:id", h.GetExecution)
	x.Get("/:id/attempts", h.ListAttempts)
	x.Post("/:id/pause", h.PauseExecution)
	x.Post("/:id/resume", h.ResumeExecution)
	x.Post("/:id/cancel", h.CancelExecution)
	x.Post("/:id/steps/:order/replay", h.ReplayStep)

	e := router.Group("/enrollments")
	e.Get("/", h.ListEnrollments)
	e.Get("/:id", h.GetEnrollment)
	e.Post("/:id/pause", h.PauseEnrollment)
	e.Post("/:id/resume", h.ResumeEnrollment)

	t := router.Group("/tenants/:tenant")
	t.Get("/truncations", h.ListTruncations)

	t.Get("/flows", h.ListFlows)
	t.Get("/flows/:id", h.GetFlow)
	t.Put("/flows/:id", h.SaveFlow)
	t.Post("/flows/:id/activate", h.ActivateFlow)
	t.Post("/flows/:id/deactivate", h.DeactivateFlow)

	t.Get("/cadences", h.ListCadences)
	t.Get("/cadences/:id", h.GetCadence)
	t.Put("/cadences/:id", h.SaveCadence)
	t.Post("/cadences/:id/activate", h.ActivateCadence)
	t.Post("/cadences/:id/deactivate", h.DeactivateCadence)
	t.Post("/cadences/:id/enrollments", h.Enroll)

	t.Get("/inactivity-rules", h.ListInactivityRules)
	t.Get("/inactivity-rules/:id", h.GetInactivityRule)
	t.Put("/inactivity-rules/:id", h.SaveInactivityRule)
	t.Post("/inactivity-rules/:id/activate", h.ActivateInactivityRule)
	t.Post("/inactivity-rules/:id/deactivate", h.DeactivateInactivityRule)

	t.Get("/templates/:id", h.GetTemplate)
	t.Put("/templates/:id", h.SaveTemplate)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "crmflow API is healthy"
	httpStatus := http.StatusOK
	check := "ok"

	if err := h.engine.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "crmflow API is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"store": check,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) SubmitEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := req.DomainEvent(uuid.NewString(), time.Now().UTC())
	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.sink.SubmitEvent(c.Context(), event); err != nil {
		h.logger.ErrorContext(c.Context(), "event submission failed", "event_id", event.ID, "error", err)

		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventAccepted{ID: event.ID})
}

func queryLimit(c fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, strconv.ErrSyntax
	}

	return limit, nil
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return badRequest(c, "limit must be a non-negative integer")
	}

	status := models.ExecutionStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		return badRequest(c, "unknown status: "+string(status))
	}

	list, err := h.engine.ListExecutions(c.Context(), persistence.ExecutionFilter{
		TenantID:     c.Query("tenant_id"),
		FlowID:       c.Query("flow_id"),
		EntityID:     c.Query("entity_id"),
		EnrollmentID: c.Query("enrollment_id"),
		Status:       status,
		Limit:        limit,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newList(list))
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.engine.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ListAttempts(c fiber.Ctx) error {
	attempts, err := h.engine.ListAttempts(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newList(attempts))
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.PauseExecution(c.Context(), c.Params("id"))
	})
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.ResumeExecution(c.Context(), c.Params("id"))
	})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.CancelExecution(c.Context(), c.Params("id"))
	})
}

func (h *APIHandlers) ReplayStep(c fiber.Ctx) error {
	order, err := strconv.Atoi(c.Params("order"))
	if err != nil || order < 0 {
		return badRequest(c, "step order must be a non-negative integer")
	}

	replay, err := h.engine.ReplayStep(c.Context(), c.Params("id"), order)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(replay)
}

func (h *APIHandlers) ListEnrollments(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return badRequest(c, "limit must be a non-negative integer")
	}

	filter := persistence.EnrollmentFilter{
		TenantID:    c.Query("tenant_id"),
		ProgramKind: models.ProgramKind(c.Query("program_kind")),
		ProgramID:   c.Query("program_id"),
		EntityID:    c.Query("entity_id"),
		Limit:       limit,
	}

	if filter.ProgramKind != "" && !filter.ProgramKind.Valid() {
		return badRequest(c, "unknown program kind: "+string(filter.ProgramKind))
	}

	if raw := c.Query("status"); raw != "" {
		status := models.EnrollmentStatus(raw)
		if !status.Valid() {
			return badRequest(c, "unknown status: "+raw)
		}

		filter.Statuses = []models.EnrollmentStatus{status}
	}

	list, err := h.engine.ListEnrollments(c.Context(), filter)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newList(list))
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	enrollment, err := h.engine.GetEnrollment(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) PauseEnrollment(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.PauseEnrollment(c.Context(), c.Params("id"))
	})
}

func (h *APIHandlers) ResumeEnrollment(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.ResumeEnrollment(c.Context(), c.Params("id"))
	})
}

func (h *APIHandlers) Enroll(c fiber.Ctx) error {
	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, created, err := h.engine.EnrollEntity(c.Context(), c.Params("tenant"), c.Params("id"), req.EntityID)
	if err != nil {
		return handleEngineError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(EnrollResponse{Enrollment: enrollment, Created: created})
}

func (h *APIHandlers) ListTruncations(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return badRequest(c, "limit must be a non-negative integer")
	}

	list, err := h.engine.ListTruncations(c.Context(), c.Params("tenant"), limit)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newList(list))
}

// respond writes the result of a control operation.
func (h *APIHandlers) respond(c fiber.Ctx, op func() (any, error)) error {
	result, err := op()
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(result)
}

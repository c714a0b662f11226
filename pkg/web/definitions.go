package web

import (
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/gofiber/fiber/v3"
)

func activeOnly(c fiber.Ctx) bool {
	return c.Query("active") == "true"
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	flows, err := h.engine.ListFlows(c.Context(), persistence.FlowFilter{
		TenantID:   c.Params("tenant"),
		ActiveOnly: activeOnly(c),
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newList(flows))
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.GetFlow(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

// SaveFlow creates or replaces the flow at the path. Tenant and ID always come
// from the path.
func (h *APIHandlers) SaveFlow(c fiber.Ctx) error {
	var flow models.AutomationFlow
	if err := c.Bind().JSON(&flow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	flow.TenantID = c.Params("tenant")
	flow.ID = c.Params("id")

	if existing, err := h.engine.GetFlow(c.Context(), flow.TenantID, flow.ID); err == nil {
		flow.CreatedAt = existing.CreatedAt
		flow.LastExecuted = existing.LastExecuted
		flow.ExecutionCount = existing.ExecutionCount
	}

	if err := h.engine.SaveFlow(c.Context(), &flow); err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ActivateFlow(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.ActivateFlow(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) DeactivateFlow(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.DeactivateFlow(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) ListCadences(c fiber.Ctx) error {
	cadences, err := h.engine.ListCadences(c.Context(), persistence.ProgramFilter{
		TenantID:   c.Params("tenant"),
		ActiveOnly: activeOnly(c),
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newList(cadences))
}

func (h *APIHandlers) GetCadence(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.GetCadence(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) SaveCadence(c fiber.Ctx) error {
	var cadence models.Cadence
	if err := c.Bind().JSON(&cadence); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	cadence.TenantID = c.Params("tenant")
	cadence.ID = c.Params("id")

	if existing, err := h.engine.GetCadence(c.Context(), cadence.TenantID, cadence.ID); err == nil {
		cadence.CreatedAt = existing.CreatedAt
	}

	if err := h.engine.SaveCadence(c.Context(), &cadence); err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(cadence)
}

func (h *APIHandlers) ActivateCadence(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.ActivateCadence(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) DeactivateCadence(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.DeactivateCadence(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) ListInactivityRules(c fiber.Ctx) error {
	rules, err := h.engine.ListInactivityRules(c.Context(), persistence.ProgramFilter{
		TenantID:   c.Params("tenant"),
		ActiveOnly: activeOnly(c),
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newList(rules))
}

func (h *APIHandlers) GetInactivityRule(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.GetInactivityRule(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) SaveInactivityRule(c fiber.Ctx) error {
	var rule models.InactivityRule
	if err := c.Bind().JSON(&rule); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	rule.TenantID = c.Params("tenant")
	rule.ID = c.Params("id")

	if existing, err := h.engine.GetInactivityRule(c.Context(), rule.TenantID, rule.ID); err == nil {
		rule.CreatedAt = existing.CreatedAt
	}

	if err := h.engine.SaveInactivityRule(c.Context(), &rule); err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) ActivateInactivityRule(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.ActivateInactivityRule(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) DeactivateInactivityRule(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.DeactivateInactivityRule(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	return h.respond(c, func() (any, error) {
		return h.engine.GetTemplate(c.Context(), c.Params("tenant"), c.Params("id"))
	})
}

func (h *APIHandlers) SaveTemplate(c fiber.Ctx) error {
	var tpl models.MessageTemplate
	if err := c.Bind().JSON(&tpl); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	tpl.TenantID = c.Params("tenant")
	tpl.ID = c.Params("id")

	if err := h.engine.SaveTemplate(c.Context(), &tpl); err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(tpl)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/template"
	"github.com/dukex/crmflow/pkg/triggers"
)

// DefinitionError lists every problem that keeps a definition from being
// saved or activated.
type DefinitionError struct {
	Kind     string
	ID       string
	Problems []error
}

func (e *DefinitionError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}

	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, strings.Join(msgs, "; "))
}

func (e *DefinitionError) Unwrap() error {
	return ErrInvalidDefinition
}

func definitionError(kind, id string, problems []error) error {
	if len(problems) == 0 {
		return nil
	}

	return &DefinitionError{Kind: kind, ID: id, Problems: problems}
}

// entityKinds lists the entity contexts a flow trigger can fire for.
func entityKinds(trigger models.Trigger) []models.EntityKind {
	if kind, ok := trigger.Config.String("entityKind"); ok && kind != "" {
		return []models.EntityKind{models.EntityKind(kind)}
	}

	switch trigger.Type {
	case models.TriggerContractSigned, models.TriggerContractExpired, models.TriggerContractExpiring:
		return []models.EntityKind{models.EntityContract}
	case models.TriggerNewRecord:
		return models.AllEntityKinds()
	default:
		return []models.EntityKind{models.EntityLead, models.EntityClient}
	}
}

func (e *Engine) checkActions(list []models.AutomationAction, kinds []models.EntityKind) []error {
	available := append(template.CatalogUnion(kinds...), e.cfg.ExtraTemplateVariables...)

	var problems []error

	for i, action := range list {
		if err := actions.Validate(action); err != nil {
			problems = append(problems, fmt.Errorf("action %d: %w", i, err))

			continue
		}

		for _, text := range actions.TemplateFields(action) {
			for _, err := range template.Validate(text, available) {
				problems = append(problems, fmt.Errorf("action %d: %w", i, err))
			}
		}
	}

	return problems
}

func (e *Engine) checkStruct(v any) []error {
	if err := e.validate.Struct(v); err != nil {
		return []error{err}
	}

	return nil
}

// CheckFlow returns the problems that keep flow from being activated.
func (e *Engine) CheckFlow(flow *models.AutomationFlow) error {
	problems := e.checkStruct(flow)

	if err := triggers.Validate(flow.Trigger); err != nil {
		problems = append(problems, err)
	}

	problems = append(problems, e.checkActions(flow.Actions, entityKinds(flow.Trigger))...)

	return definitionError("flow", flow.ID, problems)
}

func stepActions(steps []models.CadenceStep) []models.AutomationAction {
	out := make([]models.AutomationAction, 0, len(steps))
	for _, step := range models.OrderedSteps(steps) {
		out = append(out, step.Action)
	}

	return out
}

// CheckCadence returns the problems that keep cadence from being activated.
func (e *Engine) CheckCadence(cadence *models.Cadence) error {
	problems := e.checkStruct(cadence)

	kinds := cadence.EnrollmentCriteria.EntityKinds
	if len(kinds) == 0 {
		kinds = []models.EntityKind{models.EntityLead, models.EntityClient}
	}

	for _, kind := range kinds {
		if !kind.Enrollable() {
			problems = append(problems, fmt.Errorf("%s: %w", kind, ErrEntityNotEnrollable))
		}
	}

	problems = append(problems, e.checkActions(stepActions(cadence.Steps), kinds)...)

	return definitionError("cadence", cadence.ID, problems)
}

// CheckInactivityRule returns the problems that keep rule from being activated.
func (e *Engine) CheckInactivityRule(rule *models.InactivityRule) error {
	problems := e.checkStruct(rule)

	if !rule.EntityKind.Enrollable() {
		problems = append(problems, fmt.Errorf("%s: %w", rule.EntityKind, ErrEntityNotEnrollable))
	}

	problems = append(problems, e.checkActions(stepActions(rule.Steps), []models.EntityKind{rule.EntityKind})...)

	return definitionError("inactivity rule", rule.ID, problems)
}

// SaveFlow stores flow. Active flows are checked first so that an invalid
// flow is never matched.
func (e *Engine) SaveFlow(ctx context.Context, flow *models.AutomationFlow) error {
	if flow.IsActive {
		if err := e.CheckFlow(flow); err != nil {
			return err
		}
	} else if problems := e.checkStruct(flow); len(problems) > 0 {
		return definitionError("flow", flow.ID, problems)
	}

	now := e.now()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	if err := e.store.Flows().SaveFlow(ctx, flow); err != nil {
		return err
	}

	e.flows.InvalidateTenant(flow.TenantID)

	return nil
}

func (e *Engine) ActivateFlow(ctx context.Context, tenantID, id string) (*models.AutomationFlow, error) {
	return e.setFlowActive(ctx, tenantID, id, true)
}

func (e *Engine) DeactivateFlow(ctx context.Context, tenantID, id string) (*models.AutomationFlow, error) {
	return e.setFlowActive(ctx, tenantID, id, false)
}

func (e *Engine) setFlowActive(ctx context.Context, tenantID, id string, active bool) (*models.AutomationFlow, error) {
	flow, err := e.store.Flows().FlowByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	flow.IsActive = active

	if err := e.SaveFlow(ctx, flow); err != nil {
		return nil, err
	}

	return flow, nil
}

func (e *Engine) SaveCadence(ctx context.Context, cadence *models.Cadence) error {
	if cadence.IsActive {
		if err := e.CheckCadence(cadence); err != nil {
			return err
		}
	} else if problems := e.checkStruct(cadence); len(problems) > 0 {
		return definitionError("cadence", cadence.ID, problems)
	}

	now := e.now()
	if cadence.CreatedAt.IsZero() {
		cadence.CreatedAt = now
	}

	cadence.UpdatedAt = now

	if err := e.store.Cadences().SaveCadence(ctx, cadence); err != nil {
		return err
	}

	e.cadences.InvalidateTenant(cadence.TenantID)

	return nil
}

func (e *Engine) ActivateCadence(ctx context.Context, tenantID, id string) (*models.Cadence, error) {
	return e.setCadenceActive(ctx, tenantID, id, true)
}

// DeactivateCadence stops auto-enrollment. Open enrollments exit at their next
// due step.
func (e *Engine) DeactivateCadence(ctx context.Context, tenantID, id string) (*models.Cadence, error) {
	return e.setCadenceActive(ctx, tenantID, id, false)
}

func (e *Engine) setCadenceActive(ctx context.Context, tenantID, id string, active bool) (*models.Cadence, error) {
	cadence, err := e.store.Cadences().CadenceByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	cadence.IsActive = active

	if err := e.SaveCadence(ctx, cadence); err != nil {
		return nil, err
	}

	return cadence, nil
}

func (e *Engine) SaveInactivityRule(ctx context.Context, rule *models.InactivityRule) error {
	if rule.IsActive {
		if err := e.CheckInactivityRule(rule); err != nil {
			return err
		}
	} else if problems := e.checkStruct(rule); len(problems) > 0 {
		return definitionError("inactivity rule", rule.ID, problems)
	}

	now := e.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	return e.store.InactivityRules().SaveInactivityRule(ctx, rule)
}

func (e *Engine) ActivateInactivityRule(ctx context.Context, tenantID, id string) (*models.InactivityRule, error) {
	return e.setRuleActive(ctx, tenantID, id, true)
}

func (e *Engine) DeactivateInactivityRule(ctx context.Context, tenantID, id string) (*models.InactivityRule, error) {
	return e.setRuleActive(ctx, tenantID, id, false)
}

func (e *Engine) setRuleActive(ctx context.Context, tenantID, id string, active bool) (*models.InactivityRule, error) {
	rule, err := e.store.InactivityRules().InactivityRuleByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	rule.IsActive = active

	if err := e.SaveInactivityRule(ctx, rule); err != nil {
		return nil, err
	}

	return rule, nil
}

// CheckTemplate returns the problems of tpl. Tokens are checked against every
// entity context.
func (e *Engine) CheckTemplate(tpl *models.MessageTemplate) error {
	if tpl.ID == "" || tpl.TenantID == "" {
		return definitionError("template", tpl.ID, []error{errors.New("id and tenant_id are required")})
	}

	available := append(template.CatalogUnion(), e.cfg.ExtraTemplateVariables...)

	var problems []error

	for _, text := range []string{tpl.Subject, tpl.Body} {
		problems = append(problems, template.Validate(text, available)...)
	}

	return definitionError("template", tpl.ID, problems)
}

// SaveTemplate stores a message template after checking it.
func (e *Engine) SaveTemplate(ctx context.Context, tpl *models.MessageTemplate) error {
	if err := e.CheckTemplate(tpl); err != nil {
		return err
	}

	return e.store.Templates().SaveTemplate(ctx, tpl)
}

// IsDefinitionError reports whether err was caused by an invalid definition.
func IsDefinitionError(err error) bool {
	return errors.Is(err, ErrInvalidDefinition)
}

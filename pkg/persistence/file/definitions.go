package file

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// Definitions live under <collection>/<tenant>/<id>.json, so ids only need to
// be unique within a tenant.

type (
	flowDoc     = models.AutomationFlow
	cadenceDoc  = models.Cadence
	ruleDoc     = models.InactivityRule
	templateDoc = models.MessageTemplate
)

// lookup returns nil without error when the document does not exist.
func lookup[T any](c collection[T], tenantID, id string) (*T, error) {
	sub, err := c.tenant(tenantID)
	if err != nil {
		return nil, err
	}

	return sub.get(id)
}

func store[T any](c collection[T], tenantID, id string, doc *T) error {
	sub, err := c.tenant(tenantID)
	if err != nil {
		return err
	}

	return sub.put(id, doc)
}

type flowRepository struct {
	p    *Persistence
	docs collection[flowDoc]
}

func (r *flowRepository) SaveFlow(_ context.Context, flow *models.AutomationFlow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := store(r.docs, flow.TenantID, flow.ID, flow); err != nil {
		return persistence.NewRecordError("SaveFlow", "flow", flow.ID, err)
	}

	return nil
}

func (r *flowRepository) FlowByID(_ context.Context, tenantID, id string) (*models.AutomationFlow, error) {
	flow, err := lookup(r.docs, tenantID, id)
	if err != nil {
		return nil, persistence.NewRecordError("FlowByID", "flow", id, err)
	}

	if flow == nil {
		return nil, persistence.NewRecordError("FlowByID", "flow", id, persistence.ErrFlowNotFound)
	}

	return flow, nil
}

func (r *flowRepository) Flows(_ context.Context, filter persistence.FlowFilter) ([]*models.AutomationFlow, error) {
	all, err := r.docs.scoped(filter.TenantID)
	if err != nil {
		return nil, persistence.NewRecordError("Flows", "flow", "", err)
	}

	flows := make([]*models.AutomationFlow, 0, len(all))

	for _, flow := range all {
		if filter.ActiveOnly && !flow.IsActive {
			continue
		}

		if len(filter.TriggerTypes) > 0 && !slices.Contains(filter.TriggerTypes, flow.Trigger.Type) {
			continue
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		if flows[i].ID == flows[j].ID {
			return flows[i].TenantID < flows[j].TenantID
		}

		return flows[i].ID < flows[j].ID
	})

	return flows, nil
}

func (r *flowRepository) RecordFlowRun(_ context.Context, tenantID, id string, at time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	flow, err := lookup(r.docs, tenantID, id)
	if err != nil {
		return persistence.NewRecordError("RecordFlowRun", "flow", id, err)
	}

	if flow == nil {
		return persistence.NewRecordError("RecordFlowRun", "flow", id, persistence.ErrFlowNotFound)
	}

	flow.ExecutionCount++

	if flow.LastExecuted == nil || at.After(*flow.LastExecuted) {
		flow.LastExecuted = &at
	}

	if err := store(r.docs, tenantID, id, flow); err != nil {
		return persistence.NewRecordError("RecordFlowRun", "flow", id, err)
	}

	return nil
}

type cadenceRepository struct {
	p    *Persistence
	docs collection[cadenceDoc]
}

func (r *cadenceRepository) SaveCadence(_ context.Context, cadence *models.Cadence) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := store(r.docs, cadence.TenantID, cadence.ID, cadence); err != nil {
		return persistence.NewRecordError("SaveCadence", "cadence", cadence.ID, err)
	}

	return nil
}

func (r *cadenceRepository) CadenceByID(_ context.Context, tenantID, id string) (*models.Cadence, error) {
	cadence, err := lookup(r.docs, tenantID, id)
	if err != nil {
		return nil, persistence.NewRecordError("CadenceByID", "cadence", id, err)
	}

	if cadence == nil {
		return nil, persistence.NewRecordError("CadenceByID", "cadence", id, persistence.ErrCadenceNotFound)
	}

	return cadence, nil
}

func (r *cadenceRepository) Cadences(_ context.Context, filter persistence.ProgramFilter) ([]*models.Cadence, error) {
	all, err := r.docs.scoped(filter.TenantID)
	if err != nil {
		return nil, persistence.NewRecordError("Cadences", "cadence", "", err)
	}

	cadences := make([]*models.Cadence, 0, len(all))

	for _, c := range all {
		if !filter.ActiveOnly || c.IsActive {
			cadences = append(cadences, c)
		}
	}

	sort.Slice(cadences, func(i, j int) bool { return cadences[i].ID < cadences[j].ID })

	return cadences, nil
}

type inactivityRuleRepository struct {
	p    *Persistence
	docs collection[ruleDoc]
}

func (r *inactivityRuleRepository) SaveInactivityRule(_ context.Context, rule *models.InactivityRule) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := store(r.docs, rule.TenantID, rule.ID, rule); err != nil {
		return persistence.NewRecordError("SaveInactivityRule", "inactivity rule", rule.ID, err)
	}

	return nil
}

func (r *inactivityRuleRepository) InactivityRuleByID(_ context.Context, tenantID, id string) (*models.InactivityRule, error) {
	rule, err := lookup(r.docs, tenantID, id)
	if err != nil {
		return nil, persistence.NewRecordError("InactivityRuleByID", "inactivity rule", id, err)
	}

	if rule == nil {
		return nil, persistence.NewRecordError("InactivityRuleByID", "inactivity rule", id, persistence.ErrInactivityRuleNotFound)
	}

	return rule, nil
}

func (r *inactivityRuleRepository) InactivityRules(_ context.Context, filter persistence.ProgramFilter) ([]*models.InactivityRule, error) {
	all, err := r.docs.scoped(filter.TenantID)
	if err != nil {
		return nil, persistence.NewRecordError("InactivityRules", "inactivity rule", "", err)
	}

	rules := make([]*models.InactivityRule, 0, len(all))

	for _, rule := range all {
		if !filter.ActiveOnly || rule.IsActive {
			rules = append(rules, rule)
		}
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	return rules, nil
}

type templateRepository struct {
	p    *Persistence
	docs collection[templateDoc]
}

func (r *templateRepository) SaveTemplate(_ context.Context, tpl *models.MessageTemplate) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := store(r.docs, tpl.TenantID, tpl.ID, tpl); err != nil {
		return persistence.NewRecordError("SaveTemplate", "template", tpl.ID, err)
	}

	return nil
}

func (r *templateRepository) TemplateByID(_ context.Context, tenantID, id string) (*models.MessageTemplate, error) {
	tpl, err := lookup(r.docs, tenantID, id)
	if err != nil {
		return nil, persistence.NewRecordError("TemplateByID", "template", id, err)
	}

	if tpl == nil {
		return nil, persistence.NewRecordError("TemplateByID", "template", id, persistence.ErrTemplateNotFound)
	}

	return tpl, nil
}

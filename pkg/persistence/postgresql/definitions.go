package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/lib/pq"
)

// FlowRepository handles automation flow persistence.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *FlowRepository) SaveFlow(ctx context.Context, flow *models.AutomationFlow) error {
	document, err := json.Marshal(flow)
	if err != nil {
		return persistence.NewRecordError("SaveFlow", "flow", flow.ID, fmt.Errorf("failed to marshal flow: %w", err))
	}

	query := `
		INSERT INTO automation_flows (id, tenant_id, trigger_type, is_active, document, last_executed, execution_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			trigger_type = EXCLUDED.trigger_type,
			is_active = EXCLUDED.is_active,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID, flow.TenantID, string(flow.Trigger.Type), flow.IsActive, document,
		flow.LastExecuted, flow.ExecutionCount, flow.CreatedAt, flow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRecordError("SaveFlow", "flow", flow.ID, err)
	}

	return nil
}

const flowColumns = `document, last_executed, execution_count`

func scanFlow(row scanner) (*models.AutomationFlow, error) {
	var (
		raw          []byte
		lastExecuted sql.NullTime
		count        int64
	)

	if err := row.Scan(&raw, &lastExecuted, &count); err != nil {
		return nil, err
	}

	var flow models.AutomationFlow
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}

	// Counter columns are authoritative over the document copy.
	flow.ExecutionCount = count
	flow.LastExecuted = nil

	if lastExecuted.Valid {
		at := lastExecuted.Time
		flow.LastExecuted = &at
	}

	return &flow, nil
}

func (r *FlowRepository) FlowByID(ctx context.Context, tenantID, id string) (*models.AutomationFlow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+flowColumns+` FROM automation_flows WHERE id = $1 AND tenant_id = $2`, id, tenantID)

	flow, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("FlowByID", "flow", id, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("FlowByID", "flow", id, err)
	}

	return flow, nil
}

func (r *FlowRepository) Flows(ctx context.Context, filter persistence.FlowFilter) ([]*models.AutomationFlow, error) {
	var w where

	if filter.TenantID != "" {
		w.add("tenant_id = $%d", filter.TenantID)
	}

	if filter.ActiveOnly {
		w.add("is_active = $%d", true)
	}

	if len(filter.TriggerTypes) > 0 {
		types := make([]string, len(filter.TriggerTypes))
		for i, t := range filter.TriggerTypes {
			types[i] = string(t)
		}

		w.add("trigger_type = ANY($%d)", pq.Array(types))
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+flowColumns+` FROM automation_flows`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, persistence.NewRecordError("Flows", "flow", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	flows := make([]*models.AutomationFlow, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, persistence.NewRecordError("Flows", "flow", "", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRecordError("Flows", "flow", "", err)
	}

	return flows, nil
}

func (r *FlowRepository) RecordFlowRun(ctx context.Context, tenantID, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE automation_flows
		SET execution_count = execution_count + 1,
			last_executed = GREATEST(COALESCE(last_executed, $3), $3)
		WHERE id = $1 AND tenant_id = $2`, id, tenantID, at)
	if err != nil {
		return persistence.NewRecordError("RecordFlowRun", "flow", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRecordError("RecordFlowRun", "flow", id, err)
	}

	if affected == 0 {
		return persistence.NewRecordError("RecordFlowRun", "flow", id, persistence.ErrFlowNotFound)
	}

	return nil
}

// CadenceRepository handles cadence persistence.
type CadenceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *CadenceRepository) SaveCadence(ctx context.Context, cadence *models.Cadence) error {
	document, err := json.Marshal(cadence)
	if err != nil {
		return persistence.NewRecordError("SaveCadence", "cadence", cadence.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cadences (id, tenant_id, is_active, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		cadence.ID, cadence.TenantID, cadence.IsActive, document, cadence.CreatedAt, cadence.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRecordError("SaveCadence", "cadence", cadence.ID, err)
	}

	return nil
}

func (r *CadenceRepository) CadenceByID(ctx context.Context, tenantID, id string) (*models.Cadence, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM cadences WHERE id = $1 AND tenant_id = $2`, id, tenantID)

	cadence, err := scanDocument[models.Cadence](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("CadenceByID", "cadence", id, persistence.ErrCadenceNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("CadenceByID", "cadence", id, err)
	}

	return cadence, nil
}

func (r *CadenceRepository) Cadences(ctx context.Context, filter persistence.ProgramFilter) ([]*models.Cadence, error) {
	w := programWhere(filter)

	cadences, err := queryDocuments[models.Cadence](ctx, r.db, r.logger,
		`SELECT document FROM cadences`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, persistence.NewRecordError("Cadences", "cadence", "", err)
	}

	return cadences, nil
}

func programWhere(filter persistence.ProgramFilter) *where {
	w := &where{}

	if filter.TenantID != "" {
		w.add("tenant_id = $%d", filter.TenantID)
	}

	if filter.ActiveOnly {
		w.add("is_active = $%d", true)
	}

	return w
}

// InactivityRuleRepository handles inactivity rule persistence.
type InactivityRuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *InactivityRuleRepository) SaveInactivityRule(ctx context.Context, rule *models.InactivityRule) error {
	document, err := json.Marshal(rule)
	if err != nil {
		return persistence.NewRecordError("SaveInactivityRule", "inactivity rule", rule.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO inactivity_rules (id, tenant_id, entity_kind, is_active, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			entity_kind = EXCLUDED.entity_kind,
			is_active = EXCLUDED.is_active,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.TenantID, string(rule.EntityKind), rule.IsActive, document, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRecordError("SaveInactivityRule", "inactivity rule", rule.ID, err)
	}

	return nil
}

func (r *InactivityRuleRepository) InactivityRuleByID(ctx context.Context, tenantID, id string) (*models.InactivityRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM inactivity_rules WHERE id = $1 AND tenant_id = $2`, id, tenantID)

	rule, err := scanDocument[models.InactivityRule](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("InactivityRuleByID", "inactivity rule", id, persistence.ErrInactivityRuleNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("InactivityRuleByID", "inactivity rule", id, err)
	}

	return rule, nil
}

func (r *InactivityRuleRepository) InactivityRules(ctx context.Context, filter persistence.ProgramFilter) ([]*models.InactivityRule, error) {
	w := programWhere(filter)

	rules, err := queryDocuments[models.InactivityRule](ctx, r.db, r.logger,
		`SELECT document FROM inactivity_rules`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, persistence.NewRecordError("InactivityRules", "inactivity rule", "", err)
	}

	return rules, nil
}

// TemplateRepository handles message template persistence.
type TemplateRepository struct {
	db *sql.DB
}

func (r *TemplateRepository) SaveTemplate(ctx context.Context, tpl *models.MessageTemplate) error {
	document, err := json.Marshal(tpl)
	if err != nil {
		return persistence.NewRecordError("SaveTemplate", "template", tpl.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO message_templates (tenant_id, id, document) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, id) DO UPDATE SET document = EXCLUDED.document`,
		tpl.TenantID, tpl.ID, document,
	)
	if err != nil {
		return persistence.NewRecordError("SaveTemplate", "template", tpl.ID, err)
	}

	return nil
}

func (r *TemplateRepository) TemplateByID(ctx context.Context, tenantID, id string) (*models.MessageTemplate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM message_templates WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	tpl, err := scanDocument[models.MessageTemplate](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("TemplateByID", "template", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("TemplateByID", "template", id, err)
	}

	return tpl, nil
}

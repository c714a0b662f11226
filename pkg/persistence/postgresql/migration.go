package postgresql

import "github.com/dukex/crmflow/pkg/persistence/sqlbase"

func migrations() []sqlbase.Migration {
	return []sqlbase.Migration{
		{Version: 1, Name: "definitions", SQL: `
			CREATE TABLE automation_flows (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(64) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				document JSONB NOT NULL,
				last_executed TIMESTAMP WITH TIME ZONE,
				execution_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automation_flows_tenant_active ON automation_flows(tenant_id, is_active);
			CREATE INDEX idx_automation_flows_trigger_type ON automation_flows(trigger_type);

			CREATE TABLE cadences (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_cadences_tenant_active ON cadences(tenant_id, is_active);

			CREATE TABLE inactivity_rules (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				entity_kind VARCHAR(32) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_inactivity_rules_tenant_active ON inactivity_rules(tenant_id, is_active);

			CREATE TABLE message_templates (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);
		`},
		{Version: 2, Name: "runtime", SQL: `
			CREATE TABLE cadence_enrollments (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				program_kind VARCHAR(32) NOT NULL,
				program_id VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				next_step_at TIMESTAMP WITH TIME ZONE,
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- One open enrollment per program and entity.
			CREATE UNIQUE INDEX idx_cadence_enrollments_open
				ON cadence_enrollments(program_kind, program_id, entity_id)
				WHERE status IN ('active', 'paused');

			CREATE INDEX idx_cadence_enrollments_due ON cadence_enrollments(next_step_at) WHERE status = 'active';
			CREATE INDEX idx_cadence_enrollments_tenant ON cadence_enrollments(tenant_id, enrolled_at DESC);

			CREATE TABLE automation_executions (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				source VARCHAR(32) NOT NULL,
				flow_id VARCHAR(255),
				enrollment_id VARCHAR(255),
				entity_id VARCHAR(255) NOT NULL,
				idempotency_key VARCHAR(512) NOT NULL UNIQUE,
				status VARCHAR(32) NOT NULL,
				control VARCHAR(16) NOT NULL DEFAULT '',
				resume_at TIMESTAMP WITH TIME ZONE,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automation_executions_due ON automation_executions(resume_at)
				WHERE status IN ('pending', 'running');
			CREATE INDEX idx_automation_executions_tenant ON automation_executions(tenant_id, created_at DESC);
			CREATE INDEX idx_automation_executions_flow ON automation_executions(flow_id);
			CREATE INDEX idx_automation_executions_entity ON automation_executions(entity_id);

			CREATE TABLE step_attempts (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES automation_executions(id) ON DELETE CASCADE,
				tenant_id VARCHAR(255) NOT NULL,
				step_order INT NOT NULL,
				attempt INT NOT NULL,
				status VARCHAR(32) NOT NULL,
				document JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_step_attempts_execution ON step_attempts(execution_id, step_order, attempt);

			CREATE TABLE chain_truncations (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				root_event_id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_chain_truncations_tenant ON chain_truncations(tenant_id, created_at DESC);
		`},
		{Version: 3, Name: "tenant_scoped_keys", SQL: `
			ALTER TABLE automation_flows DROP CONSTRAINT automation_flows_pkey;
			ALTER TABLE automation_flows ADD PRIMARY KEY (tenant_id, id);

			ALTER TABLE cadences DROP CONSTRAINT cadences_pkey;
			ALTER TABLE cadences ADD PRIMARY KEY (tenant_id, id);

			ALTER TABLE inactivity_rules DROP CONSTRAINT inactivity_rules_pkey;
			ALTER TABLE inactivity_rules ADD PRIMARY KEY (tenant_id, id);

			DROP INDEX idx_cadence_enrollments_open;
			CREATE UNIQUE INDEX idx_cadence_enrollments_open
				ON cadence_enrollments(tenant_id, program_kind, program_id, entity_id)
				WHERE status IN ('active', 'paused');

			ALTER TABLE automation_executions DROP CONSTRAINT automation_executions_idempotency_key_key;
			ALTER TABLE automation_executions
				ADD CONSTRAINT automation_executions_idempotency_key UNIQUE (tenant_id, idempotency_key);
		`},
	}
}

package postgresql_test

import (
	"context"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPersistence(t *testing.T) (*postgresql.Persistence, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return postgresql.NewPersistenceWithDB(db, slog.New(slog.DiscardHandler)), mock
}

func TestSaveExecution_TerminalRowIsImmutable(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE automation_executions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := p.Executions().SaveExecution(context.Background(), &models.AutomationExecution{
		ID: "exec-1", Status: models.ExecutionFailed, UpdatedAt: time.Now(),
	})

	assert.ErrorIs(t, err, persistence.ErrExecutionImmutable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExecution_MissingRow(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE automation_executions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := p.Executions().SaveExecution(context.Background(), &models.AutomationExecution{ID: "exec-1"})

	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateExecution_ReturnsExistingOnConflict(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (tenant_id, idempotency_key) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id = $1 AND idempotency_key = $2")).
		WithArgs("t1", "f1:evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"document", "control"}).
			AddRow([]byte(`{"id":"exec-original","idempotency_key":"f1:evt-1","status":"running"}`), "pause"))

	stored, created, err := p.Executions().CreateExecution(context.Background(), &models.AutomationExecution{
		ID: "exec-new", TenantID: "t1", IdempotencyKey: "f1:evt-1", Status: models.ExecutionPending,
	})

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "exec-original", stored.ID)
	assert.Equal(t, models.ExecutionRunning, stored.Status)
	assert.Equal(t, models.ControlPause, stored.Control)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetControl_Terminal(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE automation_executions SET control = $2")).
		WithArgs("exec-1", "cancel").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := p.Executions().SetControl(context.Background(), "exec-1", models.ControlCancel)

	assert.ErrorIs(t, err, persistence.ErrExecutionImmutable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEnrollment_ReturnsOpenEnrollment(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec(regexp.QuoteMeta(
		"ON CONFLICT (tenant_id, program_kind, program_id, entity_id) WHERE status IN ('active', 'paused') DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM cadence_enrollments")).
		WithArgs("t1", "cadence", "c1", "lead-1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).
			AddRow([]byte(`{"id":"enr-1","program_id":"c1","entity_id":"lead-1","status":"paused"}`)))

	stored, created, err := p.Enrollments().CreateEnrollment(context.Background(), &models.CadenceEnrollment{
		ID: "enr-2", TenantID: "t1", ProgramKind: models.ProgramCadence, ProgramID: "c1", EntityID: "lead-1",
	})

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "enr-1", stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlows_BuildsFilter(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM automation_flows WHERE tenant_id = $1 AND is_active = $2 AND trigger_type = ANY($3) ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"document", "last_executed", "execution_count"}).
			AddRow([]byte(`{"id":"f1","execution_count":0}`), nil, int64(4)))

	flows, err := p.Flows().Flows(context.Background(), persistence.FlowFilter{
		TenantID:     "tenant-1",
		ActiveOnly:   true,
		TriggerTypes: []models.TriggerType{models.TriggerTagApplied},
	})

	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, int64(4), flows[0].ExecutionCount)
	assert.Nil(t, flows[0].LastExecuted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlowByID_NotFound(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM automation_flows WHERE id = $1 AND tenant_id = $2")).
		WithArgs("f1", "tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"document", "last_executed", "execution_count"}))

	_, err := p.Flows().FlowByID(context.Background(), "tenant-1", "f1")

	assert.True(t, persistence.IsNotFound(err))
}

func TestSaveDefinitions_UpsertPerTenant(t *testing.T) {
	p, mock := newMockPersistence(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (tenant_id, id) DO UPDATE SET")).
		WithArgs("welcome", "t2", "new-record", false, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (tenant_id, id) DO UPDATE SET")).
		WithArgs("onboarding", "t2", false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (tenant_id, id) DO UPDATE SET")).
		WithArgs("quiet", "t2", "lead", false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Flows().SaveFlow(ctx, &models.AutomationFlow{
		ID: "welcome", TenantID: "t2", Trigger: models.Trigger{Type: models.TriggerNewRecord}, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, p.Cadences().SaveCadence(ctx, &models.Cadence{
		ID: "onboarding", TenantID: "t2", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, p.InactivityRules().SaveInactivityRule(ctx, &models.InactivityRule{
		ID: "quiet", TenantID: "t2", EntityKind: models.EntityLead, CreatedAt: now, UpdatedAt: now,
	}))

	assert.NoError(t, mock.ExpectationsWereMet())
}

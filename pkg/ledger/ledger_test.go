package ledger_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/ledger"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	return ledger.New(file.NewPersistence(t.TempDir()), slog.New(slog.DiscardHandler))
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	now := time.Now().UTC()

	first, created, err := l.Open(ctx, &models.AutomationExecution{
		TenantID: "t1", EntityID: "lead-1", IdempotencyKey: ledger.FlowKey("evt-1", "f1"),
		Status: models.ExecutionPending, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)

	second, created, err := l.Open(ctx, &models.AutomationExecution{
		TenantID: "t1", EntityID: "lead-1", IdempotencyKey: ledger.FlowKey("evt-1", "f1"),
		Status: models.ExecutionPending, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = l.Open(ctx, &models.AutomationExecution{TenantID: "t1"})
	require.Error(t, err)
}

func TestRecordAttempt(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	now := time.Now().UTC()

	execution, _, err := l.Open(ctx, &models.AutomationExecution{
		TenantID: "t1", IdempotencyKey: "k", Status: models.ExecutionRunning, CreatedAt: now,
	})
	require.NoError(t, err)

	step := &models.ExecutionStep{
		Order:      2,
		Action:     models.AutomationAction{Type: models.ActionSendWebhook},
		Status:     models.StepFailed,
		RetryCount: 1,
		Error:      &models.StepFailure{Kind: models.ErrorDelegate, Message: "502", Retryable: true},
	}
	require.NoError(t, l.RecordAttempt(ctx, execution, step, now, now.Add(time.Second)))

	attempts, err := l.Attempts(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 2, attempts[0].Attempt)
	assert.Equal(t, models.ActionSendWebhook, attempts[0].ActionType)
	assert.Equal(t, models.ErrorDelegate, attempts[0].Error.Kind)
}

func TestRecordTruncation(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	event := models.DomainEvent{
		ID: "evt-6", TenantID: "t1", Kind: models.EventKind(models.TriggerTagApplied), EntityID: "lead-1",
		Chain: models.CausalChain{RootEventID: "evt-1", Depth: 5, Flows: []string{"a", "b", "a", "b", "a"}},
	}

	truncation, err := l.RecordTruncation(ctx, event, []string{"b"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "evt-1", truncation.RootEventID)

	all, err := l.Truncations(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"b"}, all[0].SkippedFlows)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "evt:flow", ledger.FlowKey("evt", "flow"))
	assert.Equal(t, "enr:3", ledger.EnrollmentKey("enr", 3))
	assert.Equal(t, "inactivity:f:e:0", ledger.InactivityKey("f", "e", time.Unix(0, 0)))
	assert.Equal(t, "replay:x:1:2", ledger.ReplayKey("x", 1, "2"))
}

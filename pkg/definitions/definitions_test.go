package definitions_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/crm/memory"
	"github.com/dukex/crmflow/pkg/definitions"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
tenant_id: acme
templates:
  - id: welcome
    name: Welcome
    channel: email
    subject: "Welcome, {{name}}"
    body: "We are glad to have {{company}} on board."
flows:
  - id: hot-lead
    name: Hot lead follow-up
    is_active: true
    trigger:
      type: score-threshold-reached
      config:
        scoreThreshold: 80
    conditions:
      - type: stage
        operator: equals
        value: qualified
    actions:
      - type: create-task
        order: 0
        config:
          title: "Call {{name}}"
          assignee: owner
      - type: send-email
        order: 1
        delay_minutes: 60
        config:
          templateId: welcome
cadences:
  - id: onboarding
    tenant_id: globex
    name: Onboarding
    is_active: true
    steps:
      - order: 0
        day_offset: 0
        action:
          type: create-task
          config:
            title: Intro call
            assignee: owner
    exit_criteria:
      on_reply: true
inactivity_rules:
  - id: dormant-leads
    name: Dormant leads
    entity_kind: lead
    trigger_after_days: 14
    on_activity: pause
    criteria:
      emails: true
      calls: true
    steps:
      - order: 0
        day_offset: 0
        action:
          type: notify-user
          config:
            message: "{{name}} went quiet"
            userIds: [owner-1]
`

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()

	crm := memory.New()

	eng, err := engine.New(engine.Config{}, engine.Dependencies{
		Store:     file.NewPersistence(t.TempDir()),
		Delegates: actions.Dependencies{Entities: crm, Tasks: crm, Email: crm, Notifier: crm},
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return eng
}

func TestParse(t *testing.T) {
	t.Parallel()

	f, err := definitions.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	require.Len(t, f.Templates, 1)
	require.Len(t, f.Flows, 1)
	require.Len(t, f.Cadences, 1)
	require.Len(t, f.InactivityRules, 1)

	assert.Equal(t, "acme", f.Templates[0].TenantID)
	assert.Equal(t, models.ChannelEmail, f.Templates[0].Channel)

	flow := f.Flows[0]
	assert.Equal(t, "acme", flow.TenantID)
	assert.Equal(t, models.TriggerScoreThreshold, flow.Trigger.Type)

	threshold, ok := flow.Trigger.Config.Float("scoreThreshold")
	require.True(t, ok)
	assert.InDelta(t, 80.0, threshold, 0.001)
	assert.Equal(t, 60, flow.Actions[1].DelayMinutes)

	assert.Equal(t, "globex", f.Cadences[0].TenantID, "an explicit tenant wins over the file default")
	assert.True(t, f.Cadences[0].ExitCriteria.OnReply)

	rule := f.InactivityRules[0]
	assert.Equal(t, models.OnActivityPause, rule.OnActivity)
	assert.Equal(t, []models.ActivityKind{models.ActivityEmail, models.ActivityCall}, rule.Criteria.Kinds())
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := definitions.Parse(strings.NewReader("flowz: []\n"))
	require.Error(t, err)
}

func TestParse_EmptyDocument(t *testing.T) {
	t.Parallel()

	f, err := definitions.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, f.Empty())
}

func TestLoad_DirectoryMergesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(sample), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(`
tenant_id: initech
templates:
  - id: bye
    name: Goodbye
    channel: message
    body: "See you, {{name}}"
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	f, err := definitions.Load(dir)
	require.NoError(t, err)

	require.Len(t, f.Templates, 2)
	assert.Equal(t, "welcome", f.Templates[0].ID)
	assert.Equal(t, "initech", f.Templates[1].TenantID)
	assert.Len(t, f.Flows, 1)
}

func TestLoad_MissingPath(t *testing.T) {
	t.Parallel()

	_, err := definitions.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	t.Parallel()

	eng := newEngine(t)

	f, err := definitions.Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.NoError(t, definitions.Check(eng, f))

	f.Flows[0].Actions[0].Config["title"] = "Call {{nickname}}"
	f.InactivityRules[0].TriggerAfterDays = 0

	err = definitions.Check(eng, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flows[0]")
	assert.Contains(t, err.Error(), "nickname")
	assert.Contains(t, err.Error(), "inactivity_rules[0]")
	assert.True(t, engine.IsDefinitionError(err))
}

func TestSeed(t *testing.T) {
	t.Parallel()

	eng := newEngine(t)
	ctx := context.Background()

	f, err := definitions.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	f.Cadences[0].Steps = nil

	report, err := definitions.Seed(ctx, eng, f, slog.New(slog.DiscardHandler))
	require.Error(t, err, "the cadence without steps is rejected")
	assert.Contains(t, err.Error(), "cadence onboarding")

	assert.Equal(t, definitions.Report{Templates: 1, Flows: 1, Cadences: 0, InactivityRules: 1}, report)

	flow, err := eng.GetFlow(ctx, "acme", "hot-lead")
	require.NoError(t, err)
	assert.True(t, flow.IsActive)
	assert.False(t, flow.CreatedAt.IsZero())

	tpl, err := eng.GetTemplate(ctx, "acme", "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Welcome, {{name}}", tpl.Subject)

	rule, err := eng.GetInactivityRule(ctx, "acme", "dormant-leads")
	require.NoError(t, err)
	assert.Equal(t, 14, rule.TriggerAfterDays)
}

package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Accessors(t *testing.T) {
	t.Parallel()

	var fromJSON models.Config
	require.NoError(t, json.Unmarshal([]byte(`{"days":3,"score":"72.5","ids":["a","b"],"one":"x","nil":null}`), &fromJSON))

	days, ok := fromJSON.Int("days")
	require.True(t, ok)
	assert.Equal(t, 3, days)

	score, ok := fromJSON.Float("score")
	require.True(t, ok)
	assert.InDelta(t, 72.5, score, 0.0001)

	s, ok := fromJSON.String("days")
	require.True(t, ok)
	assert.Equal(t, "3", s)

	assert.Equal(t, []string{"a", "b"}, fromJSON.Strings("ids"))
	assert.Equal(t, []string{"x"}, fromJSON.Strings("one"))
	assert.False(t, fromJSON.Has("nil"))
	assert.False(t, fromJSON.Has("missing"))

	_, ok = fromJSON.Float("ids")
	assert.False(t, ok)

	yamlStyle := models.Config{"days": 7}
	days, ok = yamlStyle.Int("days")
	require.True(t, ok)
	assert.Equal(t, 7, days)

	clone := yamlStyle.Clone()
	clone["days"] = 1
	assert.Equal(t, 7, yamlStyle["days"])
}

func TestCausalChain_Next(t *testing.T) {
	t.Parallel()

	var origin models.CausalChain
	assert.Equal(t, "evt-1", origin.Root("evt-1"))

	first := origin.Next("evt-1", "flow-a")
	assert.Equal(t, models.CausalChain{RootEventID: "evt-1", Depth: 1, Flows: []string{"flow-a"}}, first)

	second := first.Next("evt-2", "flow-b")
	assert.Equal(t, "evt-1", second.RootEventID)
	assert.Equal(t, 2, second.Depth)
	assert.Equal(t, []string{"flow-a", "flow-b"}, second.Flows)
	assert.Equal(t, []string{"flow-a"}, first.Flows, "parent chain is not aliased")
}

func TestOrderedSteps(t *testing.T) {
	t.Parallel()

	steps := []models.CadenceStep{
		{Order: 2, DayOffset: 1},
		{Order: 0, DayOffset: 5},
		{Order: 0, DayOffset: 0},
	}

	ordered := models.OrderedSteps(steps)
	assert.Equal(t, []int{0, 0, 2}, []int{ordered[0].Order, ordered[1].Order, ordered[2].Order})
	assert.Equal(t, 0, ordered[0].DayOffset)
	assert.Equal(t, 2, steps[0].Order, "input is not reordered")
	assert.Equal(t, 48*time.Hour, models.CadenceStep{DayOffset: 2}.Offset())
}

func TestEnrollmentCriteria(t *testing.T) {
	t.Parallel()

	var defaults models.EnrollmentCriteria
	assert.True(t, defaults.ListensTo(models.EventKind(models.TriggerNewRecord)))
	assert.False(t, defaults.ListensTo(models.EventKind(models.TriggerTagApplied)))
	assert.True(t, defaults.AcceptsKind(models.EntityClient))
	assert.False(t, defaults.AcceptsKind(models.EntityContract))

	leadsOnly := models.EnrollmentCriteria{
		EntityKinds: []models.EntityKind{models.EntityLead},
		EventKinds:  []models.EventKind{models.EventKind(models.TriggerTagApplied)},
	}
	assert.True(t, leadsOnly.ListensTo(models.EventKind(models.TriggerTagApplied)))
	assert.False(t, leadsOnly.ListensTo(models.EventKind(models.TriggerNewRecord)))
	assert.False(t, leadsOnly.AcceptsKind(models.EntityClient))
}

func TestEntity_LastActivity(t *testing.T) {
	t.Parallel()

	call := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	email := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	overall := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)

	entity := &models.Entity{
		LastActivityAt: &overall,
		Activity: map[models.ActivityKind]time.Time{
			models.ActivityCall:  call,
			models.ActivityEmail: email,
		},
	}

	assert.Equal(t, overall, *entity.LastActivity(nil))
	assert.Equal(t, email, *entity.LastActivity([]models.ActivityKind{models.ActivityCall, models.ActivityEmail}))
	assert.Equal(t, call, *entity.LastActivity([]models.ActivityKind{models.ActivityCall}))
	assert.Nil(t, entity.LastActivity([]models.ActivityKind{models.ActivityNote}))
}

func TestInactivityCriteria_Kinds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, models.AllActivityKinds(), models.InactivityCriteria{}.Kinds())
	assert.Equal(t,
		[]models.ActivityKind{models.ActivityEmail, models.ActivityCall},
		models.InactivityCriteria{Emails: true, Calls: true}.Kinds())

	rule := models.InactivityRule{TriggerAfterDays: 14}
	assert.Equal(t, 14*24*time.Hour, rule.Threshold())
}

func TestEntity_Variables(t *testing.T) {
	t.Parallel()

	score := 88.0
	lead := &models.Entity{
		Kind:   models.EntityLead,
		Name:   "Ana Souza",
		Stage:  "qualified",
		Score:  &score,
		Fields: map[string]any{"industry": "retail"},
	}

	vars := lead.Variables(time.Date(2026, 3, 9, 14, 5, 0, 0, time.UTC))
	assert.Equal(t, "Ana Souza", vars["name"])
	assert.Equal(t, "2026-03-09", vars["current_date"])
	assert.Equal(t, "14:05", vars["current_time"])
	assert.Equal(t, "qualified", vars["stage"])
	assert.InDelta(t, 88.0, vars["score"], 0.001)
	assert.Equal(t, "retail", vars["industry"])
}

func TestAutomationExecution_Steps(t *testing.T) {
	t.Parallel()

	execution := &models.AutomationExecution{Steps: []models.ExecutionStep{
		{Order: 0, Status: models.StepCompleted},
		{Order: 1, Status: models.StepFailed},
		{Order: 2, Status: models.StepPending},
	}}

	assert.Equal(t, 2, execution.NextStep())
	assert.True(t, execution.HasFailedStep())
	require.NotNil(t, execution.Step(1))
	assert.Nil(t, execution.Step(7))

	assert.True(t, models.ExecutionCancelled.Terminal())
	assert.False(t, models.ExecutionStatus("running").Terminal())
}

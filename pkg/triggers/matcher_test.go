package triggers

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func newMatcher() *Matcher {
	return NewMatcher(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func event(kind models.EventKind, data models.Config) models.DomainEvent {
	return models.DomainEvent{
		ID:         "evt-1",
		TenantID:   "t1",
		Kind:       kind,
		EntityID:   "lead-1",
		EntityKind: models.EntityLead,
		Source:     models.SourceLive,
		OccurredAt: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
		Data:       data,
	}
}

func TestMatches_KindMismatchShortCircuits(t *testing.T) {
	m := newMatcher()

	trigger := models.Trigger{Type: models.TriggerTagApplied, Config: models.Config{"tagId": "vip"}}

	assert.False(t, m.Matches(trigger, event(models.EventKind(models.TriggerStageChange), models.Config{"tagId": "vip"})))
	assert.True(t, m.Matches(trigger, event(models.EventKind(models.TriggerTagApplied), models.Config{"tagId": "vip"})))
	assert.False(t, m.Matches(trigger, event(models.EventKind(models.TriggerTagApplied), models.Config{"tagId": "other"})))
}

func TestMatches_StageChange(t *testing.T) {
	m := newMatcher()
	kind := models.EventKind(models.TriggerStageChange)

	toOnly := models.Trigger{Type: models.TriggerStageChange, Config: models.Config{"toStage": "won"}}
	fromTo := models.Trigger{Type: models.TriggerStageChange, Config: models.Config{"toStage": "won", "fromStage": "proposal"}}

	assert.True(t, m.Matches(toOnly, event(kind, models.Config{"fromStage": "new", "toStage": "won"})))
	assert.False(t, m.Matches(toOnly, event(kind, models.Config{"toStage": "lost"})))
	assert.True(t, m.Matches(fromTo, event(kind, models.Config{"fromStage": "proposal", "toStage": "won"})))
	assert.False(t, m.Matches(fromTo, event(kind, models.Config{"fromStage": "new", "toStage": "won"})))
	assert.False(t, m.Matches(models.Trigger{Type: models.TriggerStageChange}, event(kind, models.Config{"toStage": "won"})))
}

func TestMatches_ScoreThresholdFiresOncePerCrossing(t *testing.T) {
	m := newMatcher()
	trigger := models.Trigger{Type: models.TriggerScoreThreshold, Config: models.Config{"scoreThreshold": 50}}

	scores := []float64{40, 60, 80}
	matches := 0

	for i := 1; i < len(scores); i++ {
		e := event(models.EventScoreChanged, models.Config{
			models.DataPreviousScore: scores[i-1],
			models.DataScore:         scores[i],
		})

		if m.Matches(trigger, e) {
			matches++

			assert.Equal(t, 40.0, scores[i-1])
		}
	}

	assert.Equal(t, 1, matches)
}

func TestMatches_ScoreThresholdNeedsPreviousScore(t *testing.T) {
	m := newMatcher()
	trigger := models.Trigger{Type: models.TriggerScoreThreshold, Config: models.Config{"scoreThreshold": 50}}

	assert.False(t, m.Matches(trigger, event(models.EventScoreChanged, models.Config{models.DataScore: 70})))
	assert.True(t, m.Matches(trigger, event(models.EventScoreChanged, models.Config{models.DataPreviousScore: 49.5, models.DataScore: 50})))
}

func TestMatches_InactivityOnlyFromScheduler(t *testing.T) {
	m := newMatcher()
	trigger := models.Trigger{Type: models.TriggerInactivityElapsed, Config: models.Config{"inactivityDays": 7}}

	lastActivity := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	live := event(models.EventKind(models.TriggerInactivityElapsed), nil)
	live.Snapshot = &models.Entity{ID: "lead-1", LastActivityAt: &lastActivity}

	assert.False(t, m.Matches(trigger, live))

	swept := live
	swept.Source = models.SourceScheduler
	assert.True(t, m.Matches(trigger, swept))

	recent := lastActivity.Add(5 * day)
	swept.Snapshot = &models.Entity{ID: "lead-1", LastActivityAt: &recent}
	assert.False(t, m.Matches(trigger, swept))

	swept.Snapshot = nil
	assert.False(t, m.Matches(trigger, swept))
}

func TestMatches_NoRecentTask(t *testing.T) {
	m := newMatcher()
	trigger := models.Trigger{Type: models.TriggerNoRecentTask, Config: models.Config{"inactivityDays": 3}}

	lastTask := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	e := event(models.EventKind(models.TriggerNoRecentTask), nil)
	e.Source = models.SourceScheduler
	e.Snapshot = &models.Entity{ID: "lead-1", LastTaskAt: &lastTask}

	assert.True(t, m.Matches(trigger, e))

	e.Snapshot = &models.Entity{ID: "lead-1"}
	assert.False(t, m.Matches(trigger, e))
}

func TestReference(t *testing.T) {
	call := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	note := call.Add(day)
	task := call.Add(2 * day)
	entity := &models.Entity{
		LastActivityAt: &task,
		Activity:       map[models.ActivityKind]time.Time{models.ActivityCall: call, models.ActivityNote: note},
		LastTaskAt:     &task,
	}

	calls := models.Trigger{Type: models.TriggerInactivityElapsed, Config: models.Config{"activityKinds": []any{"call"}}}
	assert.Equal(t, call, *Reference(calls, entity))

	allKinds := models.Trigger{Type: models.TriggerInactivityElapsed}
	assert.Equal(t, task, *Reference(allKinds, entity))

	assert.Equal(t, task, *Reference(models.Trigger{Type: models.TriggerNoRecentTask}, entity))
	assert.Nil(t, Reference(models.Trigger{Type: models.TriggerTagApplied}, entity))
	assert.Nil(t, Reference(calls, nil))
}

func TestMatches_ContractExpiring(t *testing.T) {
	m := newMatcher()
	trigger := models.Trigger{Type: models.TriggerContractExpiring, Config: models.Config{"daysBeforeExpiry": 30}}
	kind := models.EventKind(models.TriggerContractExpiring)

	assert.True(t, m.Matches(trigger, event(kind, models.Config{models.DataDaysUntilExpiry: 30})))
	assert.True(t, m.Matches(trigger, event(kind, models.Config{models.DataDaysUntilExpiry: 2})))
	assert.False(t, m.Matches(trigger, event(kind, models.Config{models.DataDaysUntilExpiry: 45})))
	assert.False(t, m.Matches(trigger, event(kind, nil)))
}

func TestMatches_External(t *testing.T) {
	m := newMatcher()

	opened := models.Trigger{Type: models.TriggerExternalEmailOpen}
	assert.True(t, m.Matches(opened, event(models.EventKind(models.TriggerExternalEmailOpen), nil)))

	clicked := models.Trigger{Type: models.TriggerExternalEmailClick, Config: models.Config{"linkUrl": "https://x/promo"}}
	kind := models.EventKind(models.TriggerExternalEmailClick)
	assert.True(t, m.Matches(clicked, event(kind, models.Config{"campaignId": "c1", "linkUrl": "https://x/promo"})))
	assert.False(t, m.Matches(clicked, event(kind, models.Config{"linkUrl": "https://x/other"})))

	form := models.Trigger{Type: models.TriggerExternalFormSubmit, Config: models.Config{"formId": "f1"}}
	assert.True(t, m.Matches(form, event(models.EventKind(models.TriggerExternalFormSubmit), models.Config{"formId": "f1"})))
	assert.False(t, m.Matches(form, event(models.EventKind(models.TriggerExternalFormSubmit), models.Config{"formId": "f2"})))
}

func TestMatches_NewRecordEntityKindFilter(t *testing.T) {
	m := newMatcher()
	kind := models.EventKind(models.TriggerNewRecord)

	assert.True(t, m.Matches(models.Trigger{Type: models.TriggerNewRecord}, event(kind, nil)))
	assert.True(t, m.Matches(models.Trigger{Type: models.TriggerNewRecord, Config: models.Config{"entityKind": "lead"}}, event(kind, nil)))
	assert.False(t, m.Matches(models.Trigger{Type: models.TriggerNewRecord, Config: models.Config{"entityKind": "client"}}, event(kind, nil)))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		trigger models.Trigger
		valid   bool
	}{
		{"stage change needs toStage", models.Trigger{Type: models.TriggerStageChange}, false},
		{"stage change ok", models.Trigger{Type: models.TriggerStageChange, Config: models.Config{"toStage": "won"}}, true},
		{"tag applied needs tagId", models.Trigger{Type: models.TriggerTagApplied, Config: models.Config{"tagId": ""}}, false},
		{"score needs threshold", models.Trigger{Type: models.TriggerScoreThreshold}, false},
		{"score ok", models.Trigger{Type: models.TriggerScoreThreshold, Config: models.Config{"scoreThreshold": 50}}, true},
		{"inactivity needs at least one day", models.Trigger{Type: models.TriggerInactivityElapsed, Config: models.Config{"inactivityDays": 0}}, false},
		{"inactivity ok", models.Trigger{Type: models.TriggerInactivityElapsed, Config: models.Config{"inactivityDays": 7}}, true},
		{"no recent task needs days", models.Trigger{Type: models.TriggerNoRecentTask}, false},
		{"contract expiring needs days", models.Trigger{Type: models.TriggerContractExpiring}, false},
		{"form submitted needs formId", models.Trigger{Type: models.TriggerExternalFormSubmit}, false},
		{"contract signed has no requirement", models.Trigger{Type: models.TriggerContractSigned}, true},
		{"new record rejects unknown kind", models.Trigger{Type: models.TriggerNewRecord, Config: models.Config{"entityKind": "deal"}}, false},
		{"unknown type", models.Trigger{Type: "birthday"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.trigger)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// Package triggers decides whether a domain event fires a flow trigger.
package triggers

import (
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

const day = 24 * time.Hour

// Matcher matches domain events against flow triggers.
type Matcher struct {
	logger *slog.Logger
}

func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// Matches reports whether event satisfies trigger. Kinds are compared first
// and a mismatch returns without looking at the configuration.
func (m *Matcher) Matches(trigger models.Trigger, event models.DomainEvent) bool {
	if trigger.Type.EventKind() != event.Kind {
		return false
	}

	cfg := trigger.Config

	switch trigger.Type {
	case models.TriggerNewRecord:
		return optionalEquals(cfg, "entityKind", string(event.EntityKind))
	case models.TriggerStageChange:
		return m.matchStageChange(cfg, event)
	case models.TriggerInactivityElapsed, models.TriggerNoRecentTask:
		return m.matchElapsed(trigger, event)
	case models.TriggerTagApplied:
		return requiredEquals(cfg, event.Data, "tagId", models.DataTagID)
	case models.TriggerScoreThreshold:
		return m.matchScoreCrossing(cfg, event)
	case models.TriggerContractSigned, models.TriggerContractExpired:
		return optionalEquals(cfg, "entityKind", string(event.EntityKind))
	case models.TriggerContractExpiring:
		return m.matchContractExpiring(cfg, event)
	case models.TriggerExternalEmailOpen:
		return optionalDataEquals(cfg, event.Data, "campaignId", models.DataCampaignID)
	case models.TriggerExternalEmailClick:
		return optionalDataEquals(cfg, event.Data, "campaignId", models.DataCampaignID) &&
			optionalDataEquals(cfg, event.Data, "linkUrl", models.DataLinkURL)
	case models.TriggerExternalFormSubmit:
		return requiredEquals(cfg, event.Data, "formId", models.DataFormID)
	default:
		m.logger.Warn("unknown trigger type", "type", trigger.Type)

		return false
	}
}

func (m *Matcher) matchStageChange(cfg models.Config, event models.DomainEvent) bool {
	if !requiredEquals(cfg, event.Data, "toStage", models.DataToStage) {
		return false
	}

	return optionalDataEquals(cfg, event.Data, "fromStage", models.DataFromStage)
}

// matchElapsed only accepts sweep events: live activity can never prove
// that time has passed without activity.
func (m *Matcher) matchElapsed(trigger models.Trigger, event models.DomainEvent) bool {
	if event.Source != models.SourceScheduler {
		return false
	}

	if event.Snapshot == nil {
		m.logger.Debug("scheduler event without snapshot", "event_id", event.ID)

		return false
	}

	days, ok := trigger.Config.Float("inactivityDays")
	if !ok || days < 1 {
		return false
	}

	at := Reference(trigger, event.Snapshot)
	if at == nil {
		return false
	}

	return event.OccurredAt.Sub(*at) >= time.Duration(days*float64(day))
}

// Reference returns the timestamp an elapsed-time trigger measures from: the
// last selected activity for inactivity-elapsed and the last task for
// no-recent-task. Other trigger types have none.
func Reference(trigger models.Trigger, entity *models.Entity) *time.Time {
	if entity == nil {
		return nil
	}

	switch trigger.Type {
	case models.TriggerInactivityElapsed:
		return entity.LastActivity(activityKinds(trigger.Config))
	case models.TriggerNoRecentTask:
		return entity.LastTaskAt
	default:
		return nil
	}
}

func (m *Matcher) matchScoreCrossing(cfg models.Config, event models.DomainEvent) bool {
	threshold, ok := cfg.Float("scoreThreshold")
	if !ok {
		return false
	}

	current, ok := event.Data.Float(models.DataScore)
	if !ok {
		return false
	}

	previous, ok := event.Data.Float(models.DataPreviousScore)
	if !ok {
		m.logger.Debug("score event without previous score", "event_id", event.ID)

		return false
	}

	return previous < threshold && current >= threshold
}

func (m *Matcher) matchContractExpiring(cfg models.Config, event models.DomainEvent) bool {
	before, ok := cfg.Float("daysBeforeExpiry")
	if !ok {
		return false
	}

	remaining, ok := event.Data.Float(models.DataDaysUntilExpiry)
	if !ok {
		return false
	}

	return remaining >= 0 && remaining <= before
}

func activityKinds(cfg models.Config) []models.ActivityKind {
	raw := cfg.Strings("activityKinds")
	if len(raw) == 0 {
		return nil
	}

	kinds := make([]models.ActivityKind, 0, len(raw))
	for _, k := range raw {
		kinds = append(kinds, models.ActivityKind(k))
	}

	return kinds
}

// requiredEquals needs the config key and the event value to be equal.
func requiredEquals(cfg, data models.Config, cfgKey, dataKey string) bool {
	want, ok := cfg.String(cfgKey)
	if !ok || want == "" {
		return false
	}

	got, ok := data.String(dataKey)

	return ok && got == want
}

// optionalDataEquals passes when the config key is unset.
func optionalDataEquals(cfg, data models.Config, cfgKey, dataKey string) bool {
	want, ok := cfg.String(cfgKey)
	if !ok || want == "" {
		return true
	}

	got, ok := data.String(dataKey)

	return ok && got == want
}

func optionalEquals(cfg models.Config, cfgKey, value string) bool {
	want, ok := cfg.String(cfgKey)
	if !ok || want == "" {
		return true
	}

	return want == value
}

package triggers

import (
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/schema"
)

var (
	zero = 0.0
	one  = 1.0
)

var configSchemas = map[models.TriggerType]map[string]any{
	models.TriggerNewRecord: schema.Object(nil, map[string]any{
		"entityKind": map[string]any{"type": "string", "enum": []any{"lead", "client", "contract", "task"}},
	}),
	models.TriggerStageChange: schema.Object([]string{"toStage"}, map[string]any{
		"toStage":   schema.NonEmptyString(),
		"fromStage": map[string]any{"type": "string"},
	}),
	models.TriggerInactivityElapsed: schema.Object([]string{"inactivityDays"}, map[string]any{
		"inactivityDays": schema.Number(&one),
		"activityKinds":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	}),
	models.TriggerNoRecentTask: schema.Object([]string{"inactivityDays"}, map[string]any{
		"inactivityDays": schema.Number(&one),
	}),
	models.TriggerTagApplied: schema.Object([]string{"tagId"}, map[string]any{
		"tagId": schema.NonEmptyString(),
	}),
	models.TriggerScoreThreshold: schema.Object([]string{"scoreThreshold"}, map[string]any{
		"scoreThreshold": schema.Number(nil),
	}),
	models.TriggerContractSigned:  schema.Object(nil, map[string]any{}),
	models.TriggerContractExpired: schema.Object(nil, map[string]any{}),
	models.TriggerContractExpiring: schema.Object([]string{"daysBeforeExpiry"}, map[string]any{
		"daysBeforeExpiry": schema.Number(&zero),
	}),
	models.TriggerExternalEmailOpen: schema.Object(nil, map[string]any{
		"campaignId": map[string]any{"type": "string"},
	}),
	models.TriggerExternalEmailClick: schema.Object(nil, map[string]any{
		"campaignId": map[string]any{"type": "string"},
		"linkUrl":    map[string]any{"type": "string"},
	}),
	models.TriggerExternalFormSubmit: schema.Object([]string{"formId"}, map[string]any{
		"formId": schema.NonEmptyString(),
	}),
}

// Validate checks the required configuration of trigger. A flow whose trigger
// fails validation cannot be activated.
func Validate(trigger models.Trigger) error {
	doc, ok := configSchemas[trigger.Type]
	if !ok {
		return fmt.Errorf("trigger type %q: %w", trigger.Type, schema.ErrInvalidConfig)
	}

	return schema.Validate("trigger "+string(trigger.Type), doc, trigger.Config)
}

package actions

import (
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/schema"
)

var zero = 0.0

var configSchemas = map[models.ActionType]map[string]any{
	models.ActionCreateTask: schema.Object([]string{"title", "assignee"}, map[string]any{
		"title":             schema.NonEmptyString(),
		"assignee":          schema.NonEmptyString(),
		"description":       map[string]any{"type": "string"},
		"priority":          map[string]any{"type": "string", "enum": []any{"low", "medium", "high", "urgent"}},
		"dueDateOffsetDays": schema.Number(&zero),
	}),
	models.ActionSendEmail: withAnyOf(
		schema.Object(nil, map[string]any{
			"templateId": schema.NonEmptyString(),
			"subject":    schema.NonEmptyString(),
			"body":       schema.NonEmptyString(),
			"to":         map[string]any{"type": "string"},
		}),
		[]string{"templateId"},
		[]string{"subject", "body"},
	),
	models.ActionSendMessage: withAnyOf(
		schema.Object(nil, map[string]any{
			"templateId": schema.NonEmptyString(),
			"message":    schema.NonEmptyString(),
			"to":         map[string]any{"type": "string"},
		}),
		[]string{"templateId"},
		[]string{"message"},
	),
	models.ActionApplyTag: schema.Object([]string{"tagId"}, map[string]any{
		"tagId": schema.NonEmptyString(),
	}),
	models.ActionRemoveTag: schema.Object([]string{"tagId"}, map[string]any{
		"tagId": schema.NonEmptyString(),
	}),
	models.ActionMoveStage: schema.Object([]string{"targetStageId"}, map[string]any{
		"targetStageId": schema.NonEmptyString(),
	}),
	models.ActionSendWebhook: schema.Object([]string{"url"}, map[string]any{
		"url":     schema.NonEmptyString(),
		"method":  map[string]any{"type": "string", "enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE"}},
		"body":    map[string]any{"type": "string"},
		"headers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
	}),
	models.ActionNotifyUser: schema.Object([]string{"message", "userIds"}, map[string]any{
		"message": schema.NonEmptyString(),
		"title":   map[string]any{"type": "string"},
		"userIds": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    schema.NonEmptyString(),
		},
	}),
	models.ActionUpdateField: schema.Object([]string{"fieldName", "fieldValue"}, map[string]any{
		"fieldName": schema.NonEmptyString(),
	}),
	models.ActionAddToCadence: schema.Object([]string{"cadenceId"}, map[string]any{
		"cadenceId": schema.NonEmptyString(),
	}),
}

func withAnyOf(doc map[string]any, alternatives ...[]string) map[string]any {
	anyOf := make([]any, 0, len(alternatives))
	for _, required := range alternatives {
		anyOf = append(anyOf, map[string]any{"required": required})
	}

	doc["anyOf"] = anyOf

	return doc
}

// Validate checks the required configuration of action.
func Validate(action models.AutomationAction) error {
	doc, ok := configSchemas[action.Type]
	if !ok {
		return fmt.Errorf("action type %q: %w", action.Type, ErrUnknownActionType)
	}

	if action.DelayMinutes < 0 {
		return fmt.Errorf("action %s: negative delay: %w", action.Type, schema.ErrInvalidConfig)
	}

	return schema.Validate("action "+string(action.Type), doc, action.Config)
}

// TemplateFields returns the configured texts of action that are rendered
// with entity variables.
func TemplateFields(action models.AutomationAction) []string {
	var keys []string

	switch action.Type {
	case models.ActionCreateTask:
		keys = []string{"title", "description"}
	case models.ActionSendEmail:
		keys = []string{"subject", "body"}
	case models.ActionSendMessage:
		keys = []string{"message"}
	case models.ActionSendWebhook:
		keys = []string{"url", "body"}
	case models.ActionNotifyUser:
		keys = []string{"title", "message"}
	case models.ActionUpdateField:
		keys = []string{"fieldValue"}
	case models.ActionApplyTag, models.ActionRemoveTag, models.ActionMoveStage, models.ActionAddToCadence:
	}

	texts := make([]string, 0, len(keys))

	for _, key := range keys {
		if v, ok := action.Config[key].(string); ok && v != "" {
			texts = append(texts, v)
		}
	}

	return texts
}

package models

import "time"

// ActionType is the closed set of side effects an action can perform.
type ActionType string

const (
	ActionCreateTask   ActionType = "create-task"
	ActionSendEmail    ActionType = "send-email"
	ActionSendMessage  ActionType = "send-message"
	ActionApplyTag     ActionType = "apply-tag"
	ActionRemoveTag    ActionType = "remove-tag"
	ActionMoveStage    ActionType = "move-stage"
	ActionSendWebhook  ActionType = "send-webhook"
	ActionNotifyUser   ActionType = "notify-user"
	ActionUpdateField  ActionType = "update-field"
	ActionAddToCadence ActionType = "add-to-cadence"
)

func AllActionTypes() []ActionType {
	return []ActionType{
		ActionCreateTask, ActionSendEmail, ActionSendMessage, ActionApplyTag, ActionRemoveTag,
		ActionMoveStage, ActionSendWebhook, ActionNotifyUser, ActionUpdateField, ActionAddToCadence,
	}
}

func (t ActionType) Valid() bool {
	for _, known := range AllActionTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// AutomationAction is one step of a flow. DelayMinutes is measured from the
// completion of the previous action in the same sequence.
type AutomationAction struct {
	ID           string     `json:"id,omitempty"  yaml:"id"`
	Type         ActionType `json:"type"          yaml:"type"          validate:"required,enum"`
	Config       Config     `json:"config"        yaml:"config"`
	DelayMinutes int        `json:"delay_minutes" yaml:"delay_minutes" validate:"gte=0"`
	Order        int        `json:"order"         yaml:"order"         validate:"gte=0"`
}

func (a AutomationAction) Delay() time.Duration {
	return time.Duration(a.DelayMinutes) * time.Minute
}

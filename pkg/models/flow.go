// Package models defines the domain records of the CRM automation engine.
package models

import (
	"sort"
	"time"
)

// AutomationFlow is a tenant-scoped rule: one trigger, an ordered condition list
// and an ordered action list.
type AutomationFlow struct {
	ID          string             `json:"id"                      yaml:"id"          validate:"required"`
	TenantID    string             `json:"tenant_id"               yaml:"tenant_id"   validate:"required"`
	Name        string             `json:"name"                    yaml:"name"        validate:"required,min=3"`
	Description string             `json:"description,omitempty"   yaml:"description"`
	Trigger     Trigger            `json:"trigger"                 yaml:"trigger"`
	Conditions  []Condition        `json:"conditions"              yaml:"conditions"  validate:"dive"`
	Actions     []AutomationAction `json:"actions"                 yaml:"actions"     validate:"required,min=1,dive"`
	IsActive    bool               `json:"is_active"               yaml:"is_active"`

	// StopOnError fails the execution at the first permanently failed step and
	// skips the remaining ones. The default keeps running independent actions.
	StopOnError bool `json:"stop_on_error" yaml:"stop_on_error"`

	// Denormalized counters, bumped after each execution is created.
	LastExecuted   *time.Time `json:"last_executed,omitempty" yaml:"-"`
	ExecutionCount int64      `json:"execution_count"         yaml:"-"`

	CreatedBy string    `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt time.Time `json:"created_at"           yaml:"-"`
	UpdatedAt time.Time `json:"updated_at"           yaml:"-"`
}

// OrderedActions returns the flow actions sorted by their order field.
func (f *AutomationFlow) OrderedActions() []AutomationAction {
	actions := make([]AutomationAction, len(f.Actions))
	copy(actions, f.Actions)

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Order < actions[j].Order
	})

	return actions
}

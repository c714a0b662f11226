package models

import (
	"fmt"
	"slices"
	"time"
)

type EntityKind string

const (
	EntityLead     EntityKind = "lead"
	EntityClient   EntityKind = "client"
	EntityContract EntityKind = "contract"
	EntityTask     EntityKind = "task"
)

func AllEntityKinds() []EntityKind {
	return []EntityKind{EntityLead, EntityClient, EntityContract, EntityTask}
}

func (k EntityKind) Valid() bool {
	return slices.Contains(AllEntityKinds(), k)
}

// Enrollable reports whether the kind can be enrolled in cadences and
// inactivity rules.
func (k EntityKind) Enrollable() bool {
	return k == EntityLead || k == EntityClient
}

// ActivityKind is an interaction that counts as activity for inactivity rules.
type ActivityKind string

const (
	ActivityEmail       ActivityKind = "email"
	ActivityMessage     ActivityKind = "message"
	ActivityCall        ActivityKind = "call"
	ActivityTask        ActivityKind = "task"
	ActivityStageChange ActivityKind = "stage-change"
	ActivityNote        ActivityKind = "note"
)

func AllActivityKinds() []ActivityKind {
	return []ActivityKind{ActivityEmail, ActivityMessage, ActivityCall, ActivityTask, ActivityStageChange, ActivityNote}
}

func (k ActivityKind) Valid() bool {
	return slices.Contains(AllActivityKinds(), k)
}

// Entity is a read snapshot of a lead, client, contract or task.
type Entity struct {
	ID       string     `json:"id"`
	TenantID string     `json:"tenant_id"`
	Kind     EntityKind `json:"kind"`

	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`

	Stage   string   `json:"stage,omitempty"`
	Status  string   `json:"status,omitempty"`
	Source  string   `json:"source,omitempty"`
	OwnerID string   `json:"owner_id,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	Tags    []string `json:"tags"`

	Fields map[string]any `json:"fields,omitempty"`

	LastActivityAt      *time.Time                 `json:"last_activity_at,omitempty"`
	Activity            map[ActivityKind]time.Time `json:"activity,omitempty"`
	LastTaskAt          *time.Time                 `json:"last_task_at,omitempty"`
	LastReplyAt         *time.Time                 `json:"last_reply_at,omitempty"`
	LastTaskCompletedAt *time.Time                 `json:"last_task_completed_at,omitempty"`
}

func (e *Entity) HasTag(tagID string) bool {
	return slices.Contains(e.Tags, tagID)
}

// Lookup returns the attribute a condition of type t reads. The second return
// is false when the attribute is absent on the snapshot.
func (e *Entity) Lookup(t ConditionType, field string) (any, bool) {
	switch t {
	case ConditionStatus:
		return e.Status, e.Status != ""
	case ConditionSource:
		return e.Source, e.Source != ""
	case ConditionStage:
		return e.Stage, e.Stage != ""
	case ConditionOwner:
		return e.OwnerID, e.OwnerID != ""
	case ConditionScore:
		if e.Score == nil {
			return nil, false
		}

		return *e.Score, true
	case ConditionValue:
		if e.Value == nil {
			return nil, false
		}

		return *e.Value, true
	case ConditionTag:
		tags := e.Tags
		if tags == nil {
			tags = []string{}
		}

		return tags, true
	case ConditionCustomField:
		v, ok := e.Fields[field]
		if !ok || v == nil {
			return nil, false
		}

		return v, true
	default:
		return nil, false
	}
}

// LastActivity returns the most recent activity among kinds. With no kinds
// it falls back to the aggregate LastActivityAt.
func (e *Entity) LastActivity(kinds []ActivityKind) *time.Time {
	if len(kinds) == 0 {
		return e.LastActivityAt
	}

	var last *time.Time

	for _, kind := range kinds {
		at, ok := e.Activity[kind]
		if !ok {
			continue
		}

		if last == nil || at.After(*last) {
			at := at
			last = &at
		}
	}

	return last
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Variables returns the template variables of the snapshot at now.
func (e *Entity) Variables(now time.Time) map[string]any {
	vars := map[string]any{
		"name":         e.Name,
		"email":        e.Email,
		"phone":        e.Phone,
		"company":      e.Company,
		"current_date": now.Format(dateLayout),
		"current_time": now.Format(timeLayout),
	}

	for k, v := range e.Fields {
		vars[k] = v
	}

	switch e.Kind {
	case EntityLead:
		vars["status"] = e.Status
		vars["source"] = e.Source
		vars["stage"] = e.Stage
		vars["owner"] = e.OwnerID

		if e.Score != nil {
			vars["score"] = *e.Score
		}
	case EntityClient:
		vars["status"] = e.Status
		vars["stage"] = e.Stage
		vars["owner"] = e.OwnerID
	case EntityContract:
		vars["status"] = e.Status

		if e.Value != nil {
			vars["value"] = fmt.Sprintf("%.2f", *e.Value)
		}
	case EntityTask:
		vars["status"] = e.Status
		vars["assignee"] = e.OwnerID

		if e.Name != "" {
			vars["title"] = e.Name
		}
	}

	return vars
}

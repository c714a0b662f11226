package models

type MutationKind string

const (
	MutationApplyTag    MutationKind = "apply-tag"
	MutationRemoveTag   MutationKind = "remove-tag"
	MutationMoveStage   MutationKind = "move-stage"
	MutationUpdateField MutationKind = "update-field"
)

// Mutation is a change request sent to the entity store.
type Mutation struct {
	TenantID   string       `json:"tenant_id"`
	EntityID   string       `json:"entity_id"`
	EntityKind EntityKind   `json:"entity_kind"`
	Kind       MutationKind `json:"kind"`
	TagID      string       `json:"tag_id,omitempty"`
	Stage      string       `json:"stage,omitempty"`
	Field      string       `json:"field,omitempty"`
	Value      any          `json:"value,omitempty"`
}

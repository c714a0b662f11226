package models

import "time"

// StepAttempt is the ledger row written for every attempt of a step.
type StepAttempt struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	ExecutionID string         `json:"execution_id"`
	Order       int            `json:"order"`
	Attempt     int            `json:"attempt"`
	ActionType  ActionType     `json:"action_type"`
	Status      StepStatus     `json:"status"`
	Error       *StepFailure   `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// ChainTruncation records flows that were not fired because the causal chain
// reached the depth cap.
type ChainTruncation struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	RootEventID  string    `json:"root_event_id"`
	EventID      string    `json:"event_id"`
	EventKind    EventKind `json:"event_kind"`
	EntityID     string    `json:"entity_id"`
	Depth        int       `json:"depth"`
	ChainFlows   []string  `json:"chain_flows"`
	SkippedFlows []string  `json:"skipped_flows"`
	CreatedAt    time.Time `json:"created_at"`
}

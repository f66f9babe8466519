package model

import "time"

// IdemStatus is the lifecycle state of an idempotency record.
type IdemStatus string

const (
	IdemInProgress IdemStatus = "in_progress"
	IdemSucceeded  IdemStatus = "succeeded"
	IdemFailed     IdemStatus = "failed"
)

// IdempotencyRecord tracks at-most-once execution of a real run, unique on
// (AgentID, Key). It is inserted as in_progress and transitions exactly once
// to succeeded or failed; it is never re-inserted for the same key.
type IdempotencyRecord struct {
	AgentID      string     `json:"agentId"`
	Key          string     `json:"idempotencyKey"`
	Status       IdemStatus `json:"status"`
	RequestHash  string     `json:"requestHash,omitempty"`
	ResponseJSON []byte     `json:"responseJson,omitempty"`
	ErrorJSON    []byte     `json:"errorJson,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// RunUsageRecord is one row per executed real run, read only in aggregate.
type RunUsageRecord struct {
	AgentID string    `json:"agentId"`
	RunAt   time.Time `json:"runAt"`
}

// Plan names a tenant's billing plan as far as the run engine cares.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

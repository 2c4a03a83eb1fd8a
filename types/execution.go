package types

import "time"

// ExecutionStatus is the lifecycle status of one spawned agent.
type ExecutionStatus string

const (
	ExecutionSpawned   ExecutionStatus = "spawned"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
)

// IsTerminal reports whether the status is a final state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionTimedOut:
		return true
	default:
		return false
	}
}

// AgentExecution tracks the lifecycle of one spawned agent.
//
// Invariant: CompletedAt is non-nil if and only if Status is terminal, and
// SpawnedAt never exceeds CompletedAt. The record is mutated only by the
// completion path of the owning registry.
type AgentExecution struct {
	AgentID     string          `json:"agent_id"`
	SpecID      string          `json:"spec_id"`
	Stage       Stage           `json:"stage"`
	Role        string          `json:"role"`
	RunID       string          `json:"run_id"`
	SpawnedAt   time.Time       `json:"spawned_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Payload     *AgentPayload   `json:"payload,omitempty"`
	FailReason  string          `json:"fail_reason,omitempty"`
}

// Complete transitions the execution to a terminal status at the given time.
// It returns false when the execution is already terminal.
func (e *AgentExecution) Complete(status ExecutionStatus, at time.Time) bool {
	if e.Status.IsTerminal() {
		return false
	}
	if at.Before(e.SpawnedAt) {
		at = e.SpawnedAt
	}
	e.Status = status
	e.CompletedAt = &at
	return true
}

// Validate checks the record's internal invariants.
func (e *AgentExecution) Validate() error {
	if e.AgentID == "" || e.SpecID == "" || e.Role == "" || e.RunID == "" {
		return NewError(ErrInvalidInput, "agent execution missing identifier fields")
	}
	if e.Status.IsTerminal() != (e.CompletedAt != nil) {
		return NewError(ErrInvalidInput, "completion timestamp must be set exactly for terminal statuses")
	}
	if e.CompletedAt != nil && e.CompletedAt.Before(e.SpawnedAt) {
		return NewError(ErrInvalidInput, "completed before spawned")
	}
	return nil
}

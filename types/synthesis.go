package types

import "time"

// SynthesisStatus is the overall outcome of merging one stage's payloads.
type SynthesisStatus string

const (
	SynthesisPass     SynthesisStatus = "pass"
	SynthesisFail     SynthesisStatus = "fail"
	SynthesisDegraded SynthesisStatus = "degraded"
)

// SynthesisRecord is the merged decision for one stage-advance attempt.
//
// Records are append-only: a retry writes a new record for a new run, it
// never updates an existing one. AgentCount counts the artifacts actually
// merged, not the roster size; Degraded is true when that count fell short
// of the expected roster.
type SynthesisRecord struct {
	SpecID     string          `json:"spec_id"`
	Stage      Stage           `json:"stage"`
	RunID      string          `json:"run_id"`
	Status     SynthesisStatus `json:"status"`
	AgentCount int             `json:"agent_count"`
	Degraded   bool            `json:"degraded"`
	Agreements []string        `json:"agreements,omitempty"`
	Conflicts  []string        `json:"conflicts,omitempty"`
	Missing    []string        `json:"missing_agents,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`

	// Persisted reports whether the record reached the result store. It is
	// runtime state, never serialized: a synthesis that failed to persist
	// must block stage advancement.
	Persisted bool `json:"-"`
}

// Validate checks the record's internal invariants.
func (r *SynthesisRecord) Validate() error {
	if r.SpecID == "" || r.RunID == "" || !r.Stage.Valid() {
		return NewError(ErrInvalidInput, "synthesis record missing key fields")
	}
	switch r.Status {
	case SynthesisPass, SynthesisFail, SynthesisDegraded:
	default:
		return NewError(ErrInvalidInput, "synthesis record has unknown status")
	}
	if r.AgentCount < 0 {
		return NewError(ErrInvalidInput, "synthesis record has negative agent count")
	}
	return nil
}

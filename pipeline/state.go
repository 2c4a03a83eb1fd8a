package pipeline

import (
	"time"

	"github.com/specflow/specflow/types"
)

// StageState is the coordinator's position in one stage-advance attempt.
type StageState string

const (
	StateIdle           StageState = "idle"
	StateSpawning       StageState = "spawning"
	StateAwaitingAgents StageState = "awaiting_agents"
	StateSynthesizing   StageState = "synthesizing"
	StateAdvanced       StageState = "advanced"
	StateBlocked        StageState = "blocked"
)

// Terminal reports whether the state ends a stage-advance attempt.
func (s StageState) Terminal() bool {
	return s == StateAdvanced || s == StateBlocked
}

// legalTransitions is the coordinator's state machine. A new attempt may
// start from any terminal state.
var legalTransitions = map[StageState][]StageState{
	StateIdle:           {StateSpawning},
	StateSpawning:       {StateAwaitingAgents, StateBlocked},
	StateAwaitingAgents: {StateSynthesizing, StateBlocked},
	StateSynthesizing:   {StateAdvanced, StateBlocked},
	StateAdvanced:       {StateSpawning},
	StateBlocked:        {StateSpawning},
}

func canTransition(from, to StageState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BlockReason explains why a stage attempt ended blocked.
type BlockReason string

const (
	BlockNone        BlockReason = ""
	BlockFailVerdict BlockReason = "fail_verdict"
	BlockDegraded    BlockReason = "degraded_consensus"
	BlockPersistence BlockReason = "synthesis_not_persisted"
	BlockNoPayloads  BlockReason = "no_payloads"
)

// StageOutcome is the terminal result of one stage-advance attempt.
type StageOutcome struct {
	SpecID     string                 `json:"spec_id"`
	Stage      types.Stage            `json:"stage"`
	RunID      string                 `json:"run_id"`
	State      StageState             `json:"state"`
	Reason     BlockReason            `json:"reason,omitempty"`
	NextStage  types.Stage            `json:"next_stage,omitempty"`
	Synthesis  *types.SynthesisRecord `json:"synthesis,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Advanced reports whether the attempt unlocked the next stage.
func (o *StageOutcome) Advanced() bool {
	return o.State == StateAdvanced
}

// StageStatus is a point-in-time view of a spec's pipeline position.
type StageStatus struct {
	SpecID  string         `json:"spec_id"`
	Stage   types.Stage    `json:"stage"`
	State   StageState     `json:"state"`
	RunID   string         `json:"run_id,omitempty"`
	Pending []string       `json:"pending_roles,omitempty"`
	History []StageOutcome `json:"history,omitempty"`
}

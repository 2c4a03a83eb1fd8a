package pipeline

import (
	"context"

	"github.com/specflow/specflow/types"
)

// SpawnRequest asks the sandbox to start one agent for a stage run.
type SpawnRequest struct {
	AgentID string
	SpecID  string
	Stage   types.Stage
	Role    string
	RunID   string
}

// Sandbox starts agents. Spawn returns once the agent is launched; the
// sandbox delivers the result later through the CompletionSink it is bound
// to. A Spawn error means the agent never started.
type Sandbox interface {
	Spawn(ctx context.Context, req SpawnRequest) error
}

// CompletionSink receives agent results from the sandbox. The coordinator
// implements it; completions for runs that are no longer current are
// rejected with a STALE_RUN error and must be discarded by the caller.
type CompletionSink interface {
	// OnAgentComplete delivers an agent's raw response.
	OnAgentComplete(ctx context.Context, specID, agentID string, raw []byte) error

	// OnAgentFailed reports that a launched agent died without a response.
	OnAgentFailed(ctx context.Context, specID, agentID, reason string) error
}

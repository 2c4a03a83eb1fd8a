// Package registry holds the in-memory execution state for one active stage
// run. It is the primary source of agent payloads while the run is live; the
// durable result store only mirrors it for crash recovery and post-run reads.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/store"
	"github.com/specflow/specflow/types"
)

// entry wraps one tracked execution with its own lock so completions for
// different agents never contend.
type entry struct {
	mu   sync.Mutex
	exec *types.AgentExecution
}

// Registry tracks agent executions for a single (spec, stage, run).
//
// Result capture is exactly-once: the first terminal signal for an agent
// wins, every later one is rejected with a DUPLICATE_COMPLETION error. Each
// capture is mirrored to the result store synchronously before the call
// returns; a mirror failure is logged and counted but does not void the
// in-memory capture.
type Registry struct {
	specID string
	stage  types.Stage
	runID  string

	store   store.ResultStore
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.RWMutex
	agents map[string]*entry
	order  []string
}

// New creates a registry for one stage run. The store may be nil, in which
// case captures are held in memory only.
func New(specID string, stage types.Stage, runID string, st store.ResultStore, logger *zap.Logger, m *metrics.Collector) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		specID: specID,
		stage:  stage,
		runID:  runID,
		store:  st,
		logger: logger.With(
			zap.String("component", "registry"),
			zap.String("spec_id", specID),
			zap.String("stage", stage.String()),
			zap.String("run_id", runID),
		),
		metrics: m,
		agents:  make(map[string]*entry),
	}
}

// RunID returns the run this registry tracks.
func (r *Registry) RunID() string { return r.runID }

// Register tracks a newly spawned agent. The execution's identifiers must
// match the registry's run.
func (r *Registry) Register(ctx context.Context, exec *types.AgentExecution) error {
	if err := exec.Validate(); err != nil {
		return err
	}
	if exec.SpecID != r.specID || exec.Stage != r.stage || exec.RunID != r.runID {
		return types.NewError(types.ErrInvalidInput, "execution does not belong to this run").
			WithSpec(r.specID).WithStage(r.stage)
	}

	r.mu.Lock()
	if _, ok := r.agents[exec.AgentID]; ok {
		r.mu.Unlock()
		return types.NewError(types.ErrInvalidInput, "agent already registered").
			WithSpec(r.specID).WithStage(r.stage)
	}
	tracked := cloneExec(exec)
	r.agents[exec.AgentID] = &entry{exec: tracked}
	r.order = append(r.order, exec.AgentID)
	r.mu.Unlock()

	r.mirrorExecution(ctx, tracked)
	r.logger.Debug("agent registered",
		zap.String("agent_id", exec.AgentID),
		zap.String("role", exec.Role))
	return nil
}

// MarkComplete captures an agent's payload. The first call for an agent wins;
// subsequent calls return a DUPLICATE_COMPLETION error and change nothing.
func (r *Registry) MarkComplete(ctx context.Context, agentID string, payload *types.AgentPayload) error {
	return r.finish(ctx, agentID, types.ExecutionCompleted, payload, "")
}

// MarkFailed records an agent failure with a reason.
func (r *Registry) MarkFailed(ctx context.Context, agentID string, payload *types.AgentPayload, reason string) error {
	return r.finish(ctx, agentID, types.ExecutionFailed, payload, reason)
}

// MarkTimedOut records that an agent exceeded the stage deadline.
func (r *Registry) MarkTimedOut(ctx context.Context, agentID string) error {
	return r.finish(ctx, agentID, types.ExecutionTimedOut, nil, "stage deadline exceeded")
}

func (r *Registry) finish(ctx context.Context, agentID string, status types.ExecutionStatus, payload *types.AgentPayload, reason string) error {
	r.mu.RLock()
	e, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return types.NewError(types.ErrStaleRun, "completion signal for unknown agent, likely a stale run").
			WithSpec(r.specID).WithStage(r.stage)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.exec.Complete(status, time.Now()) {
		if r.metrics != nil {
			r.metrics.RecordDuplicateCompletion(e.exec.Role)
		}
		r.logger.Warn("duplicate completion discarded",
			zap.String("agent_id", agentID),
			zap.String("role", e.exec.Role),
			zap.String("existing_status", string(e.exec.Status)))
		return types.NewError(types.ErrDuplicateCompletion, "agent already reached a terminal status").
			WithSpec(r.specID).WithStage(r.stage)
	}
	e.exec.Payload = payload.Clone()
	e.exec.FailReason = reason

	if r.metrics != nil {
		r.metrics.RecordExecution(e.exec.Role, string(status), e.exec.CompletedAt.Sub(e.exec.SpawnedAt))
	}

	// Mirror writes are awaited so the durable copy exists before anyone
	// can observe the capture. The in-memory record stands even if they
	// fail; the registry is the primary during an active run.
	r.mirrorExecution(ctx, e.exec)
	if payload != nil {
		r.mirrorArtifact(ctx, e.exec)
	}

	r.logger.Info("agent execution captured",
		zap.String("agent_id", agentID),
		zap.String("role", e.exec.Role),
		zap.String("status", string(status)))
	return nil
}

func (r *Registry) mirrorExecution(ctx context.Context, exec *types.AgentExecution) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveExecution(ctx, cloneExec(exec)); err != nil {
		if r.metrics != nil {
			r.metrics.RecordStoreWriteFailure("save_execution")
		}
		r.logger.Error("execution mirror write failed",
			zap.String("agent_id", exec.AgentID), zap.Error(err))
	}
}

func (r *Registry) mirrorArtifact(ctx context.Context, exec *types.AgentExecution) {
	if r.store == nil {
		return
	}
	artifact := &types.StageArtifact{
		SpecID:    exec.SpecID,
		Stage:     exec.Stage,
		Role:      exec.Role,
		RunID:     exec.RunID,
		Content:   exec.Payload.Clone(),
		CreatedAt: time.Now(),
	}
	if err := r.store.UpsertArtifact(ctx, artifact); err != nil {
		if r.metrics != nil {
			r.metrics.RecordStoreWriteFailure("upsert_artifact")
		}
		r.logger.Error("artifact mirror write failed",
			zap.String("agent_id", exec.AgentID),
			zap.String("role", exec.Role), zap.Error(err))
	}
}

// Get returns a copy of one tracked execution.
func (r *Registry) Get(agentID string) (*types.AgentExecution, bool) {
	r.mu.RLock()
	e, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneExec(e.exec), true
}

// Snapshot returns copies of all tracked executions in registration order.
func (r *Registry) Snapshot() []*types.AgentExecution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.AgentExecution, 0, len(r.order))
	for _, id := range r.order {
		e := r.agents[id]
		e.mu.Lock()
		out = append(out, cloneExec(e.exec))
		e.mu.Unlock()
	}
	return out
}

// Payloads returns the captured payloads keyed by role. Only terminal
// executions that produced a payload are included.
func (r *Registry) Payloads() map[string]*types.AgentPayload {
	out := make(map[string]*types.AgentPayload)
	for _, exec := range r.Snapshot() {
		if exec.Status.IsTerminal() && exec.Payload != nil {
			out[exec.Role] = exec.Payload
		}
	}
	return out
}

// Pending returns the roles that have not reached a terminal status.
func (r *Registry) Pending() []string {
	var pending []string
	for _, exec := range r.Snapshot() {
		if !exec.Status.IsTerminal() {
			pending = append(pending, exec.Role)
		}
	}
	return pending
}

// Settled reports whether every tracked execution is terminal.
func (r *Registry) Settled() bool {
	return len(r.Pending()) == 0
}

func cloneExec(e *types.AgentExecution) *types.AgentExecution {
	out := *e
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		out.CompletedAt = &at
	}
	out.Payload = e.Payload.Clone()
	return &out
}

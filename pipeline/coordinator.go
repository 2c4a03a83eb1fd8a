// Package pipeline drives a spec through its stages. The coordinator spawns
// the stage's agent roster, waits for their results, synthesizes consensus,
// and either advances the spec or blocks it behind the quality gate.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/specflow/specflow/collector"
	"github.com/specflow/specflow/config"
	"github.com/specflow/specflow/consensus"
	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/registry"
	"github.com/specflow/specflow/store"
	"github.com/specflow/specflow/types"
)

// specState tracks one spec's position in the pipeline. A spec runs at most
// one stage attempt at a time; inFlight enforces that.
type specState struct {
	mu       sync.Mutex
	inFlight bool
	stage    types.Stage
	state    StageState
	runID    string
	registry *registry.Registry
	history  []StageOutcome
}

// Coordinator owns the stage state machine for every spec it has seen.
type Coordinator struct {
	cfg     config.PipelineConfig
	sandbox Sandbox
	st      store.ResultStore
	synth   *consensus.Synthesizer
	logger  *zap.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	specs map[string]*specState
}

var _ CompletionSink = (*Coordinator)(nil)

// New creates a coordinator. The store may be nil for purely in-memory use;
// the sandbox must not be.
func New(cfg config.PipelineConfig, sandbox Sandbox, st store.ResultStore, logger *zap.Logger, m *metrics.Collector) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		sandbox: sandbox,
		st:      st,
		synth:   consensus.New(st, logger, m),
		logger:  logger.With(zap.String("component", "coordinator")),
		metrics: m,
		specs:   make(map[string]*specState),
	}
}

// RequestStageByName runs a stage named by its command form; both "validate"
// and "spec-validate" are accepted.
func (c *Coordinator) RequestStageByName(ctx context.Context, specID, name string) (*StageOutcome, error) {
	stage, ok := types.ParseStage(name)
	if !ok {
		return nil, types.NewError(types.ErrUnknownStage, fmt.Sprintf("unknown stage %q", name)).WithSpec(specID)
	}
	return c.RequestStage(ctx, specID, stage)
}

// RequestStage runs one stage-advance attempt for a spec and blocks until it
// reaches a terminal state. Attempts for the same spec are serialized; a
// concurrent request fails fast with a STAGE_IN_FLIGHT error.
func (c *Coordinator) RequestStage(ctx context.Context, specID string, stage types.Stage) (*StageOutcome, error) {
	if specID == "" {
		return nil, types.NewError(types.ErrInvalidInput, "spec id is required")
	}
	if !stage.Valid() {
		return nil, types.NewError(types.ErrUnknownStage, fmt.Sprintf("unknown stage %q", stage)).WithSpec(specID)
	}
	roster := c.cfg.RolesFor(stage)
	if len(roster) == 0 {
		return nil, types.NewError(types.ErrUnknownStage, "stage has no agent roster").
			WithSpec(specID).WithStage(stage)
	}

	ss := c.spec(specID)

	ss.mu.Lock()
	if ss.inFlight {
		ss.mu.Unlock()
		return nil, types.NewError(types.ErrStageInFlight, "a stage attempt is already running for this spec").
			WithSpec(specID).WithStage(stage)
	}
	runID := uuid.NewString()
	reg := registry.New(specID, stage, runID, c.st, c.logger, c.metrics)
	ss.inFlight = true
	ss.stage = stage
	ss.runID = runID
	ss.registry = reg
	ss.mu.Unlock()

	outcome, err := c.runStage(ctx, ss, specID, stage, runID, roster, reg)

	ss.mu.Lock()
	ss.inFlight = false
	if outcome != nil {
		ss.history = append(ss.history, *outcome)
	} else {
		// The attempt aborted mid-flight; reset so the next request can
		// start cleanly.
		ss.state = StateIdle
	}
	ss.mu.Unlock()

	return outcome, err
}

// RetryStage reruns the spec's last blocked stage under a fresh run ID.
func (c *Coordinator) RetryStage(ctx context.Context, specID string) (*StageOutcome, error) {
	ss := c.spec(specID)
	ss.mu.Lock()
	if len(ss.history) == 0 {
		ss.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidTransition, "no stage attempt to retry").WithSpec(specID)
	}
	last := ss.history[len(ss.history)-1]
	ss.mu.Unlock()

	if last.State != StateBlocked {
		return nil, types.NewError(types.ErrInvalidTransition, "last stage attempt did not block").
			WithSpec(specID).WithStage(last.Stage)
	}
	return c.RequestStage(ctx, specID, last.Stage)
}

// runStage executes one attempt end to end. The caller holds the in-flight
// slot; everything here may run concurrently with completion callbacks.
func (c *Coordinator) runStage(ctx context.Context, ss *specState, specID string, stage types.Stage, runID string, roster []string, reg *registry.Registry) (*StageOutcome, error) {
	started := time.Now()
	log := c.logger.With(
		zap.String("spec_id", specID),
		zap.String("stage", stage.String()),
		zap.String("run_id", runID))

	outcome := &StageOutcome{
		SpecID:    specID,
		Stage:     stage,
		RunID:     runID,
		StartedAt: started,
	}
	finish := func(state StageState, reason BlockReason) *StageOutcome {
		c.transition(ss, stage, state)
		outcome.State = state
		outcome.Reason = reason
		outcome.FinishedAt = time.Now()
		if c.metrics != nil {
			c.metrics.RecordStageDuration(stage.String(), string(state), outcome.FinishedAt.Sub(started))
		}
		return outcome
	}

	if err := c.transition(ss, stage, StateSpawning); err != nil {
		return nil, err
	}
	if err := c.spawnRoster(ctx, specID, stage, runID, roster, reg, log); err != nil {
		return nil, err
	}

	if err := c.transition(ss, stage, StateAwaitingAgents); err != nil {
		return nil, err
	}
	if err := c.awaitAgents(ctx, reg); err != nil {
		return nil, err
	}

	if err := c.transition(ss, stage, StateSynthesizing); err != nil {
		return nil, err
	}
	col := collector.New(
		collector.NewRegistryLookup(reg),
		collector.NewStoreScan(c.st),
		collector.Options{Wait: c.cfg.CollectWait, Poll: c.cfg.CollectPoll},
		c.logger, c.metrics)
	collected, err := col.Collect(ctx, specID, stage, runID, roster)
	if err != nil {
		return nil, err
	}

	rec, synthErr := c.synth.Synthesize(ctx, specID, stage, runID, roster, collected.Payloads)
	outcome.Synthesis = rec
	if synthErr != nil {
		// An unpersisted synthesis can never advance the stage, no
		// matter what it says.
		log.Error("stage blocked, synthesis could not be persisted", zap.Error(synthErr))
		return finish(StateBlocked, BlockPersistence), nil
	}

	switch {
	case rec.AgentCount == 0:
		log.Error("stage blocked, no agent produced a payload")
		return finish(StateBlocked, BlockNoPayloads), nil
	case rec.Status == types.SynthesisFail:
		log.Warn("stage blocked by fail verdict", zap.Strings("conflicts", rec.Conflicts))
		return finish(StateBlocked, BlockFailVerdict), nil
	case rec.Degraded && c.cfg.BlockOnDegraded:
		log.Warn("stage blocked, degraded consensus", zap.Strings("missing", rec.Missing))
		return finish(StateBlocked, BlockDegraded), nil
	}

	if rec.Degraded {
		log.Warn("advancing on degraded consensus", zap.Strings("missing", rec.Missing))
	}
	if next, ok := stage.Next(); ok {
		outcome.NextStage = next
	}
	log.Info("stage advanced",
		zap.String("status", string(rec.Status)),
		zap.Int("agent_count", rec.AgentCount),
		zap.String("next_stage", outcome.NextStage.String()))
	return finish(StateAdvanced, BlockNone), nil
}

// spawnRoster launches every roster role. A spawn failure never aborts the
// run; the agent is recorded as failed with a synthetic fail payload so the
// gate sees the failure instead of a silent gap.
func (c *Coordinator) spawnRoster(ctx context.Context, specID string, stage types.Stage, runID string, roster []string, reg *registry.Registry, log *zap.Logger) error {
	// Plain group: the agents outlive the fan-out, so they must not
	// inherit a context that dies when Wait returns.
	var g errgroup.Group
	for _, role := range roster {
		agentID := uuid.NewString()
		exec := &types.AgentExecution{
			AgentID:   agentID,
			SpecID:    specID,
			Stage:     stage,
			Role:      role,
			RunID:     runID,
			SpawnedAt: time.Now(),
			Status:    types.ExecutionSpawned,
		}
		if err := reg.Register(ctx, exec); err != nil {
			return err
		}

		g.Go(func() error {
			req := SpawnRequest{AgentID: agentID, SpecID: specID, Stage: stage, Role: role, RunID: runID}
			if err := c.sandbox.Spawn(ctx, req); err != nil {
				log.Error("agent spawn failed", zap.String("role", role), zap.Error(err))
				payload := &types.AgentPayload{
					Agent:     role,
					Stage:     stage.String(),
					Verdict:   types.VerdictFail,
					Rationale: fmt.Sprintf("agent spawn failed: %v", err),
				}
				return reg.MarkFailed(ctx, agentID, payload, err.Error())
			}
			return nil
		})
	}
	return g.Wait()
}

// awaitAgents waits until every registered agent is terminal or the stage
// timeout passes, then times out whatever is still pending. A late result
// for a timed-out agent is rejected as a duplicate completion.
func (c *Coordinator) awaitAgents(ctx context.Context, reg *registry.Registry) error {
	deadline := time.Now().Add(c.cfg.StageTimeout)
	poll := c.cfg.CollectPoll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	for !reg.Settled() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}

	for _, exec := range reg.Snapshot() {
		if !exec.Status.IsTerminal() {
			if err := reg.MarkTimedOut(ctx, exec.AgentID); err != nil &&
				types.GetErrorCode(err) != types.ErrDuplicateCompletion {
				return err
			}
		}
	}
	return nil
}

// OnAgentComplete delivers one agent's raw response. Responses for agents
// the current run does not know, including every agent of a superseded run,
// are rejected with a STALE_RUN error.
func (c *Coordinator) OnAgentComplete(ctx context.Context, specID, agentID string, raw []byte) error {
	reg, err := c.currentRegistry(specID)
	if err != nil {
		return err
	}
	exec, ok := reg.Get(agentID)
	if !ok {
		c.logger.Warn("discarding completion from a stale run",
			zap.String("spec_id", specID), zap.String("agent_id", agentID))
		return types.NewError(types.ErrStaleRun, "completion signal for unknown agent, likely a stale run").
			WithSpec(specID)
	}
	payload := types.ParseAgentPayload(exec.Role, exec.Stage, raw)
	return reg.MarkComplete(ctx, agentID, payload)
}

// OnAgentFailed reports that a launched agent died without producing output.
func (c *Coordinator) OnAgentFailed(ctx context.Context, specID, agentID, reason string) error {
	reg, err := c.currentRegistry(specID)
	if err != nil {
		return err
	}
	exec, ok := reg.Get(agentID)
	if !ok {
		return types.NewError(types.ErrStaleRun, "failure signal for unknown agent, likely a stale run").
			WithSpec(specID)
	}
	payload := &types.AgentPayload{
		Agent:     exec.Role,
		Stage:     exec.Stage.String(),
		Verdict:   types.VerdictFail,
		Rationale: fmt.Sprintf("agent failed: %s", reason),
	}
	return reg.MarkFailed(ctx, agentID, payload, reason)
}

// GetStageStatus returns the spec's current pipeline position.
func (c *Coordinator) GetStageStatus(specID string) (*StageStatus, error) {
	c.mu.Lock()
	ss, ok := c.specs[specID]
	c.mu.Unlock()
	if !ok {
		return nil, types.NewError(types.ErrUnknownSpec, "spec has no pipeline state").WithSpec(specID)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	status := &StageStatus{
		SpecID:  specID,
		Stage:   ss.stage,
		State:   ss.state,
		RunID:   ss.runID,
		History: append([]StageOutcome(nil), ss.history...),
	}
	if ss.registry != nil && ss.inFlight {
		status.Pending = ss.registry.Pending()
	}
	return status, nil
}

func (c *Coordinator) spec(specID string) *specState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss, ok := c.specs[specID]
	if !ok {
		ss = &specState{state: StateIdle}
		c.specs[specID] = ss
	}
	return ss
}

func (c *Coordinator) currentRegistry(specID string) (*registry.Registry, error) {
	c.mu.Lock()
	ss, ok := c.specs[specID]
	c.mu.Unlock()
	if !ok {
		return nil, types.NewError(types.ErrUnknownSpec, "spec has no pipeline state").WithSpec(specID)
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.registry == nil {
		return nil, types.NewError(types.ErrStaleRun, "no active run for this spec").WithSpec(specID)
	}
	return ss.registry, nil
}

func (c *Coordinator) transition(ss *specState, stage types.Stage, to StageState) error {
	ss.mu.Lock()
	from := ss.state
	if !canTransition(from, to) {
		ss.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("illegal transition %s -> %s", from, to)).WithStage(stage)
	}
	ss.state = to
	ss.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordTransition(stage.String(), string(to))
	}
	c.logger.Debug("stage state transition",
		zap.String("stage", stage.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

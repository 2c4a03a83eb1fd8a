// Package sandbox provides an in-process Sandbox that runs agents as
// goroutines. It backs local pipelines and tests; a production deployment
// would put a process or container boundary behind the same interface.
package sandbox

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/specflow/specflow/pipeline"
)

// AgentFunc produces one agent's raw response for a spawn request.
type AgentFunc func(ctx context.Context, req pipeline.SpawnRequest) ([]byte, error)

// InProcess runs each spawned agent as a goroutine and reports results to
// the bound completion sink.
type InProcess struct {
	mu       sync.RWMutex
	agents   map[string]AgentFunc
	fallback AgentFunc
	sink     pipeline.CompletionSink
	logger   *zap.Logger
	wg       sync.WaitGroup
}

var _ pipeline.Sandbox = (*InProcess)(nil)

// NewInProcess creates an empty sandbox. Bind a sink and register agent
// functions before spawning.
func NewInProcess(logger *zap.Logger) *InProcess {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InProcess{
		agents: make(map[string]AgentFunc),
		logger: logger.With(zap.String("component", "sandbox")),
	}
}

// Bind sets the sink that receives agent results.
func (s *InProcess) Bind(sink pipeline.CompletionSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// RegisterAgent maps a roster role to its implementation.
func (s *InProcess) RegisterAgent(role string, fn AgentFunc) {
	s.mu.Lock()
	s.agents[role] = fn
	s.mu.Unlock()
}

// RegisterFallback sets the implementation used for roles with no dedicated
// registration.
func (s *InProcess) RegisterFallback(fn AgentFunc) {
	s.mu.Lock()
	s.fallback = fn
	s.mu.Unlock()
}

// Spawn launches the agent for req.Role. It returns an error only when the
// agent cannot start; runtime failures are reported through the sink.
func (s *InProcess) Spawn(ctx context.Context, req pipeline.SpawnRequest) error {
	s.mu.RLock()
	fn, ok := s.agents[req.Role]
	if !ok {
		fn = s.fallback
	}
	sink := s.sink
	s.mu.RUnlock()

	if fn == nil {
		return fmt.Errorf("no agent registered for role %q", req.Role)
	}
	if sink == nil {
		return fmt.Errorf("sandbox has no completion sink bound")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		raw, err := fn(ctx, req)
		if err != nil {
			if sinkErr := sink.OnAgentFailed(ctx, req.SpecID, req.AgentID, err.Error()); sinkErr != nil {
				s.logger.Debug("failure signal rejected",
					zap.String("agent_id", req.AgentID), zap.Error(sinkErr))
			}
			return
		}
		if sinkErr := sink.OnAgentComplete(ctx, req.SpecID, req.AgentID, raw); sinkErr != nil {
			s.logger.Debug("completion signal rejected",
				zap.String("agent_id", req.AgentID), zap.Error(sinkErr))
		}
	}()
	return nil
}

// Wait blocks until every spawned agent goroutine has finished.
func (s *InProcess) Wait() {
	s.wg.Wait()
}

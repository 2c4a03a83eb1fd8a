package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specflow/specflow/pipeline"
	"github.com/specflow/specflow/types"
)

// recordingSink captures delivered results.
type recordingSink struct {
	mu        sync.Mutex
	completed map[string][]byte
	failed    map[string]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		completed: make(map[string][]byte),
		failed:    make(map[string]string),
	}
}

func (s *recordingSink) OnAgentComplete(_ context.Context, _ string, agentID string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[agentID] = raw
	return nil
}

func (s *recordingSink) OnAgentFailed(_ context.Context, _ string, agentID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[agentID] = reason
	return nil
}

func req(agentID, role string) pipeline.SpawnRequest {
	return pipeline.SpawnRequest{
		AgentID: agentID,
		SpecID:  "SPEC-001",
		Stage:   types.StageValidate,
		Role:    role,
		RunID:   "run-1",
	}
}

func TestSpawnDeliversResult(t *testing.T) {
	sink := newRecordingSink()
	sb := NewInProcess(nil)
	sb.Bind(sink)
	sb.RegisterAgent("claude", func(context.Context, pipeline.SpawnRequest) ([]byte, error) {
		return []byte(`{"verdict":"pass"}`), nil
	})

	require.NoError(t, sb.Spawn(context.Background(), req("agent-1", "claude")))
	sb.Wait()

	assert.Equal(t, []byte(`{"verdict":"pass"}`), sink.completed["agent-1"])
}

func TestSpawnReportsAgentFailure(t *testing.T) {
	sink := newRecordingSink()
	sb := NewInProcess(nil)
	sb.Bind(sink)
	sb.RegisterAgent("gemini", func(context.Context, pipeline.SpawnRequest) ([]byte, error) {
		return nil, errors.New("model unavailable")
	})

	require.NoError(t, sb.Spawn(context.Background(), req("agent-2", "gemini")))
	sb.Wait()

	assert.Equal(t, "model unavailable", sink.failed["agent-2"])
	assert.Empty(t, sink.completed)
}

func TestSpawnUnknownRoleFails(t *testing.T) {
	sb := NewInProcess(nil)
	sb.Bind(newRecordingSink())

	err := sb.Spawn(context.Background(), req("agent-3", "mystery"))
	assert.Error(t, err)
}

func TestSpawnFallbackAgent(t *testing.T) {
	sink := newRecordingSink()
	sb := NewInProcess(nil)
	sb.Bind(sink)
	sb.RegisterFallback(func(_ context.Context, r pipeline.SpawnRequest) ([]byte, error) {
		return []byte(r.Role), nil
	})

	require.NoError(t, sb.Spawn(context.Background(), req("agent-4", "anything")))
	sb.Wait()

	assert.Equal(t, []byte("anything"), sink.completed["agent-4"])
}

func TestSpawnWithoutSink(t *testing.T) {
	sb := NewInProcess(nil)
	sb.RegisterFallback(func(context.Context, pipeline.SpawnRequest) ([]byte, error) {
		return nil, nil
	})
	assert.Error(t, sb.Spawn(context.Background(), req("agent-5", "claude")))
}

package consensus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specflow/specflow/store"
	"github.com/specflow/specflow/types"
)

var roster = []string{"gemini", "claude", "gpt-pro"}

func pass(role string, decisions map[string]string) *types.AgentPayload {
	return &types.AgentPayload{Agent: role, Verdict: types.VerdictPass, Decisions: decisions}
}

func TestSynthesizeAllPass(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()
	s := New(mem, nil, nil)

	payloads := map[string]*types.AgentPayload{
		"gemini":  pass("gemini", map[string]string{"approach": "incremental"}),
		"claude":  pass("claude", map[string]string{"approach": "incremental"}),
		"gpt-pro": pass("gpt-pro", map[string]string{"approach": "incremental"}),
	}

	rec, err := s.Synthesize(ctx, "SPEC-001", types.StageValidate, "run-1", roster, payloads)
	require.NoError(t, err)

	assert.Equal(t, types.SynthesisPass, rec.Status)
	assert.Equal(t, 3, rec.AgentCount)
	assert.False(t, rec.Degraded)
	assert.Empty(t, rec.Conflicts)
	assert.Equal(t, []string{`approach: "incremental"`}, rec.Agreements)
	assert.True(t, rec.Persisted)

	// Write-then-return: the record is durable before the caller sees it.
	stored, err := mem.LatestSynthesis(ctx, "SPEC-001", types.StageValidate)
	require.NoError(t, err)
	assert.Equal(t, "run-1", stored.RunID)
	assert.Equal(t, types.SynthesisPass, stored.Status)
}

func TestSynthesizeFailVerdictHasNoConflicts(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	s := New(mem, nil, nil)

	payloads := map[string]*types.AgentPayload{
		"gemini":  pass("gemini", nil),
		"claude":  {Agent: "claude", Verdict: types.VerdictFail, Rationale: "tests are red"},
		"gpt-pro": pass("gpt-pro", nil),
	}

	rec, err := s.Synthesize(context.Background(), "SPEC-001", types.StageAudit, "run-1", roster, payloads)
	require.NoError(t, err)

	// A fail verdict is not a disagreement; conflicts track decision
	// fields only.
	assert.Equal(t, types.SynthesisFail, rec.Status)
	assert.Empty(t, rec.Conflicts)
	assert.False(t, rec.Degraded)
}

func TestSynthesizeDegradedPartialSet(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	s := New(mem, nil, nil)

	payloads := map[string]*types.AgentPayload{
		"gemini": pass("gemini", nil),
		"claude": pass("claude", nil),
	}

	rec, err := s.Synthesize(context.Background(), "SPEC-001", types.StagePlan, "run-1", roster, payloads)
	require.NoError(t, err)

	assert.Equal(t, types.SynthesisDegraded, rec.Status)
	assert.True(t, rec.Degraded)
	assert.Equal(t, 2, rec.AgentCount)
	assert.Equal(t, []string{"gpt-pro"}, rec.Missing)
	assert.Contains(t, rec.Notes, "2 of 3")
}

func TestSynthesizeUnparseableResponseDegrades(t *testing.T) {
	payloads := map[string]*types.AgentPayload{
		"gemini":  pass("gemini", nil),
		"claude":  pass("claude", nil),
		"gpt-pro": {Agent: "gpt-pro", Verdict: types.VerdictUnknown, Rationale: "free text"},
	}

	rec := Merge("SPEC-001", types.StageTasks, "run-1", roster, payloads)
	assert.Equal(t, types.SynthesisDegraded, rec.Status)
	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.Missing)
	assert.Contains(t, rec.Notes, "1 unparseable")
}

func TestSynthesizeConflictDetection(t *testing.T) {
	payloads := map[string]*types.AgentPayload{
		"gemini":  pass("gemini", map[string]string{"db": "postgres", "cache": "redis"}),
		"claude":  pass("claude", map[string]string{"db": "sqlite", "cache": "redis"}),
		"gpt-pro": pass("gpt-pro", map[string]string{"db": "postgres"}),
	}

	rec := Merge("SPEC-001", types.StageImplement, "run-1", roster, payloads)

	require.Len(t, rec.Conflicts, 1)
	assert.Equal(t, `db: gemini="postgres" vs claude="sqlite" vs gpt-pro="postgres"`, rec.Conflicts[0])
	assert.Equal(t, []string{`cache: "redis"`}, rec.Agreements)
	// Disagreement alone does not fail the stage.
	assert.Equal(t, types.SynthesisPass, rec.Status)
}

func TestSynthesizeSingleVoteFieldIgnored(t *testing.T) {
	payloads := map[string]*types.AgentPayload{
		"gemini": pass("gemini", map[string]string{"style": "functional"}),
		"claude": pass("claude", nil),
	}

	rec := Merge("SPEC-001", types.StagePlan, "run-1", []string{"gemini", "claude"}, payloads)
	assert.Empty(t, rec.Agreements)
	assert.Empty(t, rec.Conflicts)
}

// failingSynthesisStore rejects synthesis writes only.
type failingSynthesisStore struct {
	store.ResultStore
}

func (f *failingSynthesisStore) SaveSynthesis(context.Context, *types.SynthesisRecord) error {
	return errors.New("disk full")
}

func TestSynthesizePersistenceFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()
	s := New(&failingSynthesisStore{ResultStore: mem}, nil, nil)

	payloads := map[string]*types.AgentPayload{
		"gemini":  pass("gemini", nil),
		"claude":  pass("claude", nil),
		"gpt-pro": pass("gpt-pro", nil),
	}

	rec, err := s.Synthesize(ctx, "SPEC-001", types.StageValidate, "run-1", roster, payloads)
	require.Error(t, err)
	assert.Equal(t, types.ErrPersistenceFailure, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	// The record still comes back for diagnostics but is unusable as a gate.
	require.NotNil(t, rec)
	assert.False(t, rec.Persisted)

	_, err = mem.LatestSynthesis(ctx, "SPEC-001", types.StageValidate)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSynthesizeExtraRoleMerged(t *testing.T) {
	payloads := map[string]*types.AgentPayload{
		"gemini":   pass("gemini", nil),
		"claude":   pass("claude", nil),
		"gpt-pro":  pass("gpt-pro", nil),
		"observer": pass("observer", nil),
	}

	rec := Merge("SPEC-001", types.StageValidate, "run-1", roster, payloads)
	assert.Equal(t, 4, rec.AgentCount)
	assert.Equal(t, types.SynthesisPass, rec.Status)
}

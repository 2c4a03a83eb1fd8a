package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/specflow/specflow/types"
)

func newTestArtifact(specID string, stage types.Stage, role, runID string) *types.StageArtifact {
	return &types.StageArtifact{
		SpecID: specID,
		Stage:  stage,
		Role:   role,
		RunID:  runID,
		Content: &types.AgentPayload{
			Agent:     role,
			Stage:     string(stage),
			Verdict:   types.VerdictPass,
			Decisions: map[string]string{"approach": "incremental"},
			Rationale: "fine",
		},
	}
}

// runResultStoreSuite exercises the ResultStore contract against a backend
func runResultStoreSuite(t *testing.T, s ResultStore) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetExecution", func(t *testing.T) {
		now := time.Now().Truncate(time.Millisecond)
		exec := &types.AgentExecution{
			AgentID:   "agent-1",
			SpecID:    "SPEC-001",
			Stage:     types.StagePlan,
			Role:      "claude",
			RunID:     "run-1",
			SpawnedAt: now,
			Status:    types.ExecutionSpawned,
		}

		if err := s.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}

		got, err := s.GetExecution(ctx, "agent-1")
		if err != nil {
			t.Fatalf("GetExecution failed: %v", err)
		}
		if got.Role != "claude" || got.Status != types.ExecutionSpawned {
			t.Errorf("execution mismatch: %+v", got)
		}

		// Completion is an upsert over the same key.
		exec.Complete(types.ExecutionCompleted, now.Add(time.Second))
		exec.Payload = &types.AgentPayload{Agent: "claude", Verdict: types.VerdictPass}
		if err := s.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("SaveExecution (update) failed: %v", err)
		}

		got, err = s.GetExecution(ctx, "agent-1")
		if err != nil {
			t.Fatalf("GetExecution after update failed: %v", err)
		}
		if got.Status != types.ExecutionCompleted || got.CompletedAt == nil {
			t.Errorf("completion not persisted: %+v", got)
		}
		if got.Payload == nil || got.Payload.Verdict != types.VerdictPass {
			t.Errorf("payload not persisted: %+v", got.Payload)
		}
	})

	t.Run("GetExecutionNotFound", func(t *testing.T) {
		if _, err := s.GetExecution(ctx, "no-such-agent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpsertArtifactIdempotent", func(t *testing.T) {
		artifact := newTestArtifact("SPEC-002", types.StageValidate, "gemini", "run-1")

		if err := s.UpsertArtifact(ctx, artifact); err != nil {
			t.Fatalf("UpsertArtifact failed: %v", err)
		}
		// Second write with the same key must replace, not duplicate.
		if err := s.UpsertArtifact(ctx, artifact); err != nil {
			t.Fatalf("UpsertArtifact (repeat) failed: %v", err)
		}

		artifacts, err := s.ListArtifacts(ctx, "SPEC-002", types.StageValidate, "run-1")
		if err != nil {
			t.Fatalf("ListArtifacts failed: %v", err)
		}
		if len(artifacts) != 1 {
			t.Fatalf("expected 1 artifact after duplicate upsert, got %d", len(artifacts))
		}
		if !reflect.DeepEqual(artifacts[0].Content, artifact.Content) {
			t.Errorf("content mismatch: got %+v, want %+v", artifacts[0].Content, artifact.Content)
		}
	})

	t.Run("ListArtifactsOrderedByRole", func(t *testing.T) {
		for _, role := range []string{"gpt-pro", "claude", "gemini"} {
			if err := s.UpsertArtifact(ctx, newTestArtifact("SPEC-003", types.StageAudit, role, "run-1")); err != nil {
				t.Fatalf("UpsertArtifact(%s) failed: %v", role, err)
			}
		}

		artifacts, err := s.ListArtifacts(ctx, "SPEC-003", types.StageAudit, "run-1")
		if err != nil {
			t.Fatalf("ListArtifacts failed: %v", err)
		}
		if len(artifacts) != 3 {
			t.Fatalf("expected 3 artifacts, got %d", len(artifacts))
		}
		for i, want := range []string{"claude", "gemini", "gpt-pro"} {
			if artifacts[i].Role != want {
				t.Errorf("artifact %d: role = %s, want %s", i, artifacts[i].Role, want)
			}
		}
	})

	t.Run("LatestRunID", func(t *testing.T) {
		a1 := newTestArtifact("SPEC-004", types.StagePlan, "claude", "run-old")
		a1.CreatedAt = time.Now().Add(-time.Hour)
		a2 := newTestArtifact("SPEC-004", types.StagePlan, "claude", "run-new")
		a2.CreatedAt = time.Now()

		if err := s.UpsertArtifact(ctx, a1); err != nil {
			t.Fatalf("UpsertArtifact failed: %v", err)
		}
		if err := s.UpsertArtifact(ctx, a2); err != nil {
			t.Fatalf("UpsertArtifact failed: %v", err)
		}

		runID, err := s.LatestRunID(ctx, "SPEC-004", types.StagePlan)
		if err != nil {
			t.Fatalf("LatestRunID failed: %v", err)
		}
		if runID != "run-new" {
			t.Errorf("LatestRunID = %s, want run-new", runID)
		}

		if _, err := s.LatestRunID(ctx, "SPEC-004", types.StageUnlock); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for empty stage, got %v", err)
		}
	})

	t.Run("SynthesisAppendOnly", func(t *testing.T) {
		first := &types.SynthesisRecord{
			SpecID:     "SPEC-005",
			Stage:      types.StageValidate,
			RunID:      "run-1",
			Status:     types.SynthesisFail,
			AgentCount: 3,
			CreatedAt:  time.Now().Add(-time.Minute),
		}
		if err := s.SaveSynthesis(ctx, first); err != nil {
			t.Fatalf("SaveSynthesis failed: %v", err)
		}

		// A retry writes a new record under a new run; it supersedes the
		// old one by recency, never by mutation.
		second := &types.SynthesisRecord{
			SpecID:     "SPEC-005",
			Stage:      types.StageValidate,
			RunID:      "run-2",
			Status:     types.SynthesisPass,
			AgentCount: 3,
			Agreements: []string{"approach"},
			CreatedAt:  time.Now(),
		}
		if err := s.SaveSynthesis(ctx, second); err != nil {
			t.Fatalf("SaveSynthesis (retry) failed: %v", err)
		}

		latest, err := s.LatestSynthesis(ctx, "SPEC-005", types.StageValidate)
		if err != nil {
			t.Fatalf("LatestSynthesis failed: %v", err)
		}
		if latest.RunID != "run-2" || latest.Status != types.SynthesisPass {
			t.Errorf("latest = %+v, want run-2/pass", latest)
		}
		if !latest.Persisted {
			t.Error("record read back from the store must report Persisted")
		}
		if len(latest.Agreements) != 1 || latest.Agreements[0] != "approach" {
			t.Errorf("agreements not round-tripped: %v", latest.Agreements)
		}
	})

	t.Run("SynthesisRetrySafeRewrite", func(t *testing.T) {
		rec := &types.SynthesisRecord{
			SpecID:     "SPEC-006",
			Stage:      types.StageAudit,
			RunID:      "run-1",
			Status:     types.SynthesisDegraded,
			AgentCount: 2,
			Degraded:   true,
			Missing:    []string{"gpt-pro"},
		}
		if err := s.SaveSynthesis(ctx, rec); err != nil {
			t.Fatalf("SaveSynthesis failed: %v", err)
		}
		if err := s.SaveSynthesis(ctx, rec); err != nil {
			t.Fatalf("SaveSynthesis re-issue failed: %v", err)
		}

		latest, err := s.LatestSynthesis(ctx, "SPEC-006", types.StageAudit)
		if err != nil {
			t.Fatalf("LatestSynthesis failed: %v", err)
		}
		if latest.AgentCount != 2 || !latest.Degraded {
			t.Errorf("degraded synthesis mismatch: %+v", latest)
		}
	})

	t.Run("PruneExecutions", func(t *testing.T) {
		old := time.Now().Add(-48 * time.Hour)
		completed := old.Add(time.Minute)
		terminal := &types.AgentExecution{
			AgentID: "prune-done", SpecID: "SPEC-007", Stage: types.StagePlan,
			Role: "claude", RunID: "run-1", SpawnedAt: old,
			CompletedAt: &completed, Status: types.ExecutionCompleted,
		}
		active := &types.AgentExecution{
			AgentID: "prune-live", SpecID: "SPEC-007", Stage: types.StagePlan,
			Role: "gemini", RunID: "run-1", SpawnedAt: old,
			Status: types.ExecutionRunning,
		}
		if err := s.SaveExecution(ctx, terminal); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
		if err := s.SaveExecution(ctx, active); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}

		count, err := s.PruneExecutions(ctx, 24*time.Hour)
		if err != nil {
			t.Fatalf("PruneExecutions failed: %v", err)
		}
		if count < 1 {
			t.Errorf("expected at least 1 pruned execution, got %d", count)
		}

		if _, err := s.GetExecution(ctx, "prune-done"); err != ErrNotFound {
			t.Errorf("terminal execution should be pruned, got %v", err)
		}
		if _, err := s.GetExecution(ctx, "prune-live"); err != nil {
			t.Errorf("running execution must survive pruning: %v", err)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if err := s.UpsertArtifact(ctx, &types.StageArtifact{}); err == nil {
			t.Error("artifact without key fields should be rejected")
		}
		if err := s.SaveSynthesis(ctx, &types.SynthesisRecord{}); err == nil {
			t.Error("synthesis without key fields should be rejected")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	runResultStoreSuite(t, s)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	ctx := context.Background()
	if err := s.Ping(ctx); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.UpsertArtifact(ctx, newTestArtifact("S", types.StagePlan, "r", "run")); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestFileStore(t *testing.T) {
	config := DefaultStoreConfig()
	config.Type = StoreTypeFile
	config.BaseDir = t.TempDir()

	s, err := NewFileStore(config)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()
	runResultStoreSuite(t, s)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	config := DefaultStoreConfig()
	config.Type = StoreTypeFile
	config.BaseDir = t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(config)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	artifact := newTestArtifact("SPEC-RESTART", types.StageValidate, "claude", "run-1")
	if err := s.UpsertArtifact(ctx, artifact); err != nil {
		t.Fatalf("UpsertArtifact failed: %v", err)
	}
	s.Close()

	// A new store over the same directory sees the artifact: this is the
	// crash-recovery property the collector fallback depends on.
	reopened, err := NewFileStore(config)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	artifacts, err := reopened.ListArtifacts(ctx, "SPEC-RESTART", types.StageValidate, "run-1")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(artifacts) != 1 || !reflect.DeepEqual(artifacts[0].Content, artifact.Content) {
		t.Errorf("artifact did not survive reopen: %+v", artifacts)
	}
}

func TestSQLiteStore(t *testing.T) {
	config := DefaultStoreConfig()
	config.Type = StoreTypeSQLite
	config.SQLite.Path = t.TempDir() + "/results.db"
	config.SQLite.HealthCheckInterval = 0

	s, err := NewSQLiteStore(config, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()
	runResultStoreSuite(t, s)
}

func TestFactory(t *testing.T) {
	config := DefaultStoreConfig()

	s, err := NewResultStore(config, nil)
	if err != nil {
		t.Fatalf("NewResultStore failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("default store should be memory, got %T", s)
	}
	s.Close()

	config.Type = "bogus"
	if _, err := NewResultStore(config, nil); err == nil {
		t.Error("unknown store type should fail")
	}
}

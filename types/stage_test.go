package types

import (
	"testing"
	"time"
)

func TestParseStage(t *testing.T) {
	tests := []struct {
		input string
		want  Stage
		ok    bool
	}{
		{"plan", StagePlan, true},
		{"spec-plan", StagePlan, true},
		{"Validate", StageValidate, true},
		{"review", StageAudit, true},
		{"spec-audit", StageAudit, true},
		{"unlock", StageUnlock, true},
		{"bogus", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseStage(tt.input)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseStage(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStageNext(t *testing.T) {
	order := Stages()
	for i := 0; i < len(order)-1; i++ {
		next, ok := order[i].Next()
		if !ok || next != order[i+1] {
			t.Errorf("%s.Next() = (%s, %v), want (%s, true)", order[i], next, ok, order[i+1])
		}
	}

	if _, ok := StageUnlock.Next(); ok {
		t.Error("unlock should be the final stage")
	}
}

func TestParseAgentPayload(t *testing.T) {
	t.Run("StructuredJSON", func(t *testing.T) {
		raw := []byte(`{"agent":"claude","verdict":"pass","decisions":{"approach":"incremental"},"rationale":"looks good"}`)
		p := ParseAgentPayload("claude", StagePlan, raw)
		if p.Verdict != VerdictPass {
			t.Errorf("verdict = %s, want pass", p.Verdict)
		}
		if p.Decisions["approach"] != "incremental" {
			t.Errorf("decisions not preserved: %v", p.Decisions)
		}
		if p.Stage != "plan" {
			t.Errorf("stage not defaulted: %s", p.Stage)
		}
	})

	t.Run("PlainText", func(t *testing.T) {
		p := ParseAgentPayload("gemini", StageAudit, []byte("no structure here"))
		if p.Verdict != VerdictUnknown {
			t.Errorf("verdict = %s, want unknown", p.Verdict)
		}
		if p.Agent != "gemini" || p.Rationale != "no structure here" {
			t.Errorf("text not wrapped: %+v", p)
		}
	})

	t.Run("UnknownVerdictNormalized", func(t *testing.T) {
		p := ParseAgentPayload("gpt", StagePlan, []byte(`{"verdict":"maybe","rationale":"x"}`))
		if p.Verdict != VerdictUnknown {
			t.Errorf("verdict = %s, want unknown", p.Verdict)
		}
	})
}

func TestAgentExecutionInvariants(t *testing.T) {
	now := time.Now()
	exec := &AgentExecution{
		AgentID:   "a1",
		SpecID:    "S1",
		Stage:     StagePlan,
		Role:      "claude",
		RunID:     "r1",
		SpawnedAt: now,
		Status:    ExecutionSpawned,
	}

	if err := exec.Validate(); err != nil {
		t.Fatalf("fresh record should validate: %v", err)
	}

	if !exec.Complete(ExecutionCompleted, now.Add(time.Second)) {
		t.Fatal("first completion should succeed")
	}
	if err := exec.Validate(); err != nil {
		t.Fatalf("completed record should validate: %v", err)
	}

	if exec.Complete(ExecutionFailed, now.Add(2*time.Second)) {
		t.Error("second completion should be rejected")
	}
	if exec.Status != ExecutionCompleted {
		t.Errorf("status mutated by rejected completion: %s", exec.Status)
	}

	// Clock skew: completion before spawn clamps to the spawn time.
	skewed := &AgentExecution{
		AgentID: "a2", SpecID: "S1", Stage: StagePlan, Role: "gemini", RunID: "r1",
		SpawnedAt: now, Status: ExecutionRunning,
	}
	skewed.Complete(ExecutionTimedOut, now.Add(-time.Minute))
	if skewed.CompletedAt.Before(skewed.SpawnedAt) {
		t.Error("completion timestamp must not precede spawn timestamp")
	}
}

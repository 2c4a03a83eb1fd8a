package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRoleLabel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"claude", "claude"},
		{"GPT Pro", "gpt_pro"},
		{"gpt-codex", "gpt_codex"},
		{"  weird!!name  ", "weird_name"},
		{"___", "agent"},
		{"", "agent"},
	}

	for _, tt := range tests {
		if got := RoleLabel(tt.input); got != tt.want {
			t.Errorf("RoleLabel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("specflow", reg, nil)

	c.RecordFallback("validate")
	c.RecordFallback("validate")
	if got := testutil.ToFloat64(c.FallbackCounter("validate")); got != 2 {
		t.Errorf("fallback counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.FallbackCounter("plan")); got != 0 {
		t.Errorf("untouched stage counter = %v, want 0", got)
	}

	c.RecordExecution("claude", "completed", 30*time.Second)
	c.RecordDuplicateCompletion("claude")
	c.RecordSynthesis("validate", "degraded", 1)
	c.RecordTransition("validate", "blocked")
	c.RecordStageDuration("validate", "blocked", time.Minute)
	c.RecordStoreWriteFailure("save_synthesis")

	// Two collectors on separate registries must not collide.
	c2 := NewCollector("specflow", prometheus.NewRegistry(), nil)
	c2.RecordFallback("validate")
	if got := testutil.ToFloat64(c2.FallbackCounter("validate")); got != 1 {
		t.Errorf("isolated collector counter = %v, want 1", got)
	}
}

// Package consensus merges the payloads of one stage run into a single
// synthesis record. Synthesis is deterministic: the same payload set always
// produces the same record regardless of completion order.
package consensus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/store"
	"github.com/specflow/specflow/types"
)

// Synthesizer merges agent payloads and persists the resulting record.
type Synthesizer struct {
	st      store.ResultStore
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New creates a synthesizer backed by the given result store.
func New(st store.ResultStore, logger *zap.Logger, m *metrics.Collector) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		st:      st,
		logger:  logger.With(zap.String("component", "consensus")),
		metrics: m,
	}
}

// Synthesize merges the collected payloads for (spec, stage, run) and writes
// the record to the result store before returning it.
//
// The write is part of the operation, not a side effect: if it fails, the
// returned record carries Persisted=false alongside a retryable persistence
// error, and the caller must treat the stage as blocked.
func (s *Synthesizer) Synthesize(ctx context.Context, specID string, stage types.Stage, runID string, roster []string, payloads map[string]*types.AgentPayload) (*types.SynthesisRecord, error) {
	rec := Merge(specID, stage, runID, roster, payloads)

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	if s.st == nil {
		// Memory-only operation; there is no durable write to gate on.
		rec.Persisted = true
	} else {
		if err := s.st.SaveSynthesis(ctx, rec); err != nil {
			if s.metrics != nil {
				s.metrics.RecordStoreWriteFailure("save_synthesis")
			}
			s.logger.Error("synthesis write failed, stage must stay blocked",
				zap.String("spec_id", specID),
				zap.String("stage", stage.String()),
				zap.String("run_id", runID),
				zap.Error(err))
			return rec, types.NewError(types.ErrPersistenceFailure, "failed to persist synthesis record").
				WithCause(err).WithRetryable(true).WithSpec(specID).WithStage(stage)
		}
		rec.Persisted = true
	}

	if s.metrics != nil {
		s.metrics.RecordSynthesis(stage.String(), string(rec.Status), len(rec.Conflicts))
	}
	s.logger.Info("synthesis persisted",
		zap.String("spec_id", specID),
		zap.String("stage", stage.String()),
		zap.String("run_id", runID),
		zap.String("status", string(rec.Status)),
		zap.Int("agent_count", rec.AgentCount),
		zap.Int("conflicts", len(rec.Conflicts)),
		zap.Bool("degraded", rec.Degraded))
	return rec, nil
}

// Merge builds the synthesis record for a payload set without persisting it.
//
// Status precedence: any fail verdict makes the record fail; otherwise an
// incomplete or unparseable payload set makes it degraded; otherwise pass.
// Conflicts come only from decision-field disagreement, so a unanimous fail
// has an empty conflict list.
func Merge(specID string, stage types.Stage, runID string, roster []string, payloads map[string]*types.AgentPayload) *types.SynthesisRecord {
	roles := orderedRoles(roster, payloads)

	var (
		missing  []string
		merged   []string
		failed   int
		unparsed int
	)
	for _, role := range roster {
		if _, ok := payloads[role]; !ok {
			missing = append(missing, role)
		}
	}
	for _, role := range roles {
		merged = append(merged, role)
		switch payloads[role].Verdict {
		case types.VerdictFail:
			failed++
		case types.VerdictUnknown:
			unparsed++
		}
	}

	agreements, conflicts := compareDecisions(roles, payloads)

	degraded := len(missing) > 0 || unparsed > 0
	status := types.SynthesisPass
	switch {
	case failed > 0:
		status = types.SynthesisFail
	case degraded:
		status = types.SynthesisDegraded
	}

	return &types.SynthesisRecord{
		SpecID:     specID,
		Stage:      stage,
		RunID:      runID,
		Status:     status,
		AgentCount: len(merged),
		Degraded:   degraded,
		Agreements: agreements,
		Conflicts:  conflicts,
		Missing:    missing,
		Notes:      buildNotes(merged, len(roster), failed, unparsed),
		CreatedAt:  time.Now().UTC(),
	}
}

// orderedRoles returns the roles that produced payloads: roster roles first
// in roster order, then any extra roles sorted. This fixes the merge order
// independently of map iteration.
func orderedRoles(roster []string, payloads map[string]*types.AgentPayload) []string {
	var roles []string
	seen := make(map[string]bool, len(roster))
	for _, role := range roster {
		seen[role] = true
		if _, ok := payloads[role]; ok {
			roles = append(roles, role)
		}
	}
	var extra []string
	for role := range payloads {
		if !seen[role] {
			extra = append(extra, role)
		}
	}
	sort.Strings(extra)
	return append(roles, extra...)
}

// compareDecisions splits the decision fields into agreements and conflicts.
// A field counts only when at least two agents set it.
func compareDecisions(roles []string, payloads map[string]*types.AgentPayload) (agreements, conflicts []string) {
	keys := make(map[string]bool)
	for _, role := range roles {
		for k := range payloads[role].Decisions {
			keys[k] = true
		}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		var votes []string
		values := make(map[string]bool)
		for _, role := range roles {
			v, ok := payloads[role].Decisions[key]
			if !ok {
				continue
			}
			votes = append(votes, fmt.Sprintf("%s=%q", role, v))
			values[v] = true
		}
		if len(votes) < 2 {
			continue
		}
		if len(values) == 1 {
			agreements = append(agreements, fmt.Sprintf("%s: %q", key, payloads[rolesWithKey(roles, payloads, key)[0]].Decisions[key]))
		} else {
			conflicts = append(conflicts, fmt.Sprintf("%s: %s", key, strings.Join(votes, " vs ")))
		}
	}
	return agreements, conflicts
}

func rolesWithKey(roles []string, payloads map[string]*types.AgentPayload, key string) []string {
	var out []string
	for _, role := range roles {
		if _, ok := payloads[role].Decisions[key]; ok {
			out = append(out, role)
		}
	}
	return out
}

func buildNotes(merged []string, expected, failed, unparsed int) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%d of %d agents reported", len(merged), expected))
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d fail verdicts", failed))
	}
	if unparsed > 0 {
		parts = append(parts, fmt.Sprintf("%d unparseable responses", unparsed))
	}
	return strings.Join(parts, "; ")
}

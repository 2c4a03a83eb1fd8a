package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/specflow/specflow/types"
)

// MemoryStore is an in-memory implementation of ResultStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	executions map[string]*types.AgentExecution
	artifacts  map[types.ArtifactKey]*types.StageArtifact
	syntheses  []*types.SynthesisRecord
	mu         sync.RWMutex
	closed     bool
}

// NewMemoryStore creates a new in-memory result store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*types.AgentExecution),
		artifacts:  make(map[types.ArtifactKey]*types.StageArtifact),
	}
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveExecution upserts an execution record keyed by agent ID
func (s *MemoryStore) SaveExecution(ctx context.Context, exec *types.AgentExecution) error {
	if exec == nil {
		return ErrInvalidInput
	}
	if err := exec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	clone := *exec
	clone.Payload = exec.Payload.Clone()
	s.executions[exec.AgentID] = &clone
	return nil
}

// GetExecution retrieves an execution record by agent ID
func (s *MemoryStore) GetExecution(ctx context.Context, agentID string) (*types.AgentExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	exec, ok := s.executions[agentID]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *exec
	clone.Payload = exec.Payload.Clone()
	return &clone, nil
}

// PruneExecutions removes terminal executions spawned before the cutoff
func (s *MemoryStore) PruneExecutions(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, exec := range s.executions {
		if exec.Status.IsTerminal() && exec.SpawnedAt.Before(cutoff) {
			delete(s.executions, id)
			count++
		}
	}
	return count, nil
}

// UpsertArtifact writes a stage artifact, replacing any previous content
// under the same (spec, stage, role, run) key
func (s *MemoryStore) UpsertArtifact(ctx context.Context, artifact *types.StageArtifact) error {
	if artifact == nil {
		return ErrInvalidInput
	}
	if err := artifact.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	clone := *artifact
	clone.Content = artifact.Content.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	if prev, ok := s.artifacts[artifact.Key()]; ok {
		// Keep the first-write timestamp so recency ordering is stable.
		clone.CreatedAt = prev.CreatedAt
	}
	s.artifacts[artifact.Key()] = &clone
	return nil
}

// ListArtifacts returns all artifacts for (spec, stage, run), ordered by role
func (s *MemoryStore) ListArtifacts(ctx context.Context, specID string, stage types.Stage, runID string) ([]*types.StageArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*types.StageArtifact, 0)
	for key, artifact := range s.artifacts {
		if key.SpecID == specID && key.Stage == stage && key.RunID == runID {
			clone := *artifact
			clone.Content = artifact.Content.Clone()
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Role < result[j].Role })
	return result, nil
}

// LatestRunID returns the run with the most recent artifact for (spec, stage)
func (s *MemoryStore) LatestRunID(ctx context.Context, specID string, stage types.Stage) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var latest time.Time
	var runID string
	for key, artifact := range s.artifacts {
		if key.SpecID == specID && key.Stage == stage && artifact.CreatedAt.After(latest) {
			latest = artifact.CreatedAt
			runID = key.RunID
		}
	}

	if runID == "" {
		return "", ErrNotFound
	}
	return runID, nil
}

// SaveSynthesis persists a synthesis record, keyed by (spec, stage, run)
func (s *MemoryStore) SaveSynthesis(ctx context.Context, rec *types.SynthesisRecord) error {
	if rec == nil {
		return ErrInvalidInput
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	clone := *rec
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}

	for i, existing := range s.syntheses {
		if existing.SpecID == rec.SpecID && existing.Stage == rec.Stage && existing.RunID == rec.RunID {
			clone.CreatedAt = existing.CreatedAt
			s.syntheses[i] = &clone
			return nil
		}
	}

	s.syntheses = append(s.syntheses, &clone)
	return nil
}

// LatestSynthesis returns the most recently created synthesis for (spec, stage)
func (s *MemoryStore) LatestSynthesis(ctx context.Context, specID string, stage types.Stage) (*types.SynthesisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var latest *types.SynthesisRecord
	for _, rec := range s.syntheses {
		if rec.SpecID != specID || rec.Stage != stage {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}
	clone := *latest
	clone.Persisted = true
	return &clone, nil
}

// Ensure MemoryStore implements ResultStore
var _ ResultStore = (*MemoryStore)(nil)

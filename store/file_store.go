package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/specflow/specflow/types"
)

// FileStore is a file-based implementation of ResultStore.
// Suitable for single-node deployments. The artifact upsert key maps
// directly onto the file path, so re-writes replace the file in place.
//
// Layout under BaseDir:
//
//	executions/<agent_id>.json
//	artifacts/<spec>/<stage>/<run>/<role>.json
//	syntheses/<spec>/<stage>/<run>.json
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a new file-based result store
func NewFileStore(config StoreConfig) (*FileStore, error) {
	baseDir := config.BaseDir
	for _, sub := range []string{"executions", "artifacts", "syntheses"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create result store directory: %w", err)
		}
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Close closes the store
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

// writeJSON atomically writes v to path (write temp file, then rename)
func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (s *FileStore) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *FileStore) executionPath(agentID string) string {
	return filepath.Join(s.baseDir, "executions", agentID+".json")
}

func (s *FileStore) artifactPath(key types.ArtifactKey) string {
	return filepath.Join(s.baseDir, "artifacts", key.SpecID, string(key.Stage), key.RunID, key.Role+".json")
}

func (s *FileStore) synthesisPath(specID string, stage types.Stage, runID string) string {
	return filepath.Join(s.baseDir, "syntheses", specID, string(stage), runID+".json")
}

// SaveExecution upserts an execution record keyed by agent ID
func (s *FileStore) SaveExecution(ctx context.Context, exec *types.AgentExecution) error {
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
	return s.writeJSON(s.executionPath(exec.AgentID), exec)
}

// GetExecution retrieves an execution record by agent ID
func (s *FileStore) GetExecution(ctx context.Context, agentID string) (*types.AgentExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var exec types.AgentExecution
	if err := s.readJSON(s.executionPath(agentID), &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// PruneExecutions removes terminal executions spawned before the cutoff
func (s *FileStore) PruneExecutions(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	dir := filepath.Join(s.baseDir, "executions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var exec types.AgentExecution
		if err := s.readJSON(path, &exec); err != nil {
			continue
		}
		if exec.Status.IsTerminal() && exec.SpawnedAt.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				count++
			}
		}
	}
	return count, nil
}

// UpsertArtifact writes a stage artifact, replacing any previous file under
// the same (spec, stage, role, run) key
func (s *FileStore) UpsertArtifact(ctx context.Context, artifact *types.StageArtifact) error {
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
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}

	var prev types.StageArtifact
	if err := s.readJSON(s.artifactPath(artifact.Key()), &prev); err == nil {
		clone.CreatedAt = prev.CreatedAt
	}

	return s.writeJSON(s.artifactPath(artifact.Key()), &clone)
}

// ListArtifacts returns all artifacts for (spec, stage, run), ordered by role
func (s *FileStore) ListArtifacts(ctx context.Context, specID string, stage types.Stage, runID string) ([]*types.StageArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	dir := filepath.Join(s.baseDir, "artifacts", specID, string(stage), runID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []*types.StageArtifact{}, nil
	}
	if err != nil {
		return nil, err
	}

	result := make([]*types.StageArtifact, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var artifact types.StageArtifact
		if err := s.readJSON(filepath.Join(dir, entry.Name()), &artifact); err != nil {
			return nil, fmt.Errorf("failed to read artifact %s: %w", entry.Name(), err)
		}
		result = append(result, &artifact)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Role < result[j].Role })
	return result, nil
}

// LatestRunID returns the run with the most recent artifact for (spec, stage)
func (s *FileStore) LatestRunID(ctx context.Context, specID string, stage types.Stage) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	dir := filepath.Join(s.baseDir, "artifacts", specID, string(stage))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	var latest time.Time
	var runID string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runDir := filepath.Join(dir, entry.Name())
		files, err := os.ReadDir(runDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			var artifact types.StageArtifact
			if err := s.readJSON(filepath.Join(runDir, f.Name()), &artifact); err != nil {
				continue
			}
			if artifact.CreatedAt.After(latest) {
				latest = artifact.CreatedAt
				runID = entry.Name()
			}
		}
	}

	if runID == "" {
		return "", ErrNotFound
	}
	return runID, nil
}

// SaveSynthesis persists a synthesis record, keyed by (spec, stage, run)
func (s *FileStore) SaveSynthesis(ctx context.Context, rec *types.SynthesisRecord) error {
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

	var prev types.SynthesisRecord
	if err := s.readJSON(s.synthesisPath(rec.SpecID, rec.Stage, rec.RunID), &prev); err == nil {
		clone.CreatedAt = prev.CreatedAt
	}

	return s.writeJSON(s.synthesisPath(rec.SpecID, rec.Stage, rec.RunID), &clone)
}

// LatestSynthesis returns the most recently created synthesis for (spec, stage)
func (s *FileStore) LatestSynthesis(ctx context.Context, specID string, stage types.Stage) (*types.SynthesisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	dir := filepath.Join(s.baseDir, "syntheses", specID, string(stage))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var latest *types.SynthesisRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var rec types.SynthesisRecord
		if err := s.readJSON(filepath.Join(dir, entry.Name()), &rec); err != nil {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			r := rec
			latest = &r
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}
	latest.Persisted = true
	return latest, nil
}

// Ensure FileStore implements ResultStore
var _ ResultStore = (*FileStore)(nil)

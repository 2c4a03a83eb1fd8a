package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/specflow/specflow/types"
)

// RedisStore is a Redis-based implementation of ResultStore.
// Suitable for distributed deployments. Artifacts live in hashes keyed by
// (spec, stage, run) with one field per role, so HSET gives the idempotent
// upsert the store contract requires.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a new Redis-based result store
func NewRedisStore(config StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "specflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}, nil
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) executionKey(agentID string) string {
	return s.keyPrefix + "exec:data:" + agentID
}

func (s *RedisStore) executionIndexKey() string {
	return s.keyPrefix + "exec:index"
}

func (s *RedisStore) artifactKey(specID string, stage types.Stage, runID string) string {
	return s.keyPrefix + "artifact:" + specID + ":" + string(stage) + ":" + runID
}

func (s *RedisStore) runIndexKey(specID string, stage types.Stage) string {
	return s.keyPrefix + "runs:" + specID + ":" + string(stage)
}

func (s *RedisStore) synthesisKey(specID string, stage types.Stage) string {
	return s.keyPrefix + "synthesis:data:" + specID + ":" + string(stage)
}

func (s *RedisStore) synthesisIndexKey(specID string, stage types.Stage) string {
	return s.keyPrefix + "synthesis:index:" + specID + ":" + string(stage)
}

// SaveExecution upserts an execution record keyed by agent ID
func (s *RedisStore) SaveExecution(ctx context.Context, exec *types.AgentExecution) error {
	if exec == nil {
		return ErrInvalidInput
	}
	if err := exec.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.executionKey(exec.AgentID), data, 0)
	pipe.ZAdd(ctx, s.executionIndexKey(), redis.Z{
		Score:  float64(exec.SpawnedAt.UnixNano()),
		Member: exec.AgentID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// GetExecution retrieves an execution record by agent ID
func (s *RedisStore) GetExecution(ctx context.Context, agentID string) (*types.AgentExecution, error) {
	data, err := s.client.Get(ctx, s.executionKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var exec types.AgentExecution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

// PruneExecutions removes terminal executions spawned before the cutoff
func (s *RedisStore) PruneExecutions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	ids, err := s.client.ZRangeByScore(ctx, s.executionIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		exec, err := s.GetExecution(ctx, id)
		if err == ErrNotFound {
			s.client.ZRem(ctx, s.executionIndexKey(), id)
			continue
		}
		if err != nil {
			return count, err
		}
		if !exec.Status.IsTerminal() {
			continue
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, s.executionKey(id))
		pipe.ZRem(ctx, s.executionIndexKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// UpsertArtifact writes a stage artifact as a hash field keyed by role
func (s *RedisStore) UpsertArtifact(ctx context.Context, artifact *types.StageArtifact) error {
	if artifact == nil {
		return ErrInvalidInput
	}
	if err := artifact.Validate(); err != nil {
		return err
	}

	clone := *artifact
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}

	// Keep the first-write timestamp on re-issued writes.
	if prev, err := s.client.HGet(ctx, s.artifactKey(artifact.SpecID, artifact.Stage, artifact.RunID), artifact.Role).Bytes(); err == nil {
		var existing types.StageArtifact
		if json.Unmarshal(prev, &existing) == nil && !existing.CreatedAt.IsZero() {
			clone.CreatedAt = existing.CreatedAt
		}
	}

	data, err := json.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.artifactKey(artifact.SpecID, artifact.Stage, artifact.RunID), artifact.Role, data)
	pipe.ZAdd(ctx, s.runIndexKey(artifact.SpecID, artifact.Stage), redis.Z{
		Score:  float64(clone.CreatedAt.UnixNano()),
		Member: artifact.RunID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// ListArtifacts returns all artifacts for (spec, stage, run), ordered by role
func (s *RedisStore) ListArtifacts(ctx context.Context, specID string, stage types.Stage, runID string) ([]*types.StageArtifact, error) {
	fields, err := s.client.HGetAll(ctx, s.artifactKey(specID, stage, runID)).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*types.StageArtifact, 0, len(fields))
	for _, raw := range fields {
		var artifact types.StageArtifact
		if err := json.Unmarshal([]byte(raw), &artifact); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
		}
		result = append(result, &artifact)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Role < result[j].Role })
	return result, nil
}

// LatestRunID returns the most recently written run for (spec, stage)
func (s *RedisStore) LatestRunID(ctx context.Context, specID string, stage types.Stage) (string, error) {
	runs, err := s.client.ZRevRange(ctx, s.runIndexKey(specID, stage), 0, 0).Result()
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrNotFound
	}
	return runs[0], nil
}

// SaveSynthesis persists a synthesis record as a hash field keyed by run ID
func (s *RedisStore) SaveSynthesis(ctx context.Context, rec *types.SynthesisRecord) error {
	if rec == nil {
		return ErrInvalidInput
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	clone := *rec
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}

	data, err := json.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("failed to marshal synthesis: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.synthesisKey(rec.SpecID, rec.Stage), rec.RunID, data)
	pipe.ZAdd(ctx, s.synthesisIndexKey(rec.SpecID, rec.Stage), redis.Z{
		Score:  float64(clone.CreatedAt.UnixNano()),
		Member: rec.RunID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// LatestSynthesis returns the most recently created synthesis for (spec, stage)
func (s *RedisStore) LatestSynthesis(ctx context.Context, specID string, stage types.Stage) (*types.SynthesisRecord, error) {
	runs, err := s.client.ZRevRange(ctx, s.synthesisIndexKey(specID, stage), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}

	data, err := s.client.HGet(ctx, s.synthesisKey(specID, stage), runs[0]).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec types.SynthesisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal synthesis: %w", err)
	}
	rec.Persisted = true
	return &rec, nil
}

// Ensure RedisStore implements ResultStore
var _ ResultStore = (*RedisStore)(nil)

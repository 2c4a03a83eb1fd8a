package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/specflow/specflow/internal/database"
	"github.com/specflow/specflow/types"
)

// SQLiteStore is a GORM/SQLite implementation of ResultStore.
// Suitable for single-node deployments that need SQL queryability over
// the persisted pipeline history.
type SQLiteStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// executionRow mirrors the agent_executions schema
type executionRow struct {
	AgentID     string     `gorm:"column:agent_id;primaryKey"`
	SpecID      string     `gorm:"column:spec_id;index:idx_executions_spec"`
	Stage       string     `gorm:"column:stage;index:idx_executions_spec"`
	Role        string     `gorm:"column:role"`
	RunID       string     `gorm:"column:run_id"`
	SpawnedAt   time.Time  `gorm:"column:spawned_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	Status      string     `gorm:"column:status"`
	Payload     []byte     `gorm:"column:payload"`
	FailReason  string     `gorm:"column:fail_reason"`
}

func (executionRow) TableName() string { return "agent_executions" }

// artifactRow mirrors the stage_artifacts schema; the composite primary key
// is the idempotent upsert key
type artifactRow struct {
	SpecID    string    `gorm:"column:spec_id;primaryKey"`
	Stage     string    `gorm:"column:stage;primaryKey"`
	Role      string    `gorm:"column:role;primaryKey"`
	RunID     string    `gorm:"column:run_id;primaryKey"`
	Content   []byte    `gorm:"column:content"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_artifacts_created"`
}

func (artifactRow) TableName() string { return "stage_artifacts" }

// synthesisRow mirrors the stage_syntheses schema
type synthesisRow struct {
	SpecID     string    `gorm:"column:spec_id;primaryKey"`
	Stage      string    `gorm:"column:stage;primaryKey"`
	RunID      string    `gorm:"column:run_id;primaryKey"`
	Status     string    `gorm:"column:status"`
	AgentCount int       `gorm:"column:agent_count"`
	Degraded   bool      `gorm:"column:degraded"`
	Agreements string    `gorm:"column:agreements"`
	Conflicts  string    `gorm:"column:conflicts"`
	Missing    string    `gorm:"column:missing_agents"`
	Notes      string    `gorm:"column:notes"`
	CreatedAt  time.Time `gorm:"column:created_at;index:idx_syntheses_created"`
}

func (synthesisRow) TableName() string { return "stage_syntheses" }

// NewSQLiteStore opens (or creates) the database and migrates the schema
func NewSQLiteStore(config StoreConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(config.SQLite.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&executionRow{}, &artifactRow{}, &synthesisRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate result store schema: %w", err)
	}

	poolCfg := database.DefaultPoolConfig()
	if config.SQLite.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = config.SQLite.MaxOpenConns
	}
	if config.SQLite.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = config.SQLite.MaxIdleConns
	}
	poolCfg.HealthCheckInterval = config.SQLite.HealthCheckInterval

	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "sqlite_store")),
	}, nil
}

// Close closes the store
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// Ping checks if the store is healthy
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveExecution upserts an execution record keyed by agent ID
func (s *SQLiteStore) SaveExecution(ctx context.Context, exec *types.AgentExecution) error {
	if exec == nil {
		return ErrInvalidInput
	}
	if err := exec.Validate(); err != nil {
		return err
	}

	var payload []byte
	if exec.Payload != nil {
		data, err := json.Marshal(exec.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal execution payload: %w", err)
		}
		payload = data
	}

	row := executionRow{
		AgentID:     exec.AgentID,
		SpecID:      exec.SpecID,
		Stage:       string(exec.Stage),
		Role:        exec.Role,
		RunID:       exec.RunID,
		SpawnedAt:   exec.SpawnedAt,
		CompletedAt: exec.CompletedAt,
		Status:      string(exec.Status),
		Payload:     payload,
		FailReason:  exec.FailReason,
	}

	return s.pool.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

// GetExecution retrieves an execution record by agent ID
func (s *SQLiteStore) GetExecution(ctx context.Context, agentID string) (*types.AgentExecution, error) {
	var row executionRow
	err := s.pool.DB().WithContext(ctx).
		Where("agent_id = ?", agentID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToExecution(&row)
}

func rowToExecution(row *executionRow) (*types.AgentExecution, error) {
	exec := &types.AgentExecution{
		AgentID:     row.AgentID,
		SpecID:      row.SpecID,
		Stage:       types.Stage(row.Stage),
		Role:        row.Role,
		RunID:       row.RunID,
		SpawnedAt:   row.SpawnedAt,
		CompletedAt: row.CompletedAt,
		Status:      types.ExecutionStatus(row.Status),
		FailReason:  row.FailReason,
	}
	if len(row.Payload) > 0 {
		var payload types.AgentPayload
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution payload: %w", err)
		}
		exec.Payload = &payload
	}
	return exec, nil
}

// PruneExecutions removes terminal executions spawned before the cutoff
func (s *SQLiteStore) PruneExecutions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.pool.DB().WithContext(ctx).
		Where("spawned_at < ? AND status IN ?", cutoff, []string{
			string(types.ExecutionCompleted),
			string(types.ExecutionFailed),
			string(types.ExecutionTimedOut),
		}).
		Delete(&executionRow{})
	return int(res.RowsAffected), res.Error
}

// UpsertArtifact writes a stage artifact; conflicting keys update content
// in place instead of adding a row
func (s *SQLiteStore) UpsertArtifact(ctx context.Context, artifact *types.StageArtifact) error {
	if artifact == nil {
		return ErrInvalidInput
	}
	if err := artifact.Validate(); err != nil {
		return err
	}

	content, err := json.Marshal(artifact.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact content: %w", err)
	}

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := artifactRow{
		SpecID:    artifact.SpecID,
		Stage:     string(artifact.Stage),
		Role:      artifact.Role,
		RunID:     artifact.RunID,
		Content:   content,
		CreatedAt: createdAt,
	}

	return s.pool.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "spec_id"}, {Name: "stage"}, {Name: "role"}, {Name: "run_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"content"}),
		}).
		Create(&row).Error
}

// ListArtifacts returns all artifacts for (spec, stage, run), ordered by role
func (s *SQLiteStore) ListArtifacts(ctx context.Context, specID string, stage types.Stage, runID string) ([]*types.StageArtifact, error) {
	var rows []artifactRow
	err := s.pool.DB().WithContext(ctx).
		Where("spec_id = ? AND stage = ? AND run_id = ?", specID, string(stage), runID).
		Order("role ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]*types.StageArtifact, 0, len(rows))
	for i := range rows {
		artifact, err := rowToArtifact(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, artifact)
	}
	return result, nil
}

func rowToArtifact(row *artifactRow) (*types.StageArtifact, error) {
	var payload types.AgentPayload
	if err := json.Unmarshal(row.Content, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact content: %w", err)
	}
	return &types.StageArtifact{
		SpecID:    row.SpecID,
		Stage:     types.Stage(row.Stage),
		Role:      row.Role,
		RunID:     row.RunID,
		Content:   &payload,
		CreatedAt: row.CreatedAt,
	}, nil
}

// LatestRunID returns the run with the most recent artifact for (spec, stage)
func (s *SQLiteStore) LatestRunID(ctx context.Context, specID string, stage types.Stage) (string, error) {
	var row artifactRow
	err := s.pool.DB().WithContext(ctx).
		Where("spec_id = ? AND stage = ?", specID, string(stage)).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.RunID, nil
}

// SaveSynthesis persists a synthesis record, keyed by (spec, stage, run)
func (s *SQLiteStore) SaveSynthesis(ctx context.Context, rec *types.SynthesisRecord) error {
	if rec == nil {
		return ErrInvalidInput
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := synthesisRow{
		SpecID:     rec.SpecID,
		Stage:      string(rec.Stage),
		RunID:      rec.RunID,
		Status:     string(rec.Status),
		AgentCount: rec.AgentCount,
		Degraded:   rec.Degraded,
		Agreements: marshalStrings(rec.Agreements),
		Conflicts:  marshalStrings(rec.Conflicts),
		Missing:    marshalStrings(rec.Missing),
		Notes:      rec.Notes,
		CreatedAt:  createdAt,
	}

	return s.pool.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "spec_id"}, {Name: "stage"}, {Name: "run_id"},
			},
			UpdateAll: true,
		}).
		Create(&row).Error
}

// LatestSynthesis returns the most recently created synthesis for (spec, stage)
func (s *SQLiteStore) LatestSynthesis(ctx context.Context, specID string, stage types.Stage) (*types.SynthesisRecord, error) {
	var row synthesisRow
	err := s.pool.DB().WithContext(ctx).
		Where("spec_id = ? AND stage = ?", specID, string(stage)).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &types.SynthesisRecord{
		SpecID:     row.SpecID,
		Stage:      types.Stage(row.Stage),
		RunID:      row.RunID,
		Status:     types.SynthesisStatus(row.Status),
		AgentCount: row.AgentCount,
		Degraded:   row.Degraded,
		Agreements: unmarshalStrings(row.Agreements),
		Conflicts:  unmarshalStrings(row.Conflicts),
		Missing:    unmarshalStrings(row.Missing),
		Notes:      row.Notes,
		CreatedAt:  row.CreatedAt,
		Persisted:  true,
	}, nil
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalStrings(data string) []string {
	if data == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}

// Ensure SQLiteStore implements ResultStore
var _ ResultStore = (*SQLiteStore)(nil)

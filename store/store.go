package store

import (
	"context"
	"errors"
	"time"

	"github.com/specflow/specflow/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeSQLite StoreType = "sqlite"
	StoreTypeRedis  StoreType = "redis"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type" env:"TYPE"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir" env:"BASE_DIR"`

	// SQLite configuration (only used when Type is "sqlite")
	SQLite SQLiteStoreConfig `json:"sqlite" yaml:"sqlite" env:"SQLITE"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis" env:"REDIS"`
}

// SQLiteStoreConfig contains SQLite-specific configuration
type SQLiteStoreConfig struct {
	// Path is the database file path; ":memory:" opens an in-memory database
	Path string `json:"path" yaml:"path" env:"PATH"`

	// MaxOpenConns limits concurrent connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`

	// MaxIdleConns limits idle pooled connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`

	// HealthCheckInterval is how often the pool pings the database (0 disables)
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Host is the Redis server host
	Host string `json:"host" yaml:"host" env:"HOST"`

	// Port is the Redis server port
	Port int `json:"port" yaml:"port" env:"PORT"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password" env:"PASSWORD"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db" env:"DB"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/results",
		SQLite: SQLiteStoreConfig{
			Path:                "./data/results.db",
			MaxOpenConns:        1,
			MaxIdleConns:        1,
			HealthCheckInterval: 30 * time.Second,
		},
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "specflow:",
		},
	}
}

// ResultStore is the durable store for agent outputs and stage syntheses.
type ResultStore interface {
	// SaveExecution upserts an agent execution record keyed by agent ID.
	SaveExecution(ctx context.Context, exec *types.AgentExecution) error

	// GetExecution retrieves an execution record by agent ID.
	GetExecution(ctx context.Context, agentID string) (*types.AgentExecution, error)

	// PruneExecutions removes terminal execution records spawned earlier
	// than olderThan ago. Maintenance only; never called during an active
	// stage.
	PruneExecutions(ctx context.Context, olderThan time.Duration) (int, error)

	// UpsertArtifact writes a stage artifact. Re-issuing the same key
	// replaces the content instead of adding a row.
	UpsertArtifact(ctx context.Context, artifact *types.StageArtifact) error

	// ListArtifacts returns all artifacts for (spec, stage, run).
	ListArtifacts(ctx context.Context, specID string, stage types.Stage, runID string) ([]*types.StageArtifact, error)

	// LatestRunID returns the most recent run that produced artifacts for
	// (spec, stage), or ErrNotFound when none exist.
	LatestRunID(ctx context.Context, specID string, stage types.Stage) (string, error)

	// SaveSynthesis persists a synthesis record. Writes are keyed by
	// (spec, stage, run) so retried writes are safe; records for distinct
	// runs accumulate (append-only history).
	SaveSynthesis(ctx context.Context, rec *types.SynthesisRecord) error

	// LatestSynthesis returns the most recently created synthesis for
	// (spec, stage), or ErrNotFound when none exist.
	LatestSynthesis(ctx context.Context, specID string, stage types.Stage) (*types.SynthesisRecord, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close closes the store and releases resources
	Close() error
}

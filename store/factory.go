package store

import (
	"fmt"

	"go.uber.org/zap"
)

// NewResultStore creates a new ResultStore based on the configuration
func NewResultStore(config StoreConfig, logger *zap.Logger) (ResultStore, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(config)
	case StoreTypeSQLite:
		return NewSQLiteStore(config, logger)
	case StoreTypeRedis:
		return NewRedisStore(config)
	default:
		return nil, fmt.Errorf("unsupported result store type: %s", config.Type)
	}
}

// MustNewResultStore creates a new ResultStore or panics on error.
//
// WARNING: This function should ONLY be used during application
// initialization. For runtime store creation, use NewResultStore instead.
func MustNewResultStore(config StoreConfig, logger *zap.Logger) ResultStore {
	s, err := NewResultStore(config, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create result store: %v", err))
	}
	return s
}

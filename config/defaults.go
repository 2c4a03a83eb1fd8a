package config

import (
	"time"

	"github.com/specflow/specflow/internal/logging"
	"github.com/specflow/specflow/store"
	"github.com/specflow/specflow/types"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Pipeline: DefaultPipelineConfig(),
		Store:    store.DefaultStoreConfig(),
		Log:      logging.DefaultConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// DefaultPipelineConfig returns the default pipeline configuration.
// The implement stage carries an extra coding agent; all other stages
// run the three reviewer roles.
func DefaultPipelineConfig() PipelineConfig {
	reviewers := []string{"gemini", "claude", "gpt-pro"}
	stages := make([]StageRoster, 0, len(types.Stages()))
	for _, stage := range types.Stages() {
		roles := reviewers
		if stage == types.StageImplement {
			roles = []string{"gemini", "claude", "gpt-codex", "gpt-pro"}
		}
		stages = append(stages, StageRoster{Stage: stage, Roles: roles})
	}

	return PipelineConfig{
		Stages:          stages,
		StageTimeout:    2 * time.Minute,
		CollectWait:     10 * time.Second,
		CollectPoll:     250 * time.Millisecond,
		BlockOnDegraded: false,
	}
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "specflow",
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/specflow/specflow/internal/logging"
	"github.com/specflow/specflow/store"
	"github.com/specflow/specflow/types"
)

// Config is the complete pipeline configuration
type Config struct {
	// Pipeline controls stage rosters, timeouts, and gate policy
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Store configures the durable result store
	Store store.StoreConfig `yaml:"store" env:"STORE"`

	// Log configures the root logger
	Log logging.Config `yaml:"log" env:"LOG"`

	// Metrics configures the Prometheus collector
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// PipelineConfig controls the coordinator and its quality gates
type PipelineConfig struct {
	// Stages is the agent roster per stage. Role order here fixes the
	// deterministic payload order used by consensus synthesis.
	Stages []StageRoster `yaml:"stages"`

	// StageTimeout is the maximum wait for agent completions before the
	// coordinator proceeds with a partial payload set
	StageTimeout time.Duration `yaml:"stage_timeout" env:"STAGE_TIMEOUT"`

	// CollectWait is the bounded wait the payload collector spends before
	// returning a partial result
	CollectWait time.Duration `yaml:"collect_wait" env:"COLLECT_WAIT"`

	// CollectPoll is the polling interval of the collector's bounded wait
	CollectPoll time.Duration `yaml:"collect_poll" env:"COLLECT_POLL"`

	// BlockOnDegraded makes a degraded synthesis block the stage instead
	// of advancing it
	BlockOnDegraded bool `yaml:"block_on_degraded" env:"BLOCK_ON_DEGRADED"`
}

// StageRoster names the agent roles expected for one stage
type StageRoster struct {
	Stage types.Stage `yaml:"stage"`
	Roles []string    `yaml:"roles"`
}

// MetricsConfig configures the Prometheus collector
type MetricsConfig struct {
	// Enabled toggles metrics collection
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Namespace is the Prometheus metric namespace
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// RolesFor returns the expected agent roles for a stage, in roster order.
// Returns nil for stages with no configured roster.
func (p PipelineConfig) RolesFor(stage types.Stage) []string {
	for _, roster := range p.Stages {
		if roster.Stage == stage {
			return roster.Roles
		}
	}
	return nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if len(c.Pipeline.Stages) == 0 {
		return fmt.Errorf("pipeline: at least one stage roster is required")
	}

	seen := make(map[types.Stage]bool)
	for _, roster := range c.Pipeline.Stages {
		if !roster.Stage.Valid() {
			return fmt.Errorf("pipeline: unknown stage %q", roster.Stage)
		}
		if seen[roster.Stage] {
			return fmt.Errorf("pipeline: duplicate roster for stage %q", roster.Stage)
		}
		seen[roster.Stage] = true

		if len(roster.Roles) == 0 {
			return fmt.Errorf("pipeline: stage %q has an empty roster", roster.Stage)
		}
		roles := make(map[string]bool)
		for _, role := range roster.Roles {
			if role == "" {
				return fmt.Errorf("pipeline: stage %q has an empty role name", roster.Stage)
			}
			if roles[role] {
				return fmt.Errorf("pipeline: stage %q lists role %q twice", roster.Stage, role)
			}
			roles[role] = true
		}
	}

	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("pipeline: stage_timeout must be positive")
	}
	if c.Pipeline.CollectWait < 0 {
		return fmt.Errorf("pipeline: collect_wait must not be negative")
	}
	if c.Pipeline.CollectPoll <= 0 {
		return fmt.Errorf("pipeline: collect_poll must be positive")
	}

	return nil
}

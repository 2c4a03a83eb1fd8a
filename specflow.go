// Package specflow orchestrates multi-agent spec pipelines: it spawns a
// roster of agents per stage, captures each result exactly once, synthesizes
// a deterministic consensus, and gates stage advancement on the persisted
// outcome.
//
// Quick start:
//
//	cfg := config.DefaultConfig()
//	sys, err := specflow.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sys.Close()
//
//	sys.Sandbox.RegisterAgent("claude", myClaudeAgent)
//	outcome, err := sys.RunStage(ctx, "SPEC-001", "spec-plan")
package specflow

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/specflow/specflow/config"
	"github.com/specflow/specflow/internal/logging"
	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/pipeline"
	"github.com/specflow/specflow/sandbox"
	"github.com/specflow/specflow/store"
)

// Version is the library version.
const Version = "0.3.0"

// System is a fully wired pipeline: coordinator, sandbox, store, logging,
// and metrics built from one configuration.
type System struct {
	Config      *config.Config
	Logger      *zap.Logger
	Store       store.ResultStore
	Sandbox     *sandbox.InProcess
	Coordinator *pipeline.Coordinator

	registry *prometheus.Registry
}

// Open builds a System from the configuration. Register agent functions on
// the Sandbox before requesting stages.
func Open(cfg *config.Config) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	st, err := store.NewResultStore(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}

	reg := prometheus.NewRegistry()
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)
	}

	sb := sandbox.NewInProcess(logger)
	coord := pipeline.New(cfg.Pipeline, sb, st, logger, collector)
	sb.Bind(coord)

	logger.Info("specflow system ready",
		zap.String("version", Version),
		zap.String("store", string(cfg.Store.Type)))

	return &System{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Sandbox:     sb,
		Coordinator: coord,
		registry:    reg,
	}, nil
}

// RunStage runs one stage-advance attempt; the stage may be named in bare
// ("plan") or command ("spec-plan") form.
func (s *System) RunStage(ctx context.Context, specID, stage string) (*pipeline.StageOutcome, error) {
	return s.Coordinator.RequestStageByName(ctx, specID, stage)
}

// Gatherer exposes the system's metrics for an HTTP /metrics endpoint.
func (s *System) Gatherer() prometheus.Gatherer {
	return s.registry
}

// Close releases the store and flushes logs.
func (s *System) Close() error {
	s.Sandbox.Wait()
	err := s.Store.Close()
	_ = s.Logger.Sync()
	return err
}

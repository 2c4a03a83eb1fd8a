// Package collector assembles the payload set for one stage run. It polls
// the in-memory registry until every expected role has reported or the
// bounded wait expires, then fills remaining gaps from the durable store.
package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/types"
)

// Result is the outcome of one payload collection.
type Result struct {
	// Payloads holds the collected payloads keyed by role.
	Payloads map[string]*types.AgentPayload

	// Missing lists expected roles with no payload, in roster order.
	Missing []string

	// Fallback is true when at least one payload came from the durable
	// store instead of the registry.
	Fallback bool

	// Complete is true when every expected role produced a payload.
	Complete bool
}

// Collector gathers agent payloads with a registry-first, store-second
// strategy.
type Collector struct {
	primary  Source
	fallback Source
	wait     time.Duration
	poll     time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Options tune the collector's bounded wait.
type Options struct {
	// Wait bounds how long Collect polls the primary source before
	// settling for a partial set. Zero means a single attempt.
	Wait time.Duration

	// Poll is the interval between primary polls.
	Poll time.Duration
}

// New creates a collector. The fallback source may be nil.
func New(primary, fallback Source, opts Options, logger *zap.Logger, m *metrics.Collector) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Poll <= 0 {
		opts.Poll = 100 * time.Millisecond
	}
	return &Collector{
		primary:  primary,
		fallback: fallback,
		wait:     opts.Wait,
		poll:     opts.Poll,
		logger:   logger.With(zap.String("component", "collector")),
		metrics:  m,
	}
}

// Collect gathers payloads for (spec, stage, run) until every role in
// expected has reported or the bounded wait expires. It never fails outright
// on missing agents; the caller decides what a partial set means.
func (c *Collector) Collect(ctx context.Context, specID string, stage types.Stage, runID string, expected []string) (*Result, error) {
	start := time.Now()
	deadline := start.Add(c.wait)

	collected := c.fetchPrimary(ctx, specID, stage, runID)
	for len(missingRoles(expected, collected)) > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.poll):
		}
		collected = c.fetchPrimary(ctx, specID, stage, runID)
	}

	res := &Result{Payloads: collected, Fallback: false}
	source := "registry"

	missing := missingRoles(expected, collected)
	if len(missing) > 0 && c.fallback != nil {
		if filled := c.fillFromFallback(ctx, specID, stage, runID, missing, collected); filled > 0 {
			res.Fallback = true
			source = "store"
			if len(collected) > filled {
				source = "mixed"
			}
			if c.metrics != nil {
				c.metrics.RecordFallback(stage.String())
			}
			c.logger.Warn("payloads recovered from durable store, registry state was incomplete",
				zap.String("spec_id", specID),
				zap.String("stage", stage.String()),
				zap.String("run_id", runID),
				zap.Int("recovered", filled))
		}
		missing = missingRoles(expected, collected)
	}

	res.Missing = missing
	res.Complete = len(missing) == 0

	if c.metrics != nil {
		c.metrics.RecordCollect(stage.String(), source, time.Since(start))
	}
	c.logger.Debug("payload collection finished",
		zap.String("spec_id", specID),
		zap.String("stage", stage.String()),
		zap.String("run_id", runID),
		zap.Int("collected", len(collected)),
		zap.Strings("missing", missing),
		zap.Bool("fallback", res.Fallback))
	return res, nil
}

func (c *Collector) fetchPrimary(ctx context.Context, specID string, stage types.Stage, runID string) map[string]*types.AgentPayload {
	if c.primary == nil {
		return map[string]*types.AgentPayload{}
	}
	payloads, err := c.primary.Fetch(ctx, specID, stage, runID)
	if err != nil {
		c.logger.Warn("primary payload source failed",
			zap.String("source", c.primary.Name()), zap.Error(err))
		return map[string]*types.AgentPayload{}
	}
	if payloads == nil {
		payloads = map[string]*types.AgentPayload{}
	}
	return payloads
}

// fillFromFallback merges store payloads into collected for the roles still
// missing. Registry payloads always win over store copies.
func (c *Collector) fillFromFallback(ctx context.Context, specID string, stage types.Stage, runID string, missing []string, collected map[string]*types.AgentPayload) int {
	payloads, err := c.fallback.Fetch(ctx, specID, stage, runID)
	if err != nil {
		c.logger.Error("fallback payload source failed",
			zap.String("source", c.fallback.Name()), zap.Error(err))
		return 0
	}
	filled := 0
	for _, role := range missing {
		if p, ok := payloads[role]; ok {
			collected[role] = p
			filled++
		}
	}
	return filled
}

// missingRoles returns the expected roles absent from collected, preserving
// roster order so synthesis output stays deterministic.
func missingRoles(expected []string, collected map[string]*types.AgentPayload) []string {
	var missing []string
	for _, role := range expected {
		if _, ok := collected[role]; !ok {
			missing = append(missing, role)
		}
	}
	return missing
}

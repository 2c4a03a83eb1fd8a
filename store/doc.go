// Package store provides durable, idempotent persistence for agent
// executions, stage artifacts, and stage syntheses.
//
// Every artifact write is an upsert keyed by (spec, stage, role, run), so
// retries and duplicate completion signals can re-issue writes without
// creating duplicate rows. Synthesis records are append-only per run.
//
// Supported backends:
// - Memory: for development and testing (default)
// - File: for single-node deployments
// - SQLite: for single-node deployments needing SQL queryability
// - Redis: for distributed deployments
package store

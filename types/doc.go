// Package types defines the shared data model for the specflow pipeline:
// stages, agent payloads, execution records, stage artifacts, synthesis
// records, and the structured error type used across the framework.
package types

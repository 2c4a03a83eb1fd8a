// Package config provides unified configuration loading for the pipeline.
// Values resolve in priority order: defaults, then the YAML file, then
// environment variable overrides.
package config

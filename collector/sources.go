package collector

import (
	"context"

	"github.com/specflow/specflow/registry"
	"github.com/specflow/specflow/store"
	"github.com/specflow/specflow/types"
)

// Source yields agent payloads for one stage run, keyed by role.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string

	// Fetch returns the payloads currently available for (spec, stage, run).
	// A partial map is not an error; collection decides completeness.
	Fetch(ctx context.Context, specID string, stage types.Stage, runID string) (map[string]*types.AgentPayload, error)
}

// RegistryLookup reads payloads from the live in-memory registry.
type RegistryLookup struct {
	reg *registry.Registry
}

// NewRegistryLookup wraps a registry as a payload source.
func NewRegistryLookup(reg *registry.Registry) *RegistryLookup {
	return &RegistryLookup{reg: reg}
}

func (s *RegistryLookup) Name() string { return "registry" }

// Fetch returns the registry's captured payloads. A registry for a different
// run yields nothing; payloads from old runs must never leak into a new one.
func (s *RegistryLookup) Fetch(_ context.Context, _ string, _ types.Stage, runID string) (map[string]*types.AgentPayload, error) {
	if s.reg == nil || s.reg.RunID() != runID {
		return nil, nil
	}
	return s.reg.Payloads(), nil
}

// StoreScan reads payloads from the durable result store's mirrored
// artifacts. It is the fallback when the registry has lost state.
type StoreScan struct {
	st store.ResultStore
}

// NewStoreScan wraps a result store as a payload source.
func NewStoreScan(st store.ResultStore) *StoreScan {
	return &StoreScan{st: st}
}

func (s *StoreScan) Name() string { return "store" }

func (s *StoreScan) Fetch(ctx context.Context, specID string, stage types.Stage, runID string) (map[string]*types.AgentPayload, error) {
	if s.st == nil {
		return nil, nil
	}
	artifacts, err := s.st.ListArtifacts(ctx, specID, stage, runID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.AgentPayload, len(artifacts))
	for _, a := range artifacts {
		if a.Content != nil {
			out[a.Role] = a.Content.Clone()
		}
	}
	return out, nil
}

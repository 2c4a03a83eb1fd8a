package types

import "time"

// StageArtifact is one agent's durable contribution to one pipeline stage.
//
// At most one artifact exists per (SpecID, Stage, Role, RunID); the result
// store enforces this as an upsert key, so re-issuing a write is safe.
type StageArtifact struct {
	SpecID    string        `json:"spec_id"`
	Stage     Stage         `json:"stage"`
	Role      string        `json:"role"`
	RunID     string        `json:"run_id"`
	Content   *AgentPayload `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
}

// Key returns the upsert key of the artifact.
func (a *StageArtifact) Key() ArtifactKey {
	return ArtifactKey{SpecID: a.SpecID, Stage: a.Stage, Role: a.Role, RunID: a.RunID}
}

// Validate checks that all key fields and the content are present.
func (a *StageArtifact) Validate() error {
	if a.SpecID == "" || a.Role == "" || a.RunID == "" || !a.Stage.Valid() {
		return NewError(ErrInvalidInput, "stage artifact missing key fields")
	}
	if a.Content == nil {
		return NewError(ErrInvalidInput, "stage artifact has no content")
	}
	return nil
}

// ArtifactKey identifies a stage artifact.
type ArtifactKey struct {
	SpecID string
	Stage  Stage
	Role   string
	RunID  string
}

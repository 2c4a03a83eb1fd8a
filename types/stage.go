package types

import "strings"

// Stage is a named phase of the pipeline. A spec advances through stages in
// the order returned by Stages().
type Stage string

const (
	StagePlan      Stage = "plan"
	StageTasks     Stage = "tasks"
	StageImplement Stage = "implement"
	StageValidate  Stage = "validate"
	StageAudit     Stage = "audit"
	StageUnlock    Stage = "unlock"
)

// Stages returns all pipeline stages in advancement order.
func Stages() []Stage {
	return []Stage{StagePlan, StageTasks, StageImplement, StageValidate, StageAudit, StageUnlock}
}

// ParseStage parses a stage name. Both bare names ("plan") and prefixed
// command names ("spec-plan") are accepted; "review" is an alias for audit.
func ParseStage(s string) (Stage, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plan", "spec-plan":
		return StagePlan, true
	case "tasks", "spec-tasks":
		return StageTasks, true
	case "implement", "spec-implement":
		return StageImplement, true
	case "validate", "spec-validate":
		return StageValidate, true
	case "audit", "review", "spec-audit", "spec-review":
		return StageAudit, true
	case "unlock", "spec-unlock":
		return StageUnlock, true
	default:
		return "", false
	}
}

// Next returns the stage after s, or false if s is the last stage or unknown.
func (s Stage) Next() (Stage, bool) {
	all := Stages()
	for i, stage := range all {
		if stage == s && i+1 < len(all) {
			return all[i+1], true
		}
	}
	return "", false
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	for _, stage := range Stages() {
		if stage == s {
			return true
		}
	}
	return false
}

func (s Stage) String() string {
	return string(s)
}

package types

import "encoding/json"

// Verdict is the structured decision an agent reports for a stage.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictUnknown Verdict = "unknown"
)

// ParseVerdict normalizes a verdict string. Anything unrecognized maps to
// VerdictUnknown rather than an error; agents are external and noisy.
func ParseVerdict(s string) Verdict {
	switch s {
	case "pass", "ok", "approve", "approved":
		return VerdictPass
	case "fail", "reject", "rejected", "blocked":
		return VerdictFail
	default:
		return VerdictUnknown
	}
}

// AgentPayload is one agent's contribution to one stage: a structured
// verdict, the decision fields consensus compares across agents, and the
// free-text rationale.
type AgentPayload struct {
	Agent     string            `json:"agent"`
	Stage     string            `json:"stage,omitempty"`
	Verdict   Verdict           `json:"verdict"`
	Decisions map[string]string `json:"decisions,omitempty"`
	Rationale string            `json:"rationale,omitempty"`
}

// ParseAgentPayload decodes an agent response into an AgentPayload. Agents
// may emit structured JSON or plain text; plain text is wrapped as a payload
// with VerdictUnknown so a misbehaving agent never aborts collection.
func ParseAgentPayload(role string, stage Stage, raw []byte) *AgentPayload {
	var p AgentPayload
	if err := json.Unmarshal(raw, &p); err == nil && (p.Verdict != "" || p.Decisions != nil || p.Rationale != "") {
		if p.Agent == "" {
			p.Agent = role
		}
		if p.Stage == "" {
			p.Stage = string(stage)
		}
		p.Verdict = ParseVerdict(string(p.Verdict))
		return &p
	}

	return &AgentPayload{
		Agent:     role,
		Stage:     string(stage),
		Verdict:   VerdictUnknown,
		Rationale: string(raw),
	}
}

// Clone returns a deep copy of the payload.
func (p *AgentPayload) Clone() *AgentPayload {
	if p == nil {
		return nil
	}
	out := *p
	if p.Decisions != nil {
		out.Decisions = make(map[string]string, len(p.Decisions))
		for k, v := range p.Decisions {
			out.Decisions[k] = v
		}
	}
	return &out
}

package models

import "fmt"

// AgentStatus is the terminal state of one analyzer run.
type AgentStatus string

const (
	AgentOK      AgentStatus = "ok"
	AgentFailed  AgentStatus = "failed"
	AgentSkipped AgentStatus = "skipped"
	AgentTimeout AgentStatus = "timeout"
)

// AgentResult is the immutable outcome of a single analyzer execution.
// Payload is present iff Status == ok; Confidence is meaningful iff ok.
type AgentResult struct {
	AgentID    string                 `json:"agent_id"`
	Status     AgentStatus            `json:"status"`
	Confidence float64                `json:"confidence,omitempty"` // 0-100
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	Model      string                 `json:"model,omitempty"`
}

// OKResult builds a successful result.
func OKResult(agentID string, confidence float64, payload map[string]interface{}) AgentResult {
	return AgentResult{AgentID: agentID, Status: AgentOK, Confidence: clampPct(confidence), Payload: payload}
}

// FailedResult builds a failed result carrying the error message.
func FailedResult(agentID string, err error) AgentResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return AgentResult{AgentID: agentID, Status: AgentFailed, Error: msg}
}

// SkippedResult marks an analyzer that never ran because a dependency failed.
func SkippedResult(agentID, reason string) AgentResult {
	return AgentResult{AgentID: agentID, Status: AgentSkipped, Error: reason}
}

// TimeoutResult marks an analyzer cut off by its deadline or by request
// cancellation.
func TimeoutResult(agentID string) AgentResult {
	return AgentResult{AgentID: agentID, Status: AgentTimeout, Error: "analyzer deadline exceeded"}
}

// Validate enforces the AgentResult invariants.
func (r AgentResult) Validate() error {
	switch r.Status {
	case AgentOK:
		if r.Payload == nil {
			return fmt.Errorf("agent %s: ok result without payload", r.AgentID)
		}
		if r.Error != "" {
			return fmt.Errorf("agent %s: ok result carries error %q", r.AgentID, r.Error)
		}
		if r.Confidence < 0 || r.Confidence > 100 {
			return fmt.Errorf("agent %s: confidence %.2f out of range", r.AgentID, r.Confidence)
		}
	case AgentFailed, AgentSkipped, AgentTimeout:
		if len(r.Payload) > 0 {
			return fmt.Errorf("agent %s: %s result carries payload", r.AgentID, r.Status)
		}
	default:
		return fmt.Errorf("agent %s: unknown status %q", r.AgentID, r.Status)
	}
	return nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Package ledger records executions of an agent workflow together with the
// per-layer sentinel results of the prompt and every agent step, and applies
// human overrides to them.
package ledger

import (
	"time"

	"github.com/af-corp/sentinel-gate/internal/types"
)

// PromptAgent is the agent name that addresses the prompt in an override.
const PromptAgent = "Prompt"

type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusBlocked    Status = "BLOCKED"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusCompleted  Status = "COMPLETED"
)

// Terminal reports whether no further steps or overrides are accepted.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Action is the gate decision for a step or a whole execution.
type Action string

const (
	ActionAllowed  Action = "allowed"
	ActionBlocked  Action = "blocked"
	ActionRejected Action = "rejected"
)

// Decision records who rejected something, when and why.
type Decision struct {
	Actor  string    `json:"actor,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// AgentStep is one agent's recorded output within an execution.
type AgentStep struct {
	AgentName      string               `json:"agent_name"`
	Task           string               `json:"task,omitempty"`
	Output         string               `json:"output,omitempty"`
	SentinelResult types.SentinelResult `json:"sentinel_result"`
	Action         Action               `json:"action"`
	Rejection      *Decision            `json:"rejection,omitempty"`
	RecordedAt     time.Time            `json:"recorded_at"`
}

// recomputeAction derives the step action from its layers.
func (s *AgentStep) recomputeAction() {
	switch {
	case s.Rejection != nil:
		s.Action = ActionRejected
	case s.SentinelResult.AnyFlagged():
		s.Action = ActionBlocked
	default:
		s.Action = ActionAllowed
	}
}

// Execution is the ledger document for one workflow run.
type Execution struct {
	ID             string               `json:"execution_id"`
	Prompt         string               `json:"prompt"`
	SentinelResult types.SentinelResult `json:"sentinel_result"`
	Agents         []AgentStep          `json:"agents"`
	OverallRisk    types.RiskTier       `json:"overall_risk"`
	OverallAction  Action               `json:"overall_action"`
	Status         Status               `json:"status"`
	FinalState     string               `json:"final_state,omitempty"`
	Rejection      *Decision            `json:"rejection,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Version        int64                `json:"version"`
}

// Overall is the aggregate view returned after an override.
type Overall struct {
	OverallAction Action         `json:"overall_action"`
	OverallRisk   types.RiskTier `json:"overall_risk"`
	Status        Status         `json:"status"`
}

func (e *Execution) Overall() Overall {
	return Overall{OverallAction: e.OverallAction, OverallRisk: e.OverallRisk, Status: e.Status}
}

// AnyFlagged reports whether a layer of the prompt or of any step that has
// not been rejected is still flagged.
func (e *Execution) AnyFlagged() bool {
	if e.SentinelResult.AnyFlagged() {
		return true
	}
	for i := range e.Agents {
		if e.Agents[i].Rejection == nil && e.Agents[i].SentinelResult.AnyFlagged() {
			return true
		}
	}
	return false
}

// Recompute derives overall risk and action from the current layer flags and
// reports whether either changed. A rejected execution always has action
// rejected.
func (e *Execution) Recompute() bool {
	risk := e.SentinelResult.MaxFlaggedRisk()
	for i := range e.Agents {
		step := &e.Agents[i]
		step.recomputeAction()
		if step.Rejection == nil {
			risk = types.MaxRisk(risk, step.SentinelResult.MaxFlaggedRisk())
		}
	}

	action := ActionAllowed
	switch {
	case e.Status == StatusRejected:
		action = ActionRejected
	case e.AnyFlagged():
		action = ActionBlocked
	}

	changed := risk != e.OverallRisk || action != e.OverallAction
	e.OverallRisk, e.OverallAction = risk, action
	return changed
}

// stepIndex returns the most recent step recorded by agent, or -1.
func (e *Execution) stepIndex(agent string) int {
	for i := len(e.Agents) - 1; i >= 0; i-- {
		if e.Agents[i].AgentName == agent {
			return i
		}
	}
	return -1
}

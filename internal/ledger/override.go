package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/af-corp/sentinel-gate/internal/types"
)

type OverrideAction string

const (
	OverrideAccept OverrideAction = "accept"
	OverrideReject OverrideAction = "reject"
)

// OverrideRequest is a human decision on one layer of the prompt or of an
// agent step.
type OverrideRequest struct {
	ExecutionID string         `json:"execution_id"`
	Layer       types.Layer    `json:"layer"`
	AgentName   string         `json:"agent_name"`
	Action      OverrideAction `json:"action"`
	Reason      string         `json:"reason,omitempty"`
	Actor       string         `json:"user_id,omitempty"`
}

// Validate checks the request shape. It never touches the store.
func (r *OverrideRequest) Validate() error {
	if strings.TrimSpace(r.ExecutionID) == "" {
		return validationf("execution_id is required")
	}
	if _, ok := types.ParseLayer(string(r.Layer)); !ok {
		return validationf("invalid layer %q", r.Layer)
	}
	if r.Action != OverrideAccept && r.Action != OverrideReject {
		return validationf("invalid action %q", r.Action)
	}
	if r.AgentName == "" {
		r.AgentName = PromptAgent
	}
	return nil
}

func (r OverrideRequest) targetsPrompt() bool {
	return strings.EqualFold(r.AgentName, PromptAgent)
}

// OverrideResult is returned to the caller after a successful override.
type OverrideResult struct {
	Status          string     `json:"status"`
	Overall         Overall    `json:"overall_status"`
	AgentsRemaining int        `json:"agents_remaining"`
	Execution       *Execution `json:"-"`
}

// applyOverride mutates e according to req and recomputes the aggregate.
func applyOverride(e *Execution, req OverrideRequest, now time.Time) error {
	if e.Status.Terminal() {
		return fmt.Errorf("override on %s execution %s: %w", e.Status, e.ID, ErrTerminal)
	}

	meta := types.OverrideMeta{
		Action: string(req.Action),
		Reason: req.Reason,
		Actor:  req.Actor,
		At:     now,
	}

	var step *AgentStep
	idx := -1
	if !req.targetsPrompt() {
		idx = e.stepIndex(req.AgentName)
		if idx < 0 {
			return fmt.Errorf("agent step %q in execution %s: %w", req.AgentName, e.ID, ErrNotFound)
		}
		step = &e.Agents[idx]
	}

	switch req.Action {
	case OverrideAccept:
		result := &e.SentinelResult
		if step != nil {
			result = &step.SentinelResult
		}
		layer, err := result.Layer(req.Layer)
		if err != nil {
			return validationf("%v", err)
		}
		layer.Clear(meta)
		if e.Status == StatusBlocked && !e.AnyFlagged() {
			e.Status = StatusApproved
		}

	case OverrideReject:
		decision := &Decision{Actor: req.Actor, Reason: req.Reason, At: now}
		if step == nil {
			clearAll(&e.SentinelResult, meta)
			e.Agents = []AgentStep{}
		} else {
			e.Agents = e.Agents[:idx+1]
			step = &e.Agents[idx]
			clearAll(&step.SentinelResult, meta)
			step.Rejection = decision
			clearAll(&e.SentinelResult, meta)
		}
		e.Status = StatusRejected
		e.Rejection = decision
	}

	e.Recompute()
	return nil
}

func clearAll(r *types.SentinelResult, meta types.OverrideMeta) {
	for _, l := range r.All() {
		l.Clear(meta)
	}
}

// Package workflow runs a sequence of agent nodes and lets hooks observe
// and halt the run between nodes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
)

// ErrHalted is returned by Run when a hook stopped the workflow. Hooks halt
// by returning an error that wraps it.
var ErrHalted = errors.New("workflow halted")

// State is the shared blackboard passed from node to node.
type State map[string]any

// Node is one agent in the workflow. It receives a copy of the current state
// and returns the keys it produced.
type Node struct {
	Name string
	Run  func(ctx context.Context, in State) (State, error)
}

// Hooks are called around a run and around every node.
type Hooks interface {
	BeforeRun(ctx context.Context, prompt string) error
	BeforeStep(ctx context.Context, node string, state State) error
	AfterStep(ctx context.Context, node string, output State) error
	AfterRun(ctx context.Context, final State) error
}

// NopHooks implements Hooks with no-ops, for embedding.
type NopHooks struct{}

func (NopHooks) BeforeRun(context.Context, string) error { return nil }

func (NopHooks) BeforeStep(context.Context, string, State) error { return nil }

func (NopHooks) AfterStep(context.Context, string, State) error { return nil }

func (NopHooks) AfterRun(context.Context, State) error { return nil }

// Engine runs nodes in order.
type Engine struct {
	nodes  []Node
	hooks  []Hooks
	logger *slog.Logger
}

func NewEngine(nodes []Node, logger *slog.Logger, hooks ...Hooks) *Engine {
	return &Engine{nodes: nodes, hooks: hooks, logger: logger}
}

// Run executes every node with prompt stored under "user_prompt" in the
// initial state. It returns the final state; on halt the state reached so
// far is returned with an error wrapping ErrHalted, and AfterRun still runs.
func (e *Engine) Run(ctx context.Context, prompt string, initial State) (State, error) {
	state := State{}
	maps.Copy(state, initial)
	state["user_prompt"] = prompt

	for _, h := range e.hooks {
		if err := h.BeforeRun(ctx, prompt); err != nil {
			return state, e.finish(ctx, state, err)
		}
	}

	for i, node := range e.nodes {
		for _, h := range e.hooks {
			if err := h.BeforeStep(ctx, node.Name, state); err != nil {
				return state, e.finish(ctx, state, err)
			}
		}

		e.logger.Info("workflow step", "step", i+1, "node", node.Name)
		out, err := node.Run(ctx, maps.Clone(state))
		if err != nil {
			return state, fmt.Errorf("node %s: %w", node.Name, err)
		}
		maps.Copy(state, out)

		for _, h := range e.hooks {
			if err := h.AfterStep(ctx, node.Name, out); err != nil {
				return state, e.finish(ctx, state, err)
			}
		}
	}

	return state, e.finish(ctx, state, nil)
}

// finish calls AfterRun when the run completed or was halted. Other hook
// errors are returned as they are.
func (e *Engine) finish(ctx context.Context, state State, cause error) error {
	if cause != nil && !errors.Is(cause, ErrHalted) {
		return cause
	}
	if cause != nil {
		e.logger.Warn("workflow halted", "reason", cause)
	}
	for _, h := range e.hooks {
		if err := h.AfterRun(ctx, state); err != nil {
			return errors.Join(cause, err)
		}
	}
	return cause
}

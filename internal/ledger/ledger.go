package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/telemetry"
	"github.com/af-corp/sentinel-gate/internal/types"
)

// Event describes a committed ledger change.
type Event struct {
	Type          string         `json:"type"`
	ExecutionID   string         `json:"execution_id"`
	Status        Status         `json:"status"`
	OverallAction Action         `json:"overall_action"`
	OverallRisk   types.RiskTier `json:"overall_risk"`
	Version       int64          `json:"version"`
	AgentName     string         `json:"agent_name,omitempty"`
	Layer         types.Layer    `json:"layer,omitempty"`
	Action        string         `json:"action,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	At            time.Time      `json:"at"`
}

const (
	EventCreated   = "execution.created"
	EventStep      = "execution.step_appended"
	EventOverride  = "execution.overridden"
	EventFinalized = "execution.finalized"
)

// Publisher receives events after each committed write.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// OverrideInput is what an Authorizer sees about a pending override.
type OverrideInput struct {
	Request        OverrideRequest `json:"request"`
	Status         Status          `json:"status"`
	LayerFlagged   bool            `json:"layer_flagged"`
	LayerCategory  types.RiskTier  `json:"layer_category"`
	AgentsRecorded int             `json:"agents_recorded"`
}

// Authorizer decides whether an override may be applied. A non-nil error
// that is not ErrForbidden is treated as a denial too.
type Authorizer interface {
	AuthorizeOverride(ctx context.Context, in OverrideInput) error
}

// Deps are optional collaborators of the Ledger.
type Deps struct {
	Policy  Authorizer
	Events  Publisher
	Metrics *telemetry.Metrics
	// Redact is applied to prompt and step output text before storage.
	Redact func(string) string
}

type Ledger struct {
	store  Store
	cfg    func() config.LedgerConfig
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, cfg func() config.LedgerConfig, deps Deps, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, cfg: cfg, deps: deps, logger: logger, now: time.Now}
}

type CreateRequest struct {
	ExecutionID    string               `json:"execution_id"`
	Prompt         string               `json:"prompt"`
	SentinelResult types.SentinelResult `json:"sentinel_result"`
}

// Create records a new execution in PROCESSING.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (*Execution, error) {
	if strings.TrimSpace(req.ExecutionID) == "" {
		return nil, validationf("execution_id is required")
	}
	now := l.now().UTC()
	e := &Execution{
		ID:             req.ExecutionID,
		Prompt:         l.redact(req.Prompt),
		SentinelResult: req.SentinelResult,
		Agents:         []AgentStep{},
		Status:         StatusProcessing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.Recompute()
	if err := l.store.Insert(ctx, e); err != nil {
		return nil, err
	}
	l.logger.Info("execution created", "execution_id", e.ID, "overall_action", e.OverallAction, "overall_risk", e.OverallRisk)
	l.publish(ctx, e, Event{Type: EventCreated})
	return e, nil
}

type StepRequest struct {
	ExecutionID    string               `json:"execution_id"`
	AgentName      string               `json:"agent_name"`
	Task           string               `json:"task,omitempty"`
	Output         string               `json:"output,omitempty"`
	SentinelResult types.SentinelResult `json:"sentinel_result"`
}

// AppendStep records an agent step. A blocked step blocks the execution.
func (l *Ledger) AppendStep(ctx context.Context, req StepRequest) (*Execution, error) {
	if strings.TrimSpace(req.ExecutionID) == "" {
		return nil, validationf("execution_id is required")
	}
	if strings.TrimSpace(req.AgentName) == "" {
		return nil, validationf("agent_name is required")
	}
	if strings.EqualFold(req.AgentName, PromptAgent) {
		return nil, validationf("agent_name %q is reserved", PromptAgent)
	}

	e, err := l.mutate(ctx, req.ExecutionID, func(e *Execution, now time.Time) error {
		if e.Status.Terminal() {
			return fmt.Errorf("append to %s execution %s: %w", e.Status, e.ID, ErrTerminal)
		}
		step := AgentStep{
			AgentName:      req.AgentName,
			Task:           req.Task,
			Output:         l.redact(req.Output),
			SentinelResult: req.SentinelResult,
			RecordedAt:     now,
		}
		step.recomputeAction()
		e.Agents = append(e.Agents, step)
		if step.Action == ActionBlocked {
			e.Status = StatusBlocked
		}
		e.Recompute()
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, e, Event{Type: EventStep, AgentName: req.AgentName})
	return e, nil
}

// Override applies a human decision. The request is validated before the
// store is read; the override and the aggregate recompute are written
// together in one compare-and-swap.
func (l *Ledger) Override(ctx context.Context, req OverrideRequest) (*OverrideResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e, err := l.mutate(ctx, req.ExecutionID, func(e *Execution, now time.Time) error {
		if err := l.authorize(ctx, e, req); err != nil {
			return err
		}
		return applyOverride(e, req, now)
	})
	if err != nil {
		return nil, err
	}

	status := "accepted"
	if req.Action == OverrideReject {
		status = "rejected"
	}
	l.deps.Metrics.RecordOverride(string(req.Layer), string(req.Action))
	l.logger.Info("override applied",
		"execution_id", e.ID,
		"agent_name", req.AgentName,
		"layer", req.Layer,
		"action", req.Action,
		"actor", req.Actor,
		"status", e.Status,
		"overall_action", e.OverallAction,
	)
	l.publish(ctx, e, Event{
		Type:      EventOverride,
		AgentName: req.AgentName,
		Layer:     req.Layer,
		Action:    string(req.Action),
		Actor:     req.Actor,
	})
	return &OverrideResult{
		Status:          status,
		Overall:         e.Overall(),
		AgentsRemaining: len(e.Agents),
		Execution:       e,
	}, nil
}

type FinalizeRequest struct {
	ExecutionID string `json:"execution_id"`
	FinalState  string `json:"final_state,omitempty"`
}

// Finalize marks the execution COMPLETED when nothing is flagged anywhere.
// Otherwise the status is left as it is. Finished executions are returned
// unchanged.
func (l *Ledger) Finalize(ctx context.Context, req FinalizeRequest) (*Execution, error) {
	if strings.TrimSpace(req.ExecutionID) == "" {
		return nil, validationf("execution_id is required")
	}
	e, err := l.mutate(ctx, req.ExecutionID, func(e *Execution, _ time.Time) error {
		if e.Status.Terminal() {
			return errUnchanged
		}
		if req.FinalState != "" {
			e.FinalState = req.FinalState
		}
		e.Recompute()
		if !e.AnyFlagged() {
			e.Status = StatusCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, e, Event{Type: EventFinalized})
	return e, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*Execution, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationf("execution_id is required")
	}
	return l.store.Get(ctx, id)
}

// List returns the most recent executions, newest first. Limits outside
// (0, max_limit] fall back to the configured default or maximum.
func (l *Ledger) List(ctx context.Context, limit int) ([]*Execution, error) {
	cfg := l.cfg()
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	if cfg.MaxLimit > 0 && limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}
	return l.store.List(ctx, limit)
}

var errUnchanged = errors.New("unchanged")

// mutate runs a read-modify-write on one execution, retrying on version
// conflicts.
func (l *Ledger) mutate(ctx context.Context, id string, fn func(*Execution, time.Time) error) (*Execution, error) {
	attempts := l.cfg().CASRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		e, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := e.Version
		now := l.now().UTC()

		err = fn(e, now)
		if errors.Is(err, errUnchanged) {
			return e, nil
		}
		if err != nil {
			return nil, err
		}

		e.UpdatedAt = now
		err = l.store.Update(ctx, e, expected)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			l.logger.Error("ledger write failed", "execution_id", id, "error", err)
			return nil, err
		}
		l.deps.Metrics.RecordLedgerConflict()
		l.logger.Warn("ledger version conflict", "execution_id", id, "attempt", attempt)
		if attempt >= attempts {
			return nil, fmt.Errorf("execution %s after %d attempts: %w", id, attempts, ErrVersionConflict)
		}
	}
}

func (l *Ledger) authorize(ctx context.Context, e *Execution, req OverrideRequest) error {
	if l.deps.Policy == nil {
		return nil
	}
	in := OverrideInput{Request: req, Status: e.Status, AgentsRecorded: len(e.Agents)}
	result := &e.SentinelResult
	if !req.targetsPrompt() {
		if i := e.stepIndex(req.AgentName); i >= 0 {
			result = &e.Agents[i].SentinelResult
		}
	}
	if layer, err := result.Layer(req.Layer); err == nil {
		in.LayerFlagged, in.LayerCategory = layer.Flagged, layer.Category
	}
	err := l.deps.Policy.AuthorizeOverride(ctx, in)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrForbidden) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrForbidden, err)
}

func (l *Ledger) publish(ctx context.Context, e *Execution, ev Event) {
	if l.deps.Events == nil {
		return
	}
	ev.ExecutionID = e.ID
	ev.Status = e.Status
	ev.OverallAction = e.OverallAction
	ev.OverallRisk = e.OverallRisk
	ev.Version = e.Version
	ev.At = e.UpdatedAt
	if err := l.deps.Events.Publish(ctx, ev); err != nil {
		l.logger.Warn("ledger event not published", "execution_id", e.ID, "type", ev.Type, "error", err)
	}
}

func (l *Ledger) redact(s string) string {
	if l.deps.Redact == nil {
		return s
	}
	return l.deps.Redact(s)
}

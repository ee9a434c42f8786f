package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/sentinel-gate/internal/codeanalysis"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/ledger"
	"github.com/af-corp/sentinel-gate/internal/scan"
	"github.com/af-corp/sentinel-gate/internal/types"
	"github.com/af-corp/sentinel-gate/internal/validator"
)

const (
	defaultTask      = "Processing workflow step"
	outputPreviewLen = 200
)

// skippedKeys are state keys that echo the input rather than agent output.
var skippedKeys = []string{"messages", "user_prompt", "task"}

// codeKeys are scanned as code regardless of content.
var codeKeys = []string{"code", "final_code"}

// Guard scans the prompt and every node's output, records them in the
// ledger and halts the workflow once the execution is blocked or rejected.
// A Guard serves one run at a time.
type Guard struct {
	scan      *scan.Service
	ledger    *ledger.Ledger
	validator *validator.Validator
	cfg       func() config.WorkflowConfig
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	executionID string
	session     *validator.Session
}

func NewGuard(svc *scan.Service, l *ledger.Ledger, v *validator.Validator, cfg func() config.WorkflowConfig, logger *slog.Logger) *Guard {
	return &Guard{scan: svc, ledger: l, validator: v, cfg: cfg, logger: logger, sleep: sleepCtx}
}

// ExecutionID returns the id of the current or last run.
func (g *Guard) ExecutionID() string { return g.executionID }

func (g *Guard) BeforeRun(ctx context.Context, prompt string) error {
	g.executionID = newExecutionID()
	g.session = g.validator.Session()

	rep, err := g.scan.ScanWithSession(ctx, scan.Request{Text: prompt, Direction: types.DirectionPrompt}, g.session)
	if err != nil {
		return fmt.Errorf("scan prompt: %w", err)
	}
	e, err := g.ledger.Create(ctx, ledger.CreateRequest{
		ExecutionID:    g.executionID,
		Prompt:         prompt,
		SentinelResult: rep.SentinelResult,
	})
	if err != nil {
		return fmt.Errorf("record prompt: %w", err)
	}
	g.logger.Info("workflow started", "execution_id", e.ID, "overall_action", e.OverallAction)
	return nil
}

// BeforeStep waits the configured pause so a reviewer can act, then halts
// if the execution is rejected or blocked.
func (g *Guard) BeforeStep(ctx context.Context, node string, _ State) error {
	if pause := g.cfg().StepPause; pause > 0 {
		if err := g.sleep(ctx, pause); err != nil {
			return err
		}
	}
	e, err := g.ledger.Get(ctx, g.executionID)
	if err != nil {
		return fmt.Errorf("read execution: %w", err)
	}
	if e.Status == ledger.StatusRejected || e.OverallAction == ledger.ActionBlocked {
		return fmt.Errorf("%w before %s: execution %s is %s", ErrHalted, node, e.ID, e.Status)
	}
	return nil
}

func (g *Guard) AfterStep(ctx context.Context, node string, output State) error {
	result := emptyResult()
	for _, key := range scannedKeys(output) {
		text := stringify(output[key])
		if strings.TrimSpace(text) == "" {
			continue
		}
		kind := codeanalysis.KindAuto
		if slices.Contains(codeKeys, key) {
			kind = codeanalysis.KindCode
		}
		rep, err := g.scan.ScanWithSession(ctx, scan.Request{Text: text, Direction: types.DirectionOutput, Kind: kind}, g.session)
		if err != nil {
			return fmt.Errorf("scan %s.%s: %w", node, key, err)
		}
		result.Merge(rep.SentinelResult)
	}

	e, err := g.ledger.AppendStep(ctx, ledger.StepRequest{
		ExecutionID:    g.executionID,
		AgentName:      node,
		Task:           taskOf(output),
		Output:         summarize(output),
		SentinelResult: result,
	})
	if err != nil {
		return fmt.Errorf("record step %s: %w", node, err)
	}

	step := e.Agents[len(e.Agents)-1]
	if step.Action == ledger.ActionBlocked || e.Status == ledger.StatusRejected {
		return fmt.Errorf("%w after %s: risk %s", ErrHalted, node, e.OverallRisk)
	}
	return nil
}

func (g *Guard) AfterRun(ctx context.Context, final State) error {
	e, err := g.ledger.Finalize(ctx, ledger.FinalizeRequest{
		ExecutionID: g.executionID,
		FinalState:  summarize(final),
	})
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	g.logger.Info("workflow finished", "execution_id", e.ID, "status", e.Status, "overall_risk", e.OverallRisk)
	return nil
}

func newExecutionID() string {
	return "exec-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func emptyResult() types.SentinelResult {
	low := types.LayerResult{Category: types.RiskLow}
	return types.SentinelResult{L1: low, L2: low, L3: low, Semantic: low}
}

func scannedKeys(output State) []string {
	keys := make([]string, 0, len(output))
	for k := range output {
		if !slices.Contains(skippedKeys, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func taskOf(output State) string {
	for _, key := range []string{"user_prompt", "task"} {
		if s, ok := output[key].(string); ok && s != "" {
			return s
		}
	}
	return defaultTask
}

// summarize renders output as JSON with every value clipped.
func summarize(output State) string {
	clipped := make(map[string]string, len(output))
	for k, v := range output {
		if k == "messages" {
			continue
		}
		clipped[k] = types.Clip(stringify(v), outputPreviewLen)
	}
	b, _ := json.Marshal(clipped)
	return string(b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

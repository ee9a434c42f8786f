// Package policy authorizes ledger overrides with OPA Rego policies.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/ledger"
)

const query = "[data.sentinel.override.allow, data.sentinel.override.reason]"

// Input is the document policies see as `input`.
type Input struct {
	Override ledger.OverrideInput `json:"override"`
	Time     Time                 `json:"time"`
}

type Time struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator implements ledger.Authorizer.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewEvaluator creates an evaluator. Call Load or LoadFromModules before use.
func NewEvaluator(cfg func() config.PolicyConfig, logger *slog.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, logger: logger, now: time.Now}
}

// LoadRegoFiles reads all .rego files from dir.
func LoadRegoFiles(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	modules := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		modules[entry.Name()] = string(data)
	}
	return modules, nil
}

// Load compiles the policies under the configured bundle path.
func (e *Evaluator) Load() error {
	path := e.cfg().BundlePath
	modules, err := LoadRegoFiles(path)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		e.logger.Warn("no rego files found, overrides will be denied", "path", path)
		return nil
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	e.logger.Info("opa policies loaded", "modules", len(modules), "path", path)
	return nil
}

// LoadFromModules compiles the given module sources, keyed by file name.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}
	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}
	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy. Without loaded policies everything is denied.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()
	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, "", fmt.Errorf("policy evaluation: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}
	arr, ok := results[0].Expressions[0].Value.([]any)
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// AuthorizeOverride implements ledger.Authorizer. Evaluation errors deny.
func (e *Evaluator) AuthorizeOverride(ctx context.Context, in ledger.OverrideInput) error {
	if !e.cfg().Enabled {
		return nil
	}
	now := e.now().UTC()
	allowed, reason, err := e.Evaluate(ctx, Input{
		Override: in,
		Time:     Time{Hour: now.Hour(), Day: now.Weekday().String()},
	})
	if err != nil {
		e.logger.Error("override policy evaluation failed", "execution_id", in.Request.ExecutionID, "error", err)
		return fmt.Errorf("%w: %v", ledger.ErrForbidden, err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ledger.ErrForbidden, reason)
	}
	return nil
}

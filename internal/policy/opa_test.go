package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/ledger"
	"github.com/af-corp/sentinel-gate/internal/types"
)

func testCfg(enabled bool) func() config.PolicyConfig {
	return func() config.PolicyConfig {
		return config.PolicyConfig{
			Enabled:           enabled,
			BundlePath:        "../../configs/policies",
			EvaluationTimeout: time.Second,
		}
	}
}

func loadBundled(t *testing.T) *Evaluator {
	t.Helper()
	e := NewEvaluator(testCfg(true), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func override(action ledger.OverrideAction, reason, actor string, category types.RiskTier) ledger.OverrideInput {
	return ledger.OverrideInput{
		Request: ledger.OverrideRequest{
			ExecutionID: "exec-1",
			Layer:       types.LayerL1,
			AgentName:   ledger.PromptAgent,
			Action:      action,
			Reason:      reason,
			Actor:       actor,
		},
		Status:        ledger.StatusBlocked,
		LayerFlagged:  true,
		LayerCategory: category,
	}
}

func TestBundledOverridePolicy(t *testing.T) {
	e := loadBundled(t)

	tests := []struct {
		name      string
		in        ledger.OverrideInput
		allowed   bool
		reasonHas string
	}{
		{"accept high", override(ledger.OverrideAccept, "", "", types.RiskHigh), true, ""},
		{"reject with reason", override(ledger.OverrideReject, "unsafe", "alice", types.RiskHigh), true, ""},
		{"reject without reason", override(ledger.OverrideReject, "  ", "alice", types.RiskHigh), false, "reason"},
		{"accept critical anonymously", override(ledger.OverrideAccept, "ok", "", types.RiskCritical), false, "actor"},
		{"accept critical with actor", override(ledger.OverrideAccept, "ok", "bob", types.RiskCritical), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.AuthorizeOverride(context.Background(), tt.in)
			if tt.allowed {
				if err != nil {
					t.Errorf("expected allowed, got %v", err)
				}
				return
			}
			if !errors.Is(err, ledger.ErrForbidden) {
				t.Fatalf("got %v, want ErrForbidden", err)
			}
			if !strings.Contains(err.Error(), tt.reasonHas) {
				t.Errorf("error %q does not mention %q", err, tt.reasonHas)
			}
		})
	}
}

func TestNoPoliciesDenies(t *testing.T) {
	e := NewEvaluator(testCfg(true), slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := e.AuthorizeOverride(context.Background(), override(ledger.OverrideAccept, "", "", types.RiskLow))
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Errorf("got %v, want ErrForbidden", err)
	}
}

func TestDisabledAllows(t *testing.T) {
	e := NewEvaluator(testCfg(false), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := e.AuthorizeOverride(context.Background(), override(ledger.OverrideReject, "", "", types.RiskLow)); err != nil {
		t.Errorf("disabled policy denied: %v", err)
	}
}

func TestTimeInput(t *testing.T) {
	e := NewEvaluator(testCfg(true), slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := e.LoadFromModules(map[string]string{"hours.rego": `
package sentinel.override

import rego.v1

default allow := false
default reason := "outside review hours"

allow if input.time.hour >= 9
reason := "" if allow
`})
	if err != nil {
		t.Fatalf("LoadFromModules: %v", err)
	}

	e.now = func() time.Time { return time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC) }
	if err := e.AuthorizeOverride(context.Background(), override(ledger.OverrideAccept, "", "", types.RiskLow)); !errors.Is(err, ledger.ErrForbidden) {
		t.Errorf("got %v, want ErrForbidden at 03:00", err)
	}
	e.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	if err := e.AuthorizeOverride(context.Background(), override(ledger.OverrideAccept, "", "", types.RiskLow)); err != nil {
		t.Errorf("got %v at 10:00", err)
	}
}

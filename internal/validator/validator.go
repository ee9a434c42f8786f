// Package validator is the multi-agent (L3) layer: an LLM first summarizes
// the accumulated agent output, then judges the summary.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/af-corp/sentinel-gate/internal/breaker"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/llm"
	"github.com/af-corp/sentinel-gate/internal/types"
)

const (
	// FallbackReason is reported whenever the validator cannot produce a verdict.
	FallbackReason = "Validator not configured; defaulting to safe."

	summaryPrompt = "Summarize the input succinctly in 1-2 sentences as 'summary'. Address any harmful intent."

	verdictPrompt = "You are a strict JSON-only validator. Perform TWO tasks on the given input: " +
		"(1) Decide if it contains malicious/unsafe or harmful intent as boolean 'label' (true if malicious or harmful). " +
		"(2) Provide a brief 2-3 sentence 'reason' and a risk 'category' among: Low, Medium, High. " +
		"If there is slightest hint of harmful intent, return label as true. " +
		"Return ONLY a JSON object with keys exactly: label (boolean), reason (string), category (string). " +
		"Do not include any extra commentary, preamble, or code fences."

	fallbackSummaryLen = 500
)

var firstObject = regexp.MustCompile(`\{[\s\S]*\}`)

// Result is the validator's verdict.
type Result struct {
	Summary  string         `json:"summary"`
	Label    bool           `json:"label"`
	Reason   string         `json:"reason"`
	Category types.RiskTier `json:"category"`
}

// Layer converts the result into a sentinel layer.
func (r Result) Layer() types.LayerResult {
	return types.LayerResult{Flagged: r.Label, Reason: r.Reason, Category: r.Category}
}

type verdict struct {
	Summary  *string `json:"summary"`
	Label    bool    `json:"label"`
	Reason   string  `json:"reason"`
	Category string  `json:"category"`
}

// Validator runs the two-step check.
type Validator struct {
	cfg     func() config.ValidatorConfig
	chat    llm.Chatter
	breaker *breaker.Breaker
	logger  *slog.Logger
}

// New returns a validator. A nil chat client makes every call fall back.
func New(cfg func() config.ValidatorConfig, chat llm.Chatter, b *breaker.Breaker, logger *slog.Logger) *Validator {
	return &Validator{cfg: cfg, chat: chat, breaker: b, logger: logger}
}

func (v *Validator) Configured() bool {
	return v != nil && v.chat != nil && v.cfg().Enabled
}

func fallback(summary string) Result {
	return Result{
		Summary:  truncate(summary, fallbackSummaryLen),
		Reason:   FallbackReason,
		Category: types.RiskLow,
	}
}

// Validate summarizes input and returns the model's verdict. Any failure
// yields the non-blocking fallback.
func (v *Validator) Validate(ctx context.Context, input string) Result {
	if !v.Configured() {
		return fallback(input)
	}
	cfg := v.cfg()

	var res Result
	err := v.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		var err error
		res, err = v.run(callCtx, input)
		return err
	})
	if err != nil {
		v.logger.Warn("DependencyUnavailable", "dependency", "validator", "error", err)
		return fallback(input)
	}
	return res
}

func (v *Validator) run(ctx context.Context, input string) (Result, error) {
	summary, err := v.chat.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: "Input to evaluate (may be a partial summary):\n" + strings.TrimSpace(input)},
		},
		Temperature: llm.Float(0.2),
	})
	if err != nil {
		return Result{}, fmt.Errorf("summarize: %w", err)
	}

	reply, err := v.chat.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: verdictPrompt},
			{Role: "user", Content: summary},
		},
		Temperature: llm.Float(0.2),
		JSON:        true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("verdict: %w", err)
	}

	vd, err := parseVerdict(reply)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Summary:  strings.TrimSpace(summary),
		Label:    vd.Label,
		Reason:   strings.TrimSpace(vd.Reason),
		Category: NormalizeCategory(vd.Category),
	}
	if vd.Summary != nil {
		res.Summary = strings.TrimSpace(*vd.Summary)
	}
	return res, nil
}

// parseVerdict decodes reply, falling back to the first {...} span when the
// model wrapped the object in prose.
func parseVerdict(reply string) (verdict, error) {
	text := strings.TrimSpace(reply)
	var vd verdict
	if err := json.Unmarshal([]byte(text), &vd); err == nil {
		return vd, nil
	}
	m := firstObject.FindString(text)
	if m == "" {
		return verdict{}, fmt.Errorf("no JSON object found in validator reply")
	}
	if err := json.Unmarshal([]byte(m), &vd); err != nil {
		return verdict{}, fmt.Errorf("decode validator reply: %w", err)
	}
	return vd, nil
}

// NormalizeCategory maps free-form High/Medium/Low answers onto risk tiers.
func NormalizeCategory(s string) types.RiskTier {
	c := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(c, "hi"):
		return types.RiskHigh
	case strings.HasPrefix(c, "me"):
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// Session threads a running summary through successive validations of the
// same execution.
type Session struct {
	v       *Validator
	mu      sync.Mutex
	summary string
}

func (v *Validator) Session() *Session { return &Session{v: v} }

// Validate judges the running summary extended with text, then replaces
// the running summary with the model's new one.
func (s *Session) Validate(ctx context.Context, text string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.v.Validate(ctx, s.summary+text)
	s.summary = res.Summary
	return res
}

func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Package semantic adapts an external safety classifier (Llama Guard or a
// compatible service) to the shared Finding shape.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/sentinel-gate/internal/breaker"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/llm"
	"github.com/af-corp/sentinel-gate/internal/types"
)

// Method is the detection_method of semantic findings.
const Method = "llamaguard"

// FocusCodeCommentsAndStrings tells the classifier the text is extracted
// from comments and string literals.
const FocusCodeCommentsAndStrings = "code_comments_and_strings"

// Hint carries the active policy to the classifier.
type Hint struct {
	Level      types.Level
	Categories []types.Category
	Direction  types.Direction
	Focus      string
}

func (h Hint) asMap() map[string]any {
	cats := make([]any, len(h.Categories))
	for i, c := range h.Categories {
		cats[i] = string(c)
	}
	return map[string]any{
		"level":      string(h.Level),
		"categories": cats,
		"direction":  string(h.Direction),
		"focus":      h.Focus,
	}
}

// Adapter calls the configured transport behind a circuit breaker. Any
// unavailability is reported as an absent finding, never as an error.
type Adapter struct {
	cfg       func() config.SemanticConfig
	transport Transport
	breaker   *breaker.Breaker
	logger    *slog.Logger
}

// NewAdapter wires an adapter around transport. A nil transport yields an
// adapter that always returns nil.
func NewAdapter(cfg func() config.SemanticConfig, transport Transport, b *breaker.Breaker, logger *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, transport: transport, breaker: b, logger: logger}
}

// NewTransport builds the transport named in cfg.
func NewTransport(cfg config.SemanticConfig) (Transport, error) {
	switch cfg.Transport {
	case "grpc":
		return DialGRPC(cfg.Endpoint)
	case "llm", "ollama":
		chat, err := llm.New(llm.Options{
			Transport: cfg.Transport,
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return NewChatTransport(chat), nil
	default:
		return nil, fmt.Errorf("semantic: unsupported transport %q", cfg.Transport)
	}
}

// Configured reports whether a call would be attempted.
func (a *Adapter) Configured() bool {
	return a != nil && a.transport != nil && a.cfg().Enabled
}

// Classify returns the classifier's finding for text, or nil when the
// classifier is disabled, unconfigured or unavailable.
func (a *Adapter) Classify(ctx context.Context, text string, hint Hint) *types.Finding {
	if !a.Configured() || text == "" {
		return nil
	}
	cfg := a.cfg()
	start := time.Now()

	var reply string
	err := a.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		var err error
		reply, err = a.transport.Classify(callCtx, text, hint)
		return err
	})
	if err != nil {
		a.logger.Warn("DependencyUnavailable",
			"dependency", "semantic",
			"transport", a.transport.Name(),
			"error", err,
		)
		return nil
	}

	v, err := ParseReply(reply)
	if err != nil {
		a.logger.Warn("DependencyUnavailable",
			"dependency", "semantic",
			"transport", a.transport.Name(),
			"error", err,
		)
		return nil
	}

	return &types.Finding{
		ContentPreview:  types.Preview(text),
		Flagged:         v.Flagged,
		Categories:      v.Categories,
		Reason:          v.Reason,
		Confidence:      v.Confidence,
		DetectionMethod: Method,
		ProcessingMs:    float64(time.Since(start).Microseconds()) / 1000,
	}
}

// Score is the value contributed to fusion by a semantic finding.
func Score(f *types.Finding) (float64, bool) {
	if f == nil {
		return 0, false
	}
	if !f.Flagged {
		return 0, true
	}
	c := DefaultConfidence
	if f.Confidence != nil {
		c = *f.Confidence
	}
	return min(c, 0.9), true
}

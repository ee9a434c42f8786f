// Package llm is a minimal chat client used by the semantic classifier and
// the multi-agent validator.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a non-streaming chat call.
type Request struct {
	Messages    []Message
	Temperature *float64
	JSON        bool
}

// Chatter sends a conversation and returns the assistant text.
type Chatter interface {
	Name() string
	Chat(ctx context.Context, req Request) (string, error)
}

// Options configure a transport.
type Options struct {
	Transport string
	Endpoint  string
	Model     string
	APIKey    string
	Timeout   time.Duration
}

// New builds a Chatter for the "llm" (OpenAI-compatible) or "ollama"
// transports.
func New(opts Options) (Chatter, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("llm: endpoint is required")
	}
	switch opts.Transport {
	case "llm", "openai", "":
		return NewOpenAI(opts), nil
	case "ollama":
		return NewOllama(opts)
	default:
		return nil, fmt.Errorf("llm: unsupported transport %q", opts.Transport)
	}
}

// Float is a helper for optional sampling parameters.
func Float(v float64) *float64 { return &v }

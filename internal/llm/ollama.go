package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama talks to a local Ollama daemon, e.g. serving llama-guard3.
type Ollama struct {
	client *api.Client
	model  string
}

func NewOllama(opts Options) (*Ollama, error) {
	base, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ollama endpoint: %w", err)
	}
	return &Ollama{
		client: api.NewClient(base, &http.Client{Timeout: opts.Timeout}),
		model:  opts.Model,
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Chat(ctx context.Context, req Request) (string, error) {
	msgs := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}
	stream := false
	chatReq := &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
	}
	if req.JSON {
		chatReq.Format = json.RawMessage(`"json"`)
	}
	if req.Temperature != nil {
		chatReq.Options = map[string]any{"temperature": *req.Temperature}
	}

	var final api.ChatResponse
	err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	text := strings.TrimSpace(final.Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

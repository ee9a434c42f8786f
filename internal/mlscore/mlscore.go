// Package mlscore queries an optional learned classifier that returns the
// probability a snippet is malicious.
package mlscore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/af-corp/sentinel-gate/internal/breaker"
	"github.com/af-corp/sentinel-gate/internal/config"
)

// MaxScore bounds the contribution of the classifier to fusion.
const MaxScore = 0.9

type scoreRequest struct {
	Code string `json:"code"`
}

type scoreResponse struct {
	MaliciousProbability *float64 `json:"malicious_probability"`
}

// Result is one scoring outcome.
type Result struct {
	Probability float64 `json:"probability"`
	Score       float64 `json:"score"`
}

// Client posts code to the scoring endpoint.
type Client struct {
	cfg     func() config.MLConfig
	http    *http.Client
	breaker *breaker.Breaker
	logger  *slog.Logger
}

func NewClient(cfg func() config.MLConfig, b *breaker.Breaker, logger *slog.Logger) *Client {
	return &Client{cfg: cfg, http: &http.Client{}, breaker: b, logger: logger}
}

func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	cfg := c.cfg()
	return cfg.Enabled && cfg.Endpoint != ""
}

// Score returns the classifier's result, or ok=false when the layer is off
// or the endpoint is unavailable.
func (c *Client) Score(ctx context.Context, code string) (Result, bool) {
	if !c.Enabled() {
		return Result{}, false
	}
	cfg := c.cfg()

	var p float64
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		var err error
		p, err = c.post(callCtx, cfg.Endpoint, code)
		return err
	})
	if err != nil {
		c.logger.Warn("DependencyUnavailable", "dependency", "ml", "error", err)
		return Result{}, false
	}
	return Result{Probability: p, Score: min(max(p, 0), MaxScore)}, true
}

func (c *Client) post(ctx context.Context, endpoint, code string) (float64, error) {
	data, err := json.Marshal(scoreRequest{Code: code})
	if err != nil {
		return 0, fmt.Errorf("marshal score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("read score response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("score endpoint returned status %d", resp.StatusCode)
	}
	var out scoreResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("unmarshal score response: %w", err)
	}
	if out.MaliciousProbability == nil {
		return 0, fmt.Errorf("score response missing malicious_probability")
	}
	return *out.MaliciousProbability, nil
}

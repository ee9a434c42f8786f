package similarity

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"net/url"
	"regexp"

	"github.com/ollama/ollama/api"

	"github.com/af-corp/sentinel-gate/internal/config"
)

// Embedder maps text to a fixed-dimension, L2-normalized vector. Name
// identifies the vector space; an index built under another name is rebuilt.
type Embedder interface {
	Name() string
	Dim() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds the embedder selected by cfg.Embedder.
func NewEmbedder(cfg config.SimilarityConfig) (Embedder, error) {
	switch cfg.Embedder {
	case "", "hashing":
		return NewHashingEmbedder(cfg.Dim), nil
	case "ollama":
		return NewOllamaEmbedder(cfg)
	}
	return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
}

var codeToken = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|\d+|[^\sA-Za-z0-9_]`)

// HashingEmbedder is a feature-hashing encoder over code tokens and token
// bigrams. Each feature lands in one bucket with a hash-derived sign.
type HashingEmbedder struct {
	dim int
}

func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 1024
	}
	return &HashingEmbedder{dim: dim}
}

func (e *HashingEmbedder) Name() string { return "hashing-v1" }
func (e *HashingEmbedder) Dim() int     { return e.dim }

func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *HashingEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	toks := codeToken.FindAllString(text, -1)
	for i, t := range toks {
		w := float32(1)
		if len(t) == 1 && !isWord(t[0]) {
			w = 0.5
		}
		e.add(vec, "u:"+t, w)
		if i > 0 {
			e.add(vec, "b:"+toks[i-1]+"\x00"+t, w)
		}
	}
	normalize(vec)
	return vec
}

func (e *HashingEmbedder) add(vec []float32, feature string, w float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := sum % uint64(e.dim)
	if sum>>63 == 1 {
		w = -w
	}
	vec[idx] += w
}

// OllamaEmbedder embeds with a model served by an Ollama daemon, such as
// nomic-embed-text. Dim must match the model's output or the requested
// truncation.
type OllamaEmbedder struct {
	client *api.Client
	model  string
	dim    int
}

func NewOllamaEmbedder(cfg config.SimilarityConfig) (*OllamaEmbedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama embedder needs a model")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("ollama embedder needs a positive dim, got %d", cfg.Dim)
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ollama endpoint: %w", err)
	}
	return &OllamaEmbedder{
		client: api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		model:  cfg.Model,
		dim:    cfg.Dim,
	}, nil
}

func (e *OllamaEmbedder) Name() string { return "ollama:" + e.model }
func (e *OllamaEmbedder) Dim() int     { return e.dim }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	truncate := true
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model:      e.model,
		Input:      text,
		Truncate:   &truncate,
		Dimensions: e.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("ollama embed: got %d embeddings, want 1", len(resp.Embeddings))
	}
	vec := resp.Embeddings[0]
	if len(vec) != e.dim {
		return nil, fmt.Errorf("ollama embed: model %s returned %d dims, want %d", e.model, len(vec), e.dim)
	}
	normalize(vec)
	return vec, nil
}

func isWord(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

package scan

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/af-corp/sentinel-gate/internal/breaker"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/fusion"
	"github.com/af-corp/sentinel-gate/internal/llm"
	"github.com/af-corp/sentinel-gate/internal/mlscore"
	"github.com/af-corp/sentinel-gate/internal/pattern"
	"github.com/af-corp/sentinel-gate/internal/semantic"
	"github.com/af-corp/sentinel-gate/internal/similarity"
	"github.com/af-corp/sentinel-gate/internal/telemetry"
	"github.com/af-corp/sentinel-gate/internal/tracer"
	"github.com/af-corp/sentinel-gate/internal/validator"
)

// Stack is a fully wired scan service plus the resources it owns.
type Stack struct {
	Service   *Service
	Validator *validator.Validator
	Breakers  *breaker.Set
	closers   []io.Closer
}

// Close releases transport connections.
func (s *Stack) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build wires every layer from configuration. Transports are created once;
// thresholds and switches are read through cfg on every call.
func Build(cfg func() *config.Config, corpus func() *config.CorpusConfig, metrics *telemetry.Metrics, logger *slog.Logger) (*Stack, error) {
	c := cfg()
	cb := c.Semantic.CircuitBreaker
	st := &Stack{Breakers: breaker.NewSet(cb.FailureThreshold, cb.RecoveryProbeInterval)}

	deps := Deps{
		Pattern: pattern.NewDetector(func() int { return cfg().Scan.MaxParallelChecks }),
		Fusion:  fusion.NewEngine(func() config.FusionConfig { return cfg().Fusion }),
		Metrics: metrics,
	}

	if c.Similarity.Enabled {
		emb, err := similarity.NewEmbedder(c.Similarity)
		if err != nil {
			return nil, fmt.Errorf("similarity embedder: %w", err)
		}
		deps.Similarity = similarity.NewDetector(
			emb,
			func() config.SimilarityConfig { return cfg().Similarity },
			func() []similarity.Snippet { return similarity.CorpusFromConfig(corpus()) },
			logger.With("component", "similarity"),
		)
	}

	deps.Runtime = tracer.NewRunner(func() config.RuntimeConfig { return cfg().Runtime }, logger.With("component", "tracer"))

	if c.Semantic.Enabled && c.Semantic.Endpoint != "" {
		tr, err := semantic.NewTransport(c.Semantic)
		if err != nil {
			return nil, fmt.Errorf("semantic transport: %w", err)
		}
		if cl, ok := tr.(io.Closer); ok {
			st.closers = append(st.closers, cl)
		}
		deps.Semantic = semantic.NewAdapter(
			func() config.SemanticConfig { return cfg().Semantic },
			tr, st.Breakers.Get("semantic"), logger.With("component", "semantic"),
		)
	}

	deps.ML = mlscore.NewClient(func() config.MLConfig { return cfg().ML }, st.Breakers.Get("ml"), logger.With("component", "ml"))

	if c.Validator.Enabled && c.Validator.Endpoint != "" {
		chat, err := llm.New(llm.Options{
			Transport: c.Validator.Transport,
			Endpoint:  c.Validator.Endpoint,
			Model:     c.Validator.Model,
			APIKey:    c.Validator.APIKey,
			Timeout:   c.Validator.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("validator client: %w", err)
		}
		st.Validator = validator.New(func() config.ValidatorConfig { return cfg().Validator },
			chat, st.Breakers.Get("validator"), logger.With("component", "validator"))
	}
	deps.Validator = st.Validator

	st.Service = NewService(func() config.ScanConfig { return cfg().Scan }, deps, logger.With("component", "scan"))
	return st, nil
}

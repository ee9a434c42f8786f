// Package similarity scores code by its nearest neighbors in a corpus of
// known-malicious snippets.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/af-corp/sentinel-gate/internal/config"
)

const (
	scoreFloor   = 0.4
	scoreSpan    = 0.5
	scoreCeiling = 0.9
)

// Result is the outcome of one query.
type Result struct {
	Hits  []Hit   `json:"hits,omitempty"`
	Best  float64 `json:"best"`
	Score float64 `json:"score"`
}

// Detector owns the live index. Queries read it lock-free; builds are
// serialized and published by swapping the pointer.
type Detector struct {
	embedder Embedder
	cfg      func() config.SimilarityConfig
	extra    func() []Snippet
	logger   *slog.Logger

	index   atomic.Pointer[Index]
	buildMu sync.Mutex
}

// NewDetector creates a detector. extra supplies corpus snippets beyond the
// built-in set and may be nil.
func NewDetector(e Embedder, cfg func() config.SimilarityConfig, extra func() []Snippet, logger *slog.Logger) *Detector {
	return &Detector{embedder: e, cfg: cfg, extra: extra, logger: logger}
}

// Query embeds snippet and searches the index, loading or building it on
// first use.
func (d *Detector) Query(ctx context.Context, snippet string) (Result, error) {
	ix := d.index.Load()
	if ix == nil {
		var err error
		if ix, err = d.ensure(ctx); err != nil {
			return Result{}, err
		}
	}
	q, err := d.embedder.Embed(ctx, snippet)
	if err != nil {
		return Result{}, fmt.Errorf("embed snippet: %w", err)
	}
	cfg := d.cfg()
	hits := ix.Search(q, cfg.TopK, cfg.Threshold)
	res := Result{Hits: hits}
	if len(hits) > 0 {
		res.Best = hits[0].Similarity
		res.Score = MapScore(res.Best, cfg.Threshold)
	}
	return res, nil
}

// MapScore maps a best similarity in [threshold, 1] linearly onto
// [0.4, 0.9].
func MapScore(best, threshold float64) float64 {
	if threshold >= 1 {
		return scoreCeiling
	}
	mapped := scoreFloor + scoreSpan*(best-threshold)/(1-threshold)
	return math.Round(math.Min(math.Max(mapped, 0), scoreCeiling)*1e4) / 1e4
}

// ensure loads the persisted index or builds a fresh one. Concurrent
// callers wait for a single build.
func (d *Detector) ensure(ctx context.Context) (*Index, error) {
	d.buildMu.Lock()
	defer d.buildMu.Unlock()
	if ix := d.index.Load(); ix != nil {
		return ix, nil
	}

	path := d.cfg().IndexPath
	if path != "" {
		ix, err := Load(path)
		switch {
		case err == nil:
			uerr := ix.usableWith(d.embedder)
			if uerr == nil {
				d.index.Store(ix)
				d.logger.Info("similarity index loaded", "path", path, "entries", ix.Len())
				return ix, nil
			}
			d.logger.Warn("similarity index unusable, rebuilding", "path", path, "error", uerr)
		case errors.Is(err, fs.ErrNotExist):
			d.logger.Info("similarity index absent, building", "path", path)
		default:
			d.logger.Warn("similarity index unreadable, rebuilding", "path", path, "error", err)
		}
	}
	return d.buildLocked(ctx)
}

// Rebuild builds the index from the current corpus, persists it and swaps
// it in. Queries keep using the previous index until the swap.
func (d *Detector) Rebuild(ctx context.Context) (*Index, error) {
	d.buildMu.Lock()
	defer d.buildMu.Unlock()
	return d.buildLocked(ctx)
}

func (d *Detector) buildLocked(ctx context.Context) (*Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	corpus := BuiltinCorpus()
	if d.extra != nil {
		corpus = append(corpus, d.extra()...)
	}
	ix, err := Build(ctx, d.embedder, corpus)
	if err != nil {
		return nil, err
	}

	if path := d.cfg().IndexPath; path != "" {
		if err := Save(path, ix); err != nil {
			d.logger.Error("failed to persist similarity index", "path", path, "error", err)
		}
	}
	d.index.Store(ix)
	d.logger.Info("similarity index built", "entries", ix.Len(), "embedder", ix.Embedder)
	return ix, nil
}

// CorpusFromConfig converts configured snippets.
func CorpusFromConfig(c *config.CorpusConfig) []Snippet {
	if c == nil {
		return nil
	}
	out := make([]Snippet, 0, len(c.Snippets))
	for _, s := range c.Snippets {
		out = append(out, Snippet{Name: s.Name, Code: s.Code})
	}
	return out
}

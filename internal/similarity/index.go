package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ErrIndexUnusable marks a persisted index that was built by a different
// embedder or is internally inconsistent.
var ErrIndexUnusable = errors.New("similarity index unusable")

// Index is a flat inner-product index over corpus snippets.
type Index struct {
	Embedder string      `json:"embedder"`
	Dim      int         `json:"dim"`
	BuiltAt  time.Time   `json:"built_at"`
	Entries  []Snippet   `json:"entries"`
	Vectors  [][]float32 `json:"vectors"`
}

// Hit is one corpus neighbor at or above the threshold.
type Hit struct {
	Name       string  `json:"name"`
	Code       string  `json:"code"`
	Similarity float64 `json:"similarity"`
}

// Build embeds every snippet.
func Build(ctx context.Context, e Embedder, corpus []Snippet) (*Index, error) {
	ix := &Index{Embedder: e.Name(), Dim: e.Dim(), BuiltAt: time.Now().UTC()}
	for _, s := range corpus {
		v, err := e.Embed(ctx, s.Code)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", s.Name, err)
		}
		ix.Entries = append(ix.Entries, s)
		ix.Vectors = append(ix.Vectors, v)
	}
	return ix, nil
}

// Len returns the number of indexed snippets.
func (ix *Index) Len() int { return len(ix.Entries) }

// Search returns up to topK neighbors of q with similarity >= threshold,
// best first.
func (ix *Index) Search(q []float32, topK int, threshold float64) []Hit {
	type scored struct {
		i   int
		sim float64
	}
	all := make([]scored, 0, len(ix.Vectors))
	for i, v := range ix.Vectors {
		all = append(all, scored{i, dot(q, v)})
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].sim > all[b].sim })

	var hits []Hit
	for _, s := range all {
		if len(hits) >= topK || s.sim < threshold {
			break
		}
		e := ix.Entries[s.i]
		hits = append(hits, Hit{Name: e.Name, Code: e.Code, Similarity: s.sim})
	}
	return hits
}

func (ix *Index) usableWith(e Embedder) error {
	if ix.Embedder != e.Name() || ix.Dim != e.Dim() {
		return fmt.Errorf("%w: built by %s/%d, want %s/%d", ErrIndexUnusable, ix.Embedder, ix.Dim, e.Name(), e.Dim())
	}
	if len(ix.Vectors) != len(ix.Entries) {
		return fmt.Errorf("%w: %d vectors for %d entries", ErrIndexUnusable, len(ix.Vectors), len(ix.Entries))
	}
	for _, v := range ix.Vectors {
		if len(v) != ix.Dim {
			return fmt.Errorf("%w: vector length %d", ErrIndexUnusable, len(v))
		}
	}
	return nil
}

// Save writes ix as zstd-compressed JSON, replacing path atomically.
func Save(path string, ix *Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(ix); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// Load reads an index written by Save.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var ix Index
	if err := json.NewDecoder(dec).Decode(&ix); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrIndexUnusable, err)
	}
	return &ix, nil
}

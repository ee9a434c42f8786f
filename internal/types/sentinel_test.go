package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestLayerResultUnmarshalAliases(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		flagged  bool
		category RiskTier
	}{
		{"canonical", `{"flagged":true,"reason":"x","category":"HIGH"}`, true, RiskHigh},
		{"label alias", `{"label":true,"reason":"x","category":"High"}`, true, RiskHigh},
		{"mixed case medium", `{"flagged":false,"category":"Medium"}`, false, RiskMedium},
		{"empty category", `{"flagged":false,"category":""}`, false, RiskLow},
		{"unknown category", `{"flagged":true,"category":"weird"}`, true, RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r LayerResult
			if err := json.Unmarshal([]byte(tt.in), &r); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if r.Flagged != tt.flagged {
				t.Errorf("Flagged = %v, want %v", r.Flagged, tt.flagged)
			}
			if r.Category != tt.category {
				t.Errorf("Category = %s, want %s", r.Category, tt.category)
			}
		})
	}
}

func TestSentinelResultLlamaGuardAlias(t *testing.T) {
	in := `{"L1":{"flagged":false,"category":"LOW"},"llama_guard":{"flagged":true,"reason":"S1","category":"HIGH"},"L2":{},"L3":{}}`
	var s SentinelResult
	if err := json.Unmarshal([]byte(in), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !s.Semantic.Flagged || s.Semantic.Reason != "S1" {
		t.Errorf("semantic = %+v, want flagged with reason S1", s.Semantic)
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["llama_guard"]; ok {
		t.Error("marshalled result should use the semantic key only")
	}
	if _, ok := m["semantic"]; !ok {
		t.Error("marshalled result missing semantic key")
	}
}

func TestSentinelResultMaxFlaggedRisk(t *testing.T) {
	s := SentinelResult{
		L1: LayerResult{Flagged: false, Category: RiskCritical},
		L2: LayerResult{Flagged: true, Category: RiskMedium},
		L3: LayerResult{Flagged: true, Category: RiskHigh},
	}
	if got := s.MaxFlaggedRisk(); got != RiskHigh {
		t.Errorf("MaxFlaggedRisk() = %s, want HIGH", got)
	}
	if !s.AnyFlagged() {
		t.Error("AnyFlagged() = false, want true")
	}

	var empty SentinelResult
	if got := empty.MaxFlaggedRisk(); got != RiskLow {
		t.Errorf("empty MaxFlaggedRisk() = %s, want LOW", got)
	}
}

func TestLayerResultClear(t *testing.T) {
	r := LayerResult{Flagged: true, Reason: "secret", Category: RiskHigh}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.Clear(OverrideMeta{Action: "accept", Actor: "alice", At: at})

	if r.Flagged || r.Category != RiskLow {
		t.Errorf("after Clear: flagged=%v category=%s", r.Flagged, r.Category)
	}
	if r.Override == nil {
		t.Fatal("override metadata not recorded")
	}
	if !r.Override.Previous.Flagged || r.Override.Previous.Category != RiskHigh {
		t.Errorf("previous = %+v, want flagged HIGH", r.Override.Previous)
	}
	if r.Reason != "secret" {
		t.Errorf("reason changed to %q", r.Reason)
	}
}

func TestSentinelResultMerge(t *testing.T) {
	a := SentinelResult{L1: LayerResult{Flagged: false, Reason: "", Category: RiskLow}}
	b := SentinelResult{L1: LayerResult{Flagged: true, Reason: "jailbreak", Category: RiskHigh}}
	a.Merge(b)
	a.Merge(SentinelResult{L1: LayerResult{Flagged: false, Reason: "jailbreak", Category: RiskMedium}})

	if !a.L1.Flagged || a.L1.Category != RiskHigh || a.L1.Reason != "jailbreak" {
		t.Errorf("merged L1 = %+v", a.L1)
	}
	if a.L2.Category != RiskLow {
		t.Errorf("merged L2 category = %q, want LOW", a.L2.Category)
	}
}

func TestSentinelResultLayer(t *testing.T) {
	var s SentinelResult
	for _, l := range Layers {
		p, err := s.Layer(l)
		if err != nil {
			t.Fatalf("Layer(%s): %v", l, err)
		}
		p.Flagged = true
	}
	if !s.L1.Flagged || !s.Semantic.Flagged || !s.L2.Flagged || !s.L3.Flagged {
		t.Error("Layer did not return pointers into the result")
	}
	if _, err := s.Layer("L9"); err == nil {
		t.Error("expected error for unknown layer")
	}
}

func TestFindingRisk(t *testing.T) {
	tests := []struct {
		f    Finding
		want RiskTier
	}{
		{Finding{Flagged: false, Categories: []Category{CategoryJailbreak}}, RiskLow},
		{Finding{Flagged: true, Categories: []Category{CategoryJailbreak}}, RiskHigh},
		{Finding{Flagged: true, Categories: []Category{CategoryObfuscation}}, RiskMedium},
		{Finding{Flagged: true}, RiskMedium},
	}
	for _, tt := range tests {
		if got := tt.f.Risk(); got != tt.want {
			t.Errorf("Risk(%v) = %s, want %s", tt.f.Categories, got, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	if got := Clip("héllo", 10); got != "héllo" {
		t.Errorf("Clip short = %q", got)
	}
	if got := Clip("héllo world", 5); got != "héllo..." {
		t.Errorf("Clip long = %q", got)
	}
}

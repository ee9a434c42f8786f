package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Layer names one of the four recorded detector layers.
type Layer string

const (
	LayerL1       Layer = "L1"
	LayerSemantic Layer = "semantic"
	LayerL2       Layer = "L2"
	LayerL3       Layer = "L3"
)

// Layers lists the recorded layers in their canonical order.
var Layers = []Layer{LayerL1, LayerSemantic, LayerL2, LayerL3}

func ParseLayer(s string) (Layer, bool) {
	for _, l := range Layers {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// OverrideMeta records a human decision applied to a layer, with the values
// the layer held before the decision.
type OverrideMeta struct {
	Action   string    `json:"action"`
	Reason   string    `json:"reason,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	At       time.Time `json:"at"`
	Previous Snapshot  `json:"previous"`
}

// Snapshot is the override-free part of a LayerResult.
type Snapshot struct {
	Flagged  bool     `json:"flagged"`
	Reason   string   `json:"reason"`
	Category RiskTier `json:"category"`
}

// LayerResult is the uniform per-layer record stored in the ledger.
type LayerResult struct {
	Flagged  bool          `json:"flagged"`
	Reason   string        `json:"reason"`
	Category RiskTier      `json:"category"`
	Override *OverrideMeta `json:"override,omitempty"`
}

// Snapshot returns the current values without override metadata.
func (r LayerResult) Snapshot() Snapshot {
	return Snapshot{Flagged: r.Flagged, Reason: r.Reason, Category: r.Category}
}

// Clear marks the layer as decided: not flagged, lowest tier.
func (r *LayerResult) Clear(meta OverrideMeta) {
	meta.Previous = r.Snapshot()
	r.Flagged = false
	r.Category = RiskLow
	r.Override = &meta
}

// UnmarshalJSON accepts "label" as a synonym for "flagged" and normalizes
// mixed-case or empty categories.
func (r *LayerResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Flagged  *bool         `json:"flagged"`
		Label    *bool         `json:"label"`
		Reason   string        `json:"reason"`
		Category string        `json:"category"`
		Override *OverrideMeta `json:"override"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Flagged = (raw.Flagged != nil && *raw.Flagged) || (raw.Label != nil && *raw.Label)
	r.Reason = raw.Reason
	r.Category = NormalizeRisk(raw.Category)
	r.Override = raw.Override
	return nil
}

// SentinelResult holds exactly one result per recorded layer.
type SentinelResult struct {
	L1       LayerResult `json:"L1"`
	Semantic LayerResult `json:"semantic"`
	L2       LayerResult `json:"L2"`
	L3       LayerResult `json:"L3"`
}

// UnmarshalJSON accepts "llama_guard" as the legacy key of the semantic layer.
func (s *SentinelResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		L1         LayerResult  `json:"L1"`
		Semantic   *LayerResult `json:"semantic"`
		LlamaGuard *LayerResult `json:"llama_guard"`
		L2         LayerResult  `json:"L2"`
		L3         LayerResult  `json:"L3"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.L1, s.L2, s.L3 = raw.L1, raw.L2, raw.L3
	switch {
	case raw.Semantic != nil:
		s.Semantic = *raw.Semantic
	case raw.LlamaGuard != nil:
		s.Semantic = *raw.LlamaGuard
	default:
		s.Semantic = LayerResult{Category: RiskLow}
	}
	return nil
}

// Layer returns a pointer to the named layer.
func (s *SentinelResult) Layer(l Layer) (*LayerResult, error) {
	switch l {
	case LayerL1:
		return &s.L1, nil
	case LayerSemantic:
		return &s.Semantic, nil
	case LayerL2:
		return &s.L2, nil
	case LayerL3:
		return &s.L3, nil
	default:
		return nil, fmt.Errorf("unknown layer %q", l)
	}
}

// All returns pointers to every layer in canonical order.
func (s *SentinelResult) All() []*LayerResult {
	return []*LayerResult{&s.L1, &s.Semantic, &s.L2, &s.L3}
}

// AnyFlagged reports whether any layer is flagged.
func (s SentinelResult) AnyFlagged() bool {
	return s.L1.Flagged || s.Semantic.Flagged || s.L2.Flagged || s.L3.Flagged
}

// MaxFlaggedRisk returns the highest category among flagged layers, LOW if none.
func (s SentinelResult) MaxFlaggedRisk() RiskTier {
	risk := RiskLow
	for _, l := range s.All() {
		if l.Flagged {
			risk = MaxRisk(risk, NormalizeRisk(string(l.Category)))
		}
	}
	return risk
}

// Merge folds other into s layer by layer: flags OR together, the higher
// category wins and non-empty reasons are joined.
func (s *SentinelResult) Merge(other SentinelResult) {
	mine, theirs := s.All(), other.All()
	for i := range mine {
		a, b := mine[i], theirs[i]
		a.Flagged = a.Flagged || b.Flagged
		a.Category = MaxRisk(NormalizeRisk(string(a.Category)), NormalizeRisk(string(b.Category)))
		a.Reason = joinReasons(a.Reason, b.Reason)
	}
}

func joinReasons(a, b string) string {
	switch {
	case b == "" || a == b:
		return a
	case a == "":
		return b
	case strings.Contains(a, b):
		return a
	default:
		return a + "; " + b
	}
}

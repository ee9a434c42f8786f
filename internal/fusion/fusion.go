// Package fusion combines per-layer scores into a single labelled verdict.
package fusion

import (
	"fmt"
	"math"
	"sort"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/types"
)

// Score layer names.
const (
	ScoreAST      = "ast"
	ScoreSubproc  = "subproc"
	ScoreEmbed    = "embed"
	ScoreRuntime  = "runtime_destruct"
	ScoreML       = "ml"
	ScoreSemantic = "semantic"
)

// ScoreLayers lists the fusable layers in reporting order.
var ScoreLayers = []string{ScoreAST, ScoreSubproc, ScoreEmbed, ScoreRuntime, ScoreML, ScoreSemantic}

// Label is the fused classification.
type Label string

const (
	LabelClean      Label = "CLEAN"
	LabelSuspicious Label = "SUSPICIOUS"
	LabelMalicious  Label = "MALICIOUS"
)

// Risk maps a label onto the risk tier recorded in L2.
func (l Label) Risk() types.RiskTier {
	switch l {
	case LabelMalicious:
		return types.RiskCritical
	case LabelSuspicious:
		return types.RiskHigh
	default:
		return types.RiskLow
	}
}

// Flagged reports whether the label should block.
func (l Label) Flagged() bool { return l != LabelClean }

// Input is what the layers produced. Scores holds only present layers.
type Input struct {
	Scores   map[string]float64
	Escalate bool
	Reasons  []string
	Findings []types.Finding
}

// Verdict is the immutable fused outcome.
type Verdict struct {
	Label     Label              `json:"label"`
	Fused     float64            `json:"fused_score"`
	Scores    map[string]float64 `json:"scores"`
	Escalated bool               `json:"escalated,omitempty"`
	Rule      string             `json:"rule"`
	Reasons   []string           `json:"reasons,omitempty"`
	Findings  []types.Finding    `json:"findings,omitempty"`
}

// Engine applies the configured weights and thresholds.
type Engine struct {
	cfg func() config.FusionConfig
}

func NewEngine(cfg func() config.FusionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Fuse computes the weighted mean over present layers and applies the
// label rules in order.
func (e *Engine) Fuse(in Input) Verdict {
	cfg := e.cfg()
	scores := make(map[string]float64, len(in.Scores))
	var num, den float64
	for name, s := range in.Scores {
		if name == ScoreSemantic && !cfg.IncludeSemantic {
			continue
		}
		w, ok := cfg.Weights[name]
		if !ok {
			continue
		}
		scores[name] = s
		num += w * s
		den += w
	}
	fused := 0.0
	if den > 0 {
		fused = round(num / den)
	}

	v := Verdict{
		Fused:     fused,
		Scores:    scores,
		Escalated: in.Escalate,
		Reasons:   in.Reasons,
		Findings:  in.Findings,
	}
	runtime, hasRuntime := scores[ScoreRuntime]
	ast, hasAST := scores[ScoreAST]
	subproc, hasSubproc := scores[ScoreSubproc]

	switch {
	case hasRuntime && runtime >= cfg.RuntimeCutoff:
		v.Label, v.Rule = LabelMalicious, fmt.Sprintf("runtime_destruct >= %g", cfg.RuntimeCutoff)
	case hasAST && ast >= cfg.MaliciousAST:
		v.Label, v.Rule = LabelMalicious, fmt.Sprintf("ast >= %g", cfg.MaliciousAST)
	case fused >= cfg.SuspiciousFused:
		v.Label, v.Rule = LabelSuspicious, fmt.Sprintf("fused >= %g", cfg.SuspiciousFused)
	case hasSubproc && subproc >= cfg.SuspiciousSubproc:
		v.Label, v.Rule = LabelSuspicious, fmt.Sprintf("subproc >= %g", cfg.SuspiciousSubproc)
	case in.Escalate:
		v.Label, v.Rule = LabelSuspicious, "escalated"
	default:
		v.Label, v.Rule = LabelClean, "below thresholds"
	}
	return v
}

// TopLayer returns the present layer with the highest score, preferring
// reporting order on ties.
func (v Verdict) TopLayer() (string, float64) {
	best, bestScore := "", -1.0
	for _, name := range ScoreLayers {
		if s, ok := v.Scores[name]; ok && s > bestScore {
			best, bestScore = name, s
		}
	}
	return best, max(bestScore, 0)
}

// Actions returns the sorted union of the category actions and the label's
// own action.
func Actions(table map[string][]string, categories []types.Category, label Label) []string {
	set := map[string]bool{}
	for _, c := range categories {
		for _, a := range table[string(c)] {
			set[a] = true
		}
	}
	switch label {
	case LabelMalicious:
		set["block"] = true
	case LabelSuspicious:
		set["require_review"] = true
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func round(v float64) float64 { return math.Round(v*1e4) / 1e4 }

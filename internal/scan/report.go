package scan

import (
	"github.com/af-corp/sentinel-gate/internal/codeanalysis"
	"github.com/af-corp/sentinel-gate/internal/fusion"
	"github.com/af-corp/sentinel-gate/internal/similarity"
	"github.com/af-corp/sentinel-gate/internal/tracer"
	"github.com/af-corp/sentinel-gate/internal/types"
)

// Request is one text to scan.
type Request struct {
	Text      string          `json:"text"`
	Filename  string          `json:"filename,omitempty"`
	Direction types.Direction `json:"direction"`
	Kind      string          `json:"kind,omitempty"`
}

// Report is the full outcome of a scan. The embedded Finding is the
// authoritative one; per-layer details follow. Reports handed out by the
// service, including cached ones, must be treated as read-only.
type Report struct {
	types.Finding

	Label          fusion.Label           `json:"label"`
	FusedScore     float64                `json:"fused_score"`
	Scores         map[string]float64     `json:"scores"`
	FusionRule     string                 `json:"fusion_rule,omitempty"`
	SentinelResult types.SentinelResult   `json:"sentinel_result"`
	Findings       []types.Finding        `json:"findings,omitempty"`
	Semantic       *types.Finding         `json:"semantic,omitempty"`
	Static         *codeanalysis.Analysis `json:"static,omitempty"`
	Similarity     *similarity.Result     `json:"similarity,omitempty"`
	Runtime        *tracer.Report         `json:"runtime,omitempty"`
	ML             *float64               `json:"ml_probability,omitempty"`
}

// Blocking reports whether any recorded layer is flagged.
func (r Report) Blocking() bool { return r.SentinelResult.AnyFlagged() }

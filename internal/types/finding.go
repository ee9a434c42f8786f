package types

import "unicode/utf8"

// Finding is one detector's output for one input.
type Finding struct {
	ContentPreview  string     `json:"content_preview"`
	Flagged         bool       `json:"flagged"`
	Categories      []Category `json:"categories"`
	Reason          string     `json:"reason,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	DetectionMethod string     `json:"detection_method,omitempty"`
	ProcessingMs    float64    `json:"processing_ms"`
	Actions         []string   `json:"actions"`
}

// Risk returns the highest tier among the finding's categories, or LOW when
// the finding is not flagged.
func (f Finding) Risk() RiskTier {
	if !f.Flagged {
		return RiskLow
	}
	risk := RiskMedium
	for _, c := range f.Categories {
		risk = MaxRisk(risk, c.Risk())
	}
	return risk
}

// Float returns a pointer to v, for optional confidence values.
func Float(v float64) *float64 { return &v }

const previewLen = 120

// Clip shortens s to n runes, appending "..." when it was cut.
func Clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// Preview clips s to the standard preview length.
func Preview(s string) string { return Clip(s, previewLen) }

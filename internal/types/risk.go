package types

import "strings"

// RiskTier is the coarse severity attached to a layer result and to an execution.
type RiskTier string

const (
	RiskLow      RiskTier = "LOW"
	RiskMedium   RiskTier = "MEDIUM"
	RiskHigh     RiskTier = "HIGH"
	RiskCritical RiskTier = "CRITICAL"
)

// Level returns a numeric level for comparison.
// Higher values mean more severe.
func (r RiskTier) Level() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast returns true if r is as severe as other or more.
func (r RiskTier) AtLeast(other RiskTier) bool {
	return r.Level() >= other.Level()
}

// ParseRiskTier accepts the canonical tiers case-insensitively, plus the
// "Low"/"Medium"/"High" spellings produced by LLM validators and "MED".
func ParseRiskTier(s string) (RiskTier, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, true
	case "MEDIUM", "MED":
		return RiskMedium, true
	case "HIGH":
		return RiskHigh, true
	case "CRITICAL":
		return RiskCritical, true
	default:
		return "", false
	}
}

// NormalizeRisk maps s to a tier, falling back to LOW for empty or unknown values.
func NormalizeRisk(s string) RiskTier {
	if r, ok := ParseRiskTier(s); ok {
		return r
	}
	return RiskLow
}

// MaxRisk returns the more severe of a and b.
func MaxRisk(a, b RiskTier) RiskTier {
	if b.Level() > a.Level() {
		return b
	}
	return a
}

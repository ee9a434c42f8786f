package semantic

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/af-corp/sentinel-gate/internal/types"
)

// DefaultConfidence is attached to plain-text verdicts, which carry none.
const DefaultConfidence = 0.8

var hazardCode = regexp.MustCompile(`(?i)\bS(1[0-4]|[1-9])\b`)

// Verdict is a parsed classifier reply.
type Verdict struct {
	Flagged    bool
	Categories []types.Category
	Reason     string
	Confidence *float64
}

type jsonVerdict struct {
	Flagged    *bool    `json:"flagged"`
	Label      *bool    `json:"label"`
	Categories []string `json:"categories"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

// ParseReply accepts either the Llama Guard plain form ("safe", or "unsafe"
// followed by hazard codes) or a JSON object {flagged, categories, reason,
// confidence}.
func ParseReply(reply string) (Verdict, error) {
	s := strings.TrimSpace(reply)
	if s == "" {
		return Verdict{}, fmt.Errorf("empty classifier reply")
	}
	if strings.HasPrefix(s, "{") {
		return parseJSON(s)
	}

	first, rest, _ := strings.Cut(s, "\n")
	switch strings.ToLower(strings.TrimSpace(first)) {
	case "safe":
		return Verdict{Reason: "classified safe"}, nil
	case "unsafe":
	default:
		return Verdict{}, fmt.Errorf("unrecognized classifier reply %q", types.Clip(s, 40))
	}

	v := Verdict{Flagged: true, Confidence: types.Float(DefaultConfidence)}
	var labels []string
	seen := map[types.Category]bool{}
	for _, m := range hazardCode.FindAllStringSubmatch(rest, -1) {
		h := hazards["S"+m[1]]
		labels = append(labels, "S"+m[1]+" "+h.Label)
		if !seen[h.Category] {
			seen[h.Category] = true
			v.Categories = append(v.Categories, h.Category)
		}
	}
	if len(v.Categories) == 0 {
		v.Categories = []types.Category{types.CategoryCustom}
		v.Reason = "classified unsafe"
	} else {
		v.Reason = "classified unsafe: " + strings.Join(labels, ", ")
	}
	return v, nil
}

func parseJSON(s string) (Verdict, error) {
	var jv jsonVerdict
	if err := json.Unmarshal([]byte(s), &jv); err != nil {
		return Verdict{}, fmt.Errorf("decode classifier reply: %w", err)
	}
	v := Verdict{Reason: jv.Reason, Confidence: jv.Confidence}
	switch {
	case jv.Flagged != nil:
		v.Flagged = *jv.Flagged
	case jv.Label != nil:
		v.Flagged = *jv.Label
	}
	for _, c := range jv.Categories {
		cat, ok := types.ParseCategory(c)
		if !ok {
			cat = types.CategoryCustom
		}
		v.Categories = append(v.Categories, cat)
	}
	if v.Confidence != nil {
		c := min(max(*v.Confidence, 0), 1)
		v.Confidence = &c
	}
	return v, nil
}

// Package codeanalysis inspects Python-shaped code for destructive SQL and
// risky process spawning.
package codeanalysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/af-corp/sentinel-gate/internal/pysrc"
)

const (
	scoreLiteralSQL = 0.8
	scoreDynamicSQL = 0.6
	scoreParseFail  = 0.8
	subprocCap      = 0.9
)

// Analysis is the static result for one snippet.
type Analysis struct {
	SQL          []SQLFinding   `json:"sql,omitempty"`
	Spawns       []SpawnFinding `json:"spawns,omitempty"`
	ParseError   string         `json:"parse_error,omitempty"`
	Escalate     bool           `json:"escalate,omitempty"`
	ASTScore     float64        `json:"ast_score"`
	SubprocScore float64        `json:"subproc_score"`
}

// Analyze parses src and runs both sub-analyses. Unparsable source is
// treated as dangerous: it scores like literal destructive SQL and sets the
// escalation flag instead of returning an error.
func Analyze(src string) Analysis {
	f, err := pysrc.ParseFile(src)
	if err != nil {
		var se *pysrc.SyntaxError
		line := 0
		if errors.As(err, &se) {
			line = se.Line
		}
		return Analysis{
			SQL:        []SQLFinding{{Line: line, Snippet: "could not parse; escalate", Kind: SQLParseFailure}},
			ParseError: err.Error(),
			Escalate:   true,
			ASTScore:   scoreParseFail,
		}
	}

	a := Analysis{SQL: DetectSQL(f), Spawns: DetectSubprocess(f)}
	a.ASTScore = SQLScore(a.SQL)
	a.SubprocScore = SubprocessScore(a.Spawns)
	return a
}

// SQLScore is 0 without findings, 0.6 when any finding is dynamic SQL and
// 0.8 otherwise.
func SQLScore(findings []SQLFinding) float64 {
	if len(findings) == 0 {
		return 0
	}
	for _, f := range findings {
		if f.Kind == SQLDynamic {
			return scoreDynamicSQL
		}
	}
	return scoreLiteralSQL
}

// SubprocessScore sums per-call weights and caps the total.
func SubprocessScore(findings []SpawnFinding) float64 {
	score := 0.0
	for _, f := range findings {
		score += 0.15
		if f.BinHit {
			score += 0.25
		}
		if f.FlagHit {
			score += 0.20
		}
		if f.Dynamic {
			score += 0.20
		}
		if f.Callee == "os.system" || f.Callee == "subprocess.Popen" {
			score += 0.10
		}
		if (f.SensitiveBin == "sh" || f.SensitiveBin == "bash") && f.FlagHit {
			score += 0.15
		}
	}
	if len(findings) >= 2 {
		score += 0.10
	}
	return round(math.Min(score, subprocCap))
}

// Reasons renders findings as short human-readable lines.
func (a Analysis) Reasons() []string {
	var out []string
	for _, f := range a.SQL {
		switch f.Kind {
		case SQLParseFailure:
			out = append(out, "could not parse; escalate")
		case SQLLiteral:
			out = append(out, fmt.Sprintf("%s with literal %q (line %d)", f.Method, f.Snippet, f.Line))
		case SQLDynamic:
			out = append(out, fmt.Sprintf("%s with dynamic SQL %s (line %d)", f.Method, f.Snippet, f.Line))
		case SQLORMDelete:
			out = append(out, fmt.Sprintf("ORM delete %s (line %d)", f.Snippet, f.Line))
		}
	}
	for _, s := range a.Spawns {
		msg := fmt.Sprintf("%s(%s) (line %d)", s.Callee, s.Argv, s.Line)
		if s.SensitiveBin != "" {
			msg += " runs " + s.SensitiveBin
		}
		if s.Dynamic {
			msg += " with dynamic arguments"
		}
		out = append(out, msg)
	}
	return out
}

// round trims float noise from additive scoring.
func round(v float64) float64 { return math.Round(v*1e4) / 1e4 }

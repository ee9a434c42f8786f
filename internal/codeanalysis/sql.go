package codeanalysis

import (
	"regexp"
	"strings"

	"github.com/af-corp/sentinel-gate/internal/pysrc"
)

// SQL finding kinds.
const (
	SQLLiteral      = "literal"
	SQLDynamic      = "dynamic_sql"
	SQLORMDelete    = "orm_delete"
	SQLParseFailure = "parse_failure"
)

var (
	executeMethods   = map[string]bool{"execute": true, "executemany": true, "executescript": true}
	dangerousKeyword = regexp.MustCompile(`\b(drop|truncate|delete|alter|create|replace)\b`)
)

// SQLFinding is one risky SQL call site.
type SQLFinding struct {
	Line    int    `json:"line"`
	Method  string `json:"method,omitempty"`
	Snippet string `json:"snippet"`
	Kind    string `json:"kind"`
}

// DetectSQL finds execute-family calls whose first argument is a literal
// with a destructive keyword or is built at runtime, and any .delete() call.
// A literal first argument without a destructive keyword is not reported.
func DetectSQL(f *pysrc.File) []SQLFinding {
	var out []SQLFinding
	for _, c := range f.Calls() {
		attr, ok := c.Func.(*pysrc.Attr)
		if !ok {
			continue
		}
		name := strings.ToLower(attr.Name)
		if executeMethods[name] && len(c.Args) > 0 {
			switch arg := c.Args[0].(type) {
			case *pysrc.Str:
				sql := strings.ToLower(arg.Value)
				if dangerousKeyword.MatchString(sql) {
					out = append(out, SQLFinding{Line: c.Line, Method: name, Snippet: strings.TrimSpace(sql), Kind: SQLLiteral})
				}
			default:
				out = append(out, SQLFinding{Line: c.Line, Method: name, Snippet: f.Source(arg), Kind: SQLDynamic})
			}
		}
		if name == "delete" {
			out = append(out, SQLFinding{Line: c.Line, Method: name, Snippet: f.Source(c.Func), Kind: SQLORMDelete})
		}
	}
	return out
}

package codeanalysis

import (
	"path"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/af-corp/sentinel-gate/internal/pysrc"
)

var (
	sensitiveBins = []string{
		"rm", "rmdir", "psql", "mysql", "mongo", "redis-cli", "pg_dump", "pg_restore",
		"dropdb", "sh", "bash", "curl", "wget", "nc", "python", "pip",
	}
	sensitiveFlags = map[string]bool{
		"-rf": true, "--recursive": true, "--force": true, "--execute": true, "-e": true, "-c": true,
	}
	shellInterpreters = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true}
	argSplit          = regexp.MustCompile(`[\s,;]+`)
)

// SpawnFinding is one process-spawning call site.
type SpawnFinding struct {
	Line         int    `json:"line"`
	Callee       string `json:"callee"`
	Argv         string `json:"argv"`
	Dynamic      bool   `json:"dynamic_args"`
	BinHit       bool   `json:"bin_hit"`
	FlagHit      bool   `json:"flag_hit"`
	SensitiveBin string `json:"sensitive_bin,omitempty"`
	Shell        bool   `json:"shell"`
}

// IsSpawnCallee reports whether a qualified callee starts a process.
func IsSpawnCallee(callee string) bool {
	switch {
	case strings.HasPrefix(callee, "subprocess."):
		return true
	case callee == "os.system", callee == "os.popen":
		return true
	case strings.HasPrefix(callee, "os.exec"), strings.HasPrefix(callee, "os.spawn"):
		return true
	}
	return false
}

// DetectSubprocess finds process-spawning calls and classifies their
// arguments.
func DetectSubprocess(f *pysrc.File) []SpawnFinding {
	var out []SpawnFinding
	for _, c := range f.Calls() {
		callee := f.Resolve(c.Func)
		if !IsSpawnCallee(callee) {
			continue
		}
		sf := SpawnFinding{Line: c.Line, Callee: callee, Dynamic: len(c.Args) == 0}
		for _, a := range c.Args {
			if !literalish(a) {
				sf.Dynamic = true
			}
		}
		if len(c.Args) > 0 {
			argv := c.Args[0]
			sf.Argv = f.Source(argv)
			text := literalText(argv)
			sf.BinHit, sf.FlagHit, sf.SensitiveBin = scanTokens(text)

			sf.Shell = callee == "os.system" || callee == "os.popen" || isTrue(c.Keyword("shell"))
			if sf.Shell && text != "" && literalish(argv) {
				pipeShell, dynamic := analyzeShell(text)
				if pipeShell != "" {
					sf.FlagHit = true
					sf.SensitiveBin = pipeShell
				}
				if dynamic {
					sf.Dynamic = true
				}
			}
		}
		out = append(out, sf)
	}
	return out
}

func isTrue(n pysrc.Node) bool {
	name, ok := n.(*pysrc.Name)
	return ok && name.ID == "True"
}

// literalish reports whether n is built only from constants.
func literalish(n pysrc.Node) bool {
	switch n := n.(type) {
	case *pysrc.Str, *pysrc.Num:
		return true
	case *pysrc.Name:
		return n.Const()
	case *pysrc.Seq:
		for _, e := range n.Elts {
			if !literalish(e) {
				return false
			}
		}
		return true
	case *pysrc.FString:
		return n.Fields == 0
	case *pysrc.BinOp:
		return (n.Op == "+" || n.Op == "*") && literalish(n.L) && literalish(n.R)
	}
	return false
}

// literalText collects the constant string text of an argument.
func literalText(n pysrc.Node) string {
	switch n := n.(type) {
	case *pysrc.Str:
		if n.Bytes {
			return ""
		}
		return n.Value
	case *pysrc.Seq:
		var parts []string
		for _, e := range n.Elts {
			if s, ok := e.(*pysrc.Str); ok && !s.Bytes {
				parts = append(parts, s.Value)
			}
		}
		return strings.Join(parts, " ")
	case *pysrc.FString:
		return strings.Join(n.Consts, "")
	case *pysrc.BinOp:
		if n.Op == "+" {
			return literalText(n.L) + literalText(n.R)
		}
	}
	return ""
}

// scanTokens looks for sensitive binaries and flags in literal argv text.
// The reported binary is the first hit, reduced to its base name.
func scanTokens(text string) (binHit, flagHit bool, bin string) {
	if text == "" {
		return false, false, ""
	}
	for _, tok := range argSplit.Split(text, -1) {
		t := strings.ToLower(strings.Trim(strings.TrimSpace(tok), `'"`))
		if t == "" {
			continue
		}
		if sensitiveFlags[t] {
			flagHit = true
		}
		if b := matchBin(t); b != "" {
			binHit = true
			if bin == "" {
				bin = b
			}
		}
	}
	return binHit, flagHit, bin
}

func matchBin(tok string) string {
	for _, b := range sensitiveBins {
		if tok == b || strings.HasSuffix(tok, "/"+b) {
			return b
		}
	}
	return ""
}

// analyzeShell parses a shell command string. It returns the interpreter a
// pipeline feeds into, if any, and whether the script expands parameters or
// substitutes commands. Unparsable scripts report nothing.
func analyzeShell(script string) (pipeShell string, dynamic bool) {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return "", false
	}
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.BinaryCmd:
			if n.Op == syntax.Pipe || n.Op == syntax.PipeAll {
				if name := commandName(n.Y); shellInterpreters[name] {
					pipeShell = name
				}
			}
		case *syntax.ParamExp, *syntax.CmdSubst, *syntax.ProcSubst:
			dynamic = true
		}
		return true
	})
	return pipeShell, dynamic
}

func commandName(stmt *syntax.Stmt) string {
	if stmt == nil {
		return ""
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Args) == 0 {
		return ""
	}
	return path.Base(call.Args[0].Lit())
}

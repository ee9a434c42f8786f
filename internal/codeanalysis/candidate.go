package codeanalysis

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Source kinds accepted by Candidate.
const (
	KindAuto = ""
	KindCode = "code"
	KindText = "text"
)

var (
	fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")
	codeLine     = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*(import|from)\s+[A-Za-z_.]+`),
		regexp.MustCompile(`(?m)^\s*(def|class)\s+[A-Za-z_]\w*\s*[(:]`),
		regexp.MustCompile(`(?m)^\s*@[A-Za-z_][\w.]*`),
		regexp.MustCompile(`(?m)^\s*[A-Za-z_][\w.]*\s*\(.*\)\s*;?\s*$`),
		regexp.MustCompile(`(?m)^\s*[A-Za-z_][\w.]*(\[[^\]\n]*\])?\s*=[^=]`),
	}
	pythonFences = map[string]bool{"": true, "py": true, "python": true, "python3": true}
)

// Candidate returns the Python-shaped code inside text that static and
// similarity analysis should look at, and false when text is not code.
//
// Fenced blocks win over everything else; otherwise a .py filename or the
// code kind accepts the whole text, the text kind rejects it, and in auto
// mode the text must contain at least one line that looks like code.
func Candidate(text, filename, kind string) (string, bool) {
	if kind == KindText || strings.TrimSpace(text) == "" {
		return "", false
	}
	if blocks := fencedBlocks(text); len(blocks) > 0 {
		return strings.Join(blocks, "\n"), true
	}
	if kind == KindCode || strings.EqualFold(filepath.Ext(filename), ".py") {
		return text, true
	}
	if filename != "" && filepath.Ext(filename) != "" {
		return "", false
	}
	for _, re := range codeLine {
		if re.MatchString(text) {
			return text, true
		}
	}
	return "", false
}

func fencedBlocks(text string) []string {
	var blocks []string
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if pythonFences[strings.ToLower(m[1])] && strings.TrimSpace(m[2]) != "" {
			blocks = append(blocks, m[2])
		}
	}
	return blocks
}

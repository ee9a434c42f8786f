// Package extract pulls the natural-language fragments (comments and string
// literals) out of mixed code and prose so lexical detectors do not match
// on identifiers and control flow.
package extract

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/af-corp/sentinel-gate/internal/pysrc"
)

// Extractor returns the raw fragments of one source kind.
type Extractor func(text string) []string

var extractors = map[string]Extractor{
	".py": Python,
}

func init() {
	for _, ext := range []string{
		".js", ".ts", ".tsx", ".jsx", ".java", ".c", ".h", ".hpp", ".cc",
		".cpp", ".go", ".rs", ".kt", ".scala", ".swift",
	} {
		extractors[ext] = Generic
	}
}

const (
	symbolChars  = "{}();<>=/*`"
	symbolCutoff = 0.05
)

var whitespace = regexp.MustCompile(`\s+`)

// Segments returns the whitespace-normalized fragments of text worth
// scanning. The filename extension selects the extractor; for unknown kinds
// low-symbol-density text with no quoted or commented fragments is returned
// whole.
func Segments(text, filename string) []string {
	var raw []string
	if ex, ok := extractors[strings.ToLower(filepath.Ext(filename))]; ok && filename != "" {
		raw = ex(text)
	} else {
		raw = Generic(text)
		if len(raw) == 0 && SymbolRatio(text) < symbolCutoff {
			raw = []string{text}
		}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(whitespace.ReplaceAllString(s, " ")); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SymbolRatio is the share of characters in text that are typical code
// punctuation.
func SymbolRatio(text string) float64 {
	if text == "" {
		return 0
	}
	n, total := 0, 0
	for _, r := range text {
		total++
		if strings.ContainsRune(symbolChars, r) {
			n++
		}
	}
	return float64(n) / float64(total)
}

// Python returns comment bodies and string literal bodies. Tokens read
// before a tokenizer error are kept.
func Python(code string) []string {
	toks, _ := pysrc.Tokenize(code)
	var out []string
	for _, t := range toks {
		switch t.Kind {
		case pysrc.Comment:
			out = append(out, strings.TrimLeft(t.Text, "# "))
		case pysrc.String:
			out = append(out, t.Body)
		}
	}
	return out
}

var genericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/\*([\s\S]*?)\*/`),
	regexp.MustCompile(`(?m)//(.*)$`),
	regexp.MustCompile(`"([^"\\]*(?:\\.[^"\\]*)*)"`),
	regexp.MustCompile(`'([^'\\]*(?:\\.[^'\\]*)*)'`),
	regexp.MustCompile("`([^`\\\\]*(?:\\\\.[^`\\\\]*)*)`"),
}

// Generic returns block comments, line comments and quoted strings in that
// order, each pattern applied to the whole text.
func Generic(code string) []string {
	var out []string
	for _, re := range genericPatterns {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			if strings.TrimSpace(m[1]) != "" {
				out = append(out, m[1])
			}
		}
	}
	return out
}

package scan

import "regexp"

var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(-----BEGIN [A-Z ]+PRIVATE KEY-----)[\s\S]+?(-----END [A-Z ]+PRIVATE KEY-----)`), "${1}[REDACTED]${2}"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AKIA****************"},
	{regexp.MustCompile(`(eyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\.)[A-Za-z0-9_\-]{10,}`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9.\-_~+/]{20,}`), "${1}[REDACTED]"},
}

// Redact masks private-key bodies, AWS access key ids, JWT signatures and
// bearer tokens.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}

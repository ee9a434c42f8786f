// Package pysrc tokenizes Python-shaped source and recovers just enough
// expression structure to locate call sites, their arguments and the
// import aliases that name them.
package pysrc

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	Ident
	Number
	String
	Op
	Comment
	Newline
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "EOF"
	case Ident:
		return "IDENT"
	case Number:
		return "NUMBER"
	case String:
		return "STRING"
	case Op:
		return "OP"
	case Comment:
		return "COMMENT"
	case Newline:
		return "NEWLINE"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Token is one lexical unit. Pos and End are byte offsets into the source.
type Token struct {
	Kind Kind
	Text string
	Line int
	Pos  int
	End  int

	// String tokens only.
	Prefix string // lowercased prefix letters, e.g. "rb" or "f"
	Body   string // text between the quotes, undecoded
	Value  string // body with escapes decoded unless raw
}

// IsRaw reports whether a string token carries the r prefix.
func (t Token) IsRaw() bool { return strings.ContainsRune(t.Prefix, 'r') }

// IsBytes reports whether a string token carries the b prefix.
func (t Token) IsBytes() bool { return strings.ContainsRune(t.Prefix, 'b') }

// IsFormat reports whether a string token is an f-string.
func (t Token) IsFormat() bool { return strings.ContainsRune(t.Prefix, 'f') }

// SyntaxError reports source that cannot be tokenized or parsed.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

var threeCharOps = []string{"**=", "//=", ">>=", "<<=", "..."}
var twoCharOps = []string{
	"**", "//", "==", "!=", "<=", ">=", "<<", ">>", "->", ":=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=",
}

const oneCharOps = "+-*/%@&|^~<>()[]{},:;.="

type lexer struct {
	src    string
	pos    int
	line   int
	stack  []byte
	tokens []Token
}

// Tokenize splits src into tokens. On error it returns the tokens read
// before the failure together with a *SyntaxError.
func Tokenize(src string) ([]Token, error) {
	lx := &lexer{src: src, line: 1}
	err := lx.run()
	return lx.tokens, err
}

func (lx *lexer) errorf(format string, args ...any) error {
	return &SyntaxError{Line: lx.line, Msg: fmt.Sprintf(format, args...)}
}

func (lx *lexer) emit(kind Kind, start int) *Token {
	lx.tokens = append(lx.tokens, Token{Kind: kind, Text: lx.src[start:lx.pos], Line: lx.line, Pos: start, End: lx.pos})
	return &lx.tokens[len(lx.tokens)-1]
}

func (lx *lexer) run() error {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\n':
			if len(lx.stack) == 0 && len(lx.tokens) > 0 && lx.tokens[len(lx.tokens)-1].Kind != Newline {
				lx.pos++
				lx.emit(Newline, lx.pos-1)
			} else {
				lx.pos++
			}
			lx.line++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f':
			lx.pos++
		case c == '\\':
			if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '\n' {
				lx.pos += 2
				lx.line++
				continue
			}
			if lx.pos+2 < len(lx.src) && lx.src[lx.pos+1] == '\r' && lx.src[lx.pos+2] == '\n' {
				lx.pos += 3
				lx.line++
				continue
			}
			return lx.errorf("unexpected character after line continuation")
		case c == '#':
			start := lx.pos
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
			lx.emit(Comment, start)
		case c == '"' || c == '\'':
			if err := lx.lexString(lx.pos, lx.pos); err != nil {
				return err
			}
		case isDigit(c) || (c == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1])):
			lx.lexNumber()
		case isIdentStart(lx.src[lx.pos:]):
			start := lx.pos
			for lx.pos < len(lx.src) {
				r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				lx.pos += size
			}
			if lx.pos < len(lx.src) && (lx.src[lx.pos] == '"' || lx.src[lx.pos] == '\'') && isStringPrefix(lx.src[start:lx.pos]) {
				if err := lx.lexString(start, lx.pos); err != nil {
					return err
				}
				continue
			}
			lx.emit(Ident, start)
		default:
			if err := lx.lexOp(); err != nil {
				return err
			}
		}
	}
	if len(lx.stack) > 0 {
		return lx.errorf("unclosed %q", lx.stack[len(lx.stack)-1])
	}
	return nil
}

func (lx *lexer) lexOp() error {
	start := lx.pos
	rest := lx.src[lx.pos:]
	for _, op := range threeCharOps {
		if strings.HasPrefix(rest, op) {
			lx.pos += 3
			lx.emit(Op, start)
			return nil
		}
	}
	for _, op := range twoCharOps {
		if strings.HasPrefix(rest, op) {
			lx.pos += 2
			lx.emit(Op, start)
			return nil
		}
	}
	c := lx.src[lx.pos]
	if strings.IndexByte(oneCharOps, c) < 0 {
		r, _ := utf8.DecodeRuneInString(rest)
		return lx.errorf("invalid character %q", r)
	}
	switch c {
	case '(', '[', '{':
		lx.stack = append(lx.stack, c)
	case ')', ']', '}':
		if len(lx.stack) == 0 || lx.stack[len(lx.stack)-1] != opening(c) {
			return lx.errorf("unmatched %q", c)
		}
		lx.stack = lx.stack[:len(lx.stack)-1]
	}
	lx.pos++
	lx.emit(Op, start)
	return nil
}

func opening(c byte) byte {
	switch c {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}

func (lx *lexer) lexNumber() {
	start := lx.pos
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if isDigit(c) || isLetter(c) || c == '_' || c == '.' {
			lx.pos++
			continue
		}
		// exponent sign, e.g. 1e-3
		if (c == '+' || c == '-') && lx.pos > start && (lx.src[lx.pos-1] == 'e' || lx.src[lx.pos-1] == 'E') &&
			!strings.HasPrefix(strings.ToLower(lx.src[start:lx.pos]), "0x") {
			lx.pos++
			continue
		}
		break
	}
	lx.emit(Number, start)
}

// lexString reads a string literal whose prefix starts at start and whose
// opening quote is at quote.
func (lx *lexer) lexString(start, quote int) error {
	q := lx.src[quote]
	triple := strings.HasPrefix(lx.src[quote:], strings.Repeat(string(q), 3))
	delim := string(q)
	if triple {
		delim = strings.Repeat(string(q), 3)
	}
	prefix := strings.ToLower(lx.src[start:quote])
	raw := strings.ContainsRune(prefix, 'r')
	startLine := lx.line

	i := quote + len(delim)
	bodyStart := i
	for {
		if i >= len(lx.src) {
			lx.line = startLine
			return lx.errorf("unterminated string literal")
		}
		c := lx.src[i]
		if c == '\\' && i+1 < len(lx.src) {
			if lx.src[i+1] == '\n' {
				lx.line++
			}
			i += 2
			continue
		}
		if c == '\n' {
			if !triple {
				lx.line = startLine
				return lx.errorf("unterminated string literal")
			}
			lx.line++
		}
		if strings.HasPrefix(lx.src[i:], delim) {
			break
		}
		i++
	}
	body := lx.src[bodyStart:i]
	lx.pos = i + len(delim)
	tok := Token{
		Kind:   String,
		Text:   lx.src[start:lx.pos],
		Line:   startLine,
		Pos:    start,
		End:    lx.pos,
		Prefix: prefix,
		Body:   body,
		Value:  body,
	}
	if !raw {
		tok.Value = unescape(body)
	}
	lx.tokens = append(lx.tokens, tok)
	return nil
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case '\n':
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case '\\', '\'', '"':
			b.WriteByte(s[i])
		case 'x':
			if v, err := strconv.ParseUint(safeSlice(s, i+1, i+3), 16, 8); err == nil {
				b.WriteRune(rune(v))
				i += 2
				continue
			}
			b.WriteString(`\x`)
		case 'u', 'U':
			n := 4
			if s[i] == 'U' {
				n = 8
			}
			if v, err := strconv.ParseUint(safeSlice(s, i+1, i+1+n), 16, 32); err == nil {
				b.WriteRune(rune(v))
				i += n
				continue
			}
			b.WriteByte('\\')
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func safeSlice(s string, from, to int) string {
	if to > len(s) {
		return ""
	}
	return s[from:to]
}

// FStringParts splits an f-string body into its constant chunks and counts
// its replacement fields. Doubled braces are literal.
func FStringParts(body string) (consts []string, fields int) {
	var cur strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '{' && i+1 < len(body) && body[i+1] == '{':
			cur.WriteByte('{')
			i++
		case c == '}' && i+1 < len(body) && body[i+1] == '}':
			cur.WriteByte('}')
			i++
		case c == '{':
			if cur.Len() > 0 {
				consts = append(consts, cur.String())
				cur.Reset()
			}
			fields++
			depth := 1
			for i++; i < len(body) && depth > 0; i++ {
				switch body[i] {
				case '{':
					depth++
				case '}':
					depth--
				}
			}
			i--
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		consts = append(consts, cur.String())
	}
	return consts, fields
}

// Field is one f-string replacement field: the expression text with any
// conversion, format spec and trailing "=" removed, and its byte offset in
// the f-string body.
type Field struct {
	Off  int
	Expr string
}

// FStringFields returns the replacement fields of an f-string body.
func FStringFields(body string) []Field {
	var fields []Field
	for i := 0; i < len(body); i++ {
		c := body[i]
		if (c == '{' || c == '}') && i+1 < len(body) && body[i+1] == c {
			i++
			continue
		}
		if c != '{' {
			continue
		}
		start := i + 1
		exprEnd := -1
		depth := 0
		for i = start; i < len(body); i++ {
			switch ch := body[i]; ch {
			case '\'', '"':
				if j := strings.IndexByte(body[i+1:], ch); j >= 0 {
					i += j + 1
				}
			case '(', '[', '{':
				depth++
			case ')', ']':
				depth--
			case '}':
				depth--
			case '!':
				if depth == 0 && exprEnd < 0 && (i+1 >= len(body) || body[i+1] != '=') {
					exprEnd = i
				}
			case ':':
				if depth == 0 && exprEnd < 0 {
					exprEnd = i
				}
			}
			if depth < 0 {
				break
			}
		}
		if exprEnd < 0 {
			exprEnd = min(i, len(body))
		}
		expr := strings.TrimRight(body[start:exprEnd], " \t\r\n")
		if strings.HasSuffix(expr, "=") && !strings.HasSuffix(expr, "==") && !strings.HasSuffix(expr, "!=") &&
			!strings.HasSuffix(expr, "<=") && !strings.HasSuffix(expr, ">=") {
			expr = expr[:len(expr)-1]
		}
		if strings.TrimSpace(expr) != "" {
			fields = append(fields, Field{Off: start, Expr: expr})
		}
	}
	return fields
}

func isStringPrefix(p string) bool {
	switch strings.ToLower(p) {
	case "r", "u", "b", "f", "br", "rb", "fr", "rf":
		return true
	}
	return false
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isIdentStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}

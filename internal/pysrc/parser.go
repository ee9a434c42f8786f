package pysrc

import (
	"fmt"
	"strings"
)

// File is a parsed source file: its top-level expressions in source order
// and the names bound by import statements.
type File struct {
	Src   string
	Exprs []Node

	// Imports maps a local name to the qualified name it refers to, e.g.
	// "sp" -> "subprocess" or "Popen" -> "subprocess.Popen".
	Imports map[string]string
}

// ParseFile tokenizes and parses src. Lexical errors and the structural
// errors the expression parser meets, such as an operator or assignment
// with no operand, are reported as a *SyntaxError. Statement nesting is
// not validated.
func ParseFile(src string) (*File, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{f: &File{Src: src, Imports: map[string]string{}}}
	for _, t := range toks {
		if t.Kind != Comment {
			p.toks = append(p.toks, t)
		}
	}
	eofLine := 1
	if len(p.toks) > 0 {
		eofLine = p.toks[len(p.toks)-1].Line
	}
	p.toks = append(p.toks, Token{Kind: EOF, Line: eofLine, Pos: len(src), End: len(src)})
	p.parse()
	if p.err != nil {
		return nil, p.err
	}
	return p.f, nil
}

// Source returns the source text spanned by n.
func (f *File) Source(n Node) string {
	pos, end := n.Span()
	if pos < 0 || end > len(f.Src) || pos > end {
		return ""
	}
	return f.Src[pos:end]
}

// Calls returns every call expression, outer calls before the calls nested
// in them.
func (f *File) Calls() []*Call {
	var calls []*Call
	for _, e := range f.Exprs {
		Walk(e, func(n Node) {
			if c, ok := n.(*Call); ok {
				calls = append(calls, c)
			}
		})
	}
	return calls
}

// Resolve returns the qualified dotted name of a callee, following import
// aliases. It returns "" for callees that are not name chains.
func (f *File) Resolve(fn Node) string {
	dotted := DottedName(fn)
	if dotted == "" {
		return ""
	}
	head, rest, _ := strings.Cut(dotted, ".")
	if q, ok := f.Imports[head]; ok {
		head = q
	}
	if rest == "" {
		return head
	}
	return head + "." + rest
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true, "if": true,
	"else": true, "elif": true, "for": true, "while": true, "return": true,
	"def": true, "class": true, "import": true, "from": true, "as": true,
	"with": true, "try": true, "except": true, "finally": true, "raise": true,
	"pass": true, "break": true, "continue": true, "global": true,
	"nonlocal": true, "del": true, "assert": true, "async": true,
	"yield": true, "lambda": true, "await": true,
}

var binaryPrec = map[string]int{
	"for":    0,
	":=":     0,
	"if":     1,
	"else":   1,
	"or":     2,
	"and":    3,
	"in":     4,
	"not in": 4,
	"is":     4,
	"is not": 4,
	"<":      4,
	">":      4,
	"==":     4,
	"!=":     4,
	"<=":     4,
	">=":     4,
	"|":      5,
	"^":      6,
	"&":      7,
	"<<":     8,
	">>":     8,
	"+":      9,
	"-":      9,
	"*":      10,
	"/":      10,
	"//":     10,
	"%":      10,
	"@":      10,
	"**":     12,
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "//=": true, "%=": true,
	"**=": true, "@=": true, "&=": true, "|=": true, "^=": true, ">>=": true, "<<=": true,
}

type parser struct {
	toks []Token
	i    int
	f    *File
	err  *SyntaxError
}

// fail records the first structural error.
func (p *parser) fail(at Token, format string, args ...any) {
	if p.err == nil {
		p.err = &SyntaxError{Line: at.Line, Msg: fmt.Sprintf(format, args...)}
	}
}

// expectOperand fails unless the cursor starts an expression.
func (p *parser) expectOperand(after string) {
	t := p.peek()
	if p.startsExpr(t) || (t.Kind == Op && (t.Text == "*" || t.Text == "...")) {
		return
	}
	p.fail(t, "expected expression after %q, got %s", after, describe(t))
}

func describe(t Token) string {
	switch t.Kind {
	case EOF:
		return "end of input"
	case Newline:
		return "end of line"
	}
	return fmt.Sprintf("%q", t.Text)
}

func (p *parser) peek() Token { return p.toks[p.i] }

func (p *parser) peekN(n int) Token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() Token {
	t := p.toks[p.i]
	if t.Kind != EOF {
		p.i++
	}
	return t
}

func (p *parser) isOp(s string) bool {
	t := p.peek()
	return t.Kind == Op && t.Text == s
}

func (p *parser) isKeyword(s string) bool {
	t := p.peek()
	return t.Kind == Ident && t.Text == s
}

func (p *parser) parse() {
	for p.peek().Kind != EOF {
		t := p.peek()
		switch {
		case t.Kind == Ident && t.Text == "import":
			p.parseImport()
		case t.Kind == Ident && t.Text == "from":
			p.parseFromImport()
		case t.Kind == Ident && t.Text == "def":
			p.next()
			if p.peek().Kind == Ident {
				p.next()
			}
			if p.isOp("(") {
				p.skipBalanced()
			}
		case t.Kind == Op && assignOps[t.Text]:
			p.next()
			p.expectOperand(t.Text)
		case p.startsExpr(t):
			if e := p.parseExpr(0); e != nil {
				p.f.Exprs = append(p.f.Exprs, e)
			} else {
				p.next()
			}
		default:
			p.next()
		}
	}
}

func (p *parser) startsExpr(t Token) bool {
	switch t.Kind {
	case Ident:
		return !keywords[t.Text] || t.Text == "not" || t.Text == "await" || t.Text == "lambda" || t.Text == "yield"
	case Number, String:
		return true
	case Op:
		switch t.Text {
		case "(", "[", "{", "-", "+", "~", "...":
			return true
		}
	}
	return false
}

// skipBalanced consumes an opening bracket and everything up to its match.
func (p *parser) skipBalanced() {
	depth := 0
	for p.peek().Kind != EOF {
		t := p.next()
		if t.Kind != Op {
			continue
		}
		switch t.Text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

func (p *parser) dotted() string {
	var parts []string
	for p.peek().Kind == Ident && !keywords[p.peek().Text] {
		parts = append(parts, p.next().Text)
		if !p.isOp(".") {
			break
		}
		p.next()
	}
	return strings.Join(parts, ".")
}

func (p *parser) parseImport() {
	p.next()
	for {
		mod := p.dotted()
		if mod == "" {
			return
		}
		if p.isKeyword("as") {
			p.next()
			if p.peek().Kind == Ident {
				p.f.Imports[p.next().Text] = mod
			}
		} else {
			head, _, _ := strings.Cut(mod, ".")
			p.f.Imports[head] = head
		}
		if !p.isOp(",") {
			return
		}
		p.next()
	}
}

func (p *parser) parseFromImport() {
	start := p.i
	p.next()
	var mod strings.Builder
	for p.isOp(".") || p.isOp("...") {
		mod.WriteString(p.next().Text)
	}
	mod.WriteString(p.dotted())
	if !p.isKeyword("import") || mod.Len() == 0 {
		// yield from / raise ... from
		p.i = start + 1
		return
	}
	p.next()
	paren := p.isOp("(")
	if paren {
		p.next()
	}
	for {
		if p.isOp("*") {
			p.next()
			break
		}
		if p.peek().Kind != Ident {
			break
		}
		name := p.next().Text
		local := name
		if p.isKeyword("as") {
			p.next()
			if p.peek().Kind == Ident {
				local = p.next().Text
			}
		}
		qualified := mod.String() + "." + name
		if strings.HasSuffix(mod.String(), ".") {
			qualified = mod.String() + name
		}
		p.f.Imports[local] = qualified
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	if paren && p.isOp(")") {
		p.next()
	}
}

// binaryOp returns the operator at the cursor and how many tokens it spans.
func (p *parser) binaryOp() (string, int) {
	t := p.peek()
	switch t.Kind {
	case Op:
		if _, ok := binaryPrec[t.Text]; ok {
			return t.Text, 1
		}
	case Ident:
		switch t.Text {
		case "not":
			if n := p.peekN(1); n.Kind == Ident && n.Text == "in" {
				return "not in", 2
			}
		case "is":
			if n := p.peekN(1); n.Kind == Ident && n.Text == "not" {
				return "is not", 2
			}
			return "is", 1
		case "for", "if", "else", "or", "and", "in":
			return t.Text, 1
		}
	}
	return "", 0
}

func (p *parser) parseExpr(minPrec int) Node {
	left := p.parseUnary()
	if left == nil {
		return nil
	}
	for {
		op, n := p.binaryOp()
		if op == "" {
			return left
		}
		prec := binaryPrec[op]
		if prec < minPrec {
			return left
		}
		p.i += n
		next := prec + 1
		if op == "**" {
			next = prec
		}
		right := p.parseExpr(next)
		if right == nil {
			p.fail(p.peek(), "expected expression after %q, got %s", op, describe(p.peek()))
			return left
		}
		lpos, _ := left.Span()
		_, rend := right.Span()
		left = &BinOp{span: span{lpos, rend}, Op: op, L: left, R: right}
	}
}

func (p *parser) parseUnary() Node {
	t := p.peek()
	switch {
	case t.Kind == Op && (t.Text == "-" || t.Text == "+" || t.Text == "~" || t.Text == "*" || t.Text == "**"),
		t.Kind == Ident && (t.Text == "not" || t.Text == "await"):
		p.next()
		operand := p.parseExpr(11)
		if operand == nil {
			return &Other{span: span{t.Pos, t.End}}
		}
		_, end := operand.Span()
		return &Other{span: span{t.Pos, end}, Children: []Node{operand}}
	case t.Kind == Ident && t.Text == "lambda":
		p.next()
		for p.peek().Kind != EOF && p.peek().Kind != Newline && !p.isOp(":") {
			if p.isOp("(") || p.isOp("[") || p.isOp("{") {
				p.skipBalanced()
				continue
			}
			p.next()
		}
		end := p.peek().End
		if p.isOp(":") {
			p.next()
		}
		body := p.parseExpr(1)
		if body == nil {
			return &Other{span: span{t.Pos, end}}
		}
		_, bend := body.Span()
		return &Other{span: span{t.Pos, bend}, Children: []Node{body}}
	case t.Kind == Ident && t.Text == "yield":
		p.next()
		if p.isKeyword("from") {
			p.next()
		}
		if !p.startsExpr(p.peek()) {
			return &Other{span: span{t.Pos, t.End}}
		}
		v := p.parseExpr(0)
		if v == nil {
			return &Other{span: span{t.Pos, t.End}}
		}
		_, end := v.Span()
		return &Other{span: span{t.Pos, end}, Children: []Node{v}}
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() Node {
	line := p.peek().Line
	x := p.parsePrimary()
	if x == nil {
		return nil
	}
	for {
		switch {
		case p.isOp(".") && p.peekN(1).Kind == Ident:
			p.next()
			name := p.next()
			pos, _ := x.Span()
			x = &Attr{span: span{pos, name.End}, X: x, Name: name.Text}
		case p.isOp("("):
			x = p.parseCall(x, line)
		case p.isOp("["):
			p.next()
			items, _ := p.parseItems("]")
			end := p.next().End
			pos, _ := x.Span()
			x = &Other{span: span{pos, end}, Children: append([]Node{x}, items...)}
		default:
			return x
		}
	}
}

func (p *parser) parseCall(fn Node, line int) Node {
	p.next()
	call := &Call{Func: fn, Line: line}
	for p.peek().Kind != EOF && !p.isOp(")") {
		if p.peek().Kind == Ident && p.peekN(1).Kind == Op && p.peekN(1).Text == "=" {
			name := p.next().Text
			p.next()
			if v := p.parseExpr(0); v != nil {
				call.Keywords = append(call.Keywords, Keyword{Name: name, Value: v})
			} else {
				p.fail(p.peek(), "expected value for keyword %q, got %s", name, describe(p.peek()))
			}
		} else if e := p.parseExpr(0); e != nil {
			call.Args = append(call.Args, e)
		} else {
			p.skipOne()
			continue
		}
		if p.isOp(",") {
			p.next()
		} else if !p.isOp(")") {
			p.skipOne()
		}
	}
	end := p.next().End
	pos, _ := fn.Span()
	call.span = span{pos, end}
	return call
}

// skipOne advances past one token, or one bracketed group.
func (p *parser) skipOne() {
	if p.isOp("(") || p.isOp("[") || p.isOp("{") {
		p.skipBalanced()
		return
	}
	p.next()
}

// parseItems reads comma-separated expressions up to, but not including,
// the closing bracket. Dict colons and slice colons are skipped.
func (p *parser) parseItems(closing string) (items []Node, comma bool) {
	for p.peek().Kind != EOF && !p.isOp(closing) {
		e := p.parseExpr(0)
		if e == nil {
			if p.isOp(",") {
				comma = true
			}
			p.skipOne()
			continue
		}
		items = append(items, e)
		switch {
		case p.isOp(","):
			comma = true
			p.next()
		case p.isOp(":"):
			p.next()
		case !p.isOp(closing):
			p.skipOne()
		}
	}
	return items, comma
}

func (p *parser) parsePrimary() Node {
	t := p.peek()
	switch t.Kind {
	case Ident:
		if keywords[t.Text] {
			return nil
		}
		p.next()
		return &Name{span: span{t.Pos, t.End}, ID: t.Text}
	case Number:
		p.next()
		return &Num{span: span{t.Pos, t.End}, Text: t.Text}
	case String:
		return p.parseStrings()
	case Op:
		switch t.Text {
		case "(":
			p.next()
			items, comma := p.parseItems(")")
			end := p.next().End
			if len(items) == 1 && !comma {
				return items[0]
			}
			return &Seq{span: span{t.Pos, end}, Elts: items}
		case "[":
			p.next()
			items, _ := p.parseItems("]")
			end := p.next().End
			return &Seq{span: span{t.Pos, end}, Elts: items}
		case "{":
			p.next()
			items, _ := p.parseItems("}")
			end := p.next().End
			return &Other{span: span{t.Pos, end}, Children: items}
		case "...":
			p.next()
			return &Other{span: span{t.Pos, t.End}}
		}
	}
	return nil
}

// parseStrings merges adjacent string literals into one node.
func (p *parser) parseStrings() Node {
	first := p.peek()
	var (
		format bool
		value  strings.Builder
		consts []string
		fields int
		values []Node
		end    int
	)
	for p.peek().Kind == String {
		t := p.next()
		end = t.End
		if t.IsFormat() {
			format = true
			c, n := FStringParts(t.Body)
			consts = append(consts, c...)
			fields += n
			values = append(values, p.parseFields(t)...)
			continue
		}
		value.WriteString(t.Value)
		consts = append(consts, t.Value)
	}
	sp := span{first.Pos, end}
	if format {
		return &FString{span: sp, Consts: consts, Fields: fields, Values: values}
	}
	return &Str{span: sp, Value: value.String(), Bytes: first.IsBytes()}
}

// parseFields parses the replacement fields of an f-string token as
// expressions positioned in the enclosing source. Fields that do not parse
// are dropped.
func (p *parser) parseFields(t Token) []Node {
	quote := (len(t.Text) - len(t.Prefix) - len(t.Body)) / 2
	base := t.Pos + len(t.Prefix) + quote
	var nodes []Node
	for _, fld := range FStringFields(t.Body) {
		toks, err := Tokenize(fld.Expr)
		if err != nil {
			continue
		}
		off := base + fld.Off
		line := t.Line + strings.Count(t.Body[:fld.Off], "\n")
		sub := &parser{f: p.f}
		for _, tk := range toks {
			if tk.Kind == Comment || tk.Kind == Newline {
				continue
			}
			tk.Pos += off
			tk.End += off
			tk.Line += line - 1
			sub.toks = append(sub.toks, tk)
		}
		end := off + len(fld.Expr)
		sub.toks = append(sub.toks, Token{Kind: EOF, Line: line, Pos: end, End: end})
		if e := sub.parseExpr(0); e != nil && sub.err == nil {
			nodes = append(nodes, e)
		}
	}
	return nodes
}

package pysrc

import (
	"errors"
	"testing"
)

func TestTokenizeStrings(t *testing.T) {
	tests := []struct {
		src    string
		prefix string
		body   string
		value  string
	}{
		{`'abc'`, "", "abc", "abc"},
		{`"a\tb"`, "", `a\tb`, "a\tb"},
		{`r"a\tb"`, "r", `a\tb`, `a\tb`},
		{`b'\x41'`, "b", `\x41`, "A"},
		{`f"hi {name}"`, "f", "hi {name}", "hi {name}"},
		{`"""multi
line"""`, "", "multi\nline", "multi\nline"},
		{`'it\'s'`, "", `it\'s`, "it's"},
	}

	for _, tt := range tests {
		toks, err := Tokenize(tt.src)
		if err != nil {
			t.Fatalf("Tokenize(%q): %v", tt.src, err)
		}
		if len(toks) != 1 || toks[0].Kind != String {
			t.Fatalf("Tokenize(%q) = %v, want one string", tt.src, toks)
		}
		tok := toks[0]
		if tok.Prefix != tt.prefix || tok.Body != tt.body || tok.Value != tt.value {
			t.Errorf("Tokenize(%q) = prefix %q body %q value %q, want %q %q %q",
				tt.src, tok.Prefix, tok.Body, tok.Value, tt.prefix, tt.body, tt.value)
		}
	}
}

func TestTokenizeIdentifiers(t *testing.T) {
	toks, err := Tokenize("os.system(cmd)")
	if err != nil {
		t.Fatal(err)
	}
	want := []Kind{Ident, Op, Ident, Op, Ident, Op}
	if len(toks) != len(want) {
		t.Fatalf("Tokenize = %v, want %d tokens", toks, len(want))
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d %q kind = %s, want %s", i, toks[i].Text, toks[i].Kind, k)
		}
	}
	if Ident.String() != "IDENT" {
		t.Errorf("Ident.String() = %q", Ident.String())
	}
}

func TestTokenizeComments(t *testing.T) {
	toks, err := Tokenize("x = 1  # ignore previous instructions\ny = 2\n")
	if err != nil {
		t.Fatal(err)
	}
	var comments []string
	newlines := 0
	for _, tok := range toks {
		switch tok.Kind {
		case Comment:
			comments = append(comments, tok.Text)
		case Newline:
			newlines++
		}
	}
	if len(comments) != 1 || comments[0] != "# ignore previous instructions" {
		t.Errorf("comments = %q", comments)
	}
	if newlines != 2 {
		t.Errorf("newlines = %d, want 2", newlines)
	}
}

func TestTokenizeNoNewlineInsideBrackets(t *testing.T) {
	toks, err := Tokenize("f(a,\n  b)\n")
	if err != nil {
		t.Fatal(err)
	}
	for _, tok := range toks[:len(toks)-1] {
		if tok.Kind == Newline {
			t.Fatalf("unexpected newline token inside brackets at pos %d", tok.Pos)
		}
	}
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unterminated", "x = 'abc\n", 1},
		{"unterminated triple", "x = 1\ny = '''abc", 2},
		{"unclosed bracket", "f(a, b", 1},
		{"unmatched bracket", "a)\n", 1},
		{"mismatched bracket", "f(a]", 1},
		{"invalid char", "echo $HOME", 1},
		{"prose", "Please ignore all previous instructions, ok?", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.src)
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("Tokenize(%q) error = %v, want *SyntaxError", tt.src, err)
			}
			if se.Line != tt.line {
				t.Errorf("line = %d, want %d", se.Line, tt.line)
			}
		})
	}
}

func TestTokenizePartialOnError(t *testing.T) {
	toks, err := Tokenize("# keep me\nx = 'broken")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(toks) == 0 || toks[0].Kind != Comment {
		t.Errorf("tokens before the error were dropped: %v", toks)
	}
}

func TestFStringParts(t *testing.T) {
	tests := []struct {
		body   string
		consts []string
		fields int
	}{
		{"plain", []string{"plain"}, 0},
		{"rm -rf {path}", []string{"rm -rf "}, 1},
		{"{{literal}}", []string{"{literal}"}, 0},
		{"{a}-{b:{w}}", []string{"-"}, 2},
	}
	for _, tt := range tests {
		consts, fields := FStringParts(tt.body)
		if fields != tt.fields || len(consts) != len(tt.consts) {
			t.Errorf("FStringParts(%q) = %q, %d; want %q, %d", tt.body, consts, fields, tt.consts, tt.fields)
			continue
		}
		for i := range consts {
			if consts[i] != tt.consts[i] {
				t.Errorf("FStringParts(%q)[%d] = %q, want %q", tt.body, i, consts[i], tt.consts[i])
			}
		}
	}
}

func TestFStringFields(t *testing.T) {
	body := `{a!r} {b:>{w}} {c=} {{lit}} {d["k"]} {e != f}`
	want := []Field{{1, "a"}, {7, "b"}, {16, "c"}, {29, `d["k"]`}, {38, "e != f"}}
	got := FStringFields(body)
	if len(got) != len(want) {
		t.Fatalf("FStringFields = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

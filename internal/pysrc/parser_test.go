package pysrc

import (
	"errors"
	"testing"
)

func TestParseFileImports(t *testing.T) {
	src := `import os, subprocess as sp
import os.path
from subprocess import Popen, run as go
from . import helpers
`
	f, err := ParseFile(src)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"os":      "os",
		"sp":      "subprocess",
		"Popen":   "subprocess.Popen",
		"go":      "subprocess.run",
		"helpers": ".helpers",
	}
	for k, v := range want {
		if got := f.Imports[k]; got != v {
			t.Errorf("Imports[%q] = %q, want %q", k, got, v)
		}
	}
}

func TestParseFileCalls(t *testing.T) {
	src := `import subprocess as sp
def run(cmd):
    return sp.check_output(["ls", "-l"], shell=False)

cursor.execute("DROP " "TABLE users")
os.system(f"rm -rf {target}")
`
	f, err := ParseFile(src)
	if err != nil {
		t.Fatal(err)
	}
	calls := f.Calls()
	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(calls))
	}

	c := calls[0]
	if got := f.Resolve(c.Func); got != "subprocess.check_output" {
		t.Errorf("Resolve = %q, want subprocess.check_output", got)
	}
	if c.Line != 3 {
		t.Errorf("Line = %d, want 3", c.Line)
	}
	seq, ok := c.Args[0].(*Seq)
	if !ok || len(seq.Elts) != 2 {
		t.Fatalf("first arg = %#v, want two-element list", c.Args[0])
	}
	if kw, ok := c.Keyword("shell").(*Name); !ok || kw.ID != "False" || !kw.Const() {
		t.Errorf("shell keyword = %#v", c.Keyword("shell"))
	}
	if got := f.Source(c.Args[0]); got != `["ls", "-l"]` {
		t.Errorf("Source = %q", got)
	}

	sql := calls[1]
	if attr, ok := sql.Func.(*Attr); !ok || attr.Name != "execute" {
		t.Fatalf("func = %#v", sql.Func)
	}
	if s, ok := sql.Args[0].(*Str); !ok || s.Value != "DROP TABLE users" {
		t.Errorf("merged string = %#v", sql.Args[0])
	}

	fs, ok := calls[2].Args[0].(*FString)
	if !ok || fs.Fields != 1 || fs.Consts[0] != "rm -rf " {
		t.Errorf("f-string arg = %#v", calls[2].Args[0])
	}
}

func TestParseFileNestedCalls(t *testing.T) {
	f, err := ParseFile(`exec(base64.b64decode('cHJpbnQoJ0hlbGxvJyk='))`)
	if err != nil {
		t.Fatal(err)
	}
	calls := f.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if DottedName(calls[0].Func) != "exec" || DottedName(calls[1].Func) != "base64.b64decode" {
		t.Errorf("calls = %s, %s", DottedName(calls[0].Func), DottedName(calls[1].Func))
	}
}

func TestParseFileBinOps(t *testing.T) {
	f, err := ParseFile(`subprocess.run("rm " + path, "x" * 2)`)
	if err != nil {
		t.Fatal(err)
	}
	c := f.Calls()[0]
	add, ok := c.Args[0].(*BinOp)
	if !ok || add.Op != "+" {
		t.Fatalf("arg0 = %#v, want + binop", c.Args[0])
	}
	if _, ok := add.R.(*Name); !ok {
		t.Errorf("right operand = %#v, want name", add.R)
	}
	if mul, ok := c.Args[1].(*BinOp); !ok || mul.Op != "*" {
		t.Errorf("arg1 = %#v, want * binop", c.Args[1])
	}
}

func TestParseFileChainedORMCall(t *testing.T) {
	f, err := ParseFile(`User.objects.filter(active=False).delete()`)
	if err != nil {
		t.Fatal(err)
	}
	calls := f.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	attr, ok := calls[0].Func.(*Attr)
	if !ok || attr.Name != "delete" {
		t.Errorf("outer call func = %#v, want .delete", calls[0].Func)
	}
	if got := f.Resolve(calls[0].Func); got != "" {
		t.Errorf("Resolve of non-name chain = %q, want empty", got)
	}
}

func TestParseFileTolerance(t *testing.T) {
	srcs := []string{
		"def add(a, b): return a + b",
		"x = [i for i in range(10) if i % 2]",
		"d = {'a': 1, **other}\nprint(d['a'][1:2])",
		"f = lambda x, y=2: x * y\nclass A(B): pass",
		"@app.route('/x')\nasync def h(): await g()",
		"y = a if b else c\nraise ValueError('x') from err",
		"x = ...\ndef stub(): ...",
		"total += 1\nitems[0] -= step",
		"print(f'{x!r:>10} {y=} {d[\"k\"]}')",
		"from . import helpers\nfrom .. import pkg",
		"z = yield\nw = not done\nv = -1",
	}
	for _, src := range srcs {
		if _, err := ParseFile(src); err != nil {
			t.Errorf("ParseFile(%q): %v", src, err)
		}
	}
}

func TestParseFileStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"dangling assignment", "x = = 3", 1},
		{"assignment at end", "x = 1\ny =", 2},
		{"augmented without value", "n +=\n", 1},
		{"binary without operand", "a = 1\nb = c or\n", 2},
		{"keyword without value", "f(a=)", 1},
		{"trailing operator in call", "print(a +)", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFile(tt.src)
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("ParseFile(%q) error = %v, want *SyntaxError", tt.src, err)
			}
			if f != nil {
				t.Errorf("ParseFile(%q) returned a file with an error", tt.src)
			}
			if se.Line != tt.line {
				t.Errorf("line = %d, want %d (%s)", se.Line, tt.line, se.Msg)
			}
		})
	}
}

func TestParseFileFStringFields(t *testing.T) {
	src := "import os\nprint(f'{os.system(\"rm -rf /\")} done {n:>{w}}')\n"
	f, err := ParseFile(src)
	if err != nil {
		t.Fatal(err)
	}
	calls := f.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	inner := calls[1]
	if got := f.Resolve(inner.Func); got != "os.system" {
		t.Errorf("Resolve = %q, want os.system", got)
	}
	if got := f.Source(inner); got != `os.system("rm -rf /")` {
		t.Errorf("Source = %q", got)
	}
	if inner.Line != 2 {
		t.Errorf("Line = %d, want 2", inner.Line)
	}
	fs, ok := calls[0].Args[0].(*FString)
	if !ok || fs.Fields != 2 || len(fs.Values) != 2 {
		t.Errorf("f-string arg = %+v, want two parsed fields", calls[0].Args[0])
	}
}

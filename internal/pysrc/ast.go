package pysrc

// Node is an expression recovered by the parser.
type Node interface {
	Span() (pos, end int)
}

type span struct{ pos, end int }

func (s span) Span() (int, int) { return s.pos, s.end }

// Name is a bare identifier.
type Name struct {
	span
	ID string
}

// Const reports whether the name is True, False or None.
func (n *Name) Const() bool {
	return n.ID == "True" || n.ID == "False" || n.ID == "None"
}

// Str is a plain string or bytes literal. Adjacent literals are merged.
type Str struct {
	span
	Value string
	Bytes bool
}

// FString is a formatted string literal. Values holds the replacement
// field expressions that parsed.
type FString struct {
	span
	Consts []string
	Fields int
	Values []Node
}

// Num is a numeric literal.
type Num struct {
	span
	Text string
}

// Attr is an attribute access X.Name.
type Attr struct {
	span
	X    Node
	Name string
}

// Keyword is a name=value argument.
type Keyword struct {
	Name  string
	Value Node
}

// Call is a call expression.
type Call struct {
	span
	Func     Node
	Args     []Node
	Keywords []Keyword
	Line     int
}

// Keyword returns the value passed for name, or nil.
func (c *Call) Keyword(name string) Node {
	for _, kw := range c.Keywords {
		if kw.Name == name {
			return kw.Value
		}
	}
	return nil
}

// Seq is a list or tuple display.
type Seq struct {
	span
	Elts []Node
}

// BinOp is any binary or keyword operator application.
type BinOp struct {
	span
	Op   string
	L, R Node
}

// Other is any expression whose shape does not matter, such as a
// subscript, dict, lambda or starred argument.
type Other struct {
	span
	Children []Node
}

// Walk calls fn for n and every node below it, depth first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch n := n.(type) {
	case *Attr:
		Walk(n.X, fn)
	case *Call:
		Walk(n.Func, fn)
		for _, a := range n.Args {
			Walk(a, fn)
		}
		for _, kw := range n.Keywords {
			Walk(kw.Value, fn)
		}
	case *Seq:
		for _, e := range n.Elts {
			Walk(e, fn)
		}
	case *BinOp:
		Walk(n.L, fn)
		Walk(n.R, fn)
	case *FString:
		for _, v := range n.Values {
			Walk(v, fn)
		}
	case *Other:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	}
}

// DottedName renders a chain of names and attributes, e.g. "os.path.join".
// It returns "" when the chain does not start at a plain name.
func DottedName(n Node) string {
	switch n := n.(type) {
	case *Name:
		return n.ID
	case *Attr:
		if base := DottedName(n.X); base != "" {
			return base + "." + n.Name
		}
	}
	return ""
}

package compiler

import (
	"strings"

	"github.com/chazu/pidgin/vm"
)

// ---------------------------------------------------------------------------
// AST: syntax tree for s-expressions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Node is the interface implemented by all syntax tree nodes.
type Node interface {
	Pos() Position
	String() string
	node() // marker method
}

// Literal is a self-evaluating datum: nil, a boolean, a number, a
// character or a string.
type Literal struct {
	PosVal Position
	Value  vm.Value
}

func (n *Literal) Pos() Position  { return n.PosVal }
func (n *Literal) String() string { return n.Value.String() }
func (n *Literal) node()          {}

// Symbol is a name.
type Symbol struct {
	PosVal Position
	Name   string
}

func (n *Symbol) Pos() Position  { return n.PosVal }
func (n *Symbol) String() string { return n.Name }
func (n *Symbol) node()          {}

// List is a parenthesized form: an application or a special form.
type List struct {
	PosVal Position
	Items  []Node
}

func (n *List) Pos() Position  { return n.PosVal }
func (n *List) String() string { return "(" + joinNodes(n.Items) + ")" }
func (n *List) node()          {}

// Head returns the leading symbol name, or "".
func (n *List) Head() string {
	if len(n.Items) == 0 {
		return ""
	}
	if s, ok := n.Items[0].(*Symbol); ok {
		return s.Name
	}
	return ""
}

// Vector is a bracketed list literal whose elements are evaluated.
type Vector struct {
	PosVal Position
	Items  []Node
}

func (n *Vector) Pos() Position  { return n.PosVal }
func (n *Vector) String() string { return "[" + joinNodes(n.Items) + "]" }
func (n *Vector) node()          {}

// MapLit is a braced map literal of alternating keys and values.
type MapLit struct {
	PosVal Position
	Items  []Node
}

func (n *MapLit) Pos() Position  { return n.PosVal }
func (n *MapLit) String() string { return "{" + joinNodes(n.Items) + "}" }
func (n *MapLit) node()          {}

// SetLit is a #{...} set literal.
type SetLit struct {
	PosVal Position
	Items  []Node
}

func (n *SetLit) Pos() Position  { return n.PosVal }
func (n *SetLit) String() string { return "#{" + joinNodes(n.Items) + "}" }
func (n *SetLit) node()          {}

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, " ")
}

// ---------------------------------------------------------------------------
// Quoted data
// ---------------------------------------------------------------------------

// Datum converts a quoted node into the value it denotes: symbols stay
// symbols and lists become list values. The caller owns the result.
func Datum(n Node) vm.Value {
	switch n := n.(type) {
	case *Literal:
		return n.Value.Clone()
	case *Symbol:
		return vm.SymbolValue(n.Name)
	case *List:
		return datumList(n.Items)
	case *Vector:
		return datumList(n.Items)
	case *MapLit:
		m := vm.NewMap()
		for i := 0; i+1 < len(n.Items); i += 2 {
			m.Assoc(Datum(n.Items[i]), Datum(n.Items[i+1]))
		}
		return m
	case *SetLit:
		s := vm.NewSet()
		for _, item := range n.Items {
			s.SetAdd(Datum(item))
		}
		return s
	}
	return vm.Nil
}

func datumList(items []Node) vm.Value {
	vals := make([]vm.Value, len(items))
	for i, item := range items {
		vals[i] = Datum(item)
	}
	return vm.NewList(vals...)
}

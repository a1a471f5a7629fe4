package hash

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/pidgin/compiler"
	"github.com/chazu/pidgin/vm"
)

// ---------------------------------------------------------------------------
// Normalization: syntax tree → hashing tree
//
// Walks the syntax tree and produces the hashing tree with de Bruijn
// coordinates for local bindings and names for everything else, so that
// consistently renaming locals leaves the hash unchanged.
// ---------------------------------------------------------------------------

// ErrUnhashable is returned for forms whose normalization would be
// ambiguous: shadowed or rebound locals, or malformed special forms.
// Such forms are simply compiled without a cache key.
var ErrUnhashable = errors.New("form cannot be hashed")

// scope tracks the locals of one let or one function clause.
type scope struct {
	vars map[string]uint16 // name → slot index
}

type normalizer struct {
	scopes []scope
	fns    int // function literals entered
}

// Normalize converts top-level forms into a hashing tree.
func Normalize(forms []compiler.Node) (*HUnit, error) {
	n := &normalizer{}
	out, err := n.nodes(forms)
	if err != nil {
		return nil, err
	}
	return &HUnit{Forms: out}, nil
}

func unhashable(node compiler.Node, format string, args ...any) error {
	p := node.Pos()
	return fmt.Errorf("%w: %d:%d: %s", ErrUnhashable, p.Line, p.Column, fmt.Sprintf(format, args...))
}

func (n *normalizer) nodes(items []compiler.Node) ([]HNode, error) {
	out := make([]HNode, 0, len(items))
	for _, item := range items {
		h, err := n.node(item)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (n *normalizer) node(node compiler.Node) (HNode, error) {
	switch node := node.(type) {
	case *compiler.Literal:
		return literal(node.Value), nil
	case *compiler.Symbol:
		return n.resolve(node.Name), nil
	case *compiler.Vector:
		items, err := n.nodes(node.Items)
		return &HVector{Items: items}, err
	case *compiler.MapLit:
		items, err := n.nodes(node.Items)
		return &HMapLit{Items: items}, err
	case *compiler.SetLit:
		items, err := n.nodes(node.Items)
		return &HSetLit{Items: items}, err
	case *compiler.List:
		return n.list(node)
	}
	return nil, fmt.Errorf("%w: unexpected node %T", ErrUnhashable, node)
}

func literal(v vm.Value) HNode {
	switch v.Kind() {
	case vm.KindBool:
		b, _ := v.AsBool()
		return &HBool{Value: b}
	case vm.KindChar:
		c, _ := v.AsChar()
		return &HChar{Value: c}
	case vm.KindInt:
		i, _ := v.AsInt()
		return &HInt{Value: i}
	case vm.KindFloat:
		f, _ := v.AsFloat()
		return &HFloat{Value: f}
	case vm.KindString:
		s, _ := v.AsString()
		return &HString{Value: s}
	}
	return &HNil{}
}

func (n *normalizer) list(l *compiler.List) (HNode, error) {
	if len(l.Items) == 0 {
		return &HList{}, nil
	}
	switch l.Head() {
	case "fn":
		return n.fn(l, "")
	case "if":
		return n.ifForm(l)
	case "define":
		return n.define(l)
	case "let":
		return n.let(l)
	case "quote":
		if len(l.Items) != 2 {
			return nil, unhashable(l, "malformed quote")
		}
		return &HQuote{Datum: datum(l.Items[1])}, nil
	case "do":
		body, err := n.nodes(l.Items[1:])
		return &HDo{Body: body}, err
	}
	callee, err := n.node(l.Items[0])
	if err != nil {
		return nil, err
	}
	args, err := n.nodes(l.Items[1:])
	if err != nil {
		return nil, err
	}
	return &HCall{Callee: callee, Args: args}, nil
}

// datum converts quoted syntax. Nothing inside a quote is resolved.
func datum(node compiler.Node) HNode {
	switch node := node.(type) {
	case *compiler.Literal:
		return literal(node.Value)
	case *compiler.Symbol:
		return &HSymbol{Name: node.Name}
	case *compiler.List:
		return &HList{Items: data(node.Items)}
	case *compiler.Vector:
		return &HList{Items: data(node.Items)}
	case *compiler.MapLit:
		return &HMap{Items: data(node.Items)}
	case *compiler.SetLit:
		return &HSet{Items: data(node.Items)}
	}
	return &HNil{}
}

func data(items []compiler.Node) []HNode {
	out := make([]HNode, len(items))
	for i, item := range items {
		out[i] = datum(item)
	}
	return out
}

func (n *normalizer) ifForm(l *compiler.List) (HNode, error) {
	if len(l.Items) < 3 || len(l.Items) > 4 {
		return nil, unhashable(l, "malformed if")
	}
	parts, err := n.nodes(l.Items[1:])
	if err != nil {
		return nil, err
	}
	h := &HIf{Cond: parts[0], Then: parts[1]}
	if len(parts) == 3 {
		h.Else = parts[2]
	}
	return h, nil
}

func (n *normalizer) define(l *compiler.List) (HNode, error) {
	if n.fns > 0 || len(l.Items) != 3 {
		return nil, unhashable(l, "malformed define")
	}
	sym, ok := l.Items[1].(*compiler.Symbol)
	if !ok {
		return nil, unhashable(l, "malformed define")
	}
	var value HNode
	var err error
	if fn, ok := l.Items[2].(*compiler.List); ok && fn.Head() == "fn" {
		value, err = n.fn(fn, sym.Name)
	} else {
		value, err = n.node(l.Items[2])
	}
	if err != nil {
		return nil, err
	}
	return &HDefine{Name: sym.Name, Value: value}, nil
}

func (n *normalizer) let(l *compiler.List) (HNode, error) {
	if len(l.Items) < 2 {
		return nil, unhashable(l, "malformed let")
	}
	var pairs []compiler.Node
	switch bl := l.Items[1].(type) {
	case *compiler.List:
		pairs = bl.Items
	case *compiler.Vector:
		pairs = bl.Items
	default:
		return nil, unhashable(l, "malformed let")
	}
	if len(pairs)%2 != 0 {
		return nil, unhashable(l, "malformed let")
	}

	n.push()
	defer n.pop()
	h := &HLet{}
	for i := 0; i < len(pairs); i += 2 {
		sym, ok := pairs[i].(*compiler.Symbol)
		if !ok {
			return nil, unhashable(pairs[i], "let expects a symbol")
		}
		if err := n.checkFree(sym); err != nil {
			return nil, err
		}
		v, err := n.node(pairs[i+1])
		if err != nil {
			return nil, err
		}
		h.Values = append(h.Values, v)
		n.bind(sym.Name)
	}
	body, err := n.nodes(l.Items[2:])
	if err != nil {
		return nil, err
	}
	h.Body = body
	return h, nil
}

// fn normalizes a function literal. name is the global it is defined as,
// if any; an explicit name in the literal takes precedence.
func (n *normalizer) fn(l *compiler.List, name string) (HNode, error) {
	items := l.Items[1:]
	if len(items) > 0 {
		if s, ok := items[0].(*compiler.Symbol); ok {
			name = s.Name
			items = items[1:]
		}
	}
	if len(items) == 0 {
		return nil, unhashable(l, "fn needs a parameter list")
	}
	if name != "" {
		if err := n.checkFree(&compiler.Symbol{PosVal: l.Pos(), Name: name}); err != nil {
			return nil, err
		}
	}

	type clauseSyntax struct {
		params compiler.Node
		body   []compiler.Node
	}
	var clauses []clauseSyntax
	if first, ok := items[0].(*compiler.List); ok && len(first.Items) > 0 && isParamList(first.Items[0]) {
		for _, item := range items {
			cl, ok := item.(*compiler.List)
			if !ok || len(cl.Items) == 0 {
				return nil, unhashable(item, "malformed fn clause")
			}
			clauses = append(clauses, clauseSyntax{params: cl.Items[0], body: cl.Items[1:]})
		}
	} else {
		clauses = append(clauses, clauseSyntax{params: items[0], body: items[1:]})
	}

	n.fns++
	defer func() { n.fns-- }()
	h := &HFn{Name: name}
	for _, cs := range clauses {
		cl, err := n.clause(name, cs.params, cs.body)
		if err != nil {
			return nil, err
		}
		h.Clauses = append(h.Clauses, cl)
	}
	return h, nil
}

func isParamList(node compiler.Node) bool {
	switch node.(type) {
	case *compiler.List, *compiler.Vector:
		return true
	}
	return false
}

func (n *normalizer) clause(name string, params compiler.Node, body []compiler.Node) (*HClause, error) {
	var items []compiler.Node
	switch p := params.(type) {
	case *compiler.List:
		items = p.Items
	case *compiler.Vector:
		items = p.Items
	default:
		return nil, unhashable(params, "expected a parameter list")
	}

	n.push()
	defer n.pop()
	// slot 0 is the function itself, named or not
	n.bind(name)

	h := &HClause{}
	for i := 0; i < len(items); i++ {
		sym, ok := items[i].(*compiler.Symbol)
		if !ok {
			return nil, unhashable(items[i], "parameter must be a symbol")
		}
		if sym.Name == "&" {
			if i != len(items)-2 {
				return nil, unhashable(sym, "misplaced &")
			}
			h.Variadic = true
			continue
		}
		if err := n.checkFree(sym); err != nil {
			return nil, err
		}
		n.bind(sym.Name)
		if !h.Variadic {
			h.Arity++
		}
	}

	out, err := n.nodes(body)
	if err != nil {
		return nil, err
	}
	h.Body = out
	return h, nil
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func (n *normalizer) push() {
	n.scopes = append(n.scopes, scope{vars: map[string]uint16{}})
}

func (n *normalizer) pop() {
	n.scopes = n.scopes[:len(n.scopes)-1]
}

// bind gives name the next slot of the innermost scope. An empty name
// still takes its slot.
func (n *normalizer) bind(name string) {
	sc := &n.scopes[len(n.scopes)-1]
	slot := uint16(len(sc.vars))
	if name == "" {
		name = fmt.Sprintf("\x00%d", slot)
	}
	sc.vars[name] = slot
}

// checkFree rejects binding a name that is already local, a special form
// or a built-in. Programs doing so do not compile, and normalizing them
// could collide with programs that do.
func (n *normalizer) checkFree(sym *compiler.Symbol) error {
	if compiler.IsSpecialForm(sym.Name) {
		return unhashable(sym, "%s names a special form", sym.Name)
	}
	if _, ok := vm.Builtin(sym.Name); ok {
		return unhashable(sym, "%s names a built-in", sym.Name)
	}
	if _, ok := n.lookup(sym.Name); ok {
		return unhashable(sym, "%s is already bound", sym.Name)
	}
	if len(n.scopes) > math.MaxUint16 {
		return unhashable(sym, "scopes nested too deeply")
	}
	return nil
}

func (n *normalizer) lookup(name string) (*HLocalRef, bool) {
	for i := len(n.scopes) - 1; i >= 0; i-- {
		if slot, ok := n.scopes[i].vars[name]; ok {
			return &HLocalRef{ScopeDepth: uint16(len(n.scopes) - 1 - i), SlotIndex: slot}, true
		}
	}
	return nil, false
}

func (n *normalizer) resolve(name string) HNode {
	if ref, ok := n.lookup(name); ok {
		return ref
	}
	return &HGlobalRef{Name: name}
}

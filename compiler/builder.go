package compiler

import (
	"fmt"
	"math"

	"github.com/chazu/pidgin/vm"
)

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

// binding is a local name.
type binding struct {
	reg   Reg
	self  bool         // names the function being compiled
	arity []vm.ArgSpec // clause arities when bound to a function literal
}

// scope is one level of local bindings. Scopes of enclosing functions stay
// on the chain so that bindings can be checked for shadowing, but only the
// scopes owned by the current builder resolve to registers.
type scope struct {
	names  map[string]binding
	parent *scope
	owner  *builder
}

func (s *scope) lookup(name string) (binding, *scope, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if b, ok := sc.names[name]; ok {
			return b, sc, true
		}
	}
	return binding{}, nil, false
}

var specialForms = map[string]bool{
	"fn": true, "if": true, "define": true, "let": true, "quote": true, "do": true,
}

// IsSpecialForm reports whether name is a special form keyword.
func IsSpecialForm(name string) bool { return specialForms[name] }

// ---------------------------------------------------------------------------
// Builder: syntax tree to IR
// ---------------------------------------------------------------------------

// builder lowers the body of one clause into IR.
type builder struct {
	c     *Compiler
	fn    *Func
	scope *scope
	root  bool // top level: define is allowed, globals are looked up
	out   []*Inst
}

func newBuilder(c *Compiler, fn *Func, parent *scope, root bool) *builder {
	b := &builder{c: c, fn: fn, root: root}
	b.scope = &scope{names: map[string]binding{}, parent: parent, owner: b}
	return b
}

func (b *builder) emit(in *Inst) *Inst {
	b.out = append(b.out, in)
	return in
}

func (b *builder) push() {
	b.scope = &scope{names: map[string]binding{}, parent: b.scope, owner: b}
}

func (b *builder) pop() {
	b.scope = b.scope.parent
}

// bind introduces a local name, rejecting names that would shadow a
// special form, a built-in or any enclosing local.
func (b *builder) bind(sym *Symbol, bd binding) error {
	if err := b.checkShadow(sym); err != nil {
		return err
	}
	b.scope.names[sym.Name] = bd
	return nil
}

func (b *builder) checkShadow(sym *Symbol) error {
	detail := ""
	switch {
	case specialForms[sym.Name]:
		detail = "names a special form"
	case isBuiltinName(sym.Name):
		detail = "names a built-in"
	default:
		if _, _, ok := b.scope.lookup(sym.Name); ok {
			detail = "already bound in an enclosing scope"
		}
	}
	if detail != "" {
		return &Error{Kind: ErrorShadowing, Name: sym.Name, Pos: sym.Pos(), Detail: detail}
	}
	return nil
}

func isBuiltinName(name string) bool {
	_, ok := vm.Builtin(name)
	return ok
}

// body lowers a sequence of forms and returns the register of the last one.
// An empty body yields nil.
func (b *builder) body(forms []Node) (Reg, error) {
	if len(forms) == 0 {
		return b.loadNil(), nil
	}
	var r Reg
	for _, f := range forms {
		var err error
		if r, err = b.expr(f); err != nil {
			return noReg, err
		}
	}
	return r, nil
}

// expr lowers one form and returns the register holding its value.
func (b *builder) expr(n Node) (Reg, error) {
	switch n := n.(type) {
	case *Literal:
		return b.literal(n.Value.Clone()), nil
	case *Symbol:
		return b.symbol(n)
	case *Vector:
		return b.builtinCall("list", n.Items)
	case *MapLit:
		return b.builtinCall("hash-map", n.Items)
	case *SetLit:
		return b.builtinCall("hash-set", n.Items)
	case *List:
		return b.list(n)
	}
	return noReg, syntaxError(n, "cannot compile %s", n)
}

// literal loads an owned value, using an immediate form when one exists.
func (b *builder) literal(v vm.Value) Reg {
	dst := b.fn.newReg()
	switch v.Kind() {
	case vm.KindNil:
		b.emit(mkInst(vm.OpLoadNil, dst))
		return dst
	case vm.KindBool:
		if v.Truthy() {
			b.emit(mkInst(vm.OpLoadTrue, dst))
		} else {
			b.emit(mkInst(vm.OpLoadFalse, dst))
		}
		return dst
	case vm.KindInt:
		if n, _ := v.AsInt(); n >= math.MinInt32 && n <= math.MaxInt32 {
			b.emit(mkImm(vm.OpLoadInt, dst, int32(n)))
			return dst
		}
	}
	b.emit(mkImm(vm.OpConst, dst, b.fn.constant(v)))
	return dst
}

func (b *builder) loadNil() Reg {
	dst := b.fn.newReg()
	b.emit(mkInst(vm.OpLoadNil, dst))
	return dst
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

func (b *builder) symbol(sym *Symbol) (Reg, error) {
	if bd, sc, ok := b.scope.lookup(sym.Name); ok && sc.owner == b {
		if bd.self {
			dst := b.fn.newReg()
			b.emit(mkInst(vm.OpCallingFunction, dst))
			return dst, nil
		}
		return bd.reg, nil
	}
	if n, ok := vm.Builtin(sym.Name); ok {
		return b.constant(vm.NativeValue(n)), nil
	}
	if specialForms[sym.Name] {
		return noReg, syntaxError(sym, "%s is a special form", sym.Name)
	}

	id := vm.Intern(sym.Name)
	if b.root {
		if _, ok := b.c.defined[sym.Name]; ok || b.c.hasGlobal(id) {
			dst := b.fn.newReg()
			b.emit(mkImm(vm.OpLookup, dst, int32(id)))
			return dst, nil
		}
		return noReg, &Error{Kind: ErrorUnboundSymbol, Name: sym.Name, Pos: sym.Pos()}
	}
	if _, ok := b.c.defined[sym.Name]; ok {
		return noReg, &Error{Kind: ErrorUnboundSymbol, Name: sym.Name, Pos: sym.Pos(),
			Detail: "not defined at compile time"}
	}
	if v, ok := b.c.peekGlobal(id); ok {
		return b.constant(v.Clone()), nil
	}
	return noReg, &Error{Kind: ErrorUnboundSymbol, Name: sym.Name, Pos: sym.Pos()}
}

func (b *builder) constant(v vm.Value) Reg {
	dst := b.fn.newReg()
	b.emit(mkImm(vm.OpConst, dst, b.fn.constant(v)))
	return dst
}

// ---------------------------------------------------------------------------
// Applications and special forms
// ---------------------------------------------------------------------------

func (b *builder) list(n *List) (Reg, error) {
	if len(n.Items) == 0 {
		dst := b.fn.newReg()
		b.emit(mkInst(vm.OpEmptyList, dst))
		return dst, nil
	}
	switch n.Head() {
	case "fn":
		r, _, err := b.fnForm(n, "")
		return r, err
	case "if":
		return b.ifForm(n)
	case "define":
		return b.define(n)
	case "let":
		return b.let(n)
	case "quote":
		if len(n.Items) != 2 {
			return noReg, syntaxError(n, "quote takes one form")
		}
		return b.literal(Datum(n.Items[1])), nil
	case "do":
		return b.body(n.Items[1:])
	}
	return b.call(n)
}

// call lowers an application: arguments left to right, then the callee,
// then a uniform Call.
func (b *builder) call(n *List) (Reg, error) {
	args := make([]Reg, 0, len(n.Items))
	args = append(args, noReg)
	for _, a := range n.Items[1:] {
		r, err := b.expr(a)
		if err != nil {
			return noReg, err
		}
		args = append(args, r)
	}
	argc := len(n.Items) - 1
	if head, ok := n.Items[0].(*Symbol); ok {
		if err := b.checkArity(head, argc); err != nil {
			return noReg, err
		}
	}
	callee, err := b.expr(n.Items[0])
	if err != nil {
		return noReg, err
	}
	args[0] = callee
	dst := b.fn.newReg()
	b.emit(mkInst(vm.OpCall, dst, args...))
	return dst, nil
}

// builtinCall lowers a literal collection as a call of its constructor.
func (b *builder) builtinCall(name string, items []Node) (Reg, error) {
	args := []Reg{noReg}
	for _, item := range items {
		r, err := b.expr(item)
		if err != nil {
			return noReg, err
		}
		args = append(args, r)
	}
	native, _ := vm.Builtin(name)
	args[0] = b.constant(vm.NativeValue(native))
	dst := b.fn.newReg()
	b.emit(mkInst(vm.OpCall, dst, args...))
	return dst, nil
}

// checkArity rejects calls whose argument count no clause of a statically
// known callee accepts.
func (b *builder) checkArity(head *Symbol, argc int) error {
	name := head.Name
	var specs []vm.ArgSpec
	if bd, sc, ok := b.scope.lookup(name); ok {
		if sc.owner != b {
			return nil
		}
		specs = bd.arity
	} else if n, ok := vm.Builtin(name); ok {
		specs = []vm.ArgSpec{n.Arity}
	} else if arity, ok := b.c.defined[name]; ok {
		if b.root {
			specs = arity
		}
	} else if v, ok := b.c.peekGlobal(vm.Intern(name)); ok {
		if f := v.Function(); f != nil && !f.Accepts(argc) {
			return &Error{Kind: ErrorArityMismatch, Name: name, Pos: head.Pos(),
				Detail: fmt.Sprintf("called with %d arguments", argc)}
		}
		return nil
	}
	if len(specs) == 0 {
		return nil
	}
	for _, s := range specs {
		if s.Accepts(argc) {
			return nil
		}
	}
	return &Error{Kind: ErrorArityMismatch, Name: name, Pos: head.Pos(),
		Detail: fmt.Sprintf("expects %s arguments, called with %d", specList(specs), argc)}
}

func specList(specs []vm.ArgSpec) string {
	s := ""
	for i, a := range specs {
		if i > 0 {
			s += " or "
		}
		s += a.String()
	}
	return s
}

// ifForm lowers a conditional into a selection between two thunks followed
// by a zero-argument call of the selected one.
func (b *builder) ifForm(n *List) (Reg, error) {
	if len(n.Items) < 3 || len(n.Items) > 4 {
		return noReg, syntaxError(n, "if takes a condition, a consequent and an optional alternative")
	}
	cond, err := b.expr(n.Items[1])
	if err != nil {
		return noReg, err
	}
	then, err := b.thunk(n.Items[2])
	if err != nil {
		return noReg, err
	}
	var alt Node = &Literal{PosVal: n.Pos(), Value: vm.Nil}
	if len(n.Items) == 4 {
		alt = n.Items[3]
	}
	els, err := b.thunk(alt)
	if err != nil {
		return noReg, err
	}
	sel := b.fn.newReg()
	b.emit(&Inst{Op: opBranch, Dst: sel, Args: []Reg{cond}, Replace: noReg, then: then, els: els})
	dst := b.fn.newReg()
	b.emit(mkInst(vm.OpCall, dst, sel))
	return dst, nil
}

func (b *builder) thunk(n Node) (*thunk, error) {
	saved := b.out
	b.out = nil
	r, err := b.expr(n)
	th := &thunk{insts: b.out, result: r}
	b.out = saved
	return th, err
}

// define binds a global. Only the top level may define, and the form
// evaluates to nil.
func (b *builder) define(n *List) (Reg, error) {
	if !b.root {
		return noReg, syntaxError(n, "define is only allowed at top level")
	}
	if len(n.Items) != 3 {
		return noReg, syntaxError(n, "define takes a name and a value")
	}
	sym, ok := n.Items[1].(*Symbol)
	if !ok {
		return noReg, syntaxError(n.Items[1], "define expects a symbol, got %s", n.Items[1])
	}
	if specialForms[sym.Name] || isBuiltinName(sym.Name) {
		return noReg, &Error{Kind: ErrorShadowing, Name: sym.Name, Pos: sym.Pos(),
			Detail: "cannot redefine a built-in"}
	}

	var r Reg
	var arity []vm.ArgSpec
	var err error
	if fnNode, ok := n.Items[2].(*List); ok && fnNode.Head() == "fn" {
		r, arity, err = b.fnForm(fnNode, sym.Name)
	} else {
		r, err = b.expr(n.Items[2])
	}
	if err != nil {
		return noReg, err
	}
	b.c.defined[sym.Name] = arity
	b.emit(&Inst{Op: vm.OpDefine, Dst: noReg, Args: []Reg{r}, Replace: noReg, Imm: int32(vm.Intern(sym.Name))})
	return b.loadNil(), nil
}

// let binds names sequentially, each value seeing the bindings before it.
func (b *builder) let(n *List) (Reg, error) {
	if len(n.Items) < 2 {
		return noReg, syntaxError(n, "let takes a binding list and a body")
	}
	var pairs []Node
	switch bl := n.Items[1].(type) {
	case *List:
		pairs = bl.Items
	case *Vector:
		pairs = bl.Items
	default:
		return noReg, syntaxError(n.Items[1], "let bindings must be a list")
	}
	if len(pairs)%2 != 0 {
		return noReg, syntaxError(n.Items[1], "let bindings need an even number of forms")
	}

	b.push()
	defer b.pop()
	for i := 0; i < len(pairs); i += 2 {
		sym, ok := pairs[i].(*Symbol)
		if !ok {
			return noReg, syntaxError(pairs[i], "let expects a symbol, got %s", pairs[i])
		}
		if err := b.checkShadow(sym); err != nil {
			return noReg, err
		}
		var r Reg
		var arity []vm.ArgSpec
		var err error
		if fnNode, ok := pairs[i+1].(*List); ok && fnNode.Head() == "fn" {
			r, arity, err = b.fnForm(fnNode, "")
		} else {
			r, err = b.expr(pairs[i+1])
		}
		if err != nil {
			return noReg, err
		}
		b.scope.names[sym.Name] = binding{reg: r, arity: arity}
	}
	return b.body(n.Items[2:])
}

// ---------------------------------------------------------------------------
// Function literals
// ---------------------------------------------------------------------------

// clauseSyntax is one parsed clause of a function literal.
type clauseSyntax struct {
	params []*Symbol
	rest   *Symbol
	body   []Node
	pos    Position
}

func (cs clauseSyntax) arity() vm.ArgSpec {
	if cs.rest != nil {
		return vm.AtLeast(len(cs.params))
	}
	return vm.Exact(len(cs.params))
}

// fnForm compiles a function literal and loads it. Locals of enclosing
// scopes that the body mentions are lifted into leading parameters and
// bound at the creation site. name, when set, names a value bound by define.
func (b *builder) fnForm(n *List, name string) (Reg, []vm.ArgSpec, error) {
	items := n.Items[1:]
	var selfSym *Symbol
	if len(items) > 0 {
		if s, ok := items[0].(*Symbol); ok {
			selfSym = s
			name = s.Name
			items = items[1:]
		}
	}
	if len(items) == 0 {
		return noReg, nil, syntaxError(n, "fn needs a parameter list")
	}

	var clauses []clauseSyntax
	if multiClause(items[0]) {
		for _, item := range items {
			cl, ok := item.(*List)
			if !ok || len(cl.Items) == 0 {
				return noReg, nil, syntaxError(item, "fn clause must be a list of parameters and a body")
			}
			cs, err := parseParams(cl.Items[0], cl.Items[1:])
			if err != nil {
				return noReg, nil, err
			}
			clauses = append(clauses, cs)
		}
	} else {
		cs, err := parseParams(items[0], items[1:])
		if err != nil {
			return noReg, nil, err
		}
		clauses = append(clauses, cs)
	}

	if selfSym != nil {
		if err := b.checkShadow(selfSym); err != nil {
			return noReg, nil, err
		}
	}
	captures := b.captures(n)
	arities := make([]vm.ArgSpec, len(clauses))
	for i, cs := range clauses {
		arities[i] = cs.arity()
	}

	compiled := make([]*vm.Clause, 0, len(clauses))
	for _, cs := range clauses {
		cl, err := b.clause(name, cs, captures, arities)
		if err != nil {
			return noReg, nil, err
		}
		compiled = append(compiled, cl)
	}
	code, err := vm.NewCode(name, compiled...)
	if err != nil {
		return noReg, nil, fmt.Errorf("compiling %s: %w", nameOr(name), err)
	}

	f := b.constant(vm.FunctionValue(code))
	if len(captures) == 0 {
		return f, arities, nil
	}
	args := []Reg{f}
	for _, capName := range captures {
		r, err := b.symbol(&Symbol{PosVal: n.Pos(), Name: capName})
		if err != nil {
			return noReg, nil, err
		}
		args = append(args, r)
	}
	dst := b.fn.newReg()
	b.emit(mkInst(vm.OpBind, dst, args...))
	return dst, arities, nil
}

// multiClause reports whether a function literal lists clauses rather than
// a single parameter list.
func multiClause(first Node) bool {
	l, ok := first.(*List)
	if !ok || len(l.Items) == 0 {
		return false
	}
	switch l.Items[0].(type) {
	case *List, *Vector:
		return true
	}
	return false
}

func parseParams(params Node, body []Node) (clauseSyntax, error) {
	var items []Node
	switch p := params.(type) {
	case *List:
		items = p.Items
	case *Vector:
		items = p.Items
	default:
		return clauseSyntax{}, syntaxError(params, "expected a parameter list, got %s", params)
	}
	cs := clauseSyntax{body: body, pos: params.Pos()}
	for i := 0; i < len(items); i++ {
		sym, ok := items[i].(*Symbol)
		if !ok {
			return clauseSyntax{}, syntaxError(items[i], "parameter must be a symbol, got %s", items[i])
		}
		if sym.Name == "&" {
			if i != len(items)-2 {
				return clauseSyntax{}, syntaxError(sym, "& must be followed by exactly one parameter")
			}
			rest, ok := items[i+1].(*Symbol)
			if !ok {
				return clauseSyntax{}, syntaxError(items[i+1], "parameter must be a symbol, got %s", items[i+1])
			}
			cs.rest = rest
			break
		}
		cs.params = append(cs.params, sym)
	}
	return cs, nil
}

// captures lists, in order of first mention, the locals of this builder
// that a function literal refers to.
func (b *builder) captures(n *List) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *Symbol:
			if seen[n.Name] {
				return
			}
			if _, sc, ok := b.scope.lookup(n.Name); ok && sc.owner == b {
				seen[n.Name] = true
				out = append(out, n.Name)
			}
		case *List:
			if n.Head() == "quote" {
				return
			}
			for _, item := range n.Items {
				walk(item)
			}
		case *Vector:
			for _, item := range n.Items {
				walk(item)
			}
		case *MapLit:
			for _, item := range n.Items {
				walk(item)
			}
		case *SetLit:
			for _, item := range n.Items {
				walk(item)
			}
		}
	}
	for _, item := range n.Items[1:] {
		walk(item)
	}
	return out
}

// clause compiles one clause. Captured values occupy the leading
// parameters, so the clause's arity is shifted by their number.
func (b *builder) clause(name string, cs clauseSyntax, captures []string, arities []vm.ArgSpec) (*vm.Clause, error) {
	arity := cs.arity()
	arity.Min += len(captures)
	if arity.Max >= 0 {
		arity.Max += len(captures)
	}
	fn := newFunc(name, arity, cs.pos)
	inner := newBuilder(b.c, fn, b.scope, false)

	for i, capName := range captures {
		inner.scope.names[capName] = binding{reg: Reg(i)}
	}
	if name != "" {
		if _, ok := inner.scope.names[name]; !ok {
			inner.scope.names[name] = binding{self: true, arity: arities}
		}
	}
	next := Reg(len(captures))
	for _, p := range cs.params {
		if err := inner.bind(p, binding{reg: next}); err != nil {
			fn.release()
			return nil, err
		}
		next++
	}
	if cs.rest != nil {
		if err := inner.bind(cs.rest, binding{reg: next}); err != nil {
			fn.release()
			return nil, err
		}
	}

	r, err := inner.body(cs.body)
	if err != nil {
		fn.release()
		return nil, err
	}
	inner.emit(mkInst(vm.OpReturn, noReg, r))
	fn.Insts = inner.out
	return b.c.lower(fn)
}

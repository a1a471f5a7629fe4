package hash

// HNode is a node of the hashing tree: a syntax tree with source positions
// dropped and local names replaced by their binding coordinates.
type HNode interface {
	hnode()
}

// ---------------------------------------------------------------------------
// Literal nodes
// ---------------------------------------------------------------------------

type HNil struct{}

type HBool struct {
	Value bool
}

type HChar struct {
	Value rune
}

type HInt struct {
	Value int64
}

type HFloat struct {
	Value float64
}

type HString struct {
	Value string
}

func (*HNil) hnode()    {}
func (*HBool) hnode()   {}
func (*HChar) hnode()   {}
func (*HInt) hnode()    {}
func (*HFloat) hnode()  {}
func (*HString) hnode() {}

// ---------------------------------------------------------------------------
// Quoted data
// ---------------------------------------------------------------------------

// HSymbol is a quoted symbol. Quoted names are data and keep their text.
type HSymbol struct {
	Name string
}

// HList is a quoted list or vector.
type HList struct {
	Items []HNode
}

// HMap is a quoted map, items alternating keys and values in source order.
type HMap struct {
	Items []HNode
}

// HSet is a quoted set in source order.
type HSet struct {
	Items []HNode
}

func (*HSymbol) hnode() {}
func (*HList) hnode()   {}
func (*HMap) hnode()    {}
func (*HSet) hnode()    {}

// ---------------------------------------------------------------------------
// Reference nodes
// ---------------------------------------------------------------------------

// HLocalRef references a local binding by de Bruijn-style coordinates:
// ScopeDepth counts the scopes between the reference and the binding
// (0 = innermost), SlotIndex is the binding's position within its scope.
type HLocalRef struct {
	ScopeDepth uint16
	SlotIndex  uint16
}

// HGlobalRef references a global or built-in by name.
type HGlobalRef struct {
	Name string
}

func (*HLocalRef) hnode()  {}
func (*HGlobalRef) hnode() {}

// ---------------------------------------------------------------------------
// Form nodes
// ---------------------------------------------------------------------------

type HCall struct {
	Callee HNode
	Args   []HNode
}

type HVector struct {
	Items []HNode
}

type HMapLit struct {
	Items []HNode
}

type HSetLit struct {
	Items []HNode
}

// HFn is a function literal. Name is kept because it is compiled into the
// function's code.
type HFn struct {
	Name    string
	Clauses []*HClause
}

// HClause is one clause of a function literal, stripped of parameter names.
// Slot 0 of its scope is the function's own name; parameters follow.
type HClause struct {
	Arity    int
	Variadic bool
	Body     []HNode
}

type HIf struct {
	Cond HNode
	Then HNode
	Else HNode // nil when absent
}

type HDefine struct {
	Name  string
	Value HNode
}

// HLet binds Values sequentially into one scope.
type HLet struct {
	Values []HNode
	Body   []HNode
}

type HQuote struct {
	Datum HNode
}

type HDo struct {
	Body []HNode
}

// HUnit is the root of a compilation unit: its top-level forms in order.
type HUnit struct {
	Forms []HNode
}

func (*HCall) hnode()   {}
func (*HVector) hnode() {}
func (*HMapLit) hnode() {}
func (*HSetLit) hnode() {}
func (*HFn) hnode()     {}
func (*HClause) hnode() {}
func (*HIf) hnode()     {}
func (*HDefine) hnode() {}
func (*HLet) hnode()    {}
func (*HQuote) hnode()  {}
func (*HDo) hnode()     {}
func (*HUnit) hnode()   {}

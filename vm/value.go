package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindChar
	KindInt
	KindFloat
	KindSymbol
	KindString
	KindList
	KindMap
	KindSet
	KindFunction
	KindExternal
)

var kindNames = [...]string{
	KindNil:      "nil",
	KindBool:     "bool",
	KindChar:     "char",
	KindInt:      "int",
	KindFloat:    "float",
	KindSymbol:   "symbol",
	KindString:   "string",
	KindList:     "list",
	KindMap:      "map",
	KindSet:      "set",
	KindFunction: "function",
	KindExternal: "external",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a Pidgin value.
//
// Scalars (nil, bools, chars, numbers, symbols) live entirely in the Value
// and are copied freely. Strings, collections, functions and external
// handles point at a heap object that carries a reference count. The count
// is the number of live holders: registers, constant slots, frames and
// other values. A heap value may only be mutated in place while its count
// is exactly one.
//
// Reference counts are not synchronized; a Value belongs to one VM at a time.
type Value struct {
	kind Kind
	bits uint64
	obj  heapObject
}

// heapObject is implemented by every reference-counted payload.
type heapObject interface {
	header() *refHeader
	// drop releases everything the object holds. Called once, when the
	// count reaches zero.
	drop()
}

// refHeader is embedded by heap objects.
type refHeader struct {
	refs int32
}

func (h *refHeader) header() *refHeader { return h }

// Nil is the nil value.
var Nil = Value{}

// Pre-built booleans.
var (
	True  = Value{kind: KindBool, bits: 1}
	False = Value{kind: KindBool, bits: 0}
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Bool returns the boolean value b.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Char returns a character value.
func Char(r rune) Value {
	return Value{kind: KindChar, bits: uint64(r)}
}

// Int returns an integer value.
func Int(n int64) Value {
	return Value{kind: KindInt, bits: uint64(n)}
}

// Float returns a floating point value.
func Float(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// Sym returns a symbol value.
func Sym(s Symbol) Value {
	return Value{kind: KindSymbol, bits: uint64(s)}
}

// SymbolValue interns name and returns it as a symbol value.
func SymbolValue(name string) Value {
	return Sym(Intern(name))
}

// String returns a new string value with a reference count of one.
func String(s string) Value {
	return Value{kind: KindString, obj: &Str{refHeader: refHeader{refs: 1}, s: s}}
}

func newValue(kind Kind, obj heapObject) Value {
	obj.header().refs = 1
	return Value{kind: kind, obj: obj}
}

// ---------------------------------------------------------------------------
// Type checking and accessors
// ---------------------------------------------------------------------------

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// IsHeap reports whether v is reference counted.
func (v Value) IsHeap() bool { return v.obj != nil }

// Truthy reports whether v counts as true in a condition. Only nil and
// false are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.bits != 0
	}
	return true
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.bits != 0, v.kind == KindBool
}

// AsChar returns the character payload.
func (v Value) AsChar() (rune, bool) {
	return rune(v.bits), v.kind == KindChar
}

// AsInt returns the integer payload. Floats with no fractional part convert.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return int64(v.bits), true
	case KindFloat:
		f := math.Float64frombits(v.bits)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
	}
	return 0, false
}

// AsFloat returns the numeric payload as a float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(int64(v.bits)), true
	case KindFloat:
		return math.Float64frombits(v.bits), true
	}
	return 0, false
}

// AsSymbol returns the symbol payload.
func (v Value) AsSymbol() (Symbol, bool) {
	return Symbol(v.bits), v.kind == KindSymbol
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	if s, ok := v.obj.(*Str); ok {
		return s.s, true
	}
	return "", false
}

// List returns the list object, or nil.
func (v Value) List() *List {
	l, _ := v.obj.(*List)
	return l
}

// Map returns the map object, or nil.
func (v Value) Map() *Map {
	m, _ := v.obj.(*Map)
	return m
}

// Set returns the set object, or nil.
func (v Value) Set() *Set {
	s, _ := v.obj.(*Set)
	return s
}

// Function returns the function object, or nil.
func (v Value) Function() *Function {
	f, _ := v.obj.(*Function)
	return f
}

// External returns the external handle, or nil.
func (v Value) External() *External {
	e, _ := v.obj.(*External)
	return e
}

// ---------------------------------------------------------------------------
// Ownership
// ---------------------------------------------------------------------------

// Clone returns a new holder of v. Heap values gain a reference; scalars
// are copied.
func (v Value) Clone() Value {
	if v.obj != nil {
		v.obj.header().refs++
	}
	return v
}

// Release gives up one holder of v. When the last holder goes away the
// object releases the values it holds.
func (v Value) Release() {
	if v.obj == nil {
		return
	}
	h := v.obj.header()
	h.refs--
	switch {
	case h.refs == 0:
		v.obj.drop()
	case h.refs < 0:
		panic(&Defect{Detail: fmt.Sprintf("release of dead %s value", v.kind)})
	}
}

// RefCount returns the number of holders of a heap value, or 0 for scalars.
func (v Value) RefCount() int {
	if v.obj == nil {
		return 0
	}
	return int(v.obj.header().refs)
}

// Unique reports whether v may be mutated in place. Scalars are always
// unique.
func (v Value) Unique() bool {
	return v.obj == nil || v.obj.header().refs == 1
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// Str is the heap payload of a string value. Strings are never mutated.
type Str struct {
	refHeader
	s string
}

func (s *Str) drop() {}

// ---------------------------------------------------------------------------
// External handles
// ---------------------------------------------------------------------------

// External is an opaque host value. TypeID selects the handlers consulted
// for equality, arithmetic and printing (see Registry).
type External struct {
	refHeader
	TypeID string
	Data   any
}

func (e *External) drop() { e.Data = nil }

// ExternalValue wraps a host value.
func ExternalValue(typeID string, data any) Value {
	return newValue(KindExternal, &External{TypeID: typeID, Data: data})
}

// ---------------------------------------------------------------------------
// Equality and hashing
// ---------------------------------------------------------------------------

// Equal reports structural equality. Numbers compare numerically, functions
// and externals by identity.
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.kind == KindInt && b.kind == KindInt {
			return a.bits == b.bits
		}
		fa, _ := a.AsFloat()
		fb, _ := b.AsFloat()
		return fa == fb
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool, KindChar, KindSymbol:
		return a.bits == b.bits
	case KindString:
		return a.obj.(*Str).s == b.obj.(*Str).s
	case KindList:
		la, lb := a.List(), b.List()
		if la == lb {
			return true
		}
		if len(la.items) != len(lb.items) {
			return false
		}
		for i := range la.items {
			if !Equal(la.items[i], lb.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		ma, mb := a.Map(), b.Map()
		if ma == mb {
			return true
		}
		if len(ma.keys) != len(mb.keys) {
			return false
		}
		for i, k := range ma.keys {
			j, ok := mb.index[k.hashKey()]
			if !ok || !Equal(ma.vals[i], mb.vals[j]) {
				return false
			}
		}
		return true
	case KindSet:
		sa, sb := a.Set(), b.Set()
		if sa == sb {
			return true
		}
		if len(sa.items) != len(sb.items) {
			return false
		}
		for _, x := range sa.items {
			if _, ok := sb.index[x.hashKey()]; !ok {
				return false
			}
		}
		return true
	}
	return a.obj == b.obj
}

// hashKey is the comparable identity of a value used by maps and sets.
type hashKey struct {
	kind Kind
	bits uint64
	str  string
}

func (v Value) hashKey() hashKey {
	switch v.kind {
	case KindFloat:
		if n, ok := v.AsInt(); ok {
			return hashKey{kind: KindInt, bits: uint64(n)}
		}
		return hashKey{kind: KindFloat, bits: v.bits}
	case KindString:
		return hashKey{kind: KindString, str: v.obj.(*Str).s}
	case KindList, KindMap, KindSet:
		return hashKey{kind: v.kind, str: v.String()}
	case KindFunction, KindExternal:
		return hashKey{kind: v.kind, str: fmt.Sprintf("%p", v.obj)}
	}
	return hashKey{kind: v.kind, bits: v.bits}
}

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

// String renders v in reader syntax where one exists.
func (v Value) String() string {
	var sb strings.Builder
	v.write(&sb, nil)
	return sb.String()
}

func (v Value) write(sb *strings.Builder, reg *Registry) {
	switch v.kind {
	case KindNil:
		sb.WriteString("nil")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.bits != 0))
	case KindChar:
		sb.WriteByte('\\')
		sb.WriteRune(rune(v.bits))
	case KindInt:
		sb.WriteString(strconv.FormatInt(int64(v.bits), 10))
	case KindFloat:
		f := math.Float64frombits(v.bits)
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		sb.WriteString(s)
	case KindSymbol:
		sb.WriteString(Symbol(v.bits).Name())
	case KindString:
		sb.WriteString(strconv.Quote(v.obj.(*Str).s))
	case KindList:
		sb.WriteByte('[')
		for i, x := range v.List().items {
			if i > 0 {
				sb.WriteString(", ")
			}
			x.write(sb, reg)
		}
		sb.WriteByte(']')
	case KindMap:
		m := v.Map()
		sb.WriteByte('{')
		for i, k := range m.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			k.write(sb, reg)
			sb.WriteByte(' ')
			m.vals[i].write(sb, reg)
		}
		sb.WriteByte('}')
	case KindSet:
		sb.WriteString("#{")
		for i, x := range v.Set().items {
			if i > 0 {
				sb.WriteString(", ")
			}
			x.write(sb, reg)
		}
		sb.WriteByte('}')
	case KindFunction:
		sb.WriteString("fn(")
		sb.WriteString(v.Function().Name())
		sb.WriteByte(')')
	case KindExternal:
		e := v.External()
		if reg != nil {
			if h := reg.handlers(e.TypeID); h != nil && h.String != nil {
				sb.WriteString(h.String(e))
				return
			}
		}
		sb.WriteString("external(")
		sb.WriteString(e.TypeID)
		sb.WriteByte(')')
	}
}

package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Program encoding: canonical CBOR with a magic string and a format
// version. Symbols travel by name and built-in functions by their catalog
// name. Host functions and external values cannot be persisted.

const (
	encodingMagic = "PDGN"
	// EncodingVersion is bumped whenever the wire layout or the opcode
	// numbering changes.
	EncodingVersion = 1
)

// ErrNotPersistable is returned when a program holds host functions or
// external values.
var ErrNotPersistable = errors.New("program holds values that cannot be persisted")

// ErrVersionMismatch is returned when decoding data written by a different
// encoding version.
var ErrVersionMismatch = errors.New("program encoding version mismatch")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireProgram struct {
	Magic   string     `cbor:"1,keyasint"`
	Version int        `cbor:"2,keyasint"`
	Codes   []wireCode `cbor:"3,keyasint,omitempty"`
	Root    wireClause `cbor:"4,keyasint"`
}

type wireCode struct {
	Name    string       `cbor:"1,keyasint,omitempty"`
	Clauses []wireClause `cbor:"2,keyasint"`
}

type wireClause struct {
	Min       int         `cbor:"1,keyasint"`
	Max       int         `cbor:"2,keyasint"`
	FrameSize int         `cbor:"3,keyasint"`
	Code      []wireInstr `cbor:"4,keyasint"`
	Constants []wireValue `cbor:"5,keyasint,omitempty"`
	Symbols   []string    `cbor:"6,keyasint,omitempty"`
}

type wireInstr struct {
	_     struct{} `cbor:",toarray"`
	Op    uint8
	A     uint8
	B     uint8
	C     uint8
	Imm   int32
	Steal uint8
}

type wireValue struct {
	Kind  Kind        `cbor:"1,keyasint"`
	Int   int64       `cbor:"2,keyasint,omitempty"`
	Str   string      `cbor:"3,keyasint,omitempty"`
	Items []wireValue `cbor:"4,keyasint,omitempty"`
	Code  int         `cbor:"5,keyasint,omitempty"` // code index + 1; 0 for built-ins
	Bound []wireValue `cbor:"6,keyasint,omitempty"`
}

// MarshalProgram serializes a program.
func MarshalProgram(p *Program) ([]byte, error) {
	enc := &encoder{index: map[*Code]int{}}
	root, err := enc.clause(p.Root)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&wireProgram{
		Magic:   encodingMagic,
		Version: EncodingVersion,
		Codes:   enc.codes,
		Root:    root,
	})
}

// UnmarshalProgram deserializes and links a program.
func UnmarshalProgram(data []byte) (*Program, error) {
	var w wireProgram
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	if w.Magic != encodingMagic {
		return nil, fmt.Errorf("vm: unmarshal program: bad magic %q", w.Magic)
	}
	if w.Version != EncodingVersion {
		return nil, fmt.Errorf("vm: unmarshal program: %w: got %d, want %d", ErrVersionMismatch, w.Version, EncodingVersion)
	}
	dec := &decoder{}
	for i, wc := range w.Codes {
		clauses := make([]*Clause, len(wc.Clauses))
		for j, wcl := range wc.Clauses {
			cl, err := dec.clause(wcl)
			if err != nil {
				return nil, fmt.Errorf("vm: unmarshal function %d: %w", i, err)
			}
			clauses[j] = cl
		}
		code, err := NewCode(wc.Name, clauses...)
		if err != nil {
			return nil, fmt.Errorf("vm: unmarshal program: %w", err)
		}
		dec.codes = append(dec.codes, code)
	}
	root, err := dec.clause(w.Root)
	if err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	p, err := NewProgram(root)
	if err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type encoder struct {
	codes []wireCode
	index map[*Code]int
}

// code appends c after every code its constants reference, so decoding can
// proceed front to back.
func (e *encoder) code(c *Code) (int, error) {
	if i, ok := e.index[c]; ok {
		return i, nil
	}
	wc := wireCode{Name: c.Name}
	for _, cl := range c.Clauses {
		w, err := e.clause(cl)
		if err != nil {
			return 0, err
		}
		wc.Clauses = append(wc.Clauses, w)
	}
	e.codes = append(e.codes, wc)
	e.index[c] = len(e.codes) - 1
	return len(e.codes) - 1, nil
}

func (e *encoder) clause(cl *Clause) (wireClause, error) {
	w := wireClause{
		Min:       cl.Arity.Min,
		Max:       cl.Arity.Max,
		FrameSize: cl.FrameSize,
		Code:      make([]wireInstr, len(cl.Instructions)),
	}
	symbols := map[Symbol]int32{}
	for i, in := range cl.Instructions {
		imm := in.Imm
		if in.Op.Info().uses('S') {
			sym := Symbol(in.Imm)
			idx, ok := symbols[sym]
			if !ok {
				idx = int32(len(w.Symbols))
				symbols[sym] = idx
				w.Symbols = append(w.Symbols, sym.Name())
			}
			imm = idx
		}
		w.Code[i] = wireInstr{Op: uint8(in.Op), A: in.A, B: in.B, C: in.C, Imm: imm, Steal: uint8(in.Steal)}
	}
	for _, k := range cl.Constants {
		wv, err := e.value(k)
		if err != nil {
			return w, err
		}
		w.Constants = append(w.Constants, wv)
	}
	return w, nil
}

func (e *encoder) value(v Value) (wireValue, error) {
	w := wireValue{Kind: v.kind}
	switch v.kind {
	case KindNil:
	case KindBool, KindChar, KindInt:
		w.Int = int64(v.bits)
	case KindFloat:
		w.Int = int64(v.bits)
	case KindSymbol:
		w.Str = Symbol(v.bits).Name()
	case KindString:
		w.Str, _ = v.AsString()
	case KindList, KindSet:
		var items []Value
		if l := v.List(); l != nil {
			items = l.items
		} else {
			items = v.Set().items
		}
		for _, x := range items {
			wx, err := e.value(x)
			if err != nil {
				return w, err
			}
			w.Items = append(w.Items, wx)
		}
	case KindMap:
		m := v.Map()
		for i := range m.keys {
			wk, err := e.value(m.keys[i])
			if err != nil {
				return w, err
			}
			wv, err := e.value(m.vals[i])
			if err != nil {
				return w, err
			}
			w.Items = append(w.Items, wk, wv)
		}
	case KindFunction:
		f := v.Function()
		switch {
		case f.native != nil:
			if f.native.Host || !IsBuiltin(f.native) {
				return w, fmt.Errorf("%w: host function %s", ErrNotPersistable, f.native.Name)
			}
			w.Str = f.native.Name
		default:
			i, err := e.code(f.code)
			if err != nil {
				return w, err
			}
			w.Code = i + 1
		}
		for _, x := range f.bound {
			wx, err := e.value(x)
			if err != nil {
				return w, err
			}
			w.Bound = append(w.Bound, wx)
		}
	case KindExternal:
		return w, fmt.Errorf("%w: external %s", ErrNotPersistable, v.External().TypeID)
	}
	return w, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type decoder struct {
	codes []*Code
}

func (d *decoder) clause(w wireClause) (*Clause, error) {
	cl := &Clause{
		Arity:        ArgSpec{Min: w.Min, Max: w.Max},
		FrameSize:    w.FrameSize,
		Instructions: make([]Instruction, len(w.Code)),
	}
	for i, wi := range w.Code {
		in := Instruction{Op: Opcode(wi.Op), A: wi.A, B: wi.B, C: wi.C, Imm: wi.Imm, Steal: Mask(wi.Steal)}
		if in.Op.Info().uses('S') {
			if wi.Imm < 0 || int(wi.Imm) >= len(w.Symbols) {
				return nil, fmt.Errorf("%w: symbol index %d out of range at %d", ErrMalformed, wi.Imm, i)
			}
			in.Imm = int32(Intern(w.Symbols[wi.Imm]))
		}
		cl.Instructions[i] = in
	}
	for _, wv := range w.Constants {
		v, err := d.value(wv)
		if err != nil {
			return nil, err
		}
		cl.Constants = append(cl.Constants, v)
	}
	return cl, nil
}

func (d *decoder) value(w wireValue) (Value, error) {
	switch w.Kind {
	case KindNil:
		return Nil, nil
	case KindBool:
		return Bool(w.Int != 0), nil
	case KindChar:
		return Char(rune(w.Int)), nil
	case KindInt:
		return Int(w.Int), nil
	case KindFloat:
		return Float(math.Float64frombits(uint64(w.Int))), nil
	case KindSymbol:
		return SymbolValue(w.Str), nil
	case KindString:
		return String(w.Str), nil
	case KindList, KindSet:
		coll := NewList()
		if w.Kind == KindSet {
			coll = NewSet()
		}
		for _, wx := range w.Items {
			x, err := d.value(wx)
			if err != nil {
				coll.Release()
				return Nil, err
			}
			coll.SetAdd(x)
		}
		return coll, nil
	case KindMap:
		if len(w.Items)%2 != 0 {
			return Nil, fmt.Errorf("%w: odd map entry count", ErrMalformed)
		}
		m := NewMap()
		for i := 0; i < len(w.Items); i += 2 {
			k, err := d.value(w.Items[i])
			if err != nil {
				m.Release()
				return Nil, err
			}
			v, err := d.value(w.Items[i+1])
			if err != nil {
				k.Release()
				m.Release()
				return Nil, err
			}
			m.Assoc(k, v)
		}
		return m, nil
	case KindFunction:
		var fn Value
		if w.Code == 0 {
			n, ok := Builtin(w.Str)
			if !ok {
				return Nil, fmt.Errorf("%w: unknown built-in %q", ErrMalformed, w.Str)
			}
			fn = NativeValue(n)
		} else {
			if w.Code < 1 || w.Code > len(d.codes) {
				return Nil, fmt.Errorf("%w: function index %d out of range", ErrMalformed, w.Code-1)
			}
			fn = FunctionValue(d.codes[w.Code-1])
		}
		if len(w.Bound) == 0 {
			return fn, nil
		}
		bound := make([]Value, 0, len(w.Bound))
		for _, wx := range w.Bound {
			x, err := d.value(wx)
			if err != nil {
				releaseAll(bound)
				fn.Release()
				return Nil, err
			}
			bound = append(bound, x)
		}
		closure := bind(fn.Function(), bound)
		fn.Release()
		return closure, nil
	}
	return Nil, fmt.Errorf("%w: unknown value kind %d", ErrMalformed, w.Kind)
}

package vm

import "math"

// ---------------------------------------------------------------------------
// Numeric operations shared by the direct opcodes and the built-in functions
// ---------------------------------------------------------------------------

// Arith applies a binary arithmetic opcode (Add, Sub, Mul, Div, Mod).
// Ints stay ints except under Div, which always yields a float. Externals
// dispatch through the registry.
func (r *Registry) Arith(op Opcode, a, b Value) (Value, error) {
	if a.kind == KindExternal || b.kind == KindExternal {
		return r.externalArith(op, a, b)
	}
	if !a.IsNumber() {
		return Nil, typeFault(a, "%s expects numbers, got %s", op, a.kind)
	}
	if !b.IsNumber() {
		return Nil, typeFault(b, "%s expects numbers, got %s", op, b.kind)
	}
	if op == OpDiv {
		fa, _ := a.AsFloat()
		fb, _ := b.AsFloat()
		if fb == 0 {
			return Nil, &Fault{Kind: FaultDivisionError, Register: -1, Value: b, Detail: "division by zero"}
		}
		return Float(fa / fb), nil
	}
	if a.kind == KindInt && b.kind == KindInt {
		x, y := int64(a.bits), int64(b.bits)
		switch op {
		case OpAdd:
			return Int(x + y), nil
		case OpSub:
			return Int(x - y), nil
		case OpMul:
			return Int(x * y), nil
		case OpMod:
			if y == 0 {
				return Nil, &Fault{Kind: FaultDivisionError, Register: -1, Value: b, Detail: "modulo by zero"}
			}
			m := x % y
			if m != 0 && (m < 0) != (y < 0) {
				m += y
			}
			return Int(m), nil
		}
	}
	x, _ := a.AsFloat()
	y, _ := b.AsFloat()
	switch op {
	case OpAdd:
		return Float(x + y), nil
	case OpSub:
		return Float(x - y), nil
	case OpMul:
		return Float(x * y), nil
	case OpMod:
		if y == 0 {
			return Nil, &Fault{Kind: FaultDivisionError, Register: -1, Value: b, Detail: "modulo by zero"}
		}
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return Float(m), nil
	}
	panic(&Defect{Op: op, Detail: "not an arithmetic opcode"})
}

func (r *Registry) externalArith(op Opcode, a, b Value) (Value, error) {
	h := r.handlersFor(a, b)
	var fn func(a, b Value) (Value, error)
	if h != nil {
		switch op {
		case OpAdd:
			fn = h.Add
		case OpSub:
			fn = h.Sub
		case OpMul:
			fn = h.Mul
		case OpDiv:
			fn = h.Div
		}
	}
	if fn == nil {
		bad := a
		if a.kind != KindExternal {
			bad = b
		}
		return Nil, typeFault(bad, "%s not supported for %s", op, bad.External().TypeID)
	}
	v, err := fn(a, b)
	if err != nil {
		return Nil, &Fault{Kind: FaultHostError, Register: -1, Detail: op.String(), Err: err}
	}
	return v, nil
}

// Compare orders two numbers, two strings, two chars or two externals with
// a Compare handler.
func (r *Registry) Compare(a, b Value) (int, error) {
	if a.kind == KindExternal || b.kind == KindExternal {
		h := r.handlersFor(a, b)
		if h == nil || h.Compare == nil {
			return 0, typeFault(a, "cannot compare %s and %s", a.kind, b.kind)
		}
		c, err := h.Compare(a, b)
		if err != nil {
			return 0, &Fault{Kind: FaultHostError, Register: -1, Detail: "compare", Err: err}
		}
		return c, nil
	}
	switch {
	case a.IsNumber() && b.IsNumber():
		if a.kind == KindInt && b.kind == KindInt {
			return cmp3(int64(a.bits), int64(b.bits)), nil
		}
		x, _ := a.AsFloat()
		y, _ := b.AsFloat()
		return cmp3(x, y), nil
	case a.kind == KindString && b.kind == KindString:
		x, _ := a.AsString()
		y, _ := b.AsString()
		return cmp3(x, y), nil
	case a.kind == KindChar && b.kind == KindChar:
		return cmp3(a.bits, b.bits), nil
	}
	bad := a
	if a.IsNumber() || a.kind == KindString || a.kind == KindChar {
		bad = b
	}
	return 0, typeFault(bad, "cannot compare %s and %s", a.kind, b.kind)
}

func cmp3[T int64 | float64 | string | uint64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Relate applies a comparison opcode (Lt, Le, Gt, Ge, Eq, Ne).
func (r *Registry) Relate(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpEq:
		return Bool(r.Equal(a, b)), nil
	case OpNe:
		return Bool(!r.Equal(a, b)), nil
	}
	c, err := r.Compare(a, b)
	if err != nil {
		return Nil, err
	}
	switch op {
	case OpLt:
		return Bool(c < 0), nil
	case OpLe:
		return Bool(c <= 0), nil
	case OpGt:
		return Bool(c > 0), nil
	case OpGe:
		return Bool(c >= 0), nil
	}
	panic(&Defect{Op: op, Detail: "not a comparison opcode"})
}

// Unary applies Inc, Dec, Neg or Not.
func (r *Registry) Unary(op Opcode, a Value) (Value, error) {
	switch op {
	case OpNot:
		return Bool(!a.Truthy()), nil
	case OpInc:
		return r.Arith(OpAdd, a, Int(1))
	case OpDec:
		return r.Arith(OpSub, a, Int(1))
	case OpNeg:
		return r.Arith(OpSub, Int(0), a)
	}
	panic(&Defect{Op: op, Detail: "not a unary opcode"})
}

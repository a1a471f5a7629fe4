package vm

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Built-in functions
// ---------------------------------------------------------------------------

var builtins = map[string]*Native{}

func defBuiltin(name string, arity ArgSpec, fn NativeFunc) {
	builtins[name] = &Native{Name: name, Arity: arity, Fn: fn}
}

// Builtin returns the built-in function called name.
func Builtin(name string) (*Native, bool) {
	n, ok := builtins[name]
	return n, ok
}

// BuiltinNames returns the names of all built-ins in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether n is one of the process-wide built-ins.
func IsBuiltin(n *Native) bool {
	b, ok := builtins[n.Name]
	return ok && b == n
}

// takeArg moves argument i out of the call's argument slice.
func takeArg(args []Value, i int) Value {
	v := args[i]
	args[i] = Nil
	return v
}

func init() {
	fold := func(op Opcode, identity Value) NativeFunc {
		return func(vm *VM, args []Value) (Value, error) {
			acc := identity
			start := 0
			if len(args) > 1 {
				acc = args[0].Clone()
				start = 1
			}
			for _, x := range args[start:] {
				next, err := vm.registry.Arith(op, acc, x)
				acc.Release()
				if err != nil {
					return Nil, err
				}
				acc = next
			}
			return acc, nil
		}
	}
	defBuiltin("+", AtLeast(0), fold(OpAdd, Int(0)))
	defBuiltin("*", AtLeast(0), fold(OpMul, Int(1)))
	defBuiltin("-", AtLeast(1), fold(OpSub, Int(0)))
	defBuiltin("/", AtLeast(1), fold(OpDiv, Int(1)))
	defBuiltin("mod", Exact(2), fold(OpMod, Int(0)))

	unary := func(op Opcode) NativeFunc {
		return func(vm *VM, args []Value) (Value, error) {
			return vm.registry.Unary(op, args[0])
		}
	}
	defBuiltin("inc", Exact(1), unary(OpInc))
	defBuiltin("dec", Exact(1), unary(OpDec))
	defBuiltin("not", Exact(1), unary(OpNot))

	relate := func(op Opcode) NativeFunc {
		return func(vm *VM, args []Value) (Value, error) {
			return vm.registry.Relate(op, args[0], args[1])
		}
	}
	defBuiltin("<", Exact(2), relate(OpLt))
	defBuiltin("<=", Exact(2), relate(OpLe))
	defBuiltin(">", Exact(2), relate(OpGt))
	defBuiltin(">=", Exact(2), relate(OpGe))
	defBuiltin("=", Exact(2), relate(OpEq))
	defBuiltin("not=", Exact(2), relate(OpNe))

	// Collections
	defBuiltin("list", AtLeast(0), func(vm *VM, args []Value) (Value, error) {
		items := make([]Value, len(args))
		for i := range args {
			items[i] = takeArg(args, i)
		}
		return newValue(KindList, &List{items: items}), nil
	})
	defBuiltin("hash-map", AtLeast(0), func(vm *VM, args []Value) (Value, error) {
		if len(args)%2 != 0 {
			return Nil, &Fault{Kind: FaultArityMismatch, Register: -1,
				Detail: fmt.Sprintf("hash-map expects key/value pairs, got %d arguments", len(args))}
		}
		m := NewMap()
		for i := 0; i < len(args); i += 2 {
			if _, err := m.Assoc(takeArg(args, i), takeArg(args, i+1)); err != nil {
				m.Release()
				return Nil, err
			}
		}
		return m, nil
	})
	defBuiltin("hash-set", AtLeast(0), func(vm *VM, args []Value) (Value, error) {
		s := NewSet()
		for i := range args {
			if _, err := s.SetAdd(takeArg(args, i)); err != nil {
				s.Release()
				return Nil, err
			}
		}
		return s, nil
	})
	defBuiltin("first", Exact(1), func(vm *VM, args []Value) (Value, error) { return First(args[0]) })
	defBuiltin("last", Exact(1), func(vm *VM, args []Value) (Value, error) { return Last(args[0]) })
	defBuiltin("count", Exact(1), func(vm *VM, args []Value) (Value, error) { return Count(args[0]) })
	defBuiltin("empty?", Exact(1), func(vm *VM, args []Value) (Value, error) { return IsEmpty(args[0]) })
	defBuiltin("get", Exact(2), func(vm *VM, args []Value) (Value, error) { return Get(args[0], args[1]) })
	defBuiltin("nth", Exact(2), func(vm *VM, args []Value) (Value, error) { return Nth(args[0], args[1]) })
	defBuiltin("rest", Exact(1), func(vm *VM, args []Value) (Value, error) {
		coll := takeArg(args, 0)
		if _, err := coll.ListRest(); err != nil {
			coll.Release()
			return Nil, err
		}
		return coll, nil
	})
	defBuiltin("push", Exact(2), func(vm *VM, args []Value) (Value, error) {
		coll := takeArg(args, 0)
		if _, err := coll.ListPush(takeArg(args, 1)); err != nil {
			coll.Release()
			return Nil, err
		}
		return coll, nil
	})
	defBuiltin("conj", Exact(2), func(vm *VM, args []Value) (Value, error) {
		coll := takeArg(args, 0)
		if _, err := coll.SetAdd(takeArg(args, 1)); err != nil {
			coll.Release()
			return Nil, err
		}
		return coll, nil
	})
	defBuiltin("assoc", Exact(3), func(vm *VM, args []Value) (Value, error) {
		coll := takeArg(args, 0)
		if _, err := coll.Assoc(takeArg(args, 1), takeArg(args, 2)); err != nil {
			coll.Release()
			return Nil, err
		}
		return coll, nil
	})
	defBuiltin("apply", Exact(2), func(vm *VM, args []Value) (Value, error) {
		fn := takeArg(args, 0)
		spread, err := vm.spread(takeArg(args, 1))
		if err != nil {
			fn.Release()
			return Nil, err
		}
		return vm.TailCall(fn, spread)
	})

	// Predicates and helpers without a direct opcode
	defBuiltin("nil?", Exact(1), func(vm *VM, args []Value) (Value, error) {
		return Bool(args[0].IsNil()), nil
	})
	defBuiltin("zero?", Exact(1), func(vm *VM, args []Value) (Value, error) {
		return vm.registry.Relate(OpEq, args[0], Int(0))
	})
	parity := func(want int64) NativeFunc {
		return func(vm *VM, args []Value) (Value, error) {
			n, ok := args[0].AsInt()
			if !ok || args[0].kind != KindInt {
				return Nil, typeFault(args[0], "parity of %s", args[0].kind)
			}
			return Bool(n%2 == want || n%2 == -want), nil
		}
	}
	defBuiltin("even?", Exact(1), parity(0))
	defBuiltin("odd?", Exact(1), parity(1))
	extreme := func(sign int) NativeFunc {
		return func(vm *VM, args []Value) (Value, error) {
			best := args[0]
			for _, x := range args[1:] {
				c, err := vm.registry.Compare(x, best)
				if err != nil {
					return Nil, err
				}
				if c*sign > 0 {
					best = x
				}
			}
			return best.Clone(), nil
		}
	}
	defBuiltin("min", AtLeast(1), extreme(-1))
	defBuiltin("max", AtLeast(1), extreme(1))
	defBuiltin("abs", Exact(1), func(vm *VM, args []Value) (Value, error) {
		c, err := vm.registry.Compare(args[0], Int(0))
		if err != nil {
			return Nil, err
		}
		if c < 0 {
			return vm.registry.Unary(OpNeg, args[0])
		}
		return args[0].Clone(), nil
	})
	defBuiltin("str", AtLeast(0), func(vm *VM, args []Value) (Value, error) {
		var sb strings.Builder
		for _, x := range args {
			switch x.kind {
			case KindString:
				s, _ := x.AsString()
				sb.WriteString(s)
			case KindChar:
				sb.WriteRune(rune(x.bits))
			case KindNil:
			default:
				x.write(&sb, vm.registry)
			}
		}
		return String(sb.String()), nil
	})
	defBuiltin("keys", Exact(1), func(vm *VM, args []Value) (Value, error) {
		m := args[0].Map()
		if m == nil {
			return Nil, typeFault(args[0], "keys of %s", args[0].kind)
		}
		items := make([]Value, len(m.keys))
		for i, k := range m.keys {
			items[i] = k.Clone()
		}
		return newValue(KindList, &List{items: items}), nil
	})
	defBuiltin("vals", Exact(1), func(vm *VM, args []Value) (Value, error) {
		m := args[0].Map()
		if m == nil {
			return Nil, typeFault(args[0], "vals of %s", args[0].kind)
		}
		items := make([]Value, len(m.vals))
		for i, v := range m.vals {
			items[i] = v.Clone()
		}
		return newValue(KindList, &List{items: items}), nil
	})
	defBuiltin("reverse", Exact(1), func(vm *VM, args []Value) (Value, error) {
		coll := takeArg(args, 0)
		if coll.kind == KindNil {
			return NewList(), nil
		}
		if coll.kind != KindList {
			err := typeFault(coll, "reverse of %s", coll.kind)
			coll.Release()
			return Nil, err
		}
		coll.makeUnique()
		items := coll.List().items
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
		return coll, nil
	})
	defBuiltin("concat", AtLeast(0), func(vm *VM, args []Value) (Value, error) {
		out := NewList()
		for _, x := range args {
			switch x.kind {
			case KindNil:
			case KindList:
				for _, item := range x.List().items {
					out.ListPush(item.Clone())
				}
			default:
				out.Release()
				return Nil, typeFault(x, "concat of %s", x.kind)
			}
		}
		return out, nil
	})
	defBuiltin("range", Range(1, 2), func(vm *VM, args []Value) (Value, error) {
		lo, hi := int64(0), int64(0)
		var ok bool
		if len(args) == 1 {
			hi, ok = args[0].AsInt()
		} else {
			var okLo bool
			lo, okLo = args[0].AsInt()
			hi, ok = args[1].AsInt()
			ok = ok && okLo
		}
		if !ok {
			return Nil, typeFault(args[len(args)-1], "range bounds must be integers")
		}
		items := make([]Value, 0, max(hi-lo, 0))
		for n := lo; n < hi; n++ {
			items = append(items, Int(n))
		}
		return newValue(KindList, &List{items: items}), nil
	})
	defBuiltin("contains?", Exact(2), func(vm *VM, args []Value) (Value, error) {
		switch args[0].kind {
		case KindNil:
			return False, nil
		case KindMap:
			_, ok := args[0].Map().Get(args[1])
			return Bool(ok), nil
		case KindSet:
			return Bool(args[0].Set().Contains(args[1])), nil
		case KindList:
			for _, x := range args[0].List().items {
				if vm.registry.Equal(x, args[1]) {
					return True, nil
				}
			}
			return False, nil
		}
		return Nil, typeFault(args[0], "contains? of %s", args[0].kind)
	})
}

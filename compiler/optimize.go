package compiler

import (
	"fmt"

	"github.com/chazu/pidgin/vm"
)

// ---------------------------------------------------------------------------
// Branch fusion
// ---------------------------------------------------------------------------

// fuseBranches turns every Branch and the Call of its selection into an
// If/Else/EndIf region whose arms copy their thunk's result into the call's
// destination.
func fuseBranches(insts []*Inst) ([]*Inst, error) {
	out := make([]*Inst, 0, len(insts))
	for i := 0; i < len(insts); i++ {
		in := insts[i]
		if in.Op != opBranch {
			out = append(out, in)
			continue
		}
		if i+1 >= len(insts) || !selects(insts[i+1], in.Dst) {
			return nil, fmt.Errorf("branch v%d is not called by the next instruction", in.Dst)
		}
		res := insts[i+1].Dst
		i++

		then, err := fuseBranches(in.then.insts)
		if err != nil {
			return nil, err
		}
		els, err := fuseBranches(in.els.insts)
		if err != nil {
			return nil, err
		}
		out = append(out, mkInst(vm.OpIf, noReg, in.Args[0]))
		out = append(out, then...)
		out = append(out, &Inst{Op: vm.OpCopy, Dst: res, Args: []Reg{in.then.result}, Replace: noReg, overwrite: true})
		out = append(out, mkInst(vm.OpElse, noReg))
		out = append(out, els...)
		out = append(out, &Inst{Op: vm.OpCopy, Dst: res, Args: []Reg{in.els.result}, Replace: noReg, overwrite: true})
		out = append(out, mkInst(vm.OpEndIf, noReg))
	}
	return out, nil
}

func selects(in *Inst, sel Reg) bool {
	return in.Op == vm.OpCall && len(in.Args) == 1 && in.Args[0] == sel
}

// ---------------------------------------------------------------------------
// Builtin inlining
// ---------------------------------------------------------------------------

var binaryOps = map[string]vm.Opcode{
	"+": vm.OpAdd, "-": vm.OpSub, "*": vm.OpMul, "/": vm.OpDiv, "mod": vm.OpMod,
	"<": vm.OpLt, "<=": vm.OpLe, ">": vm.OpGt, ">=": vm.OpGe, "=": vm.OpEq, "not=": vm.OpNe,
	"get": vm.OpGet, "nth": vm.OpNth,
}

var unaryOps = map[string]vm.Opcode{
	"inc": vm.OpInc, "dec": vm.OpDec, "not": vm.OpNot,
	"first": vm.OpFirst, "last": vm.OpLast, "count": vm.OpCount, "empty?": vm.OpIsEmpty,
}

// identities of the folding arithmetic built-ins
var identities = map[string]int32{"+": 0, "*": 1, "/": 1}

var applyOps = [...]vm.Opcode{vm.OpApply0, vm.OpApply1, vm.OpApply2, vm.OpApply3}

// inlineBuiltins replaces calls of statically known built-ins with their
// opcodes. The Const loading the built-in is left for dead code
// elimination.
func inlineBuiltins(f *Func) int {
	defs := definitions(f.Insts)
	out := make([]*Inst, 0, len(f.Insts))
	inlined := 0
	for _, in := range f.Insts {
		if in.Op == vm.OpCall {
			if n := builtinAt(f, defs, in.Args[0]); n != nil {
				if repl := expandBuiltin(f, defs, n.Name, in); repl != nil {
					for _, r := range repl {
						if r.Dst != noReg {
							defs[r.Dst] = r
						}
					}
					out = append(out, repl...)
					inlined++
					continue
				}
			}
		}
		out = append(out, in)
	}
	f.Insts = out
	return inlined
}

// builtinAt returns the built-in that register r is loaded with, if any.
func builtinAt(f *Func, defs map[Reg]*Inst, r Reg) *vm.Native {
	def, ok := defs[r]
	if !ok || def.Op != vm.OpConst {
		return nil
	}
	fn := f.Constants[def.Imm].Function()
	if fn == nil || fn.Native() == nil || len(fn.Bound()) > 0 || !vm.IsBuiltin(fn.Native()) {
		return nil
	}
	return fn.Native()
}

// expandBuiltin returns the instructions computing call in's result, or nil
// when the call has no direct form.
func expandBuiltin(f *Func, defs map[Reg]*Inst, name string, in *Inst) []*Inst {
	args := in.Args[1:]
	dst := in.Dst
	n := len(args)

	chain := func(op vm.Opcode, operands []Reg) []*Inst {
		var out []*Inst
		acc := operands[0]
		for i, a := range operands[1:] {
			d := dst
			if i < len(operands)-2 {
				d = f.newReg()
			}
			out = append(out, mkInst(op, d, acc, a))
			acc = d
		}
		return out
	}
	build := func(empty, op vm.Opcode, step int) []*Inst {
		if n == 0 {
			return []*Inst{mkInst(empty, dst)}
		}
		cur := f.newReg()
		out := []*Inst{mkInst(empty, cur)}
		for i := 0; i < n; i += step {
			d := dst
			if i+step < n {
				d = f.newReg()
			}
			out = append(out, mkReplace(op, d, cur, args[i:i+step]...))
			cur = d
		}
		return out
	}

	if op, ok := unaryOps[name]; ok {
		if n != 1 {
			return nil
		}
		return []*Inst{mkInst(op, dst, args[0])}
	}
	switch name {
	case "+", "*", "-", "/":
		op := binaryOps[name]
		switch {
		case n == 0 && (name == "+" || name == "*"):
			return []*Inst{mkImm(vm.OpLoadInt, dst, identities[name])}
		case n == 1 && name == "-":
			return []*Inst{mkInst(vm.OpNeg, dst, args[0])}
		case n == 1:
			k := f.newReg()
			return []*Inst{mkImm(vm.OpLoadInt, k, identities[name]), mkInst(op, dst, k, args[0])}
		case n >= 2:
			return chain(op, args)
		}
		return nil
	case "push", "conj":
		if n != 2 {
			return nil
		}
		op := vm.OpPush
		if name == "conj" {
			op = vm.OpConj
		}
		return []*Inst{mkReplace(op, dst, args[0], args[1])}
	case "assoc":
		if n != 3 {
			return nil
		}
		return []*Inst{mkReplace(vm.OpAssoc, dst, args[0], args[1], args[2])}
	case "rest":
		if n != 1 {
			return nil
		}
		return []*Inst{mkReplace(vm.OpRest, dst, args[0])}
	case "list":
		return build(vm.OpEmptyList, vm.OpPush, 1)
	case "hash-set":
		return build(vm.OpEmptySet, vm.OpConj, 1)
	case "hash-map":
		if n%2 != 0 {
			return nil
		}
		return build(vm.OpEmptyMap, vm.OpAssoc, 2)
	case "apply":
		if n != 2 {
			return nil
		}
		op := vm.OpApply
		if l, ok := listLength(f, defs, args[1]); ok && l < len(applyOps) {
			op = applyOps[l]
		}
		return []*Inst{mkReplace(op, dst, args[1], args[0])}
	}
	if op, ok := binaryOps[name]; ok && n == 2 {
		return []*Inst{mkInst(op, dst, args[0], args[1])}
	}
	return nil
}

// listLength reports the statically known length of the list in r.
func listLength(f *Func, defs map[Reg]*Inst, r Reg) (int, bool) {
	def, ok := defs[r]
	if !ok {
		return 0, false
	}
	switch def.Op {
	case vm.OpEmptyList:
		return 0, true
	case vm.OpPush:
		n, ok := listLength(f, defs, def.Replace)
		return n + 1, ok
	case vm.OpConst:
		if l := f.Constants[def.Imm].List(); l != nil {
			return l.Len(), true
		}
	case vm.OpCopy:
		if !def.overwrite {
			return listLength(f, defs, def.Args[0])
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Constant materialization
// ---------------------------------------------------------------------------

var chainOps = map[vm.Opcode]vm.Opcode{
	vm.OpEmptyList: vm.OpPush,
	vm.OpEmptySet:  vm.OpConj,
	vm.OpEmptyMap:  vm.OpAssoc,
}

// materializeConstants folds an empty collection followed by insertions of
// literals into one constant. The literals' own loads become dead.
func materializeConstants(f *Func) int {
	defs := definitions(f.Insts)
	uses := useCounts(f.Insts)
	out := make([]*Inst, 0, len(f.Insts))
	folded := 0
	for i := 0; i < len(f.Insts); i++ {
		in := f.Insts[i]
		op, ok := chainOps[in.Op]
		if !ok {
			out = append(out, in)
			continue
		}

		var coll vm.Value
		switch in.Op {
		case vm.OpEmptyList:
			coll = vm.NewList()
		case vm.OpEmptySet:
			coll = vm.NewSet()
		default:
			coll = vm.NewMap()
		}
		cur := in.Dst
		j := i + 1
		for ; j < len(f.Insts); j++ {
			next := f.Insts[j]
			if next.Op != op || next.Replace != cur || uses[cur] != 1 {
				break
			}
			vals, ok := literalOperands(f, defs, uses, next.Args)
			if !ok {
				break
			}
			var err error
			switch op {
			case vm.OpPush:
				_, err = coll.ListPush(vals[0])
			case vm.OpConj:
				_, err = coll.SetAdd(vals[0])
			default:
				_, err = coll.Assoc(vals[0], vals[1])
			}
			if err != nil {
				break
			}
			cur = next.Dst
		}
		if cur == in.Dst {
			coll.Release()
			out = append(out, in)
			continue
		}
		out = append(out, mkImm(vm.OpConst, cur, f.constant(coll)))
		i = j - 1
		folded++
	}
	f.Insts = out
	return folded
}

// literalOperands returns owned copies of the values loaded into regs when
// each is a literal used only here.
func literalOperands(f *Func, defs map[Reg]*Inst, uses map[Reg]int, regs []Reg) ([]vm.Value, bool) {
	vals := make([]vm.Value, 0, len(regs))
	for _, r := range regs {
		v, ok := literalValue(f, defs[r])
		if !ok || uses[r] != 1 {
			for _, x := range vals {
				x.Release()
			}
			v.Release()
			return nil, false
		}
		vals = append(vals, v)
	}
	return vals, true
}

func literalValue(f *Func, def *Inst) (vm.Value, bool) {
	if def == nil {
		return vm.Nil, false
	}
	switch def.Op {
	case vm.OpLoadInt:
		return vm.Int(int64(def.Imm)), true
	case vm.OpLoadNil:
		return vm.Nil, true
	case vm.OpLoadTrue:
		return vm.True, true
	case vm.OpLoadFalse:
		return vm.False, true
	case vm.OpConst:
		k := f.Constants[def.Imm]
		switch k.Kind() {
		case vm.KindFunction, vm.KindExternal:
			return vm.Nil, false
		}
		return k.Clone(), true
	}
	return vm.Nil, false
}

// ---------------------------------------------------------------------------
// Dead code and constants
// ---------------------------------------------------------------------------

// eliminateDeadCode removes pure instructions whose results are never read,
// repeating until nothing changes.
func eliminateDeadCode(f *Func) int {
	removed := 0
	for {
		uses := useCounts(f.Insts)
		out := make([]*Inst, 0, len(f.Insts))
		for _, in := range f.Insts {
			if in.pure() && uses[in.Dst] == 0 {
				continue
			}
			out = append(out, in)
		}
		if len(out) == len(f.Insts) {
			return removed
		}
		removed += len(f.Insts) - len(out)
		f.Insts = out
	}
}

// eraseDeadConstants drops constants no instruction loads and renumbers the
// rest.
func eraseDeadConstants(f *Func) int {
	used := make([]bool, len(f.Constants))
	for _, in := range f.Insts {
		if in.Op == vm.OpConst {
			used[in.Imm] = true
		}
	}
	remap := make([]int32, len(f.Constants))
	kept := f.Constants[:0:0]
	erased := 0
	for i, k := range f.Constants {
		if !used[i] {
			k.Release()
			erased++
			continue
		}
		remap[i] = int32(len(kept))
		kept = append(kept, k)
	}
	for _, in := range f.Insts {
		if in.Op == vm.OpConst {
			in.Imm = remap[in.Imm]
		}
	}
	f.Constants = kept
	return erased
}

// ---------------------------------------------------------------------------
// Return sinking
// ---------------------------------------------------------------------------

// sinkReturns moves a Return of a conditional's result into both arms,
// repeating so that nested conditionals in tail position return directly.
func sinkReturns(f *Func) int {
	sunk := 0
	for {
		uses := useCounts(f.Insts)
		rg := findRegions(f.Insts)
		changed := false
		for i := 0; i+1 < len(f.Insts); i++ {
			end, ret := f.Insts[i], f.Insts[i+1]
			if end.Op != vm.OpEndIf || ret.Op != vm.OpReturn {
				continue
			}
			res := ret.Args[0]
			elseAt := rg.elseOf[rg.ifOf[i]]
			thenLast, elseLast := f.Insts[elseAt-1], f.Insts[i-1]
			if !resultCopy(thenLast, res) || !resultCopy(elseLast, res) || uses[res] != 1 {
				continue
			}
			f.Insts[elseAt-1] = mkInst(vm.OpReturn, noReg, thenLast.Args[0])
			f.Insts[i-1] = mkInst(vm.OpReturn, noReg, elseLast.Args[0])
			f.Insts = append(f.Insts[:i+1], f.Insts[i+2:]...)
			changed = true
			sunk++
			break
		}
		if !changed {
			return sunk
		}
	}
}

func resultCopy(in *Inst, res Reg) bool {
	return in.Op == vm.OpCopy && in.overwrite && in.Dst == res
}

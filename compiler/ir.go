package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/pidgin/vm"
)

// ---------------------------------------------------------------------------
// IR: instructions over unbounded virtual registers
// ---------------------------------------------------------------------------

// Reg is a virtual register.
type Reg int

const noReg Reg = -1

// opBranch selects one of two zero-argument thunks by a condition. It only
// exists between building and branch fusion.
const opBranch vm.Opcode = 0xF0

// Inst is one IR instruction. Operands are read in order, Args first and
// then Replace; results are written after every read.
//
// For calls Args[0] is the callee. Replace names an operand the instruction
// consumes and overwrites with its result (Push, Conj, Rest, Assoc, Apply):
// Dst then lives in the same physical register.
type Inst struct {
	Op      vm.Opcode
	Dst     Reg
	Args    []Reg
	Replace Reg
	Imm     int32

	// overwrite marks a Copy into a branch result, which every arm of the
	// conditional defines once.
	overwrite bool

	// opBranch only
	then, els *thunk
}

// thunk is the body of one conditional arm. It shares the enclosing
// function's register namespace.
type thunk struct {
	insts  []*Inst
	result Reg
}

// uses returns the registers the instruction reads, in read order.
func (in *Inst) uses() []Reg {
	if in.Replace == noReg {
		return in.Args
	}
	out := make([]Reg, 0, len(in.Args)+1)
	out = append(out, in.Args...)
	return append(out, in.Replace)
}

// argCount is the number of Arg pseudo-instructions a call-family
// instruction is followed by.
func (in *Inst) argCount() int {
	return len(in.Args) - 1
}

// pure reports whether removing the instruction is unobservable when its
// result is unused.
func (in *Inst) pure() bool {
	switch in.Op {
	case vm.OpConst, vm.OpLoadInt, vm.OpLoadNil, vm.OpLoadTrue, vm.OpLoadFalse,
		vm.OpCopy, vm.OpEmptyList, vm.OpEmptyMap, vm.OpEmptySet, vm.OpCallingFunction:
		return in.Dst != noReg && !in.overwrite
	}
	return false
}

// consumes reports whether the use of operand position i is a consuming
// one, so that a final use may steal the value.
func (in *Inst) consumes(i int) bool {
	if i >= len(in.Args) {
		return true // Replace
	}
	switch in.Op {
	case vm.OpCall, vm.OpBind, vm.OpReturn, vm.OpDefine, vm.OpCopy, vm.OpApply,
		vm.OpApply0, vm.OpApply1, vm.OpApply2, vm.OpApply3:
		return true
	case vm.OpPush, vm.OpConj, vm.OpAssoc:
		return true
	}
	return false
}

func (in *Inst) String() string {
	var sb strings.Builder
	if in.Op == opBranch {
		sb.WriteString("BRANCH")
	} else {
		sb.WriteString(in.Op.String())
	}
	if in.Dst != noReg {
		fmt.Fprintf(&sb, " v%d", in.Dst)
		if in.overwrite {
			sb.WriteByte('!')
		}
		sb.WriteString(" <-")
	}
	for _, r := range in.Args {
		fmt.Fprintf(&sb, " v%d", r)
	}
	if in.Replace != noReg {
		fmt.Fprintf(&sb, " ~v%d", in.Replace)
	}
	info := in.Op.Info()
	if strings.ContainsAny(info.Operands, "IKS") {
		fmt.Fprintf(&sb, " #%d", in.Imm)
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Func: one clause of a function, or the root program
// ---------------------------------------------------------------------------

// Func is the IR of one clause. Parameters occupy virtual registers
// 0..Params-1, which are pinned to the same physical registers.
type Func struct {
	Name      string
	Arity     vm.ArgSpec
	Params    int
	Insts     []*Inst
	Constants []vm.Value
	Pos       Position

	regs int
}

func newFunc(name string, arity vm.ArgSpec, pos Position) *Func {
	params := arity.Registers()
	return &Func{Name: name, Arity: arity, Params: params, Pos: pos, regs: params}
}

// newReg allocates a fresh virtual register.
func (f *Func) newReg() Reg {
	r := Reg(f.regs)
	f.regs++
	return r
}

// constant appends v to the constant table, taking ownership.
func (f *Func) constant(v vm.Value) int32 {
	f.Constants = append(f.Constants, v)
	return int32(len(f.Constants) - 1)
}

// release drops the constant table.
func (f *Func) release() {
	for _, k := range f.Constants {
		k.Release()
	}
	f.Constants = nil
}

// String lists the IR, indenting conditional arms.
func (f *Func) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; %s arity %s params %d\n", nameOr(f.Name), f.Arity, f.Params)
	for i, k := range f.Constants {
		fmt.Fprintf(&sb, ";   k%d = %s\n", i, k)
	}
	writeInsts(&sb, f.Insts, 0)
	return sb.String()
}

func writeInsts(sb *strings.Builder, insts []*Inst, depth int) {
	for _, in := range insts {
		if in.Op == vm.OpElse || in.Op == vm.OpEndIf {
			depth--
		}
		fmt.Fprintf(sb, "%s%s\n", strings.Repeat("  ", depth), in)
		switch in.Op {
		case vm.OpIf, vm.OpElse:
			depth++
		case opBranch:
			fmt.Fprintf(sb, "%s then -> v%d\n", strings.Repeat("  ", depth), in.then.result)
			writeInsts(sb, in.then.insts, depth+1)
			fmt.Fprintf(sb, "%s else -> v%d\n", strings.Repeat("  ", depth), in.els.result)
			writeInsts(sb, in.els.insts, depth+1)
		}
	}
}

func nameOr(name string) string {
	if name == "" {
		return "anonymous"
	}
	return name
}

// ---------------------------------------------------------------------------
// Instruction constructors
// ---------------------------------------------------------------------------

func mkInst(op vm.Opcode, dst Reg, args ...Reg) *Inst {
	return &Inst{Op: op, Dst: dst, Args: args, Replace: noReg}
}

func mkImm(op vm.Opcode, dst Reg, imm int32) *Inst {
	return &Inst{Op: op, Dst: dst, Replace: noReg, Imm: imm}
}

func mkReplace(op vm.Opcode, dst, coll Reg, args ...Reg) *Inst {
	return &Inst{Op: op, Dst: dst, Args: args, Replace: coll}
}

// ---------------------------------------------------------------------------
// Structure helpers
// ---------------------------------------------------------------------------

// regions maps each If to its Else and EndIf, and each Else and EndIf back
// to their If.
type regions struct {
	elseOf map[int]int
	endOf  map[int]int
	ifOf   map[int]int
}

func findRegions(insts []*Inst) regions {
	rg := regions{elseOf: map[int]int{}, endOf: map[int]int{}, ifOf: map[int]int{}}
	var open []int
	for i, in := range insts {
		switch in.Op {
		case vm.OpIf:
			open = append(open, i)
		case vm.OpElse:
			top := open[len(open)-1]
			rg.elseOf[top] = i
			rg.ifOf[i] = top
		case vm.OpEndIf:
			top := open[len(open)-1]
			open = open[:len(open)-1]
			rg.endOf[top] = i
			rg.ifOf[i] = top
		}
	}
	return rg
}

// useCounts counts reads of every register.
func useCounts(insts []*Inst) map[Reg]int {
	counts := map[Reg]int{}
	for _, in := range insts {
		for _, r := range in.uses() {
			counts[r]++
		}
	}
	return counts
}

// definitions maps each register to its first defining instruction.
func definitions(insts []*Inst) map[Reg]*Inst {
	defs := map[Reg]*Inst{}
	for _, in := range insts {
		if in.Dst != noReg {
			if _, ok := defs[in.Dst]; !ok {
				defs[in.Dst] = in
			}
		}
	}
	return defs
}

package compiler

import (
	"fmt"
	"sort"

	"github.com/chazu/pidgin/vm"
)

// ---------------------------------------------------------------------------
// Replacement legalization
// ---------------------------------------------------------------------------

// legalizeReplacements gives every replacing instruction an operand it may
// consume: when the replaced register is read again later, on this path or
// in the other arm of a conditional, it works on a copy.
func legalizeReplacements(f *Func, lt *lifetimes) bool {
	last := map[Reg]int{}
	for i, in := range f.Insts {
		for _, r := range in.uses() {
			last[r] = i
		}
		for r := range lt.liveOut[i] {
			if i > last[r] {
				last[r] = i
			}
		}
	}

	out := make([]*Inst, 0, len(f.Insts))
	changed := false
	for i, in := range f.Insts {
		if in.Replace != noReg && (last[in.Replace] > i || containsReg(in.Args, in.Replace)) {
			t := f.newReg()
			out = append(out, mkInst(vm.OpCopy, t, in.Replace))
			in.Replace = t
			changed = true
		}
		out = append(out, in)
	}
	f.Insts = out
	return changed
}

func containsReg(regs []Reg, r Reg) bool {
	for _, x := range regs {
		if x == r {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Linear-scan allocation
// ---------------------------------------------------------------------------

// interval is the span of instruction indices a virtual register occupies,
// from its first definition to the last point it is read or live.
type interval struct {
	reg        Reg
	start, end int
	phys       int
}

// allocation maps virtual registers to physical ones.
type allocation struct {
	phys      map[Reg]int
	frameSize int
}

// allocate packs intervals into physical registers 0..max-1, lowest first.
// A register freed by an operand's last read may be reused by the same
// instruction's result, since operands are read before results are written.
// Parameters are pinned to their own registers.
func allocate(f *Func, lt *lifetimes, max int) (*allocation, error) {
	ivs := map[Reg]*interval{}
	touch := func(r Reg, i int) {
		iv := ivs[r]
		if iv == nil {
			iv = &interval{reg: r, start: i, end: i}
			ivs[r] = iv
		}
		if i < iv.start {
			iv.start = i
		}
		if i > iv.end {
			iv.end = i
		}
	}
	for p := 0; p < f.Params; p++ {
		touch(Reg(p), -1)
	}
	for i, in := range f.Insts {
		if in.Dst != noReg {
			touch(in.Dst, i)
		}
		for _, r := range in.uses() {
			touch(r, i)
		}
		for r := range lt.liveOut[i] {
			touch(r, i)
		}
	}

	if f.Params > max {
		return nil, overflow(f, max)
	}
	al := &allocation{phys: map[Reg]int{}, frameSize: f.Params}
	free := make([]bool, max)
	for i := range free {
		free[i] = true
	}

	var active, pending []*interval
	for _, iv := range ivs {
		if int(iv.reg) < f.Params {
			iv.phys = int(iv.reg)
			free[iv.phys] = false
			al.phys[iv.reg] = iv.phys
			active = append(active, iv)
			continue
		}
		pending = append(pending, iv)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].start != pending[j].start {
			return pending[i].start < pending[j].start
		}
		return pending[i].reg < pending[j].reg
	})

	for _, iv := range pending {
		keep := active[:0]
		for _, a := range active {
			if a.end <= iv.start {
				free[a.phys] = true
			} else {
				keep = append(keep, a)
			}
		}
		active = keep

		phys := -1
		if in := f.Insts[iv.start]; in.Dst == iv.reg && in.Replace != noReg {
			if p, ok := al.phys[in.Replace]; ok && free[p] {
				phys = p
			}
		}
		if phys < 0 {
			for p, ok := range free {
				if ok {
					phys = p
					break
				}
			}
		}
		if phys < 0 {
			return nil, overflow(f, max)
		}
		free[phys] = false
		iv.phys = phys
		al.phys[iv.reg] = phys
		active = append(active, iv)
		if phys+1 > al.frameSize {
			al.frameSize = phys + 1
		}
	}
	return al, nil
}

func overflow(f *Func, max int) *Error {
	return &Error{Kind: ErrorOverflow, Name: f.Name, Pos: f.Pos,
		Detail: fmt.Sprintf("needs more than %d registers", max)}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// scalarDefs are opcodes whose result never holds a heap value.
var scalarDefs = map[vm.Opcode]bool{
	vm.OpLoadInt: true, vm.OpLoadNil: true, vm.OpLoadTrue: true, vm.OpLoadFalse: true,
	vm.OpLt: true, vm.OpLe: true, vm.OpGt: true, vm.OpGe: true, vm.OpEq: true, vm.OpNe: true,
	vm.OpNot: true, vm.OpCount: true, vm.OpIsEmpty: true,
}

// scalarRegs finds the registers every definition of which yields a
// scalar. Parameters are unknown and never scalar.
func scalarRegs(f *Func) map[Reg]bool {
	scalar := map[Reg]bool{}
	for _, in := range f.Insts {
		if in.Dst == noReg {
			continue
		}
		s := scalarDefs[in.Op] || (in.Op == vm.OpConst && !f.Constants[in.Imm].IsHeap())
		if prev, seen := scalar[in.Dst]; seen {
			s = s && prev
		}
		scalar[in.Dst] = s
	}
	return scalar
}

// emitter lowers allocated IR to VM instructions, deciding steals and
// placing clears.
type emitter struct {
	f      *Func
	lt     *lifetimes
	al     *allocation
	scalar map[Reg]bool
	elide  bool
	code   []vm.Instruction
}

func emitClause(f *Func, lt *lifetimes, al *allocation, opts Options) ([]vm.Instruction, error) {
	e := &emitter{f: f, lt: lt, al: al, scalar: scalarRegs(f), elide: opts.ElideScalarClears}

	var unused []Reg
	for p := 0; p < f.Params; p++ {
		if !lt.liveIn.has(Reg(p)) {
			unused = append(unused, Reg(p))
		}
	}
	e.clear(unused, -1)

	for i, in := range f.Insts {
		if err := e.inst(i, in); err != nil {
			return nil, err
		}
		switch in.Op {
		case vm.OpIf:
			arm := lt.arms[i]
			e.clear(arm.entry.minus(arm.thenIn), -1)
		case vm.OpElse:
			arm := lt.arms[lt.rg.ifOf[i]]
			e.clear(arm.entry.minus(arm.elseIn), -1)
		}
	}
	return e.code, nil
}

func (e *emitter) reg(r Reg) uint8 {
	return uint8(e.al.phys[r])
}

// clear emits Clears for regs in ascending physical order, skipping the
// register holding skip and scalars when clears of scalars are elided.
func (e *emitter) clear(regs []Reg, skip int) {
	var phys []int
	seen := map[int]bool{}
	for _, r := range regs {
		if e.elide && e.scalar[r] {
			continue
		}
		p := e.al.phys[r]
		if p == skip || seen[p] {
			continue
		}
		seen[p] = true
		phys = append(phys, p)
	}
	sort.Ints(phys)
	for _, p := range phys {
		e.code = append(e.code, vm.Instruction{Op: vm.OpClear, A: uint8(p)})
	}
}

func (e *emitter) inst(i int, in *Inst) error {
	uses := in.uses()
	steal := make([]bool, len(uses))
	var dying []Reg
	for p, r := range uses {
		if !e.lt.finalUse(i, p) {
			continue
		}
		if in.consumes(p) {
			steal[p] = true
		} else if in.Op != vm.OpIf {
			dying = append(dying, r)
		}
	}
	mask := func(p int, m vm.Mask) vm.Mask {
		if steal[p] {
			return m
		}
		return 0
	}

	out := vm.Instruction{Op: in.Op, Imm: in.Imm}
	if in.Dst != noReg {
		out.A = e.reg(in.Dst)
	}
	switch in.Op {
	case vm.OpCall, vm.OpBind:
		n := in.argCount()
		if n > 255 {
			return &Error{Kind: ErrorOverflow, Name: e.f.Name, Pos: e.f.Pos,
				Detail: fmt.Sprintf("call with %d arguments", n)}
		}
		out.B = e.reg(in.Args[0])
		out.C = uint8(n)
		out.Steal = mask(0, vm.StealB)
		e.code = append(e.code, out)
		for p, r := range in.Args[1:] {
			e.code = append(e.code, vm.Instruction{Op: vm.OpArg, A: e.reg(r), Steal: mask(p+1, vm.StealA)})
		}
	case vm.OpReturn, vm.OpIf:
		out.A = e.reg(in.Args[0])
		e.code = append(e.code, out)
	case vm.OpDefine, vm.OpCopy:
		out.B = e.reg(in.Args[0])
		out.Steal = mask(0, vm.StealB)
		e.code = append(e.code, out)
	case vm.OpPush, vm.OpConj, vm.OpApply, vm.OpApply0, vm.OpApply1, vm.OpApply2, vm.OpApply3:
		e.checkReplace(in)
		out.B = e.reg(in.Args[0])
		out.Steal = mask(0, vm.StealB)
		e.code = append(e.code, out)
	case vm.OpAssoc:
		e.checkReplace(in)
		out.B = e.reg(in.Args[0])
		out.C = e.reg(in.Args[1])
		out.Steal = mask(0, vm.StealB) | mask(1, vm.StealC)
		e.code = append(e.code, out)
	case vm.OpRest:
		e.checkReplace(in)
		e.code = append(e.code, out)
	default:
		if len(in.Args) > 0 {
			out.B = e.reg(in.Args[0])
		}
		if len(in.Args) > 1 {
			out.C = e.reg(in.Args[1])
		}
		e.code = append(e.code, out)
	}

	skip := -1
	if in.Dst != noReg {
		skip = e.al.phys[in.Dst]
	}
	e.clear(dying, skip)
	if e.lt.deadDef(i) {
		e.clear([]Reg{in.Dst}, -1)
	}
	return nil
}

// checkReplace guards the allocator's promise that a replacing instruction
// writes where its consumed operand lived.
func (e *emitter) checkReplace(in *Inst) {
	if e.al.phys[in.Dst] != e.al.phys[in.Replace] {
		panic(fmt.Sprintf("compiler: %s does not share a register with v%d", in, in.Replace))
	}
}

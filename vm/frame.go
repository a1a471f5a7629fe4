package vm

// ---------------------------------------------------------------------------
// CallFrame: execution state of one activation
// ---------------------------------------------------------------------------

// CallFrame is one activation on the VM's frame stack.
type CallFrame struct {
	Clause *Clause   // the code being executed
	Fn     *Function // the function being executed; nil for the root program
	IP     int       // index of the next instruction
	Base   int       // first register of this frame's window
	Target int       // absolute caller register receiving the result; -1 halts
}

// ---------------------------------------------------------------------------
// Register file
// ---------------------------------------------------------------------------

// ensure grows the register file to at least n registers.
func (vm *VM) ensure(n int) {
	if n <= len(vm.regs) {
		return
	}
	size := len(vm.regs) * 2
	if size < n {
		size = n
	}
	grown := make([]Value, size)
	copy(grown, vm.regs)
	vm.regs = grown
}

// set stores an owned value into register r, releasing the previous value.
func (vm *VM) set(r int, v Value) {
	old := vm.regs[r]
	vm.regs[r] = v
	old.Release()
}

// take moves the value out of register r, leaving Nil.
func (vm *VM) take(r int) Value {
	v := vm.regs[r]
	vm.regs[r] = Nil
	return v
}

// read returns an owned value for operand r: the value itself when the
// operand is stolen, a new holder otherwise.
func (vm *VM) read(r int, steal bool) Value {
	if steal {
		return vm.take(r)
	}
	return vm.regs[r].Clone()
}

// clear releases register r.
func (vm *VM) clear(r int) {
	vm.take(r).Release()
}

// releaseWindow clears n registers starting at base.
func (vm *VM) releaseWindow(base, n int) {
	end := base + n
	if end > len(vm.regs) {
		end = len(vm.regs)
	}
	for r := base; r < end; r++ {
		vm.clear(r)
	}
}

// ---------------------------------------------------------------------------
// Frame stack
// ---------------------------------------------------------------------------

func (vm *VM) top() *CallFrame {
	return &vm.frames[len(vm.frames)-1]
}

// pushFrame activates clause with args in its first registers. Takes
// ownership of fn and args. A nil fn marks the root program.
func (vm *VM) pushFrame(clause *Clause, fn *Function, args []Value, base, target int) {
	vm.ensure(base + clause.FrameSize)
	if n := len(vm.frames); n > 0 && target >= 0 {
		parent := vm.frames[n-1]
		if base != parent.Base+parent.Clause.FrameSize {
			vm.stats.BaseMismatches++
		}
	}

	arity := clause.Arity
	fixed := len(args)
	if arity.Variadic() && fixed > arity.Min {
		fixed = arity.Min
	}
	for i := 0; i < fixed; i++ {
		vm.regs[base+i] = args[i]
	}
	if arity.Variadic() {
		rest := make([]Value, 0, len(args)-fixed)
		rest = append(rest, args[fixed:]...)
		vm.regs[base+arity.Min] = newValue(KindList, &List{items: rest})
	}

	vm.frames = append(vm.frames, CallFrame{Clause: clause, Fn: fn, Base: base, Target: target})
	vm.stats.FramesPushed++
	if d := len(vm.frames); d > vm.stats.MaxDepth {
		vm.stats.MaxDepth = d
	}
}

// popFrame ends the current activation and delivers v, which it owns, to
// the frame's target. Popping a frame whose target is -1 halts the VM; its
// registers stay in place for inspection.
func (vm *VM) popFrame(v Value) {
	cur := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.stats.FramesPopped++
	if cur.Target >= 0 {
		vm.releaseWindow(cur.Base, cur.Clause.FrameSize)
	}
	if cur.Fn != nil {
		Value{kind: KindFunction, obj: cur.Fn}.Release()
	}
	if cur.Target < 0 {
		vm.halted = true
		vm.result = v
		return
	}
	vm.set(cur.Target, v)
}

// discardFrame drops the current activation ahead of a tail call and
// returns its base and target for the replacement frame.
func (vm *VM) discardFrame() (base, target int) {
	cur := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.stats.FramesPopped++
	vm.releaseWindow(cur.Base, cur.Clause.FrameSize)
	if cur.Fn != nil {
		Value{kind: KindFunction, obj: cur.Fn}.Release()
	}
	return cur.Base, cur.Target
}

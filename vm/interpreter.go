package vm

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pidgin.vm")

// DefaultMaxFrames bounds the frame stack unless WithMaxFrames says otherwise.
const DefaultMaxFrames = 10000

// State is the VM lifecycle state.
type State uint8

const (
	StateInit State = iota
	StateRunning
	StateHalted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", s)
}

// Stats counts what the VM did during evaluation.
type Stats struct {
	Instructions   int64
	FramesPushed   int
	FramesPopped   int
	MaxDepth       int
	CopyOnWrite    int // in-place operators that had to copy a shared collection
	BaseMismatches int // frames not placed directly above their caller
}

// ErrNotRunnable is returned by Evaluate on a VM that already ran.
var ErrNotRunnable = errors.New("vm: evaluation already started")

// ErrProgramConsumed is returned by Evaluate when another VM has already
// stolen constants out of the program.
var ErrProgramConsumed = errors.New("vm: program constants were consumed by another evaluation")

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM evaluates one Program. It is single-threaded: nothing in it may be
// touched by another goroutine while Evaluate runs.
type VM struct {
	ID uuid.UUID

	program  *Program
	env      *Environment
	registry *Registry

	regs    []Value
	frames  []CallFrame
	argbuf  []Value
	pending *pendingCall

	state     State
	maxFrames int
	trace     bool
	stats     Stats

	halted bool
	result Value
	fault  *Fault
}

type pendingCall struct {
	fn   Value
	args []Value
}

// Option configures a VM.
type Option func(*VM)

// WithEnvironment evaluates against env instead of a fresh environment.
func WithEnvironment(env *Environment) Option {
	return func(vm *VM) { vm.env = env }
}

// WithRegistry installs the external type handlers.
func WithRegistry(r *Registry) Option {
	return func(vm *VM) { vm.registry = r }
}

// WithMaxFrames bounds frame depth; deeper calls fault with StackOverflow.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option {
	return func(vm *VM) { vm.trace = on }
}

// New loads p into a fresh VM.
func New(p *Program, opts ...Option) *VM {
	p.owners++
	vm := &VM{
		ID:        uuid.New(),
		program:   p,
		maxFrames: DefaultMaxFrames,
		regs:      make([]Value, 64),
		frames:    make([]CallFrame, 0, 16),
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.env == nil {
		vm.env = NewEnvironment()
	}
	if vm.registry == nil {
		vm.registry = NewRegistry()
	}
	return vm
}

// State returns the lifecycle state.
func (vm *VM) State() State { return vm.state }

// Stats returns the counters collected so far.
func (vm *VM) Stats() Stats { return vm.stats }

// Environment returns the global environment.
func (vm *VM) Environment() *Environment { return vm.env }

// Registry returns the external type handlers.
func (vm *VM) Registry() *Registry { return vm.registry }

// Fault returns the fault that stopped evaluation, or nil.
func (vm *VM) Fault() *Fault { return vm.fault }

// Register returns root-frame register i without transferring ownership.
func (vm *VM) Register(i int) Value {
	if i < 0 || i >= len(vm.regs) {
		return Nil
	}
	return vm.regs[i]
}

// RegisterHandlers installs external handlers. It fails once evaluation has
// started.
func (vm *VM) RegisterHandlers(typeID string, h Handlers) error {
	if vm.state != StateInit {
		return fmt.Errorf("register handlers for %s: %w", typeID, ErrNotRunnable)
	}
	return vm.registry.Register(typeID, h)
}

// DefineHost binds a host function as a global. It fails once evaluation
// has started.
func (vm *VM) DefineHost(name string, arity ArgSpec, fn NativeFunc) error {
	if vm.state != StateInit {
		return fmt.Errorf("define host function %s: %w", name, ErrNotRunnable)
	}
	vm.env.Define(Intern(name), NativeValue(&Native{Name: name, Arity: arity, Fn: fn, Host: true}))
	return nil
}

// Close releases every register and any frames a fault left behind. The
// environment is left to its owner.
func (vm *VM) Close() {
	vm.unwind()
	vm.releaseWindow(0, len(vm.regs))
}

// unwind drops the frames still on the stack, releasing the function each
// one holds. Registers stay in place for inspection until Close.
func (vm *VM) unwind() {
	for i := len(vm.frames) - 1; i >= 0; i-- {
		if fn := vm.frames[i].Fn; fn != nil {
			Value{kind: KindFunction, obj: fn}.Release()
		}
	}
	vm.frames = vm.frames[:0]
	vm.dropPending()
}

// TailCall lets a native function hand control to fn. The native returns
// whatever TailCall returns; the VM then calls fn with args in the native's
// place. Takes ownership of fn and args.
func (vm *VM) TailCall(fn Value, args []Value) (Value, error) {
	vm.pending = &pendingCall{fn: fn, args: args}
	return Nil, nil
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Evaluate runs the program to completion and returns the halting value,
// which the caller owns. A runtime fault is returned as a *Fault.
func (vm *VM) Evaluate() (Value, error) {
	if vm.state != StateInit {
		return Nil, ErrNotRunnable
	}
	if vm.program.consumed {
		return Nil, ErrProgramConsumed
	}
	vm.state = StateRunning
	root := vm.program.Root
	log.Debugf("vm %s: evaluating %d instructions", vm.ID, len(root.Instructions))

	vm.pushFrame(root, nil, nil, 0, -1)
	err := vm.run()
	vm.program.owners--
	if err != nil {
		vm.state = StateFaulted
		vm.unwind()
		errors.As(err, &vm.fault)
		log.Infof("vm %s: %s", vm.ID, err)
		return Nil, err
	}
	vm.state = StateHalted
	result := vm.result
	vm.result = Nil
	log.Debugf("vm %s: halted after %d instructions", vm.ID, vm.stats.Instructions)
	return result, nil
}

// run is the fetch-decode-execute loop.
func (vm *VM) run() error {
	fr := vm.top()
	for {
		code := fr.Clause.Instructions
		if fr.IP >= len(code) {
			vm.popFrame(Nil)
			if vm.halted {
				return nil
			}
			fr = vm.top()
			continue
		}

		ip := fr.IP
		in := code[ip]
		fr.IP++
		vm.stats.Instructions++
		if vm.trace {
			log.Debugf("vm %s: [%d] %4d %s", vm.ID, len(vm.frames), ip, in)
		}
		base := fr.Base

		switch in.Op {
		case OpNop, OpEndIf:

		case OpClear:
			vm.clear(base + int(in.A))
		case OpClear2:
			vm.clear(base + int(in.A))
			vm.clear(base + int(in.B))
		case OpClear3:
			vm.clear(base + int(in.A))
			vm.clear(base + int(in.B))
			vm.clear(base + int(in.C))

		case OpCopy:
			vm.set(base+int(in.A), vm.read(base+int(in.B), in.Steals(StealB)))
		case OpConst:
			vm.set(base+int(in.A), vm.constant(fr, int(in.Imm), in.Steals(StealB)))
		case OpLoadInt:
			vm.set(base+int(in.A), Int(int64(in.Imm)))
		case OpLoadNil:
			vm.set(base+int(in.A), Nil)
		case OpLoadTrue:
			vm.set(base+int(in.A), True)
		case OpLoadFalse:
			vm.set(base+int(in.A), False)

		// Calls
		case OpCall:
			callee := vm.read(base+int(in.B), in.Steals(StealB))
			args := vm.collectArgs(fr, int(in.C))
			if err := vm.invoke(callee, args, base+int(in.A), false); err != nil {
				return vm.faultAt(ip, in, err)
			}
		case OpCallSelf:
			callee := vm.self(ip, in)
			args := vm.collectArgs(fr, int(in.C))
			if err := vm.invoke(callee, args, base+int(in.A), false); err != nil {
				return vm.faultAt(ip, in, err)
			}
		case OpCallAndReturn:
			callee := vm.read(base+int(in.B), in.Steals(StealB))
			args := vm.collectArgs(fr, int(in.C))
			if err := vm.invoke(callee, args, 0, true); err != nil {
				return vm.faultAt(ip, in, err)
			}
		case OpCallSelfAndReturn:
			callee := vm.self(ip, in)
			args := vm.collectArgs(fr, int(in.C))
			if err := vm.invoke(callee, args, 0, true); err != nil {
				return vm.faultAt(ip, in, err)
			}
		case OpApply, OpApply0, OpApply1, OpApply2, OpApply3:
			callee := vm.read(base+int(in.B), in.Steals(StealB))
			args, err := vm.spread(vm.take(base + int(in.A)))
			if err != nil {
				callee.Release()
				return vm.faultAt(ip, in, err)
			}
			if err := vm.invoke(callee, args, base+int(in.A), false); err != nil {
				return vm.faultAt(ip, in, err)
			}
		case OpCallingFunction:
			vm.set(base+int(in.A), vm.self(ip, in))
		case OpBind:
			callee := vm.read(base+int(in.B), in.Steals(StealB))
			args := vm.collectArgs(fr, int(in.C))
			f := callee.Function()
			if f == nil {
				err := typeFault(callee, "cannot bind arguments to %s", callee.kind)
				callee.Release()
				releaseAll(args)
				return vm.faultAt(ip, in, err)
			}
			closure := bind(f, args)
			callee.Release()
			vm.set(base+int(in.A), closure)
		case OpArg:
			panic(&Defect{Op: in.Op, IP: ip, Detail: "argument outside a call"})
		case OpReturn:
			vm.popFrame(vm.take(base + int(in.A)))

		// Control flow
		case OpJump:
			fr.IP = int(in.Imm)
		case OpIf:
			if !vm.regs[base+int(in.A)].Truthy() {
				fr.IP = int(in.Imm)
			}
		case OpElse:
			fr.IP = int(in.Imm)

		// Globals
		case OpLookup:
			sym := Symbol(in.Imm)
			v, ok := vm.env.Lookup(sym)
			if !ok {
				return vm.faultAt(ip, in, &Fault{Kind: FaultUnboundGlobal, Register: -1, Value: Sym(sym),
					Detail: "no global named " + sym.Name()})
			}
			vm.set(base+int(in.A), v)
		case OpDefine:
			vm.env.Define(Symbol(in.Imm), vm.read(base+int(in.B), in.Steals(StealB)))

		// Arithmetic and comparison
		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			v, err := vm.registry.Arith(in.Op, vm.regs[base+int(in.B)], vm.regs[base+int(in.C)])
			if err != nil {
				return vm.faultAt(ip, in, err)
			}
			vm.set(base+int(in.A), v)
		case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
			v, err := vm.registry.Relate(in.Op, vm.regs[base+int(in.B)], vm.regs[base+int(in.C)])
			if err != nil {
				return vm.faultAt(ip, in, err)
			}
			vm.set(base+int(in.A), v)
		case OpInc, OpDec, OpNeg, OpNot:
			v, err := vm.registry.Unary(in.Op, vm.regs[base+int(in.B)])
			if err != nil {
				return vm.faultAt(ip, in, err)
			}
			vm.set(base+int(in.A), v)

		// Collections
		case OpEmptyList:
			vm.set(base+int(in.A), NewList())
		case OpEmptyMap:
			vm.set(base+int(in.A), NewMap())
		case OpEmptySet:
			vm.set(base+int(in.A), NewSet())
		case OpPush, OpConj:
			x := vm.read(base+int(in.B), in.Steals(StealB))
			r := base + int(in.A)
			coll := vm.take(r)
			shared := !coll.Unique()
			var copied bool
			var err error
			if in.Op == OpPush {
				copied, err = coll.ListPush(x)
			} else {
				copied, err = coll.SetAdd(x)
			}
			vm.regs[r] = coll
			if err != nil {
				return vm.faultAt(ip, in, err)
			}
			if copied && shared {
				vm.stats.CopyOnWrite++
			}
		case OpRest:
			r := base + int(in.A)
			coll := vm.take(r)
			shared := !coll.Unique()
			copied, err := coll.ListRest()
			vm.regs[r] = coll
			if err != nil {
				return vm.faultAt(ip, in, err)
			}
			if copied && shared {
				vm.stats.CopyOnWrite++
			}
		case OpAssoc:
			key := vm.read(base+int(in.B), in.Steals(StealB))
			val := vm.read(base+int(in.C), in.Steals(StealC))
			r := base + int(in.A)
			coll := vm.take(r)
			shared := !coll.Unique()
			copied, err := coll.Assoc(key, val)
			vm.regs[r] = coll
			if err != nil {
				return vm.faultAt(ip, in, err)
			}
			if copied && shared {
				vm.stats.CopyOnWrite++
			}
		case OpFirst, OpLast, OpCount, OpIsEmpty:
			var v Value
			var err error
			src := vm.regs[base+int(in.B)]
			switch in.Op {
			case OpFirst:
				v, err = First(src)
			case OpLast:
				v, err = Last(src)
			case OpCount:
				v, err = Count(src)
			default:
				v, err = IsEmpty(src)
			}
			if err != nil {
				return vm.faultAt(ip, in, err)
			}
			vm.set(base+int(in.A), v)
		case OpGet, OpNth:
			var v Value
			var err error
			if in.Op == OpGet {
				v, err = Get(vm.regs[base+int(in.B)], vm.regs[base+int(in.C)])
			} else {
				v, err = Nth(vm.regs[base+int(in.B)], vm.regs[base+int(in.C)])
			}
			if err != nil {
				return vm.faultAt(ip, in, err)
			}
			vm.set(base+int(in.A), v)

		default:
			panic(&Defect{Op: in.Op, IP: ip, Detail: "unknown opcode"})
		}

		if vm.halted {
			return nil
		}
		fr = vm.top()
	}
}

// constant loads constant k of the current frame. A stolen load moves the
// value out of the slot, which is only allowed while the frame is the sole
// owner of the constants: the root program held by a single VM, or a
// function and its code referenced only by this frame.
func (vm *VM) constant(fr *CallFrame, k int, steal bool) Value {
	slots := fr.Clause.Constants
	if steal && vm.ownsConstants(fr) {
		v := slots[k]
		slots[k] = Nil
		if fr.Fn == nil && v.obj != nil {
			vm.program.consumed = true
		}
		return v
	}
	return slots[k].Clone()
}

func (vm *VM) ownsConstants(fr *CallFrame) bool {
	if fr.Fn == nil {
		return fr.Clause == vm.program.Root && vm.program.owners == 1
	}
	return fr.Fn.refs == 1 && fr.Fn.code != nil && fr.Fn.code.refs == 1
}

// self returns a new holder of the function being executed.
func (vm *VM) self(ip int, in Instruction) Value {
	fn := vm.top().Fn
	if fn == nil {
		panic(&Defect{Op: in.Op, IP: ip, Detail: "no calling function in the root program"})
	}
	return Value{kind: KindFunction, obj: fn}.Clone()
}

// collectArgs consumes the n Arg instructions following a call and returns
// the owned argument values. The slice is reused by the next call.
func (vm *VM) collectArgs(fr *CallFrame, n int) []Value {
	args := vm.argbuf[:0]
	code := fr.Clause.Instructions
	for i := 0; i < n; i++ {
		arg := code[fr.IP]
		if arg.Op != OpArg {
			panic(&Defect{Op: arg.Op, IP: fr.IP, Detail: "expected an argument"})
		}
		fr.IP++
		args = append(args, vm.read(fr.Base+int(arg.A), arg.Steals(StealA)))
	}
	vm.argbuf = args
	return args
}

// spread turns an argument list into owned argument values, moving them out
// of the list when it is unique.
func (vm *VM) spread(list Value) ([]Value, error) {
	switch list.kind {
	case KindNil:
		return nil, nil
	case KindList:
	default:
		err := typeFault(list, "apply expects a list of arguments, got %s", list.kind)
		list.Release()
		return nil, err
	}
	l := list.List()
	args := make([]Value, len(l.items))
	if list.Unique() {
		copy(args, l.items)
		for i := range l.items {
			l.items[i] = Nil
		}
	} else {
		for i, x := range l.items {
			args[i] = x.Clone()
		}
	}
	list.Release()
	return args, nil
}

// invoke calls callee with args, delivering the result to register target,
// or to the current frame's caller when tail is set. Takes ownership of
// callee and args.
func (vm *VM) invoke(callee Value, args []Value, target int, tail bool) error {
	for {
		fn := callee.Function()
		if fn == nil {
			err := typeFault(callee, "%s is not callable", callee.kind)
			callee.Release()
			releaseAll(args)
			return err
		}
		if len(fn.bound) > 0 {
			all := make([]Value, 0, len(fn.bound)+len(args))
			for _, x := range fn.bound {
				all = append(all, x.Clone())
			}
			args = append(all, args...)
		}

		if fn.native != nil {
			if !fn.native.Arity.Accepts(len(args)) {
				err := &Fault{Kind: FaultArityMismatch, Register: -1, Value: callee.Clone(),
					Detail: fmt.Sprintf("%s expects %s arguments, got %d", fn.Name(), fn.native.Arity, len(args))}
				callee.Release()
				releaseAll(args)
				return err
			}
			result, err := fn.native.Fn(vm, args)
			releaseAll(args)
			callee.Release()
			if err != nil {
				result.Release()
				vm.dropPending()
				var f *Fault
				if errors.As(err, &f) {
					return f
				}
				return &Fault{Kind: FaultHostError, Register: -1, Detail: fn.Name(), Err: err}
			}
			if p := vm.pending; p != nil {
				vm.pending = nil
				result.Release()
				callee, args = p.fn, p.args
				continue
			}
			if tail {
				vm.popFrame(result)
			} else {
				vm.set(target, result)
			}
			return nil
		}

		clause := fn.code.Select(len(args))
		if clause == nil {
			err := &Fault{Kind: FaultArityMismatch, Register: -1, Value: callee.Clone(),
				Detail: fmt.Sprintf("%s called with %d arguments", fn.Name(), len(args))}
			callee.Release()
			releaseAll(args)
			return err
		}
		var base int
		if tail {
			base, target = vm.discardFrame()
		} else {
			if len(vm.frames) >= vm.maxFrames {
				callee.Release()
				releaseAll(args)
				return &Fault{Kind: FaultStackOverflow, Register: -1,
					Detail: fmt.Sprintf("more than %d frames", vm.maxFrames)}
			}
			cur := vm.top()
			base = cur.Base + cur.Clause.FrameSize
		}
		vm.pushFrame(clause, fn, args, base, target)
		return nil
	}
}

func (vm *VM) dropPending() {
	if p := vm.pending; p != nil {
		vm.pending = nil
		p.fn.Release()
		releaseAll(p.args)
	}
}

// faultAt completes a fault with the location it was raised at.
func (vm *VM) faultAt(ip int, in Instruction, err error) error {
	var f *Fault
	if errors.As(err, &f) {
		located := *f
		f = &located
	} else {
		f = &Fault{Kind: FaultHostError, Register: -1, Err: err}
	}
	f.Op = in.Op
	f.IP = ip
	if f.Register < 0 && in.Op.Info().Writes {
		f.Register = int(in.A)
	}
	return f
}

func releaseAll(vs []Value) {
	for i := range vs {
		vs[i].Release()
		vs[i] = Nil
	}
}

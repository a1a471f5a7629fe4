package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Argument specs
// ---------------------------------------------------------------------------

// ArgSpec is the set of argument counts a clause accepts.
// Max < 0 means unbounded.
type ArgSpec struct {
	Min int
	Max int
}

// Exact accepts exactly n arguments.
func Exact(n int) ArgSpec { return ArgSpec{Min: n, Max: n} }

// Range accepts lo through hi arguments. Missing trailing arguments are nil.
func Range(lo, hi int) ArgSpec { return ArgSpec{Min: lo, Max: hi} }

// AtLeast accepts n or more arguments. Arguments past n are collected into
// a list in register n.
func AtLeast(n int) ArgSpec { return ArgSpec{Min: n, Max: -1} }

// Accepts reports whether n arguments satisfy the spec.
func (a ArgSpec) Accepts(n int) bool {
	return n >= a.Min && (a.Max < 0 || n <= a.Max)
}

// Variadic reports whether extra arguments are collected into a list.
func (a ArgSpec) Variadic() bool { return a.Max < 0 }

// Registers returns how many registers the parameters occupy.
func (a ArgSpec) Registers() int {
	if a.Max < 0 {
		return a.Min + 1
	}
	return a.Max
}

func (a ArgSpec) String() string {
	switch {
	case a.Max < 0:
		return fmt.Sprintf("%d+", a.Min)
	case a.Min == a.Max:
		return fmt.Sprintf("%d", a.Min)
	}
	return fmt.Sprintf("%d..%d", a.Min, a.Max)
}

// ---------------------------------------------------------------------------
// Code
// ---------------------------------------------------------------------------

// Clause is one arity-specific body of a function, or the root program.
type Clause struct {
	Arity        ArgSpec
	Instructions []Instruction
	Constants    []Value
	// FrameSize is one more than the highest register the clause touches.
	// The next frame starts FrameSize registers above this one.
	FrameSize int
}

// Code is the shared body of composite functions. Closures created by Bind
// share their Code with the function they were made from.
type Code struct {
	Name    string
	Clauses []*Clause
	refs    int32
}

// NewCode links every clause and returns the Code.
func NewCode(name string, clauses ...*Clause) (*Code, error) {
	if len(clauses) == 0 {
		return nil, fmt.Errorf("%w: function %s has no clauses", ErrMalformed, name)
	}
	for i, cl := range clauses {
		if err := Link(cl); err != nil {
			return nil, fmt.Errorf("function %s clause %d: %w", name, i, err)
		}
	}
	return &Code{Name: name, Clauses: clauses}, nil
}

// Select returns the first clause accepting argc arguments, or nil.
func (c *Code) Select(argc int) *Clause {
	for _, cl := range c.Clauses {
		if cl.Arity.Accepts(argc) {
			return cl
		}
	}
	return nil
}

// Shared reports whether more than one function value uses this Code.
func (c *Code) Shared() bool { return c.refs > 1 }

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// NativeFunc implements a built-in or host function. Arguments are owned by
// the call: an implementation may take one by replacing it with Nil in the
// slice, and everything left is released after it returns. The result is
// owned by the caller.
type NativeFunc func(vm *VM, args []Value) (Value, error)

// Native is a Go-implemented function.
type Native struct {
	Name  string
	Arity ArgSpec
	Fn    NativeFunc
	// Host marks functions supplied by the embedder. They cannot be persisted.
	Host bool
}

// Function is a callable value: composite (Code) or native.
type Function struct {
	refHeader
	code   *Code
	native *Native
	bound  []Value
}

func (f *Function) drop() {
	for _, x := range f.bound {
		x.Release()
	}
	f.bound = nil
	if f.code != nil {
		f.code.refs--
	}
}

// Name returns the function's name, or "anonymous".
func (f *Function) Name() string {
	switch {
	case f.native != nil:
		return f.native.Name
	case f.code != nil && f.code.Name != "":
		return f.code.Name
	}
	return "anonymous"
}

// Code returns the body of a composite function.
func (f *Function) Code() *Code { return f.code }

// Native returns the implementation of a native function.
func (f *Function) Native() *Native { return f.native }

// Bound returns the arguments bound by closure creation.
func (f *Function) Bound() []Value { return f.bound }

// Accepts reports whether the function can be called with argc arguments.
func (f *Function) Accepts(argc int) bool {
	argc += len(f.bound)
	if f.native != nil {
		return f.native.Arity.Accepts(argc)
	}
	return f.code.Select(argc) != nil
}

// FunctionValue wraps code as a new function value.
func FunctionValue(code *Code) Value {
	code.refs++
	return newValue(KindFunction, &Function{code: code})
}

// NativeValue wraps a native implementation as a new function value.
func NativeValue(n *Native) Value {
	return newValue(KindFunction, &Function{native: n})
}

// bind returns a closure of f with args appended to its bound arguments.
// Takes ownership of args.
func bind(f *Function, args []Value) Value {
	bound := make([]Value, 0, len(f.bound)+len(args))
	for _, x := range f.bound {
		bound = append(bound, x.Clone())
	}
	bound = append(bound, args...)
	if f.code != nil {
		f.code.refs++
	}
	return newValue(KindFunction, &Function{code: f.code, native: f.native, bound: bound})
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is a linked root clause ready for evaluation.
type Program struct {
	Root *Clause

	owners   int  // VMs loaded with this program and not yet finished
	consumed bool // a root constant has been stolen
}

// NewProgram links root as a zero-argument program.
func NewProgram(root *Clause) (*Program, error) {
	root.Arity = Exact(0)
	if err := Link(root); err != nil {
		return nil, err
	}
	return &Program{Root: root}, nil
}

// MustProgram is NewProgram for hand-assembled code known to be well formed.
func MustProgram(code []Instruction, constants ...Value) *Program {
	p, err := NewProgram(&Clause{Instructions: code, Constants: constants, FrameSize: frameSizeOf(code)})
	if err != nil {
		panic(err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Linking
// ---------------------------------------------------------------------------

// ErrMalformed is wrapped by every Link error.
var ErrMalformed = errors.New("malformed code")

// Link validates a clause and resolves If and Else targets. Register
// operands must fall inside FrameSize, constant indices inside the constant
// table and jump targets inside the code. A clause that can reach its own
// constants again has its Const steal marks removed: backward control flow
// (Jump, CallSelfAndReturn) re-executes them, and CallSelf or
// CallingFunction make a new holder of the running function.
func Link(cl *Clause) error {
	code := cl.Instructions
	if cl.FrameSize < cl.Arity.Registers() {
		cl.FrameSize = cl.Arity.Registers()
	}
	if cl.FrameSize > 256 {
		return fmt.Errorf("%w: frame size %d exceeds 256 registers", ErrMalformed, cl.FrameSize)
	}

	type region struct{ ifAt, elseAt int }
	var open []region
	reenters := false
	for ip := 0; ip < len(code); ip++ {
		in := &code[ip]
		info, ok := opcodeTable[in.Op]
		if !ok {
			return fmt.Errorf("%w: unknown opcode 0x%02x at %d", ErrMalformed, byte(in.Op), ip)
		}
		if in.Op == OpArg {
			return fmt.Errorf("%w: ARG outside a call at %d", ErrMalformed, ip)
		}
		if err := checkRegisters(cl, in, info, ip); err != nil {
			return err
		}
		if info.uses('K') && (in.Imm < 0 || int(in.Imm) >= len(cl.Constants)) {
			return fmt.Errorf("%w: constant k%d out of range at %d", ErrMalformed, in.Imm, ip)
		}
		switch in.Op {
		case OpIf:
			open = append(open, region{ifAt: ip, elseAt: -1})
		case OpElse:
			if len(open) == 0 || open[len(open)-1].elseAt >= 0 {
				return fmt.Errorf("%w: ELSE without IF at %d", ErrMalformed, ip)
			}
			top := &open[len(open)-1]
			top.elseAt = ip
			code[top.ifAt].Imm = int32(ip + 1)
		case OpEndIf:
			if len(open) == 0 {
				return fmt.Errorf("%w: END_IF without IF at %d", ErrMalformed, ip)
			}
			top := open[len(open)-1]
			open = open[:len(open)-1]
			if top.elseAt >= 0 {
				code[top.elseAt].Imm = int32(ip)
			} else {
				code[top.ifAt].Imm = int32(ip)
			}
		case OpJump:
			if in.Imm < 0 || int(in.Imm) > len(code) {
				return fmt.Errorf("%w: jump target %d out of range at %d", ErrMalformed, in.Imm, ip)
			}
			reenters = true
		case OpCallSelf, OpCallSelfAndReturn, OpCallingFunction:
			reenters = true
		}
		if info.Args {
			n := int(in.C)
			if ip+n >= len(code) {
				return fmt.Errorf("%w: %s at %d expects %d arguments", ErrMalformed, in.Op, ip, n)
			}
			for j := 1; j <= n; j++ {
				arg := code[ip+j]
				if arg.Op != OpArg {
					return fmt.Errorf("%w: %s at %d expects %d arguments", ErrMalformed, in.Op, ip, n)
				}
				if int(arg.A) >= cl.FrameSize {
					return fmt.Errorf("%w: register r%d outside frame of %d at %d", ErrMalformed, arg.A, cl.FrameSize, ip+j)
				}
			}
			ip += n
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("%w: IF at %d is never closed", ErrMalformed, open[len(open)-1].ifAt)
	}
	if reenters {
		for i := range code {
			if code[i].Op == OpConst {
				code[i].Steal &^= StealB
			}
		}
	}
	return nil
}

func checkRegisters(cl *Clause, in *Instruction, info OpcodeInfo, ip int) error {
	check := func(r uint8) error {
		if int(r) >= cl.FrameSize {
			return fmt.Errorf("%w: register r%d outside frame of %d at %d", ErrMalformed, r, cl.FrameSize, ip)
		}
		return nil
	}
	if info.uses('A') {
		if err := check(in.A); err != nil {
			return err
		}
	}
	if info.uses('B') {
		if err := check(in.B); err != nil {
			return err
		}
	}
	if info.uses('C') && !info.Args {
		if err := check(in.C); err != nil {
			return err
		}
	}
	return nil
}

// frameSizeOf computes the frame size of hand-assembled code.
func frameSizeOf(code []Instruction) int {
	size := 0
	grow := func(r uint8) {
		if int(r)+1 > size {
			size = int(r) + 1
		}
	}
	for _, in := range code {
		info := in.Op.Info()
		if info.uses('A') || in.Op == OpArg {
			grow(in.A)
		}
		if info.uses('B') {
			grow(in.B)
		}
		if info.uses('C') && !info.Args {
			grow(in.C)
		}
	}
	return size
}

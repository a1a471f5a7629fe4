package compiler

import (
	"fmt"

	"github.com/chazu/pidgin/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pidgin.compiler")

// DefaultMaxRegisters is the register budget of one frame.
const DefaultMaxRegisters = 256

// Options toggles the optimizer. Branch fusion, dead code elimination and
// dead constant erasure always run.
type Options struct {
	// MaxRegisters caps the registers of one frame; 0 means 256.
	MaxRegisters int

	InlineBuiltins       bool // direct opcodes for calls of known built-ins
	MaterializeConstants bool // literal collections become one constant
	SinkReturns          bool // returns of conditionals move into both arms
	Peephole             bool // self calls, tail calls, fused clears
	ElideScalarClears    bool // no clears for registers that only hold scalars
}

// DefaultOptions enables every optimization.
func DefaultOptions() Options {
	return Options{
		MaxRegisters:         DefaultMaxRegisters,
		InlineBuiltins:       true,
		MaterializeConstants: true,
		SinkReturns:          true,
		Peephole:             true,
		ElideScalarClears:    true,
	}
}

// Globals resolves top-level bindings at compile time. *vm.Environment
// satisfies it.
type Globals interface {
	Peek(sym vm.Symbol) (vm.Value, bool)
}

// Compiler turns syntax trees into programs.
//
// At top level, globals are read with Lookup when the program runs. Inside
// function bodies a global is resolved once, at compile time, and embedded
// as a constant, so a body can only use globals that already exist.
type Compiler struct {
	opts    Options
	globals Globals

	// globals defined by the unit being compiled, with their arities when
	// bound to a function literal
	defined map[string][]vm.ArgSpec
}

// New creates a compiler. globals may be nil.
func New(opts Options, globals Globals) *Compiler {
	if opts.MaxRegisters <= 0 || opts.MaxRegisters > DefaultMaxRegisters {
		opts.MaxRegisters = DefaultMaxRegisters
	}
	return &Compiler{opts: opts, globals: globals}
}

// Options returns the options in effect.
func (c *Compiler) Options() Options { return c.opts }

func (c *Compiler) hasGlobal(sym vm.Symbol) bool {
	_, ok := c.peekGlobal(sym)
	return ok
}

func (c *Compiler) peekGlobal(sym vm.Symbol) (vm.Value, bool) {
	if c.globals == nil {
		return vm.Nil, false
	}
	return c.globals.Peek(sym)
}

// Compile compiles one form into a program evaluating it.
func (c *Compiler) Compile(form Node) (*vm.Program, error) {
	return c.CompileForms([]Node{form})
}

// CompileForms compiles forms into one program that evaluates them in
// order and halts with the value of the last.
func (c *Compiler) CompileForms(forms []Node) (*vm.Program, error) {
	c.defined = map[string][]vm.ArgSpec{}
	var pos Position
	if len(forms) > 0 {
		pos = forms[0].Pos()
	}
	fn := newFunc("", vm.Exact(0), pos)
	b := newBuilder(c, fn, nil, true)
	r, err := b.body(forms)
	if err != nil {
		fn.release()
		return nil, err
	}
	b.emit(mkInst(vm.OpReturn, noReg, r))
	fn.Insts = b.out

	clause, err := c.lower(fn)
	if err != nil {
		return nil, err
	}
	prog, err := vm.NewProgram(clause)
	if err != nil {
		return nil, fmt.Errorf("linking program: %w", err)
	}
	return prog, nil
}

// CompileString parses and compiles src.
func (c *Compiler) CompileString(src string) (*vm.Program, error) {
	forms, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return c.CompileForms(forms)
}

// CompileString compiles src with the default options.
func CompileString(src string, globals Globals) (*vm.Program, error) {
	return New(DefaultOptions(), globals).CompileString(src)
}

// lower runs the clause pipeline: IR rewrites, liveness, allocation,
// emission and the peephole pass. The clause takes over f's constants.
func (c *Compiler) lower(f *Func) (*vm.Clause, error) {
	insts, err := fuseBranches(f.Insts)
	if err != nil {
		f.release()
		return nil, err
	}
	f.Insts = insts
	if c.opts.InlineBuiltins {
		if n := inlineBuiltins(f); n > 0 {
			log.Debugf("%s: inlined %d built-in calls", nameOr(f.Name), n)
		}
	}
	if c.opts.MaterializeConstants {
		if n := materializeConstants(f); n > 0 {
			log.Debugf("%s: materialized %d constant collections", nameOr(f.Name), n)
		}
	}
	eliminateDeadCode(f)
	if c.opts.SinkReturns {
		sinkReturns(f)
	}
	eraseDeadConstants(f)

	lt := analyze(f.Insts)
	if legalizeReplacements(f, lt) {
		lt = analyze(f.Insts)
	}
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("IR before allocation:\n%s", f)
	}

	al, err := allocate(f, lt, c.opts.MaxRegisters)
	if err != nil {
		f.release()
		return nil, err
	}
	code, err := emitClause(f, lt, al, c.opts)
	if err != nil {
		f.release()
		return nil, err
	}
	if c.opts.Peephole {
		code = peephole(code)
	}
	markConstSteals(code)

	return &vm.Clause{
		Arity:        f.Arity,
		Instructions: code,
		Constants:    f.Constants,
		FrameSize:    al.frameSize,
	}, nil
}

// markConstSteals lets each Const move its value out of the table when it
// is the only instruction loading that constant. Code that jumps backwards
// or refers to its own function could reach the table again and keeps
// copying.
func markConstSteals(code []vm.Instruction) {
	loads := map[int32]int{}
	for _, in := range code {
		switch in.Op {
		case vm.OpJump, vm.OpCallingFunction, vm.OpCallSelf, vm.OpCallSelfAndReturn:
			return
		case vm.OpConst:
			loads[in.Imm]++
		}
	}
	for i := range code {
		if code[i].Op == vm.OpConst && loads[code[i].Imm] == 1 {
			code[i].Steal |= vm.StealB
		}
	}
}

package vm

import (
	"errors"
	"testing"
)

// Small assembler helpers for hand-written test programs.

func ins(op Opcode, a, b, c uint8) Instruction {
	return Instruction{Op: op, A: a, B: b, C: c}
}

func imm(op Opcode, a uint8, n int32) Instruction {
	return Instruction{Op: op, A: a, Imm: n}
}

func stolen(in Instruction, m Mask) Instruction {
	in.Steal |= m
	return in
}

func arg(r uint8) Instruction { return Instruction{Op: OpArg, A: r} }

func argSteal(r uint8) Instruction { return Instruction{Op: OpArg, A: r, Steal: StealA} }

// function links a single-clause function value.
func function(t *testing.T, name string, arity ArgSpec, code []Instruction, constants ...Value) Value {
	t.Helper()
	cl := &Clause{Arity: arity, Instructions: code, Constants: constants, FrameSize: frameSizeOf(code)}
	c, err := NewCode(name, cl)
	if err != nil {
		t.Fatalf("NewCode(%s) error: %v", name, err)
	}
	return FunctionValue(c)
}

func evaluate(t *testing.T, p *Program, opts ...Option) (Value, *VM, error) {
	t.Helper()
	m := New(p, opts...)
	v, err := m.Evaluate()
	return v, m, err
}

func faultKind(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

package vm

import (
	"fmt"
	"strings"
)

// FaultKind classifies runtime faults.
type FaultKind uint8

const (
	FaultArityMismatch FaultKind = iota + 1
	FaultTypeError
	FaultIndexOutOfRange
	FaultDivisionError
	FaultStackOverflow
	FaultUnboundGlobal
	FaultHostError
)

var faultNames = map[FaultKind]string{
	FaultArityMismatch:   "arity mismatch",
	FaultTypeError:       "type error",
	FaultIndexOutOfRange: "index out of range",
	FaultDivisionError:   "division error",
	FaultStackOverflow:   "stack overflow",
	FaultUnboundGlobal:   "unbound global",
	FaultHostError:       "host error",
}

func (k FaultKind) String() string {
	if s, ok := faultNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FaultKind(%d)", k)
}

// Fault is a runtime error raised by a well-formed program: calling with
// the wrong number of arguments, adding a string to a number and so on.
// Evaluation stops and the VM enters StateFaulted.
type Fault struct {
	Kind     FaultKind
	Op       Opcode
	IP       int
	Register int // -1 when no register is involved
	Value    Value
	Detail   string
	Err      error // underlying host error, if any
}

func (f *Fault) Error() string {
	var sb strings.Builder
	sb.WriteString(f.Kind.String())
	if f.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(f.Detail)
	}
	if f.Value.kind != KindNil {
		fmt.Fprintf(&sb, " (value %s)", f.Value)
	}
	if f.Op != OpNop {
		fmt.Fprintf(&sb, " at %d %s", f.IP, f.Op)
		if f.Register >= 0 {
			fmt.Fprintf(&sb, " r%d", f.Register)
		}
	}
	if f.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(f.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the host error behind a FaultHostError.
func (f *Fault) Unwrap() error { return f.Err }

// Is matches faults by kind, so errors.Is(err, ErrTypeError) works for any
// type fault.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Kind == f.Kind && t.Op == OpNop && t.Detail == ""
}

// Sentinels for errors.Is.
var (
	ErrArityMismatch   = &Fault{Kind: FaultArityMismatch}
	ErrTypeError       = &Fault{Kind: FaultTypeError}
	ErrIndexOutOfRange = &Fault{Kind: FaultIndexOutOfRange}
	ErrDivision        = &Fault{Kind: FaultDivisionError}
	ErrStackOverflow   = &Fault{Kind: FaultStackOverflow}
	ErrUnboundGlobal   = &Fault{Kind: FaultUnboundGlobal}
	ErrHostError       = &Fault{Kind: FaultHostError}
)

func typeFault(v Value, format string, args ...any) *Fault {
	return &Fault{Kind: FaultTypeError, Register: -1, Value: v.Clone(), Detail: fmt.Sprintf(format, args...)}
}

// Defect is an internal invariant breach: malformed code that slipped past
// Link, an operand outside the frame, a reference count below zero. It is
// raised with panic and never reported as a Fault.
type Defect struct {
	Op     Opcode
	IP     int
	Detail string
}

func (d *Defect) Error() string {
	if d.Op != OpNop {
		return fmt.Sprintf("vm defect at %d %s: %s", d.IP, d.Op, d.Detail)
	}
	return "vm defect: " + d.Detail
}

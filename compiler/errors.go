package compiler

import "fmt"

// ErrorKind classifies compile errors.
type ErrorKind uint8

const (
	ErrorUnboundSymbol ErrorKind = iota + 1
	ErrorArityMismatch
	ErrorOverflow
	ErrorShadowing
	ErrorSyntax
)

var errorNames = map[ErrorKind]string{
	ErrorUnboundSymbol: "unbound symbol",
	ErrorArityMismatch: "arity mismatch",
	ErrorOverflow:      "expression too complex",
	ErrorShadowing:     "shadowing violation",
	ErrorSyntax:        "syntax error",
}

func (k ErrorKind) String() string {
	if s, ok := errorNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Error is a compile error. Name is the binding or function involved, if
// any.
type Error struct {
	Kind   ErrorKind
	Name   string
	Pos    Position
	Detail string
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Name != "" {
		msg += " " + e.Name
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Pos.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, msg)
	}
	return msg
}

// Is matches errors by kind, so errors.Is(err, ErrOverflow) works for any
// overflow.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Name == "" && t.Detail == ""
}

// Sentinels for errors.Is.
var (
	ErrUnboundSymbol = &Error{Kind: ErrorUnboundSymbol}
	ErrArityMismatch = &Error{Kind: ErrorArityMismatch}
	ErrOverflow      = &Error{Kind: ErrorOverflow}
	ErrShadowing     = &Error{Kind: ErrorShadowing}
	ErrSyntax        = &Error{Kind: ErrorSyntax}
)

func syntaxError(n Node, format string, args ...any) *Error {
	return &Error{Kind: ErrorSyntax, Pos: n.Pos(), Detail: fmt.Sprintf(format, args...)}
}

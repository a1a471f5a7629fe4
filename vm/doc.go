// Package vm implements the Pidgin virtual machine.
//
// This package contains:
//   - the Value model with reference-counted, copy-on-write collections
//   - the register-machine instruction set and code linking
//   - the interpreter loop with frame windows and tail calls
//   - built-in functions, global environment and external type handlers
//   - the disassembler and CBOR program persistence
package vm

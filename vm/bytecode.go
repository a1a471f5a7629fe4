package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies an instruction.
type Opcode uint8

// Register operations
const (
	OpNop       Opcode = 0x00 // no operation
	OpClear     Opcode = 0x01 // A = nil, releasing the old value
	OpClear2    Opcode = 0x02 // clear A and B
	OpClear3    Opcode = 0x03 // clear A, B and C
	OpCopy      Opcode = 0x04 // A = B (moves when B is stolen)
	OpConst     Opcode = 0x05 // A = constants[Imm]
	OpLoadInt   Opcode = 0x06 // A = Imm
	OpLoadNil   Opcode = 0x07 // A = nil
	OpLoadTrue  Opcode = 0x08 // A = true
	OpLoadFalse Opcode = 0x09 // A = false
)

// Calls
const (
	OpArg               Opcode = 0x10 // argument A of the preceding call
	OpCall              Opcode = 0x11 // A = B(args...), C arguments follow
	OpCallSelf          Opcode = 0x12 // A = self(args...)
	OpCallAndReturn     Opcode = 0x13 // return B(args...), reusing the frame
	OpCallSelfAndReturn Opcode = 0x14 // return self(args...), reusing the frame
	OpApply             Opcode = 0x15 // A = B(A...), A holds the argument list
	OpApply0            Opcode = 0x16 // Apply expecting 0 arguments
	OpApply1            Opcode = 0x17 // Apply expecting 1 argument
	OpApply2            Opcode = 0x18 // Apply expecting 2 arguments
	OpApply3            Opcode = 0x19 // Apply expecting 3 arguments
	OpCallingFunction   Opcode = 0x1A // A = the function being executed
	OpBind              Opcode = 0x1B // A = B with C leading arguments bound
	OpReturn            Opcode = 0x1C // return A
)

// Control flow
const (
	OpJump  Opcode = 0x20 // ip = Imm
	OpIf    Opcode = 0x21 // skip to the else arm unless A is truthy
	OpElse  Opcode = 0x22 // end of the then arm; skip to EndIf
	OpEndIf Opcode = 0x23 // end of a conditional region
)

// Globals
const (
	OpLookup Opcode = 0x28 // A = global Imm
	OpDefine Opcode = 0x29 // global Imm = B
)

// Arithmetic and comparison: A = B op C, or A = op B for unary forms
const (
	OpAdd Opcode = 0x30
	OpSub Opcode = 0x31
	OpMul Opcode = 0x32
	OpDiv Opcode = 0x33
	OpMod Opcode = 0x34
	OpInc Opcode = 0x35
	OpDec Opcode = 0x36
	OpNeg Opcode = 0x37
	OpLt  Opcode = 0x38
	OpLe  Opcode = 0x39
	OpGt  Opcode = 0x3A
	OpGe  Opcode = 0x3B
	OpEq  Opcode = 0x3C
	OpNe  Opcode = 0x3D
	OpNot Opcode = 0x3E
)

// Collections
const (
	OpEmptyList Opcode = 0x40 // A = []
	OpEmptyMap  Opcode = 0x41 // A = {}
	OpEmptySet  Opcode = 0x42 // A = #{}
	OpPush      Opcode = 0x43 // A = push A B, in place when A is unique
	OpRest      Opcode = 0x44 // A = rest A, in place when A is unique
	OpAssoc     Opcode = 0x45 // A = assoc A B C, in place when A is unique
	OpConj      Opcode = 0x46 // A = conj A B, in place when A is unique
	OpFirst     Opcode = 0x47 // A = first B
	OpLast      Opcode = 0x48 // A = last B
	OpCount     Opcode = 0x49 // A = count B
	OpIsEmpty   Opcode = 0x4A // A = empty? B
	OpGet       Opcode = 0x4B // A = get B C
	OpNth       Opcode = 0x4C // A = nth B C
)

// Mask marks the operands an instruction consumes instead of copying.
type Mask uint8

const (
	StealA Mask = 1 << iota
	StealB
	StealC
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo describes an opcode's operands.
//
// Operands lists the fields the instruction reads or writes: A, B and C are
// registers, I an integer immediate, K a constant index, S a symbol and T a
// jump target.
type OpcodeInfo struct {
	Name     string
	Operands string
	Writes   bool // A is a destination
	Args     bool // followed by C Arg instructions
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:       {"NOP", "", false, false},
	OpClear:     {"CLEAR", "A", false, false},
	OpClear2:    {"CLEAR2", "AB", false, false},
	OpClear3:    {"CLEAR3", "ABC", false, false},
	OpCopy:      {"COPY", "AB", true, false},
	OpConst:     {"CONST", "AK", true, false},
	OpLoadInt:   {"LOAD_INT", "AI", true, false},
	OpLoadNil:   {"LOAD_NIL", "A", true, false},
	OpLoadTrue:  {"LOAD_TRUE", "A", true, false},
	OpLoadFalse: {"LOAD_FALSE", "A", true, false},

	OpArg:               {"ARG", "A", false, false},
	OpCall:              {"CALL", "ABC", true, true},
	OpCallSelf:          {"CALL_SELF", "AC", true, true},
	OpCallAndReturn:     {"CALL_RETURN", "BC", false, true},
	OpCallSelfAndReturn: {"CALL_SELF_RETURN", "C", false, true},
	OpApply:             {"APPLY", "AB", true, false},
	OpApply0:            {"APPLY0", "AB", true, false},
	OpApply1:            {"APPLY1", "AB", true, false},
	OpApply2:            {"APPLY2", "AB", true, false},
	OpApply3:            {"APPLY3", "AB", true, false},
	OpCallingFunction:   {"CALLING_FUNCTION", "A", true, false},
	OpBind:              {"BIND", "ABC", true, true},
	OpReturn:            {"RETURN", "A", false, false},

	OpJump:  {"JUMP", "T", false, false},
	OpIf:    {"IF", "AT", false, false},
	OpElse:  {"ELSE", "T", false, false},
	OpEndIf: {"END_IF", "", false, false},

	OpLookup: {"LOOKUP", "AS", true, false},
	OpDefine: {"DEFINE", "BS", false, false},

	OpAdd: {"ADD", "ABC", true, false},
	OpSub: {"SUB", "ABC", true, false},
	OpMul: {"MUL", "ABC", true, false},
	OpDiv: {"DIV", "ABC", true, false},
	OpMod: {"MOD", "ABC", true, false},
	OpInc: {"INC", "AB", true, false},
	OpDec: {"DEC", "AB", true, false},
	OpNeg: {"NEG", "AB", true, false},
	OpLt:  {"LT", "ABC", true, false},
	OpLe:  {"LE", "ABC", true, false},
	OpGt:  {"GT", "ABC", true, false},
	OpGe:  {"GE", "ABC", true, false},
	OpEq:  {"EQ", "ABC", true, false},
	OpNe:  {"NE", "ABC", true, false},
	OpNot: {"NOT", "AB", true, false},

	OpEmptyList: {"EMPTY_LIST", "A", true, false},
	OpEmptyMap:  {"EMPTY_MAP", "A", true, false},
	OpEmptySet:  {"EMPTY_SET", "A", true, false},
	OpPush:      {"PUSH", "AB", true, false},
	OpRest:      {"REST", "A", true, false},
	OpAssoc:     {"ASSOC", "ABC", true, false},
	OpConj:      {"CONJ", "AB", true, false},
	OpFirst:     {"FIRST", "AB", true, false},
	OpLast:      {"LAST", "AB", true, false},
	OpCount:     {"COUNT", "AB", true, false},
	OpIsEmpty:   {"IS_EMPTY", "AB", true, false},
	OpGet:       {"GET", "ABC", true, false},
	OpNth:       {"NTH", "ABC", true, false},
}

// Info returns metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String returns the human-readable name for an opcode.
func (op Opcode) String() string {
	return op.Info().Name
}

// uses reports whether the operand letter appears in the opcode's layout.
func (info OpcodeInfo) uses(field byte) bool {
	return strings.IndexByte(info.Operands, field) >= 0
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is one decoded register-machine instruction.
type Instruction struct {
	Op    Opcode
	A     uint8
	B     uint8
	C     uint8
	Imm   int32
	Steal Mask
}

// Steals reports whether operand m is consumed.
func (in Instruction) Steals(m Mask) bool { return in.Steal&m != 0 }

// String formats the instruction for disassembly, e.g. "CALL r2 ^r0 1".
// Stolen operands carry a '^' prefix.
func (in Instruction) String() string {
	info := in.Op.Info()
	var sb strings.Builder
	sb.WriteString(info.Name)
	reg := func(r uint8, m Mask) {
		sb.WriteByte(' ')
		if in.Steal&m != 0 {
			sb.WriteByte('^')
		}
		fmt.Fprintf(&sb, "r%d", r)
	}
	for i := 0; i < len(info.Operands); i++ {
		switch info.Operands[i] {
		case 'A':
			reg(in.A, StealA)
		case 'B':
			reg(in.B, StealB)
		case 'C':
			if info.Args {
				fmt.Fprintf(&sb, " %d", in.C)
			} else {
				reg(in.C, StealC)
			}
		case 'I':
			fmt.Fprintf(&sb, " %d", in.Imm)
		case 'K':
			if in.Steal&StealB != 0 {
				fmt.Fprintf(&sb, " ^k%d", in.Imm)
			} else {
				fmt.Fprintf(&sb, " k%d", in.Imm)
			}
		case 'S':
			fmt.Fprintf(&sb, " %s", Symbol(in.Imm).Name())
		case 'T':
			fmt.Fprintf(&sb, " @%d", in.Imm)
		}
	}
	return sb.String()
}

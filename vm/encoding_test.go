package vm

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestProgramRoundTrip(t *testing.T) {
	sym := Intern("encoded-global")
	m := NewMap()
	m.Assoc(SymbolValue("k"), NewSet())
	plus, _ := Builtin("+")
	add1 := bind(NativeValue(plus).Function(), []Value{Int(1)})

	p := MustProgram([]Instruction{
		imm(OpConst, 0, 0),
		imm(OpLoadInt, 1, 100),
		imm(OpLoadInt, 2, 0),
		ins(OpCall, 3, 0, 2),
		arg(1),
		arg(2),
		{Op: OpDefine, B: 3, Imm: int32(sym)},
		imm(OpLookup, 4, int32(sym)),
		imm(OpConst, 5, 1),
		imm(OpConst, 6, 2),
		ins(OpCall, 7, 6, 1),
		arg(4),
		ins(OpReturn, 7, 0, 0),
	}, sumTo(t, true), m, add1)

	data, err := MarshalProgram(p)
	if err != nil {
		t.Fatalf("MarshalProgram error: %v", err)
	}
	again, err := MarshalProgram(p)
	if err != nil {
		t.Fatalf("MarshalProgram error: %v", err)
	}
	if string(data) != string(again) {
		t.Errorf("encoding is not deterministic")
	}

	q, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram error: %v", err)
	}
	if got, want := q.Disassemble(), p.Disassemble(); got != want {
		t.Errorf("decoded program differs:\n%s\nwant:\n%s", got, want)
	}
	v, _, err := evaluate(t, q)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if v.String() != "5051" {
		t.Errorf("result = %s, want 5051", v)
	}
}

func TestMarshalRejectsHostValues(t *testing.T) {
	host := NativeValue(&Native{Name: "host", Arity: Exact(0), Host: true,
		Fn: func(vm *VM, args []Value) (Value, error) { return Nil, nil }})
	for name, k := range map[string]Value{
		"host function": host,
		"external":      ExternalValue("opaque", 1),
		"nested":        NewList(ExternalValue("opaque", 2)),
	} {
		p := MustProgram([]Instruction{imm(OpConst, 0, 0)}, k)
		if _, err := MarshalProgram(p); !errors.Is(err, ErrNotPersistable) {
			t.Errorf("%s: err = %v, want ErrNotPersistable", name, err)
		}
	}
}

func TestUnmarshalRejectsOtherVersions(t *testing.T) {
	data, err := cborEncMode.Marshal(&wireProgram{Magic: encodingMagic, Version: EncodingVersion + 1})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if _, err := UnmarshalProgram(data); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	bad, _ := cbor.Marshal(map[int]string{1: "NOPE"})
	for _, data := range [][]byte{nil, []byte("not cbor"), bad} {
		if _, err := UnmarshalProgram(data); err == nil {
			t.Errorf("UnmarshalProgram(%q) succeeded", data)
		}
	}
}

func TestUnmarshalRelinks(t *testing.T) {
	// A register outside the frame must be caught by Link on the way in.
	data, err := cborEncMode.Marshal(&wireProgram{
		Magic:   encodingMagic,
		Version: EncodingVersion,
		Root: wireClause{
			FrameSize: 1,
			Code:      []wireInstr{{Op: uint8(OpCopy), A: 0, B: 7}},
		},
	})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if _, err := UnmarshalProgram(data); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

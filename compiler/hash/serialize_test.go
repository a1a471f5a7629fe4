package hash

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestSerialize_Deterministic(t *testing.T) {
	node := &HUnit{Forms: []HNode{
		&HDefine{Name: "inc2", Value: &HFn{Name: "inc2", Clauses: []*HClause{{
			Arity: 1,
			Body: []HNode{&HCall{
				Callee: &HGlobalRef{Name: "+"},
				Args:   []HNode{&HLocalRef{ScopeDepth: 0, SlotIndex: 1}, &HInt{Value: 2}},
			}},
		}}}},
	}}

	data1 := Serialize(node)
	data2 := Serialize(node)

	if string(data1) != string(data2) {
		t.Error("serialization is not deterministic")
	}
}

func TestSerialize_VersionPrefix(t *testing.T) {
	data := Serialize(&HNil{})

	if len(data) < 1 {
		t.Fatal("empty serialization")
	}
	if data[0] != HashVersion {
		t.Errorf("version prefix: got 0x%02X, want 0x%02X", data[0], HashVersion)
	}
}

func TestSerialize_Int(t *testing.T) {
	data := Serialize(&HInt{Value: 12345})

	// version(1) + tag(1) + int64(8) = 10
	if len(data) != 10 {
		t.Fatalf("length: got %d, want 10", len(data))
	}
	if data[1] != TagInt {
		t.Errorf("tag: got 0x%02X, want 0x%02X", data[1], TagInt)
	}
	v := int64(binary.BigEndian.Uint64(data[2:10]))
	if v != 12345 {
		t.Errorf("value: got %d, want 12345", v)
	}
}

func TestSerialize_Float(t *testing.T) {
	data := Serialize(&HFloat{Value: 3.14})

	if len(data) != 10 {
		t.Fatalf("length: got %d, want 10", len(data))
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(data[2:10]))
	if v != 3.14 {
		t.Errorf("value: got %v, want 3.14", v)
	}
}

func TestSerialize_String(t *testing.T) {
	data := Serialize(&HString{Value: "hi"})

	// version(1) + tag(1) + len(4) + "hi"(2) = 8
	if len(data) != 8 {
		t.Fatalf("length: got %d, want 8", len(data))
	}
	if n := binary.BigEndian.Uint32(data[2:6]); n != 2 {
		t.Errorf("string length: got %d, want 2", n)
	}
	if string(data[6:]) != "hi" {
		t.Errorf("string bytes: got %q, want %q", data[6:], "hi")
	}
}

func TestSerialize_LocalRef(t *testing.T) {
	data := Serialize(&HLocalRef{ScopeDepth: 2, SlotIndex: 7})

	// version(1) + tag(1) + depth(2) + slot(2) = 6
	if len(data) != 6 {
		t.Fatalf("length: got %d, want 6", len(data))
	}
	if binary.BigEndian.Uint16(data[2:4]) != 2 || binary.BigEndian.Uint16(data[4:6]) != 7 {
		t.Errorf("coordinates: got %v, want depth 2 slot 7", data[2:])
	}
}

func TestSerialize_DistinctNodes(t *testing.T) {
	nodes := []HNode{
		&HNil{},
		&HBool{Value: false},
		&HBool{Value: true},
		&HInt{Value: 1},
		&HChar{Value: 1},
		&HSymbol{Name: "x"},
		&HGlobalRef{Name: "x"},
		&HString{Value: "x"},
		&HList{},
		&HVector{},
		&HMapLit{},
		&HSetLit{},
		&HMap{},
		&HSet{},
		&HDo{},
		&HList{Items: []HNode{&HNil{}}},
		&HIf{Cond: &HBool{Value: true}, Then: &HInt{Value: 1}},
		&HIf{Cond: &HBool{Value: true}, Then: &HInt{Value: 1}, Else: &HNil{}},
		&HFn{Clauses: []*HClause{{Arity: 1}}},
		&HFn{Clauses: []*HClause{{Arity: 1, Variadic: true}}},
		&HFn{Name: "f", Clauses: []*HClause{{Arity: 1}}},
	}
	seen := map[string]int{}
	for i, n := range nodes {
		key := string(Serialize(n))
		if j, ok := seen[key]; ok {
			t.Errorf("nodes %d and %d serialize identically", j, i)
		}
		seen[key] = i
	}
}

func TestSerialize_ListBoundaries(t *testing.T) {
	// (a) (b) must differ from (a b) ()
	left := &HUnit{Forms: []HNode{
		&HCall{Callee: &HGlobalRef{Name: "f"}, Args: []HNode{&HInt{Value: 1}}},
		&HCall{Callee: &HGlobalRef{Name: "f"}, Args: []HNode{&HInt{Value: 2}}},
	}}
	right := &HUnit{Forms: []HNode{
		&HCall{Callee: &HGlobalRef{Name: "f"}, Args: []HNode{&HInt{Value: 1}, &HInt{Value: 2}}},
		&HCall{Callee: &HGlobalRef{Name: "f"}},
	}}
	if string(Serialize(left)) == string(Serialize(right)) {
		t.Error("argument list boundaries are not encoded")
	}
}

package hash

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of the hashing tree.
//
// Encoding conventions:
//   - First byte: HashVersion
//   - Integers: big-endian fixed-width (int64=8B, uint32=4B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Node lists: uint32 count, then each node inline
//   - Absent child: TagNil
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of an HNode tree.
// The returned bytes are suitable for hashing with SHA-256.
func Serialize(node HNode) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.serializeNode(node)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeNodes(nodes []HNode) {
	s.writeUint32(uint32(len(nodes)))
	for _, n := range nodes {
		s.serializeNode(n)
	}
}

func (s *serializer) serializeNode(node HNode) {
	switch n := node.(type) {
	case nil, *HNil:
		s.writeByte(TagNil)

	case *HBool:
		s.writeByte(TagBool)
		s.writeBool(n.Value)

	case *HChar:
		s.writeByte(TagChar)
		s.writeUint32(uint32(n.Value))

	case *HInt:
		s.writeByte(TagInt)
		s.writeInt64(n.Value)

	case *HFloat:
		s.writeByte(TagFloat)
		s.writeFloat64(n.Value)

	case *HString:
		s.writeByte(TagString)
		s.writeString(n.Value)

	case *HSymbol:
		s.writeByte(TagSymbol)
		s.writeString(n.Name)

	case *HList:
		s.writeByte(TagList)
		s.writeNodes(n.Items)

	case *HMap:
		s.writeByte(TagMap)
		s.writeNodes(n.Items)

	case *HSet:
		s.writeByte(TagSet)
		s.writeNodes(n.Items)

	case *HLocalRef:
		s.writeByte(TagLocalRef)
		s.writeUint16(n.ScopeDepth)
		s.writeUint16(n.SlotIndex)

	case *HGlobalRef:
		s.writeByte(TagGlobalRef)
		s.writeString(n.Name)

	case *HCall:
		s.writeByte(TagCall)
		s.serializeNode(n.Callee)
		s.writeNodes(n.Args)

	case *HVector:
		s.writeByte(TagVector)
		s.writeNodes(n.Items)

	case *HMapLit:
		s.writeByte(TagMapLit)
		s.writeNodes(n.Items)

	case *HSetLit:
		s.writeByte(TagSetLit)
		s.writeNodes(n.Items)

	case *HFn:
		s.writeByte(TagFn)
		s.writeString(n.Name)
		s.writeUint32(uint32(len(n.Clauses)))
		for _, c := range n.Clauses {
			s.serializeNode(c)
		}

	case *HClause:
		s.writeByte(TagClause)
		s.writeUint32(uint32(n.Arity))
		s.writeBool(n.Variadic)
		s.writeNodes(n.Body)

	case *HIf:
		s.writeByte(TagIf)
		s.serializeNode(n.Cond)
		s.serializeNode(n.Then)
		s.writeBool(n.Else != nil)
		if n.Else != nil {
			s.serializeNode(n.Else)
		}

	case *HDefine:
		s.writeByte(TagDefine)
		s.writeString(n.Name)
		s.serializeNode(n.Value)

	case *HLet:
		s.writeByte(TagLet)
		s.writeNodes(n.Values)
		s.writeNodes(n.Body)

	case *HQuote:
		s.writeByte(TagQuote)
		s.serializeNode(n.Datum)

	case *HDo:
		s.writeByte(TagDo)
		s.writeNodes(n.Body)

	case *HUnit:
		s.writeByte(TagUnit)
		s.writeNodes(n.Forms)
	}
}

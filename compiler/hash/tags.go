package hash

// HashVersion is the first byte of every serialization. Bump it whenever the
// encoding changes, so stale cache keys miss instead of colliding.
const HashVersion byte = 0x01

// ---------------------------------------------------------------------------
// Frozen node tags. Never renumber a tag; retire it and allocate a new one.
// 0xFE-0xFF are reserved.
// ---------------------------------------------------------------------------

// Literals
const (
	TagNil    byte = 0x01
	TagBool   byte = 0x02
	TagChar   byte = 0x03
	TagInt    byte = 0x04
	TagFloat  byte = 0x05
	TagString byte = 0x06
)

// Quoted data
const (
	TagSymbol byte = 0x10
	TagList   byte = 0x11
	TagMap    byte = 0x12
	TagSet    byte = 0x13
)

// References
const (
	TagLocalRef  byte = 0x20
	TagGlobalRef byte = 0x21
)

// Forms
const (
	TagCall   byte = 0x30
	TagVector byte = 0x31
	TagMapLit byte = 0x32
	TagSetLit byte = 0x33
	TagFn     byte = 0x34
	TagClause byte = 0x35
	TagIf     byte = 0x36
	TagDefine byte = 0x37
	TagLet    byte = 0x38
	TagQuote  byte = 0x39
	TagDo     byte = 0x3A
	TagUnit   byte = 0x3B
)

var allTags = []byte{
	TagNil, TagBool, TagChar, TagInt, TagFloat, TagString,
	TagSymbol, TagList, TagMap, TagSet,
	TagLocalRef, TagGlobalRef,
	TagCall, TagVector, TagMapLit, TagSetLit, TagFn, TagClause,
	TagIf, TagDefine, TagLet, TagQuote, TagDo, TagUnit,
}

package hash

import "testing"

func TestTagUniqueness(t *testing.T) {
	seen := make(map[byte]bool, len(allTags))
	for _, tag := range allTags {
		if seen[tag] {
			t.Errorf("duplicate tag: 0x%02X", tag)
		}
		seen[tag] = true
	}
}

func TestTagsInRange(t *testing.T) {
	for _, tag := range allTags {
		if tag >= 0xFE {
			t.Errorf("tag 0x%02X is in reserved range 0xFE-0xFF", tag)
		}
	}
}

func TestHashVersionNonZero(t *testing.T) {
	if HashVersion == 0 {
		t.Error("HashVersion must be non-zero")
	}
}

func TestTagGroups(t *testing.T) {
	groups := []struct {
		name string
		high byte
		tags []byte
	}{
		{"literal", 0x00, []byte{TagNil, TagBool, TagChar, TagInt, TagFloat, TagString}},
		{"quoted data", 0x10, []byte{TagSymbol, TagList, TagMap, TagSet}},
		{"reference", 0x20, []byte{TagLocalRef, TagGlobalRef}},
		{"form", 0x30, []byte{TagCall, TagVector, TagMapLit, TagSetLit, TagFn, TagClause,
			TagIf, TagDefine, TagLet, TagQuote, TagDo, TagUnit}},
	}
	listed := make(map[byte]bool, len(allTags))
	for _, tag := range allTags {
		listed[tag] = true
	}
	total := 0
	for _, g := range groups {
		for _, tag := range g.tags {
			if tag&0xF0 != g.high {
				t.Errorf("%s tag 0x%02X outside 0x%02X-0x%02X", g.name, tag, g.high, g.high|0x0F)
			}
			if !listed[tag] {
				t.Errorf("%s tag 0x%02X missing from allTags", g.name, tag)
			}
		}
		total += len(g.tags)
	}
	if total != len(allTags) {
		t.Errorf("groups hold %d tags, allTags has %d", total, len(allTags))
	}
}

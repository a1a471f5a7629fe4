package hash

import (
	"crypto/sha256"

	"github.com/chazu/pidgin/compiler"
)

// Sum computes the SHA-256 content hash of a compilation unit.
//
// The hash is computed over a deterministic serialization of the forms'
// normalized trees with de Bruijn indexing of locals. Two units that differ
// only in the names of their parameters and let bindings hash the same.
// Units that rebind an existing local, a special form or a built-in return
// ErrUnhashable.
func Sum(forms []compiler.Node) ([32]byte, error) {
	unit, err := Normalize(forms)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(Serialize(unit)), nil
}

// SumString parses src and hashes it.
func SumString(src string) ([32]byte, error) {
	forms, err := compiler.Parse(src)
	if err != nil {
		return [32]byte{}, err
	}
	return Sum(forms)
}

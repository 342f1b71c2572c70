// Package hashset computes and compares the multi-hash checksum maps
// stored alongside each snapshot DB row (spec.md §3 version record,
// §4.5 comparator). Grounded on the checksum map shape used by
// original_source/dfb/checksumdb.py and on the hash families the
// example pack already depends on (stdlib sha256, zeebo/blake3).
package hashset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"

	"github.com/zeebo/blake3"
)

// Type names a supported hash algorithm. The zero value is invalid.
type Type string

const (
	SHA256 Type = "sha256"
	BLAKE3 Type = "blake3"
)

// Supported lists every hash type this build knows how to compute, in
// preference order (used when resolving "auto" per spec.md §9 Open
// Question decision: the auto choice is the first type in this order
// present in both source and destination checksum maps).
var Supported = []Type{BLAKE3, SHA256}

func newHasher(t Type) (hash.Hash, error) {
	switch t {
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("hashset: unsupported hash type %q", t)
	}
}

// Set maps hash type name to its lowercase hex digest.
type Set map[Type]string

// Compute hashes r once for every type in types and returns the
// resulting Set. Hashing happens in a single read pass using
// io.MultiWriter-style fan-out.
func Compute(r io.Reader, types []Type) (Set, error) {
	if len(types) == 0 {
		return Set{}, nil
	}
	hashers := make(map[Type]hash.Hash, len(types))
	writers := make([]io.Writer, 0, len(types))
	for _, t := range types {
		h, err := newHasher(t)
		if err != nil {
			return nil, err
		}
		hashers[t] = h
		writers = append(writers, h)
	}
	mw := io.MultiWriter(writers...)
	if _, err := io.Copy(mw, r); err != nil {
		return nil, fmt.Errorf("hashset: read: %w", err)
	}
	out := make(Set, len(types))
	for t, h := range hashers {
		out[t] = hex.EncodeToString(h.Sum(nil))
	}
	return out, nil
}

// Common returns the hash types present in both a and b, in Supported
// preference order.
func Common(a, b Set) []Type {
	var out []Type
	for _, t := range Supported {
		if _, ok := a[t]; ok {
			if _, ok2 := b[t]; ok2 {
				out = append(out, t)
			}
		}
	}
	return out
}

// ErrNoCommonHash is returned by Match when the two sets share no hash
// type and errorOnMissing is set (spec.md §4.5 "NoCommonHash
// fatal if error_on_missing_hash").
type ErrNoCommonHash struct {
	A, B Set
}

func (e *ErrNoCommonHash) Error() string {
	return fmt.Sprintf("hashset: no common hash type between %v and %v", keys(e.A), keys(e.B))
}

func keys(s Set) []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// Match reports whether a and b agree on at least one shared hash type,
// and which type was used for the comparison. If errorOnMissing is true
// and no type is shared, it returns *ErrNoCommonHash.
func Match(a, b Set, errorOnMissing bool) (equal bool, used Type, err error) {
	common := Common(a, b)
	if len(common) == 0 {
		if errorOnMissing {
			return false, "", &ErrNoCommonHash{A: a, B: b}
		}
		return false, "", nil
	}
	t := common[0]
	return a[t] == b[t], t, nil
}

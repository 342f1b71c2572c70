// Package compare implements the file-equality decision used to decide
// whether a source item needs to be re-transferred (spec.md §4.5).
// Grounded on original_source/dfb/backup.py's Backup.file_compare.
package compare

import (
	"fmt"

	"github.com/jwink3101/dfb-go/internal/hashset"
)

// FileInfo is the subset of a listed item Compare needs, shared between
// a freshly listed source file and a destination snapshot row.
type FileInfo struct {
	APath    string
	Size     int64
	HasSize  bool
	MTime    float64
	HasMTime bool
	Checksum hashset.Set
	DstInfo  bool
}

// Attrib names which attribute decides equality beyond size, which is
// always compared.
type Attrib string

const (
	AttribMtime Attrib = "mtime"
	AttribHash  Attrib = "hash"
	AttribSize  Attrib = "size"
)

// Result explains why two files did or didn't compare equal, useful
// for debug logging without recomputing the comparison.
type Result struct {
	Equal      bool
	Reason     string
	UsedHash   hashset.Type
}

// Equal compares sfile and dfile under attrib, with dt as the mtime
// tolerance in seconds. A non-nil error is only ever
// *hashset.ErrNoCommonHash, raised when attrib is "hash", neither side
// shares a hash type, and errorOnMissingHash is true.
func Equal(sfile, dfile FileInfo, attrib Attrib, dt float64, errorOnMissingHash bool) (Result, error) {
	if !sfile.HasSize || !dfile.HasSize || sfile.Size != dfile.Size {
		return Result{Equal: false, Reason: fmt.Sprintf("size mismatch: src=%v dst=%v", sfile.Size, dfile.Size)}, nil
	}

	switch attrib {
	case AttribMtime:
		if !sfile.HasMTime || !dfile.HasMTime {
			return Result{Equal: false, Reason: "missing mtime"}, nil
		}
		diff := sfile.MTime - dfile.MTime
		if diff < 0 {
			diff = -diff
		}
		if diff >= dt {
			return Result{Equal: false, Reason: fmt.Sprintf("mtime mismatch: %.3fs >= %.3fs", diff, dt)}, nil
		}
		return Result{Equal: true, Reason: "mtime match"}, nil

	case AttribHash:
		equal, used, err := hashset.Match(sfile.Checksum, dfile.Checksum, errorOnMissingHash)
		if err != nil {
			return Result{}, err
		}
		if used == "" {
			// No shared hash and errorOnMissingHash is false: the
			// original falls back to size-only, which already matched.
			return Result{Equal: true, UsedHash: used, Reason: "no common hash; fell back to size"}, nil
		}
		if !equal {
			return Result{Equal: false, UsedHash: used, Reason: fmt.Sprintf("checksum %s mismatch", used)}, nil
		}
		return Result{Equal: true, UsedHash: used, Reason: fmt.Sprintf("checksum %s match", used)}, nil

	default: // size
		return Result{Equal: true, Reason: "size match"}, nil
	}
}

// Package rename detects files that look deleted-and-recreated as a
// rename/move, so the action pipeline can server-side copy/reference
// them instead of re-transferring the whole file (spec.md §4.6).
// Grounded on original_source/dfb/backup.py's Backup.track_moves.
package rename

import (
	"github.com/jwink3101/dfb-go/internal/compare"
)

// Move pairs a deleted destination file with the new-file source path
// it was (ambiguity-free) matched to.
type Move struct {
	FromDst compare.FileInfo
	ToSrc   compare.FileInfo
}

// Attrib resolves which compare attribute to use for one candidate,
// given whether the candidate file info came from the destination.
type Attrib func(dstInfo bool) compare.Attrib

// Track finds the unambiguous size-bucketed matches between newApaths
// (freshly appeared in this run) and deletedApaths (missing in this
// run), using srcByApath/dstByApath to look up full FileInfo.
//
// A new file with exactly one same-size deleted candidate that
// compares equal under the resolved attribute is a move. Zero
// candidates: not a move. More than one candidate: per spec.md §9 Open
// Question decision, always skip — never guess which is the real
// match.
func Track(
	newApaths, deletedApaths []string,
	srcByApath, dstByApath map[string]compare.FileInfo,
	attrib Attrib,
	dt float64,
	errorOnMissingHash bool,
	minSize int64,
) ([]Move, error) {
	if len(newApaths) == 0 || len(deletedApaths) == 0 {
		return nil, nil
	}

	bySize := map[int64][]compare.FileInfo{}
	for _, apath := range deletedApaths {
		dfile := dstByApath[apath]
		bySize[dfile.Size] = append(bySize[dfile.Size], dfile)
	}

	var moves []Move
	for _, apath := range newApaths {
		sfile, ok := srcByApath[apath]
		if !ok {
			continue
		}
		if sfile.HasSize && sfile.Size < minSize {
			continue
		}

		candidates := bySize[sfile.Size]
		if len(candidates) == 0 {
			continue
		}

		var matches []compare.FileInfo
		for _, dfile := range candidates {
			a := attrib(dfile.DstInfo)
			if a == "" {
				continue
			}
			res, err := compare.Equal(sfile, dfile, a, dt, errorOnMissingHash)
			if err != nil {
				return nil, err
			}
			if res.Equal {
				matches = append(matches, dfile)
			}
		}

		switch len(matches) {
		case 0:
			continue
		case 1:
			moves = append(moves, Move{FromDst: matches[0], ToSrc: sfile})
		default:
			// Ambiguous: more than one same-size, same-attribute
			// candidate. Skip rather than guess.
		}
	}

	return moves, nil
}

// ApplyToLists removes each move's source apath from newApaths. The
// matching destination apath is deliberately NOT removed from
// deletedApaths: a delete marker must still be written for it (the
// original rpath is gone; only a reference/copy exists at the new
// name).
func ApplyToLists(newApaths []string, moves []Move) []string {
	if len(moves) == 0 {
		return newApaths
	}
	moved := make(map[string]bool, len(moves))
	for _, m := range moves {
		moved[m.ToSrc.APath] = true
	}
	out := make([]string, 0, len(newApaths))
	for _, a := range newApaths {
		if !moved[a] {
			out = append(out, a)
		}
	}
	return out
}

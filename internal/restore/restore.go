// Package restore plans and executes restoring files or whole
// directories out of the destination's snapshot history back to a
// source-like location (spec.md §4.9 query surface). Grounded on
// original_source/dfb/restore.py (restore_dir, restore_file, transfer).
package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/dstdb"
)

// ErrSourceNotFound is returned when the requested apath (or subtree)
// has no matching snapshot row at the requested time.
type ErrSourceNotFound struct {
	Source string
}

func (e *ErrSourceNotFound) Error() string {
	return fmt.Sprintf("restore: nothing found for %q at the requested time", e.Source)
}

// Transfer is one planned restore: copy RPath (relative to the
// destination root) to Dest, which is an absolute fs path unless it is
// exactly "-" (write to stdout).
type Transfer struct {
	APath string
	RPath string
	Dest  string
	Size  int64
}

// PlanDir builds the restore plan for every file under source as of
// at (inclusive epoch seconds; hasAt false means "now"), writing each apath
// under destDir preserving its relative structure.
func PlanDir(ctx context.Context, db *dstdb.DB, source, destDir string, at int64, hasAt bool) ([]Transfer, error) {
	opts := dstdb.SnapshotOpts{Path: source, RemoveDelete: true}
	if hasAt {
		opts.Before, opts.HasBefore = at, true
	}
	items, err := db.Snapshot(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &ErrSourceNotFound{Source: source}
	}

	out := make([]Transfer, 0, len(items))
	for _, it := range items {
		out = append(out, Transfer{
			APath: it.APath,
			RPath: it.RPath,
			Dest:  path.Join(destDir, it.APath),
			Size:  it.Size,
		})
	}
	return out, nil
}

// PlanFile builds the restore plan for exactly one apath as of at. If
// toExact is false, dest is treated as a directory and the restored
// file keeps its original basename; if true, dest is the exact
// destination path (or "-" for stdout).
func PlanFile(ctx context.Context, db *dstdb.DB, source, dest string, at int64, hasAt bool, toExact bool) ([]Transfer, error) {
	opts := dstdb.SnapshotOpts{RemoveDelete: true}
	if hasAt {
		opts.Before, opts.HasBefore = at, true
	}
	items, err := db.Snapshot(ctx, opts)
	if err != nil {
		return nil, err
	}

	var found *dstdb.Item
	for i := range items {
		if items[i].APath == source {
			found = &items[i]
			break
		}
	}
	if found == nil {
		return nil, &ErrSourceNotFound{Source: source}
	}

	finalDest := dest
	if dest != "-" && !toExact {
		finalDest = path.Join(dest, path.Base(source))
	}

	return []Transfer{{APath: found.APath, RPath: found.RPath, Dest: finalDest, Size: found.Size}}, nil
}

// TotalSize sums every transfer's size, for reporting.
func TotalSize(transfers []Transfer) int64 {
	var total int64
	for _, t := range transfers {
		total += t.Size
	}
	return total
}

// Result reports one transfer's outcome.
type Result struct {
	Transfer Transfer
	Err      error
}

// Run executes every transfer against be, writing "-" destinations to
// os.Stdout (via backend.Open + copy) and everything else via
// backend.Copyfile from dstRoot/RPath to Dest. Per-item failures are
// returned in results and never abort the run.
func Run(ctx context.Context, be backend.Backend, dstRoot string, transfers []Transfer, noCheckDest bool) []Result {
	results := make([]Result, 0, len(transfers))
	for _, t := range transfers {
		src := path.Join(dstRoot, t.RPath)
		var err error
		if t.Dest == "-" {
			var rc io.ReadCloser
			if rc, err = be.Open(ctx, src); err == nil {
				_, err = io.Copy(os.Stdout, rc)
				rc.Close()
			}
		} else {
			err = be.Copyfile(ctx, src, t.Dest, backend.CopyOpts{})
		}
		results = append(results, Result{Transfer: t, Err: err})
	}
	return results
}

// Package backup implements one end-to-end run: list source and
// destination, classify new/modified/deleted, detect renames, then
// drive the transfer/reference/copy/delete action pipeline and record
// everything in the destination snapshot database (spec.md §4, §5).
// Grounded on original_source/dfb/backup.py's Backup class.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/compare"
	"github.com/jwink3101/dfb-go/internal/config"
	"github.com/jwink3101/dfb-go/internal/dstdb"
	"github.com/jwink3101/dfb-go/internal/hashset"
	"github.com/jwink3101/dfb-go/internal/listing"
	"github.com/jwink3101/dfb-go/internal/pathcodec"
	"github.com/jwink3101/dfb-go/internal/pipeline"
	"github.com/jwink3101/dfb-go/internal/rename"
	"github.com/jwink3101/dfb-go/internal/resume"
	"github.com/jwink3101/dfb-go/internal/snapshot"
	"github.com/jwink3101/dfb-go/internal/tstamp"
)

// Backup bundles the capabilities one run needs: the resolved config,
// the destination snapshot DB, the backend driving both filesystems,
// and a logger. The run instant is not stored here: Execute takes it in
// ExecOptions.Now (usually built with RunTime, which calls
// tstamp.FromTime on whatever instant the caller hands it, so tests can
// pin it).
type Backup struct {
	Cfg     *config.Config
	DB      *dstdb.DB
	Backend backend.Backend
	Log     *logrus.Logger
}

// New builds a Backup ready to run.
func New(cfg *config.Config, db *dstdb.DB, be backend.Backend, log *logrus.Logger) *Backup {
	return &Backup{Cfg: cfg, DB: db, Backend: be, Log: log}
}

// RCPathJoin mirrors rclonerc.py's rcpathjoin: fs may already end in a
// bare remote colon ("remote:"), in which case a leading slash must not
// turn into a double slash, and a relative first segment gets plain
// path.Join behavior otherwise. Exported so cmd/dfb can build the same
// backend paths backup/refresh wrote, instead of filepath.Join (which
// would mishandle a bare-colon remote descriptor and OS-specific
// separators).
func RCPathJoin(fs, rel string) string {
	if rel == "" {
		return fs
	}
	root := strings.TrimSuffix(fs, "/")
	if strings.HasSuffix(root, ":") || strings.HasPrefix(rel, "/") {
		return root + rel
	}
	return root + "/" + rel
}

// Plan is the result of listing and comparing both sides, ready for
// execution (or for dry-run/interactive review) by Execute.
type Plan struct {
	SrcFiles map[string]listing.File
	DstItems map[string]dstdb.Item

	New      []string
	Modified []string
	Deleted  []string

	// UpdateDst are dst rows whose attributes need upgrading in place
	// (dstinfo was true, and the matching source file now supplies its
	// size/mtime/checksum) without creating a new version.
	UpdateDst []dstdb.Item

	Moves []rename.Move

	resolvedCompare    compare.Attrib
	resolvedDstCompare compare.Attrib
	srcRenameAttrib    compare.Attrib
	dstRenameAttrib    compare.Attrib
}

// toCompareSrc adapts a freshly listed source file to compare.FileInfo.
func toCompareSrc(f listing.File) compare.FileInfo {
	return compare.FileInfo{
		APath:    f.APath,
		Size:     f.Size,
		HasSize:  f.HasSize,
		MTime:    f.MTime,
		HasMTime: f.HasMTime,
		Checksum: f.Checksum,
		DstInfo:  false,
	}
}

// toCompareDst adapts a destination snapshot row to compare.FileInfo.
func toCompareDst(it dstdb.Item) compare.FileInfo {
	return compare.FileInfo{
		APath:    it.APath,
		Size:     it.Size,
		HasSize:  it.HasSize,
		MTime:    it.MTime,
		HasMTime: it.HasMTime,
		Checksum: it.Checksum,
		DstInfo:  it.DstInfo,
	}
}

// latestByApath reduces a flat item list (as Snapshot returns) to each
// apath's most recent non-deleted row, mirroring the "current dst
// state" view backup.py's compare() works from.
func latestByApath(items []dstdb.Item) map[string]dstdb.Item {
	out := map[string]dstdb.Item{}
	for _, it := range items {
		if it.IsDeleted() {
			delete(out, it.APath)
			continue
		}
		if it.IsRef == 2 {
			// Unresolved reference: shouldn't appear outside a refresh
			// in progress, but never treated as current state.
			continue
		}
		cur, ok := out[it.APath]
		if !ok || it.Timestamp >= cur.Timestamp {
			out[it.APath] = it
		}
	}
	return out
}

// ListSource lists the source filesystem through the backend, deciding
// whether hashes/modtimes are needed from the resolved compare/rename
// attributes rather than always fetching everything.
func (b *Backup) ListSource(ctx context.Context, subdir string, compareAttr, dstCompareAttr, renameAttr compare.Attrib) ([]listing.File, error) {
	needHash := compareAttr == compare.AttribHash || dstCompareAttr == compare.AttribHash || renameAttr == compare.AttribHash
	needMtime := compareAttr == compare.AttribMtime || dstCompareAttr == compare.AttribMtime || renameAttr == compare.AttribMtime

	hashTypes := make([]hashset.Type, 0, len(b.Cfg.HashType))
	for _, h := range b.Cfg.HashType {
		if h != "auto" {
			hashTypes = append(hashTypes, hashset.Type(h))
		}
	}

	links := listing.LinkCopy
	return listing.List(ctx, b.Backend, b.Cfg.Src, listing.Options{
		Subdir:      subdir,
		FilterFlags: b.Cfg.FilterFlags,
		WithHashes:  needHash || b.Cfg.GetHashes,
		HashTypes:   hashTypes,
		WithModTime: resolveModtime(b.Cfg.GetModtime, needMtime),
		Links:       links,
	})
}

// BuildPlan lists both sides (refreshing the destination DB from the
// live listing first when refresh is true), classifies every apath as
// new/modified/deleted, and tracks renames — the full compare() +
// track_moves() phase of one run.
func (b *Backup) BuildPlan(ctx context.Context, subdir string, refresh bool) (*Plan, error) {
	srcFeat, err := b.Backend.Features(ctx, b.Cfg.Src)
	if err != nil {
		return nil, fmt.Errorf("backup: source features: %w", err)
	}
	dstFeat, err := b.Backend.Features(ctx, b.Cfg.Dst)
	if err != nil {
		return nil, fmt.Errorf("backup: dest features: %w", err)
	}

	resolvedCompare := resolveCompare(b.Cfg.Compare, srcFeat)
	resolvedDstCompare := resolveDstCompare(b.Cfg.DstCompare, resolvedCompare, dstFeat)
	srcRenameAttrib := resolveRenames(b.Cfg.Renames, srcFeat)
	dstRenameAttrib := resolveRenames(b.Cfg.DstRenames, dstFeat)
	renameAttrib := srcRenameAttrib
	if renameAttrib == "" {
		renameAttrib = dstRenameAttrib
	}

	var srcFiles []listing.File
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		srcFiles, err = b.ListSource(gctx, subdir, resolvedCompare, resolvedDstCompare, renameAttrib)
		return err
	})
	if refresh && !b.Cfg.DisableRefresh {
		g.Go(func() error {
			return b.Refresh(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dstSnap, err := b.DB.Snapshot(ctx, dstdb.SnapshotOpts{})
	if err != nil {
		return nil, fmt.Errorf("backup: read destination snapshot: %w", err)
	}
	dstItems := latestByApath(dstSnap)
	srcByApath := listing.ByAPath(srcFiles)

	plan := &Plan{
		SrcFiles:           srcByApath,
		DstItems:           dstItems,
		resolvedCompare:    resolvedCompare,
		resolvedDstCompare: resolvedDstCompare,
		srcRenameAttrib:    srcRenameAttrib,
		dstRenameAttrib:    dstRenameAttrib,
	}

	srcByApathCmp := map[string]compare.FileInfo{}
	dstByApathCmp := map[string]compare.FileInfo{}
	for apath, f := range srcByApath {
		srcByApathCmp[apath] = toCompareSrc(f)
	}
	for apath, it := range dstItems {
		dstByApathCmp[apath] = toCompareDst(it)
	}

	for apath := range dstItems {
		if _, ok := srcByApath[apath]; !ok {
			plan.Deleted = append(plan.Deleted, apath)
		}
	}

	for apath, sfile := range srcByApath {
		dItem, existed := dstItems[apath]
		if !existed {
			plan.New = append(plan.New, apath)
			continue
		}

		cmpAttr := resolvedCompare
		if dItem.DstInfo {
			cmpAttr = resolvedDstCompare
		}
		res, err := compare.Equal(srcByApathCmp[apath], dstByApathCmp[apath], cmpAttr, b.Cfg.Dt, b.Cfg.ErrorOnMissingHash)
		if err != nil {
			return nil, fmt.Errorf("backup: comparing %q: %w", apath, err)
		}
		if !res.Equal {
			plan.Modified = append(plan.Modified, apath)
			continue
		}

		if dItem.DstInfo && (sfile.HasMTime || sfile.HasSize || len(sfile.Checksum) > 0) {
			upgraded := dItem
			upgraded.Size = sfile.Size
			upgraded.HasSize = sfile.HasSize
			upgraded.MTime = sfile.MTime
			upgraded.HasMTime = sfile.HasMTime
			upgraded.Checksum = sfile.Checksum
			upgraded.DstInfo = false
			plan.UpdateDst = append(plan.UpdateDst, upgraded)
		}
	}

	attrib := func(dstInfo bool) compare.Attrib {
		if dstInfo {
			return dstRenameAttrib
		}
		return srcRenameAttrib
	}
	moves, err := rename.Track(plan.New, plan.Deleted, srcByApathCmp, dstByApathCmp, attrib, b.Cfg.Dt, b.Cfg.ErrorOnMissingHash, b.Cfg.MinRenameSizeBytes())
	if err != nil {
		return nil, fmt.Errorf("backup: tracking renames: %w", err)
	}
	plan.Moves = moves
	plan.New = rename.ApplyToLists(plan.New, moves)

	return plan, nil
}

// ActionSummary renders the human-readable per-class counts backup.py's
// action_summary prints before a run executes.
func ActionSummary(p *Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New: %d\n", len(p.New))
	fmt.Fprintf(&sb, "Modified: %d\n", len(p.Modified))
	fmt.Fprintf(&sb, "Deleted: %d\n", len(p.Deleted))
	fmt.Fprintf(&sb, "Moved: %d\n", len(p.Moves))
	return sb.String()
}

// ExecOptions controls one Execute call.
type ExecOptions struct {
	Now            tstamp.Now
	SnapshotWriter *snapshot.Writer
	Checkpoint     *resume.Checkpoint
	LinkFollow     bool
}

// ExecResult summarizes the four pipeline stages of one run.
type ExecResult struct {
	Transfer  pipeline.Stats
	Reference pipeline.Stats
	Copy      pipeline.Stats
	Delete    pipeline.Stats
}

// writeFunc builds the callback pipeline.Run hands each successful
// item to: insert into the DB, optionally mirror into a run-scoped
// snapshot export, and mark the checkpoint done.
func (b *Backup) writeFunc(ctx context.Context, class string, opts ExecOptions) func(dstdb.Item) error {
	return func(item dstdb.Item) error {
		if err := b.DB.Insert(ctx, item); err != nil {
			return fmt.Errorf("backup: insert %s %q: %w", class, item.APath, err)
		}
		if opts.SnapshotWriter != nil {
			if err := opts.SnapshotWriter.Write(item); err != nil {
				return fmt.Errorf("backup: snapshot write %q: %w", item.APath, err)
			}
		}
		if opts.Checkpoint != nil {
			if err := opts.Checkpoint.MarkDone(class + ":" + item.APath); err != nil {
				return fmt.Errorf("backup: checkpoint %q: %w", item.APath, err)
			}
		}
		return nil
	}
}

func (b *Backup) skip(opts ExecOptions, class, apath string) bool {
	return opts.Checkpoint != nil && opts.Checkpoint.IsDone(class+":"+apath)
}

// buildTransferTasks uploads every brand-new or modified source file.
func (b *Backup) buildTransferTasks(p *Plan, opts ExecOptions) []pipeline.Task {
	apaths := append(append([]string{}, p.New...), p.Modified...)
	tasks := make([]pipeline.Task, 0, len(apaths))
	for _, apath := range apaths {
		if b.skip(opts, "transfer", apath) {
			continue
		}
		apath := apath
		sfile := p.SrcFiles[apath]
		tasks = append(tasks, pipeline.Task{
			APath: apath,
			Do: func(ctx context.Context) (dstdb.Item, error) {
				rpath := pathcodec.ApathToRpath(apath, opts.Now.Time, pathcodec.FlagNone)
				srcPath := RCPathJoin(b.Cfg.Src, apath)
				dstPath := RCPathJoin(b.Cfg.Dst, rpath)

				if sfile.LinkData != nil && opts.LinkFollow {
					if err := b.Backend.Write(ctx, dstPath, []byte(sfile.LinkData.LinkDest), backend.WriteOpts{}); err != nil {
						return dstdb.Item{}, err
					}
				} else if err := b.Backend.Copyfile(ctx, srcPath, dstPath, backend.CopyOpts{}); err != nil {
					return dstdb.Item{}, err
				}

				return dstdb.Item{
					RPath:     rpath,
					APath:     apath,
					Timestamp: opts.Now.Epoch,
					Size:      sfile.Size,
					HasSize:   sfile.HasSize,
					MTime:     sfile.MTime,
					HasMTime:  sfile.HasMTime,
					Checksum:  sfile.Checksum,
					DstInfo:   false,
				}, nil
			},
		})
	}
	return tasks
}

// filepathRelSlash computes the relative path from dir to target and
// renders it with forward slashes regardless of host OS, per spec.md
// §9 Open Question 1 ("rel path always posix/forward-slash").
func filepathRelSlash(dir, target string) (string, error) {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return "", fmt.Errorf("backup: relative path from %q to %q: %w", dir, target, err)
	}
	return filepath.ToSlash(rel), nil
}

// sidecarBody is the JSON body written for every reference, per
// spec.md §7 ("v2 sidecar: {"ver":2,"rel":"<posix-relative-path>"}").
type sidecarBody struct {
	Ver int    `json:"ver"`
	Rel string `json:"rel"`
}

// buildReferenceTasks writes a reference sidecar for every detected
// move, pointing at the existing destination object instead of
// re-uploading it.
func (b *Backup) buildReferenceTasks(p *Plan, opts ExecOptions) []pipeline.Task {
	tasks := make([]pipeline.Task, 0, len(p.Moves))
	for _, mv := range p.Moves {
		mv := mv
		newApath := mv.ToSrc.APath
		if b.skip(opts, "reference", newApath) {
			continue
		}
		target, ok := p.DstItems[mv.FromDst.APath]
		if !ok {
			continue
		}
		sfile := p.SrcFiles[newApath]
		tasks = append(tasks, pipeline.Task{
			APath: newApath,
			Do: func(ctx context.Context) (dstdb.Item, error) {
				refRPath := pathcodec.ApathToRpath(newApath, opts.Now.Time, pathcodec.FlagRef)
				rel, err := filepathRelSlash(path.Dir(refRPath), target.RPath)
				if err != nil {
					return dstdb.Item{}, err
				}
				body, err := json.Marshal(sidecarBody{Ver: 2, Rel: rel})
				if err != nil {
					return dstdb.Item{}, err
				}
				dstPath := RCPathJoin(b.Cfg.Dst, refRPath)
				if err := b.Backend.Write(ctx, dstPath, body, backend.WriteOpts{NoCheckDest: true}); err != nil {
					return dstdb.Item{}, err
				}
				return dstdb.Item{
					RPath:     target.RPath,
					APath:     newApath,
					Timestamp: opts.Now.Epoch,
					Size:      sfile.Size,
					HasSize:   sfile.HasSize,
					MTime:     sfile.MTime,
					HasMTime:  sfile.HasMTime,
					Checksum:  sfile.Checksum,
					IsRef:     1,
					RefRPath:  refRPath,
					DstInfo:   false,
				}, nil
			},
		})
	}
	return tasks
}

// buildCopyTasks is the move_by_copy alternative to references: an
// actual server-side copy of the target object to the new rpath,
// chosen when rename_method is "copy" rather than "reference".
func (b *Backup) buildCopyTasks(p *Plan, opts ExecOptions) []pipeline.Task {
	tasks := make([]pipeline.Task, 0, len(p.Moves))
	for _, mv := range p.Moves {
		mv := mv
		newApath := mv.ToSrc.APath
		if b.skip(opts, "copy", newApath) {
			continue
		}
		target, ok := p.DstItems[mv.FromDst.APath]
		if !ok {
			continue
		}
		sfile := p.SrcFiles[newApath]
		tasks = append(tasks, pipeline.Task{
			APath: newApath,
			Do: func(ctx context.Context) (dstdb.Item, error) {
				newRPath := pathcodec.ApathToRpath(newApath, opts.Now.Time, pathcodec.FlagNone)
				srcPath := RCPathJoin(b.Cfg.Dst, target.RPath)
				dstPath := RCPathJoin(b.Cfg.Dst, newRPath)
				if err := b.Backend.Copyfile(ctx, srcPath, dstPath, backend.CopyOpts{}); err != nil {
					return dstdb.Item{}, err
				}
				return dstdb.Item{
					RPath:     newRPath,
					APath:     newApath,
					Timestamp: opts.Now.Epoch,
					Size:      sfile.Size,
					HasSize:   sfile.HasSize,
					MTime:     sfile.MTime,
					HasMTime:  sfile.HasMTime,
					Checksum:  sfile.Checksum,
					DstInfo:   false,
				}, nil
			},
		})
	}
	return tasks
}

// buildDeleteTasks writes a delete marker for every apath missing from
// the source, including ones matched by a move (the original rpath is
// genuinely gone even though a reference/copy now exists under the new
// name — spec.md §4.6).
func (b *Backup) buildDeleteTasks(p *Plan, opts ExecOptions) []pipeline.Task {
	tasks := make([]pipeline.Task, 0, len(p.Deleted))
	for _, apath := range p.Deleted {
		if b.skip(opts, "delete", apath) {
			continue
		}
		apath := apath
		tasks = append(tasks, pipeline.Task{
			APath: apath,
			Do: func(ctx context.Context) (dstdb.Item, error) {
				rpath := pathcodec.ApathToRpath(apath, opts.Now.Time, pathcodec.FlagDelete)
				dstPath := RCPathJoin(b.Cfg.Dst, rpath)
				if err := b.Backend.Write(ctx, dstPath, []byte("DEL"), backend.WriteOpts{}); err != nil {
					return dstdb.Item{}, err
				}
				return dstdb.Item{
					RPath:     rpath,
					APath:     apath,
					Timestamp: opts.Now.Epoch,
					Size:      -1,
					HasSize:   true,
					DstInfo:   false,
				}, nil
			},
		})
	}
	return tasks
}

// Execute runs the four action classes in sequence — transfer, then
// reference-or-copy (per Cfg.RenameMethod), then delete — each through
// a bounded pipeline.Run, applies any pending dstinfo upgrades first,
// and returns the per-class stats.
func (b *Backup) Execute(ctx context.Context, p *Plan, opts ExecOptions) (*ExecResult, error) {
	if len(p.UpdateDst) > 0 {
		if err := b.DB.ReplaceMany(ctx, p.UpdateDst); err != nil {
			return nil, fmt.Errorf("backup: applying dstinfo upgrades: %w", err)
		}
	}

	result := &ExecResult{}

	transferTasks := b.buildTransferTasks(p, opts)
	stats, err := pipeline.Run(ctx, b.Cfg.Concurrency, transferTasks, b.writeFunc(ctx, "transfer", opts), b.Log)
	result.Transfer = stats
	if err != nil {
		return result, err
	}

	if strings.EqualFold(b.Cfg.RenameMethod, "copy") {
		copyTasks := b.buildCopyTasks(p, opts)
		stats, err = pipeline.Run(ctx, b.Cfg.Concurrency, copyTasks, b.writeFunc(ctx, "copy", opts), b.Log)
		result.Copy = stats
	} else {
		refTasks := b.buildReferenceTasks(p, opts)
		stats, err = pipeline.Run(ctx, b.Cfg.Concurrency, refTasks, b.writeFunc(ctx, "reference", opts), b.Log)
		result.Reference = stats
	}
	if err != nil {
		return result, err
	}

	deleteTasks := b.buildDeleteTasks(p, opts)
	stats, err = pipeline.Run(ctx, b.Cfg.Concurrency, deleteTasks, b.writeFunc(ctx, "delete", opts), b.Log)
	result.Delete = stats
	if err != nil {
		return result, err
	}

	return result, nil
}

// StatsText renders the current/all-time totals the way backup.py's
// run_stats does, for the post-run log line.
func (b *Backup) StatsText(ctx context.Context) (string, error) {
	cur, err := b.DB.CurrentTotals(ctx)
	if err != nil {
		return "", err
	}
	all, err := b.DB.AllTimeTotals(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("current: %d files, %d bytes; all-time: %d versions, %d bytes",
		cur.Count, cur.Size, all.Count, all.Size), nil
}

// RunTime is a convenience wrapper most callers use instead of calling
// tstamp.FromTime themselves.
func RunTime(t time.Time) tstamp.Now { return tstamp.FromTime(t) }

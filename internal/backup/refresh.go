package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/dstdb"
	"github.com/jwink3101/dfb-go/internal/pathcodec"
)

// refreshExcludeFilters keep the destination's own control-plane
// clutter out of a relist: in-progress atomic-write temp files and the
// .dfb/ area itself (spec.md §4.3 "Refresh", grounded on
// original_source/dfb/dstdb.py's reset()'s hard-coded filters list).
var refreshExcludeFilters = []string{"- **/.swap.*", "- /.dfb/**"}

// Refresh rebuilds the destination snapshot DB entirely from a fresh
// recursive listing of the destination filesystem, then resolves every
// unresolved reference sidecar it found. Grounded on
// original_source/dfb/dstdb.py's reset()/_relist()/_update_references().
func (b *Backup) Refresh(ctx context.Context) error {
	if err := b.DB.Reset(ctx); err != nil {
		return fmt.Errorf("backup: refresh reset: %w", err)
	}

	flags := append(append([]string{}, refreshExcludeFilters...), b.Cfg.DstListFlags...)
	entries, err := b.Backend.List(ctx, b.Cfg.Dst, "", backend.ListOpts{
		Recurse:     true,
		FilterFlags: flags,
		WithHashes:  false,
		WithModTime: false,
	})
	if err != nil {
		return fmt.Errorf("backup: refresh list: %w", err)
	}

	items := make([]dstdb.Item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		apath, ts, flag, err := pathcodec.RpathToApath(e.Path)
		if err != nil {
			if b.Log != nil {
				b.Log.WithField("rpath", e.Path).WithError(err).Warn("refresh: skipping name with no embedded timestamp")
			}
			continue
		}

		it := dstdb.Item{
			RPath:     e.Path,
			APath:     apath,
			Timestamp: ts.Unix(),
			Size:      e.Size,
			HasSize:   true,
			DstInfo:   true,
		}
		switch flag {
		case pathcodec.FlagDelete:
			it.Size = -1
		case pathcodec.FlagRef:
			it.IsRef = 2
		}
		items = append(items, it)
	}

	if err := b.DB.ReplaceMany(ctx, items); err != nil {
		return fmt.Errorf("backup: refresh insert: %w", err)
	}

	return b.resolveReferences(ctx, items)
}

// resolveReferences reads the sidecar body for every unresolved (isref
// == 2) row, follows it to the target row, and rewrites the reference
// row with the target's attributes (or synthesizes a delete marker if
// the target is missing). Grounded on
// original_source/dfb/dstdb.py's _update_references().
func (b *Backup) resolveReferences(ctx context.Context, items []dstdb.Item) error {
	for _, ref := range items {
		if ref.IsRef != 2 {
			continue
		}

		rel, err := readSidecarRel(ctx, b.Backend, RCPathJoin(b.Cfg.Dst, ref.RPath))
		if err != nil {
			if b.Log != nil {
				b.Log.WithField("rpath", ref.RPath).WithError(err).Warn("refresh: could not read reference sidecar")
			}
			continue
		}

		targetRPath := filepath.ToSlash(path.Join(path.Dir(ref.RPath), rel))

		resolved := ref
		target, ok, err := b.DB.ByRPath(ctx, targetRPath)
		if err != nil {
			return fmt.Errorf("backup: refresh resolve %q: %w", ref.RPath, err)
		}
		if !ok {
			// Target gone: synthesize a delete marker at the reference's
			// own apath/timestamp, per spec.md §7.
			if b.Log != nil {
				b.Log.WithField("rpath", ref.RPath).WithField("target", targetRPath).Warn("refresh: reference target missing, synthesizing delete marker")
			}
			resolved.Size = -1
			resolved.HasSize = true
			resolved.HasMTime = false
			resolved.Checksum = nil
			resolved.IsRef = 0
			resolved.RefRPath = ""
		} else {
			resolved.Size = target.Size
			resolved.HasSize = target.HasSize
			resolved.MTime = target.MTime
			resolved.HasMTime = target.HasMTime
			resolved.Checksum = target.Checksum
			resolved.IsRef = 1
			resolved.RefRPath = ref.RPath
			resolved.RPath = target.RPath
		}

		if err := b.DB.Replace(ctx, resolved); err != nil {
			return fmt.Errorf("backup: refresh replace %q: %w", ref.RPath, err)
		}
	}
	return nil
}

// referenceSidecar is the v2 reference body, a JSON envelope. (The
// legacy v1 body is a bare relative-path string with no envelope; see
// readSidecarRel.)
type referenceSidecar struct {
	Ver int    `json:"ver"`
	Rel string `json:"rel"`
}

// readSidecarRel reads and decodes a reference sidecar body, accepting
// both the legacy v1 bare-string form and the current v2 JSON envelope.
func readSidecarRel(ctx context.Context, be backend.Backend, dstPath string) (string, error) {
	rc, err := be.Open(ctx, dstPath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var body referenceSidecar
		if err := json.Unmarshal(data, &body); err != nil {
			return "", fmt.Errorf("backup: decoding v2 sidecar: %w", err)
		}
		return body.Rel, nil
	}
	// v1: the body is the bare relative path itself.
	return trimmed, nil
}

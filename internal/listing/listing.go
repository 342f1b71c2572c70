// Package listing produces the current set of source files with the
// attributes the comparator and rename tracker need: size, optional
// mtime, optional per-type hashes, and symlink target data (spec.md
// §2 "Source listing", §4.5/§4.6 inputs). Grounded on
// original_source/dfb/backup.py's Backup.list_src.
package listing

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/hashset"
)

// LinkMode controls how a ".rclonelink" sidecar produced by a
// link-aware backend listing is treated.
type LinkMode string

const (
	// LinkCopy treats every object as a plain file, the default.
	LinkCopy LinkMode = "copy"
	// LinkFollow uploads the symlink's target path as a small sidecar
	// instead of the file it points to.
	LinkFollow LinkMode = "link"
	// LinkSkip drops symlinks from the listing entirely.
	LinkSkip LinkMode = "skip"
)

// LinkData records a symlink's target, carried through so the action
// pipeline can upload it as a sidecar rather than the link's contents.
type LinkData struct {
	RealAPath string
	LinkDest  string
}

// File is one source item as seen by one run, mirroring the dict
// list_src builds per entry before the comparator sees it.
type File struct {
	APath    string
	Size     int64
	HasSize  bool
	MTime    float64
	HasMTime bool
	Checksum hashset.Set
	LinkData *LinkData
}

// Options controls one listing pass. Hash/modtime collection is
// enabled lazily — only when the resolved compare/rename attribute
// actually needs it — mirroring list_src's compute_hashes/modtime
// booleans.
type Options struct {
	Subdir      string
	FilterFlags []string
	WithHashes  bool
	HashTypes   []hashset.Type
	WithModTime bool
	Links       LinkMode
	// FSRoot is the local filesystem root backing Fs, used only to
	// resolve symlink targets for LinkFollow; empty disables link
	// resolution (the remote has no local root to read).
	FSRoot string
}

// List lists every file under fs (optionally rooted at opts.Subdir)
// through be, producing one File per object with a resolved apath.
func List(ctx context.Context, be backend.Backend, fs string, opts Options) ([]File, error) {
	entries, err := be.List(ctx, fs, opts.Subdir, backend.ListOpts{
		Recurse:     true,
		FilterFlags: opts.FilterFlags,
		WithHashes:  opts.WithHashes,
		WithModTime: opts.WithModTime,
	})
	if err != nil {
		return nil, fmt.Errorf("listing: list %q: %w", fs, err)
	}

	out := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		apath := e.Path
		if opts.Subdir != "" {
			apath = path.Join(opts.Subdir, e.Path)
		}

		f := File{
			APath:    apath,
			Size:     e.Size,
			HasSize:  true,
			Checksum: hashset.Set(e.Hashes),
		}
		if opts.WithModTime && !e.ModTime.IsZero() {
			f.MTime = float64(e.ModTime.UnixNano()) / 1e9
			f.HasMTime = true
		}

		if strings.HasSuffix(apath, ".rclonelink") {
			switch opts.Links {
			case LinkSkip:
				continue
			case LinkFollow:
				real := strings.TrimSuffix(apath, ".rclonelink")
				if dest, err := readLocalLink(opts.FSRoot, real); err == nil {
					f.LinkData = &LinkData{RealAPath: real, LinkDest: dest}
				}
				// Unreadable: fall through and treat as a plain file,
				// matching list_src's "could not be read... treating
				// as a file" downgrade.
			}
		}

		out = append(out, f)
	}
	return out, nil
}

// readLocalLink resolves a symlink target when the backend's root is a
// real local directory (list_src reads os.readlink directly rather
// than going through the remote-filesystem abstraction for this).
func readLocalLink(fsRoot, realAPath string) (string, error) {
	if fsRoot == "" {
		return "", fmt.Errorf("listing: no local root to resolve link")
	}
	full := path.Join(fsRoot, realAPath)
	return os.Readlink(full)
}

// ByAPath indexes files by apath, the shape the comparator and rename
// tracker both consume.
func ByAPath(files []File) map[string]File {
	m := make(map[string]File, len(files))
	for _, f := range files {
		m[f.APath] = f
	}
	return m
}

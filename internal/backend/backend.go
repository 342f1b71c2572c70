// Package backend defines the storage-multiplexer abstraction that the
// rest of the engine drives (spec.md §4.4), and an adapter that
// implements it by talking to an external remote-filesystem control
// process over HTTP — grounded on
// original_source/dfb/rclonerc.py (the RC class).
package backend

import (
	"context"
	"io"
	"time"
)

// Entry describes one listed object.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	Hashes  map[string]string
}

// Features reports what a remote filesystem supports, used by
// internal/backup to resolve "auto" comparison/rename settings.
type Features struct {
	// Precision is the modtime precision the remote claims, in
	// nanoseconds. Anything coarser than 1e9 (one second) is treated as
	// "no usable mtime".
	Precision  time.Duration
	SlowModTime bool
	SlowHash    bool
	HashTypes   []string
}

// ListOpts controls a List call.
type ListOpts struct {
	Recurse    bool
	FilterFlags []string
	WithHashes bool
	WithModTime bool
}

// CopyOpts controls a Copyfile/Move call.
type CopyOpts struct {
	// Move, if true, removes the source after a successful copy
	// (server-side move rather than copy).
	Move bool
}

// WriteOpts controls a Write call.
type WriteOpts struct {
	NoCheckDest bool
}

// Backend is the storage multiplexer the rest of the engine is written
// against. A concrete implementation drives one or more remote
// filesystems addressed by rclone-style "fs:remote" strings split with
// SplitPath.
type Backend interface {
	List(ctx context.Context, fs, dir string, opts ListOpts) ([]Entry, error)
	Stat(ctx context.Context, path string) (Entry, error)
	Copyfile(ctx context.Context, src, dst string, opts CopyOpts) error
	Write(ctx context.Context, dst string, data []byte, opts WriteOpts) error
	Read(ctx context.Context, path string, start, end int64) ([]byte, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Features(ctx context.Context, fs string) (Features, error)

	// Start launches the backend's control process, if any, and blocks
	// until it answers a health check. Stop tears it down. Both are
	// idempotent.
	Start(ctx context.Context) error
	Stop() error
}

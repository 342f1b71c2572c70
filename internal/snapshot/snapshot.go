// Package snapshot writes and uploads the per-run JSONL export of
// every item touched by a backup (spec.md §6.2), and prepares the
// gzip-compressed copy that gets pushed to the destination's
// .dfb/snapshots/ control-plane area. Grounded on
// original_source/dfb/backup.py's Backup.upload_snapshots, with the
// original's raw gzip module swapped for klauspost/compress/gzip (the
// gzip implementation already in the example pack, via
// zeoday-chatlog).
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jwink3101/dfb-go/internal/dstdb"
)

// Writer appends one JSON line per item to a run-scoped export file.
// It is not safe for concurrent use; the action pipeline's single
// writer goroutine owns it.
type Writer struct {
	f   *os.File
	buf *bufio.Writer
}

// Create opens (or truncates) the export file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create %q: %w", path, err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f)}, nil
}

// Write appends one item as a single JSON line.
func (w *Writer) Write(item dstdb.Item) error {
	data, err := json.Marshal(snapshotRow(item))
	if err != nil {
		return fmt.Errorf("snapshot: encode %q: %w", item.APath, err)
	}
	if _, err := w.buf.Write(data); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

// Close flushes buffered output and closes the file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// snapshotRow mirrors DFBDST.fullrow2dict's behavior of flattening the
// "remain" JSON blob back into the top-level record.
func snapshotRow(it dstdb.Item) map[string]any {
	m := map[string]any{
		"rpath":     it.RPath,
		"apath":     it.APath,
		"timestamp": it.Timestamp,
		"isref":     it.IsRef,
		"dstinfo":   it.DstInfo,
	}
	if it.HasSize {
		m["size"] = it.Size
	}
	if it.HasMTime {
		m["mtime"] = it.MTime
	}
	if len(it.Checksum) > 0 {
		m["checksum"] = it.Checksum
	}
	if it.RefRPath != "" {
		m["ref_rpath"] = it.RefRPath
	}
	for k, v := range it.Remain {
		m[k] = v
	}
	return m
}

// Gzip compresses src (the plain JSONL export) to dst, 3 MiB at a time
// as the original does.
func Gzip(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("snapshot: open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("snapshot: create %q: %w", dst, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	buf := make([]byte, 3*1024*1024)
	if _, err := io.CopyBuffer(gz, in, buf); err != nil {
		return fmt.Errorf("snapshot: compress %q: %w", src, err)
	}
	return gz.Close()
}

// DestPath is the dated control-plane path a compressed snapshot is
// uploaded to: .dfb/snapshots/<year>/<month>/<name>.gz.
func DestPath(now time.Time, name string) string {
	return fmt.Sprintf(".dfb/snapshots/%s/%s.gz", now.UTC().Format("2006/01"), name)
}

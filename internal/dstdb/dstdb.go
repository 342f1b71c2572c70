// Package dstdb is the destination snapshot database: a single SQLite
// table recording every version ever written to the destination, plus
// a small key/value table for bookkeeping (spec.md §4.3). Grounded on
// original_source/dfb/dstdb.py (the DFBDST class), with the schema
// applied through pressly/goose/v3 migrations (the pattern used by
// internal/sync/migrations.go in the onedrive-go example) over a
// modernc.org/sqlite connection, instead of the original's ad hoc
// CREATE TABLE IF NOT EXISTS calls.
package dstdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/jwink3101/dfb-go/internal/hashset"
)

// Item is one row of the items table: one version of one apath.
type Item struct {
	RPath     string
	APath     string
	Timestamp int64
	// Size is -1 for a delete marker, as in the original schema.
	Size     int64
	HasSize  bool
	MTime    float64
	HasMTime bool
	Checksum hashset.Set
	// IsRef: 0 not a reference, 1 resolved reference, 2 unresolved
	// reference (only transient, during a refresh).
	IsRef    int
	RefRPath string
	DstInfo  bool
	// Remain holds any extra fields (e.g. metadata) that don't have a
	// dedicated column, round-tripped as a JSON object.
	Remain map[string]any

	// Versions and TotSize are only populated by Ls: the count of
	// every version of this apath (within Ls's time window) and the
	// sum of their non-negative sizes (spec.md §4.3's "ls... per-file
	// counts (versions, tot_size)"). Zero on Items returned by every
	// other query.
	Versions int
	TotSize  int64
}

// IsDeleted reports whether this version is a delete marker.
func (it Item) IsDeleted() bool { return it.HasSize && it.Size < 0 }

// DB wraps the items/kv schema with the operations the rest of the
// engine needs. Writes are serialized through a single mutex,
// mirroring the "single designated writer" resource model (spec.md
// §5) — reads may happen concurrently from any goroutine.
type DB struct {
	sql  *sql.DB
	wmu  sync.Mutex
	path string
}

// Open opens (creating if needed) the snapshot DB at path and applies
// any pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dstdb: open %q: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, simplest concurrency story

	if err := runMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	d := &DB{sql: sqlDB, path: path}
	if err := d.ensureKV(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) ensureKV(ctx context.Context) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv (key, val) VALUES ('created', datetime('now'))`)
	if err != nil {
		return fmt.Errorf("dstdb: seed kv: %w", err)
	}
	_, err = d.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv (key, val) VALUES ('version', '1')`)
	if err != nil {
		return fmt.Errorf("dstdb: seed kv: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.sql.Close() }

// Reset clears every row from items, keeping the kv bookkeeping table
// and schema intact. Callers are expected to immediately repopulate it
// via ReplaceMany after a destination relist.
func (d *DB) Reset(ctx context.Context) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	_, err := d.sql.ExecContext(ctx, `DELETE FROM items`)
	if err != nil {
		return fmt.Errorf("dstdb: reset: %w", err)
	}
	return nil
}

func marshalChecksum(cs hashset.Set) (any, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalRemain(remain map[string]any) (any, error) {
	if len(remain) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(remain)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (it Item) values() ([]any, error) {
	checksum, err := marshalChecksum(it.Checksum)
	if err != nil {
		return nil, err
	}
	remain, err := marshalRemain(it.Remain)
	if err != nil {
		return nil, err
	}
	var size any
	if it.HasSize {
		size = it.Size
	}
	var mtime any
	if it.HasMTime {
		mtime = it.MTime
	}
	var refRPath any
	if it.RefRPath != "" {
		refRPath = it.RefRPath
	}
	return []any{
		it.RPath, it.APath, it.Timestamp, size, mtime, checksum, it.IsRef, refRPath, it.DstInfo, remain,
	}, nil
}

const insertColumns = "rpath, apath, timestamp, size, mtime, checksum, isref, ref_rpath, dstinfo, remain"

// Insert adds item, failing if its (apath, timestamp) already exists.
func (d *DB) Insert(ctx context.Context, item Item) error {
	return d.insertOrReplace(ctx, "INSERT", []Item{item})
}

// Replace adds or overwrites item at its (apath, timestamp).
func (d *DB) Replace(ctx context.Context, item Item) error {
	return d.insertOrReplace(ctx, "INSERT OR REPLACE", []Item{item})
}

// InsertMany inserts a batch in a single transaction.
func (d *DB) InsertMany(ctx context.Context, items []Item) error {
	return d.insertOrReplace(ctx, "INSERT", items)
}

// ReplaceMany inserts-or-replaces a batch in a single transaction.
func (d *DB) ReplaceMany(ctx context.Context, items []Item) error {
	return d.insertOrReplace(ctx, "INSERT OR REPLACE", items)
}

func (d *DB) insertOrReplace(ctx context.Context, verb string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dstdb: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"%s INTO items (%s) VALUES (?,?,?,?,?,?,?,?,?,?)", verb, insertColumns))
	if err != nil {
		return fmt.Errorf("dstdb: prepare: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		vals, err := item.values()
		if err != nil {
			return fmt.Errorf("dstdb: marshal %q: %w", item.APath, err)
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return fmt.Errorf("dstdb: write %q: %w", item.APath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dstdb: commit: %w", err)
	}
	return nil
}

// SnapshotOpts filters a point-in-time view of the destination.
type SnapshotOpts struct {
	// Path restricts results to apaths under this prefix.
	Path string
	// Before/After are inclusive epoch-second bounds on timestamp, applied
	// only when HasBefore/HasAfter is set; otherwise that side is
	// unbounded.
	Before, After int64
	HasBefore, HasAfter bool

	RemoveDelete bool
	DeleteOnly   bool
}

// Snapshot returns the head row (max timestamp <= Before, honoring
// After) for every apath matching opts, sorted case-insensitively by
// apath.
func (d *DB) Snapshot(ctx context.Context, opts SnapshotOpts) ([]Item, error) {
	var where []string
	var args []any

	if opts.Path != "" {
		p := strings.TrimSuffix(strings.TrimPrefix(opts.Path, "./"), "/")
		where = append(where, "apath LIKE ?")
		args = append(args, p+"/%")
	}
	if opts.HasBefore {
		where = append(where, "timestamp <= ?")
		args = append(args, opts.Before)
	}
	if opts.HasAfter {
		where = append(where, "timestamp >= ?")
		args = append(args, opts.After)
	}

	q := "SELECT " + insertColumns + " FROM items"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " GROUP BY apath HAVING MAX(timestamp) ORDER BY LOWER(apath)"

	if opts.RemoveDelete || opts.DeleteOnly {
		outer := "SELECT * FROM (" + q + ") WHERE "
		var conds []string
		if opts.RemoveDelete {
			conds = append(conds, "size >= 0")
		}
		if opts.DeleteOnly {
			conds = append(conds, "size < 0")
		}
		q = outer + strings.Join(conds, " AND ")
	}

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("dstdb: snapshot query: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ByRPath returns the non-reference row whose rpath is rpath, the
// lookup refresh's reference-resolution phase needs to chase a
// sidecar to its target (spec.md §3.2). ok is false if no such row
// exists.
func (d *DB) ByRPath(ctx context.Context, rpath string) (item Item, ok bool, err error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+insertColumns+" FROM items WHERE rpath = ? AND (isref IS NULL OR isref = 0) LIMIT 1", rpath)
	if err != nil {
		return Item{}, false, fmt.Errorf("dstdb: by_rpath: %w", err)
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return Item{}, false, err
	}
	if len(items) == 0 {
		return Item{}, false, nil
	}
	return items[0], true, nil
}

// FileVersions returns every version of apath, oldest first.
func (d *DB) FileVersions(ctx context.Context, apath string) ([]Item, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+insertColumns+" FROM items WHERE apath = ? ORDER BY timestamp", apath)
	if err != nil {
		return nil, fmt.Errorf("dstdb: file_versions: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// CountByRPath returns, for each rpath in rpaths, how many rows across
// the whole table point at it — used by the `versions --ref-count`
// query surface (spec.md §4.9) to show how many referrers share a
// target.
func (d *DB) CountByRPath(ctx context.Context, rpaths []string) (map[string]int, error) {
	counts := make(map[string]int, len(rpaths))
	if len(rpaths) == 0 {
		return counts, nil
	}
	placeholders := make([]string, len(rpaths))
	args := make([]any, len(rpaths))
	for i, r := range rpaths {
		placeholders[i] = "?"
		args[i] = r
	}
	q := "SELECT rpath, COUNT(*) FROM items WHERE rpath IN (" + strings.Join(placeholders, ",") + ") GROUP BY rpath"
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("dstdb: count_by_rpath: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rpath string
		var n int
		if err := rows.Scan(&rpath, &n); err != nil {
			return nil, fmt.Errorf("dstdb: count_by_rpath scan: %w", err)
		}
		counts[rpath] = n
	}
	return counts, rows.Err()
}

// Timestamps returns one row per distinct backup instant with
// aggregate counts, used by the `dfb timestamps` query surface (spec.md
// §4.9), grounded on original_source/dfb/listing.py's timestamps().
type TimestampSummary struct {
	Timestamp int64
	Total     int
	Deleted   int
	Moved     int
	Size      int64
}

func (d *DB) Timestamps(ctx context.Context) ([]TimestampSummary, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT
			timestamp,
			COUNT(timestamp),
			SUM(CASE WHEN size < 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN isref = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN (size >= 0 AND (isref IS NULL OR isref = 0)) THEN size ELSE 0 END)
		FROM items
		GROUP BY timestamp
		ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("dstdb: timestamps: %w", err)
	}
	defer rows.Close()

	var out []TimestampSummary
	for rows.Next() {
		var s TimestampSummary
		var size sql.NullInt64
		if err := rows.Scan(&s.Timestamp, &s.Total, &s.Deleted, &s.Moved, &size); err != nil {
			return nil, fmt.Errorf("dstdb: timestamps scan: %w", err)
		}
		s.Size = size.Int64
		out = append(out, s)
	}
	return out, rows.Err()
}

// Totals reports the aggregate current (head-row) and all-time size
// and count, used by run_stats-equivalent reporting.
type Totals struct {
	Count int
	Size  int64
}

func (d *DB) CurrentTotals(ctx context.Context) (Totals, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN (size >= 0 AND (isref IS NULL OR isref = 0)) THEN size ELSE 0 END)
		FROM (SELECT apath, size, isref, MAX(timestamp) FROM items GROUP BY apath)`)
	var t Totals
	var size sql.NullInt64
	if err := row.Scan(&t.Count, &size); err != nil {
		return Totals{}, fmt.Errorf("dstdb: current_totals: %w", err)
	}
	t.Size = size.Int64
	return t, nil
}

func (d *DB) AllTimeTotals(ctx context.Context) (Totals, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN (size >= 0 AND (isref IS NULL OR isref = 0)) THEN size ELSE 0 END)
		FROM items`)
	var t Totals
	var size sql.NullInt64
	if err := row.Scan(&t.Count, &size); err != nil {
		return Totals{}, fmt.Errorf("dstdb: all_time_totals: %w", err)
	}
	t.Size = size.Int64
	return t, nil
}

// Group is every version of one apath, sorted by timestamp, as
// returned by GroupByApath.
type Group struct {
	APath string
	Items []Item
}

// GroupByApath returns every apath's full version history sorted by
// timestamp, with the groups themselves sorted case-insensitively by
// apath — the shape internal/prune walks with a keyed bisect.
func (d *DB) GroupByApath(ctx context.Context) ([]Group, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+insertColumns+" FROM items ORDER BY LOWER(apath), timestamp")
	if err != nil {
		return nil, fmt.Errorf("dstdb: group_by_apath: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	var groups []Group
	for _, it := range items {
		if len(groups) == 0 || groups[len(groups)-1].APath != it.APath {
			groups = append(groups, Group{APath: it.APath})
		}
		g := &groups[len(groups)-1]
		g.Items = append(g.Items, it)
	}
	return groups, nil
}

// Ls lists the immediate children of subdir at the time implied by
// opts: subdirectories that contain at least one matching item, and
// head-row Items for files directly in subdir.
func (d *DB) Ls(ctx context.Context, subdir string, opts SnapshotOpts) (dirs []string, files []Item, err error) {
	opts.Path = subdir
	heads, err := d.Snapshot(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	prefix := strings.TrimSuffix(strings.TrimPrefix(subdir, "./"), "/")
	seenDirs := map[string]bool{}
	for _, it := range heads {
		rel := it.APath
		if prefix != "" {
			rel = strings.TrimPrefix(rel, prefix+"/")
		}
		if idx := strings.IndexByte(rel, '/'); idx >= 0 {
			d := rel[:idx]
			if !seenDirs[d] {
				seenDirs[d] = true
				dirs = append(dirs, d)
			}
			continue
		}
		files = append(files, it)
	}
	sort.Strings(dirs)
	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i].APath) < strings.ToLower(files[j].APath)
	})

	if len(files) > 0 {
		apaths := make([]string, len(files))
		for i, f := range files {
			apaths[i] = f.APath
		}
		counts, err := d.lsCounts(ctx, apaths, opts)
		if err != nil {
			return nil, nil, err
		}
		for i := range files {
			c := counts[files[i].APath]
			files[i].Versions = c.versions
			files[i].TotSize = c.totSize
		}
	}
	return dirs, files, nil
}

type lsCount struct {
	versions int
	totSize  int64
}

// lsCounts computes, per apath in apaths, the number of versions and
// the total non-negative size across every row for that apath within
// opts' Before/After window (spec.md §4.3: "list immediate files with
// per-file counts (versions, tot_size)"). Mirrors
// original_source/dfb/dstdb.py's ls(), whose COUNT(*)/SUM(...) are
// computed over the same timestamp window used to pick the head row,
// not restricted by remove_delete/delete_only.
func (d *DB) lsCounts(ctx context.Context, apaths []string, opts SnapshotOpts) (map[string]lsCount, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, len(apaths)+2)

	placeholders := make([]string, len(apaths))
	for i, a := range apaths {
		placeholders[i] = "?"
		args = append(args, a)
	}
	where = append(where, "apath IN ("+strings.Join(placeholders, ",")+")")

	if opts.HasBefore {
		where = append(where, "timestamp <= ?")
		args = append(args, opts.Before)
	}
	if opts.HasAfter {
		where = append(where, "timestamp >= ?")
		args = append(args, opts.After)
	}

	q := "SELECT apath, COUNT(*), SUM(CASE WHEN size > 0 THEN size ELSE 0 END) FROM items WHERE " +
		strings.Join(where, " AND ") + " GROUP BY apath"

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("dstdb: ls counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]lsCount, len(apaths))
	for rows.Next() {
		var apath string
		var c lsCount
		var totSize sql.NullInt64
		if err := rows.Scan(&apath, &c.versions, &totSize); err != nil {
			return nil, fmt.Errorf("dstdb: ls counts scan: %w", err)
		}
		c.totSize = totSize.Int64
		out[apath] = c
	}
	return out, rows.Err()
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		var (
			it                    Item
			size                  sql.NullInt64
			mtime                 sql.NullFloat64
			checksum, remain, ref sql.NullString
			isref                 sql.NullInt64
			dstinfo               sql.NullBool
		)
		if err := rows.Scan(&it.RPath, &it.APath, &it.Timestamp, &size, &mtime, &checksum, &isref, &ref, &dstinfo, &remain); err != nil {
			return nil, fmt.Errorf("dstdb: scan: %w", err)
		}
		if size.Valid {
			it.Size, it.HasSize = size.Int64, true
		}
		if mtime.Valid {
			it.MTime, it.HasMTime = mtime.Float64, true
		}
		if checksum.Valid && checksum.String != "" {
			var cs hashset.Set
			if err := json.Unmarshal([]byte(checksum.String), &cs); err != nil {
				return nil, fmt.Errorf("dstdb: decode checksum for %q: %w", it.APath, err)
			}
			it.Checksum = cs
		}
		it.IsRef = int(isref.Int64)
		it.RefRPath = ref.String
		it.DstInfo = dstinfo.Bool
		if remain.Valid && remain.String != "" {
			var r map[string]any
			if err := json.Unmarshal([]byte(remain.String), &r); err != nil {
				return nil, fmt.Errorf("dstdb: decode remain for %q: %w", it.APath, err)
			}
			it.Remain = r
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Path returns the filesystem path backing this DB.
func (d *DB) Path() string { return d.path }

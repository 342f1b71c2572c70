// Package prune implements the destructive pruning planner: deciding
// which destination real-paths are safe to delete at a given cutoff
// instant without breaking any reference chain (spec.md §4.8).
// Grounded line-for-line on
// original_source/dfb/prune.py's PruneableDFBDST.prune_rpaths, with
// its bisect.bisect_right-over-a-keyed-wrapper replaced by an
// equivalent closure over sort.Search (spec.md §9 design note).
package prune

import (
	"sort"
	"strings"

	"github.com/jwink3101/dfb-go/internal/dstdb"
)

// Candidate is one real path slated for deletion, with its last-known
// size (-1 for a delete marker) for reporting.
type Candidate struct {
	RPath string
	Size  int64
}

// bisectRight returns the smallest index i such that items[i].Timestamp
// > when (all items before i have Timestamp <= when), the Go
// equivalent of Python's bisect.bisect_right keyed on timestamp.
func bisectRight(items []dstdb.Item, when int64) int {
	return sort.Search(len(items), func(i int) bool {
		return items[i].Timestamp > when
	})
}

// Plan computes the set of real paths that can be deleted as of when
// (an inclusive epoch-second cutoff) without breaking any reference
// chain, restricted to apaths under subdir (empty = everything).
//
// The algorithm, preserved from the original:
//
//  1. For each apath's version history (oldest-to-newest, as returned
//     by dstdb.GroupByApath): bisect to find the first version after
//     the cutoff. That version, every later one, and the last version
//     at or before the cutoff are unconditionally kept (they are live
//     at or after `when`); every older version is a deletion
//     candidate.
//  2. Within the candidates: drop anything still referenced by a kept
//     rpath, or that is itself a delete marker (handled next).
//     Then drop delete markers that aren't the last remaining
//     candidate (an old delete marker with nothing left to hide is
//     noise). Finally, if exactly one candidate remains and it's a
//     delete marker, delete it too — it was only being kept to mask a
//     now-independently-kept file.
func Plan(groups []dstdb.Group, when int64, subdir string) []Candidate {
	subdir = strings.TrimPrefix(strings.TrimSuffix(subdir, "/"), "./")
	subdir = strings.TrimPrefix(subdir, "/")
	if subdir != "" {
		subdir += "/"
	}

	keepRPaths := map[string]bool{}
	type delGroup struct {
		name  string
		items []dstdb.Item
	}
	var delGroups []delGroup

	for _, g := range groups {
		iwhen := bisectRight(g.Items, when)
		icut := iwhen - 1
		if icut < 0 {
			icut = 0
		}
		for _, it := range g.Items[icut:] {
			keepRPaths[it.RPath] = true
		}
		delGroups = append(delGroups, delGroup{name: g.APath, items: g.Items[:icut]})
	}

	delSeen := map[string]Candidate{}
	addDel := func(c Candidate) { delSeen[c.RPath] = c }

	for _, dg := range delGroups {
		if subdir != "" && !strings.HasPrefix(dg.name, subdir) {
			continue
		}

		// 2a: drop anything referenced or already a delete marker.
		var keepGroup []dstdb.Item
		for _, row := range dg.items {
			if keepRPaths[row.RPath] || row.Size < 0 {
				keepGroup = append(keepGroup, row)
				continue
			}
			addDel(Candidate{RPath: row.RPath, Size: row.Size})
		}
		if len(keepGroup) == 0 {
			continue
		}

		// 2b: drop delete markers that aren't the last remaining row.
		var stillKeep []dstdb.Item
		for _, row := range keepGroup[:len(keepGroup)-1] {
			if row.Size < 0 {
				addDel(Candidate{RPath: row.RPath, Size: row.Size})
			} else {
				stillKeep = append(stillKeep, row)
			}
		}
		stillKeep = append(stillKeep, keepGroup[len(keepGroup)-1])

		// 2c: a single remaining delete marker with nothing left to
		// hide gets deleted too.
		if len(stillKeep) > 1 {
			continue
		}
		last := stillKeep[0]
		if last.Size < 0 {
			addDel(Candidate{RPath: last.RPath, Size: last.Size})
		}
	}

	out := make([]Candidate, 0, len(delSeen))
	for _, c := range delSeen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RPath < out[j].RPath })
	return out
}

// TotalSize sums the size of every non-delete-marker candidate, for
// reporting.
func TotalSize(candidates []Candidate) int64 {
	var total int64
	for _, c := range candidates {
		if c.Size >= 0 {
			total += c.Size
		}
	}
	return total
}

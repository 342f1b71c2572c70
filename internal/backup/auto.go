package backup

import (
	"time"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/compare"
)

// resolveCompare turns a configured "auto"/"mtime"/"size"/"hash" string
// into a concrete compare.Attrib, using feat to decide what "auto"
// means (spec.md §4.5): mtime if the remote reports a modtime
// precision of one second or finer and non-slow modtimes, else size.
func resolveCompare(val string, feat backend.Features) compare.Attrib {
	switch val {
	case "mtime":
		return compare.AttribMtime
	case "hash":
		return compare.AttribHash
	case "size":
		return compare.AttribSize
	default: // "auto"
		if feat.Precision <= time.Second && !feat.SlowModTime {
			return compare.AttribMtime
		}
		return compare.AttribSize
	}
}

// resolveDstCompare resolves dst_compare, which additionally downgrades
// to size whenever the resolved src-to-src compare attribute is itself
// size (spec.md §4.5: "dst_compare additionally downgrades to size if
// compare == size").
func resolveDstCompare(val string, resolvedCompare compare.Attrib, feat backend.Features) compare.Attrib {
	if resolvedCompare == compare.AttribSize {
		return compare.AttribSize
	}
	return resolveCompare(val, feat)
}

// resolveRenames resolves the renames/dst_renames config string to a
// compare.Attrib, or "" if rename tracking is disabled for this side
// ("false" or empty string, per config.Defaults/allowedRenames).
func resolveRenames(val string, feat backend.Features) compare.Attrib {
	if val == "" || val == "false" {
		return ""
	}
	return resolveCompare(val, feat)
}

// resolveModtime decides whether the source listing needs to request
// mtimes at all, given get_modtime and whatever compare/rename
// attributes ultimately need it (mirrors list_src's `modtime` bool).
func resolveModtime(getModtime string, needed bool) bool {
	switch getModtime {
	case "true":
		return true
	case "false":
		return false
	default: // "auto"
		return needed
	}
}

// Package pathcodec implements the apath<->rpath naming grammar from
// spec.md §4.2/§6.1, grounded on
// original_source/dfb/dstdb.py (apath2rpath, rpath2apath).
package pathcodec

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// ErrNoTimestampInName is returned by RpathToApath when rpath has no
// embedded 14-digit timestamp segment (spec.md §7 "Name-format" error
// kind).
var ErrNoTimestampInName = errors.New("pathcodec: no timestamp in name")

// FlagNone, FlagDelete, FlagRef are the one-letter flags that may follow
// the embedded timestamp in a real path (spec.md §6.1).
const (
	FlagNone   byte = 0
	FlagDelete byte = 'D'
	FlagRef    byte = 'R'
)

const compactLayout = "20060102150405"

var tsSegRe = regexp.MustCompile(`^(\d{14})([DR]?)$`)

// ApathToRpath converts an apparent path plus a timestamp (and optional
// flag) into its real, destination-stored name.
func ApathToRpath(apath string, ts time.Time, flag byte) string {
	dir, base := path.Split(apath)
	stem, ext := splitExt(base)

	var flagStr string
	if flag != FlagNone {
		flagStr = string(flag)
	}

	newBase := fmt.Sprintf("%s.%s%s%s", stem, ts.UTC().Format(compactLayout), flagStr, ext)
	return path.Join(dir, newBase)
}

// RpathToApath recovers the apparent path, embedded timestamp, and flag
// from a real path. It is purely syntactic (spec.md §6.1) and is robust
// to names containing more than one historical-looking timestamp
// segment: it always picks the rightmost one.
func RpathToApath(rpath string) (apath string, ts time.Time, flag byte, err error) {
	dir, base := path.Split(rpath)

	dot := ""
	rest := base
	if strings.HasPrefix(rest, ".") {
		dot = "."
		rest = rest[1:]
	}

	parts := strings.Split(rest, ".")

	idx := -1
	var m []string
	for i := len(parts) - 1; i >= 0; i-- {
		if cand := tsSegRe.FindStringSubmatch(parts[i]); cand != nil {
			idx = i
			m = cand
			break
		}
	}
	if idx < 0 {
		return "", time.Time{}, FlagNone, fmt.Errorf("%w: %q", ErrNoTimestampInName, rpath)
	}

	t, parseErr := time.ParseInLocation(compactLayout, m[1], time.UTC)
	if parseErr != nil {
		return "", time.Time{}, FlagNone, fmt.Errorf("pathcodec: invalid timestamp in %q: %w", rpath, parseErr)
	}

	stemParts := parts[:idx]
	extParts := parts[idx+1:]

	name := dot + strings.Join(stemParts, ".")
	if len(extParts) > 0 {
		name += "." + strings.Join(extParts, ".")
	}

	var fl byte = FlagNone
	if m[2] != "" {
		fl = m[2][0]
	}

	return path.Join(dir, name), t, fl, nil
}

// splitExt implements the "smart split" from spec.md §4.2: a trailing
// chain of short (<=5 char) alphanumeric dot-segments is treated as a
// compound extension (e.g. ".tar.gz"); a single leading dot is kept as
// part of the stem rather than being mistaken for an extension
// separator.
func splitExt(base string) (stem, ext string) {
	dot := ""
	rest := base
	if strings.HasPrefix(rest, ".") {
		dot = "."
		rest = rest[1:]
	}

	parts := strings.Split(rest, ".")
	if len(parts) == 1 {
		return dot + rest, ""
	}

	// Never consume parts[0]: the stem must retain at least one segment.
	extStart := len(parts)
	for i := len(parts) - 1; i >= 1; i-- {
		if !isExtSeg(parts[i]) {
			break
		}
		extStart = i
	}

	stem = dot + strings.Join(parts[:extStart], ".")
	if extStart < len(parts) {
		ext = "." + strings.Join(parts[extStart:], ".")
	}
	return stem, ext
}

func isExtSeg(s string) bool {
	if len(s) < 1 || len(s) > 5 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// Package tstamp implements the timestamp codec from spec.md §4.1/§6.1:
// parsing ISO-8601-ish strings, epoch-prefixed strings, and relative
// deltas, and producing the four canonical representations used
// throughout the rest of the engine. Grounded on
// original_source/dfb/timestamps.py (iso8601_parser, timedelta_parser).
package tstamp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Compact is the 14-digit YYYYMMDDHHMMSS layout embedded in real paths.
const Compact = "20060102150405"

// Now bundles the four canonical representations of an instant used by
// the rest of the engine: epoch seconds, the compact UTC string embedded
// in real paths, the aware UTC time.Time, and a human-readable local
// display string.
type Now struct {
	Epoch   int64
	Compact string
	Time    time.Time
	Display string
}

// FromTime derives the four canonical representations of t.
func FromTime(t time.Time) Now {
	utc := t.UTC()
	return Now{
		Epoch:   utc.Unix(),
		Compact: utc.Format(Compact),
		Time:    utc,
		Display: t.Local().Format("2006-01-02 15:04:05 MST"),
	}
}

// Aware controls how a naive (timezone-less) input is interpreted.
type Aware int

const (
	// AwareLocal treats a naive timestamp as being in the process's
	// local timezone (the default, matching aware=True in the source).
	AwareLocal Aware = iota
	// AwareUTC treats a naive timestamp as already being UTC.
	AwareUTC
)

var unitOrder = []string{"seconds", "minutes", "hours", "days", "weeks"}

var unitRe = map[string]*regexp.Regexp{
	"seconds": regexp.MustCompile(`([\d.]+)\s*seconds?`),
	"minutes": regexp.MustCompile(`([\d.]+)\s*minutes?`),
	"hours":   regexp.MustCompile(`([\d.]+)\s*hours?`),
	"days":    regexp.MustCompile(`([\d.]+)\s*days?`),
	"weeks":   regexp.MustCompile(`([\d.]+)\s*weeks?`),
}

// parseDelta recognizes a relative-delta string of the form
// "N unit [N unit...]" (order independent, unit in {seconds, minutes,
// hours, days, weeks}) and returns the accumulated duration. ok is false
// if no recognized unit is present, in which case s is not a delta.
func parseDelta(s string) (d time.Duration, ok bool) {
	lowered := strings.ToLower(strings.ReplaceAll(s, ",", " "))
	for _, unit := range unitOrder {
		singular := strings.TrimSuffix(unit, "s")
		if !strings.Contains(lowered, singular) {
			continue
		}
		m := unitRe[unit].FindStringSubmatch(lowered)
		if m == nil {
			continue
		}
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		ok = true
		switch unit {
		case "seconds":
			d += time.Duration(val * float64(time.Second))
		case "minutes":
			d += time.Duration(val * float64(time.Minute))
		case "hours":
			d += time.Duration(val * float64(time.Hour))
		case "days":
			d += time.Duration(val * 24 * float64(time.Hour))
		case "weeks":
			d += time.Duration(val * 7 * 24 * float64(time.Hour))
		}
	}
	return d, ok
}

// Options controls Parse's interpretation of a naive (timezone-less)
// timestamp and the representation of its result.
type Options struct {
	// Now is used as the reference instant for relative deltas and must
	// be supplied by the caller; Parse never reads the system clock.
	Now time.Time
	// Aware selects how a timezone-less input is interpreted.
	Aware Aware
	// UTC, if true, normalizes the output to UTC regardless of the
	// timestamp's original zone.
	UTC bool
}

// Parse implements the full timestamp grammar from spec.md §4.1: a
// relative delta ("3 days 2 hours"), an epoch value prefixed with "u" or
// "i", or an ISO-8601-ish string (optional T, dashes, colons, dots,
// subsecond precision, and a timezone of Z/±HH/±HH:MM).
func Parse(s string, opts Options) (time.Time, error) {
	if d, ok := parseDelta(s); ok {
		return opts.apply(opts.Now.Add(-d)), nil
	}
	return parseISO8601(s, opts)
}

// ParseEpoch is a convenience wrapper returning epoch seconds, the most
// common call shape in the original (aware=true, epoch=true).
func ParseEpoch(s string, now time.Time) (int64, error) {
	t, err := Parse(s, Options{Now: now, Aware: AwareLocal, UTC: true})
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

func (o Options) apply(t time.Time) time.Time {
	if o.UTC {
		return t.UTC()
	}
	return t
}

func parseISO8601(s string, opts Options) (time.Time, error) {
	orig := s
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("tstamp: empty timestamp")
	}

	if strings.HasPrefix(trimmed, "u") || strings.HasPrefix(trimmed, "i") {
		f, err := strconv.ParseFloat(trimmed[1:], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("tstamp: invalid epoch value %q: %w", orig, err)
		}
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return opts.apply(time.Unix(sec, nsec).UTC()), nil
	}

	digits := 0
	for _, c := range trimmed {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	if digits <= 6 {
		return time.Time{}, fmt.Errorf(
			"tstamp: must have at least a four digit year, two digit month, and two digit day. specified: %q", orig)
	}
	if digits == 8 {
		trimmed += " 00:00:00"
	}

	work := strings.ToLower(trimmed)
	work = strings.ReplaceAll(work, ":", "")
	work = strings.ReplaceAll(work, "t", "")

	var tz string
	switch {
	case strings.HasSuffix(work, "z"):
		tz = "+0000"
		work = work[:len(work)-1]
	case len(work) >= 5 && (work[len(work)-5] == '-' || work[len(work)-5] == '+'):
		tz = work[len(work)-5:]
		work = work[:len(work)-5]
	case len(work) >= 3 && (work[len(work)-3] == '-' || work[len(work)-3] == '+'):
		tz = work[len(work)-3:] + "00"
		work = work[:len(work)-3]
	}

	var clean strings.Builder
	for _, c := range work {
		if (c >= '0' && c <= '9') || c == '.' {
			clean.WriteRune(c)
		}
	}
	work = clean.String()

	parts := strings.SplitN(work, ".", 2)
	var micros int
	intPart := parts[0]
	if len(intPart) < 14 {
		intPart += strings.Repeat("0", 14-len(intPart))
	}
	if len(parts) == 2 {
		fracF, err := strconv.ParseFloat("."+parts[1], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("tstamp: invalid fractional seconds in %q: %w", orig, err)
		}
		micros = int(fracF*1e6 + 0.5)
	}

	full := fmt.Sprintf("%s.%06d", intPart, micros)

	var t time.Time
	var err error
	if tz != "" {
		t, err = time.Parse("20060102150405.000000-0700", full+tz)
	} else {
		loc := time.UTC
		if opts.Aware == AwareLocal {
			loc = time.Local
		}
		t, err = time.ParseInLocation("20060102150405.000000", full, loc)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("tstamp: could not parse %q: %w", orig, err)
	}

	return opts.apply(t), nil
}

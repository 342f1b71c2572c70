// Package dfberr defines the explicit, typed error result variants used
// throughout the engine in place of ad-hoc exceptions (spec.md §9 design
// note, §7 error handling design).
package dfberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for exit-code mapping and operator-facing
// reporting.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindUsage
	KindNameFormat
	KindTransfer
	KindHashCompat
	KindReferenceMissing
	KindBackendFatal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindUsage:
		return "usage"
	case KindNameFormat:
		return "name-format"
	case KindTransfer:
		return "transfer"
	case KindHashCompat:
		return "hash-compat"
	case KindReferenceMissing:
		return "reference-missing"
	case KindBackendFatal:
		return "backend-fatal"
	default:
		return "unknown"
	}
}

// ExitCode returns the process exit code the CLI should use for a
// top-level failure of this kind: 2 for usage and configuration
// errors, 1 for every runtime error.
func (k Kind) ExitCode() int {
	switch k {
	case KindConfig, KindUsage:
		return 2
	default:
		return 1
	}
}

// Error is a typed result variant: a kind plus a wrapped cause and
// optional item context (an apath or rpath the failure pertains to).
type Error struct {
	Kind Kind
	Item string
	Err  error
}

func (e *Error) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Item, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, item string, err error) *Error {
	return &Error{Kind: k, Item: item, Err: err}
}

// Config reports a malformed or missing configuration value.
func Config(err error) error { return newErr(KindConfig, "", err) }

// Usage reports an invalid CLI invocation.
func Usage(err error) error { return newErr(KindUsage, "", err) }

// NameFormat reports a real path that does not match the rpath grammar.
func NameFormat(item string, err error) error { return newErr(KindNameFormat, item, err) }

// Transfer reports a recoverable per-item transfer failure. Callers
// collect these and continue the run; they never abort a backup.
func Transfer(item string, err error) error { return newErr(KindTransfer, item, err) }

// HashCompat reports that source and destination share no hash type in
// common for an item under error_on_missing_hash.
func HashCompat(item string, err error) error { return newErr(KindHashCompat, item, err) }

// ReferenceMissing reports a reference sidecar whose target rpath is
// absent from the snapshot DB.
func ReferenceMissing(item string, err error) error { return newErr(KindReferenceMissing, item, err) }

// BackendFatal reports a backend-adapter failure severe enough to abort
// the run (e.g. the control process could not be reached).
func BackendFatal(err error) error { return newErr(KindBackendFatal, "", err) }

// As is a thin wrapper around errors.As for *Error, used by callers that
// need to branch on Kind.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

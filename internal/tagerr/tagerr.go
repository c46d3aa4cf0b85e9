// Package tagerr implements the error taxonomy from spec.md §7: every
// error that crosses a component boundary carries a Kind so the
// orchestrator and the retry policy can decide retry vs. skip-file vs.
// abort without sniffing error strings.
package tagerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the retry/abort decision in §4.G.
type Kind int

const (
	// KindUnknown is the zero value; errors without an explicit Kind
	// are treated as Fatal by the retry policy.
	KindUnknown Kind = iota
	// KindConfig covers malformed or missing configuration.
	KindConfig
	// KindAuth covers a 401 from the remote.
	KindAuth
	// KindNetworkTimeout covers a request that timed out.
	KindNetworkTimeout
	// KindNetworkStatus covers an unexpected HTTP status code.
	KindNetworkStatus
	// KindParse covers XML/JSON/snapshot deserialization failures.
	KindParse
	// KindFilesystemIO covers a transient local I/O failure.
	KindFilesystemIO
	// KindFilesystemNotAFile covers an operation attempted on a
	// non-regular file.
	KindFilesystemNotAFile
	// KindAttributeUnsupported covers a filesystem that does not
	// support extended attributes at all.
	KindAttributeUnsupported
	// KindTagValidation covers a tag name outside the allowed
	// alphabet.
	KindTagValidation
	// KindPathMapping covers a path that matches no configured
	// prefix pair, or overlapping prefix pairs at construction.
	KindPathMapping
	// KindTagConflict covers a tag-creation 409 that a TagIndex
	// rebuild-and-retry (spec.md §4.C op 4) could not resolve. It
	// only ever affects the one tag/file in flight, not the run.
	KindTagConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindNetworkTimeout:
		return "network.timeout"
	case KindNetworkStatus:
		return "network.status"
	case KindParse:
		return "parse"
	case KindFilesystemIO:
		return "filesystem.io"
	case KindFilesystemNotAFile:
		return "filesystem.not_a_file"
	case KindAttributeUnsupported:
		return "filesystem.attribute_unsupported"
	case KindTagValidation:
		return "tag_validation"
	case KindPathMapping:
		return "path_mapping"
	case KindTagConflict:
		return "tag_conflict"
	default:
		return "unknown"
	}
}

// Severity is the coarse bucket §4.G dispatches on: Transient,
// Permanent-ForFile or Fatal.
type Severity int

const (
	// SeverityFatal aborts the run without writing a snapshot.
	SeverityFatal Severity = iota
	// SeverityTransient is retried with bounded backoff.
	SeverityTransient
	// SeverityPerFile skips the one file and records a per-file
	// error; the file keeps its prior snapshot entry.
	SeverityPerFile
)

// Severity maps a Kind to the bucket that §4.G assigns it by default.
// StatusCode-dependent kinds (KindNetworkStatus) are refined by the
// retry package, which has the actual HTTP status in hand.
func (k Kind) Severity() Severity {
	switch k {
	case KindNetworkTimeout:
		return SeverityTransient
	case KindFilesystemIO:
		return SeverityTransient
	case KindAuth, KindConfig, KindAttributeUnsupported, KindPathMapping, KindParse:
		return SeverityFatal
	case KindFilesystemNotAFile, KindTagValidation, KindTagConflict:
		return SeverityPerFile
	default:
		return SeverityFatal
	}
}

// Error is the concrete error type threaded through the engine. It
// wraps an underlying cause (via github.com/pkg/errors, the teacher's
// error-wrapping dependency) with a Kind and an optional Path for
// per-file reporting.
type Error struct {
	Kind Kind
	Path string
	err  error
}

// New builds an Error of the given kind wrapping msg.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, err: errors.New(msg)}
}

// Wrap builds an Error of the given kind wrapping cause with msg
// context, or returns nil if cause is nil.
func Wrap(cause error, kind Kind, msg string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, err: errors.Wrap(cause, msg)}
}

// WithPath attaches a file path to the error for per-file reporting.
func (e *Error) WithPath(path string) *Error {
	if e == nil {
		return nil
	}
	e.Path = path
	return e
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Path, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.err)
}

// Unwrap exposes the wrapped cause for errors.Is/As and for
// github.com/pkg/errors.Cause.
func (e *Error) Unwrap() error { return e.err }

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// defaulting to KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

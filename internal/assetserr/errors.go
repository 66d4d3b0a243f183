// Package assetserr defines the typed error taxonomy shared by the
// vfs, store, compiler and workpool packages. A single Error carries
// the context a caller needs to decide whether to retry, install a
// change-triggered retry via its DepVal, or surface the failure to a
// user.
package assetserr

import (
	"fmt"

	"github.com/standardbeagle/forgecache/internal/depval"
)

// Kind categorizes a failure for programmatic handling (logging, retry
// policy, exit codes).
type Kind int

const (
	KindIO Kind = iota
	KindConstructionError
	KindExclusiveLock
	KindMissingBackend
	KindStaleReference
	KindCompilerShutdown
	KindUnknownException
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindConstructionError:
		return "construction-error"
	case KindExclusiveLock:
		return "exclusive-lock"
	case KindMissingBackend:
		return "missing-backend"
	case KindStaleReference:
		return "stale-reference"
	case KindCompilerShutdown:
		return "compiler-shutdown"
	case KindUnknownException:
		return "unknown-exception"
	default:
		return "unknown"
	}
}

// ConstructionSubkind refines a KindConstructionError failure.
type ConstructionSubkind int

const (
	ConstructionUnknown ConstructionSubkind = iota
	ConstructionMissingFile
	ConstructionUnsupportedVersion
	ConstructionFormatError
)

func (s ConstructionSubkind) String() string {
	switch s {
	case ConstructionMissingFile:
		return "missing-file"
	case ConstructionUnsupportedVersion:
		return "unsupported-version"
	case ConstructionFormatError:
		return "format-error"
	default:
		return "unknown"
	}
}

// Error is the single error type covering every taxonomy member. Op
// and Path describe where the failure happened; DepVal, when Valid,
// lets a caller install a change monitor and retry once the
// dependency set it covers changes rather than failing permanently.
type Error struct {
	Kind        Kind
	Subkind     ConstructionSubkind // meaningful only when Kind == KindConstructionError
	Op          string
	Path        string
	DepVal      depval.Handle
	Err         error
	Recoverable bool
}

// New builds an Error of the given kind wrapping err. op is a short
// verb describing the operation that failed (e.g. "open",
// "resolve-requests", "deregister").
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var detail string
	switch e.Kind {
	case KindConstructionError:
		detail = fmt.Sprintf("%s (%s)", e.Kind, e.Subkind)
	default:
		detail = e.Kind.String()
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", detail, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %q: %v", detail, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WithPath records the filesystem path, store entry name or archive
// entry ID the failure concerns.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithDepVal attaches the DepVal a caller should monitor before
// retrying. Only meaningful when h.Valid().
func (e *Error) WithDepVal(h depval.Handle) *Error {
	e.DepVal = h
	return e
}

// WithRecoverable marks whether the caller should retry (e.g. a
// transient sharing violation, or one of ExclusiveLock's bounded
// backoff attempts) rather than fail the build outright.
func (e *Error) WithRecoverable(v bool) *Error {
	e.Recoverable = v
	return e
}

// WithSubkind refines a KindConstructionError failure.
func (e *Error) WithSubkind(s ConstructionSubkind) *Error {
	e.Subkind = s
	return e
}

// MultiError aggregates independent failures from a fan-out operation
// (e.g. warming several archives, or compiling a batch of requests)
// into a single error value.
type MultiError struct {
	Errors []error
}

func (e *MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors occurred, first: %v", len(e.Errors), e.Errors[0])
	}
}

// Unwrap supports errors.Is/As traversal over every aggregated error
// (Go 1.20+ multi-error unwrap).
func (e *MultiError) Unwrap() []error { return e.Errors }

// Add appends err to the aggregate if non-nil, returning the receiver
// for chaining.
func (e *MultiError) Add(err error) *MultiError {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
	return e
}

// ErrOrNil returns nil if no errors were ever added, else the receiver.
func (e *MultiError) ErrOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

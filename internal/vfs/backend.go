// Package vfs implements the filesystem abstraction layer: a set of
// backends (OS-raw, memory-blob, packed-archive) unified by a
// prefix-indexed mounting tree, with an OS change monitor that feeds
// invalidations into a dependency-validation system.
package vfs

import (
	"io"

	"github.com/standardbeagle/forgecache/internal/depval"
)

// Snapshot and SnapshotState are re-exported from depval rather than
// redefined: a vfs.Snapshot is handed directly to depval.System without
// conversion, and depval cannot import vfs (vfs's change monitor calls
// into depval, so the dependency only runs one way).
type Snapshot = depval.Snapshot
type SnapshotState = depval.SnapshotState

const (
	StateMissing = depval.StateMissing
	StatePresent = depval.StatePresent
	StatePending = depval.StatePending
)

// TranslateResult is the outcome of asking a backend to resolve a name.
type TranslateResult int

const (
	Success TranslateResult = iota
	Pending
	Invalid
)

// Marker is an opaque, backend-assigned handle to a resolved name. Zero
// value is never valid; backends hand out their own marker universe.
type Marker interface {
	isMarker()
}

// FileDesc describes a resolved file without opening it.
type FileDesc struct {
	NaturalName string
	MountedName string
	Snapshot    Snapshot
	Size        int64
}

// Backend is the minimal filesystem primitive every mount implements.
type Backend interface {
	Translate(name string) (TranslateResult, Marker)
	Open(m Marker) (io.ReadCloser, error)
	Describe(m Marker) (FileDesc, error)

	// Monitor registers cb to be invoked whenever m's snapshot changes,
	// returning the snapshot observed at registration time.
	Monitor(m Marker, cb func(Snapshot)) (Snapshot, error)

	// FakeChange synthesizes a change notification for m, for tests
	// and for editor "mark dirty" actions.
	FakeChange(m Marker) error
}

// Searchable is implemented by backends that can enumerate their
// contents (OS-raw and packed-archive; not memory-blob, which is a flat
// static map with no directory concept).
type Searchable interface {
	Backend
	FindFiles(base, glob string) ([]string, error)
	FindSubdirs(base string) ([]string, error)
}

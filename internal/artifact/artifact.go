// Package artifact defines the compiled-output types produced by
// compiler backends and consumed by the store and dispatcher:
// Artifact, SerializedTarget, ArtifactCollection and the request/result
// shapes ResolveRequests operates on.
package artifact

import "github.com/standardbeagle/forgecache/internal/depval"

// Artifact is one named, typed, versioned binary blob produced by a
// compiler backend.
type Artifact struct {
	ChunkTypeCode uint64
	Version       uint32
	Name          string
	Payload       []byte
}

// State is an ArtifactCollection's asset-state.
type State int

const (
	StatePending State = iota
	StateReady
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// SerializedTarget is one output of a compile: a set of artifacts for
// a single target code, plus the DepVal handle covering every input
// the compile consulted.
type SerializedTarget struct {
	TargetCode uint64
	Artifacts  []Artifact
	DepVal     depval.Handle
}

// DataForm selects how ResolveRequests delivers a matched chunk's
// bytes, per §4.6.
type DataForm int

const (
	FormRawBytes DataForm = iota
	FormTypedBlock
	FormSharedBlob
	FormReopenableFile
	FormFilenameOnly
)

// Request is one entry of an ArtifactCollection.ResolveRequests call.
type Request struct {
	NameHint        string
	ChunkTypeCode   uint64
	ExpectedVersion uint32
	Form            DataForm
}

// Result is what one Request resolves to. Exactly one of the fields
// matching r.Form is populated; ReopenFile is non-nil only for
// FormReopenableFile.
type Result struct {
	Data       []byte // FormRawBytes, FormTypedBlock (fixed up), FormSharedBlob
	Filename   string // FormFilenameOnly
	ReopenFile func() (ReadSeekCloser, error)
}

// ReadSeekCloser is the minimal handle a reopenable-file result hands
// back to stream a large artifact without holding it resident.
type ReadSeekCloser interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

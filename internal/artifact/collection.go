package artifact

import (
	"fmt"
	"os"
	"sync"

	"github.com/standardbeagle/forgecache/internal/alloc"
	"github.com/standardbeagle/forgecache/internal/assetserr"
	"github.com/standardbeagle/forgecache/internal/depval"
)

// AnyVersion is the ExpectedVersion sentinel meaning "accept whatever
// version is stored" (the original's ~0u).
const AnyVersion uint32 = ^uint32(0)

// Collection is the closed sum type backing every ArtifactCollection
// in the system: an addressable bundle of artifacts plus validity and
// parameter metadata, the unit of caching (§4.6). It has exactly four
// implementations, matching spec.md §4.3's "in-memory blobs,
// chunk-file on disk, archive-cache entry, error-with-log-only".
type Collection interface {
	State() State
	DepVal() depval.Handle
	RequestParams() string
	ResolveRequests(reqs []Request) ([]Result, error)
}

var bufPool = alloc.NewSlabAllocatorWithDefaults[byte]()

// alignedCopy returns a fresh buffer holding a copy of src. Go's
// runtime allocator already returns slices aligned to at least the
// machine word size, so no manual alignment arithmetic is needed to
// satisfy §4.6's "8-byte alignment" requirement for raw/typed-block
// forms; the slab allocator is reused here purely to avoid a fresh GC
// allocation per resolved chunk, same as the teacher's pooled-buffer
// pattern elsewhere in this codebase.
func alignedCopy(src []byte) []byte {
	buf := bufPool.Get(len(src))
	buf = buf[:len(src)]
	copy(buf, src)
	return buf
}

// checkUniqueChunkCodes enforces that reqs names each chunk type code
// at most once: the original's std::find_if over the request set,
// throwing when a later request names a code an earlier one already
// claimed.
func checkUniqueChunkCodes(reqs []Request, handle depval.Handle) error {
	seen := make(map[uint64]int, len(reqs))
	for i, r := range reqs {
		if j, dup := seen[r.ChunkTypeCode]; dup {
			return assetserr.New(assetserr.KindConstructionError, "resolve-requests",
				fmt.Errorf("chunk type code %d requested more than once (indices %d and %d)", r.ChunkTypeCode, j, i)).
				WithSubkind(assetserr.ConstructionFormatError).WithDepVal(handle)
		}
		seen[r.ChunkTypeCode] = i
	}
	return nil
}

func resolveArtifacts(arts []Artifact, reqs []Request, reopen func(name string) (ReadSeekCloser, error), handle depval.Handle) ([]Result, error) {
	if err := checkUniqueChunkCodes(reqs, handle); err != nil {
		return nil, err
	}
	results := make([]Result, len(reqs))
	for i, r := range reqs {
		a, ok := findArtifact(arts, r)
		if !ok {
			return nil, assetserr.New(assetserr.KindConstructionError, "resolve-requests",
				fmt.Errorf("no chunk matching %s (type=%d)", r.NameHint, r.ChunkTypeCode)).
				WithSubkind(assetserr.ConstructionMissingFile).WithDepVal(handle)
		}
		if r.ExpectedVersion != AnyVersion && a.Version != r.ExpectedVersion {
			return nil, assetserr.New(assetserr.KindConstructionError, "resolve-requests",
				fmt.Errorf("chunk %s version mismatch: have %d, want %d", a.Name, a.Version, r.ExpectedVersion)).
				WithSubkind(assetserr.ConstructionUnsupportedVersion).WithDepVal(handle)
		}
		switch r.Form {
		case FormRawBytes:
			results[i] = Result{Data: alignedCopy(a.Payload)}
		case FormTypedBlock:
			results[i] = Result{Data: fixupTypedBlock(alignedCopy(a.Payload))}
		case FormSharedBlob:
			results[i] = Result{Data: a.Payload}
		case FormFilenameOnly:
			results[i] = Result{Filename: a.Name}
		case FormReopenableFile:
			if reopen == nil {
				return nil, fmt.Errorf("artifact: chunk %s has no reopenable backing", a.Name)
			}
			name := a.Name
			results[i] = Result{ReopenFile: func() (ReadSeekCloser, error) { return reopen(name) }}
		default:
			return nil, fmt.Errorf("artifact: unknown data form %d", r.Form)
		}
	}
	return results, nil
}

func findArtifact(arts []Artifact, r Request) (Artifact, bool) {
	for _, a := range arts {
		if a.ChunkTypeCode == r.ChunkTypeCode {
			return a, true
		}
	}
	return Artifact{}, false
}

// fixupTypedBlock is a no-op in this port: the original converts
// serialized pointer-offsets back to in-memory addresses, which has no
// analog for Go's garbage-collected, pointer-free byte payloads.
func fixupTypedBlock(data []byte) []byte { return data }

// BlobCollection holds artifacts entirely in memory, produced directly
// by a compile before (or instead of) being written to a store.
type BlobCollection struct {
	state   State
	handle  depval.Handle
	params  string
	mu      sync.RWMutex
	artifacts []Artifact
}

func NewBlobCollection(state State, handle depval.Handle, params string, artifacts []Artifact) *BlobCollection {
	return &BlobCollection{state: state, handle: handle, params: params, artifacts: artifacts}
}

func (c *BlobCollection) State() State            { return c.state }
func (c *BlobCollection) DepVal() depval.Handle    { return c.handle }
func (c *BlobCollection) RequestParams() string    { return c.params }
func (c *BlobCollection) ResolveRequests(reqs []Request) ([]Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return resolveArtifacts(c.artifacts, reqs, nil, c.handle)
}

// Artifacts exposes the raw artifact set, used when a caller needs to
// persist this collection to a store.
func (c *BlobCollection) Artifacts() []Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.artifacts
}

// ChunkFileCollection backs an entry in a loose-files cache: each
// chunk is a separate file on disk, read on demand by ResolveRequests.
type ChunkFileCollection struct {
	state   State
	handle  depval.Handle
	params  string
	dir     string
	files   map[uint64]string // chunk type code -> filename within dir
	version map[uint64]uint32
}

func NewChunkFileCollection(state State, handle depval.Handle, params, dir string, files map[uint64]string, versions map[uint64]uint32) *ChunkFileCollection {
	return &ChunkFileCollection{state: state, handle: handle, params: params, dir: dir, files: files, version: versions}
}

func (c *ChunkFileCollection) State() State         { return c.state }
func (c *ChunkFileCollection) DepVal() depval.Handle { return c.handle }
func (c *ChunkFileCollection) RequestParams() string { return c.params }

func (c *ChunkFileCollection) ResolveRequests(reqs []Request) ([]Result, error) {
	if err := checkUniqueChunkCodes(reqs, c.handle); err != nil {
		return nil, err
	}
	results := make([]Result, len(reqs))
	for i, r := range reqs {
		name, ok := c.files[r.ChunkTypeCode]
		if !ok {
			return nil, assetserr.New(assetserr.KindConstructionError, "resolve-requests",
				fmt.Errorf("chunk-file collection has no chunk type %d", r.ChunkTypeCode)).
				WithSubkind(assetserr.ConstructionMissingFile).WithDepVal(c.handle)
		}
		if v := c.version[r.ChunkTypeCode]; r.ExpectedVersion != AnyVersion && v != r.ExpectedVersion {
			return nil, assetserr.New(assetserr.KindConstructionError, "resolve-requests",
				fmt.Errorf("chunk %s version mismatch: have %d, want %d", name, v, r.ExpectedVersion)).
				WithSubkind(assetserr.ConstructionUnsupportedVersion).WithDepVal(c.handle)
		}
		path := c.dir + "/" + name
		switch r.Form {
		case FormFilenameOnly:
			results[i] = Result{Filename: path}
		case FormReopenableFile:
			results[i] = Result{ReopenFile: func() (ReadSeekCloser, error) { return os.Open(path) }}
		case FormRawBytes, FormTypedBlock, FormSharedBlob:
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("artifact: reading chunk file %s: %w", path, err)
			}
			if r.Form == FormTypedBlock {
				data = fixupTypedBlock(data)
			}
			results[i] = Result{Data: data}
		default:
			return nil, fmt.Errorf("artifact: unknown data form %d", r.Form)
		}
	}
	return results, nil
}

// ArchiveEntryCollection backs an entry read from an ArchiveCache. It
// captures the change id observed at open time so a subsequent commit
// to the same entry is detectable as a StaleReference (§4.4.2).
type ArchiveEntryCollection struct {
	state        State
	handle       depval.Handle
	params       string
	entryID      string
	loadedChange uint64
	isStale      func(entryID string, loadedChangeID uint64) bool
	readBlock    func(entryID string, chunkTypeCode uint64) ([]byte, uint32, string, error)
}

func NewArchiveEntryCollection(
	state State,
	handle depval.Handle,
	params, entryID string,
	loadedChange uint64,
	isStale func(entryID string, loadedChangeID uint64) bool,
	readBlock func(entryID string, chunkTypeCode uint64) ([]byte, uint32, string, error),
) *ArchiveEntryCollection {
	return &ArchiveEntryCollection{
		state: state, handle: handle, params: params, entryID: entryID,
		loadedChange: loadedChange, isStale: isStale, readBlock: readBlock,
	}
}

func (c *ArchiveEntryCollection) State() State         { return c.state }
func (c *ArchiveEntryCollection) DepVal() depval.Handle { return c.handle }
func (c *ArchiveEntryCollection) RequestParams() string { return c.params }

func (c *ArchiveEntryCollection) ResolveRequests(reqs []Request) ([]Result, error) {
	if c.isStale(c.entryID, c.loadedChange) {
		return nil, assetserr.New(assetserr.KindStaleReference, "resolve-requests",
			fmt.Errorf("stale archive reference for entry %q", c.entryID)).WithPath(c.entryID)
	}
	if err := checkUniqueChunkCodes(reqs, c.handle); err != nil {
		return nil, err
	}
	results := make([]Result, len(reqs))
	for i, r := range reqs {
		data, version, name, err := c.readBlock(c.entryID, r.ChunkTypeCode)
		if err != nil {
			return nil, err
		}
		if r.ExpectedVersion != AnyVersion && version != r.ExpectedVersion {
			return nil, assetserr.New(assetserr.KindConstructionError, "resolve-requests",
				fmt.Errorf("chunk %s version mismatch: have %d, want %d", name, version, r.ExpectedVersion)).
				WithSubkind(assetserr.ConstructionUnsupportedVersion).WithDepVal(c.handle)
		}
		switch r.Form {
		case FormFilenameOnly:
			results[i] = Result{Filename: name}
		case FormTypedBlock:
			results[i] = Result{Data: fixupTypedBlock(alignedCopy(data))}
		default:
			results[i] = Result{Data: alignedCopy(data)}
		}
	}
	return results, nil
}

// ErrorCollection is the CompilerExceptionArtifact of §4.5: a
// collection whose state is always Invalid and whose only resolvable
// chunk is a log blob, preserving error-surface behavior for clients
// that request the log chunk after a compile failure.
type ErrorCollection struct {
	handle       depval.Handle
	params       string
	logChunkCode uint64
	log          []byte
}

func NewErrorCollection(handle depval.Handle, params string, logChunkCode uint64, log []byte) *ErrorCollection {
	return &ErrorCollection{handle: handle, params: params, logChunkCode: logChunkCode, log: log}
}

func (c *ErrorCollection) State() State         { return StateInvalid }
func (c *ErrorCollection) DepVal() depval.Handle { return c.handle }
func (c *ErrorCollection) RequestParams() string { return c.params }

func (c *ErrorCollection) ResolveRequests(reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	for i, r := range reqs {
		if r.ChunkTypeCode != c.logChunkCode {
			return nil, fmt.Errorf("artifact: compile failed; only the log chunk (%d) is available, requested %d", c.logChunkCode, r.ChunkTypeCode)
		}
		results[i] = Result{Data: c.log}
	}
	return results, nil
}

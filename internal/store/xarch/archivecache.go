package xarch

import (
	"fmt"
	"os"
	"sync"

	"github.com/standardbeagle/forgecache/internal/alloc"
)

// ArtifactBlob is one chunk's payload plus the metadata the directory
// records alongside it.
type ArtifactBlob struct {
	ChunkTypeCode uint32
	Version       uint32
	Name          string
	Data          []byte
}

// PendingCommit is a buffered mutation awaiting FlushToDisk, per §4.4.2.
type PendingCommit struct {
	EntryID      string
	Description  string
	Invalid      bool
	Artifacts    []ArtifactBlob
	Dependencies []DependencyFile
}

// ArchiveCache holds many compiled-artifact entries in one data file
// plus a sidecar directory file. Commits are buffered in memory;
// FlushToDisk frees each rewritten entry's existing blocks in the
// in-file spanning heap, allocates fresh ones, writes payload bytes,
// and rewrites the directory.
//
// Grounded on original_source/Assets/ArchiveCache.h and XPak.cpp's
// FileCache spanning-heap pattern (§4.4.2); the in-file allocator is
// the same alloc.SpanHeap the XPAK resident cache uses (vfs.XPAK), one
// generic allocator serving both call sites as SPEC_FULL.md directs.
type ArchiveCache struct {
	mu        sync.Mutex
	dataPath  string
	dirPath   string
	dataFile  *os.File
	heap      *alloc.SpanHeap
	directory *Directory
	pending   []PendingCommit
	changeIDs map[string]uint64
	onFlush   []func()
}

// OpenArchiveCache opens (creating if absent) the data file at
// dataPath and loads its sidecar directory at dataPath+".dir".
func OpenArchiveCache(dataPath string) (*ArchiveCache, error) {
	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("xarch: opening data file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	dirPath := dataPath + ".dir"
	dir, err := LoadDirectory(dirPath)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("xarch: loading directory: %w", err)
	}

	ac := &ArchiveCache{
		dataPath:  dataPath,
		dirPath:   dirPath,
		dataFile:  f,
		directory: dir,
		changeIDs: make(map[string]uint64),
	}
	ac.heap = alloc.NewSpanHeap(info.Size(), func(newCapacity int64) error {
		return f.Truncate(newCapacity)
	})
	// Existing on-disk blocks occupy the early part of the address
	// space; reserve them so the heap never hands out an overlapping
	// span for a fresh write.
	ac.reserveExistingBlocksLocked()
	return ac, nil
}

func (ac *ArchiveCache) reserveExistingBlocksLocked() {
	for _, b := range ac.directory.Blocks {
		ac.heap.Reserve(alloc.Span{Offset: b.Offset, Length: b.Size})
	}
}

// Close releases the underlying data file handle.
func (ac *ArchiveCache) Close() error {
	return ac.dataFile.Close()
}

// Commit buffers a mutation and bumps the entry's change id
// immediately, so a collection reference issued before this call is
// recognized as stale even before the next flush, per §4.4.2's
// "TryOpenFromCache ... if changeId has advanced ... throws".
func (ac *ArchiveCache) Commit(c PendingCommit) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.pending = append(ac.pending, c)
	ac.changeIDs[c.EntryID]++
}

// OnFlush registers a callback invoked after every FlushToDisk.
func (ac *ArchiveCache) OnFlush(cb func()) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.onFlush = append(ac.onFlush, cb)
}

// FlushToDisk applies every buffered commit: for each affected entry,
// existing blocks are freed in the spanning heap, new blocks are
// allocated and written, and the directory is rewritten to disk.
func (ac *ArchiveCache) FlushToDisk() error {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if len(ac.pending) == 0 {
		return nil
	}

	byEntry := make(map[string]PendingCommit)
	order := make([]string, 0, len(ac.pending))
	for _, c := range ac.pending {
		if _, ok := byEntry[c.EntryID]; !ok {
			order = append(order, c.EntryID)
		}
		byEntry[c.EntryID] = c // last writer for an entry in this batch wins
	}

	for _, entryID := range order {
		c := byEntry[entryID]

		for _, b := range ac.directory.BlocksForEntry(entryID) {
			ac.heap.Free(alloc.Span{Offset: b.Offset, Length: b.Size})
		}
		ac.directory.RemoveEntry(entryID)

		for _, a := range c.Artifacts {
			span, err := ac.heap.Alloc(int64(len(a.Data)))
			if err != nil {
				return fmt.Errorf("xarch: allocating block for %s: %w", entryID, err)
			}
			if _, err := ac.dataFile.WriteAt(a.Data, span.Offset); err != nil {
				return fmt.Errorf("xarch: writing block for %s: %w", entryID, err)
			}
			ac.directory.Blocks = append(ac.directory.Blocks, BlockRecord{
				EntryID:       entryID,
				ChunkTypeCode: a.ChunkTypeCode,
				Version:       a.Version,
				Name:          a.Name,
				Offset:        span.Offset,
				Size:          span.Length,
			})
		}
		ac.directory.Collections = append(ac.directory.Collections, CollectionRecord{
			EntryID:     entryID,
			Description: c.Description,
			Invalid:     c.Invalid,
		})
		if len(c.Dependencies) > 0 {
			ac.directory.Dependencies = append(ac.directory.Dependencies, DependencyRecord{
				EntryID: entryID,
				Files:   c.Dependencies,
			})
		}
	}

	ac.pending = nil
	if err := ac.directory.Save(ac.dirPath); err != nil {
		return fmt.Errorf("xarch: saving directory: %w", err)
	}

	for _, cb := range ac.onFlush {
		cb()
	}
	return nil
}

// OpenResult is what TryOpenFromCache returns: the blocks recorded for
// an entry plus the change id observed at open time, so a caller can
// detect a subsequent commit invalidating the reference (§4.4.2's
// StaleReference).
type OpenResult struct {
	Blocks      []BlockRecord
	Description string
	Invalid     bool
	ChangeID    uint64
}

// TryOpenFromCache looks up entryID, preferring an in-memory pending
// commit (served before flush) over the on-disk directory.
func (ac *ArchiveCache) TryOpenFromCache(entryID string) (*OpenResult, bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	for i := len(ac.pending) - 1; i >= 0; i-- {
		c := ac.pending[i]
		if c.EntryID != entryID {
			continue
		}
		blocks := make([]BlockRecord, len(c.Artifacts))
		for j, a := range c.Artifacts {
			blocks[j] = BlockRecord{EntryID: entryID, ChunkTypeCode: a.ChunkTypeCode, Version: a.Version, Name: a.Name}
		}
		return &OpenResult{Blocks: blocks, Description: c.Description, Invalid: c.Invalid, ChangeID: ac.changeIDs[entryID]}, true
	}

	blocks := ac.directory.BlocksForEntry(entryID)
	if len(blocks) == 0 {
		return nil, false
	}
	var desc string
	var invalid bool
	for _, col := range ac.directory.Collections {
		if col.EntryID == entryID {
			desc = col.Description
			invalid = col.Invalid
			break
		}
	}
	return &OpenResult{Blocks: blocks, Description: desc, Invalid: invalid, ChangeID: ac.changeIDs[entryID]}, true
}

// ReadBlock reads a block's bytes from the data file. Blocks served
// from a pending (unflushed) commit should be read directly from the
// PendingCommit's in-memory ArtifactBlob instead — TryOpenFromCache's
// caller is expected to check for that case first.
func (ac *ArchiveCache) ReadBlock(b BlockRecord) ([]byte, error) {
	buf := make([]byte, b.Size)
	if _, err := ac.dataFile.ReadAt(buf, b.Offset); err != nil {
		return nil, fmt.Errorf("xarch: reading block %s: %w", b.Name, err)
	}
	return buf, nil
}

// DependenciesForEntry returns the dependency list recorded for
// entryID, preferring an unflushed pending commit over the on-disk
// directory.
func (ac *ArchiveCache) DependenciesForEntry(entryID string) []DependencyFile {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	for i := len(ac.pending) - 1; i >= 0; i-- {
		if ac.pending[i].EntryID == entryID {
			return ac.pending[i].Dependencies
		}
	}
	for _, d := range ac.directory.Dependencies {
		if d.EntryID == entryID {
			return d.Files
		}
	}
	return nil
}

// IsStale reports whether loadedChangeID is behind the entry's current
// change id — i.e. a commit happened after the caller's reference was
// issued.
func (ac *ArchiveCache) IsStale(entryID string, loadedChangeID uint64) bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.changeIDs[entryID] != loadedChangeID
}

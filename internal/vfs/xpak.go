package vfs

import (
	"bytes"
	"container/list"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/singleflight"

	"github.com/standardbeagle/forgecache/internal/alloc"
	"github.com/standardbeagle/forgecache/internal/assetserr"
	"github.com/standardbeagle/forgecache/internal/store/xarch"
)

type xpakMarker struct {
	nameHash uint64
	entry    xarch.FileEntry
}

func (xpakMarker) isMarker() {}

// residentCache bounds decompressed XPAK payload memory with an LRU
// eviction policy over byte ranges allocated from a single growable
// alloc.SpanHeap-backed buffer, the same generic free-list allocator
// the archive cache uses for its in-file heap (§4.2/§4.4.2 share one
// allocator). Concurrent requests for the same entry decompress once
// via singleflight.
type residentCache struct {
	mu       sync.Mutex
	buf      []byte
	heap     *alloc.SpanHeap
	maxBytes int64
	entries  map[uint64]alloc.Span
	lru      *list.List
	lruElem  map[uint64]*list.Element
	sf       singleflight.Group
}

const defaultPageSize = 1 << 20 // 1 MiB, matching the format's default page size

func newResidentCache(maxBytes int64) *residentCache {
	c := &residentCache{
		maxBytes: maxBytes,
		entries:  make(map[uint64]alloc.Span),
		lru:      list.New(),
		lruElem:  make(map[uint64]*list.Element),
	}
	c.heap = alloc.NewSpanHeap(0, func(newCapacity int64) error {
		grown := make([]byte, newCapacity)
		copy(grown, c.buf)
		c.buf = grown
		return nil
	})
	return c
}

func (c *residentCache) get(nameHash uint64, decompress func() ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	if span, ok := c.entries[nameHash]; ok {
		if el, ok := c.lruElem[nameHash]; ok {
			c.lru.MoveToFront(el)
		}
		data := append([]byte(nil), c.buf[span.Offset:span.End()]...)
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(nameHashKey(nameHash), func() (interface{}, error) {
		return decompress()
	})
	if err != nil {
		return nil, err
	}
	data := v.([]byte)

	c.mu.Lock()
	c.insertLocked(nameHash, data)
	c.mu.Unlock()

	return data, nil
}

func (c *residentCache) insertLocked(nameHash uint64, data []byte) {
	if _, ok := c.entries[nameHash]; ok {
		return
	}
	if c.maxBytes <= 0 {
		return
	}
	for c.heap.FreeBytes() < int64(len(data)) && c.lru.Len() > 0 && c.usedBytesLocked() >= c.maxBytes {
		c.evictOldestLocked()
	}
	span, err := c.heap.Alloc(int64(len(data)))
	if err != nil {
		return // best-effort cache; a failed insert just means a cache miss next time
	}
	copy(c.buf[span.Offset:span.End()], data)
	c.entries[nameHash] = span
	c.lruElem[nameHash] = c.lru.PushFront(nameHash)
}

func (c *residentCache) usedBytesLocked() int64 {
	return c.heap.Capacity() - c.heap.FreeBytes()
}

func (c *residentCache) evictOldestLocked() {
	el := c.lru.Back()
	if el == nil {
		return
	}
	nameHash := el.Value.(uint64)
	c.lru.Remove(el)
	delete(c.lruElem, nameHash)
	if span, ok := c.entries[nameHash]; ok {
		c.heap.Free(span)
		delete(c.entries, nameHash)
	}
}

func nameHashKey(h uint64) string {
	var b [8]byte
	for i := range b {
		b[i] = byte(h >> (8 * i))
	}
	return string(b[:])
}

// XPAK mounts a packed-archive file read-only, serving payloads through
// a bounded resident decompression cache.
type XPAK struct {
	reader *xarch.Reader
	cache  *residentCache
}

// OpenXPAK opens the archive at path with the given resident-cache
// byte budget (0 disables caching beyond in-flight dedup).
func OpenXPAK(path string, residentBytes int64) (*XPAK, error) {
	r, err := xarch.Open(path)
	if err != nil {
		return nil, err
	}
	return &XPAK{reader: r, cache: newResidentCache(residentBytes)}, nil
}

func (x *XPAK) Close() error { return x.reader.Close() }

func (x *XPAK) Translate(name string) (TranslateResult, Marker) {
	h := xarch.HashName(name)
	e, ok := x.reader.Lookup(h)
	if !ok {
		return Invalid, nil
	}
	return Success, xpakMarker{nameHash: h, entry: e}
}

func (x *XPAK) Open(m Marker) (io.ReadCloser, error) {
	xm, ok := m.(xpakMarker)
	if !ok {
		return nil, assetserr.New(assetserr.KindIO, "open", errors.New("xpak: marker from a different backend"))
	}
	data, err := x.cache.get(xm.nameHash, func() ([]byte, error) {
		return x.reader.ReadPayload(xm.entry)
	})
	if err != nil {
		return nil, assetserr.New(assetserr.KindIO, "open", err).WithPath(xm.entry.Name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (x *XPAK) Describe(m Marker) (FileDesc, error) {
	xm, ok := m.(xpakMarker)
	if !ok {
		return FileDesc{}, assetserr.New(assetserr.KindIO, "describe", errors.New("xpak: marker from a different backend"))
	}
	return FileDesc{
		NaturalName: xm.entry.Name,
		MountedName: xm.entry.Name,
		Snapshot:    Snapshot{State: StatePresent, ModTime: 0}, // archives are immutable once built
		Size:        int64(xm.entry.DecompressedSize),
	}, nil
}

// Monitor reports the (unchanging) snapshot; packed archives are
// immutable once mounted, so no real subscription is needed.
func (x *XPAK) Monitor(m Marker, cb func(Snapshot)) (Snapshot, error) {
	return x.Describe2Snapshot(m)
}

func (x *XPAK) Describe2Snapshot(m Marker) (Snapshot, error) {
	d, err := x.Describe(m)
	if err != nil {
		return Snapshot{}, err
	}
	return d.Snapshot, nil
}

// FakeChange is unsupported: archives don't change underneath a mount.
func (x *XPAK) FakeChange(m Marker) error {
	return errors.New("xpak: archives are immutable, FakeChange has no effect")
}

func (x *XPAK) FindFiles(base, glob string) ([]string, error) {
	var out []string
	for _, e := range x.reader.Entries() {
		if !strings.HasPrefix(e.Name, base) {
			continue
		}
		if matched, _ := doublestar.Match(glob, e.Name); matched {
			out = append(out, e.Name)
		}
	}
	return out, nil
}

func (x *XPAK) FindSubdirs(base string) ([]string, error) {
	return nil, nil
}

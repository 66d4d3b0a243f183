package vfs

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/standardbeagle/forgecache/internal/assetserr"
)

type memoryMarker struct {
	name string
}

func (memoryMarker) isMarker() {}

// Memory is a static map from normalized name to blob, used for
// synthetic fixtures in tests and for compile-time-embedded defaults.
// Snapshots report a fixed load-time modification stamp; FakeChange
// fabricates a change event for exercising the dependency-validation
// propagation path without touching a real filesystem.
type Memory struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	loadTime int64
	watchers map[string][]func(Snapshot)
	gen      map[string]int64 // per-name fake-change generation, folded into ModTime
}

// NewMemory constructs an empty memory backend. loadTimeUnixNano is the
// modification time reported for every entry until a FakeChange bumps
// it.
func NewMemory(loadTimeUnixNano int64) *Memory {
	return &Memory{
		blobs:    make(map[string][]byte),
		loadTime: loadTimeUnixNano,
		watchers: make(map[string][]func(Snapshot)),
		gen:      make(map[string]int64),
	}
}

// Put installs or replaces a blob and notifies any registered watchers.
func (b *Memory) Put(name string, data []byte) {
	b.mu.Lock()
	b.blobs[name] = data
	b.mu.Unlock()
	b.notify(name)
}

// Delete removes a blob and notifies watchers.
func (b *Memory) Delete(name string) {
	b.mu.Lock()
	delete(b.blobs, name)
	b.mu.Unlock()
	b.notify(name)
}

func (b *Memory) snapshotLocked(name string) Snapshot {
	if _, ok := b.blobs[name]; !ok {
		return Snapshot{State: StateMissing}
	}
	return Snapshot{State: StatePresent, ModTime: b.loadTime + b.gen[name]}
}

func (b *Memory) notify(name string) {
	b.mu.RLock()
	snap := b.snapshotLocked(name)
	cbs := append([]func(Snapshot){}, b.watchers[name]...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		cb(snap)
	}
}

func (b *Memory) Translate(name string) (TranslateResult, Marker) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.blobs[name]; !ok {
		return Invalid, nil
	}
	return Success, memoryMarker{name: name}
}

func (b *Memory) Open(m Marker) (io.ReadCloser, error) {
	mm, ok := m.(memoryMarker)
	if !ok {
		return nil, assetserr.New(assetserr.KindIO, "open", errors.New("memory: marker from a different backend"))
	}
	b.mu.RLock()
	data, ok := b.blobs[mm.name]
	b.mu.RUnlock()
	if !ok {
		return nil, assetserr.New(assetserr.KindIO, "open", errors.New("memory: blob no longer present")).WithPath(mm.name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Memory) Describe(m Marker) (FileDesc, error) {
	mm, ok := m.(memoryMarker)
	if !ok {
		return FileDesc{}, assetserr.New(assetserr.KindIO, "describe", errors.New("memory: marker from a different backend"))
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[mm.name]
	if !ok {
		return FileDesc{}, assetserr.New(assetserr.KindIO, "describe", errors.New("memory: blob no longer present")).WithPath(mm.name)
	}
	return FileDesc{
		NaturalName: mm.name,
		MountedName: mm.name,
		Snapshot:    b.snapshotLocked(mm.name),
		Size:        int64(len(data)),
	}, nil
}

func (b *Memory) Monitor(m Marker, cb func(Snapshot)) (Snapshot, error) {
	mm, ok := m.(memoryMarker)
	if !ok {
		return Snapshot{}, assetserr.New(assetserr.KindIO, "monitor", errors.New("memory: marker from a different backend"))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[mm.name] = append(b.watchers[mm.name], cb)
	return b.snapshotLocked(mm.name), nil
}

// FakeChange bumps name's synthetic modification time and notifies
// watchers, for tests that exercise dependency invalidation without a
// real filesystem.
func (b *Memory) FakeChange(m Marker) error {
	mm, ok := m.(memoryMarker)
	if !ok {
		return assetserr.New(assetserr.KindIO, "fake-change", errors.New("memory: marker from a different backend"))
	}
	b.mu.Lock()
	b.gen[mm.name]++
	b.mu.Unlock()
	b.notify(mm.name)
	return nil
}

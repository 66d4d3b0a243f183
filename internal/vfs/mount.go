package vfs

import (
	"strings"
	"sync"

	"github.com/standardbeagle/forgecache/internal/debug"
)

type mount struct {
	prefix  string
	backend Backend
	id      int
}

// MountingTree unifies many backends under one path namespace. Lookup
// enumerates every mount whose prefix matches, asking each backend in
// turn; the first success wins. Mount/unmount bumps a generation
// counter so in-flight enumerations notice they were invalidated and
// restart, matching §4.2.1's "tolerate concurrent mount/unmount by
// detecting invalidation and restarting".
type MountingTree struct {
	mu         sync.RWMutex
	mounts     []mount
	nextID     int
	generation int64
	defaultB   Backend
}

// NewMountingTree builds an empty tree. defaultBackend answers lookups
// that match no mount prefix (typically an OS-raw backend rooted at
// the project root).
func NewMountingTree(defaultBackend Backend) *MountingTree {
	return &MountingTree{defaultB: defaultBackend}
}

// Mount installs backend under prefix, returning a mount id usable
// with Unmount.
func (t *MountingTree) Mount(prefix string, backend Backend) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.mounts = append(t.mounts, mount{prefix: prefix, backend: backend, id: id})
	t.generation++
	debug.Log("vfs", "mounted backend at prefix %q (id %d)", prefix, id)
	return id
}

// Unmount removes a previously installed mount.
func (t *MountingTree) Unmount(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.mounts {
		if m.id == id {
			t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
			t.generation++
			debug.Log("vfs", "unmounted backend id %d", id)
			return
		}
	}
}

func (t *MountingTree) snapshotMounts() ([]mount, int64, Backend) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]mount, len(t.mounts))
	copy(out, t.mounts)
	return out, t.generation, t.defaultB
}

// Lookup resolves path against every matching mount (longest prefix
// first), restarting the scan if a concurrent mount/unmount changes
// the tree mid-enumeration.
func (t *MountingTree) Lookup(path string) (Backend, Marker, TranslateResult) {
	for {
		mounts, gen, def := t.snapshotMounts()
		sortByPrefixLengthDesc(mounts)

		result, b, m, restart := t.lookupOnce(mounts, gen, path)
		if restart {
			continue
		}
		if result == Success {
			return b, m, Success
		}
		if def != nil {
			if res, marker := def.Translate(path); res == Success {
				return def, marker, Success
			}
		}
		return nil, nil, Invalid
	}
}

func (t *MountingTree) lookupOnce(mounts []mount, gen int64, path string) (TranslateResult, Backend, Marker, bool) {
	for _, m := range mounts {
		if !strings.HasPrefix(path, m.prefix) {
			continue
		}
		rem := strings.TrimPrefix(path, m.prefix)
		rem = strings.TrimPrefix(rem, "/")

		t.mu.RLock()
		changed := t.generation != gen
		t.mu.RUnlock()
		if changed {
			return Invalid, nil, nil, true
		}

		if res, marker := m.backend.Translate(rem); res == Success {
			return Success, m.backend, marker, false
		}
	}
	return Invalid, nil, nil, false
}

func sortByPrefixLengthDesc(mounts []mount) {
	for i := 1; i < len(mounts); i++ {
		for j := i; j > 0 && len(mounts[j].prefix) > len(mounts[j-1].prefix); j-- {
			mounts[j], mounts[j-1] = mounts[j-1], mounts[j]
		}
	}
}

// MonitorAll fans a monitor registration out to every backend whose
// mount prefix matches path, so identical paths covered by multiple
// mounts all receive change events, per §4.2.1.
func (t *MountingTree) MonitorAll(path string, cb func(Snapshot)) []Snapshot {
	mounts, _, _ := t.snapshotMounts()
	var snaps []Snapshot
	for _, m := range mounts {
		if !strings.HasPrefix(path, m.prefix) {
			continue
		}
		rem := strings.TrimPrefix(strings.TrimPrefix(path, m.prefix), "/")
		if res, marker := m.backend.Translate(rem); res == Success {
			if snap, err := m.backend.Monitor(marker, cb); err == nil {
				snaps = append(snaps, snap)
			}
		}
	}
	return snaps
}

// FakeChangeAll mirrors MonitorAll for synthesized change events.
func (t *MountingTree) FakeChangeAll(path string) {
	mounts, _, _ := t.snapshotMounts()
	for _, m := range mounts {
		if !strings.HasPrefix(path, m.prefix) {
			continue
		}
		rem := strings.TrimPrefix(strings.TrimPrefix(path, m.prefix), "/")
		if res, marker := m.backend.Translate(rem); res == Success {
			_ = m.backend.FakeChange(marker)
		}
	}
}

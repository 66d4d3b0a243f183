// Package store implements the intermediates store (§4.4): the
// progressive (writable, versioned-directory), archived (read-only,
// packed-archive-backed) and in-memory-only implementations sharing
// one interface.
package store

import (
	"fmt"
	"sync"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/depval"
)

// Store is the shared interface spec.md §4.4 gives two (here three)
// implementations.
type Store interface {
	StoreCompileProducts(name, groupID string, artifacts []artifact.Artifact, state artifact.State, dep depval.Handle) (artifact.Collection, error)
	RetrieveCompileProducts(name, groupID string) (artifact.Collection, error)
	StoreCompileProductsArchive(archiveName, entryID, descriptiveName, groupID string, artifacts []artifact.Artifact, state artifact.State, dep depval.Handle) error
	RetrieveCompileProductsArchive(archiveName, entryID, groupID string) (artifact.Collection, error)
	RegisterCompileProductsGroup(shortName, compilerVersion string, enableArchive bool) (groupID string, err error)

	// Writable reports whether Store* calls can succeed at all, so a
	// caller can skip straight to compiling instead of attempting (and
	// always failing) a store write against a read-only archive.
	Writable() bool
}

// fingerprintGate enforces §4.4's per-hash-code read/write-reference
// exclusion: Retrieve takes a read-reference (rejected if a writer is
// in flight for the same fingerprint), Store takes a write-reference
// (rejected if any reader or writer is in flight). This stands in for
// the source's `shared_timed_mutex`-guarded group map plus per-asset
// reference counts.
type fingerprintGate struct {
	mu      sync.Mutex
	readers map[string]int
	writers map[string]bool
}

func newFingerprintGate() *fingerprintGate {
	return &fingerprintGate{readers: make(map[string]int), writers: make(map[string]bool)}
}

func (g *fingerprintGate) acquireRead(fp string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writers[fp] {
		return nil, fmt.Errorf("store: fingerprint %q has a writer in flight", fp)
	}
	g.readers[fp]++
	return func() {
		g.mu.Lock()
		g.readers[fp]--
		if g.readers[fp] <= 0 {
			delete(g.readers, fp)
		}
		g.mu.Unlock()
	}, nil
}

func (g *fingerprintGate) acquireWrite(fp string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writers[fp] {
		return nil, fmt.Errorf("store: fingerprint %q already has a writer in flight", fp)
	}
	if g.readers[fp] > 0 {
		return nil, fmt.Errorf("store: fingerprint %q has %d reader(s) in flight", fp, g.readers[fp])
	}
	g.writers[fp] = true
	return func() {
		g.mu.Lock()
		delete(g.writers, fp)
		g.mu.Unlock()
	}, nil
}

// Group is a registered compile-products group: a short name used as
// the store's directory/archive key, the compiler version it was
// registered with, and whether archive-cache mode is enabled for it.
// Groups are keyed by short name alone: registering the same short
// name with another compiler version joins the existing group, and the
// recorded version does not invalidate anything.
type Group struct {
	ID              string
	ShortName       string
	CompilerVersion string
	EnableArchive   bool
	refCount        int
}

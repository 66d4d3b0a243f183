package compiler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/standardbeagle/forgecache/internal/assetserr"
	"github.com/standardbeagle/forgecache/internal/depval"
	"github.com/standardbeagle/forgecache/internal/store"
	"github.com/standardbeagle/forgecache/internal/workpool"
)

// hashCombine folds h into seed the way boost::hash_combine does; used
// to build a fingerprint from an initializer-set hash and a target
// code without a second hash pass over the initializers themselves.
func hashCombine(seed, h uint64) uint64 {
	return seed ^ (h + 0x9e3779b97f4a7c15 + (seed << 6) + (seed >> 2))
}

func hashInitializers(initializers []string) uint64 {
	return xxhash.Sum64String(strings.Join(initializers, "\x00"))
}

// Fingerprint returns the H = HashCombine(initializers.hash(),
// targetCode) fingerprint spec.md §4.5 keys Prepare's marker cache by.
func Fingerprint(initializers []string, targetCode uint64) uint64 {
	return hashCombine(hashInitializers(initializers), targetCode)
}

// Dispatcher is the compiler registry's live counterpart: it resolves
// a (targetCode, initializers) request to a cached CompileMarker,
// dispatching uncached compiles onto a workpool.Pool and deduplicating
// concurrent requests for the same fingerprint through
// golang.org/x/sync/singleflight rather than hand-rolled future
// bookkeeping — the markers themselves are still cached, explicit,
// long-lived objects (held strongly until FlushCachedMarkers), grounded
// on the teacher's internal/core/index_state.go registry-of-handles
// pattern.
type Dispatcher struct {
	registry     *Registry
	store        store.Store
	pool         *workpool.Pool
	sys          *depval.System
	logChunkCode uint64

	mu      sync.Mutex
	markers map[uint64]*CompileMarker

	compileGroup singleflight.Group
}

// NewDispatcher builds a dispatcher. logChunkCode identifies the chunk
// type a CompilerExceptionArtifact's log blob is published under.
func NewDispatcher(registry *Registry, st store.Store, pool *workpool.Pool, sys *depval.System, logChunkCode uint64) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		store:        st,
		pool:         pool,
		sys:          sys,
		logChunkCode: logChunkCode,
		markers:      make(map[uint64]*CompileMarker),
	}
}

// Prepare resolves the association that would handle targetCode for
// initializers, returning a cached CompileMarker shared by every
// sibling target code the winning association also covers.
func (d *Dispatcher) Prepare(targetCode uint64, initializers []string) (*CompileMarker, error) {
	fp := Fingerprint(initializers, targetCode)

	d.mu.Lock()
	if m, ok := d.markers[fp]; ok {
		d.mu.Unlock()
		return m, nil
	}
	d.mu.Unlock()

	var first string
	if len(initializers) > 0 {
		first = initializers[0]
	}
	assoc, ok := d.registry.findAssociation(targetCode, first)
	if !ok {
		return nil, assetserr.New(assetserr.KindMissingBackend, "prepare",
			fmt.Errorf("no backend associated with target code %d for %q", targetCode, first))
	}
	backend, ok := d.registry.Backend(assoc.compilerID)
	if !ok {
		return nil, assetserr.New(assetserr.KindMissingBackend, "prepare",
			fmt.Errorf("association refers to unregistered backend %q", assoc.compilerID)).WithPath(assoc.compilerID)
	}

	m := newCompileMarker(d, backend, initializers)

	d.mu.Lock()
	for _, tc := range assoc.targetCodes {
		siblingFP := Fingerprint(initializers, tc)
		if existing, ok := d.markers[siblingFP]; ok {
			m = existing
			break
		}
	}
	for _, tc := range assoc.targetCodes {
		d.markers[Fingerprint(initializers, tc)] = m
	}
	d.mu.Unlock()

	return m, nil
}

// FlushCachedMarkers drops every cached marker, forcing the next
// Prepare call for any fingerprint to re-resolve its association.
func (d *Dispatcher) FlushCachedMarkers() {
	d.mu.Lock()
	d.markers = make(map[uint64]*CompileMarker)
	d.mu.Unlock()
}

// DeregisterCompiler removes compilerID from the registry, failing
// fast for new compiles the moment it's called and waiting for any
// already in-flight compile to finish before the backend is gone.
func (d *Dispatcher) DeregisterCompiler(compilerID string) error {
	return d.registry.Deregister(compilerID)
}

// HasAssociatedCompiler reports whether some registered backend would
// handle targetCode for an initializer set whose first entry is
// firstInitializer.
func (d *Dispatcher) HasAssociatedCompiler(targetCode uint64, firstInitializer string) bool {
	return d.registry.HasAssociatedCompiler(targetCode, firstInitializer)
}

// ExtensionsForTargetCode returns every file-picker extension
// registered by a backend associated with targetCode.
func (d *Dispatcher) ExtensionsForTargetCode(targetCode uint64) []ExtensionInfo {
	return d.registry.ExtensionsForTargetCode(targetCode)
}

// TargetCodesForExtension returns every target code associated with a
// backend that registered ext among its extensions.
func (d *Dispatcher) TargetCodesForExtension(ext string) []uint64 {
	return d.registry.TargetCodesForExtension(ext)
}

// Package compiler implements the compiler registry and dispatcher
// (§4.5): backend registration, target-code/glob association, and
// per-fingerprint compile-task dispatch and deduplication.
package compiler

import (
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/assetserr"
	"github.com/standardbeagle/forgecache/internal/depval"
)

// Version is a backend's semantic-version pair.
type Version struct {
	Major, Minor uint32
}

// CompileOperation is the opaque iterator over a compile's output
// targets a backend callback returns.
type CompileOperation interface {
	TargetCount() int
	TargetCode(i int) uint64
	SerializeTarget(i int) (artifact.SerializedTarget, error)
}

// OpContext is host-provided context passed to the context-aware
// compile callback shape; its shape is owned by the host, not this
// package.
type OpContext any

// Conduit is a bidirectional key-value channel passed alongside
// OpContext to the context-aware compile callback shape.
type Conduit interface {
	Send(key, value string)
	Receive() (key, value string, ok bool)
}

// CompileFunc is the plain callback shape.
type CompileFunc func(initializers []string) (CompileOperation, error)

// CompileFuncCtx is the host-context-aware callback shape.
type CompileFuncCtx func(initializers []string, opCtx OpContext, conduit Conduit) (CompileOperation, error)

// ArchiveNameFunc lets a backend elect archive storage for a given
// target code and initializer set; returning ok=false falls back to
// loose-files storage with a synthesized filename.
type ArchiveNameFunc func(targetCode uint64, initializers []string) (archiveName, entryID, descriptiveName string, ok bool)

// Backend is a registered compiler.
type Backend struct {
	ID          string
	DisplayName string
	ShortName   string // used as the store's group key
	Version     Version
	DepVal      depval.Handle // invalidates the group when the backend binary changes
	Compile     CompileFunc
	CompileCtx  CompileFuncCtx
	ArchiveName ArchiveNameFunc
}

type association struct {
	compilerID  string
	targetCodes []uint64
	glob        string
}

func (a association) matches(targetCode uint64, firstInitializer string) bool {
	found := false
	for _, tc := range a.targetCodes {
		if tc == targetCode {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	ok, err := doublestar.Match(a.glob, firstInitializer)
	return err == nil && ok
}

// backendLifecycle tracks one backend's shutdown protocol: a
// shuttingDown flag new compile tasks check before starting, and an
// active-operation counter Deregister waits to drain to zero before
// the backend is actually removed.
type backendLifecycle struct {
	mu           sync.Mutex
	cond         *sync.Cond
	shuttingDown bool
	active       int
}

func newBackendLifecycle() *backendLifecycle {
	l := &backendLifecycle{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Registry holds registered backends and their target-code
// associations.
type Registry struct {
	mu           sync.RWMutex
	backends     map[string]*Backend
	associations []association
	extensions   map[string][]string
	lifecycles   map[string]*backendLifecycle
}

func NewRegistry() *Registry {
	return &Registry{
		backends:   make(map[string]*Backend),
		extensions: make(map[string][]string),
		lifecycles: make(map[string]*backendLifecycle),
	}
}

// Register adds a backend. Re-registering the same ID replaces it.
func (r *Registry) Register(b Backend) error {
	if b.ID == "" {
		return fmt.Errorf("compiler: backend must have a non-empty ID")
	}
	if b.Compile == nil && b.CompileCtx == nil {
		return fmt.Errorf("compiler: backend %q registered with no compile callback", b.ID)
	}
	if b.DepVal == (depval.Handle{}) {
		// A caller that never set DepVal gets the zero Go value, not
		// depval.NoHandle — those are different markers (0 vs Invalid)
		// and treating the zero value as live would hand MakeOrReuse a
		// handle bound to no System. Normalize here rather than trust
		// every call site to remember depval.NoHandle.
		b.DepVal = depval.NoHandle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := b
	r.backends[b.ID] = &cp
	return nil
}

// Backend returns the registered backend by ID.
func (r *Registry) Backend(id string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// AssociateRequest registers that compilerID accepts targetCodes when
// the first initializer matches globPattern. Order matters: the first
// registered association whose targetCodes contain the requested code
// and whose pattern matches wins.
func (r *Registry) AssociateRequest(compilerID string, targetCodes []uint64, globPattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.associations = append(r.associations, association{compilerID: compilerID, targetCodes: targetCodes, glob: globPattern})
}

// AssociateExtensions records file-picker extensions for compilerID;
// purely informational, never consulted by dispatch logic.
func (r *Registry) AssociateExtensions(compilerID string, extensions []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions[compilerID] = append(r.extensions[compilerID], extensions...)
}

// Extensions returns the extensions recorded for compilerID.
func (r *Registry) Extensions(compilerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extensions[compilerID]
}

// findAssociation returns the first association (in registration
// order) whose target codes contain targetCode and whose glob matches
// firstInitializer.
func (r *Registry) findAssociation(targetCode uint64, firstInitializer string) (association, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.associations {
		if a.matches(targetCode, firstInitializer) {
			return a, true
		}
	}
	return association{}, false
}

// HasAssociatedCompiler reports whether some registered backend would
// handle targetCode for an initializer set whose first entry is
// firstInitializer.
func (r *Registry) HasAssociatedCompiler(targetCode uint64, firstInitializer string) bool {
	_, ok := r.findAssociation(targetCode, firstInitializer)
	return ok
}

// ExtensionInfo pairs a file-picker extension with the display name of
// the backend that registered it.
type ExtensionInfo struct {
	Ext         string
	DisplayName string
}

// ExtensionsForTargetCode returns every extension registered by a
// backend associated with targetCode.
func (r *Registry) ExtensionsForTargetCode(targetCode uint64) []ExtensionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ExtensionInfo
	seen := make(map[string]bool)
	for _, a := range r.associations {
		covers := false
		for _, tc := range a.targetCodes {
			if tc == targetCode {
				covers = true
				break
			}
		}
		if !covers {
			continue
		}
		var display string
		if b, ok := r.backends[a.compilerID]; ok {
			display = b.DisplayName
		}
		for _, ext := range r.extensions[a.compilerID] {
			key := a.compilerID + "\x00" + ext
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ExtensionInfo{Ext: ext, DisplayName: display})
		}
	}
	return out
}

// TargetCodesForExtension returns every target code associated with a
// backend that registered ext among its extensions.
func (r *Registry) TargetCodesForExtension(ext string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []uint64
	seen := make(map[uint64]bool)
	for compilerID, exts := range r.extensions {
		has := false
		for _, e := range exts {
			if e == ext {
				has = true
				break
			}
		}
		if !has {
			continue
		}
		for _, a := range r.associations {
			if a.compilerID != compilerID {
				continue
			}
			for _, tc := range a.targetCodes {
				if !seen[tc] {
					seen[tc] = true
					out = append(out, tc)
				}
			}
		}
	}
	return out
}

// lifecycleFor returns compilerID's lifecycle tracker, creating one on
// first use.
func (r *Registry) lifecycleFor(compilerID string) *backendLifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lifecycles[compilerID]
	if !ok {
		l = newBackendLifecycle()
		r.lifecycles[compilerID] = l
	}
	return l
}

// BeginOperation registers one in-flight compile task against
// compilerID, failing fast with a CompilerShutdown error if the
// backend is already deregistering. The returned end func must be
// called exactly once when the task (including any work dispatched
// onto the pool) finishes.
func (r *Registry) BeginOperation(compilerID string) (end func(), err error) {
	l := r.lifecycleFor(compilerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shuttingDown {
		return nil, assetserr.New(assetserr.KindCompilerShutdown, "begin-operation",
			fmt.Errorf("compiler %q is shutting down", compilerID)).WithPath(compilerID)
	}
	l.active++
	return func() {
		l.mu.Lock()
		l.active--
		if l.active == 0 {
			l.cond.Broadcast()
		}
		l.mu.Unlock()
	}, nil
}

// Deregister sets compilerID's shutdown flag so new operations fail
// fast, waits for every in-flight operation to finish, then removes
// the backend.
func (r *Registry) Deregister(compilerID string) error {
	r.mu.RLock()
	_, ok := r.backends[compilerID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("compiler: deregister: unknown backend %q", compilerID)
	}

	l := r.lifecycleFor(compilerID)
	l.mu.Lock()
	l.shuttingDown = true
	for l.active > 0 {
		l.cond.Wait()
	}
	l.mu.Unlock()

	// The lifecycle tracker outlives the backend entry: a marker cached
	// before deregistration still references compilerID by string and
	// must keep failing fast via BeginOperation rather than silently
	// recreating a fresh, non-shutting-down lifecycle on next use.
	r.mu.Lock()
	delete(r.backends, compilerID)
	r.mu.Unlock()
	return nil
}

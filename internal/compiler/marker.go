package compiler

import (
	"fmt"
	"sync"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/depval"
	"github.com/standardbeagle/forgecache/internal/workpool"
)

// CompileMarker is the cached result of resolving an association for
// one initializer set: the backend that will service it, and the
// in-flight/compiled results for each target code the association
// covers. One marker is shared by every sibling target code, per
// spec.md §4.5's "create CompileMarker cached under every fingerprint
// derived from the winning association's target codes".
type CompileMarker struct {
	dispatcher   *Dispatcher
	backend      *Backend
	initializers []string

	mu       sync.Mutex
	compiled map[uint64]artifact.Collection // targetCode -> last result, in-memory short-circuit
}

func newCompileMarker(d *Dispatcher, backend *Backend, initializers []string) *CompileMarker {
	return &CompileMarker{
		dispatcher:   d,
		backend:      backend,
		initializers: initializers,
		compiled:     make(map[uint64]artifact.Collection),
	}
}

func (m *CompileMarker) groupID() (string, error) {
	groupID, err := m.dispatcher.store.RegisterCompileProductsGroup(m.backend.ShortName, fmt.Sprintf("%d.%d", m.backend.Version.Major, m.backend.Version.Minor), m.backend.ArchiveName != nil)
	if err != nil {
		return "", fmt.Errorf("compiler: registering group for backend %q: %w", m.backend.ID, err)
	}
	return groupID, nil
}

func (m *CompileMarker) storeName(targetCode uint64) string {
	return fmt.Sprintf("%x-%x", hashInitializers(m.initializers), targetCode)
}

// tryStore attempts the store-lookup step of §4.5's GetArtifact flow:
// archive-name-or-synthesized-name route, DepVal-clean collections
// only. A nil, nil return means "not cached; compile it."
func (m *CompileMarker) tryStore(targetCode uint64) (artifact.Collection, error) {
	groupID, err := m.groupID()
	if err != nil {
		return nil, err
	}
	if m.backend.ArchiveName != nil {
		if an, eid, _, ok := m.backend.ArchiveName(targetCode, m.initializers); ok {
			coll, err := m.dispatcher.store.RetrieveCompileProductsArchive(an, eid, groupID)
			if err != nil {
				return nil, err
			}
			return coll, nil
		}
	}
	coll, err := m.dispatcher.store.RetrieveCompileProducts(m.storeName(targetCode), groupID)
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// GetArtifact implements spec.md §4.5's Marker.GetArtifact: an
// in-flight check (here, golang.org/x/sync/singleflight keyed by
// fingerprint), a store lookup, and — only on a miss — a thread-pool
// compile dispatch.
func (m *CompileMarker) GetArtifact(targetCode uint64, opCtx OpContext) (artifact.Collection, error) {
	m.mu.Lock()
	if c, ok := m.compiled[targetCode]; ok && !isStaleHandle(m.dispatcher.sys, c.DepVal()) {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	if coll, err := m.tryStore(targetCode); err != nil {
		return nil, err
	} else if coll != nil {
		m.mu.Lock()
		m.compiled[targetCode] = coll
		m.mu.Unlock()
		return coll, nil
	}

	key := fmt.Sprintf("%x", Fingerprint(m.initializers, targetCode))
	v, err, _ := m.dispatcher.compileGroup.Do(key, func() (any, error) {
		return m.runCompile(targetCode, opCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.(artifact.Collection), nil
}

func isStaleHandle(sys *depval.System, h depval.Handle) bool {
	if sys == nil || !h.Valid() {
		return false
	}
	return h.ValidationIndex() > 0
}

// runCompile dispatches the compile-task body onto the workpool and
// blocks the calling goroutine for its result. It registers itself
// against the backend's shutdown protocol first: a backend already
// deregistering fails this call fast with a CompilerShutdown error
// instead of enqueueing, while a task that got past this check holds
// the backend's active-operation count until compileAndStore returns,
// so Deregister blocks for exactly as long as in-flight compiles take.
// The task body itself follows §4.5's steps: invoke the backend,
// serialize every produced target, combine DepVal handles, write to
// the store (which "shadows" any earlier in-memory result), and
// return the collection for targetCode. Any failure collapses to a
// CompilerExceptionArtifact.
func (m *CompileMarker) runCompile(targetCode uint64, opCtx OpContext) (artifact.Collection, error) {
	end, err := m.dispatcher.registry.BeginOperation(m.backend.ID)
	if err != nil {
		return nil, err
	}
	defer end()

	type outcome struct {
		coll artifact.Collection
		err  error
	}
	done := make(chan outcome, 1)

	m.dispatcher.pool.Enqueue(func(tok *workpool.YieldToken) {
		coll, err := m.compileAndStore(targetCode, opCtx, tok)
		done <- outcome{coll, err}
	})

	o := <-done
	return o.coll, o.err
}

func (m *CompileMarker) compileAndStore(targetCode uint64, opCtx OpContext, tok *workpool.YieldToken) (result artifact.Collection, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = m.exceptionArtifact(targetCode, fmt.Sprintf("panic during compile: %v", r)), nil
		}
	}()

	op, cerr := m.invokeBackend(opCtx)
	if cerr != nil {
		return m.exceptionArtifact(targetCode, cerr.Error()), nil
	}

	results := make(map[uint64]artifact.Collection, op.TargetCount())
	for i := 0; i < op.TargetCount(); i++ {
		tc := op.TargetCode(i)
		st, serr := op.SerializeTarget(i)
		if serr != nil {
			errColl := m.exceptionArtifact(tc, serr.Error())
			m.publish(tc, errColl)
			results[tc] = errColl
			continue
		}
		stDep := st.DepVal
		if stDep == (depval.Handle{}) {
			stDep = depval.NoHandle
		}
		combined := m.dispatcher.sys.MakeOrReuse([]depval.Handle{m.backend.DepVal, stDep})
		coll, werr := m.writeToStore(tc, st, combined)
		if werr != nil {
			errColl := m.exceptionArtifact(tc, werr.Error())
			m.publish(tc, errColl)
			results[tc] = errColl
			continue
		}
		m.publish(tc, coll)
		results[tc] = coll
	}

	if c, ok := results[targetCode]; ok {
		return c, nil
	}
	return m.exceptionArtifact(targetCode, fmt.Sprintf("compile did not produce target code %d", targetCode)), nil
}

func (m *CompileMarker) invokeBackend(opCtx OpContext) (CompileOperation, error) {
	switch {
	case m.backend.CompileCtx != nil:
		return m.backend.CompileCtx(m.initializers, opCtx, nil)
	case m.backend.Compile != nil:
		return m.backend.Compile(m.initializers)
	default:
		return nil, fmt.Errorf("compiler: backend %q has no compile callback", m.backend.ID)
	}
}

func (m *CompileMarker) writeToStore(targetCode uint64, st artifact.SerializedTarget, dep depval.Handle) (artifact.Collection, error) {
	groupID, err := m.groupID()
	if err != nil {
		return nil, err
	}
	if !m.dispatcher.store.Writable() {
		return artifact.NewBlobCollection(artifact.StateReady, dep, m.storeName(targetCode), st.Artifacts), nil
	}
	if m.backend.ArchiveName != nil {
		if an, eid, desc, ok := m.backend.ArchiveName(targetCode, m.initializers); ok {
			if err := m.dispatcher.store.StoreCompileProductsArchive(an, eid, desc, groupID, st.Artifacts, artifact.StateReady, dep); err != nil {
				return nil, err
			}
			return m.dispatcher.store.RetrieveCompileProductsArchive(an, eid, groupID)
		}
	}
	return m.dispatcher.store.StoreCompileProducts(m.storeName(targetCode), groupID, st.Artifacts, artifact.StateReady, dep)
}

func (m *CompileMarker) publish(targetCode uint64, coll artifact.Collection) {
	m.mu.Lock()
	m.compiled[targetCode] = coll
	m.mu.Unlock()
}

// exceptionArtifact builds the CompilerExceptionArtifact of §4.5: an
// Invalid collection whose only resolvable chunk is a log blob.
func (m *CompileMarker) exceptionArtifact(targetCode uint64, message string) artifact.Collection {
	return artifact.NewErrorCollection(depval.NoHandle, m.storeName(targetCode), m.dispatcher.logChunkCode, []byte(message))
}

package compiler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/assetserr"
	"github.com/standardbeagle/forgecache/internal/depval"
	"github.com/standardbeagle/forgecache/internal/store"
	"github.com/standardbeagle/forgecache/internal/workpool"
)

const (
	targetBytecode uint64 = 1
	targetReflect  uint64 = 2
	chunkBytecode  uint64 = 100
	chunkLog       uint64 = 999
)

func newTestSystem() *depval.System {
	return depval.NewSystem(func(string) depval.Snapshot { return depval.Snapshot{State: depval.StateMissing} })
}

func echoBackend(calls *int32) Backend {
	return Backend{
		ID:          "echo",
		DisplayName: "Echo Compiler",
		ShortName:   "echo",
		Version:     Version{Major: 1, Minor: 0},
		Compile: func(initializers []string) (CompileOperation, error) {
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			return &fakeOperation{initializers: initializers, targetCodes: []uint64{targetBytecode}}, nil
		},
	}
}

type fakeOperation struct {
	initializers []string
	targetCodes  []uint64
	failIndex    int
	failErr      error
}

func (o *fakeOperation) TargetCount() int        { return len(o.targetCodes) }
func (o *fakeOperation) TargetCode(i int) uint64 { return o.targetCodes[i] }
func (o *fakeOperation) SerializeTarget(i int) (artifact.SerializedTarget, error) {
	if o.failErr != nil && i == o.failIndex {
		return artifact.SerializedTarget{}, o.failErr
	}
	return artifact.SerializedTarget{
		TargetCode: o.targetCodes[i],
		Artifacts: []artifact.Artifact{
			{ChunkTypeCode: chunkBytecode, Version: 1, Name: "out", Payload: []byte(fmt.Sprintf("%v", o.initializers))},
		},
		DepVal: depval.NoHandle,
	}, nil
}

func newHarness(t *testing.T, backend Backend) (*Dispatcher, *workpool.Pool) {
	t.Helper()
	sys := newTestSystem()
	st := store.NewMemoryStore()
	pool := workpool.New(2)
	t.Cleanup(pool.Stop)

	reg := NewRegistry()
	if err := reg.Register(backend); err != nil {
		t.Fatal(err)
	}
	reg.AssociateRequest(backend.ID, []uint64{targetBytecode, targetReflect}, "*.src")

	return NewDispatcher(reg, st, pool, sys, chunkLog), pool
}

func TestDispatcherCompilesAndCachesViaStore(t *testing.T) {
	var calls int32
	d, _ := newHarness(t, echoBackend(&calls))

	marker, err := d.Prepare(targetBytecode, []string{"shader.src"})
	if err != nil {
		t.Fatal(err)
	}
	coll, err := marker.GetArtifact(targetBytecode, nil)
	if err != nil {
		t.Fatal(err)
	}
	if coll.State() != artifact.StateReady {
		t.Fatalf("expected ready state, got %v", coll.State())
	}

	// Second call for the same fingerprint is answered from the cached
	// marker's in-memory result, without invoking the backend again.
	marker2, err := d.Prepare(targetBytecode, []string{"shader.src"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := marker2.GetArtifact(targetBytecode, nil); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected backend invoked once, got %d", got)
	}
}

func TestDispatcherNoAssociationErrors(t *testing.T) {
	d, _ := newHarness(t, echoBackend(nil))
	if _, err := d.Prepare(999, []string{"shader.src"}); err == nil {
		t.Fatal("expected an error for an unassociated target code")
	}
}

func TestDispatcherPatternMustMatch(t *testing.T) {
	d, _ := newHarness(t, echoBackend(nil))
	if _, err := d.Prepare(targetBytecode, []string{"shader.other"}); err == nil {
		t.Fatal("expected an error when the glob pattern does not match")
	}
}

func TestDispatcherSiblingTargetsShareMarker(t *testing.T) {
	d, _ := newHarness(t, echoBackend(nil))
	m1, err := d.Prepare(targetBytecode, []string{"shader.src"})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := d.Prepare(targetReflect, []string{"shader.src"})
	if err != nil {
		t.Fatal(err)
	}
	if m1 != m2 {
		t.Fatal("expected sibling target codes to share the same marker")
	}
}

func TestDispatcherConcurrentGetArtifactDedupes(t *testing.T) {
	var calls int32
	d, _ := newHarness(t, echoBackend(&calls))
	marker, err := d.Prepare(targetBytecode, []string{"shader.src"})
	if err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make([]artifact.Collection, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = marker.GetArtifact(targetBytecode, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if results[i] == nil {
			t.Fatalf("goroutine %d: nil result", i)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one compile side effect across %d concurrent callers, got %d", n, got)
	}
}

func TestDispatcherCompileFailureYieldsExceptionArtifact(t *testing.T) {
	backend := Backend{
		ID:        "broken",
		ShortName: "broken",
		Version:   Version{Major: 1},
		Compile: func(initializers []string) (CompileOperation, error) {
			return &fakeOperation{
				initializers: initializers,
				targetCodes:  []uint64{targetBytecode},
				failIndex:    0,
				failErr:      fmt.Errorf("boom"),
			}, nil
		},
	}
	d, _ := newHarness(t, backend)

	marker, err := d.Prepare(targetBytecode, []string{"shader.src"})
	if err != nil {
		t.Fatal(err)
	}
	coll, err := marker.GetArtifact(targetBytecode, nil)
	if err != nil {
		t.Fatal(err)
	}
	if coll.State() != artifact.StateInvalid {
		t.Fatalf("expected invalid state on compile failure, got %v", coll.State())
	}
	res, err := coll.ResolveRequests([]artifact.Request{{ChunkTypeCode: chunkLog, Form: artifact.FormRawBytes}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || len(res[0].Data) == 0 {
		t.Fatal("expected a non-empty log blob")
	}
	if _, err := coll.ResolveRequests([]artifact.Request{{ChunkTypeCode: chunkBytecode, Form: artifact.FormRawBytes}}); err == nil {
		t.Fatal("expected resolving a non-log chunk on an error collection to fail")
	}
}

func TestRegistryExtensionAndTargetCodeLookups(t *testing.T) {
	reg := NewRegistry()
	backend := echoBackend(nil)
	if err := reg.Register(backend); err != nil {
		t.Fatal(err)
	}
	reg.AssociateRequest(backend.ID, []uint64{targetBytecode, targetReflect}, "*.src")
	reg.AssociateExtensions(backend.ID, []string{".src", ".glsl"})

	if !reg.HasAssociatedCompiler(targetBytecode, "a.src") {
		t.Fatal("expected an association for targetBytecode")
	}
	if reg.HasAssociatedCompiler(999, "a.src") {
		t.Fatal("expected no association for an unregistered target code")
	}

	exts := reg.ExtensionsForTargetCode(targetBytecode)
	if len(exts) != 2 {
		t.Fatalf("expected 2 extensions, got %d", len(exts))
	}
	for _, e := range exts {
		if e.DisplayName != backend.DisplayName {
			t.Fatalf("expected display name %q, got %q", backend.DisplayName, e.DisplayName)
		}
	}

	codes := reg.TargetCodesForExtension(".src")
	var foundBytecode, foundReflect bool
	for _, c := range codes {
		if c == targetBytecode {
			foundBytecode = true
		}
		if c == targetReflect {
			foundReflect = true
		}
	}
	if !foundBytecode || !foundReflect {
		t.Fatalf("expected both target codes for .src, got %v", codes)
	}
}

func TestRegistryDeregisterUnknownBackendErrors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Deregister("nope"); err == nil {
		t.Fatal("expected deregistering an unknown backend to error")
	}
}

func TestRegistryBeginOperationFailsFastAfterDeregister(t *testing.T) {
	reg := NewRegistry()
	backend := echoBackend(nil)
	if err := reg.Register(backend); err != nil {
		t.Fatal(err)
	}
	if err := reg.Deregister(backend.ID); err != nil {
		t.Fatal(err)
	}

	_, err := reg.BeginOperation(backend.ID)
	if err == nil {
		t.Fatal("expected BeginOperation to fail fast for a deregistered backend")
	}
	var asErr *assetserr.Error
	if !errors.As(err, &asErr) || asErr.Kind != assetserr.KindCompilerShutdown {
		t.Fatalf("expected a CompilerShutdown error, got %v", err)
	}
}

func TestRegistryDeregisterWaitsForActiveOperations(t *testing.T) {
	reg := NewRegistry()
	backend := echoBackend(nil)
	if err := reg.Register(backend); err != nil {
		t.Fatal(err)
	}

	end, err := reg.BeginOperation(backend.ID)
	if err != nil {
		t.Fatal(err)
	}

	deregistered := make(chan struct{})
	go func() {
		reg.Deregister(backend.ID)
		close(deregistered)
	}()

	select {
	case <-deregistered:
		t.Fatal("expected Deregister to block while an operation is active")
	case <-time.After(50 * time.Millisecond):
	}

	end()

	select {
	case <-deregistered:
	case <-time.After(time.Second):
		t.Fatal("expected Deregister to complete once the active operation ended")
	}
}

func TestDispatcherCompileFailsFastAfterBackendDeregistered(t *testing.T) {
	d, _ := newHarness(t, echoBackend(nil))

	marker, err := d.Prepare(targetBytecode, []string{"shader.src"})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.DeregisterCompiler("echo"); err != nil {
		t.Fatal(err)
	}

	_, err = marker.GetArtifact(targetBytecode, nil)
	if err == nil {
		t.Fatal("expected GetArtifact to fail fast once its backend is deregistered")
	}
	var asErr *assetserr.Error
	if !errors.As(err, &asErr) || asErr.Kind != assetserr.KindCompilerShutdown {
		t.Fatalf("expected a CompilerShutdown error, got %v", err)
	}
}

func TestSimpleAdapterProducesSingleTarget(t *testing.T) {
	fn := SimpleAdapter(func(initializers []string) ([]artifact.Artifact, depval.Handle, uint64, error) {
		return []artifact.Artifact{{ChunkTypeCode: chunkBytecode, Version: 1, Name: "out", Payload: []byte("x")}}, depval.NoHandle, targetBytecode, nil
	})
	op, err := fn([]string{"a.src"})
	if err != nil {
		t.Fatal(err)
	}
	if op.TargetCount() != 1 || op.TargetCode(0) != targetBytecode {
		t.Fatalf("unexpected operation shape: count=%d code=%d", op.TargetCount(), op.TargetCode(0))
	}
	st, err := op.SerializeTarget(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(st.Artifacts))
	}
}

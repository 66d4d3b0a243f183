package store

import (
	"path/filepath"
	"testing"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/depval"
)

func newTestSystem() *depval.System {
	return depval.NewSystem(func(string) depval.Snapshot { return depval.Snapshot{State: depval.StateMissing} })
}

func TestProgressiveStoreStoreRetrieveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sys := newTestSystem()
	s, err := OpenProgressiveStore(dir, "debug", "v1", false, false, sys)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	groupID, err := s.RegisterCompileProductsGroup("shaders", "1.0", false)
	if err != nil {
		t.Fatal(err)
	}

	dep := sys.Make()
	arts := []artifact.Artifact{{ChunkTypeCode: 1, Version: 1, Name: "bytecode", Payload: []byte("abc")}}
	if _, err := s.StoreCompileProducts("asset-a", groupID, arts, artifact.StateReady, dep); err != nil {
		t.Fatal(err)
	}

	c, err := s.RetrieveCompileProducts("asset-a", groupID)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("expected a collection on retrieve")
	}
	res, err := c.ResolveRequests([]artifact.Request{{ChunkTypeCode: 1, ExpectedVersion: 1, Form: artifact.FormRawBytes}})
	if err != nil {
		t.Fatal(err)
	}
	if string(res[0].Data) != "abc" {
		t.Fatalf("got %q", res[0].Data)
	}
}

func TestProgressiveStoreReopenReusesVersionDir(t *testing.T) {
	dir := t.TempDir()
	sys := newTestSystem()
	s1, err := OpenProgressiveStore(dir, "debug", "v1", false, false, sys)
	if err != nil {
		t.Fatal(err)
	}
	firstDir := s1.dir
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenProgressiveStore(dir, "debug", "v1", false, false, sys)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if s2.dir != firstDir {
		t.Fatalf("expected reopen with same versionString to reuse %q, got %q", firstDir, s2.dir)
	}
}

func TestProgressiveStoreDifferentVersionGetsNewDir(t *testing.T) {
	dir := t.TempDir()
	sys := newTestSystem()
	s1, err := OpenProgressiveStore(dir, "debug", "v1", false, false, sys)
	if err != nil {
		t.Fatal(err)
	}
	firstDir := s1.dir
	s1.Close()

	s2, err := OpenProgressiveStore(dir, "debug", "v2", false, false, sys)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if s2.dir == firstDir {
		t.Fatal("expected a different versionString to allocate a new directory")
	}
}

func TestProgressiveStoreLockPreventsSecondOpener(t *testing.T) {
	dir := t.TempDir()
	sys := newTestSystem()
	s1, err := OpenProgressiveStore(dir, "debug", "v1", false, false, sys)
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()

	root := filepath.Join(dir, ".int-debug")
	_ = root
	if _, err := OpenProgressiveStore(dir, "debug", "v1", false, false, sys); err == nil {
		t.Fatal("expected second opener of the same version dir to fail")
	}
}

func TestMemoryStoreStoreRetrieveAndInvalidate(t *testing.T) {
	sys := newTestSystem()
	s := NewMemoryStore()
	groupID, _ := s.RegisterCompileProductsGroup("g", "1.0", false)

	dep := sys.MakeFromFilenames(nil)
	arts := []artifact.Artifact{{ChunkTypeCode: 1, Version: 1, Name: "a", Payload: []byte("x")}}
	if _, err := s.StoreCompileProducts("e1", groupID, arts, artifact.StateReady, dep); err != nil {
		t.Fatal(err)
	}

	c, err := s.RetrieveCompileProducts("e1", groupID)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("expected a collection")
	}

	sys.IncreaseValidationIndex(dep.Marker())
	c, err = s.RetrieveCompileProducts("e1", groupID)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Fatal("expected no collection once the entry's dependency has been invalidated")
	}
}

func TestMemoryStoreRetrieveUnknownGroupErrors(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.RetrieveCompileProducts("e1", "never-registered"); err == nil {
		t.Fatal("expected retrieving from an unregistered group to error, not return a silent nil")
	}
	if _, err := s.RetrieveCompileProductsArchive("archive.xpak", "e1", "never-registered"); err == nil {
		t.Fatal("expected archive retrieval to forward the same unregistered-group error")
	}
}

func TestMemoryStoreWriteReadExclusion(t *testing.T) {
	s := NewMemoryStore()
	groupID, _ := s.RegisterCompileProductsGroup("g", "1.0", false)
	dep := depval.NoHandle
	arts := []artifact.Artifact{{ChunkTypeCode: 1, Version: 1, Name: "a", Payload: []byte("x")}}

	release, err := s.gate.acquireWrite("busy")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RetrieveCompileProducts("busy", groupID); err == nil {
		t.Fatal("expected read to fail while a writer is in flight")
	}
	release()

	if _, err := s.StoreCompileProducts("e2", groupID, arts, artifact.StateReady, dep); err != nil {
		t.Fatal(err)
	}
}

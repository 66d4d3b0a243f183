package vfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/standardbeagle/forgecache/internal/depval"
	"github.com/standardbeagle/forgecache/pkg/pathrules"
)

func TestMemoryBackendTranslateOpen(t *testing.T) {
	mem := NewMemory(1000)
	mem.Put("a.txt", []byte("hello"))

	res, m := mem.Translate("a.txt")
	if res != Success {
		t.Fatal("expected Success translating existing blob")
	}
	rc, err := mem.Open(m)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}

	if res, _ := mem.Translate("missing.txt"); res != Invalid {
		t.Fatal("expected Invalid for missing blob")
	}
}

func TestMemoryBackendFakeChangeNotifies(t *testing.T) {
	mem := NewMemory(1000)
	mem.Put("a.txt", []byte("hello"))
	_, m := mem.Translate("a.txt")

	notified := make(chan Snapshot, 1)
	if _, err := mem.Monitor(m, func(s Snapshot) { notified <- s }); err != nil {
		t.Fatal(err)
	}

	if err := mem.FakeChange(m); err != nil {
		t.Fatal(err)
	}
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("expected notification after FakeChange")
	}
}

func TestOSRawContainmentCheck(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := NewOSRaw(dir, pathrules.Default(), OSRawOptions{})

	if res, _ := b.Translate("f.txt"); res != Success {
		t.Fatal("expected Success for file inside root")
	}
	if res, _ := b.Translate("../../etc/passwd"); res != Invalid {
		t.Fatal("expected Invalid for path escaping root")
	}
}

func TestMountingTreeLookupFallsThroughToDefault(t *testing.T) {
	mem := NewMemory(1000)
	mem.Put("a.hlsl", []byte("shader"))

	other := NewMemory(1000)
	other.Put("textures/t.dds", []byte("texture"))

	tree := NewMountingTree(other)
	tree.Mount("shaders", mem)

	_, _, res := tree.Lookup("shaders/a.hlsl")
	if res != Success {
		t.Fatal("expected mount match for shaders/a.hlsl")
	}

	_, _, res = tree.Lookup("textures/t.dds")
	if res != Success {
		t.Fatal("expected default backend fallback for textures/t.dds")
	}
}

func TestMountingTreeUnmount(t *testing.T) {
	mem := NewMemory(1000)
	mem.Put("a.txt", []byte("x"))
	tree := NewMountingTree(nil)
	id := tree.Mount("", mem)

	if _, _, res := tree.Lookup("a.txt"); res != Success {
		t.Fatal("expected success before unmount")
	}
	tree.Unmount(id)
	if _, _, res := tree.Lookup("a.txt"); res != Invalid {
		t.Fatal("expected invalid after unmount")
	}
}

func TestDepvalSnapshotAliasIdentity(t *testing.T) {
	var s Snapshot = Snapshot{State: StatePresent, ModTime: 5}
	var d depval.Snapshot = s
	if d.ModTime != 5 {
		t.Fatal("vfs.Snapshot must be depval.Snapshot under the hood")
	}
}

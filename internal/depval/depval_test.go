package depval

import "testing"

func TestMakeAndRelease(t *testing.T) {
	sys := NewSystem(nil)
	h := sys.Make()
	if !h.Valid() {
		t.Fatal("expected valid handle")
	}
	if sys.RefCount(h.Marker()) != 1 {
		t.Fatalf("expected refcount 1, got %d", sys.RefCount(h.Marker()))
	}
	h.Release()
}

func TestCloneBumpsRefCount(t *testing.T) {
	sys := NewSystem(nil)
	h := sys.Make()
	c := h.Clone()
	if sys.RefCount(h.Marker()) != 2 {
		t.Fatalf("expected refcount 2, got %d", sys.RefCount(h.Marker()))
	}
	h.Release()
	if sys.RefCount(h.Marker()) != 1 {
		t.Fatalf("expected refcount 1 after one release, got %d", sys.RefCount(h.Marker()))
	}
	c.Release()
}

func TestMarkerReuseAfterRelease(t *testing.T) {
	sys := NewSystem(nil)
	h1 := sys.Make()
	m1 := h1.Marker()
	h1.Release()

	h2 := sys.Make()
	if h2.Marker() != m1 {
		t.Fatalf("expected free-list reuse of marker %d, got %d", m1, h2.Marker())
	}
	h2.Release()
}

func TestFileDependencyInvalidatesOnChange(t *testing.T) {
	sys := NewSystem(nil)
	h := sys.MakeFromFiles([]DependentFileState{
		{Filename: "a.txt", Snapshot: Snapshot{State: StatePresent, ModTime: 1}},
	})
	defer h.Release()

	if h.ValidationIndex() != 0 {
		t.Fatalf("expected fresh validation index 0, got %d", h.ValidationIndex())
	}

	sys.NotifyFileState("a.txt", Snapshot{State: StatePresent, ModTime: 2})
	if h.ValidationIndex() == 0 {
		t.Fatal("expected validation index to advance after file change")
	}
}

func TestAssetDependencyPropagates(t *testing.T) {
	sys := NewSystem(nil)
	leaf := sys.MakeFromFiles([]DependentFileState{
		{Filename: "leaf.txt", Snapshot: Snapshot{State: StatePresent, ModTime: 1}},
	})
	parent := sys.Make()
	sys.RegisterAssetDependency(parent.Marker(), leaf.Marker())
	defer parent.Release()
	leaf.Release() // parent still owns a ref via the asset link

	before := parent.ValidationIndex()
	sys.NotifyFileState("leaf.txt", Snapshot{State: StatePresent, ModTime: 2})
	after := parent.ValidationIndex()
	if after == before {
		t.Fatal("expected parent's validation index to advance transitively")
	}
}

func TestMakeOrReuseSingleInputShortCircuits(t *testing.T) {
	sys := NewSystem(nil)
	h := sys.Make()
	defer h.Release()

	reused := sys.MakeOrReuse([]Handle{h, NoHandle})
	defer reused.Release()

	if reused.Marker() != h.Marker() {
		t.Fatalf("expected MakeOrReuse to return the same marker, got %d vs %d", reused.Marker(), h.Marker())
	}
	if sys.RefCount(h.Marker()) != 2 {
		t.Fatalf("expected refcount 2 after reuse, got %d", sys.RefCount(h.Marker()))
	}
}

func TestMakeOrReuseAllInvalidReturnsNoHandle(t *testing.T) {
	sys := NewSystem(nil)
	got := sys.MakeOrReuse([]Handle{NoHandle, NoHandle})
	if got.Valid() {
		t.Fatal("expected invalid handle when all inputs are invalid")
	}
}

func TestMakeOrReuseMultipleInputsCreatesNewMarker(t *testing.T) {
	sys := NewSystem(nil)
	a := sys.Make()
	b := sys.Make()
	defer a.Release()
	defer b.Release()

	combined := sys.MakeOrReuse([]Handle{a, b})
	defer combined.Release()

	if combined.Marker() == a.Marker() || combined.Marker() == b.Marker() {
		t.Fatal("expected a fresh marker distinct from both inputs")
	}
}

func TestCollateDependentFileStates(t *testing.T) {
	sys := NewSystem(nil)
	leaf := sys.MakeFromFiles([]DependentFileState{
		{Filename: "shader.hlsl", Snapshot: Snapshot{State: StatePresent, ModTime: 5}},
	})
	parent := sys.Make()
	sys.RegisterAssetDependency(parent.Marker(), leaf.Marker())
	leaf.Release()
	defer parent.Release()

	states := sys.CollateDependentFileStates(parent.Marker())
	if len(states) != 1 || states[0].Filename != "shader.hlsl" {
		t.Fatalf("expected one collated file state for shader.hlsl, got %+v", states)
	}
}

func TestIsCleanSince(t *testing.T) {
	sys := NewSystem(nil)
	h := sys.MakeFromFiles([]DependentFileState{
		{Filename: "x.txt", Snapshot: Snapshot{State: StatePresent, ModTime: 1}},
	})
	defer h.Release()

	loaded := h.ValidationIndex()
	if !h.IsCleanSince(loaded) {
		t.Fatal("expected clean immediately after load")
	}
	sys.NotifyFileState("x.txt", Snapshot{State: StatePresent, ModTime: 2})
	if h.IsCleanSince(loaded) {
		t.Fatal("expected dirty after file change")
	}
}

package loose

import (
	"strings"
	"testing"
)

func TestCacheWriteReadEntry(t *testing.T) {
	c, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}

	chunks := []Chunk{
		{TypeCode: 1, Name: "bytecode", Data: []byte("DXBC")},
		{TypeCode: 2, Name: "log", Data: []byte("ok")},
	}
	deps := []DependencyEntry{{Filename: "a.hlsl", State: "42"}}

	if err := c.WriteEntry("shaders/basic", "shaders", false, chunks, deps); err != nil {
		t.Fatal(err)
	}

	m, data, ok, err := c.ReadEntry("shaders/basic")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if m.BasePath != "shaders" {
		t.Fatalf("BasePath = %q", m.BasePath)
	}
	if string(data[1]) != "DXBC" || string(data[2]) != "ok" {
		t.Fatalf("chunk data mismatch: %+v", data)
	}
}

func TestCacheReadMissingEntry(t *testing.T) {
	c, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	_, _, ok, err := c.ReadEntry("nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected missing entry to report ok=false")
	}
}

func TestCacheRemoveEntry(t *testing.T) {
	c, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	chunks := []Chunk{{TypeCode: 1, Name: "a", Data: []byte("x")}}
	if err := c.WriteEntry("e1", "", false, chunks, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveEntry("e1"); err != nil {
		t.Fatal(err)
	}
	_, _, ok, err := c.ReadEntry("e1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected entry to be gone after RemoveEntry")
	}
}

func TestDebugDuplicateNameDetection(t *testing.T) {
	c, err := New(t.TempDir(), true)
	if err != nil {
		t.Fatal(err)
	}
	chunks := []Chunk{
		{TypeCode: 1, Name: "same", Data: []byte("a")},
		{TypeCode: 2, Name: "same", Data: []byte("b")},
	}
	err = c.WriteEntry("e1", "", false, chunks, nil)
	if err == nil {
		t.Fatal("expected duplicate chunk name to be rejected in debug mode")
	}
}

func TestShortenNameKeepsShortNamesUnchanged(t *testing.T) {
	if got := shortenName("short"); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestShortenNameHashesLongNames(t *testing.T) {
	long := strings.Repeat("x", maxPathComponent+50)
	got := shortenName(long)
	if len(got) > maxPathComponent {
		t.Fatalf("shortened name still too long: %d bytes", len(got))
	}
	if !strings.Contains(got, "~") {
		t.Fatalf("expected hash marker in shortened name, got %q", got)
	}
}

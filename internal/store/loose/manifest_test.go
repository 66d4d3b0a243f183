package loose

import (
	"path/filepath"
	"testing"
)

func TestManifestWriteParseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.manifest")

	m := Manifest{
		BasePath: "shaders/basic",
		Invalid:  false,
		Chunks: map[uint32]string{
			1: "basic.vs.1.bin",
			2: "basic.ps.1.bin",
		},
		Dependencies: []DependencyEntry{
			{Filename: "basic.hlsl", State: "1690000000"},
			{Filename: "common.hlsli", State: DepShadowed},
			{Filename: "missing.hlsli", State: DepDoesNotExist},
		},
	}

	if err := WriteManifest(path, m); err != nil {
		t.Fatal(err)
	}

	got, err := ParseManifest(path)
	if err != nil {
		t.Fatal(err)
	}

	if got.BasePath != m.BasePath {
		t.Fatalf("BasePath = %q, want %q", got.BasePath, m.BasePath)
	}
	if got.Invalid != m.Invalid {
		t.Fatalf("Invalid = %v, want %v", got.Invalid, m.Invalid)
	}
	if len(got.Chunks) != len(m.Chunks) {
		t.Fatalf("Chunks = %v, want %v", got.Chunks, m.Chunks)
	}
	for code, name := range m.Chunks {
		if got.Chunks[code] != name {
			t.Fatalf("chunk %d = %q, want %q", code, got.Chunks[code], name)
		}
	}
	if len(got.Dependencies) != len(m.Dependencies) {
		t.Fatalf("Dependencies = %+v, want %+v", got.Dependencies, m.Dependencies)
	}
	for i, d := range m.Dependencies {
		if got.Dependencies[i] != d {
			t.Fatalf("dependency %d = %+v, want %+v", i, got.Dependencies[i], d)
		}
	}
}

func TestManifestInvalidFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.manifest")

	if err := WriteManifest(path, Manifest{Invalid: true, Chunks: map[uint32]string{}}); err != nil {
		t.Fatal(err)
	}
	got, err := ParseManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Invalid {
		t.Fatal("expected Invalid=true to round-trip")
	}
}

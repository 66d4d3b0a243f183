package xarch

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.xpak")

	entries := []WriteEntry{
		{Name: "shaders/basic.hlsl.bin", Data: bytes.Repeat([]byte("hello world "), 50)},
		{Name: "shaders/tiny.bin", Data: []byte{1, 2, 3}},
		{Name: "textures/rock_diffuse.dds", Data: []byte(strings.Repeat("xyzzy", 200))},
	}

	if err := Write(path, entries); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer r.Close()

	if len(r.Entries()) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(r.Entries()))
	}

	for _, e := range entries {
		fe, ok := r.Lookup(HashName(e.Name))
		if !ok {
			t.Fatalf("lookup failed for %q", e.Name)
		}
		if fe.Name != e.Name {
			t.Fatalf("expected name %q, got %q", e.Name, fe.Name)
		}
		got, err := r.ReadPayload(fe)
		if err != nil {
			t.Fatalf("read payload for %q: %v", e.Name, err)
		}
		if !bytes.Equal(got, e.Data) {
			t.Fatalf("payload mismatch for %q", e.Name)
		}
	}
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.xpak")
	if err := Write(path, []WriteEntry{{Name: "a", Data: []byte("abc")}}); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, ok := r.Lookup(HashName("does-not-exist")); ok {
		t.Fatal("expected lookup miss")
	}
}

func TestFastlzRoundTripCompressible(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)
	compressed := fastlzCompress(data)
	if len(compressed) >= len(data) {
		t.Fatalf("expected compression to shrink highly repetitive data: %d vs %d", len(compressed), len(data))
	}
	out, err := fastlzDecompress(compressed, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestFastlzRoundTripIncompressible(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	compressed := fastlzCompress(data)
	out, err := fastlzDecompress(compressed, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("round trip mismatch on short/incompressible input")
	}
}

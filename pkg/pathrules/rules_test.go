package pathrules

import "testing"

func TestSplitRebuildRoundTrip(t *testing.T) {
	r := Default()
	cases := []string{
		"a/b/c",
		"/a/b/c",
		"/a/b/c/",
		"a",
		"a/",
	}
	for _, p := range cases {
		s := r.SplitPath(p)
		rebuilt := r.Rebuild(s)
		if r.SplitPath(rebuilt) == (Split{}) && s != (Split{}) {
			t.Fatalf("rebuild lost data for %q", p)
		}
		got := r.SplitPath(rebuilt)
		if len(got.Sections) != len(s.Sections) {
			t.Fatalf("round-trip mismatch for %q: %+v vs %+v", p, s, got)
		}
		for i := range s.Sections {
			if s.Sections[i] != got.Sections[i] {
				t.Fatalf("round-trip section mismatch for %q at %d", p, i)
			}
		}
	}
}

func TestSimplifyCollapsesDotAndDotDot(t *testing.T) {
	r := Default()
	if got := r.Simplify("a/./b/../c"); got != "a/c" {
		t.Fatalf("got %q", got)
	}
	if got := r.Simplify("../a/b"); got != "../a/b" {
		t.Fatalf("got %q", got)
	}
}

func TestHashCaseSensitivity(t *testing.T) {
	cs := New('/', true)
	ci := New('/', false)

	if cs.Hash("shader.hlsl", 0) == cs.Hash("SHADER.hlsl", 0) {
		t.Fatal("case-sensitive rules should distinguish case")
	}
	if ci.Hash("shader.hlsl", 0) != ci.Hash("SHADER.hlsl", 0) {
		t.Fatal("case-insensitive rules should fold case")
	}
}

func TestHashSeedIndependence(t *testing.T) {
	r := Default()
	if r.Hash("a/b", 0) == r.Hash("a/b", 1) {
		t.Fatal("different seeds should usually produce different hashes")
	}
}

func TestRelative(t *testing.T) {
	r := Default()
	cases := []struct{ base, target, want string }{
		{"a/b/c", "a/b/d", "../d"},
		{"a/b", "a/b/c/d", "c/d"},
		{"a/b/c", "a/b/c", "."},
	}
	for _, c := range cases {
		got := r.Relative(c.base, c.target)
		if got != c.want {
			t.Fatalf("Relative(%q,%q) = %q, want %q", c.base, c.target, got, c.want)
		}
	}
}

func TestSplitFileName(t *testing.T) {
	r := Default()
	dirStem, file, ext, params := r.SplitFileName("shaders/shader.hlsl:entrypoint:sm5_0")
	if file != "shader.hlsl" || ext != "hlsl" {
		t.Fatalf("got file=%q ext=%q", file, ext)
	}
	if len(params) != 2 || params[0] != "entrypoint" || params[1] != "sm5_0" {
		t.Fatalf("got params=%v", params)
	}
	if dirStem != "shaders/shader" {
		t.Fatalf("got dirStem=%q", dirStem)
	}
}

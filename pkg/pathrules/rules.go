// Package pathrules implements normalized path hashing, splitting and
// relative-path computation parameterized by separator and case
// sensitivity, so the same algorithms serve both case-sensitive and
// case-insensitive backends.
package pathrules

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Rules pairs a path separator with a case-sensitivity flag. The zero
// value is not valid; use Default or New.
type Rules struct {
	Separator     byte
	CaseSensitive bool
}

// Default returns the '/'-separator, case-sensitive rules used unless a
// backend declares otherwise.
func Default() Rules {
	return Rules{Separator: '/', CaseSensitive: true}
}

// New builds a Rules value for an arbitrary separator/case-sensitivity
// combination (e.g. Windows-style backends use '\\' and
// case-insensitive).
func New(separator byte, caseSensitive bool) Rules {
	return Rules{Separator: separator, CaseSensitive: caseSensitive}
}

// Section is one Separator-delimited element of a split path.
type Section struct {
	Value string
}

// Split holds the decomposed form of a path: its sections plus whether
// the original string had a leading or trailing separator.
type Split struct {
	Sections       []Section
	LeadingSep     bool
	TrailingSep    bool
}

// SplitPath breaks path into sections according to r.Separator.
func (r Rules) SplitPath(path string) Split {
	if path == "" {
		return Split{}
	}
	sep := string(r.Separator)
	leading := strings.HasPrefix(path, sep)
	trailing := strings.HasSuffix(path, sep) && len(path) > 1
	trimmed := path
	if leading {
		trimmed = trimmed[1:]
	}
	if trailing {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if trimmed == "" {
		return Split{LeadingSep: leading, TrailingSep: trailing}
	}
	parts := strings.Split(trimmed, sep)
	sections := make([]Section, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		sections = append(sections, Section{Value: p})
	}
	return Split{Sections: sections, LeadingSep: leading, TrailingSep: trailing}
}

// Rebuild reconstructs a path string from a Split, the inverse of
// SplitPath for well-formed input (SplitPath(Rebuild(SplitPath(p))) ==
// SplitPath(p)).
func (r Rules) Rebuild(s Split) string {
	var b strings.Builder
	if s.LeadingSep {
		b.WriteByte(r.Separator)
	}
	for i, sec := range s.Sections {
		if i > 0 {
			b.WriteByte(r.Separator)
		}
		b.WriteString(sec.Value)
	}
	if s.TrailingSep && len(s.Sections) > 0 {
		b.WriteByte(r.Separator)
	}
	return b.String()
}

// Simplify collapses "." and ".." sections, the way a filesystem would
// resolve them, without touching the disk.
func (r Rules) Simplify(path string) string {
	s := r.SplitPath(path)
	out := make([]Section, 0, len(s.Sections))
	for _, sec := range s.Sections {
		switch sec.Value {
		case ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1].Value != ".." {
				out = out[:len(out)-1]
				continue
			}
			out = append(out, sec)
		default:
			out = append(out, sec)
		}
	}
	s.Sections = out
	return r.Rebuild(s)
}

// canonicalSections lower-cases section values when the rules are
// case-insensitive, for hashing and equality purposes only — the
// original casing is preserved everywhere else.
func (r Rules) canonicalSections(s Split) []string {
	out := make([]string, len(s.Sections))
	for i, sec := range s.Sections {
		if r.CaseSensitive {
			out[i] = sec.Value
		} else {
			out[i] = strings.ToLower(sec.Value)
		}
	}
	return out
}

// Hash computes a 64-bit hash over the canonicalized path sections,
// seeded, so callers can derive independent hash spaces (e.g. the XPAK
// hash table vs. the dependency-validation monitored-file table) from
// the same path.
func (r Rules) Hash(path string, seed uint64) uint64 {
	s := r.SplitPath(r.Simplify(path))
	sections := r.canonicalSections(s)
	d := xxhash.New()
	var seedBuf [8]byte
	putUint64(seedBuf[:], seed)
	d.Write(seedBuf[:])
	for _, sec := range sections {
		d.Write([]byte(sec))
		d.Write([]byte{byte(r.Separator)})
	}
	return d.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Equal reports whether two paths refer to the same canonical location
// under these rules.
func (r Rules) Equal(a, b string) bool {
	return r.Hash(a, 0) == r.Hash(b, 0)
}

// Relative computes the path from base to target, inserting ".."
// elements as needed after eliminating the common prefix.
func (r Rules) Relative(base, target string) string {
	bs := r.SplitPath(r.Simplify(base))
	ts := r.SplitPath(r.Simplify(target))

	common := 0
	for common < len(bs.Sections) && common < len(ts.Sections) {
		a, b := bs.Sections[common].Value, ts.Sections[common].Value
		if !r.CaseSensitive {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		if a != b {
			break
		}
		common++
	}

	var out []Section
	for i := common; i < len(bs.Sections); i++ {
		out = append(out, Section{Value: ".."})
	}
	out = append(out, ts.Sections[common:]...)
	if len(out) == 0 {
		out = []Section{{Value: "."}}
	}
	return r.Rebuild(Split{Sections: out})
}

// SplitFileName decomposes a path into (directory-and-stem, file,
// extension, parameters). Parameters are introduced by a colon after
// the filename, e.g. "shader.hlsl:entrypoint:sm5_0" splits into
// file="shader.hlsl", extension="hlsl", parameters=["entrypoint",
// "sm5_0"].
func (r Rules) SplitFileName(path string) (dirAndStem, file, extension string, parameters []string) {
	parts := strings.Split(path, ":")
	withoutParams := parts[0]
	if len(parts) > 1 {
		parameters = parts[1:]
	}

	sep := string(r.Separator)
	slash := strings.LastIndex(withoutParams, sep)
	dir := ""
	base := withoutParams
	if slash >= 0 {
		dir = withoutParams[:slash+1]
		base = withoutParams[slash+1:]
	}

	dot := strings.LastIndex(base, ".")
	stem := base
	if dot > 0 {
		extension = base[dot+1:]
		stem = base[:dot]
	}

	return dir + stem, base, extension, parameters
}

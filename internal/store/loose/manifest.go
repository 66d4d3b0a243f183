// Package loose implements the loose-files intermediates cache: one
// file per artifact chunk plus a sidecar manifest describing the set.
package loose

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// DepDoesNotExist and DepShadowed mirror depval.SnapshotState at the
// text-manifest boundary: a dependency state is written as one of
// "doesnotexist", "shadowed" or a decimal modification time, per §6.3.
const (
	DepDoesNotExist = "doesnotexist"
	DepShadowed     = "shadowed"
)

// DependencyEntry is one line of the manifest's Dependencies block.
type DependencyEntry struct {
	Filename string
	State    string // DepDoesNotExist, DepShadowed, or a decimal mod-time string
}

// Manifest is the parsed/about-to-be-written sidecar describing one
// compiled entry's on-disk chunk files.
type Manifest struct {
	BasePath     string
	Invalid      bool
	Chunks       map[uint32]string // chunk type code -> artifact filename
	Dependencies []DependencyEntry
}

// WriteManifest serializes m as KDL-property-syntax text: each chunk
// becomes a node named by its decimal type code with an Artifact
// property, and dependencies become child nodes of a Dependencies
// block, matching §6.3's nested key-value tree.
func WriteManifest(path string, m Manifest) error {
	var b strings.Builder
	if m.BasePath != "" {
		fmt.Fprintf(&b, "BasePath=%q\n", m.BasePath)
	}
	fmt.Fprintf(&b, "Invalid=%d\n", boolToInt(m.Invalid))

	codes := make([]uint32, 0, len(m.Chunks))
	for code := range m.Chunks {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, code := range codes {
		fmt.Fprintf(&b, "%d {\n    Artifact=%q\n}\n", code, m.Chunks[code])
	}

	if len(m.Dependencies) > 0 {
		b.WriteString("Dependencies {\n")
		for _, d := range m.Dependencies {
			fmt.Fprintf(&b, "    %q state=%q\n", d.Filename, d.State)
		}
		b.WriteString("}\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ParseManifest reads and parses a manifest written by WriteManifest
// (or by an earlier compatible writer), using kdl-go's parser and
// document-node walk, the same pattern the engine's own KDL project
// config reader uses.
func ParseManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	doc, err := kdl.Parse(strings.NewReader(string(data)))
	if err != nil {
		return Manifest{}, fmt.Errorf("loose: parsing manifest %s: %w", path, err)
	}

	m := Manifest{Chunks: make(map[uint32]string)}
	for _, n := range doc.Nodes {
		name := nodeName(n)
		switch {
		case name == "BasePath":
			if s, ok := firstStringArgOrProp(n, "BasePath"); ok {
				m.BasePath = s
			}
		case name == "Invalid":
			if v, ok := firstIntArgOrProp(n, "Invalid"); ok {
				m.Invalid = v != 0
			}
		case name == "Dependencies":
			for _, cn := range n.Children {
				filename := nodeName(cn)
				state, _ := propString(cn, "state")
				m.Dependencies = append(m.Dependencies, DependencyEntry{Filename: filename, State: state})
			}
		default:
			if code, err := strconv.ParseUint(name, 10, 32); err == nil {
				for _, cn := range n.Children {
					if nodeName(cn) == "Artifact" {
						if s, ok := firstStringArgOrProp(cn, "Artifact"); ok {
							m.Chunks[uint32(code)] = s
						}
					}
				}
			}
		}
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func propString(n *document.Node, key string) (string, bool) {
	for _, p := range n.Properties {
		if p.Name == nil || p.Name.NodeNameString() != key {
			continue
		}
		if s, ok := p.Value.(string); ok {
			return s, true
		}
	}
	return "", false
}

func firstStringArgOrProp(n *document.Node, propKey string) (string, bool) {
	if s, ok := propString(n, propKey); ok {
		return s, true
	}
	if len(n.Arguments) > 0 {
		if s, ok := n.Arguments[0].Value.(string); ok {
			return s, true
		}
	}
	return "", false
}

func firstIntArgOrProp(n *document.Node, propKey string) (int, bool) {
	for _, p := range n.Properties {
		if p.Name == nil || p.Name.NodeNameString() != propKey {
			continue
		}
		switch v := p.Value.(type) {
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	if len(n.Arguments) > 0 {
		switch v := n.Arguments[0].Value.(type) {
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

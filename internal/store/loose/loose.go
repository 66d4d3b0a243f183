package loose

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// maxPathComponent leaves room for sidecar suffixes (".s", ".manifest",
// ".metrics", ".log") on top of the shortened name, per §4.4.1's
// "OS limit minus a 20-character margin".
const maxPathComponent = 255 - 20

// Chunk is one artifact payload to be written under a shared entry name.
type Chunk struct {
	TypeCode uint32
	Name     string // logical chunk name, e.g. "bytecode"
	Data     []byte
}

// Cache stores one file per artifact chunk under dir, named by a
// sanitized initializer plus chunk name, with a KDL sidecar manifest
// describing the set. Writes are staged to "<name>.s" and renamed into
// place, manifest last, so a concurrent reader always sees either the
// previous complete set or the new one — grounded on
// original_source/Assets/CompilerLibrary.cpp's loose-file store
// (§4.4.1).
type Cache struct {
	dir   string
	debug bool // run the duplicate-rename-detection pass
}

// New returns a loose-files cache rooted at dir, creating it if absent.
func New(dir string, debugChecks bool) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("loose: creating cache dir: %w", err)
	}
	return &Cache{dir: dir, debug: debugChecks}, nil
}

// WriteEntry writes every chunk for entryID, then the manifest,
// following §4.4.1's write protocol: stage each file as "<name>.s",
// rename into place, manifest last.
func (c *Cache) WriteEntry(entryID string, basePath string, invalid bool, chunks []Chunk, deps []DependencyEntry) error {
	fileNames := make(map[uint32]string, len(chunks))
	written := make([]string, 0, len(chunks))

	if c.debug {
		if dup := firstDuplicateName(chunks); dup != "" {
			return fmt.Errorf("loose: duplicate chunk name %q for entry %q would collide on rename", dup, entryID)
		}
	}

	for _, ch := range chunks {
		name := shortenName(sanitize(entryID) + "-" + ch.Name)
		finalPath := filepath.Join(c.dir, name)
		stagePath := finalPath + ".s"

		if err := os.WriteFile(stagePath, ch.Data, 0o644); err != nil {
			return fmt.Errorf("loose: staging %s: %w", name, err)
		}
		if err := os.Rename(stagePath, finalPath); err != nil {
			return fmt.Errorf("loose: renaming %s into place: %w", name, err)
		}
		fileNames[ch.TypeCode] = name
		written = append(written, finalPath)
	}

	m := Manifest{
		BasePath:     basePath,
		Invalid:      invalid,
		Chunks:       fileNames,
		Dependencies: deps,
	}
	manifestPath := c.manifestPath(entryID)
	stageManifest := manifestPath + ".s"
	if err := WriteManifest(stageManifest, m); err != nil {
		return fmt.Errorf("loose: staging manifest for %q: %w", entryID, err)
	}
	if err := os.Rename(stageManifest, manifestPath); err != nil {
		return fmt.Errorf("loose: renaming manifest for %q into place: %w", entryID, err)
	}
	return nil
}

// ReadEntry loads entryID's manifest and returns the chunk bytes keyed
// by type code. A missing manifest is reported as (nil, nil, false, nil).
func (c *Cache) ReadEntry(entryID string) (*Manifest, map[uint32][]byte, bool, error) {
	manifestPath := c.manifestPath(entryID)
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		return nil, nil, false, nil
	}
	m, err := ParseManifest(manifestPath)
	if err != nil {
		return nil, nil, false, err
	}

	data := make(map[uint32][]byte, len(m.Chunks))
	for code, name := range m.Chunks {
		b, err := os.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			return nil, nil, false, fmt.Errorf("loose: reading chunk %d (%s) for %q: %w", code, name, entryID, err)
		}
		data[code] = b
	}
	return &m, data, true, nil
}

// RemoveEntry deletes entryID's manifest and every chunk file it names.
func (c *Cache) RemoveEntry(entryID string) error {
	manifestPath := c.manifestPath(entryID)
	m, err := ParseManifest(manifestPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, name := range m.Chunks {
		_ = os.Remove(filepath.Join(c.dir, name))
	}
	return os.Remove(manifestPath)
}

func (c *Cache) manifestPath(entryID string) string {
	return filepath.Join(c.dir, shortenName(sanitize(entryID))+".manifest")
}

// sanitize replaces path separators and other filesystem-unsafe
// characters in an asset initializer so it can appear in a single
// path component.
func sanitize(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return r.Replace(s)
}

// shortenName replaces a name's tail with a 64-bit hash once it would
// exceed maxPathComponent, per §4.4.1.
func shortenName(name string) string {
	if len(name) <= maxPathComponent {
		return name
	}
	hash := xxhash.Sum64String(name)
	suffix := fmt.Sprintf("~%016x", hash)
	keep := maxPathComponent - len(suffix)
	if keep < 0 {
		keep = 0
	}
	return name[:keep] + suffix
}

// firstDuplicateName is the debug-build duplicate-rename-detection
// pass: two chunks resolving to the same on-disk filename would race
// each other's stage-then-rename and silently drop one payload.
func firstDuplicateName(chunks []Chunk) string {
	seen := make(map[string]struct{}, len(chunks))
	names := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		names = append(names, ch.Name)
	}
	sort.Strings(names)
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return n
		}
		seen[n] = struct{}{}
	}
	return ""
}

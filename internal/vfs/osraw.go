package vfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/forgecache/internal/assetserr"
	"github.com/standardbeagle/forgecache/pkg/pathrules"
)

// osRawMarker identifies a resolved file under an OSRaw backend's root.
type osRawMarker struct {
	relPath string
}

func (osRawMarker) isMarker() {}

// OSRawOptions configures an OSRaw backend.
type OSRawOptions struct {
	// RefuseAbsolute rejects names that look like absolute paths before
	// any containment check runs.
	RefuseAbsolute bool
	// StripLeadingComponents removes this many leading path sections
	// before joining with Root, mirroring the source's "strip N path
	// components" mount option.
	StripLeadingComponents int
}

// OSRaw is a root-prefixed view of the host filesystem. It refuses to
// resolve any name that would escape Root after cleaning — the
// containment check is the one piece of internal/security's
// file-validator worth carrying into this domain; the rest of that
// file (magic-byte/source-language sniffing) has no artifact-build
// analog and was dropped.
type OSRaw struct {
	root    string
	rules   pathrules.Rules
	opts    OSRawOptions
	negMu   sync.RWMutex
	negative map[string]struct{} // directories known to be missing, cleared on any write-side event
}

// NewOSRaw roots a backend at root, which must be an absolute,
// already-cleaned directory path.
func NewOSRaw(root string, rules pathrules.Rules, opts OSRawOptions) *OSRaw {
	return &OSRaw{
		root:     filepath.Clean(root),
		rules:    rules,
		opts:     opts,
		negative: make(map[string]struct{}),
	}
}

func (b *OSRaw) resolve(name string) (string, error) {
	if b.opts.RefuseAbsolute && filepath.IsAbs(name) {
		return "", errors.New("osraw: absolute paths are refused by this mount")
	}
	rel := name
	if b.opts.StripLeadingComponents > 0 {
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) > b.opts.StripLeadingComponents {
			rel = strings.Join(parts[b.opts.StripLeadingComponents:], "/")
		} else {
			rel = ""
		}
	}

	full := filepath.Join(b.root, rel)
	full = filepath.Clean(full)
	if full != b.root && !strings.HasPrefix(full, b.root+string(filepath.Separator)) {
		return "", errors.New("osraw: resolved path escapes backend root")
	}
	return full, nil
}

func (b *OSRaw) markNegative(rel string) {
	b.negMu.Lock()
	b.negative[rel] = struct{}{}
	b.negMu.Unlock()
}

func (b *OSRaw) isKnownMissing(rel string) bool {
	b.negMu.RLock()
	_, ok := b.negative[rel]
	b.negMu.RUnlock()
	return ok
}

// InvalidateNegativeCache drops rel (or, if rel is "", everything) from
// the known-missing cache. The change monitor calls this when it
// observes a create event under a previously-missing path.
func (b *OSRaw) InvalidateNegativeCache(rel string) {
	b.negMu.Lock()
	defer b.negMu.Unlock()
	if rel == "" {
		b.negative = make(map[string]struct{})
		return
	}
	delete(b.negative, rel)
}

func (b *OSRaw) Translate(name string) (TranslateResult, Marker) {
	if b.isKnownMissing(name) {
		return Invalid, nil
	}
	full, err := b.resolve(name)
	if err != nil {
		return Invalid, nil
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			b.markNegative(name)
		}
		return Invalid, nil
	}
	return Success, osRawMarker{relPath: name}
}

func (b *OSRaw) Open(m Marker) (io.ReadCloser, error) {
	om, ok := m.(osRawMarker)
	if !ok {
		return nil, assetserr.New(assetserr.KindIO, "open", errors.New("osraw: marker from a different backend"))
	}
	full, err := b.resolve(om.relPath)
	if err != nil {
		return nil, assetserr.New(assetserr.KindIO, "open", err).WithPath(om.relPath)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, assetserr.New(assetserr.KindIO, "open", err).WithPath(om.relPath)
	}
	return f, nil
}

func (b *OSRaw) Describe(m Marker) (FileDesc, error) {
	om, ok := m.(osRawMarker)
	if !ok {
		return FileDesc{}, assetserr.New(assetserr.KindIO, "describe", errors.New("osraw: marker from a different backend"))
	}
	full, err := b.resolve(om.relPath)
	if err != nil {
		return FileDesc{}, assetserr.New(assetserr.KindIO, "describe", err).WithPath(om.relPath)
	}
	info, err := os.Stat(full)
	if err != nil {
		return FileDesc{}, assetserr.New(assetserr.KindIO, "describe", err).WithPath(om.relPath)
	}
	return FileDesc{
		NaturalName: om.relPath,
		MountedName: full,
		Snapshot:    snapshotFromFileInfo(info),
		Size:        info.Size(),
	}, nil
}

func snapshotFromFileInfo(info os.FileInfo) Snapshot {
	return Snapshot{State: StatePresent, ModTime: info.ModTime().UnixNano()}
}

// Monitor answers with the current snapshot and does not retain cb.
// Changes under an OS-raw root reach depval through ChangeMonitor,
// which reports them with System.NotifyFileState.
func (b *OSRaw) Monitor(m Marker, cb func(Snapshot)) (Snapshot, error) {
	desc, err := b.Describe(m)
	if err != nil {
		return Snapshot{}, err
	}
	_ = cb // not retained; change events come from ChangeMonitor
	return desc.Snapshot, nil
}

func (b *OSRaw) FakeChange(m Marker) error {
	_, err := b.Describe(m)
	return err
}

func (b *OSRaw) FindFiles(base, glob string) ([]string, error) {
	full, err := b.resolve(base)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(full, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(b.root, path)
		rel = filepath.ToSlash(rel)
		matched, _ := doublestar.Match(glob, rel)
		if matched {
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}

func (b *OSRaw) FindSubdirs(base string) ([]string, error) {
	full, err := b.resolve(base)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/depval"
	"github.com/standardbeagle/forgecache/internal/store/loose"
	"github.com/standardbeagle/forgecache/internal/store/xarch"
)

// depStateToText and textToDepState translate depval's existence
// states to and from §6.3's manifest vocabulary. StatePending (a file
// observed mid-transition) is the closest analog to "shadowed" (a
// file hidden behind a higher-priority mount) that depval's three-
// state model offers; both mean "don't trust a modtime comparison
// here".
func depStateToText(snap depval.Snapshot) string {
	switch snap.State {
	case depval.StateMissing:
		return loose.DepDoesNotExist
	case depval.StatePending:
		return loose.DepShadowed
	default:
		return strconv.FormatInt(snap.ModTime, 10)
	}
}

func textToDepState(text string) depval.Snapshot {
	switch text {
	case loose.DepDoesNotExist:
		return depval.Snapshot{State: depval.StateMissing}
	case loose.DepShadowed:
		return depval.Snapshot{State: depval.StatePending}
	default:
		modTime, _ := strconv.ParseInt(text, 10, 64)
		return depval.Snapshot{State: depval.StatePresent, ModTime: modTime}
	}
}

// marker is the .store file's single field, per §6.4.
type marker struct {
	VersionString string `toml:"VersionString"`
}

// ProgressiveStore is the default writable intermediates store. On
// first use it resolves a version-tagged subdirectory under
// baseDir/.int-<configString>/ (or baseDir/.int/u in universal mode),
// taking an exclusive lock on a .store.lock file in that subdirectory
// so no other process shares it concurrently, per §4.4. The lock is
// tried once; if another holder has it, opening fails.
type ProgressiveStore struct {
	mu       sync.Mutex
	dir      string
	lock     *flock.Flock
	gate     *fingerprintGate
	groups   map[string]*Group
	loose    map[string]*loose.Cache       // groupID -> loose cache rooted at dir/<safeGroupName>
	archives map[string]*xarch.ArchiveCache // groupID -> archive cache, only if group.EnableArchive
	debug    bool
	sys      *depval.System // reconstructs Handles from persisted dependency lists on retrieval
}

// OpenProgressiveStore resolves and locks the version directory
// described above. versionString identifies the data format/build
// this process writes; configString distinguishes independent cache
// families (e.g. debug vs release) sharing the same baseDir.
func OpenProgressiveStore(baseDir, configString, versionString string, universal, debugChecks bool, sys *depval.System) (*ProgressiveStore, error) {
	var dir string
	if universal {
		dir = filepath.Join(baseDir, ".int", "u")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating universal dir: %w", err)
		}
	} else {
		found, err := resolveVersionedDir(baseDir, configString, versionString)
		if err != nil {
			return nil, err
		}
		dir = found
	}

	lockPath := filepath.Join(dir, ".store.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("store: locking %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("store: %s is already locked by another process", dir)
	}

	return &ProgressiveStore{
		dir:      dir,
		lock:     lock,
		gate:     newFingerprintGate(),
		groups:   make(map[string]*Group),
		loose:    make(map[string]*loose.Cache),
		archives: make(map[string]*xarch.ArchiveCache),
		debug:    debugChecks,
		sys:      sys,
	}, nil
}

// resolveVersionedDir searches baseDir/.int-<configString>/<index>/
// subdirectories for a .store marker matching versionString; the
// first match wins. If none matches, it allocates the lowest free
// integer subdirectory and writes a fresh marker.
func resolveVersionedDir(baseDir, configString, versionString string) (string, error) {
	root := filepath.Join(baseDir, ".int-"+configString)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("store: creating %s: %w", root, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("store: reading %s: %w", root, err)
	}

	used := make(map[int]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		idx, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		used[idx] = true

		storePath := filepath.Join(root, e.Name(), ".store")
		data, err := os.ReadFile(storePath)
		if err != nil {
			continue
		}
		var m marker
		if err := toml.Unmarshal(data, &m); err != nil {
			continue
		}
		if m.VersionString == versionString {
			return filepath.Join(root, e.Name()), nil
		}
	}

	idx := lowestFreeInt(used)
	dir := filepath.Join(root, strconv.Itoa(idx))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: creating %s: %w", dir, err)
	}
	data, err := toml.Marshal(marker{VersionString: versionString})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, ".store"), data, 0o644); err != nil {
		return "", fmt.Errorf("store: writing .store marker: %w", err)
	}
	return dir, nil
}

func lowestFreeInt(used map[int]bool) int {
	indices := make([]int, 0, len(used))
	for i := range used {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	next := 0
	for _, i := range indices {
		if i != next {
			break
		}
		next++
	}
	return next
}

func (s *ProgressiveStore) Writable() bool { return true }

// Close releases the exclusive lock on this store's version directory.
func (s *ProgressiveStore) Close() error {
	return s.lock.Unlock()
}

func safeGroupDir(shortName string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(shortName)
}

func (s *ProgressiveStore) RegisterCompileProductsGroup(shortName, compilerVersion string, enableArchive bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groupID := shortName
	if g, ok := s.groups[groupID]; ok {
		g.refCount++
		return groupID, nil
	}

	groupDir := filepath.Join(s.dir, safeGroupDir(shortName))
	if err := os.MkdirAll(groupDir, 0o755); err != nil {
		return "", fmt.Errorf("store: creating group dir %s: %w", groupDir, err)
	}
	lc, err := loose.New(groupDir, s.debug)
	if err != nil {
		return "", err
	}
	s.loose[groupID] = lc

	if enableArchive {
		ac, err := xarch.OpenArchiveCache(filepath.Join(groupDir, "entries.arc"))
		if err != nil {
			return "", err
		}
		s.archives[groupID] = ac
	}

	s.groups[groupID] = &Group{ID: groupID, ShortName: shortName, CompilerVersion: compilerVersion, EnableArchive: enableArchive, refCount: 1}
	return groupID, nil
}

// DeregisterCompileProductsGroup drops a reference; at zero it flushes
// and closes the group's archive cache, per §4.4 "deregistration
// flushes and may drop the archive set".
func (s *ProgressiveStore) DeregisterCompileProductsGroup(groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("store: unknown group %q", groupID)
	}
	g.refCount--
	if g.refCount > 0 {
		return nil
	}
	delete(s.groups, groupID)
	delete(s.loose, groupID)
	if ac, ok := s.archives[groupID]; ok {
		if err := ac.FlushToDisk(); err != nil {
			return err
		}
		delete(s.archives, groupID)
		return ac.Close()
	}
	return nil
}

func (s *ProgressiveStore) StoreCompileProducts(name, groupID string, arts []artifact.Artifact, state artifact.State, dep depval.Handle) (artifact.Collection, error) {
	release, err := s.gate.acquireWrite(name)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	lc, ok := s.loose[groupID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown group %q", groupID)
	}

	chunks := make([]loose.Chunk, len(arts))
	files := make(map[uint64]string, len(arts))
	versions := make(map[uint64]uint32, len(arts))
	for i, a := range arts {
		chunks[i] = loose.Chunk{TypeCode: uint32(a.ChunkTypeCode), Name: a.Name, Data: a.Payload}
	}

	var deps []loose.DependencyEntry
	if s.sys != nil && dep.Valid() {
		for _, fs := range s.sys.CollateDependentFileStates(dep.Marker()) {
			deps = append(deps, loose.DependencyEntry{Filename: fs.Filename, State: depStateToText(fs.Snapshot)})
		}
	}

	if err := lc.WriteEntry(name, "", state == artifact.StateInvalid, chunks, deps); err != nil {
		return nil, err
	}
	m, _, _, err := lc.ReadEntry(name)
	if err != nil {
		return nil, err
	}
	for code, fname := range m.Chunks {
		files[uint64(code)] = fname
	}
	for _, a := range arts {
		versions[a.ChunkTypeCode] = a.Version
	}

	groupDir := filepath.Join(s.dir, safeGroupDir(groupID))
	return artifact.NewChunkFileCollection(state, dep, name, groupDir, files, versions), nil
}

func (s *ProgressiveStore) RetrieveCompileProducts(name, groupID string) (artifact.Collection, error) {
	release, err := s.gate.acquireRead(name)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	lc, ok := s.loose[groupID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown group %q", groupID)
	}

	m, _, found, err := lc.ReadEntry(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	files := make(map[uint64]string, len(m.Chunks))
	for code, fname := range m.Chunks {
		files[uint64(code)] = fname
	}
	state := artifact.StateReady
	if m.Invalid {
		state = artifact.StateInvalid
	}

	dep := depval.NoHandle
	if s.sys != nil {
		states := make([]depval.DependentFileState, len(m.Dependencies))
		for i, d := range m.Dependencies {
			states[i] = depval.DependentFileState{Filename: d.Filename, Snapshot: textToDepState(d.State)}
		}
		dep = s.sys.MakeFromFiles(states)
		if dep.ValidationIndex() > 0 {
			dep.Release()
			return nil, nil
		}
	}

	groupDir := filepath.Join(s.dir, safeGroupDir(groupID))
	return artifact.NewChunkFileCollection(state, dep, name, groupDir, files, nil), nil
}

func (s *ProgressiveStore) StoreCompileProductsArchive(archiveName, entryID, descriptiveName, groupID string, arts []artifact.Artifact, state artifact.State, dep depval.Handle) error {
	release, err := s.gate.acquireWrite(entryID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	ac, ok := s.archives[groupID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("store: group %q has no archive cache registered", groupID)
	}

	blobs := make([]xarch.ArtifactBlob, len(arts))
	for i, a := range arts {
		blobs[i] = xarch.ArtifactBlob{ChunkTypeCode: uint32(a.ChunkTypeCode), Version: a.Version, Name: a.Name, Data: a.Payload}
	}

	var deps []xarch.DependencyFile
	if s.sys != nil && dep.Valid() {
		for _, fs := range s.sys.CollateDependentFileStates(dep.Marker()) {
			deps = append(deps, xarch.DependencyFile{Filename: fs.Filename, State: int(fs.Snapshot.State), ModTime: fs.Snapshot.ModTime})
		}
	}

	ac.Commit(xarch.PendingCommit{EntryID: entryID, Description: descriptiveName, Invalid: state == artifact.StateInvalid, Artifacts: blobs, Dependencies: deps})
	return ac.FlushToDisk()
}

func (s *ProgressiveStore) RetrieveCompileProductsArchive(archiveName, entryID, groupID string) (artifact.Collection, error) {
	release, err := s.gate.acquireRead(entryID)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	ac, ok := s.archives[groupID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("store: group %q has no archive cache registered", groupID)
	}

	res, ok := ac.TryOpenFromCache(entryID)
	if !ok {
		return nil, nil
	}
	state := artifact.StateReady
	if res.Invalid {
		state = artifact.StateInvalid
	}

	dep := depval.NoHandle
	if s.sys != nil {
		files := ac.DependenciesForEntry(entryID)
		states := make([]depval.DependentFileState, len(files))
		for i, f := range files {
			states[i] = depval.DependentFileState{Filename: f.Filename, Snapshot: depval.Snapshot{State: depval.SnapshotState(f.State), ModTime: f.ModTime}}
		}
		dep = s.sys.MakeFromFiles(states)
		if dep.ValidationIndex() > 0 {
			dep.Release()
			return nil, nil
		}
	}

	return artifact.NewArchiveEntryCollection(state, dep, res.Description, entryID, res.ChangeID,
		ac.IsStale,
		func(entryID string, chunkTypeCode uint64) ([]byte, uint32, string, error) {
			r2, ok := ac.TryOpenFromCache(entryID)
			if !ok {
				return nil, 0, "", fmt.Errorf("store: entry %q vanished from archive", entryID)
			}
			for _, b := range r2.Blocks {
				if uint64(b.ChunkTypeCode) == chunkTypeCode {
					data, err := ac.ReadBlock(b)
					return data, b.Version, b.Name, err
				}
			}
			return nil, 0, "", fmt.Errorf("store: no chunk type %d in entry %q", chunkTypeCode, entryID)
		}), nil
}

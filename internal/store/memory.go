package store

import (
	"fmt"
	"sync"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/depval"
)

// MemoryStore has no filesystem backing at all: every group's entries
// live purely as in-memory BlobCollections. This realizes §4.4's
// "in-memory-only store: no filesystem; all groups use archive-cache
// with a null filesystem backing" as a plain guarded map rather than
// forcing the on-disk ArchiveCache machinery onto a throwaway file —
// the observable behavior (ready-made collections, no persistence
// across process restarts) is identical without inventing a null-file
// abstraction nothing else in the stack needs.
type MemoryStore struct {
	mu      sync.RWMutex
	gate    *fingerprintGate
	groups  map[string]bool
	entries map[string]*artifact.BlobCollection // key: groupID + "\x00" + name
	loadIdx map[string]uint32                    // validation index observed when the entry was stored
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		gate:    newFingerprintGate(),
		groups:  make(map[string]bool),
		entries: make(map[string]*artifact.BlobCollection),
		loadIdx: make(map[string]uint32),
	}
}

func entryKey(groupID, name string) string { return groupID + "\x00" + name }

func (s *MemoryStore) Writable() bool { return true }

func (s *MemoryStore) RegisterCompileProductsGroup(shortName, compilerVersion string, enableArchive bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[shortName] = true
	return shortName, nil
}

func (s *MemoryStore) StoreCompileProducts(name, groupID string, arts []artifact.Artifact, state artifact.State, dep depval.Handle) (artifact.Collection, error) {
	release, err := s.gate.acquireWrite(name)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.groups[groupID] {
		return nil, fmt.Errorf("store: unknown group %q", groupID)
	}
	c := artifact.NewBlobCollection(state, dep, name, arts)
	key := entryKey(groupID, name)
	s.entries[key] = c
	s.loadIdx[key] = dep.ValidationIndex()
	return c, nil
}

func (s *MemoryStore) RetrieveCompileProducts(name, groupID string) (artifact.Collection, error) {
	release, err := s.gate.acquireRead(name)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.groups[groupID] {
		return nil, fmt.Errorf("store: unknown group %q", groupID)
	}
	key := entryKey(groupID, name)
	c, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if c.DepVal().Valid() && !c.DepVal().IsCleanSince(s.loadIdx[key]) {
		return nil, nil
	}
	return c, nil
}

func (s *MemoryStore) StoreCompileProductsArchive(archiveName, entryID, descriptiveName, groupID string, arts []artifact.Artifact, state artifact.State, dep depval.Handle) error {
	_, err := s.StoreCompileProducts(entryID, groupID, arts, state, dep)
	return err
}

func (s *MemoryStore) RetrieveCompileProductsArchive(archiveName, entryID, groupID string) (artifact.Collection, error) {
	return s.RetrieveCompileProducts(entryID, groupID)
}

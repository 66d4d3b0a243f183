package store

import (
	"fmt"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/depval"
	"github.com/standardbeagle/forgecache/internal/store/xarch"
)

// ArchivedStore is mounted over an existing packed archive; reads are
// served directly from it and writes always fail, per §4.4 "Archived
// store: ... Reads only; writes throw."
type ArchivedStore struct {
	reader *xarch.Reader
}

// OpenArchivedStore opens the XPAK at path for read-only retrieval.
func OpenArchivedStore(path string) (*ArchivedStore, error) {
	r, err := xarch.Open(path)
	if err != nil {
		return nil, err
	}
	return &ArchivedStore{reader: r}, nil
}

func (s *ArchivedStore) Close() error { return s.reader.Close() }

func (s *ArchivedStore) Writable() bool { return false }

func (s *ArchivedStore) RegisterCompileProductsGroup(shortName, compilerVersion string, enableArchive bool) (string, error) {
	return shortName, nil
}

func (s *ArchivedStore) RetrieveCompileProducts(name, groupID string) (artifact.Collection, error) {
	entry, ok := s.reader.Lookup(xarch.HashName(name))
	if !ok {
		return nil, nil
	}
	data, err := s.reader.ReadPayload(entry)
	if err != nil {
		return nil, err
	}
	return artifact.NewBlobCollection(artifact.StateReady, depval.NoHandle, name, []artifact.Artifact{
		{ChunkTypeCode: 0, Version: 1, Name: entry.Name, Payload: data},
	}), nil
}

func (s *ArchivedStore) StoreCompileProducts(name, groupID string, arts []artifact.Artifact, state artifact.State, dep depval.Handle) (artifact.Collection, error) {
	return nil, fmt.Errorf("store: archived store %q is read-only", name)
}

func (s *ArchivedStore) StoreCompileProductsArchive(archiveName, entryID, descriptiveName, groupID string, arts []artifact.Artifact, state artifact.State, dep depval.Handle) error {
	return fmt.Errorf("store: archived store %q is read-only", entryID)
}

func (s *ArchivedStore) RetrieveCompileProductsArchive(archiveName, entryID, groupID string) (artifact.Collection, error) {
	return s.RetrieveCompileProducts(entryID, groupID)
}

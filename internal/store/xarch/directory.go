package xarch

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// BlockRecord is one artifact payload's directory entry: where its
// bytes live in the data file, and which chunk it represents.
type BlockRecord struct {
	EntryID       string `toml:"entry_id"`
	ChunkTypeCode uint32 `toml:"chunk_type_code"`
	Version       uint32 `toml:"version"`
	Name          string `toml:"name"`
	Offset        int64  `toml:"offset"`
	Size          int64  `toml:"size"`
}

// CollectionRecord groups the blocks that make up one stored entry.
type CollectionRecord struct {
	EntryID     string `toml:"entry_id"`
	Description string `toml:"description"`
	Invalid     bool   `toml:"invalid"`
}

// DependencyFile is one (filename, observed snapshot) pair attached to
// an entry, the on-disk counterpart of a depval.DependentFileState.
type DependencyFile struct {
	Filename string `toml:"filename"`
	State    int    `toml:"state"`
	ModTime  int64  `toml:"mod_time"`
}

// DependencyRecord is the dependency table for one entry.
type DependencyRecord struct {
	EntryID string           `toml:"entry_id"`
	Files   []DependencyFile `toml:"files"`
}

// Directory is the sidecar file's full content: version/date strings
// plus the block, collection and dependency tables (§6.2).
type Directory struct {
	VersionString string             `toml:"version_string"`
	Blocks        []BlockRecord      `toml:"blocks"`
	Collections   []CollectionRecord `toml:"collections"`
	Dependencies  []DependencyRecord `toml:"dependencies"`
}

// LoadDirectory reads and parses a sidecar directory file. A missing
// file is not an error — it means the archive cache is fresh.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Directory{}, nil
		}
		return nil, err
	}
	var d Directory
	if err := toml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Save serializes the directory back to path.
func (d *Directory) Save(path string) error {
	data, err := toml.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// BlocksForEntry returns every block belonging to entryID.
func (d *Directory) BlocksForEntry(entryID string) []BlockRecord {
	var out []BlockRecord
	for _, b := range d.Blocks {
		if b.EntryID == entryID {
			out = append(out, b)
		}
	}
	return out
}

// RemoveEntry drops every block, collection and dependency record for
// entryID (used before rewriting an entry during flush).
func (d *Directory) RemoveEntry(entryID string) {
	d.Blocks = filterBlocks(d.Blocks, entryID)
	d.Collections = filterCollections(d.Collections, entryID)
	d.Dependencies = filterDeps(d.Dependencies, entryID)
}

func filterBlocks(in []BlockRecord, entryID string) []BlockRecord {
	out := in[:0]
	for _, b := range in {
		if b.EntryID != entryID {
			out = append(out, b)
		}
	}
	return out
}

func filterCollections(in []CollectionRecord, entryID string) []CollectionRecord {
	out := in[:0]
	for _, c := range in {
		if c.EntryID != entryID {
			out = append(out, c)
		}
	}
	return out
}

func filterDeps(in []DependencyRecord, entryID string) []DependencyRecord {
	out := in[:0]
	for _, dep := range in {
		if dep.EntryID != entryID {
			out = append(out, dep)
		}
	}
	return out
}

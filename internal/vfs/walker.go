package vfs

// Walker enumerates a subtree across every mount covering it, merging
// directory entries and deduplicating by filename hash — §4.2.1's
// FileSystemWalker.
type Walker struct {
	tree *MountingTree
}

func NewWalker(tree *MountingTree) *Walker {
	return &Walker{tree: tree}
}

// Walk lists the distinct names that every Searchable mount, and the
// default backend if it is Searchable, reports for FindFiles(base,
// glob). base is passed to each backend unchanged: mount prefixes are
// not consulted, and a backend whose FindFiles fails is skipped.
func (w *Walker) Walk(base, glob string) ([]string, error) {
	mounts, _, def := w.tree.snapshotMounts()

	seen := make(map[string]struct{})
	var out []string

	add := func(names []string) {
		for _, n := range names {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}

	for _, m := range mounts {
		s, ok := m.backend.(Searchable)
		if !ok {
			continue
		}
		names, err := s.FindFiles(base, glob)
		if err != nil {
			continue
		}
		add(names)
	}
	if s, ok := def.(Searchable); ok {
		if names, err := s.FindFiles(base, glob); err == nil {
			add(names)
		}
	}
	return out, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/forgecache/internal/store/loose"
	"github.com/standardbeagle/forgecache/internal/store/xarch"
)

var packArchiveCommand = &cli.Command{
	Name:  "pack-archive",
	Usage: "copy named entries from a loose-files cache into an archive-cache data file",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "loose-dir", Required: true, Usage: "source loose-files cache directory"},
		&cli.StringFlag{Name: "archive-path", Required: true, Usage: "destination archive data file"},
		&cli.StringSliceFlag{Name: "entry", Required: true, Usage: "entry id to pack (repeatable)"},
	},
	Action: func(c *cli.Context) error {
		lc, err := loose.New(c.String("loose-dir"), false)
		if err != nil {
			return fmt.Errorf("opening loose cache: %w", err)
		}

		ac, err := xarch.OpenArchiveCache(c.String("archive-path"))
		if err != nil {
			return fmt.Errorf("opening archive cache: %w", err)
		}
		defer ac.Close()

		packed := 0
		for _, entryID := range c.StringSlice("entry") {
			m, chunks, ok, err := lc.ReadEntry(entryID)
			if err != nil {
				return fmt.Errorf("reading loose entry %q: %w", entryID, err)
			}
			if !ok {
				fmt.Fprintf(os.Stderr, "skipping %q: not found in loose cache\n", entryID)
				continue
			}

			blobs := make([]xarch.ArtifactBlob, 0, len(chunks))
			for code, data := range chunks {
				blobs = append(blobs, xarch.ArtifactBlob{ChunkTypeCode: code, Version: 1, Name: fmt.Sprintf("%d", code), Data: data})
			}
			deps := make([]xarch.DependencyFile, 0, len(m.Dependencies))
			for _, d := range m.Dependencies {
				deps = append(deps, xarch.DependencyFile{Filename: d.Filename})
			}

			ac.Commit(xarch.PendingCommit{
				EntryID:      entryID,
				Description:  m.BasePath,
				Invalid:      m.Invalid,
				Artifacts:    blobs,
				Dependencies: deps,
			})
			packed++
		}

		if err := ac.FlushToDisk(); err != nil {
			return fmt.Errorf("flushing archive: %w", err)
		}

		fmt.Fprintf(os.Stdout, "packed %d entries into %s\n", packed, c.String("archive-path"))
		return nil
	},
}

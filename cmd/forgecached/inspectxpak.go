package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/forgecache/internal/vfs"
)

var inspectXPAKCommand = &cli.Command{
	Name:  "inspect-xpak",
	Usage: "open a packed XPAK archive and list (or dump) its contents",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "path", Required: true, Usage: "path to the .xpak archive"},
		&cli.StringFlag{Name: "glob", Value: "**/*", Usage: "glob pattern to list"},
		&cli.StringFlag{Name: "dump", Usage: "if set, write this file's contents to stdout instead of listing"},
		&cli.Int64Flag{Name: "resident-bytes", Value: 64 << 20, Usage: "resident page cache budget"},
	},
	Action: func(c *cli.Context) error {
		x, err := vfs.OpenXPAK(c.String("path"), c.Int64("resident-bytes"))
		if err != nil {
			return fmt.Errorf("opening xpak %s: %w", c.String("path"), err)
		}
		defer x.Close()

		if dump := c.String("dump"); dump != "" {
			result, marker := x.Translate(dump)
			if result != vfs.Success {
				return fmt.Errorf("file %q not found in archive", dump)
			}
			rc, err := x.Open(marker)
			if err != nil {
				return fmt.Errorf("opening %q: %w", dump, err)
			}
			defer rc.Close()
			_, err = io.Copy(os.Stdout, rc)
			return err
		}

		names, err := x.FindFiles("", c.String("glob"))
		if err != nil {
			return fmt.Errorf("listing archive: %w", err)
		}
		for _, name := range names {
			_, marker := x.Translate(name)
			desc, err := x.Describe(marker)
			if err != nil {
				fmt.Fprintf(os.Stdout, "%s\t(describe error: %v)\n", name, err)
				continue
			}
			fmt.Fprintf(os.Stdout, "%s\t%d bytes\n", name, desc.Size)
		}
		fmt.Fprintf(os.Stderr, "%d entries\n", len(names))
		return nil
	},
}

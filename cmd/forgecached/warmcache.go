package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/forgecache/internal/depval"
	"github.com/standardbeagle/forgecache/internal/vfs"
	"github.com/standardbeagle/forgecache/pkg/pathrules"
)

// statForDepVal is the depval.StatFunc used by CLI subcommands that
// watch plain OS files rather than a mounted vfs.Backend.
func statForDepVal(filename string) depval.Snapshot {
	info, err := os.Stat(filename)
	if err != nil {
		return depval.Snapshot{State: depval.StateMissing}
	}
	return depval.Snapshot{State: depval.StatePresent, ModTime: info.ModTime().UnixNano()}
}

var warmCacheCommand = &cli.Command{
	Name:  "warm-cache",
	Usage: "walk the project root and register a DepVal dependency for every file found",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "glob",
			Usage: "glob pattern to walk",
			Value: "**/*",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfigWithOverrides(c)
		if err != nil {
			return err
		}

		sys := depval.NewSystem(statForDepVal)
		backend := vfs.NewOSRaw(cfg.Project.Root, pathrules.Default(), vfs.OSRawOptions{})
		tree := vfs.NewMountingTree(backend)
		walker := vfs.NewWalker(tree)

		names, err := walker.Walk("", c.String("glob"))
		if err != nil {
			return fmt.Errorf("walking %s: %w", cfg.Project.Root, err)
		}

		handle := sys.MakeFromFilenames(names)
		defer handle.Release()

		fmt.Fprintf(os.Stdout, "warmed %d file dependencies under %s (validation index %d)\n",
			len(names), cfg.Project.Root, handle.ValidationIndex())
		return nil
	},
}

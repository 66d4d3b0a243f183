// Command forgecached is the asset build and caching core's front
// door, grounded on the teacher's cmd/lci/main.go: one urfave/cli/v2
// app, global config/root flags, and a handful of operational
// subcommands rather than a long-running daemon loop.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/forgecache/internal/config"
	"github.com/standardbeagle/forgecache/internal/debug"
	"github.com/standardbeagle/forgecache/internal/version"
)

func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	root := c.String("root")
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, err
	}
	if c.Bool("debug") {
		cfg.Debug.Enabled = true
		debug.EnableDebug = "true"
		debug.SetOutput(os.Stderr)
	}
	return cfg, nil
}

func main() {
	app := &cli.App{
		Name:                   "forgecached",
		Usage:                  "asset build and caching core",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "project root directory (looks for forgecache.kdl there)",
				Value:   ".",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging to stderr",
			},
		},
		Commands: []*cli.Command{
			warmCacheCommand,
			packArchiveCommand,
			inspectXPAKCommand,
			compileSmokeTestCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "forgecached:", err)
		os.Exit(1)
	}
}

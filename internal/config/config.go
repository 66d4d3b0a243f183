// Package config loads forgecached's engine configuration from a
// forgecache.kdl file, following the teacher's struct-of-structs +
// KDL-parse-then-validate shape (internal/config/kdl_config.go +
// validator.go) scaled down to this engine's much smaller surface:
// where the file is silent, every field falls back to a documented
// default rather than requiring exhaustive configuration.
package config

import "fmt"

// Project describes the root the engine serves assets out of.
type Project struct {
	Root string
	Name string
}

// Store describes the intermediates store (§4.4).
type Store struct {
	BaseDir       string // progressive store base directory
	VersionString string // identifies the running engine build
	ConfigString  string // e.g. "debug-x64"; selects .int-<configString>/
	Universal     bool   // skip versioning, use baseDir/.int/u
	EnableArchive bool   // default archive-vs-loose election for new groups
}

// Pool describes the compile dispatcher's workpool.Pool sizing.
type Pool struct {
	WorkerCount int
}

// VFS describes the mounted read-only XPAK backends' cache behavior.
type VFS struct {
	PageSize      int64
	ResidentBytes int64
}

// Debug holds the debug flag parsed from forgecache.kdl. No package
// reads it: the loose-files duplicate-rename-detection pass (§4.4.1) is
// switched by the debugChecks argument of store.OpenProgressiveStore
// and loose.New, and the XPAK backend has no debug-only check.
type Debug struct {
	Enabled bool
}

// Config is the root configuration object.
type Config struct {
	Version int
	Project Project
	Store   Store
	Pool    Pool
	VFS     VFS
	Debug   Debug
}

// Default returns a Config with every field at its documented default.
func Default() *Config {
	return &Config{
		Version: 1,
		Store: Store{
			BaseDir:       ".forgecache-store",
			VersionString: "dev",
			ConfigString:  "debug",
			EnableArchive: false,
		},
		Pool: Pool{
			WorkerCount: 4,
		},
		VFS: VFS{
			PageSize:      1 << 20,
			ResidentBytes: 64 << 20,
		},
	}
}

// Validate checks the invariants the KDL loader cannot express
// structurally: a store with no base directory is useless, a pool
// needs at least one worker, and page sizes must be positive.
func (c *Config) Validate() error {
	if c.Store.BaseDir == "" {
		return fmt.Errorf("config: store.base_dir must not be empty")
	}
	if !c.Store.Universal && c.Store.VersionString == "" {
		return fmt.Errorf("config: store.version_string must not be empty unless store.universal is set")
	}
	if c.Pool.WorkerCount < 1 {
		return fmt.Errorf("config: pool.worker_count must be at least 1, got %d", c.Pool.WorkerCount)
	}
	if c.VFS.PageSize <= 0 {
		return fmt.Errorf("config: vfs.page_size must be positive, got %d", c.VFS.PageSize)
	}
	if c.VFS.ResidentBytes < c.VFS.PageSize {
		return fmt.Errorf("config: vfs.resident_bytes (%d) must be at least one page (%d)", c.VFS.ResidentBytes, c.VFS.PageSize)
	}
	return nil
}

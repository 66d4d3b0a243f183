package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// Load reads forgecache.kdl from projectRoot. A missing file is not an
// error: Default() is returned as-is so the engine runs out of the box.
func Load(projectRoot string) (*Config, error) {
	path := filepath.Join(projectRoot, "forgecache.kdl")
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.Project.Root = projectRoot
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}
	if cfg.Project.Root == "" {
		cfg.Project.Root = projectRoot
	} else if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Clean(filepath.Join(projectRoot, cfg.Project.Root))
	}
	if !filepath.IsAbs(cfg.Store.BaseDir) {
		cfg.Store.BaseDir = filepath.Clean(filepath.Join(projectRoot, cfg.Store.BaseDir))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseKDL(content string) (*Config, error) {
	cfg := Default()

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("config: parsing KDL: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "root":
					if s, ok := firstStringArg(cn); ok {
						cfg.Project.Root = s
					}
				case "name":
					if s, ok := firstStringArg(cn); ok {
						cfg.Project.Name = s
					}
				}
			}
		case "store":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "base_dir":
					if s, ok := firstStringArg(cn); ok {
						cfg.Store.BaseDir = s
					}
				case "version_string":
					if s, ok := firstStringArg(cn); ok {
						cfg.Store.VersionString = s
					}
				case "config_string":
					if s, ok := firstStringArg(cn); ok {
						cfg.Store.ConfigString = s
					}
				case "universal":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Store.Universal = b
					}
				case "enable_archive":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Store.EnableArchive = b
					}
				}
			}
		case "pool":
			for _, cn := range n.Children {
				if nodeName(cn) == "worker_count" {
					if v, ok := firstIntArg(cn); ok {
						cfg.Pool.WorkerCount = v
					}
				}
			}
		case "vfs":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "page_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.VFS.PageSize = int64(v)
					}
				case "resident_bytes":
					if v, ok := firstIntArg(cn); ok {
						cfg.VFS.ResidentBytes = int64(v)
					}
				}
			}
		case "debug":
			for _, cn := range n.Children {
				if nodeName(cn) == "enabled" {
					if b, ok := firstBoolArg(cn); ok {
						cfg.Debug.Enabled = b
					}
				}
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	s, ok := n.Arguments[0].Value.(string)
	return s, ok
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	b, ok := n.Arguments[0].Value.(bool)
	return b, ok
}

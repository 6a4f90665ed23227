package netcfg

import (
	"os"

	"github.com/kevinburke/ssh_config"
)

// HostAliases maps short names to registry/proxy endpoints, loaded from
// an optional boxlite.net file in ssh_config Host-block syntax:
//
//	Host registry
//	    HostName registry.internal.example:5000
//
// This reuses the well-understood block format instead of inventing a
// parser for a three-line config.
type HostAliases struct {
	cfg *ssh_config.Config
}

// LoadHostAliases reads path; a missing file yields an empty alias set.
func LoadHostAliases(path string) (*HostAliases, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &HostAliases{}, nil
		}
		return nil, err
	}
	defer f.Close()
	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, err
	}
	return &HostAliases{cfg: cfg}, nil
}

// Resolve returns the endpoint for alias, or the alias itself when no
// block matches (so callers can pass references through unchanged).
func (h *HostAliases) Resolve(alias string) string {
	if h.cfg == nil {
		return alias
	}
	host, err := h.cfg.Get(alias, "HostName")
	if err != nil || host == "" {
		return alias
	}
	return host
}

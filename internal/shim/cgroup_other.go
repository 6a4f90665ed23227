//go:build !linux

package shim

import "github.com/boxlite/boxlite/internal/vmm"

// setupCgroup is Linux-only; rlimits inside the shim are the only caps
// elsewhere.
func setupCgroup(spec vmm.InstanceSpec, pid uint32) error {
	return nil
}

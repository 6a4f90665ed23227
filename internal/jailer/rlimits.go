//go:build unix

package jailer

import (
	"golang.org/x/sys/unix"

	"github.com/boxlite/boxlite/internal/berrors"
)

// ApplyRlimits installs the configured resource limits on the current
// process. The shim calls this before handing control to the VMM.
func ApplyRlimits(limits ResourceLimits) error {
	set := func(resource int, value uint64, name string) error {
		lim := unix.Rlimit{Cur: value, Max: value}
		if err := unix.Setrlimit(resource, &lim); err != nil {
			return berrors.Wrap(berrors.Config, "setting rlimit "+name, err)
		}
		return nil
	}
	if limits.MaxMemoryBytes != nil {
		if err := set(unix.RLIMIT_AS, *limits.MaxMemoryBytes, "as"); err != nil {
			return err
		}
	}
	if limits.MaxCPUTimeSecs != nil {
		if err := set(unix.RLIMIT_CPU, *limits.MaxCPUTimeSecs, "cpu"); err != nil {
			return err
		}
	}
	if limits.MaxOpenFiles != nil {
		if err := set(unix.RLIMIT_NOFILE, *limits.MaxOpenFiles, "nofile"); err != nil {
			return err
		}
	}
	if limits.MaxStackBytes != nil {
		if err := set(unix.RLIMIT_STACK, *limits.MaxStackBytes, "stack"); err != nil {
			return err
		}
	}
	return nil
}

// CloseInheritedFDs closes every descriptor above stderr. bwrap leaks a
// few of its own; the VMM should start from a clean table.
func CloseInheritedFDs() {
	// A fixed sweep is simpler than walking /proc/self/fd while
	// mutating it, and cheap at shim startup.
	for fd := 3; fd < 1024; fd++ {
		_ = unix.Close(fd)
	}
}

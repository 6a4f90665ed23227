//go:build unix

package shim

import (
	"golang.org/x/sys/unix"
)

// IsProcessAlive reports whether a process with pid exists. Signal 0
// probes without delivering anything; EPERM still means alive.
func IsProcessAlive(pid uint32) bool {
	err := unix.Kill(int(pid), 0)
	return err == nil || err == unix.EPERM
}

// KillProcess delivers SIGKILL; errors (already dead) are ignored.
func KillProcess(pid uint32) {
	_ = unix.Kill(int(pid), unix.SIGKILL)
}

// TerminateProcess delivers SIGTERM for a graceful stop.
func TerminateProcess(pid uint32) {
	_ = unix.Kill(int(pid), unix.SIGTERM)
}

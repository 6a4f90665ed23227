//go:build unix

package shim

import (
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// GracefulShutdownTimeout is how long the watchdog (and the host-side
// stop path) waits after SIGTERM before escalating to SIGKILL.
const GracefulShutdownTimeout = 5 * time.Second

// StartParentWatchdog launches a goroutine that polls the
// parent process once a second and tears this process down when the
// parent dies: SIGTERM to self, a grace period, then SIGKILL with exit
// code 137. Only started when detach=false; detached shims are meant to
// outlive the parent.
func StartParentWatchdog(parentPID uint32) {
	go func() {
		self := os.Getpid()
		for {
			time.Sleep(time.Second)
			if IsProcessAlive(parentPID) {
				continue
			}
			slog.Info("parent process exited, initiating graceful shutdown", "parent_pid", parentPID)

			_ = unix.Kill(self, unix.SIGTERM)
			time.Sleep(GracefulShutdownTimeout)

			slog.Warn("graceful shutdown timed out, forcing exit",
				"timeout", GracefulShutdownTimeout)
			_ = unix.Kill(self, unix.SIGKILL)

			// SIGKILL should never fail, but leave nothing running if
			// it somehow did.
			os.Exit(137) // 128 + SIGKILL
		}
	}()
}

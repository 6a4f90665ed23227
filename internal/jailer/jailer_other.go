//go:build !linux && !darwin

package jailer

import (
	"context"
	"os/exec"
)

// Command spawns the shim directly; this platform has no sandbox
// front-end. Resource limits are still applied inside the shim.
func Command(ctx context.Context, shimPath string, shimArgs []string, paths Paths, sec SecurityOptions, detach bool) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, shimPath, shimArgs...), nil
}

package shim

import (
	"log/slog"

	"github.com/boxlite/boxlite/internal/jailer"
	"github.com/boxlite/boxlite/internal/vmm"
)

// setupCgroup creates the per-box cgroup and moves the freshly spawned
// shim into it. Failures are logged but non-fatal when no explicit
// limits were requested (unprivileged hosts often lack delegated
// controllers).
func setupCgroup(spec vmm.InstanceSpec, pid uint32) error {
	if !spec.Security.JailerEnabled {
		return nil
	}
	cg, err := jailer.SetupCgroup(spec.BoxID, spec.Security.ResourceLimits)
	if err != nil {
		if hasExplicitLimits(spec.Security.ResourceLimits) {
			return err
		}
		slog.Warn("cgroup setup failed, continuing without resource caps", "box_id", spec.BoxID, "error", err)
		return nil
	}
	if err := cg.AddPID(int(pid)); err != nil {
		if hasExplicitLimits(spec.Security.ResourceLimits) {
			return err
		}
		slog.Warn("cgroup join failed, continuing without resource caps", "box_id", spec.BoxID, "error", err)
	}
	return nil
}

func hasExplicitLimits(l jailer.ResourceLimits) bool {
	return l.MaxMemoryBytes != nil || l.MaxProcesses != nil ||
		l.MaxCPUTimeSecs != nil || l.CPUWeight != nil || l.CPUMaxPercent != nil
}

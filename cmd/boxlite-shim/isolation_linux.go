package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/boxlite/boxlite/internal/jailer"
	"github.com/boxlite/boxlite/internal/netcfg"
	"github.com/boxlite/boxlite/internal/vmm"
)

// applySeccomp installs the syscall filter after all setup that needs
// blocked syscalls has finished.
func applySeccomp(ctx context.Context, spec *vmm.InstanceSpec) error {
	if !spec.Security.JailerEnabled || !spec.Security.SeccompEnabled {
		slog.WarnContext(ctx, "seccomp disabled, running without syscall filtering", "box_id", spec.BoxID)
		return nil
	}
	filter := jailer.BuildSeccompFilter()
	if err := jailer.ApplySeccompFilter(filter); err != nil {
		return err
	}
	slog.InfoContext(ctx, "seccomp filter applied", "instructions", len(filter))
	return nil
}

// startNetworkBackend launches gvproxy next to the VM.
func startNetworkBackend(ctx context.Context, spec *vmm.InstanceSpec) (*netcfg.Backend, error) {
	if uplink := netcfg.DefaultRouteInterface(); uplink != "" {
		slog.DebugContext(ctx, "host uplink detected", "interface", uplink)
	}
	socketDir := filepath.Dir(spec.TransportPath)
	return netcfg.StartBackend(ctx, socketDir, spec.NetworkConfig.PortMappings)
}

//go:build !linux

package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/boxlite/boxlite/internal/netcfg"
	"github.com/boxlite/boxlite/internal/vmm"
)

// applySeccomp is Linux-only; Seatbelt (applied by the parent around
// this process) is the sandbox elsewhere.
func applySeccomp(ctx context.Context, spec *vmm.InstanceSpec) error {
	slog.DebugContext(ctx, "seccomp not available on this platform")
	return nil
}

func startNetworkBackend(ctx context.Context, spec *vmm.InstanceSpec) (*netcfg.Backend, error) {
	socketDir := filepath.Dir(spec.TransportPath)
	return netcfg.StartBackend(ctx, socketDir, spec.NetworkConfig.PortMappings)
}

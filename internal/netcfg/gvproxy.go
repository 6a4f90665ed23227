//go:build unix

package netcfg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/vmm"
)

// Backend is a running gvproxy instance. It is created by the shim and
// intentionally never stopped by hand: it must live exactly as long as
// the VM, and the OS reclaims it when the shim process exits.
type Backend struct {
	SocketPath string
	cmd        *exec.Cmd
}

// findGvproxy looks for the gvproxy binary in PATH, then in the bundled
// runtime directory.
func findGvproxy() string {
	if p, err := exec.LookPath("gvproxy"); err == nil {
		return p
	}
	if dir := os.Getenv("BOXLITE_RUNTIME_DIR"); dir != "" {
		bundled := filepath.Join(dir, "gvproxy")
		if _, err := os.Stat(bundled); err == nil {
			return bundled
		}
	}
	return ""
}

// StartBackend launches gvproxy with the resolved port forwards. The
// socket it serves is what the VMM attaches the guest's virtio-net to.
func StartBackend(ctx context.Context, socketDir string, mappings []vmm.PortMapping) (*Backend, error) {
	gvproxy := findGvproxy()
	if gvproxy == "" {
		return nil, berrors.New(berrors.Network, "gvproxy not found in PATH or BOXLITE_RUNTIME_DIR")
	}

	socketPath := filepath.Join(socketDir, "net.sock")
	_ = os.Remove(socketPath)

	args := []string{
		"-listen", "unix://" + socketPath,
		"-mtu", "1500",
	}
	guestAddr, _, _ := strings.Cut(GuestIP, "/")
	for _, pm := range mappings {
		args = append(args,
			"-forward",
			fmt.Sprintf("tcp://127.0.0.1:%d=tcp://%s:%d", pm.HostPort, guestAddr, pm.GuestPort))
	}

	cmd := exec.CommandContext(ctx, gvproxy, args...)
	if err := cmd.Start(); err != nil {
		return nil, berrors.Wrap(berrors.Network, "starting gvproxy", err)
	}
	go func() { _ = cmd.Wait() }()

	slog.InfoContext(ctx, "network backend started",
		"socket", socketPath, "forwards", len(mappings), "pid", cmd.Process.Pid)
	return &Backend{SocketPath: socketPath, cmd: cmd}, nil
}

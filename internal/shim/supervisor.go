//go:build unix

package shim

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/jailer"
	"github.com/boxlite/boxlite/internal/vmm"
)

// spawnProbeWindow is how long Spawn watches the fresh shim for an
// immediate crash before declaring the handshake complete.
const spawnProbeWindow = 500 * time.Millisecond

// Supervisor spawns and supervises one shim subprocess per box.
type Supervisor struct {
	// BundleDir holds the shim binary + libs to copy per box.
	BundleDir string
}

// NewSupervisor locates the shim bundle.
func NewSupervisor() (*Supervisor, error) {
	dir, err := FindShimBundle()
	if err != nil {
		return nil, err
	}
	return &Supervisor{BundleDir: dir}, nil
}

// Handle is the parent's view of a running shim.
type Handle struct {
	pid         uint32
	pidFilePath string
	bootStarted time.Time
	bootReady   time.Time
}

// Spawn copies the shim bundle into the box's bin directory, wraps the
// shim in the platform jailer, starts it, and completes the PID-file
// handshake. paths.BinDir receives the per-box copy; the pid file lands
// at pidFilePath.
func (s *Supervisor) Spawn(ctx context.Context, kind vmm.Kind, spec vmm.InstanceSpec, paths jailer.Paths, pidFilePath string) (*Handle, error) {
	shimPath, err := CopyBundle(s.BundleDir, paths.BinDir)
	if err != nil {
		return nil, err
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, berrors.Wrap(berrors.Internal, "serializing instance spec", err)
	}
	shimArgs := []string{
		"--engine", string(kind),
		"--config", string(specJSON),
	}

	// The jailer command must not inherit ctx cancellation for
	// detached boxes; their lifetime is decoupled from this call.
	cmdCtx := ctx
	if spec.Detach {
		cmdCtx = context.Background()
	}
	cmd, err := jailer.Command(cmdCtx, shimPath, shimArgs, paths, spec.Security, spec.Detach)
	if err != nil {
		return nil, err
	}
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, berrors.Wrap(berrors.Engine, "spawning shim", err)
	}
	pid := uint32(cmd.Process.Pid)
	started := time.Now()

	// Reap the child in the background so a crashed shim doesn't
	// linger as a zombie.
	go func() { _ = cmd.Wait() }()

	if err := setupCgroup(spec, pid); err != nil {
		KillProcess(pid)
		return nil, err
	}

	// PID-file handshake: the parent records the child pid; the file
	// existing is what recovery and reattach key off. (The shim's own
	// view of its pid is namespaced inside the sandbox, so the parent
	// writes the host-side value.)
	if err := WritePIDFile(pidFilePath, pid); err != nil {
		KillProcess(pid)
		return nil, err
	}

	// Brief liveness window: a shim that dies immediately (bad binary,
	// sandbox refusal) is caught here rather than at the much slower
	// guest connect phase.
	deadline := time.Now().Add(spawnProbeWindow)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(pid) {
			_ = RemovePIDFile(pidFilePath)
			return nil, berrors.Newf(berrors.Engine, "shim exited during startup (pid %d)", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}

	slog.InfoContext(ctx, "Supervisor.Spawn", "box_id", spec.BoxID, "pid", pid, "detach", spec.Detach)
	return &Handle{pid: pid, pidFilePath: pidFilePath, bootStarted: started}, nil
}

// Attach reconstructs a Handle for an already-running shim from its
// pid file (reattach path, used when status is Running).
func Attach(pidFilePath string, boxID string) (*Handle, error) {
	pid, err := ReadPIDFile(pidFilePath)
	if err != nil {
		return nil, err
	}
	if !IsProcessAlive(pid) || !IsSameProcess(pid, boxID) {
		return nil, berrors.Newf(berrors.InvalidState, "shim pid %d is not a live shim for box %s", pid, boxID)
	}
	return &Handle{pid: pid, pidFilePath: pidFilePath}, nil
}

// PID returns the supervised process id.
func (h *Handle) PID() uint32 { return h.pid }

// IsRunning probes process liveness.
func (h *Handle) IsRunning() bool { return IsProcessAlive(h.pid) }

// MarkGuestReady records when the guest signalled readiness, for boot
// duration metrics.
func (h *Handle) MarkGuestReady() { h.bootReady = time.Now() }

// GuestBootDuration returns how long the guest took from spawn to
// ready, or zero if readiness was never observed.
func (h *Handle) GuestBootDuration() time.Duration {
	if h.bootReady.IsZero() || h.bootStarted.IsZero() {
		return 0
	}
	return h.bootReady.Sub(h.bootStarted)
}

// Stop terminates the shim: SIGTERM, a grace period, then SIGKILL.
// Returns once the process is gone.
func (h *Handle) Stop(ctx context.Context) error {
	if !IsProcessAlive(h.pid) {
		return nil
	}
	TerminateProcess(h.pid)

	deadline := time.Now().Add(GracefulShutdownTimeout)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(h.pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			KillProcess(h.pid)
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	slog.WarnContext(ctx, "Handle.Stop: graceful shutdown timed out, killing", "pid", h.pid)
	KillProcess(h.pid)
	for IsProcessAlive(h.pid) {
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// Kill force-terminates without the grace period (remove --force).
func (h *Handle) Kill() {
	KillProcess(h.pid)
}

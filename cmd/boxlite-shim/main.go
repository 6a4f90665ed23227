// Command boxlite-shim is the supervised subprocess that owns one
// microVM: it parses the serialized InstanceSpec, applies the in-process
// half of the jailer (rlimits, fd hygiene, seccomp), starts the network
// backend, and hands the process over to the VMM.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/boxlite/boxlite/internal/jailer"
	"github.com/boxlite/boxlite/internal/logging"
	"github.com/boxlite/boxlite/internal/shim"
	"github.com/boxlite/boxlite/internal/vmm"
	_ "github.com/boxlite/boxlite/internal/vmm/krun"
)

type shimArgs struct {
	Engine string `required:"" help:"engine type (libkrun, firecracker)"`
	Config string `required:"" help:"box configuration as an InstanceSpec JSON string"`
}

func main() {
	var args shimArgs
	kong.Parse(&args,
		kong.Name("boxlite-shim"),
		kong.Description("BoxLite shim process - runs one box in an isolated subprocess"))

	if err := run(args); err != nil {
		slog.Error("shim failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args shimArgs) error {
	kind, err := vmm.ParseKind(args.Engine)
	if err != nil {
		return err
	}
	var spec vmm.InstanceSpec
	if err := json.Unmarshal([]byte(args.Config), &spec); err != nil {
		return fmt.Errorf("parsing config JSON: %w", err)
	}

	// FD hygiene first: anything opened from here on (log file, vsock
	// bridges) is ours and stays.
	jailer.CloseInheritedFDs()

	closer, err := logging.Setup(logging.Options{
		Path: logging.ShimLogPath(filepath.Join(spec.HomeDir, "logs")),
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := context.Background()
	slog.InfoContext(ctx, "shim starting",
		"engine", kind, "box_id", spec.BoxID, "detach", spec.Detach, "parent_pid", spec.ParentPID)

	// In-process isolation half: bwrap has already applied namespaces,
	// mounts and a clean environment around us. Rlimits now; seccomp
	// last, so nothing after it needs a blocked syscall.
	if err := jailer.ApplyRlimits(spec.Security.ResourceLimits); err != nil {
		return err
	}

	// The network backend lives exactly as long as this process; OS
	// exit is its cleanup.
	if spec.NetworkConfig != nil {
		if _, err := startNetworkBackend(ctx, &spec); err != nil {
			return err
		}
	}

	engine, err := vmm.CreateEngine(kind, vmm.EngineConfig{})
	if err != nil {
		return err
	}
	instance, err := engine.Create(spec)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "box instance created, entering VM")

	if err := applySeccomp(ctx, &spec); err != nil {
		return err
	}

	if !spec.Detach {
		shim.StartParentWatchdog(spec.ParentPID)
		slog.InfoContext(ctx, "parent watchdog started", "parent_pid", spec.ParentPID)
	} else {
		slog.InfoContext(ctx, "running detached")
	}

	// Process takeover; only returns on shutdown or failure.
	return instance.Enter()
}

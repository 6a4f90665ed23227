package jailer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/boxlite/boxlite/internal/berrors"
)

var (
	bwrapOnce sync.Once
	bwrapPath string
)

// FindBwrap locates the bubblewrap binary: system bwrap first (lets the
// user override with their own build), then a bundled copy under
// BOXLITE_RUNTIME_DIR. Empty string means not available.
func FindBwrap() string {
	bwrapOnce.Do(func() {
		if p, err := exec.LookPath("bwrap"); err == nil {
			bwrapPath = p
			return
		}
		if dir := os.Getenv("BOXLITE_RUNTIME_DIR"); dir != "" {
			bundled := filepath.Join(dir, "bwrap")
			if _, err := os.Stat(bundled); err == nil {
				bwrapPath = bundled
			}
		}
	})
	return bwrapPath
}

// BwrapAvailable reports whether the sandbox front-end can be used.
func BwrapAvailable() bool { return FindBwrap() != "" }

// bwrapCommand accumulates bwrap arguments.
type bwrapCommand struct {
	args []string
}

func (b *bwrapCommand) add(args ...string) *bwrapCommand {
	b.args = append(b.args, args...)
	return b
}

// Namespace isolation: everything except the network namespace, which
// stays shared so gvproxy on the host remains reachable. The mount
// namespace is implicitly unshared by bwrap's bind handling.
func (b *bwrapCommand) defaultNamespaces() *bwrapCommand {
	return b.add("--unshare-user", "--unshare-pid", "--unshare-ipc", "--unshare-uts")
}

func (b *bwrapCommand) roBindIfExists(src, dest string) *bwrapCommand {
	if _, err := os.Stat(src); err == nil {
		b.add("--ro-bind", src, dest)
	}
	return b
}

func (b *bwrapCommand) bind(src, dest string) *bwrapCommand {
	return b.add("--bind", src, dest)
}

func (b *bwrapCommand) devBindIfExists(src, dest string) *bwrapCommand {
	if _, err := os.Stat(src); err == nil {
		b.add("--dev-bind", src, dest)
	}
	return b
}

func (b *bwrapCommand) setenv(key, value string) *bwrapCommand {
	return b.add("--setenv", key, value)
}

// Command wraps the shim invocation in a bwrap sandbox.
//
// Mount strategy: read-only system directories for the dynamic linker
// (TODO: eliminate via static linking of the shim), /dev with explicit
// KVM and TUN device binds, a tmpfs /tmp, the box directory read-write,
// logs/ and tmp/ read-write, images/ read-only. The shim binary and its
// bundled libraries have already been copied into boxes/<id>/bin, so no
// bind of the original shim directory is needed and each box has its
// own code pages.
func Command(ctx context.Context, shimPath string, shimArgs []string, paths Paths, sec SecurityOptions, detach bool) (*exec.Cmd, error) {
	if !sec.JailerEnabled {
		cmd := exec.CommandContext(ctx, shimPath, shimArgs...)
		return cmd, nil
	}
	bwrap := FindBwrap()
	if bwrap == "" {
		return nil, berrors.New(berrors.Config, "bwrap not found in PATH or BOXLITE_RUNTIME_DIR")
	}

	b := &bwrapCommand{}
	b.defaultNamespaces().
		add("--new-session")
	// Detached boxes must survive the parent; everything else dies
	// with it (belt alongside the shim's own watchdog).
	if !detach {
		b.add("--die-with-parent")
	}

	b.roBindIfExists("/usr", "/usr").
		roBindIfExists("/lib", "/lib").
		roBindIfExists("/lib64", "/lib64").
		roBindIfExists("/bin", "/bin").
		roBindIfExists("/sbin", "/sbin")

	b.add("--dev", "/dev").
		devBindIfExists("/dev/kvm", "/dev/kvm").
		devBindIfExists("/dev/net/tun", "/dev/net/tun")

	b.add("--proc", "/proc")
	b.add("--tmpfs", "/tmp")

	b.bind(paths.BoxDir, paths.BoxDir).
		bind(paths.LogsDir, paths.LogsDir).
		bind(paths.TmpDir, paths.TmpDir).
		roBindIfExists(paths.ImagesDir, paths.ImagesDir)

	b.add("--clearenv")
	b.setenv("PATH", "/usr/bin:/bin:/usr/sbin:/sbin").
		setenv("HOME", "/root").
		setenv("LD_LIBRARY_PATH", paths.BinDir)
	if filter := os.Getenv("RUST_LOG"); filter != "" {
		b.setenv("RUST_LOG", filter)
	}

	b.add("--chdir", "/")

	args := append(b.args, "--", shimPath)
	args = append(args, shimArgs...)
	cmd := exec.CommandContext(ctx, bwrap, args...)
	return cmd, nil
}

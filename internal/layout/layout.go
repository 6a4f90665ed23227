// Package layout computes BoxLite's deterministic on-disk directory
// structure under a home directory. Layout is a pure function of
// home_dir and Config; creation is idempotent.
package layout

import (
	"os"
	"path/filepath"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/identity"
)

// Top-level directory names under home_dir.
const (
	BoxesDir  = "boxes"
	ImagesDir = "images"
	LogsDir   = "logs"
	DBDir     = "db"
	LocksDir  = "locks"
	TmpDir    = "tmp"
)

// Per-box directory/file names under boxes/<id>/.
const (
	binDir      = "bin"
	socketsDir  = "sockets"
	sharedDir   = "shared"
	mountsDir   = "mounts"
	shimPIDFile = "shim.pid"
)

// Config controls platform-specific layout variants.
type Config struct {
	// BindMountSupported reports whether the host OS can bind-mount
	// (Linux can; macOS cannot, so isolate_mounts is a no-op there).
	BindMountSupported bool
}

// Layout resolves every path the rest of the core needs, rooted at home.
type Layout struct {
	home string
	cfg  Config
}

// New returns a Layout for home without touching the filesystem.
func New(home string, cfg Config) (*Layout, error) {
	if !filepath.IsAbs(home) {
		return nil, berrors.Newf(berrors.Config, "home dir %q must be absolute", home)
	}
	return &Layout{home: home, cfg: cfg}, nil
}

// Prepare creates every top-level directory, idempotently.
func (l *Layout) Prepare() error {
	for _, d := range []string{l.home, l.BoxesRoot(), l.ImagesRoot(), l.LogsRoot(), l.DBRoot(), l.LocksRoot(), l.TmpRoot()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return berrors.Wrap(berrors.Storage, "preparing layout directory "+d, err)
		}
	}
	return nil
}

func (l *Layout) HomeDir() string    { return l.home }
func (l *Layout) BoxesRoot() string  { return filepath.Join(l.home, BoxesDir) }
func (l *Layout) ImagesRoot() string { return filepath.Join(l.home, ImagesDir) }
func (l *Layout) LogsRoot() string   { return filepath.Join(l.home, LogsDir) }
func (l *Layout) DBRoot() string     { return filepath.Join(l.home, DBDir) }
func (l *Layout) LocksRoot() string  { return filepath.Join(l.home, LocksDir) }
func (l *Layout) TmpRoot() string    { return filepath.Join(l.home, TmpDir) }

// DBPath is the sqlite database file path.
func (l *Layout) DBPath() string { return filepath.Join(l.DBRoot(), "boxlite.db") }

// HomeLockPath is the flock-path for the runtime's exclusive home lock.
func (l *Layout) HomeLockPath() string { return filepath.Join(l.home, ".boxlite.lock") }

// BoxLayout resolves the per-box subtree for id. isolateMounts mirrors
// the box's isolate_mounts option: when set on a bind-mount-capable
// platform, mounts/ is a read-only bind of shared/.
func (l *Layout) BoxLayout(id identity.BoxID, isolateMounts bool) *BoxLayout {
	root := filepath.Join(l.BoxesRoot(), string(id))
	return &BoxLayout{root: root, isolate: isolateMounts && l.cfg.BindMountSupported}
}

// BoxLayout is the per-box directory tree under boxes/<id>/.
type BoxLayout struct {
	root    string
	isolate bool
}

func (b *BoxLayout) Root() string       { return b.root }
func (b *BoxLayout) BinDir() string     { return filepath.Join(b.root, binDir) }
func (b *BoxLayout) SocketsDir() string { return filepath.Join(b.root, socketsDir) }
func (b *BoxLayout) SharedDir() string  { return filepath.Join(b.root, sharedDir) }
func (b *BoxLayout) MountsDir() string  { return filepath.Join(b.root, mountsDir) }
func (b *BoxLayout) ShimPIDPath() string {
	return filepath.Join(b.root, shimPIDFile)
}
func (b *BoxLayout) DiskPath() string      { return filepath.Join(b.root, "disk.qcow2") }
func (b *BoxLayout) GuestRootfsPath() string {
	return filepath.Join(b.root, "guest-rootfs.qcow2")
}

// TransportSocketPath returns a fixed-name socket path under sockets/ for
// one of the well-known transport kinds, kept short so that Unix socket
// path-length limits are never exceeded.
func (b *BoxLayout) TransportSocketPath(name string) string {
	return filepath.Join(b.SocketsDir(), name)
}

// Prepare creates the per-box directories, and, when IsolateMounts is set
// on a bind-mount-capable platform, makes mounts/ a read-only bind of
// shared/.
func (b *BoxLayout) Prepare() error {
	for _, d := range []string{b.root, b.BinDir(), b.SocketsDir(), b.SharedDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return berrors.Wrap(berrors.Storage, "preparing box layout directory "+d, err)
		}
	}
	if b.isolate {
		if err := os.MkdirAll(b.MountsDir(), 0o755); err != nil {
			return berrors.Wrap(berrors.Storage, "preparing mounts dir", err)
		}
		if err := bindMountReadOnly(b.SharedDir(), b.MountsDir()); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup removes the entire per-box directory tree, unmounting mounts/
// first if it was bind-mounted.
func (b *BoxLayout) Cleanup() error {
	if b.isolate {
		_ = unmount(b.MountsDir())
	}
	if err := os.RemoveAll(b.root); err != nil {
		return berrors.Wrap(berrors.Storage, "removing box directory", err)
	}
	return nil
}

package layout

import (
	"golang.org/x/sys/unix"

	"github.com/boxlite/boxlite/internal/berrors"
)

func bindMountReadOnly(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return berrors.Wrap(berrors.Storage, "bind-mounting "+source+" onto "+target, err)
	}
	// Remount read-only: a bind mount cannot set MS_RDONLY atomically
	// with MS_BIND on Linux, so a second remount call is required.
	if err := unix.Mount(source, target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		_ = unix.Unmount(target, 0)
		return berrors.Wrap(berrors.Storage, "remounting "+target+" read-only", err)
	}
	return nil
}

func unmount(target string) error {
	return unix.Unmount(target, unix.MNT_DETACH)
}

//go:build !linux

package layout

import "github.com/boxlite/boxlite/internal/berrors"

// bindMountReadOnly is Linux-only; BindMountSupported is false elsewhere
// (macOS has no equivalent of a read-only bind mount in the jailer's
// narrow sense) so this path should never be taken, but fails loudly if
// it is.
func bindMountReadOnly(source, target string) error {
	return berrors.New(berrors.Config, "bind mounts are only supported on linux")
}

func unmount(target string) error { return nil }

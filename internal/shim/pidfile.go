// Package shim is the host side of the shim supervision model:
// spawning the sandboxed shim subprocess, the PID-file handshake, and
// the liveness/identity checks recovery relies on. The parent watchdog
// that runs inside the shim binary lives here too so both binaries
// share one implementation.
package shim

import (
	"os"
	"strconv"
	"strings"

	"github.com/boxlite/boxlite/internal/berrors"
)

// WritePIDFile records pid at path. The file existing is the single
// source of truth for "this box has a live shim".
func WritePIDFile(path string, pid uint32) error {
	if err := os.WriteFile(path, []byte(strconv.FormatUint(uint64(pid), 10)), 0o644); err != nil {
		return berrors.Wrap(berrors.Storage, "writing shim pid file", err)
	}
	return nil
}

// ReadPIDFile returns the recorded pid, or a NotFound error if the file
// is absent.
func ReadPIDFile(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, berrors.New(berrors.NotFound, "shim pid file not found")
		}
		return 0, berrors.Wrap(berrors.Storage, "reading shim pid file", err)
	}
	pid, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, berrors.Wrap(berrors.Internal, "parsing shim pid file", err)
	}
	return uint32(pid), nil
}

// RemovePIDFile deletes the pid file; missing is not an error.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return berrors.Wrap(berrors.Storage, "removing shim pid file", err)
	}
	return nil
}

package shim

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/boxlite/boxlite/internal/berrors"
)

// ShimBinaryName is the helper binary copied into each box.
const ShimBinaryName = "boxlite-shim"

// FindShimBundle locates the directory holding the shim binary and its
// bundled shared libraries: BOXLITE_RUNTIME_DIR when set, otherwise the
// directory of the current executable.
func FindShimBundle() (string, error) {
	if dir := os.Getenv("BOXLITE_RUNTIME_DIR"); dir != "" {
		if _, err := os.Stat(filepath.Join(dir, ShimBinaryName)); err == nil {
			return dir, nil
		}
		return "", berrors.Newf(berrors.Config, "BOXLITE_RUNTIME_DIR %q does not contain %s", dir, ShimBinaryName)
	}
	self, err := os.Executable()
	if err != nil {
		return "", berrors.Wrap(berrors.Config, "locating current executable", err)
	}
	dir := filepath.Dir(self)
	if _, err := os.Stat(filepath.Join(dir, ShimBinaryName)); err != nil {
		return "", berrors.Newf(berrors.Config, "shim binary not found next to %s; set BOXLITE_RUNTIME_DIR", self)
	}
	return dir, nil
}

// CopyBundle copies the shim binary and every bundled shared library
// from srcDir into binDir. Each box gets its own copy so the sandbox
// never binds the runtime's install directory and boxes share no code
// pages. Copies are digest-verified.
func CopyBundle(srcDir, binDir string) (string, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return "", berrors.Wrap(berrors.Storage, "reading shim bundle dir", err)
	}
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", berrors.Wrap(berrors.Storage, "creating box bin dir", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if name != ShimBinaryName && !isSharedLibrary(name) {
			continue
		}
		if err := copyVerified(filepath.Join(srcDir, name), filepath.Join(binDir, name)); err != nil {
			return "", err
		}
	}
	shimPath := filepath.Join(binDir, ShimBinaryName)
	if _, err := os.Stat(shimPath); err != nil {
		return "", berrors.Newf(berrors.Config, "bundle at %q has no %s", srcDir, ShimBinaryName)
	}
	return shimPath, nil
}

// isSharedLibrary matches plain and versioned sonames (libkrun.so,
// libkrun.so.1) plus macOS dylibs.
func isSharedLibrary(name string) bool {
	return strings.Contains(name, ".so") || strings.HasSuffix(name, ".dylib")
}

// copyVerified copies src to dst preserving the executable bit and
// verifies the copy by digest before trusting it.
func copyVerified(src, dst string) error {
	srcSum, err := fileDigest(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return berrors.Wrap(berrors.Storage, "opening bundle file "+src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return berrors.Wrap(berrors.Storage, "stat bundle file "+src, err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return berrors.Wrap(berrors.Storage, "creating "+dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return berrors.Wrap(berrors.Storage, "copying "+src, err)
	}
	if err := out.Close(); err != nil {
		return berrors.Wrap(berrors.Storage, "closing "+dst, err)
	}

	dstSum, err := fileDigest(dst)
	if err != nil {
		return err
	}
	if srcSum != dstSum {
		return berrors.Newf(berrors.Storage, "copy of %s is corrupt (digest mismatch)", src)
	}
	return nil
}

func fileDigest(path string) ([blake2b.Size256]byte, error) {
	var sum [blake2b.Size256]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, berrors.Wrap(berrors.Storage, "opening "+path, err)
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return sum, berrors.Wrap(berrors.Internal, "creating digest", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return sum, berrors.Wrap(berrors.Storage, "hashing "+path, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

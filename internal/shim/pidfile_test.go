package shim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boxlite/boxlite/internal/berrors"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shim.pid")

	if err := WritePIDFile(path, 4242); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file should be gone")
	}
	// Removing again is not an error.
	if err := RemovePIDFile(path); err != nil {
		t.Errorf("second RemovePIDFile: %v", err)
	}
}

func TestReadPIDFileMissing(t *testing.T) {
	_, err := ReadPIDFile(filepath.Join(t.TempDir(), "absent.pid"))
	if !berrors.Is(err, berrors.NotFound) {
		t.Errorf("kind = %v, want not_found", berrors.KindOf(err))
	}
}

func TestReadPIDFileGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shim.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Error("garbage pid file should fail to parse")
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !IsProcessAlive(uint32(os.Getpid())) {
		t.Error("own pid should be alive")
	}
	// PID 1 exists on every unix; an absurdly large pid does not.
	if IsProcessAlive(1<<22 + 12345) {
		t.Error("absurd pid should not be alive")
	}
}

func TestIsSameProcessRejectsForeignPID(t *testing.T) {
	// The test binary is not a boxlite-shim, so identity must fail
	// even though the process is alive.
	if IsSameProcess(uint32(os.Getpid()), "01ARZ3NDEKTSV4RRFFQ69G5FAV") {
		t.Error("test process should not be identified as a shim")
	}
}

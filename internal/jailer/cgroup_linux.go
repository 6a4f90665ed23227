package jailer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/boxlite/boxlite/internal/berrors"
)

const cgroupRoot = "/sys/fs/cgroup"

// Cgroup is a per-box cgroup v2 directory with its limits applied.
type Cgroup struct {
	// Dir is {base}/boxlite/<box_id>.
	Dir string
	// ProcsPath is Dir/cgroup.procs, precomputed so the join after
	// spawn is a single WriteFile.
	ProcsPath string
}

// cgroupBase picks the writable cgroup v2 base: the root hierarchy when
// running as root, the user's systemd service scope otherwise.
func cgroupBase() string {
	uid := os.Geteuid()
	if uid == 0 {
		return cgroupRoot
	}
	return filepath.Join(cgroupRoot,
		"user.slice",
		fmt.Sprintf("user-%d.slice", uid),
		fmt.Sprintf("user@%d.service", uid))
}

// SetupCgroup creates {base}/boxlite/<boxID> with cpu/memory/pids
// controllers enabled on the parent and the per-box limits written.
func SetupCgroup(boxID string, limits ResourceLimits) (*Cgroup, error) {
	parent := filepath.Join(cgroupBase(), "boxlite")
	dir := filepath.Join(parent, boxID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, berrors.Wrap(berrors.Config, "creating cgroup "+dir, err)
	}

	// Enable controllers on the parent so the per-box group can use
	// them. Partial failure is tolerated: some controllers may not be
	// delegated to the user slice.
	_ = os.WriteFile(filepath.Join(parent, "cgroup.subtree_control"), []byte("+cpu +memory +pids"), 0o644)

	cg := &Cgroup{Dir: dir, ProcsPath: filepath.Join(dir, "cgroup.procs")}

	if limits.MaxMemoryBytes != nil {
		maxB := *limits.MaxMemoryBytes
		if err := cg.writeLimit("memory.max", strconv.FormatUint(maxB, 10)); err != nil {
			return nil, err
		}
		// memory.high throttles before the hard limit kills.
		if err := cg.writeLimit("memory.high", strconv.FormatUint(maxB*9/10, 10)); err != nil {
			return nil, err
		}
	}
	if limits.CPUWeight != nil {
		if err := cg.writeLimit("cpu.weight", strconv.FormatUint(uint64(*limits.CPUWeight), 10)); err != nil {
			return nil, err
		}
	}
	if limits.CPUMaxPercent != nil {
		// cpu.max takes "quota period"; period 100000us, quota scaled
		// so that 100 percent equals one full CPU.
		quota := uint64(*limits.CPUMaxPercent) * 1000
		if err := cg.writeLimit("cpu.max", fmt.Sprintf("%d 100000", quota)); err != nil {
			return nil, err
		}
	}
	if limits.MaxProcesses != nil {
		if err := cg.writeLimit("pids.max", strconv.FormatUint(*limits.MaxProcesses, 10)); err != nil {
			return nil, err
		}
	}
	return cg, nil
}

func (c *Cgroup) writeLimit(file, value string) error {
	if err := os.WriteFile(filepath.Join(c.Dir, file), []byte(value), 0o644); err != nil {
		return berrors.Wrap(berrors.Config, "writing cgroup "+file, err)
	}
	return nil
}

// AddPID moves pid into the cgroup.
func (c *Cgroup) AddPID(pid int) error {
	if err := os.WriteFile(c.ProcsPath, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return berrors.Wrap(berrors.Config, "adding pid to cgroup", err)
	}
	return nil
}

// Remove deletes the per-box cgroup directory. Fails while processes
// are still inside it, so call after the shim has exited.
func (c *Cgroup) Remove() error {
	return os.Remove(c.Dir)
}

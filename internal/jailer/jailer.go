// Package jailer applies OS-level isolation to the shim process:
// bubblewrap namespaces + cgroup v2 + seccomp on Linux, Seatbelt on
// macOS, a plain spawn with rlimits elsewhere. The package builds the
// sandboxed command; resource limits and the seccomp filter are applied
// inside the shim itself after spawn (Go has no fork/exec hook the way
// a pre_exec closure works, so the shim performs that step first thing).
package jailer

// ResourceLimits caps what the shim process (and with it, the whole VM)
// may consume. Nil fields mean "no explicit limit".
type ResourceLimits struct {
	MaxMemoryBytes *uint64 `json:"max_memory_bytes,omitempty"`
	MaxProcesses   *uint64 `json:"max_processes,omitempty"`
	MaxCPUTimeSecs *uint64 `json:"max_cpu_time_secs,omitempty"`
	MaxOpenFiles   *uint64 `json:"max_open_files,omitempty"`
	MaxStackBytes  *uint64 `json:"max_stack_bytes,omitempty"`
	// CPUWeight maps to cgroup cpu.weight (1..10000, default 100).
	CPUWeight *uint32 `json:"cpu_weight,omitempty"`
	// CPUMaxPercent maps to cgroup cpu.max as a share of one CPU
	// (100 = one full CPU).
	CPUMaxPercent *uint32 `json:"cpu_max_percent,omitempty"`
}

// SecurityOptions selects which isolation layers are active.
type SecurityOptions struct {
	JailerEnabled  bool           `json:"jailer_enabled"`
	SeccompEnabled bool           `json:"seccomp_enabled"`
	ResourceLimits ResourceLimits `json:"resource_limits"`
}

// DefaultSecurityOptions enables the full sandbox.
func DefaultSecurityOptions() SecurityOptions {
	return SecurityOptions{
		JailerEnabled:  true,
		SeccompEnabled: true,
	}
}

// Paths the jailer needs from the filesystem layout, kept as a plain
// struct so this package doesn't depend on internal/layout.
type Paths struct {
	HomeDir   string
	BoxDir    string
	BinDir    string
	LogsDir   string
	TmpDir    string
	ImagesDir string
}

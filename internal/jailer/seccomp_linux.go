package jailer

import (
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/boxlite/boxlite/internal/berrors"
)

// AllowedSyscalls is the minimal syscall set a libkrun VMM process
// needs, aligned with Firecracker's seccomp policy (union of its vmm,
// api and vcpu thread filters).
var AllowedSyscalls = []string{
	// Memory management (VM guest memory)
	"mmap", "munmap", "mprotect", "brk", "madvise", "mremap",
	"mlock", "munlock", "mincore", "msync",
	// File I/O (disk images, vsock, virtio-fs)
	"read", "write", "readv", "writev",
	"pread64", "pwrite64", "preadv", "pwritev",
	"openat", "close", "dup", "fstat", "newfstatat", "lseek",
	"fcntl", "fsync", "ftruncate", "fallocate", "statx",
	"unlinkat", "mkdirat", "getdents64",
	// KVM
	"ioctl",
	// Event loop
	"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait",
	"eventfd2", "timerfd_create", "timerfd_settime",
	// Threading (vCPU workers)
	"clone", "clone3", "futex", "set_robust_list", "set_tid_address",
	"gettid", "rseq",
	// Signals (vCPU kicks)
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "sigaltstack",
	"tgkill", "kill",
	// Process info
	"getpid", "getuid", "geteuid", "getgid", "capget", "umask",
	// Process lifecycle
	"exit", "exit_group", "wait4",
	// Resource limits
	"prlimit64", "getrlimit",
	// Networking (vsock, unix sockets, gvproxy)
	"socket", "bind", "listen", "connect", "accept", "accept4",
	"shutdown", "sendto", "recvfrom", "sendmsg", "recvmsg",
	"getsockname", "setsockopt", "getsockopt",
	// Clocks
	"clock_gettime", "clock_nanosleep", "nanosleep",
	// Scheduling
	"sched_yield", "sched_getaffinity",
	// Landlock
	"landlock_create_ruleset", "landlock_add_rule", "landlock_restrict_self",
	// Misc
	"getrandom", "prctl", "arch_prctl", "uname",
}

// BlockedSyscalls is the explicit deny-list; asserted disjoint from
// AllowedSyscalls in tests. These are never part of the filter program
// (default action already traps) — the list documents intent and guards
// against someone adding one of them to the allow-list.
var BlockedSyscalls = []string{
	// Filesystem manipulation
	"mount", "umount", "umount2", "pivot_root", "chroot",
	// Process control
	"ptrace", "process_vm_readv", "process_vm_writev",
	// Execute new binaries (escape vector)
	"execve", "execveat",
	// Kernel module loading
	"init_module", "finit_module", "delete_module",
	// System control
	"reboot", "kexec_load", "kexec_file_load",
	// Namespace manipulation (already inside one)
	"setns", "unshare",
	// Capability manipulation
	"capset",
	// Keyring
	"keyctl", "add_key", "request_key",
	// Kernel code execution
	"bpf",
	// Exploit helpers / info leaks
	"userfaultfd", "perf_event_open",
	// Accounting, swap, quotas
	"acct", "swapon", "swapoff", "quotactl", "quotactl_fd",
}

const seccompDataNrOffset = 0   // offsetof(struct seccomp_data, nr)
const seccompDataArchOffset = 4 // offsetof(struct seccomp_data, arch)

// BuildSeccompFilter compiles the allow-list into a classic-BPF seccomp
// program: allow on match, SIGSYS trap otherwise. Syscalls unknown on
// the build architecture are logged and skipped.
func BuildSeccompFilter() []unix.SockFilter {
	var prog []unix.SockFilter

	// Trap if the calling architecture isn't the one we compiled for;
	// a process switching ABIs mid-flight is never legitimate here.
	prog = append(prog,
		unix.SockFilter{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: seccompDataArchOffset},
		unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, Jt: 1, Jf: 0, K: auditArch},
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_TRAP},
		unix.SockFilter{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: seccompDataNrOffset},
	)

	var skipped []string
	for _, name := range AllowedSyscalls {
		nr, ok := syscallNumber(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		// Two instructions per syscall: skip the allow if no match.
		prog = append(prog,
			unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, Jt: 0, Jf: 1, K: uint32(nr)},
			unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_ALLOW},
		)
	}
	if len(skipped) > 0 {
		slog.Warn("seccomp: syscalls unknown on this architecture, skipped", "syscalls", skipped)
	}

	prog = append(prog, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_TRAP})
	return prog
}

// ApplySeccompFilter installs the filter on the current process. Once
// applied it cannot be removed; every thread spawned afterwards
// inherits it. Must run after all setup that needs blocked syscalls.
func ApplySeccompFilter(filter []unix.SockFilter) error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return berrors.Wrap(berrors.Config, "setting no_new_privs", err)
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	if _, _, errno := unix.Syscall(unix.SYS_SECCOMP,
		uintptr(unix.SECCOMP_SET_MODE_FILTER), 0, uintptr(unsafe.Pointer(&prog))); errno != 0 {
		return berrors.Wrap(berrors.Config, "installing seccomp filter", errno)
	}
	return nil
}

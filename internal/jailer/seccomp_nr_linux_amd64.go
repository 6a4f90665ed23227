package jailer

import "golang.org/x/sys/unix"

const auditArch = unix.AUDIT_ARCH_X86_64

var syscallNumbers = map[string]uintptr{
	"mmap":     unix.SYS_MMAP,
	"munmap":   unix.SYS_MUNMAP,
	"mprotect": unix.SYS_MPROTECT,
	"brk":      unix.SYS_BRK,
	"madvise":  unix.SYS_MADVISE,
	"mremap":   unix.SYS_MREMAP,
	"mlock":    unix.SYS_MLOCK,
	"munlock":  unix.SYS_MUNLOCK,
	"mincore":  unix.SYS_MINCORE,
	"msync":    unix.SYS_MSYNC,

	"read":       unix.SYS_READ,
	"write":      unix.SYS_WRITE,
	"readv":      unix.SYS_READV,
	"writev":     unix.SYS_WRITEV,
	"pread64":    unix.SYS_PREAD64,
	"pwrite64":   unix.SYS_PWRITE64,
	"preadv":     unix.SYS_PREADV,
	"pwritev":    unix.SYS_PWRITEV,
	"openat":     unix.SYS_OPENAT,
	"close":      unix.SYS_CLOSE,
	"dup":        unix.SYS_DUP,
	"fstat":      unix.SYS_FSTAT,
	"newfstatat": unix.SYS_NEWFSTATAT,
	"lseek":      unix.SYS_LSEEK,
	"fcntl":      unix.SYS_FCNTL,
	"fsync":      unix.SYS_FSYNC,
	"ftruncate":  unix.SYS_FTRUNCATE,
	"fallocate":  unix.SYS_FALLOCATE,
	"statx":      unix.SYS_STATX,
	"unlinkat":   unix.SYS_UNLINKAT,
	"mkdirat":    unix.SYS_MKDIRAT,
	"getdents64": unix.SYS_GETDENTS64,

	"ioctl": unix.SYS_IOCTL,

	"epoll_create1":   unix.SYS_EPOLL_CREATE1,
	"epoll_ctl":       unix.SYS_EPOLL_CTL,
	"epoll_wait":      unix.SYS_EPOLL_WAIT,
	"epoll_pwait":     unix.SYS_EPOLL_PWAIT,
	"eventfd2":        unix.SYS_EVENTFD2,
	"timerfd_create":  unix.SYS_TIMERFD_CREATE,
	"timerfd_settime": unix.SYS_TIMERFD_SETTIME,

	"clone":           unix.SYS_CLONE,
	"clone3":          unix.SYS_CLONE3,
	"futex":           unix.SYS_FUTEX,
	"set_robust_list": unix.SYS_SET_ROBUST_LIST,
	"set_tid_address": unix.SYS_SET_TID_ADDRESS,
	"gettid":          unix.SYS_GETTID,
	"rseq":            unix.SYS_RSEQ,

	"rt_sigaction":   unix.SYS_RT_SIGACTION,
	"rt_sigprocmask": unix.SYS_RT_SIGPROCMASK,
	"rt_sigreturn":   unix.SYS_RT_SIGRETURN,
	"sigaltstack":    unix.SYS_SIGALTSTACK,
	"tgkill":         unix.SYS_TGKILL,
	"kill":           unix.SYS_KILL,

	"getpid":  unix.SYS_GETPID,
	"getuid":  unix.SYS_GETUID,
	"geteuid": unix.SYS_GETEUID,
	"getgid":  unix.SYS_GETGID,
	"capget":  unix.SYS_CAPGET,
	"umask":   unix.SYS_UMASK,

	"exit":       unix.SYS_EXIT,
	"exit_group": unix.SYS_EXIT_GROUP,
	"wait4":      unix.SYS_WAIT4,

	"prlimit64": unix.SYS_PRLIMIT64,
	"getrlimit": unix.SYS_GETRLIMIT,

	"socket":      unix.SYS_SOCKET,
	"bind":        unix.SYS_BIND,
	"listen":      unix.SYS_LISTEN,
	"connect":     unix.SYS_CONNECT,
	"accept":      unix.SYS_ACCEPT,
	"accept4":     unix.SYS_ACCEPT4,
	"shutdown":    unix.SYS_SHUTDOWN,
	"sendto":      unix.SYS_SENDTO,
	"recvfrom":    unix.SYS_RECVFROM,
	"sendmsg":     unix.SYS_SENDMSG,
	"recvmsg":     unix.SYS_RECVMSG,
	"getsockname": unix.SYS_GETSOCKNAME,
	"setsockopt":  unix.SYS_SETSOCKOPT,
	"getsockopt":  unix.SYS_GETSOCKOPT,

	"clock_gettime":   unix.SYS_CLOCK_GETTIME,
	"clock_nanosleep": unix.SYS_CLOCK_NANOSLEEP,
	"nanosleep":       unix.SYS_NANOSLEEP,

	"sched_yield":       unix.SYS_SCHED_YIELD,
	"sched_getaffinity": unix.SYS_SCHED_GETAFFINITY,

	"landlock_create_ruleset": unix.SYS_LANDLOCK_CREATE_RULESET,
	"landlock_add_rule":       unix.SYS_LANDLOCK_ADD_RULE,
	"landlock_restrict_self":  unix.SYS_LANDLOCK_RESTRICT_SELF,

	"getrandom":  unix.SYS_GETRANDOM,
	"prctl":      unix.SYS_PRCTL,
	"arch_prctl": unix.SYS_ARCH_PRCTL,
	"uname":      unix.SYS_UNAME,
}

// syscallNumber resolves a syscall name to its number on this
// architecture.
func syscallNumber(name string) (uintptr, bool) {
	nr, ok := syscallNumbers[name]
	return nr, ok
}

package jailer

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestAllowAndDenyListsDisjoint(t *testing.T) {
	blocked := make(map[string]bool, len(BlockedSyscalls))
	for _, name := range BlockedSyscalls {
		blocked[name] = true
	}
	for _, name := range AllowedSyscalls {
		if blocked[name] {
			t.Errorf("syscall %q is both allowed and blocked", name)
		}
	}
}

func TestMostAllowedSyscallsResolve(t *testing.T) {
	var mapped int
	var unmapped []string
	for _, name := range AllowedSyscalls {
		if _, ok := syscallNumber(name); ok {
			mapped++
		} else {
			unmapped = append(unmapped, name)
		}
	}
	min := len(AllowedSyscalls) * 90 / 100
	if mapped < min {
		t.Errorf("only %d/%d allowed syscalls resolve on this arch (want >= %d); unmapped: %v",
			mapped, len(AllowedSyscalls), min, unmapped)
	}
}

func TestBlockedSyscallsNeverInNumberTable(t *testing.T) {
	// The filter program resolves allowed names through the number
	// table; no blocked name may resolve there either.
	for _, name := range BlockedSyscalls {
		if _, ok := syscallNumber(name); ok {
			t.Errorf("blocked syscall %q resolves via the allow table", name)
		}
	}
}

func TestBuildSeccompFilterShape(t *testing.T) {
	prog := BuildSeccompFilter()
	if len(prog) < 6 {
		t.Fatalf("filter has %d instructions, want arch check + at least one rule", len(prog))
	}
	last := prog[len(prog)-1]
	if last.Code != unix.BPF_RET|unix.BPF_K || last.K != unix.SECCOMP_RET_TRAP {
		t.Errorf("final instruction = %+v, want ret SECCOMP_RET_TRAP", last)
	}
	first := prog[0]
	if first.Code != unix.BPF_LD|unix.BPF_W|unix.BPF_ABS || first.K != seccompDataArchOffset {
		t.Errorf("first instruction = %+v, want load of seccomp_data.arch", first)
	}
}

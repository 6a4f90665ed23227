package vmm

import (
	"fmt"
	"reflect"
	"testing"
)

func TestTranslateGuestArgsSplitForm(t *testing.T) {
	args := []string{
		"--listen", "unix:///home/user/.boxlite/boxes/x/sockets/agent.sock",
		"--notify", "unix:///home/user/.boxlite/boxes/x/sockets/ready.sock",
		"--verbose",
	}
	got := TranslateGuestArgs(args)
	want := []string{
		"--listen", fmt.Sprintf("vsock://%d", GuestAgentPort),
		"--notify", fmt.Sprintf("vsock://%d", GuestReadyPort),
		"--verbose",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTranslateGuestArgsShellForm(t *testing.T) {
	args := []string{
		"-c",
		"/sbin/agent --listen unix:///tmp/a.sock --notify unix:///tmp/r.sock --flag",
	}
	got := TranslateGuestArgs(args)
	want := fmt.Sprintf("/sbin/agent --listen vsock://%d --notify vsock://%d --flag",
		GuestAgentPort, GuestReadyPort)
	if got[1] != want {
		t.Errorf("got %q, want %q", got[1], want)
	}
}

func TestTranslateGuestArgsShellFormAtEnd(t *testing.T) {
	args := []string{"-c", "/sbin/agent --listen unix:///tmp/a.sock"}
	got := TranslateGuestArgs(args)
	want := fmt.Sprintf("/sbin/agent --listen vsock://%d", GuestAgentPort)
	if got[1] != want {
		t.Errorf("got %q, want %q", got[1], want)
	}
}

func TestTranslateGuestArgsLeavesUnrelatedAlone(t *testing.T) {
	args := []string{"--listen", "tcp://0.0.0.0:80", "--other", "unix:///x"}
	got := TranslateGuestArgs(args)
	if !reflect.DeepEqual(got, args) {
		t.Errorf("unrelated args modified: %v", got)
	}
}

func TestTranslateGuestArgsDoesNotMutateInput(t *testing.T) {
	args := []string{"--listen", "unix:///tmp/a.sock"}
	orig := append([]string(nil), args...)
	_ = TranslateGuestArgs(args)
	if !reflect.DeepEqual(args, orig) {
		t.Errorf("input slice mutated: %v", args)
	}
}

func TestParseKind(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"libkrun", Libkrun, true},
		{"LIBKRUN", Libkrun, true},
		{"firecracker", Firecracker, true},
		{"qemu", "", false},
	} {
		got, err := ParseKind(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("ParseKind(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEngineRegistry(t *testing.T) {
	kind := Kind("test-engine")
	RegisterEngine(kind, func(cfg EngineConfig) (Engine, error) {
		return nil, nil
	})
	if _, err := CreateEngine(kind, EngineConfig{}); err != nil {
		t.Errorf("CreateEngine(%v): %v", kind, err)
	}
	if _, err := CreateEngine(Kind("absent"), EngineConfig{}); err == nil {
		t.Error("CreateEngine of unregistered kind should fail")
	}
}

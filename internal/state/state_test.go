package state

import "testing"

func TestLegalTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{Starting, Running, true},
		{Starting, Stopped, true},
		{Starting, Stopping, false},
		{Running, Stopping, true},
		{Running, Running, false},
		{Stopping, Stopped, true},
		{Stopping, Starting, false},
		{Stopped, Starting, true},
		{Stopped, Running, false},
		{Unknown, Running, true},
		{Unknown, Stopped, true},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestPredicates(t *testing.T) {
	if !Starting.CanStop() || !Running.CanStop() {
		t.Fatal("Starting and Running must be able to stop")
	}
	if Stopping.CanStop() || Stopped.CanStop() {
		t.Fatal("Stopping and Stopped must not be able to stop")
	}
	if !Stopped.CanRestart() {
		t.Fatal("Stopped must be able to restart")
	}
	if Running.CanRestart() {
		t.Fatal("Running must not be able to restart")
	}
	if !Starting.CanExec() || !Running.CanExec() || !Stopped.CanExec() {
		t.Fatal("Starting, Running, Stopped must be able to exec")
	}
	if Stopping.CanExec() {
		t.Fatal("Stopping must not be able to exec")
	}
	if !Starting.CanRemove() || !Stopped.CanRemove() || !Unknown.CanRemove() {
		t.Fatal("Starting, Stopped, Unknown must be able to remove")
	}
	if Running.CanRemove() || Stopping.CanRemove() {
		t.Fatal("Running and Stopping must not be able to remove")
	}
}

func TestStateTransitionTo(t *testing.T) {
	st := New()
	if st.Status != Starting {
		t.Fatalf("expected initial status Starting, got %s", st.Status)
	}
	if err := st.TransitionTo(Running); err != nil {
		t.Fatalf("TransitionTo Running: %v", err)
	}
	if err := st.TransitionTo(Starting); err == nil {
		t.Fatal("expected error transitioning Running -> Starting")
	}
}

func TestResetForRebootOnlyResetsActive(t *testing.T) {
	pid := uint32(42)
	active := &State{Status: Running, PID: &pid}
	active.ResetForReboot()
	if active.Status != Stopped || active.PID != nil {
		t.Fatalf("expected active box reset to Stopped/nil pid, got %+v", active)
	}

	stopped := &State{Status: Stopped, PID: nil}
	stopped.ResetForReboot()
	if stopped.Status != Stopped {
		t.Fatalf("expected already-stopped box to remain Stopped, got %s", stopped.Status)
	}
}

func TestMarkCrashed(t *testing.T) {
	pid := uint32(7)
	st := &State{Status: Running, PID: &pid}
	st.MarkCrashed()
	if st.Status != Stopped || st.PID != nil {
		t.Fatalf("expected crashed box Stopped/nil pid, got %+v", st)
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{Unknown, Starting, Running, Stopping, Stopped} {
		parsed, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%s): %v", s, err)
		}
		if parsed != s {
			t.Fatalf("round trip mismatch: %s != %s", parsed, s)
		}
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Fatal("expected error for unknown status string")
	}
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/boxlite/boxlite/internal/identity"
	"github.com/boxlite/boxlite/internal/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "boxlite.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(t *testing.T, name string) BoxConfig {
	t.Helper()
	id, err := identity.NewBoxID()
	if err != nil {
		t.Fatalf("NewBoxID: %v", err)
	}
	cid, err := identity.NewContainerID()
	if err != nil {
		t.Fatalf("NewContainerID: %v", err)
	}
	return BoxConfig{
		ID:          id,
		Name:        name,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		ContainerID: cid,
		Options:     BoxOptions{ImageRef: "alpine:latest"},
		EngineKind:  Libkrun,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	cfg := testConfig(t, "roundtrip")
	st := *state.New()

	if err := s.Save(cfg, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	gotCfg, gotState, err := s.Load(cfg.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotCfg.ID != cfg.ID || gotCfg.Name != cfg.Name || gotCfg.ContainerID != cfg.ContainerID {
		t.Errorf("config mismatch: got %+v want %+v", gotCfg, cfg)
	}
	if !gotCfg.CreatedAt.Equal(cfg.CreatedAt) {
		t.Errorf("created_at mismatch: got %v want %v", gotCfg.CreatedAt, cfg.CreatedAt)
	}
	if gotCfg.Options.ImageRef != "alpine:latest" {
		t.Errorf("options.image_ref = %q", gotCfg.Options.ImageRef)
	}
	if gotState.Status != state.Starting {
		t.Errorf("status = %v, want starting", gotState.Status)
	}
}

func TestUpdateStateMissingRow(t *testing.T) {
	s := openTestStore(t)
	id, _ := identity.NewBoxID()
	if err := s.UpdateState(id, *state.New()); err == nil {
		t.Fatal("UpdateState on missing row should fail")
	}
}

func TestDeleteCascades(t *testing.T) {
	s := openTestStore(t)
	cfg := testConfig(t, "")
	if err := s.Save(cfg, *state.New()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(cfg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.LoadState(cfg.ID); err == nil {
		t.Fatal("state row should cascade on config delete")
	}
}

func TestListAllSortedByCreatedAtDesc(t *testing.T) {
	s := openTestStore(t)
	older := testConfig(t, "")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := testConfig(t, "")
	if err := s.Save(older, *state.New()); err != nil {
		t.Fatalf("Save older: %v", err)
	}
	if err := s.Save(newer, *state.New()); err != nil {
		t.Fatalf("Save newer: %v", err)
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].Config.ID != newer.ID {
		t.Errorf("expected newest first, got %s", all[0].Config.ID)
	}
}

func TestListActive(t *testing.T) {
	s := openTestStore(t)

	running := testConfig(t, "")
	runSt := *state.New()
	if err := runSt.TransitionTo(state.Running); err != nil {
		t.Fatal(err)
	}
	stopped := testConfig(t, "")
	stopSt := *state.New()
	if err := stopSt.TransitionTo(state.Stopped); err != nil {
		t.Fatal(err)
	}

	if err := s.Save(running, runSt); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(stopped, stopSt); err != nil {
		t.Fatal(err)
	}

	active, err := s.ListActive()
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].Config.ID != running.ID {
		t.Errorf("active = %+v, want just %s", active, running.ID)
	}
}

func TestCheckAndUpdateBoot(t *testing.T) {
	s := openTestStore(t)

	rebooted, err := s.CheckAndUpdateBoot("boot-a")
	if err != nil {
		t.Fatalf("CheckAndUpdateBoot: %v", err)
	}
	if !rebooted {
		t.Error("first check should report reboot (no alive row yet)")
	}

	rebooted, err = s.CheckAndUpdateBoot("boot-a")
	if err != nil {
		t.Fatalf("CheckAndUpdateBoot: %v", err)
	}
	if rebooted {
		t.Error("same boot id should not report reboot")
	}

	rebooted, err = s.CheckAndUpdateBoot("boot-b")
	if err != nil {
		t.Fatalf("CheckAndUpdateBoot: %v", err)
	}
	if !rebooted {
		t.Error("changed boot id should report reboot")
	}
}

func TestResetActiveBoxesAfterReboot(t *testing.T) {
	s := openTestStore(t)

	pid := uint32(4242)
	running := testConfig(t, "")
	runSt := *state.New()
	if err := runSt.TransitionTo(state.Running); err != nil {
		t.Fatal(err)
	}
	runSt.SetPID(&pid)
	stopped := testConfig(t, "")
	stopSt := *state.New()
	if err := stopSt.TransitionTo(state.Stopped); err != nil {
		t.Fatal(err)
	}

	if err := s.Save(running, runSt); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(stopped, stopSt); err != nil {
		t.Fatal(err)
	}

	reset, err := s.ResetActiveBoxesAfterReboot()
	if err != nil {
		t.Fatalf("ResetActiveBoxesAfterReboot: %v", err)
	}
	if len(reset) != 1 || reset[0] != running.ID {
		t.Errorf("reset = %v, want [%s]", reset, running.ID)
	}

	st, err := s.LoadState(running.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != state.Stopped || st.PID != nil {
		t.Errorf("after reset: status=%v pid=%v, want stopped/nil", st.Status, st.PID)
	}

	active, err := s.ListActive()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive after reset = %d entries, want 0", len(active))
	}
}

package registry

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/identity"
	"github.com/boxlite/boxlite/internal/state"
	"github.com/boxlite/boxlite/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "boxlite.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func addBox(t *testing.T, r *Registry, name string) store.BoxConfig {
	t.Helper()
	id, err := identity.NewBoxID()
	if err != nil {
		t.Fatal(err)
	}
	cid, err := identity.NewContainerID()
	if err != nil {
		t.Fatal(err)
	}
	cfg := store.BoxConfig{
		ID:          id,
		Name:        name,
		CreatedAt:   time.Now().UTC(),
		ContainerID: cid,
		Options:     store.BoxOptions{ImageRef: "alpine:latest"},
		EngineKind:  store.Libkrun,
	}
	if err := r.AddBox(context.Background(), cfg, *state.New()); err != nil {
		t.Fatalf("AddBox: %v", err)
	}
	return cfg
}

func TestNameUniqueness(t *testing.T) {
	r := newTestRegistry(t)
	first := addBox(t, r, "dup")

	id, _ := identity.NewBoxID()
	cid, _ := identity.NewContainerID()
	err := r.AddBox(context.Background(), store.BoxConfig{
		ID:          id,
		Name:        "dup",
		CreatedAt:   time.Now().UTC(),
		ContainerID: cid,
	}, *state.New())
	if err == nil {
		t.Fatal("second AddBox with same name should fail")
	}
	if !berrors.Is(err, berrors.InvalidArgument) {
		t.Errorf("kind = %v, want invalid_argument", berrors.KindOf(err))
	}

	// Removing the first box frees the name for reuse.
	if err := r.RemoveBox(context.Background(), first.ID); err != nil {
		t.Fatalf("RemoveBox: %v", err)
	}
	addBox(t, r, "dup")
}

func TestLookupOrder(t *testing.T) {
	r := newTestRegistry(t)
	named := addBox(t, r, "web")
	other := addBox(t, r, "")

	// Exact ID.
	cfg, _, err := r.Lookup(string(named.ID))
	if err != nil || cfg.ID != named.ID {
		t.Fatalf("lookup by exact id: %v %v", cfg.ID, err)
	}

	// Exact name.
	cfg, _, err = r.Lookup("web")
	if err != nil || cfg.ID != named.ID {
		t.Fatalf("lookup by name: %v %v", cfg.ID, err)
	}

	// Unique prefix. Short() is all timestamp characters and is shared
	// by boxes created together, so the prefix reaches into the random
	// tail.
	cfg, _, err = r.Lookup(string(other.ID[:16]))
	if err != nil || cfg.ID != other.ID {
		t.Fatalf("lookup by prefix: %v %v", cfg.ID, err)
	}

	// Missing.
	_, _, err = r.Lookup("no-such-box")
	if !berrors.Is(err, berrors.NotFound) {
		t.Errorf("lookup of missing box: kind = %v, want not_found", berrors.KindOf(err))
	}
}

func TestLookupAmbiguousPrefixListsMatches(t *testing.T) {
	r := newTestRegistry(t)
	a := addBox(t, r, "")
	b := addBox(t, r, "")

	// All IDs generated in the same millisecond share a timestamp
	// prefix; one character is always common (the Crockford encoding of
	// the current epoch's top bits).
	prefix := string(a.ID[:1])
	if !b.ID.HasPrefix(prefix) {
		t.Skip("ids diverge in first char; cannot construct ambiguous prefix")
	}

	_, _, err := r.Lookup(prefix)
	if err == nil {
		t.Fatal("ambiguous prefix should fail")
	}
	if !berrors.Is(err, berrors.InvalidArgument) {
		t.Errorf("kind = %v, want invalid_argument", berrors.KindOf(err))
	}
	for _, id := range []identity.BoxID{a.ID, b.ID} {
		if !strings.Contains(err.Error(), string(id)) {
			t.Errorf("error %q should name matching id %s", err, id)
		}
	}
}

func TestUpdatePID(t *testing.T) {
	r := newTestRegistry(t)
	cfg := addBox(t, r, "")

	pid := uint32(123)
	if err := r.UpdatePID(cfg.ID, &pid); err != nil {
		t.Fatalf("UpdatePID: %v", err)
	}
	st, err := r.LoadState(cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.PID == nil || *st.PID != 123 {
		t.Errorf("pid = %v, want 123", st.PID)
	}

	if err := r.UpdatePID(cfg.ID, nil); err != nil {
		t.Fatalf("UpdatePID(nil): %v", err)
	}
	st, _ = r.LoadState(cfg.ID)
	if st.PID != nil {
		t.Errorf("pid = %v, want nil", st.PID)
	}
}

func TestCheckAndHandleReboot(t *testing.T) {
	r := newTestRegistry(t)
	cfg := addBox(t, r, "")
	st := *state.New()
	if err := st.TransitionTo(state.Running); err != nil {
		t.Fatal(err)
	}
	pid := uint32(77)
	st.SetPID(&pid)
	if err := r.SaveBox(cfg.ID, st); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := r.CheckAndHandleReboot(ctx, "boot-1"); err != nil {
		t.Fatal(err)
	}
	rebooted, err := r.CheckAndHandleReboot(ctx, "boot-2")
	if err != nil {
		t.Fatal(err)
	}
	if !rebooted {
		t.Fatal("expected reboot detection")
	}

	got, err := r.LoadState(cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != state.Stopped || got.PID != nil {
		t.Errorf("after reboot: status=%v pid=%v, want stopped/nil", got.Status, got.PID)
	}
}

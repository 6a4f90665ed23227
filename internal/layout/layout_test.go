package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boxlite/boxlite/internal/identity"
)

func TestNewRejectsRelativeHome(t *testing.T) {
	if _, err := New("relative/path", Config{}); err == nil {
		t.Fatal("expected error for relative home dir")
	}
}

func TestPrepareCreatesTopLevelDirs(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	l, err := New(home, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for _, dir := range []string{l.BoxesRoot(), l.ImagesRoot(), l.LogsRoot(), l.DBRoot(), l.LocksRoot(), l.TmpRoot()} {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
	// Idempotent.
	if err := l.Prepare(); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
}

func TestBoxLayoutPrepareAndCleanup(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	l, err := New(home, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Prepare(); err != nil {
		t.Fatal(err)
	}
	id, _ := identity.NewBoxID()
	bl := l.BoxLayout(id, false)
	if err := bl.Prepare(); err != nil {
		t.Fatalf("BoxLayout.Prepare: %v", err)
	}
	if st, err := os.Stat(bl.SocketsDir()); err != nil || !st.IsDir() {
		t.Fatalf("expected sockets dir to exist")
	}
	if err := bl.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(bl.Root()); !os.IsNotExist(err) {
		t.Fatalf("expected box dir removed, got err=%v", err)
	}
}

package lock

import (
	"testing"
)

func TestFileManagerAllocateFreeReuse(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFileManager(dir)
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}

	id1, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id1 != 0 {
		t.Fatalf("expected first id 0, got %d", id1)
	}

	id2, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id2 != 1 {
		t.Fatalf("expected second id 1, got %d", id2)
	}

	if err := m.Free(id1); err != nil {
		t.Fatalf("Free: %v", err)
	}
	id3, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}
	if id3 != id1 {
		t.Fatalf("expected reused id %d, got %d", id1, id3)
	}
}

func TestFileManagerRebuildsOnReopen(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewFileManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m1.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := m1.Allocate(); err != nil {
		t.Fatal(err)
	}

	m2, err := NewFileManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m2.AllocatedCount() != 2 {
		t.Fatalf("expected 2 allocated after reopen, got %d", m2.AllocatedCount())
	}
	id, err := m2.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if id != 2 {
		t.Fatalf("expected next id 2, got %d", id)
	}
}

func TestFileManagerAllocateAndRetrieveCollision(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFileManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AllocateAndRetrieve(5); err != nil {
		t.Fatalf("AllocateAndRetrieve: %v", err)
	}
	if _, err := m.AllocateAndRetrieve(5); err == nil {
		t.Fatal("expected error allocating already-allocated id")
	}
}

func TestFileLockMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFileManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := m.Allocate()
	if err != nil {
		t.Fatal(err)
	}

	l1, err := m.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	l2, err := m.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := l2.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ok {
		t.Fatal("expected TryLock to fail while l1 holds the lock")
	}

	if err := l1.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = l2.TryLock()
	if err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
	if !ok {
		t.Fatal("expected TryLock to succeed after l1 released")
	}
}

func TestGuardReleasesOnClose(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFileManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := m.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	l, err := m.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}

	g, err := Acquire(l)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l2, err := m.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := l2.TryLock(); ok {
		t.Fatal("expected contention while guard holds the lock")
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ok, err := l2.TryLock(); err != nil || !ok {
		t.Fatalf("expected lock free after guard close, ok=%v err=%v", ok, err)
	}
	// Close is idempotent.
	if err := g.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestMemoryManagerAllocateFreeReuse(t *testing.T) {
	m := NewMemoryManager(4)
	id, err := m.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if avail, ok := m.Available(); !ok || avail != 3 {
		t.Fatalf("expected 3 available, got %d ok=%v", avail, ok)
	}
	if err := m.Free(id); err != nil {
		t.Fatal(err)
	}
	if m.AllocatedCount() != 0 {
		t.Fatalf("expected 0 allocated after free, got %d", m.AllocatedCount())
	}
	reused, err := m.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if reused != id {
		t.Fatalf("expected freed slot %d to be reused, got %d", id, reused)
	}
}

func TestMemoryManagerExhaustion(t *testing.T) {
	m := NewMemoryManager(2)
	if _, err := m.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Allocate(); err == nil {
		t.Fatal("expected exhaustion error")
	}
}

func TestMemoryLockMutualExclusion(t *testing.T) {
	m := NewMemoryManager(1)
	id, err := m.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	l1, err := m.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Lock(); err != nil {
		t.Fatal(err)
	}
	l2, err := m.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := l2.TryLock(); ok {
		t.Fatal("expected contention")
	}
	_ = l1.Unlock()
}

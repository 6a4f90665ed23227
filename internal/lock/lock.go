// Package lock implements BoxLite's per-entity advisory lock manager:
// a file-based implementation for production, and an in-memory
// implementation for tests, both satisfying the same Manager interface.
package lock

import (
	"sync"

	"github.com/boxlite/boxlite/internal/berrors"
)

// ID is an opaque, non-negative identifier for an allocated lock slot.
type ID uint32

// Locker is held by exactly one caller (across processes, for the
// file-based implementation) between Lock and Unlock.
type Locker interface {
	Lock() error
	Unlock() error
	TryLock() (bool, error)
}

// Manager allocates, retrieves and frees per-entity locks.
type Manager interface {
	Allocate() (ID, error)
	AllocateAndRetrieve(id ID) (Locker, error)
	Retrieve(id ID) (Locker, error)
	Free(id ID) error
	FreeAll() error
	ClearAllLocks() error
	Available() (uint32, bool)
	AllocatedCount() uint32
}

// Guard acquires a Locker on construction and releases it on Close,
// including on panic/error paths when used with defer.
type Guard struct {
	locker Locker
	mu     sync.Mutex
	closed bool
}

// Acquire locks l and returns a Guard that releases it on Close.
func Acquire(l Locker) (*Guard, error) {
	if err := l.Lock(); err != nil {
		return nil, berrors.Wrap(berrors.Internal, "acquiring lock", err)
	}
	return &Guard{locker: l}, nil
}

// Close releases the lock. Safe to call multiple times.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.locker.Unlock()
}

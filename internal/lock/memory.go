package lock

import (
	"sync"
	"sync/atomic"

	"github.com/boxlite/boxlite/internal/berrors"
)

// MemoryManager is a testing-only Manager backed by a fixed-size vector of
// atomic flags, guarded by a coordination mutex around allocation.
type MemoryManager struct {
	allocMu sync.Mutex
	slots   []atomic.Bool
	locks   []sync.Mutex
}

// NewMemoryManager creates a manager with a fixed capacity of slots.
func NewMemoryManager(capacity uint32) *MemoryManager {
	return &MemoryManager{
		slots: make([]atomic.Bool, capacity),
		locks: make([]sync.Mutex, capacity),
	}
}

func (m *MemoryManager) Allocate() (ID, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()
	for i := range m.slots {
		if m.slots[i].CompareAndSwap(false, true) {
			return ID(i), nil
		}
	}
	return 0, berrors.New(berrors.Storage, "no available lock slots")
}

func (m *MemoryManager) AllocateAndRetrieve(id ID) (Locker, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()
	if int(id) >= len(m.slots) {
		return nil, berrors.Newf(berrors.InvalidArgument, "lock id %d out of range", id)
	}
	if !m.slots[id].CompareAndSwap(false, true) {
		return nil, berrors.Newf(berrors.InvalidState, "lock %d already allocated", id)
	}
	return &memoryLock{id: id, mu: &m.locks[id]}, nil
}

func (m *MemoryManager) Retrieve(id ID) (Locker, error) {
	if int(id) >= len(m.slots) || !m.slots[id].Load() {
		return nil, berrors.Newf(berrors.NotFound, "lock %d not allocated", id)
	}
	return &memoryLock{id: id, mu: &m.locks[id]}, nil
}

func (m *MemoryManager) Free(id ID) error {
	if int(id) >= len(m.slots) {
		return berrors.Newf(berrors.InvalidArgument, "lock id %d out of range", id)
	}
	m.slots[id].Store(false)
	return nil
}

func (m *MemoryManager) FreeAll() error {
	for i := range m.slots {
		m.slots[i].Store(false)
	}
	return nil
}

func (m *MemoryManager) ClearAllLocks() error { return m.FreeAll() }

func (m *MemoryManager) Available() (uint32, bool) {
	count := uint32(0)
	for i := range m.slots {
		if !m.slots[i].Load() {
			count++
		}
	}
	return count, true
}

func (m *MemoryManager) AllocatedCount() uint32 {
	count := uint32(0)
	for i := range m.slots {
		if m.slots[i].Load() {
			count++
		}
	}
	return count
}

type memoryLock struct {
	id ID
	mu *sync.Mutex
}

func (l *memoryLock) Lock() error {
	l.mu.Lock()
	return nil
}

func (l *memoryLock) Unlock() error {
	l.mu.Unlock()
	return nil
}

func (l *memoryLock) TryLock() (bool, error) {
	return l.mu.TryLock(), nil
}

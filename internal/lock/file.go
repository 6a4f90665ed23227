package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/boxlite/boxlite/internal/berrors"
)

// FileManager is the production Manager: each ID maps to a file under
// lock_dir named by its decimal value. Allocation uses exclusive-create
// semantics (O_CREATE|O_EXCL) so it is atomic across processes; the set
// of allocated IDs is rebuilt by scanning the directory at startup.
type FileManager struct {
	dir       string
	allocMu   sync.Mutex // serializes allocation
	mu        sync.RWMutex
	allocated map[ID]bool
}

// NewFileManager creates lockDir if needed and rebuilds the allocated set
// by scanning for numerically-named files already present.
func NewFileManager(lockDir string) (*FileManager, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, berrors.Wrap(berrors.Storage, "creating lock dir", err)
	}
	m := &FileManager{dir: lockDir, allocated: make(map[ID]bool)}
	if err := m.rescan(); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenFileManager requires lockDir to already exist, for callers that
// want to fail fast on a missing home dir.
func OpenFileManager(lockDir string) (*FileManager, error) {
	if _, err := os.Stat(lockDir); err != nil {
		return nil, berrors.Wrap(berrors.Storage, "lock dir does not exist", err)
	}
	m := &FileManager{dir: lockDir, allocated: make(map[ID]bool)}
	if err := m.rescan(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FileManager) rescan() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return berrors.Wrap(berrors.Storage, "scanning lock dir", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocated = make(map[ID]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		m.allocated[ID(n)] = true
	}
	return nil
}

func (m *FileManager) lockPath(id ID) string {
	return filepath.Join(m.dir, strconv.FormatUint(uint64(id), 10))
}

// Allocate finds the lowest unused ID, exclusive-creates its file, and
// marks it allocated.
func (m *FileManager) Allocate() (ID, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	m.mu.RLock()
	id := nextAvailable(m.allocated)
	m.mu.RUnlock()

	if err := m.createExclusive(id); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.allocated[id] = true
	m.mu.Unlock()
	return id, nil
}

func nextAvailable(allocated map[ID]bool) ID {
	for i := ID(0); ; i++ {
		if !allocated[i] {
			return i
		}
	}
}

func (m *FileManager) createExclusive(id ID) error {
	f, err := os.OpenFile(m.lockPath(id), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return berrors.Wrap(berrors.Storage, fmt.Sprintf("creating lock file %d", id), err)
	}
	return f.Close()
}

// AllocateAndRetrieve reclaims a specific ID, failing if already allocated.
func (m *FileManager) AllocateAndRetrieve(id ID) (Locker, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	m.mu.RLock()
	already := m.allocated[id]
	m.mu.RUnlock()
	if already {
		return nil, berrors.Newf(berrors.InvalidState, "lock %d already allocated", id)
	}
	if err := m.createExclusive(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.allocated[id] = true
	m.mu.Unlock()
	return m.open(id)
}

// Retrieve returns a handle for an already-allocated ID.
func (m *FileManager) Retrieve(id ID) (Locker, error) {
	m.mu.RLock()
	ok := m.allocated[id]
	m.mu.RUnlock()
	if !ok {
		return nil, berrors.Newf(berrors.NotFound, "lock %d not allocated", id)
	}
	return m.open(id)
}

func (m *FileManager) open(id ID) (Locker, error) {
	f, err := os.OpenFile(m.lockPath(id), os.O_RDWR, 0o644)
	if err != nil {
		return nil, berrors.Wrap(berrors.Storage, fmt.Sprintf("opening lock file %d", id), err)
	}
	return &fileLock{id: id, file: f}, nil
}

// Free unmarks id and deletes its file.
func (m *FileManager) Free(id ID) error {
	m.mu.Lock()
	delete(m.allocated, id)
	m.mu.Unlock()
	if err := os.Remove(m.lockPath(id)); err != nil && !os.IsNotExist(err) {
		return berrors.Wrap(berrors.Storage, "removing lock file", err)
	}
	return nil
}

// FreeAll clears the allocated set and removes the lock file of every ID
// that was in it. Lock files for IDs not in the in-memory set are left
// on disk.
func (m *FileManager) FreeAll() error {
	m.mu.Lock()
	ids := make([]ID, 0, len(m.allocated))
	for id := range m.allocated {
		ids = append(ids, id)
	}
	m.allocated = make(map[ID]bool)
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := os.Remove(m.lockPath(id)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClearAllLocks is functionally equivalent to FreeAll: only runtime
// recovery invokes it, when the home-directory lock guarantees no other
// process can be holding one of these locks concurrently.
func (m *FileManager) ClearAllLocks() error { return m.FreeAll() }

// Available reports no inherent capacity limit for the file-based manager.
func (m *FileManager) Available() (uint32, bool) { return 0, false }

// AllocatedCount returns how many IDs are currently allocated.
func (m *FileManager) AllocatedCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.allocated))
}

type fileLock struct {
	id   ID
	file *os.File
}

func (l *fileLock) Lock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != nil {
		return berrors.Wrap(berrors.Internal, fmt.Sprintf("flock EX on lock %d", l.id), err)
	}
	return nil
}

func (l *fileLock) Unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return berrors.Wrap(berrors.Internal, fmt.Sprintf("flock UN on lock %d", l.id), err)
	}
	return nil
}

func (l *fileLock) TryLock() (bool, error) {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
		return false, nil
	}
	return false, berrors.Wrap(berrors.Internal, fmt.Sprintf("flock try on lock %d", l.id), err)
}

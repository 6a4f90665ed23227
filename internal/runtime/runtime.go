// Package runtime is BoxLite's top-level object: it owns the
// store, layout, lock manager, image manager and metrics, caches live
// box handles, and orchestrates creation, lookup, removal and crash
// recovery.
package runtime

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"sync"
	"time"
	"weak"

	"golang.org/x/sys/unix"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/identity"
	"github.com/boxlite/boxlite/internal/image"
	"github.com/boxlite/boxlite/internal/jailer"
	"github.com/boxlite/boxlite/internal/layout"
	"github.com/boxlite/boxlite/internal/lock"
	"github.com/boxlite/boxlite/internal/metrics"
	"github.com/boxlite/boxlite/internal/pipeline"
	"github.com/boxlite/boxlite/internal/registry"
	"github.com/boxlite/boxlite/internal/shim"
	"github.com/boxlite/boxlite/internal/state"
	"github.com/boxlite/boxlite/internal/store"
	"github.com/boxlite/boxlite/internal/vmm"
)

// Options configures runtime construction.
type Options struct {
	// HomeDir must be absolute; everything lives under it.
	HomeDir string
	// EngineKind defaults to libkrun.
	EngineKind vmm.Kind
	// Spawner overrides the shim supervisor (tests substitute a fake
	// agent here). Nil selects the real supervisor, located lazily on
	// first start so that runtimes that never start a box don't need
	// the shim bundle installed.
	Spawner pipeline.Spawner
}

// Runtime is safe for concurrent use; one per home directory per host,
// enforced by an exclusive flock on the home dir.
type Runtime struct {
	layout  *layout.Layout
	st      *store.Store
	reg     *registry.Registry
	locks   lock.Manager
	images  *image.Manager
	rtm     metrics.Runtime
	engine  vmm.Kind
	homeLck *os.File

	spawnMu sync.Mutex
	spawner pipeline.Spawner

	// sync_state: short critical sections only (cache maps, name
	// uniqueness).
	mu     sync.Mutex
	byID   map[identity.BoxID]weak.Pointer[BoxImpl]
	byName map[string]identity.BoxID
}

// New builds a runtime over opts.HomeDir: prepares the layout, takes
// the home lock, opens the store, reclaims locks and reconciles the
// database against reality (reboot + dead pids).
func New(ctx context.Context, opts Options) (*Runtime, error) {
	if !filepath.IsAbs(opts.HomeDir) {
		return nil, berrors.Newf(berrors.Config, "home dir must be an absolute path, got %q", opts.HomeDir)
	}
	engine := opts.EngineKind
	if engine == "" {
		engine = vmm.Libkrun
	}

	l, err := layout.New(opts.HomeDir, layout.Config{BindMountSupported: goruntime.GOOS == "linux"})
	if err != nil {
		return nil, err
	}
	if err := l.Prepare(); err != nil {
		return nil, err
	}

	homeLck, err := acquireHomeLock(l.HomeLockPath())
	if err != nil {
		return nil, err
	}

	// tmp/ is scratch; a fresh runtime owns a clean one.
	clearDir(l.TmpRoot())

	st, err := store.Open(l.DBPath())
	if err != nil {
		homeLck.Close()
		return nil, err
	}
	locks, err := lock.NewFileManager(l.LocksRoot())
	if err != nil {
		st.Close()
		homeLck.Close()
		return nil, err
	}
	images, err := image.NewManager(l.ImagesRoot())
	if err != nil {
		st.Close()
		homeLck.Close()
		return nil, err
	}

	rt := &Runtime{
		layout:  l,
		st:      st,
		reg:     registry.New(st),
		locks:   locks,
		images:  images,
		engine:  engine,
		homeLck: homeLck,
		spawner: opts.Spawner,
		byID:    make(map[identity.BoxID]weak.Pointer[BoxImpl]),
		byName:  make(map[string]identity.BoxID),
	}

	if err := rt.recover(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	slog.DebugContext(ctx, "runtime initialized", "home", opts.HomeDir, "engine", engine)
	return rt, nil
}

// Close releases the store and the home lock. Live detached boxes keep
// running; handles from this runtime become invalid.
func (r *Runtime) Close() error {
	err := r.st.Close()
	if r.homeLck != nil {
		_ = unix.Flock(int(r.homeLck.Fd()), unix.LOCK_UN)
		_ = r.homeLck.Close()
	}
	return err
}

// acquireHomeLock takes the exclusive advisory lock two runtimes on the
// same home must contend for.
func acquireHomeLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, berrors.Wrap(berrors.Storage, "opening home lock", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, berrors.Wrap(berrors.InvalidState, "home dir is in use by another boxlite process", err)
	}
	return f, nil
}

func clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		_ = os.RemoveAll(filepath.Join(dir, e.Name()))
	}
}

// recover reconciles the database with reality at startup: reboot
// detection, lock reclamation, and pid liveness + identity checks.
func (r *Runtime) recover(ctx context.Context) error {
	if _, err := r.reg.CheckAndHandleReboot(ctx, store.BootID()); err != nil {
		return err
	}

	// Safe under the home lock: no other process can be mutating locks
	// for this home. Clear everything, then reclaim the IDs the
	// database still references.
	if err := r.locks.ClearAllLocks(); err != nil {
		slog.WarnContext(ctx, "recovery: clearing lock manager failed", "error", err)
	}

	persisted, err := r.reg.ListAll()
	if err != nil {
		return err
	}
	for _, info := range persisted {
		boxID := info.Config.ID
		st := info.State

		if st.LockID != nil {
			if _, err := r.locks.AllocateAndRetrieve(lock.ID(*st.LockID)); err != nil {
				slog.WarnContext(ctx, "recovery: reclaiming lock failed", "box_id", boxID, "lock_id", *st.LockID, "error", err)
			}
		}

		original := st.Status
		if st.PID != nil {
			alive := shim.IsProcessAlive(*st.PID) && shim.IsSameProcess(*st.PID, string(boxID))
			if alive {
				if st.Status == state.Running {
					slog.InfoContext(ctx, "recovery: box still running", "box_id", boxID, "pid", *st.PID)
				}
			} else if st.Status.IsActive() {
				st.MarkCrashed()
				slog.WarnContext(ctx, "recovery: box marked stopped, pid dead or reused", "box_id", boxID, "pid", *st.PID)
			}
		} else if st.Status.IsActive() {
			st.ForceStatus(state.Stopped)
			slog.WarnContext(ctx, "recovery: active box had no pid, marked stopped", "box_id", boxID)
		}

		if st.Status != original {
			if err := r.reg.SaveBox(boxID, st); err != nil {
				slog.WarnContext(ctx, "recovery: persisting reconciled state failed", "box_id", boxID, "error", err)
			}
		}
	}
	return nil
}

// Create validates the name, mints identities and returns a handle.
// Persistence and lock allocation are deferred to first start, so
// creation is cheap and needs no rollback.
func (r *Runtime) Create(ctx context.Context, opts store.BoxOptions, name string) (*BoxHandle, error) {
	if name != "" {
		if err := r.checkNameAvailable(name); err != nil {
			return nil, err
		}
	}

	boxID, err := identity.NewBoxID()
	if err != nil {
		return nil, err
	}
	containerID, err := identity.NewContainerID()
	if err != nil {
		return nil, err
	}

	boxHome := filepath.Join(r.layout.BoxesRoot(), string(boxID))
	bl := r.layout.BoxLayout(boxID, opts.IsolateMounts)
	cfg := store.BoxConfig{
		ID:              boxID,
		Name:            name,
		CreatedAt:       time.Now().UTC(),
		ContainerID:     containerID,
		Options:         opts,
		EngineKind:      r.engine,
		TransportPath:   bl.TransportSocketPath("agent.sock"),
		BoxHome:         boxHome,
		ReadySocketPath: bl.TransportSocketPath("ready.sock"),
	}
	st := state.New()

	impl := r.cacheBox(cfg, st)
	r.rtm.BoxesCreated.Add(1)
	slog.InfoContext(ctx, "Runtime.Create", "box_id", boxID, "name", name, "image", opts.ImageRef)
	return &BoxHandle{impl: impl}, nil
}

// checkNameAvailable checks both the in-memory cache and the store
// under the coordination lock.
func (r *Runtime) checkNameAvailable(name string) error {
	r.mu.Lock()
	if id, ok := r.byName[name]; ok {
		if wp, ok := r.byID[id]; ok && wp.Value() != nil {
			r.mu.Unlock()
			return berrors.Newf(berrors.InvalidArgument, "box with name %q already exists", name)
		}
	}
	r.mu.Unlock()

	if _, err := r.reg.LookupID(name); err == nil {
		return berrors.Newf(berrors.InvalidArgument, "box with name %q already exists", name)
	} else if !berrors.Is(err, berrors.NotFound) && !berrors.Is(err, berrors.InvalidArgument) {
		return err
	}
	return nil
}

// Get resolves id_or_name to a handle: cache first, then store.
func (r *Runtime) Get(ctx context.Context, idOrName string) (*BoxHandle, error) {
	if impl := r.cachedLookup(idOrName); impl != nil {
		return &BoxHandle{impl: impl}, nil
	}

	cfg, st, err := r.reg.Lookup(idOrName)
	if err != nil {
		if berrors.Is(err, berrors.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	stCopy := st
	impl := r.cacheBox(cfg, &stCopy)
	return &BoxHandle{impl: impl}, nil
}

// Exists reports whether a box resolves.
func (r *Runtime) Exists(ctx context.Context, idOrName string) (bool, error) {
	h, err := r.Get(ctx, idOrName)
	if err != nil {
		return false, err
	}
	return h != nil, nil
}

// GetInfo projects one box.
func (r *Runtime) GetInfo(ctx context.Context, idOrName string) (*store.Info, error) {
	h, err := r.Get(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, berrors.Newf(berrors.NotFound, "box %q not found", idOrName)
	}
	info := h.Info()
	return &info, nil
}

// ListInfo merges in-memory-only boxes with persisted rows, newest
// first.
func (r *Runtime) ListInfo(ctx context.Context) ([]store.Info, error) {
	persisted, err := r.reg.ListAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[identity.BoxID]bool, len(persisted))
	for _, info := range persisted {
		seen[info.Config.ID] = true
	}

	out := persisted
	r.mu.Lock()
	for id, wp := range r.byID {
		if seen[id] {
			continue
		}
		impl := wp.Value()
		if impl == nil {
			delete(r.byID, id)
			continue
		}
		out = append(out, impl.snapshotInfo())
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Config.CreatedAt.After(out[j].Config.CreatedAt)
	})
	return out, nil
}

// Remove deletes a box. Active boxes are refused unless force, in which
// case the shim is killed first.
func (r *Runtime) Remove(ctx context.Context, idOrName string, force bool) error {
	h, err := r.Get(ctx, idOrName)
	if err != nil {
		return err
	}
	if h == nil {
		return berrors.Newf(berrors.NotFound, "box %q not found", idOrName)
	}
	return r.removeImpl(ctx, h.impl, force)
}

func (r *Runtime) removeImpl(ctx context.Context, impl *BoxImpl, force bool) error {
	impl.stateMu.Lock()
	st := *impl.state
	impl.stateMu.Unlock()
	cfg := impl.config

	if st.Status.IsActive() && !livenessConfirmed(st, cfg.ID) {
		// A box that never spawned (created, not started) sits in
		// Starting with no pid; nothing needs marking crashed, and it
		// stays active, so a non-force remove is still refused below.
		if st.PID != nil {
			st.MarkCrashed()
		}
	}

	if st.Status.IsActive() {
		if !force {
			return berrors.Newf(berrors.InvalidState,
				"cannot remove active box %s (status %s); use force to stop it first", cfg.ID, st.Status)
		}
		if st.PID != nil {
			slog.InfoContext(ctx, "Runtime.Remove: force killing active box", "box_id", cfg.ID, "pid", *st.PID)
			shim.KillProcess(*st.PID)
		}
		st.MarkCrashed()
		if impl.persisted.Load() {
			if err := r.reg.SaveBox(cfg.ID, st); err != nil {
				slog.WarnContext(ctx, "Runtime.Remove: persisting stopped state failed", "box_id", cfg.ID, "error", err)
			}
		}
	}

	if impl.persisted.Load() {
		if err := r.reg.RemoveBox(ctx, cfg.ID); err != nil && !berrors.Is(err, berrors.NotFound) {
			return err
		}
	}

	if st.LockID != nil {
		if err := r.locks.Free(lock.ID(*st.LockID)); err != nil {
			slog.WarnContext(ctx, "Runtime.Remove: freeing lock failed", "box_id", cfg.ID, "error", err)
		}
	}

	bl := r.layout.BoxLayout(cfg.ID, cfg.Options.IsolateMounts)
	if err := bl.Cleanup(); err != nil {
		slog.WarnContext(ctx, "Runtime.Remove: removing box directory failed", "box_id", cfg.ID, "error", err)
	}

	r.invalidate(cfg.ID, cfg.Name)
	impl.isShutdown.Store(true)
	r.rtm.BoxesRemoved.Add(1)
	slog.InfoContext(ctx, "Runtime.Remove: removed box", "box_id", cfg.ID)
	return nil
}

// livenessConfirmed is the state/pid coherence probe used before
// honoring an "active" status.
func livenessConfirmed(st state.State, id identity.BoxID) bool {
	return st.PID != nil && shim.IsProcessAlive(*st.PID) && shim.IsSameProcess(*st.PID, string(id))
}

// Metrics snapshots the runtime counters.
func (r *Runtime) Metrics() metrics.Snapshot {
	return r.rtm.Snapshot()
}

// PullImage delegates to the image manager.
func (r *Runtime) PullImage(ctx context.Context, ref string) (*image.Handle, error) {
	return r.images.Pull(ctx, ref)
}

// ---- cache ----

func (r *Runtime) cacheBox(cfg store.BoxConfig, st *state.State) *BoxImpl {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.byID[cfg.ID]; ok {
		if impl := wp.Value(); impl != nil {
			return impl
		}
	}
	impl := newBoxImpl(r, cfg, st)
	r.byID[cfg.ID] = weak.Make(impl)
	if cfg.Name != "" {
		r.byName[cfg.Name] = cfg.ID
	}
	return impl
}

// cachedLookup resolves against the weak cache: exact ID, name, then
// unique prefix, pruning dead entries as it goes.
func (r *Runtime) cachedLookup(idOrName string) *BoxImpl {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.byID[identity.BoxID(idOrName)]; ok {
		if impl := wp.Value(); impl != nil {
			return impl
		}
		delete(r.byID, identity.BoxID(idOrName))
	}
	if id, ok := r.byName[idOrName]; ok {
		if wp, ok := r.byID[id]; ok {
			if impl := wp.Value(); impl != nil {
				return impl
			}
			delete(r.byID, id)
		}
		delete(r.byName, idOrName)
	}

	var match *BoxImpl
	var matches int
	for id, wp := range r.byID {
		if !id.HasPrefix(idOrName) {
			continue
		}
		impl := wp.Value()
		if impl == nil {
			delete(r.byID, id)
			continue
		}
		match = impl
		matches++
	}
	if matches == 1 {
		return match
	}
	return nil
}

func (r *Runtime) invalidate(id identity.BoxID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	if name != "" {
		delete(r.byName, name)
	}
}

// getSpawner resolves the spawner lazily so the shim bundle is only
// required once a box actually starts.
func (r *Runtime) getSpawner() (pipeline.Spawner, error) {
	r.spawnMu.Lock()
	defer r.spawnMu.Unlock()
	if r.spawner != nil {
		return r.spawner, nil
	}
	sup, err := shim.NewSupervisor()
	if err != nil {
		return nil, err
	}
	r.spawner = &shimSpawner{sup: sup}
	return r.spawner, nil
}

// shimSpawner adapts shim.Supervisor to the pipeline's Spawner.
type shimSpawner struct {
	sup *shim.Supervisor
}

func (s *shimSpawner) Spawn(ctx context.Context, kind vmm.Kind, spec vmm.InstanceSpec, paths jailer.Paths, pidFilePath string) (pipeline.Handler, error) {
	return s.sup.Spawn(ctx, kind, spec, paths, pidFilePath)
}

func (s *shimSpawner) Attach(pidFilePath, boxID string) (pipeline.Handler, error) {
	return shim.Attach(pidFilePath, boxID)
}

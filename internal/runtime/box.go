package runtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/guestsession"
	"github.com/boxlite/boxlite/internal/identity"
	"github.com/boxlite/boxlite/internal/lock"
	"github.com/boxlite/boxlite/internal/metrics"
	"github.com/boxlite/boxlite/internal/pipeline"
	"github.com/boxlite/boxlite/internal/shim"
	"github.com/boxlite/boxlite/internal/state"
	"github.com/boxlite/boxlite/internal/store"
	"github.com/boxlite/boxlite/internal/vmm"
)

// BoxHandle is the caller-facing handle; copies share one BoxImpl.
type BoxHandle struct {
	impl *BoxImpl
}

// BoxImpl owns one box's config, mutable state and lazily-initialized
// live resources. The runtime's cache holds it weakly; handles hold it
// strongly.
type BoxImpl struct {
	rt     *Runtime
	config store.BoxConfig

	stateMu sync.Mutex
	state   *state.State

	// persisted flips when the config/state rows first hit the store
	// (deferred from create to first start).
	persisted  atomic.Bool
	isShutdown atomic.Bool

	liveMu sync.Mutex
	live   *pipeline.Live
}

func newBoxImpl(rt *Runtime, cfg store.BoxConfig, st *state.State) *BoxImpl {
	impl := &BoxImpl{rt: rt, config: cfg, state: st}
	// A box loaded from the store is persisted by definition.
	if has, err := rt.reg.HasBox(cfg.ID); err == nil && has {
		impl.persisted.Store(true)
	}
	return impl
}

// ID returns the box identifier.
func (h *BoxHandle) ID() identity.BoxID { return h.impl.config.ID }

// Config returns the immutable box configuration.
func (h *BoxHandle) Config() store.BoxConfig { return h.impl.config }

// Info projects current config+state.
func (h *BoxHandle) Info() store.Info { return h.impl.snapshotInfo() }

func (b *BoxImpl) snapshotInfo() store.Info {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return store.Info{Config: b.config, State: *b.state}
}

// Persist writes the config and state rows now instead of waiting for
// the first start. Used by callers whose process won't live until then
// (the CLI's create command).
func (h *BoxHandle) Persist(ctx context.Context) error {
	b := h.impl
	if b.persisted.Load() {
		return nil
	}
	b.stateMu.Lock()
	st := *b.state
	b.stateMu.Unlock()
	if err := b.rt.reg.AddBox(ctx, b.config, st); err != nil {
		return err
	}
	b.persisted.Store(true)
	return nil
}

// Start brings the box up. Idempotent on Running; invalid on Stopping.
func (h *BoxHandle) Start(ctx context.Context) error {
	_, err := h.impl.liveState(ctx)
	return err
}

// Exec runs a command in the guest, lazily starting the box when it is
// stopped.
func (h *BoxHandle) Exec(ctx context.Context, cfg guestsession.ExecConfig) (*guestsession.Execution, error) {
	b := h.impl
	if b.isShutdown.Load() {
		return nil, berrors.New(berrors.InvalidState, "Handle invalidated after stop()")
	}
	b.stateMu.Lock()
	status := b.state.Status
	b.stateMu.Unlock()
	if !status.CanExec() {
		return nil, berrors.Newf(berrors.InvalidState, "cannot exec in box with status %s", status)
	}

	live, err := b.liveState(ctx)
	if err != nil {
		return nil, err
	}

	if !hasEnv(cfg.Env, "BOXLITE_EXECUTOR") {
		cfg.Env = append(cfg.Env, "BOXLITE_EXECUTOR=container="+string(b.config.ContainerID))
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = b.config.Options.WorkingDir
	}
	return live.Session.Exec().Start(ctx, cfg)
}

func hasEnv(env []string, key string) bool {
	prefix := key + "="
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Metrics samples the live VM; requires the box to be up.
func (h *BoxHandle) Metrics(ctx context.Context) (vmm.Metrics, metrics.BoxMetrics, error) {
	live, err := h.impl.liveState(ctx)
	if err != nil {
		return vmm.Metrics{}, metrics.BoxMetrics{}, err
	}
	raw, err := live.Handler.Metrics()
	return raw, live.Metrics, err
}

// Stop shuts the box down: guest shutdown RPC (best effort), handler
// stop, pid file removal, state transition, persistence, cache
// invalidation, then auto-remove when configured.
func (h *BoxHandle) Stop(ctx context.Context) error {
	b := h.impl
	if b.isShutdown.Swap(true) {
		return berrors.New(berrors.InvalidState, "Handle invalidated after stop()")
	}

	b.stateMu.Lock()
	status := b.state.Status
	b.stateMu.Unlock()
	if !status.CanStop() {
		b.isShutdown.Store(false)
		return berrors.Newf(berrors.InvalidState, "cannot stop box with status %s", status)
	}

	unlock, err := b.acquireBoxLock()
	if err != nil {
		slog.WarnContext(ctx, "BoxHandle.Stop: lock unavailable, proceeding", "box_id", b.config.ID, "error", err)
	}
	if unlock != nil {
		defer unlock()
	}

	b.liveMu.Lock()
	live := b.live
	b.live = nil
	b.liveMu.Unlock()

	if live != nil {
		// Best effort: a wedged guest must not block the local state
		// transition.
		if err := live.Session.Guest().Shutdown(ctx); err != nil {
			slog.WarnContext(ctx, "BoxHandle.Stop: guest shutdown RPC failed", "box_id", b.config.ID, "error", err)
		}
		if err := live.Handler.Stop(ctx); err != nil {
			slog.WarnContext(ctx, "BoxHandle.Stop: handler stop failed, killing", "box_id", b.config.ID, "error", err)
			live.Handler.Kill()
		}
	} else {
		b.stateMu.Lock()
		pid := b.state.PID
		b.stateMu.Unlock()
		if pid != nil && shim.IsProcessAlive(*pid) && shim.IsSameProcess(*pid, string(b.config.ID)) {
			shim.TerminateProcess(*pid)
		}
	}

	bl := b.rt.layout.BoxLayout(b.config.ID, b.config.Options.IsolateMounts)
	if err := shim.RemovePIDFile(bl.ShimPIDPath()); err != nil {
		slog.WarnContext(ctx, "BoxHandle.Stop: removing pid file failed", "box_id", b.config.ID, "error", err)
	}

	b.stateMu.Lock()
	if b.state.Status.CanTransitionTo(state.Stopping) {
		_ = b.state.TransitionTo(state.Stopping)
	}
	_ = b.state.TransitionTo(state.Stopped)
	b.state.SetPID(nil)
	st := *b.state
	b.stateMu.Unlock()

	if b.persisted.Load() {
		if err := b.rt.reg.SaveBox(b.config.ID, st); err != nil {
			slog.WarnContext(ctx, "BoxHandle.Stop: persisting stopped state failed", "box_id", b.config.ID, "error", err)
		}
	}

	b.rt.invalidate(b.config.ID, b.config.Name)
	slog.InfoContext(ctx, "BoxHandle.Stop: stopped", "box_id", b.config.ID)

	if b.config.Options.AutoRemove {
		return b.rt.removeImpl(ctx, b, false)
	}
	return nil
}

// liveState initializes the box's live resources exactly once per
// running generation, under the per-box cross-process lock.
func (b *BoxImpl) liveState(ctx context.Context) (*pipeline.Live, error) {
	if b.isShutdown.Load() {
		return nil, berrors.New(berrors.InvalidState, "Handle invalidated after stop()")
	}

	b.liveMu.Lock()
	defer b.liveMu.Unlock()
	if b.live != nil {
		return b.live, nil
	}

	b.stateMu.Lock()
	status := b.state.Status
	b.stateMu.Unlock()

	if status == state.Stopping {
		return nil, berrors.New(berrors.InvalidState, "box is stopping")
	}

	// Mode selection per entry state: Running means a shim is already
	// out there (reattach); Stopped is a restart; Starting here means
	// "configured but never spawned" — the first start.
	var mode pipeline.EntryMode
	switch {
	case status == state.Running && livenessConfirmedImpl(b):
		mode = pipeline.Reattach
	case status == state.Stopped:
		mode = pipeline.FromStopped
	default:
		mode = pipeline.FromConfigured
	}

	spawner, err := b.rt.getSpawner()
	if err != nil {
		return nil, err
	}

	var extraUndos []func()

	// First use persists the rows and allocates the per-box lock.
	if !b.persisted.Load() {
		b.stateMu.Lock()
		st := *b.state
		b.stateMu.Unlock()
		if err := b.rt.reg.AddBox(ctx, b.config, st); err != nil {
			return nil, err
		}
		b.persisted.Store(true)
		extraUndos = append(extraUndos, func() {
			if err := b.rt.reg.RemoveBox(ctx, b.config.ID); err != nil {
				slog.WarnContext(ctx, "cleanup: deleting partial box rows failed", "box_id", b.config.ID, "error", err)
			}
			b.persisted.Store(false)
		})
	}

	lockID, lockFresh, err := b.ensureLockID(ctx)
	if err != nil {
		for i := len(extraUndos) - 1; i >= 0; i-- {
			extraUndos[i]()
		}
		return nil, err
	}
	if lockFresh {
		extraUndos = append(extraUndos, func() {
			if err := b.rt.locks.Free(lockID); err != nil {
				slog.WarnContext(ctx, "cleanup: freeing lock failed", "box_id", b.config.ID, "error", err)
			}
			b.stateMu.Lock()
			b.state.LockID = nil
			b.stateMu.Unlock()
		})
	}

	// Per-box critical section across processes for the whole build.
	locker, err := b.rt.locks.Retrieve(lockID)
	if err != nil {
		return nil, err
	}
	guard, err := lock.Acquire(locker)
	if err != nil {
		return nil, err
	}
	defer guard.Close()

	// Reload config from the store on restart; image config and
	// options are never cached across stop().
	cfg := b.config
	if mode == pipeline.FromStopped {
		if fresh, err := b.rt.reg.LoadConfig(cfg.ID); err == nil {
			cfg = fresh
		}
	}

	p := &pipeline.Pipeline{
		Layout:         b.rt.layout,
		Images:         b.rt.images,
		Registry:       b.rt.reg,
		Spawner:        spawner,
		RuntimeMetrics: &b.rt.rtm,
	}

	b.stateMu.Lock()
	stCopy := *b.state
	b.stateMu.Unlock()

	live, err := p.Run(ctx, cfg, &stCopy, mode, extraUndos...)
	if err != nil {
		return nil, err
	}

	b.stateMu.Lock()
	*b.state = stCopy
	b.stateMu.Unlock()

	b.live = live
	return live, nil
}

// ensureLockID allocates the per-box lock slot on first start; fresh
// reports whether this call allocated it.
func (b *BoxImpl) ensureLockID(ctx context.Context) (lock.ID, bool, error) {
	b.stateMu.Lock()
	existing := b.state.LockID
	b.stateMu.Unlock()
	if existing != nil {
		return lock.ID(*existing), false, nil
	}

	id, err := b.rt.locks.Allocate()
	if err != nil {
		return 0, false, err
	}
	raw := uint32(id)
	b.stateMu.Lock()
	b.state.LockID = &raw
	st := *b.state
	b.stateMu.Unlock()

	if b.persisted.Load() {
		if err := b.rt.reg.SaveBox(b.config.ID, st); err != nil {
			return 0, false, err
		}
	}
	slog.DebugContext(ctx, "allocated box lock", "box_id", b.config.ID, "lock_id", raw)
	return id, true, nil
}

// acquireBoxLock takes the per-box lock when one exists; stop on a box
// that never started has nothing to contend with.
func (b *BoxImpl) acquireBoxLock() (func(), error) {
	b.stateMu.Lock()
	lockID := b.state.LockID
	b.stateMu.Unlock()
	if lockID == nil {
		return nil, nil
	}
	locker, err := b.rt.locks.Retrieve(lock.ID(*lockID))
	if err != nil {
		return nil, err
	}
	guard, err := lock.Acquire(locker)
	if err != nil {
		return nil, err
	}
	return func() { _ = guard.Close() }, nil
}

func livenessConfirmedImpl(b *BoxImpl) bool {
	b.stateMu.Lock()
	st := *b.state
	b.stateMu.Unlock()
	return livenessConfirmed(st, b.config.ID)
}

// Package registry implements the Box Registry: CRUD over the
// persistent store plus name/ID/prefix lookup and reboot handling. Pure
// database access, no in-memory cache.
package registry

import (
	"context"
	"log/slog"
	"strings"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/identity"
	"github.com/boxlite/boxlite/internal/state"
	"github.com/boxlite/boxlite/internal/store"
)

// Registry wraps a Store with uniqueness checks and lookup policy.
type Registry struct {
	store *store.Store
}

// New returns a Registry over st.
func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// AddBox persists a new (config, state) pair after checking ID and name
// uniqueness. Both rows are written in a single transaction.
func (r *Registry) AddBox(ctx context.Context, cfg store.BoxConfig, st state.State) error {
	if cfg.Name != "" {
		existing, err := r.LookupID(cfg.Name)
		if err != nil && !berrors.Is(err, berrors.NotFound) {
			return err
		}
		if existing != "" {
			return berrors.Newf(berrors.InvalidArgument, "box with name %q already exists", cfg.Name)
		}
	}
	if has, err := r.HasBox(cfg.ID); err != nil {
		return err
	} else if has {
		return berrors.Newf(berrors.InvalidState, "box %s already exists", cfg.ID)
	}
	if err := r.store.Save(cfg, st); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Registry.AddBox", "box_id", cfg.ID, "name", cfg.Name, "status", st.Status)
	return nil
}

// HasBox reports whether a box with the exact ID exists.
func (r *Registry) HasBox(id identity.BoxID) (bool, error) {
	_, err := r.store.LoadConfig(id)
	if err != nil {
		if berrors.Is(err, berrors.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Lookup resolves id_or_name to a box, in this order: exact ID match,
// exact name match, unique ID prefix match. An ambiguous prefix is a
// hard error naming every matching ID.
func (r *Registry) Lookup(idOrName string) (store.BoxConfig, state.State, error) {
	cfg, st, err := r.store.Load(identity.BoxID(idOrName))
	if err == nil {
		return cfg, st, nil
	}
	if !berrors.Is(err, berrors.NotFound) {
		return store.BoxConfig{}, state.State{}, err
	}

	all, err := r.store.ListAll()
	if err != nil {
		return store.BoxConfig{}, state.State{}, err
	}
	for _, info := range all {
		if info.Config.Name != "" && info.Config.Name == idOrName {
			return info.Config, info.State, nil
		}
	}

	var matches []store.Info
	for _, info := range all {
		if info.Config.ID.HasPrefix(idOrName) {
			matches = append(matches, info)
		}
	}
	switch len(matches) {
	case 0:
		return store.BoxConfig{}, state.State{}, berrors.Newf(berrors.NotFound, "box %q not found", idOrName)
	case 1:
		return matches[0].Config, matches[0].State, nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = string(m.Config.ID)
		}
		return store.BoxConfig{}, state.State{}, berrors.Newf(berrors.InvalidArgument,
			"multiple boxes match prefix %q: %s", idOrName, strings.Join(ids, ", "))
	}
}

// LookupID resolves id_or_name to just the box ID, or "" with a
// NotFound error if no box matches.
func (r *Registry) LookupID(idOrName string) (identity.BoxID, error) {
	cfg, _, err := r.Lookup(idOrName)
	if err != nil {
		return "", err
	}
	return cfg.ID, nil
}

// ListAll returns every box sorted by created_at descending.
func (r *Registry) ListAll() ([]store.Info, error) {
	return r.store.ListAll()
}

// ListActive returns boxes whose status is Starting or Running.
func (r *Registry) ListActive() ([]store.Info, error) {
	return r.store.ListActive()
}

// UpdatePID overwrites just the pid on a box's persisted state.
func (r *Registry) UpdatePID(id identity.BoxID, pid *uint32) error {
	st, err := r.store.LoadState(id)
	if err != nil {
		return err
	}
	st.SetPID(pid)
	return r.store.UpdateState(id, st)
}

// SaveBox persists st as the new state for id.
func (r *Registry) SaveBox(id identity.BoxID, st state.State) error {
	return r.store.UpdateState(id, st)
}

// LoadState re-reads the latest persisted state for id.
func (r *Registry) LoadState(id identity.BoxID) (state.State, error) {
	return r.store.LoadState(id)
}

// LoadConfig re-reads the persisted config for id.
func (r *Registry) LoadConfig(id identity.BoxID) (store.BoxConfig, error) {
	return r.store.LoadConfig(id)
}

// RemoveBox deletes both rows for id. Freeing the box's lock is the
// caller's responsibility.
func (r *Registry) RemoveBox(ctx context.Context, id identity.BoxID) error {
	if err := r.store.Delete(id); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Registry.RemoveBox", "box_id", id)
	return nil
}

// CheckAndHandleReboot compares the stored boot id with the current one
// and, on mismatch, resets every active box to Stopped. Returns whether
// a reboot was detected.
func (r *Registry) CheckAndHandleReboot(ctx context.Context, currentBootID string) (bool, error) {
	rebooted, err := r.store.CheckAndUpdateBoot(currentBootID)
	if err != nil {
		return false, err
	}
	if rebooted {
		slog.InfoContext(ctx, "Registry.CheckAndHandleReboot: reboot detected, resetting active boxes")
		reset, err := r.store.ResetActiveBoxesAfterReboot()
		if err != nil {
			return true, err
		}
		for _, id := range reset {
			slog.InfoContext(ctx, "Registry.CheckAndHandleReboot: box reset to stopped", "box_id", id)
		}
	}
	return rebooted, nil
}

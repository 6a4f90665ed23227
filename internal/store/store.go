// Package store is BoxLite's persistent store: an embedded sqlite
// database holding box_config/box_state/alive using the "indexed columns
// + JSON blob" pattern (queryable projections for hot filters, the full
// object as a blob for forward compatibility).
package store

import (
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/identity"
	"github.com/boxlite/boxlite/internal/state"
)

// Store wraps a *sql.DB handle to the boxlite.db file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path,
// enables WAL mode, and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, berrors.Wrap(berrors.Storage, "opening sqlite database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, berrors.Wrap(berrors.Storage, "enabling WAL mode", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, berrors.Wrap(berrors.Storage, "enabling foreign keys", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// configRow / stateRow are the JSON-serializable shapes stored in the
// blob columns; separated from the domain types so storage concerns
// (timestamps as unix millis, pointer-vs-zero-value) don't leak upward.
type configRow struct {
	ID              string        `json:"id"`
	Name            string        `json:"name,omitempty"`
	CreatedAt       int64         `json:"created_at"`
	ContainerID     string        `json:"container_id"`
	Options         BoxOptions    `json:"options"`
	EngineKind      VmmKind       `json:"engine_kind"`
	TransportPath   string        `json:"transport_path"`
	BoxHome         string        `json:"box_home"`
	ReadySocketPath string        `json:"ready_socket_path"`
}

type stateRow struct {
	Status      string  `json:"status"`
	PID         *uint32 `json:"pid,omitempty"`
	ContainerID string  `json:"container_id,omitempty"`
	LockID      *uint32 `json:"lock_id,omitempty"`
	LastUpdated int64   `json:"last_updated"`
}

func toConfigRow(c BoxConfig) configRow {
	return configRow{
		ID:              string(c.ID),
		Name:            c.Name,
		CreatedAt:       c.CreatedAt.UnixMilli(),
		ContainerID:     string(c.ContainerID),
		Options:         c.Options,
		EngineKind:      c.EngineKind,
		TransportPath:   c.TransportPath,
		BoxHome:         c.BoxHome,
		ReadySocketPath: c.ReadySocketPath,
	}
}

func (r configRow) toConfig() BoxConfig {
	return BoxConfig{
		ID:              identity.BoxID(r.ID),
		Name:            r.Name,
		CreatedAt:       time.UnixMilli(r.CreatedAt).UTC(),
		ContainerID:     identity.ContainerID(r.ContainerID),
		Options:         r.Options,
		EngineKind:      r.EngineKind,
		TransportPath:   r.TransportPath,
		BoxHome:         r.BoxHome,
		ReadySocketPath: r.ReadySocketPath,
	}
}

func toStateRow(s state.State) stateRow {
	row := stateRow{
		Status:      s.Status.String(),
		PID:         s.PID,
		LockID:      s.LockID,
		LastUpdated: s.LastUpdated.UnixMilli(),
	}
	if s.ContainerID != nil {
		row.ContainerID = string(*s.ContainerID)
	}
	return row
}

func (r stateRow) toState() (state.State, error) {
	status, err := state.ParseStatus(r.Status)
	if err != nil {
		return state.State{}, err
	}
	st := state.State{
		Status:      status,
		PID:         r.PID,
		LockID:      r.LockID,
		LastUpdated: time.UnixMilli(r.LastUpdated).UTC(),
	}
	if r.ContainerID != "" {
		cid := identity.ContainerID(r.ContainerID)
		st.ContainerID = &cid
	}
	return st, nil
}

// Save persists a brand-new (config, state) pair in a single transaction.
func (s *Store) Save(cfg BoxConfig, st state.State) error {
	cRow, err := json.Marshal(toConfigRow(cfg))
	if err != nil {
		return berrors.Wrap(berrors.Internal, "marshaling box config", err)
	}
	sRow, err := json.Marshal(toStateRow(st))
	if err != nil {
		return berrors.Wrap(berrors.Internal, "marshaling box state", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return berrors.Wrap(berrors.Storage, "beginning save transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO box_config (id, created_at, json) VALUES (?, ?, ?)`,
		string(cfg.ID), cfg.CreatedAt.UnixMilli(), string(cRow),
	); err != nil {
		return berrors.Wrap(berrors.Storage, "inserting box_config", err)
	}

	var pid any
	if st.PID != nil {
		pid = *st.PID
	}
	if _, err := tx.Exec(
		`INSERT INTO box_state (id, status, pid, json) VALUES (?, ?, ?, ?)`,
		string(cfg.ID), st.Status.String(), pid, string(sRow),
	); err != nil {
		return berrors.Wrap(berrors.Storage, "inserting box_state", err)
	}
	if err := tx.Commit(); err != nil {
		return berrors.Wrap(berrors.Storage, "committing save", err)
	}
	return nil
}

// UpdateState overwrites the state row for id; errors with NotFound if
// no row was affected.
func (s *Store) UpdateState(id identity.BoxID, st state.State) error {
	sRow, err := json.Marshal(toStateRow(st))
	if err != nil {
		return berrors.Wrap(berrors.Internal, "marshaling box state", err)
	}
	var pid any
	if st.PID != nil {
		pid = *st.PID
	}
	res, err := s.db.Exec(
		`UPDATE box_state SET status = ?, pid = ?, json = ? WHERE id = ?`,
		st.Status.String(), pid, string(sRow), string(id),
	)
	if err != nil {
		return berrors.Wrap(berrors.Storage, "updating box_state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return berrors.Wrap(berrors.Storage, "checking rows affected", err)
	}
	if n == 0 {
		return berrors.Newf(berrors.NotFound, "box %s not found", id)
	}
	return nil
}

// Delete removes box_config for id; box_state cascades via the foreign
// key.
func (s *Store) Delete(id identity.BoxID) error {
	res, err := s.db.Exec(`DELETE FROM box_config WHERE id = ?`, string(id))
	if err != nil {
		return berrors.Wrap(berrors.Storage, "deleting box_config", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return berrors.Wrap(berrors.Storage, "checking rows affected", err)
	}
	if n == 0 {
		return berrors.Newf(berrors.NotFound, "box %s not found", id)
	}
	return nil
}

// LoadConfig reads just the config row.
func (s *Store) LoadConfig(id identity.BoxID) (BoxConfig, error) {
	var raw string
	err := s.db.QueryRow(`SELECT json FROM box_config WHERE id = ?`, string(id)).Scan(&raw)
	if err == sql.ErrNoRows {
		return BoxConfig{}, berrors.Newf(berrors.NotFound, "box %s not found", id)
	}
	if err != nil {
		return BoxConfig{}, berrors.Wrap(berrors.Storage, "loading box_config", err)
	}
	var row configRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return BoxConfig{}, berrors.Wrap(berrors.Internal, "unmarshaling box_config", err)
	}
	return row.toConfig(), nil
}

// LoadState reads just the state row.
func (s *Store) LoadState(id identity.BoxID) (state.State, error) {
	var raw string
	err := s.db.QueryRow(`SELECT json FROM box_state WHERE id = ?`, string(id)).Scan(&raw)
	if err == sql.ErrNoRows {
		return state.State{}, berrors.Newf(berrors.NotFound, "box %s not found", id)
	}
	if err != nil {
		return state.State{}, berrors.Wrap(berrors.Storage, "loading box_state", err)
	}
	var row stateRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return state.State{}, berrors.Wrap(berrors.Internal, "unmarshaling box_state", err)
	}
	return row.toState()
}

// Load combines LoadConfig and LoadState.
func (s *Store) Load(id identity.BoxID) (BoxConfig, state.State, error) {
	cfg, err := s.LoadConfig(id)
	if err != nil {
		return BoxConfig{}, state.State{}, err
	}
	st, err := s.LoadState(id)
	if err != nil {
		return BoxConfig{}, state.State{}, err
	}
	return cfg, st, nil
}

// ListAll returns every box, sorted by created_at descending.
func (s *Store) ListAll() ([]Info, error) {
	rows, err := s.db.Query(
		`SELECT c.json, s.json FROM box_config c JOIN box_state s ON c.id = s.id ORDER BY c.created_at DESC`,
	)
	if err != nil {
		return nil, berrors.Wrap(berrors.Storage, "listing boxes", err)
	}
	defer rows.Close()
	return scanInfos(rows)
}

// ListActive returns boxes whose status is Starting or Running.
func (s *Store) ListActive() ([]Info, error) {
	rows, err := s.db.Query(
		`SELECT c.json, s.json FROM box_config c JOIN box_state s ON c.id = s.id WHERE s.status IN (?, ?) ORDER BY c.created_at DESC`,
		state.Starting.String(), state.Running.String(),
	)
	if err != nil {
		return nil, berrors.Wrap(berrors.Storage, "listing active boxes", err)
	}
	defer rows.Close()
	return scanInfos(rows)
}

func scanInfos(rows *sql.Rows) ([]Info, error) {
	var out []Info
	for rows.Next() {
		var cRaw, sRaw string
		if err := rows.Scan(&cRaw, &sRaw); err != nil {
			return nil, berrors.Wrap(berrors.Storage, "scanning box row", err)
		}
		var cRow configRow
		if err := json.Unmarshal([]byte(cRaw), &cRow); err != nil {
			return nil, berrors.Wrap(berrors.Internal, "unmarshaling box_config", err)
		}
		var sRow stateRow
		if err := json.Unmarshal([]byte(sRaw), &sRow); err != nil {
			return nil, berrors.Wrap(berrors.Internal, "unmarshaling box_state", err)
		}
		st, err := sRow.toState()
		if err != nil {
			return nil, err
		}
		out = append(out, Info{Config: cRow.toConfig(), State: st})
	}
	if err := rows.Err(); err != nil {
		return nil, berrors.Wrap(berrors.Storage, "iterating box rows", err)
	}
	// Defensive: re-sort in case the driver doesn't preserve ORDER BY
	// across WAL checkpoints identically to what callers expect.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Config.CreatedAt.After(out[j].Config.CreatedAt)
	})
	return out, nil
}

// CheckAndUpdateBoot compares the stored boot_id against the current OS
// boot id. It returns true if they differ (or no alive row exists yet),
// signaling a reboot, and upserts the current boot id either way.
func (s *Store) CheckAndUpdateBoot(currentBootID string) (bool, error) {
	var stored string
	err := s.db.QueryRow(`SELECT boot_id FROM alive WHERE id = 1`).Scan(&stored)
	rebooted := false
	switch err {
	case sql.ErrNoRows:
		rebooted = true
	case nil:
		rebooted = stored != currentBootID
	default:
		return false, berrors.Wrap(berrors.Storage, "reading alive row", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO alive (id, boot_id, started_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET boot_id = excluded.boot_id, started_at = excluded.started_at`,
		currentBootID, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return false, berrors.Wrap(berrors.Storage, "upserting alive row", err)
	}
	return rebooted, nil
}

// ResetActiveBoxesAfterReboot transitions every active box to Stopped
// with pid cleared, and returns the list of affected IDs.
func (s *Store) ResetActiveBoxesAfterReboot() ([]identity.BoxID, error) {
	active, err := s.ListActive()
	if err != nil {
		return nil, err
	}
	var reset []identity.BoxID
	for _, info := range active {
		st := info.State
		st.ResetForReboot()
		if err := s.UpdateState(info.Config.ID, st); err != nil {
			return reset, err
		}
		reset = append(reset, info.Config.ID)
	}
	return reset, nil
}

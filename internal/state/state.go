// Package state implements the box lifecycle state machine: the status
// enum, the legal-transition table and its derived predicates.
package state

import (
	"fmt"
	"time"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/identity"
)

// Status is one of the five lifecycle states a box can be in.
type Status string

const (
	Unknown  Status = "unknown"
	Starting Status = "starting"
	Running  Status = "running"
	Stopping Status = "stopping"
	Stopped  Status = "stopped"
)

func (s Status) String() string { return string(s) }

// ParseStatus parses the string form produced by String().
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case Unknown, Starting, Running, Stopping, Stopped:
		return Status(s), nil
	default:
		return Unknown, berrors.Newf(berrors.InvalidArgument, "unknown box status %q", s)
	}
}

// IsActive reports whether the box is expected to have a live process.
func (s Status) IsActive() bool { return s == Starting || s == Running }

func (s Status) IsRunning() bool   { return s == Running }
func (s Status) IsStarting() bool  { return s == Starting }
func (s Status) IsStopped() bool   { return s == Stopped }
func (s Status) IsTransient() bool { return s == Starting || s == Stopping }

// CanRestart reports whether start() may be called from this status.
func (s Status) CanRestart() bool { return s == Stopped }

// CanStop reports whether stop() may be called from this status.
// Starting can stop even though the VM may not be fully up yet.
func (s Status) CanStop() bool { return s == Starting || s == Running }

// CanExec reports whether exec() may be attempted; Stopped triggers a
// lazy restart before the command runs.
func (s Status) CanExec() bool { return s == Starting || s == Running || s == Stopped }

// CanRemove reports whether the status permits removal. Runtime.Remove
// does not consult it: it refuses every active status, Starting
// included, unless force is set.
func (s Status) CanRemove() bool { return s == Starting || s == Stopped || s == Unknown }

// legalTransitions is the full status-transition table; Unknown may
// move anywhere.
var legalTransitions = map[Status]map[Status]bool{
	Unknown:  nil, // Unknown -> any
	Starting: {Running: true, Stopped: true, Unknown: true},
	Running:  {Stopping: true, Stopped: true, Unknown: true},
	Stopping: {Stopped: true, Unknown: true},
	Stopped:  {Starting: true, Unknown: true},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	if s == Unknown {
		return true
	}
	allowed, ok := legalTransitions[s]
	if !ok {
		return false
	}
	return allowed[next]
}

// State is the mutable half of a box's persisted record.
type State struct {
	Status      Status
	PID         *uint32
	ContainerID *identity.ContainerID
	// LockID is the per-box advisory lock slot, allocated lazily on
	// first start and freed when the box is removed.
	LockID      *uint32
	LastUpdated time.Time
}

// New returns an initial state with status Starting, matching how the
// Runtime Core constructs state before the first pipeline run.
func New() *State {
	return &State{Status: Starting, LastUpdated: time.Now().UTC()}
}

// TransitionTo validates the move against the legality table before
// mutating; on success it also stamps LastUpdated.
func (st *State) TransitionTo(next Status) error {
	if !st.Status.CanTransitionTo(next) {
		return berrors.Newf(berrors.InvalidState, "illegal transition %s -> %s", st.Status, next)
	}
	st.Status = next
	st.LastUpdated = time.Now().UTC()
	return nil
}

// ForceStatus sets the status unconditionally, bypassing the legality
// table. Used only by recovery paths (reboot reset, crash detection).
func (st *State) ForceStatus(s Status) {
	st.Status = s
	st.LastUpdated = time.Now().UTC()
}

// SetPID records (or clears, via nil) the live process id.
func (st *State) SetPID(pid *uint32) {
	st.PID = pid
	st.LastUpdated = time.Now().UTC()
}

// MarkCrashed forces Stopped and clears PID without consulting the
// legality table: used by recovery when a box's process is found dead
// outside of a reboot (pid gone, but boot id unchanged).
func (st *State) MarkCrashed() {
	st.Status = Stopped
	st.PID = nil
	st.LastUpdated = time.Now().UTC()
}

// ResetForReboot clears PID always, and forces Stopped only if the box
// was active; otherwise its status (e.g. already Stopped) is preserved.
func (st *State) ResetForReboot() {
	if st.Status.IsActive() {
		st.Status = Stopped
	}
	st.PID = nil
	st.LastUpdated = time.Now().UTC()
}

func (st *State) String() string {
	pid := "none"
	if st.PID != nil {
		pid = fmt.Sprintf("%d", *st.PID)
	}
	return fmt.Sprintf("State{status=%s pid=%s}", st.Status, pid)
}

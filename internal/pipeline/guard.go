// Package pipeline is the staged box initialization executor:
// filesystem setup, rootfs preparation (parallel), then spawn, guest
// connect and guest init, all under a cleanup guard that unwinds
// partial resources on failure.
package pipeline

import (
	"log/slog"

	"github.com/boxlite/boxlite/internal/metrics"
)

// CleanupGuard collects undo actions as stages succeed and runs them in
// reverse order if the pipeline fails. Go has no destructors, so the
// guard is driven by `defer guard.Unwind()` at pipeline entry and
// disarmed on success — any observable half-state is either rolled back
// completely or the pipeline succeeded completely.
type CleanupGuard struct {
	runtimeMetrics *metrics.Runtime
	undos          []func()
	armed          bool
}

// NewCleanupGuard returns an armed guard.
func NewCleanupGuard(rm *metrics.Runtime) *CleanupGuard {
	return &CleanupGuard{runtimeMetrics: rm, armed: true}
}

// OnFailure registers an undo action; actions run LIFO on unwind.
func (g *CleanupGuard) OnFailure(undo func()) {
	g.undos = append(g.undos, undo)
}

// Disarm marks the pipeline successful; Unwind becomes a no-op.
func (g *CleanupGuard) Disarm() {
	g.armed = false
}

// Unwind rolls back everything registered so far, newest first, and
// counts the failure. Call via defer.
func (g *CleanupGuard) Unwind() {
	if !g.armed {
		return
	}
	slog.Warn("box initialization failed, unwinding partial resources", "steps", len(g.undos))
	for i := len(g.undos) - 1; i >= 0; i-- {
		g.undos[i]()
	}
	if g.runtimeMetrics != nil {
		g.runtimeMetrics.BoxesFailed.Add(1)
	}
}

// Package metrics holds BoxLite's runtime-wide atomic counters and the
// per-box stage timing storage. Counters are lock-free; callers
// snapshot them with Runtime.Snapshot.
package metrics

import "sync/atomic"

// Runtime is the process-wide counter set owned by the Runtime Core.
type Runtime struct {
	BoxesCreated atomic.Uint64
	BoxesFailed  atomic.Uint64
	BoxesRemoved atomic.Uint64
}

// Snapshot is an atomic point-in-time copy of the runtime counters.
type Snapshot struct {
	BoxesCreated uint64
	BoxesFailed  uint64
	BoxesRemoved uint64
}

// Snapshot reads all counters. Each load is individually atomic; the
// set is not a consistent cut, which is fine for telemetry.
func (r *Runtime) Snapshot() Snapshot {
	return Snapshot{
		BoxesCreated: r.BoxesCreated.Load(),
		BoxesFailed:  r.BoxesFailed.Load(),
		BoxesRemoved: r.BoxesRemoved.Load(),
	}
}

// BoxMetrics records wall-clock durations for one box's initialization,
// including the per-stage breakdown.
type BoxMetrics struct {
	TotalCreateDurationMS int64
	GuestBootDurationMS   int64

	StageFilesystemSetupMS int64
	StageImagePrepareMS    int64
	StageInitRootfsMS      int64
	StageBoxConfigMS       int64
	StageBoxSpawnMS        int64
	StageContainerInitMS   int64
}

package pipeline

import (
	"context"
	"time"

	"github.com/boxlite/boxlite/internal/guestsession"
	"github.com/boxlite/boxlite/internal/jailer"
	"github.com/boxlite/boxlite/internal/metrics"
	"github.com/boxlite/boxlite/internal/netcfg"
	"github.com/boxlite/boxlite/internal/vmm"
)

// EntryMode selects which stages run, derived from the box's status at
// start time.
type EntryMode int

const (
	// FromConfigured is the first start: every stage runs.
	FromConfigured EntryMode = iota
	// FromStopped is a restart: rootfs is reused where cached and
	// guest init is skipped; the container is re-created via the
	// container interface only.
	FromStopped
	// Reattach joins a box whose shim is already running: attach and
	// connect only, no spawn, no init.
	Reattach
)

// Handler is the parent's control surface over a spawned shim,
// implemented by shim.Handle.
type Handler interface {
	PID() uint32
	IsRunning() bool
	Stop(ctx context.Context) error
	Kill()
	Metrics() (vmm.Metrics, error)
	MarkGuestReady()
	GuestBootDuration() time.Duration
}

// Spawner abstracts the shim supervisor so tests can substitute a fake
// that serves the guest protocol without a VM.
type Spawner interface {
	Spawn(ctx context.Context, kind vmm.Kind, spec vmm.InstanceSpec, paths jailer.Paths, pidFilePath string) (Handler, error)
	Attach(pidFilePath, boxID string) (Handler, error)
}

// Live is a successfully initialized box: the running handler, the
// connected guest session, and the timing breakdown.
type Live struct {
	Handler      Handler
	Session      *guestsession.Session
	Metrics      metrics.BoxMetrics
	GuestNetwork netcfg.GuestNetworkInit
	Disks        []vmm.DiskConfig
}

// Guest-side mount-point conventions for the fixed virtiofs tags.
const (
	TagShared  = "shared"
	TagLayers  = "layers"
	TagRootfs  = "rootfs"
	TagUserVol = "uservol" // uservol0, uservol1, ...

	GuestSharedMount = "/mnt/shared"
	GuestLayersMount = "/mnt/layers"
	GuestRootfsMount = "/mnt/rootfs"

	guestOverlayUpper  = "/run/boxlite/overlay/upper"
	guestOverlayWork   = "/run/boxlite/overlay/work"
	guestOverlayMerged = "/run/boxlite/overlay/merged"

	guestAgentExecutable = "/sbin/boxlite-guest"
)

// connectTimeout bounds the ready-signal wait and, separately, the agent
// ping loop.
const connectTimeout = 60 * time.Second

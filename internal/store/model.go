package store

import (
	"time"

	"github.com/boxlite/boxlite/internal/identity"
	"github.com/boxlite/boxlite/internal/state"
	"github.com/boxlite/boxlite/internal/vmm"
)

// VmmKind selects the microVM engine a box runs under.
type VmmKind = vmm.Kind

const (
	Libkrun     = vmm.Libkrun
	Firecracker = vmm.Firecracker
)

// PortMapping maps a guest port to a host port; HostPort defaults to
// GuestPort when zero.
type PortMapping = vmm.PortMapping

// VolumeMount is a host path bound into the guest.
type VolumeMount struct {
	HostPath  string
	GuestPath string
	ReadOnly  bool
}

// EnvVar is one entry of an ordered, duplicate-preserving env list;
// "last wins" policy is applied at consumption time, not storage time.
type EnvVar = vmm.EnvKV

// BoxOptions is everything a caller supplies when creating a box.
type BoxOptions struct {
	// The rootfs is either an image reference in ImageRef (e.g.
	// "alpine:latest") or, when HostRootfsPath is set, a pre-existing
	// host directory used directly instead of pulling an image.
	ImageRef       string
	HostRootfsPath string

	CPUs         *uint8
	MemoryMiB    *uint32
	Env          []EnvVar
	WorkingDir   string
	Ports        []PortMapping
	Volumes      []VolumeMount
	AutoRemove   bool
	Detach       bool
	IsolateMounts bool
	Labels       map[string]string
}

// BoxConfig is immutable after creation.
type BoxConfig struct {
	ID              identity.BoxID
	Name            string // optional; empty means unnamed
	CreatedAt       time.Time
	ContainerID     identity.ContainerID
	Options         BoxOptions
	EngineKind      VmmKind
	TransportPath   string
	BoxHome         string
	ReadySocketPath string
}

// Info is the read-model projection of (BoxConfig, BoxState) exposed to
// API consumers.
type Info struct {
	Config BoxConfig
	State  state.State
}

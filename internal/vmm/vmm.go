// Package vmm is the engine-agnostic VMM adapter: the InstanceSpec
// handed from the parent to the shim, the host-Unix-to-vsock entrypoint
// translation, and the engine registry. The hypervisors themselves are
// external; this package only shapes what they consume.
package vmm

import (
	"strings"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/jailer"
)

// Kind selects the microVM engine a box runs under.
type Kind string

const (
	Libkrun     Kind = "libkrun"
	Firecracker Kind = "firecracker"
)

// ParseKind parses the CLI/serialized form of an engine kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case Libkrun:
		return Libkrun, nil
	case Firecracker:
		return Firecracker, nil
	default:
		return "", berrors.Newf(berrors.Engine, "unknown engine type %q, supported: libkrun, firecracker", s)
	}
}

func (k Kind) String() string { return string(k) }

// Fixed vsock ports inside the guest. The engine bridges the host-side
// Unix sockets onto these.
const (
	// GuestAgentPort is where the guest agent accepts control RPCs;
	// the host connects through the bridged Unix socket.
	GuestAgentPort uint32 = 2695
	// GuestReadyPort is where the guest connects out when it is ready;
	// the host listens on the bridged Unix socket.
	GuestReadyPort uint32 = 2696
)

// EnvKV is one ordered environment entry; duplicates are preserved and
// resolved last-wins by the consumer.
type EnvKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MountConfig is one virtiofs share exposed to the guest under a tag.
type MountConfig struct {
	Tag      string `json:"tag"`
	HostPath string `json:"host_path"`
	ReadOnly bool   `json:"read_only"`
}

// DiskFormat is the on-disk image format of a virtio-blk attachment.
type DiskFormat string

const (
	Raw   DiskFormat = "raw"
	Qcow2 DiskFormat = "qcow2"
)

// DiskConfig is a single virtio-blk attachment; the guest sees it as
// /dev/{block_id}.
type DiskConfig struct {
	BlockID  string     `json:"block_id"`
	DiskPath string     `json:"disk_path"`
	ReadOnly bool       `json:"read_only"`
	Format   DiskFormat `json:"format"`
}

// Entrypoint is what the guest should run once booted.
type Entrypoint struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
	Env        []EnvKV  `json:"env"`
}

// PortMapping maps a guest port onto a host port.
type PortMapping struct {
	GuestPort uint16 `json:"guest_port"`
	HostPort  uint16 `json:"host_port"`
}

// NetworkConfig is handed to the shim so it can start the network
// backend (gvproxy) next to the VM.
type NetworkConfig struct {
	PortMappings []PortMapping `json:"port_mappings"`
}

// InstanceSpec is the complete serialized configuration for one VM,
// passed to the shim as JSON via --config.
type InstanceSpec struct {
	BoxID     string  `json:"box_id"`
	CPUs      *uint8  `json:"cpus,omitempty"`
	MemoryMiB *uint32 `json:"memory_mib,omitempty"`

	FsShares []MountConfig `json:"fs_shares"`
	Disks    []DiskConfig  `json:"disks"`

	GuestEntrypoint Entrypoint `json:"guest_entrypoint"`

	// TransportPath is the host Unix socket bridged to GuestAgentPort.
	TransportPath string `json:"transport_path"`
	// ReadySocketPath is the host Unix socket bridged to
	// GuestReadyPort; the host listens, the guest connects when ready.
	ReadySocketPath string `json:"ready_socket_path"`

	NetworkConfig *NetworkConfig `json:"network_config,omitempty"`

	HomeDir       string `json:"home_dir"`
	ConsoleOutput string `json:"console_output,omitempty"`

	Security  jailer.SecurityOptions `json:"security"`
	Detach    bool                   `json:"detach"`
	ParentPID uint32                 `json:"parent_pid"`
}

// Metrics are raw readings from a running VM process.
type Metrics struct {
	CPUPercent  float32
	MemoryBytes uint64
	DiskBytes   uint64
}

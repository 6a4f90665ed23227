// Package guestsession implements the typed RPC channels to the in-guest
// agent: guest, container and exec interfaces over the
// vsock-bridged Unix socket. The wire protocol is JSON over HTTP on the
// Unix socket; exec streaming uses a dedicated connection with JSON
// frames.
package guestsession

// VolumeKind discriminates the volume union in GuestInitConfig.
type VolumeKind string

const (
	VolumeVirtiofs    VolumeKind = "virtiofs"
	VolumeBlockDevice VolumeKind = "block_device"
)

// Volume is one mount the guest must set up: either a virtiofs tag or a
// block device.
type Volume struct {
	Kind       VolumeKind `json:"kind"`
	MountPoint string     `json:"mount_point"`

	// Virtiofs fields.
	Tag      string `json:"tag,omitempty"`
	ReadOnly bool   `json:"read_only,omitempty"`
	// ContainerID enables convention-based per-container subpaths.
	ContainerID string `json:"container_id,omitempty"`

	// Block device fields.
	Device     string `json:"device,omitempty"`
	Filesystem string `json:"filesystem,omitempty"`
	NeedFormat bool   `json:"need_format,omitempty"`
	NeedResize bool   `json:"need_resize,omitempty"`
}

// VirtiofsVolume builds a virtiofs Volume.
func VirtiofsVolume(tag, mountPoint string, readOnly bool, containerID string) Volume {
	return Volume{
		Kind:        VolumeVirtiofs,
		MountPoint:  mountPoint,
		Tag:         tag,
		ReadOnly:    readOnly,
		ContainerID: containerID,
	}
}

// BlockDeviceVolume builds a block-device Volume.
func BlockDeviceVolume(device, mountPoint, filesystem string, needFormat, needResize bool) Volume {
	return Volume{
		Kind:       VolumeBlockDevice,
		MountPoint: mountPoint,
		Device:     device,
		Filesystem: filesystem,
		NeedFormat: needFormat,
		NeedResize: needResize,
	}
}

// NetworkInit tells the guest how to configure its interface.
type NetworkInit struct {
	Interface string `json:"interface"`
	// IP is address with prefix, e.g. "192.168.127.2/24".
	IP      string `json:"ip,omitempty"`
	Gateway string `json:"gateway,omitempty"`
}

// GuestInitConfig is the first RPC after connect: volumes and network.
type GuestInitConfig struct {
	Volumes []Volume     `json:"volumes"`
	Network *NetworkInit `json:"network,omitempty"`
}

// RootfsStrategy describes how the guest assembles the container root.
// Exactly one of Merged/Overlay is set; the strategy travels fused into
// ContainerInit so the container interface single-owns its lifecycle.
type RootfsStrategy struct {
	Merged  *MergedRootfs  `json:"merged,omitempty"`
	Overlay *OverlayRootfs `json:"overlay,omitempty"`
}

// MergedRootfs points at a single pre-merged directory.
type MergedRootfs struct {
	Path string `json:"path"`
}

// OverlayRootfs assembles the root from ordered layers. CopyLayers
// tells the guest to copy lower dirs off virtiofs first, avoiding
// overlayfs UID-mapping pathologies on virtiofs lowerdirs.
type OverlayRootfs struct {
	LowerDirs  []string `json:"lower_dirs"`
	UpperDir   string   `json:"upper_dir"`
	WorkDir    string   `json:"work_dir"`
	MergedDir  string   `json:"merged_dir"`
	CopyLayers bool     `json:"copy_layers"`
}

// ImageConfig is the container-image configuration the guest needs to
// start the workload.
type ImageConfig struct {
	Env          []string `json:"env,omitempty"`
	Entrypoint   []string `json:"entrypoint,omitempty"`
	Cmd          []string `json:"cmd,omitempty"`
	WorkingDir   string   `json:"working_dir,omitempty"`
	ExposedPorts []uint16 `json:"exposed_ports,omitempty"`
}

// BindMount is a user volume surfaced into the container.
type BindMount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

// ContainerInitConfig creates the container inside the guest; the
// rootfs strategy rides along.
type ContainerInitConfig struct {
	ContainerID string         `json:"container_id"`
	Image       ImageConfig    `json:"image"`
	Rootfs      RootfsStrategy `json:"rootfs"`
	BindMounts  []BindMount    `json:"bind_mounts,omitempty"`
}

// ExecConfig spawns a command in the guest container.
type ExecConfig struct {
	Command    []string `json:"command"`
	Env        []string `json:"env,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`
	TTY        bool     `json:"tty,omitempty"`
}

// ExecResult is the terminal frame of an execution.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

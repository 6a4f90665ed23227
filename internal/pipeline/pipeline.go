package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/guestsession"
	"github.com/boxlite/boxlite/internal/image"
	"github.com/boxlite/boxlite/internal/jailer"
	"github.com/boxlite/boxlite/internal/layout"
	"github.com/boxlite/boxlite/internal/metrics"
	"github.com/boxlite/boxlite/internal/netcfg"
	"github.com/boxlite/boxlite/internal/registry"
	"github.com/boxlite/boxlite/internal/shim"
	"github.com/boxlite/boxlite/internal/state"
	"github.com/boxlite/boxlite/internal/store"
	"github.com/boxlite/boxlite/internal/vmm"
)

// Pipeline turns a persisted (config, state) pair into a Live box.
type Pipeline struct {
	Layout         *layout.Layout
	Images         *image.Manager
	Registry       *registry.Registry
	Spawner        Spawner
	RuntimeMetrics *metrics.Runtime
}

// Run executes the stages selected by mode. extraUndos are rolled back
// last on failure (the caller registers its own resources there: the
// just-persisted DB row, the freshly allocated lock).
func (p *Pipeline) Run(ctx context.Context, cfg store.BoxConfig, st *state.State, mode EntryMode, extraUndos ...func()) (*Live, error) {
	totalStart := time.Now()

	guard := NewCleanupGuard(p.RuntimeMetrics)
	defer guard.Unwind()
	for _, undo := range extraUndos {
		guard.OnFailure(undo)
	}

	boxLayout := p.Layout.BoxLayout(cfg.ID, cfg.Options.IsolateMounts)

	if mode == Reattach {
		live, err := p.reattach(ctx, cfg, boxLayout)
		if err != nil {
			return nil, err
		}
		guard.Disarm()
		return live, nil
	}

	// A restart re-enters the transient state before anything spawns.
	if st.Status == state.Stopped {
		if err := st.TransitionTo(state.Starting); err != nil {
			return nil, err
		}
		if err := p.Registry.SaveBox(cfg.ID, *st); err != nil {
			return nil, err
		}
	}

	// Stage 1 (sequential): filesystem setup.
	stage1Start := time.Now()
	if err := boxLayout.Prepare(); err != nil {
		return nil, err
	}
	guard.OnFailure(func() {
		if err := boxLayout.Cleanup(); err != nil {
			slog.WarnContext(ctx, "cleanup: removing box directory failed", "box_id", cfg.ID, "error", err)
		}
	})
	stageFilesystemMS := time.Since(stage1Start).Milliseconds()

	// Stage 2 (parallel): container rootfs preparation alongside guest
	// rootfs preparation.
	var (
		rootfs      rootfsResult
		guestRootfs guestRootfsResult
	)
	var imagePrepareMS, initRootfsMS int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		var err error
		rootfs, err = p.prepareContainerRootfs(gctx, cfg)
		imagePrepareMS = time.Since(start).Milliseconds()
		return err
	})
	g.Go(func() error {
		start := time.Now()
		var err error
		guestRootfs, err = p.prepareGuestRootfs(gctx, boxLayout)
		initRootfsMS = time.Since(start).Milliseconds()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stage 3 (sequential): VMM config, spawn, guest connect, guest
	// init.
	configStart := time.Now()
	spec, disks := p.buildInstanceSpec(cfg, boxLayout, rootfs, guestRootfs)
	configMS := time.Since(configStart).Milliseconds()

	spawnStart := time.Now()
	ready, err := guestsession.ListenReady(cfg.ReadySocketPath)
	if err != nil {
		return nil, err
	}
	defer ready.Close()

	handler, err := p.Spawner.Spawn(ctx, cfg.EngineKind, spec, p.jailerPaths(boxLayout), boxLayout.ShimPIDPath())
	if err != nil {
		return nil, err
	}
	guard.OnFailure(func() {
		if err := handler.Stop(ctx); err != nil {
			handler.Kill()
		}
		_ = shim.RemovePIDFile(boxLayout.ShimPIDPath())
	})

	pid := handler.PID()
	st.SetPID(&pid)
	if err := st.TransitionTo(state.Running); err != nil {
		return nil, err
	}
	if err := p.Registry.SaveBox(cfg.ID, *st); err != nil {
		return nil, err
	}
	spawnMS := time.Since(spawnStart).Milliseconds()

	// Guest connect: bounded wait for the ready signal, then the agent
	// ping loop over the bridged socket.
	if err := ready.Wait(ctx, connectTimeout); err != nil {
		return nil, err
	}
	handler.MarkGuestReady()

	session, err := guestsession.Connect(ctx, cfg.TransportPath, connectTimeout)
	if err != nil {
		return nil, err
	}

	// Guest init runs only on first start; a restarted box re-creates
	// just the container.
	initStart := time.Now()
	guestNetwork := netcfg.DefaultGuestNetwork()
	if mode == FromConfigured {
		if err := session.Guest().Init(ctx, guestsession.GuestInitConfig{
			Volumes: p.guestVolumes(cfg, rootfs, guestRootfs, disks),
			Network: &guestsession.NetworkInit{
				Interface: guestNetwork.Interface,
				IP:        guestNetwork.IP,
				Gateway:   guestNetwork.Gateway,
			},
		}); err != nil {
			return nil, err
		}
	}

	if err := session.Container().Init(ctx, guestsession.ContainerInitConfig{
		ContainerID: string(cfg.ContainerID),
		Image:       p.mergedImageConfig(cfg, rootfs.imageCfg),
		Rootfs:      rootfs.strategy,
		BindMounts:  p.bindMounts(cfg),
	}); err != nil {
		return nil, err
	}
	containerInitMS := time.Since(initStart).Milliseconds()

	cid := cfg.ContainerID
	st.ContainerID = &cid
	if err := p.Registry.SaveBox(cfg.ID, *st); err != nil {
		return nil, err
	}

	boxMetrics := metrics.BoxMetrics{
		TotalCreateDurationMS:  time.Since(totalStart).Milliseconds(),
		GuestBootDurationMS:    handler.GuestBootDuration().Milliseconds(),
		StageFilesystemSetupMS: stageFilesystemMS,
		StageImagePrepareMS:    imagePrepareMS,
		StageInitRootfsMS:      initRootfsMS,
		StageBoxConfigMS:       configMS,
		StageBoxSpawnMS:        spawnMS,
		StageContainerInitMS:   containerInitMS,
	}
	slog.DebugContext(ctx, "box initialization complete",
		"box_id", cfg.ID,
		"total_ms", boxMetrics.TotalCreateDurationMS,
		"guest_boot_ms", boxMetrics.GuestBootDurationMS)

	guard.Disarm()
	return &Live{
		Handler:      handler,
		Session:      session,
		Metrics:      boxMetrics,
		GuestNetwork: guestNetwork,
		Disks:        disks,
	}, nil
}

func (p *Pipeline) reattach(ctx context.Context, cfg store.BoxConfig, boxLayout *layout.BoxLayout) (*Live, error) {
	handler, err := p.Spawner.Attach(boxLayout.ShimPIDPath(), string(cfg.ID))
	if err != nil {
		return nil, err
	}
	session, err := guestsession.Connect(ctx, cfg.TransportPath, connectTimeout)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "reattached to running box", "box_id", cfg.ID, "pid", handler.PID())
	return &Live{
		Handler:      handler,
		Session:      session,
		GuestNetwork: netcfg.DefaultGuestNetwork(),
	}, nil
}

type rootfsResult struct {
	strategy guestsession.RootfsStrategy
	imageCfg guestsession.ImageConfig
	// layersHostDir is the host directory shared under TagLayers, or
	// empty for a host-rootfs box.
	layersHostDir string
	// hostRootfsDir is set for host-rootfs boxes, shared under
	// TagRootfs.
	hostRootfsDir string
}

// prepareContainerRootfs resolves BoxOptions.rootfs to either a host
// directory (merged strategy) or pulled image layers (overlay strategy
// assembled inside the guest).
func (p *Pipeline) prepareContainerRootfs(ctx context.Context, cfg store.BoxConfig) (rootfsResult, error) {
	opts := cfg.Options
	if opts.HostRootfsPath != "" {
		info, err := os.Stat(opts.HostRootfsPath)
		if err != nil || !info.IsDir() {
			return rootfsResult{}, berrors.Newf(berrors.Config, "host rootfs path %q is not a directory", opts.HostRootfsPath)
		}
		return rootfsResult{
			strategy: guestsession.RootfsStrategy{
				Merged: &guestsession.MergedRootfs{Path: GuestRootfsMount},
			},
			hostRootfsDir: opts.HostRootfsPath,
		}, nil
	}

	handle, err := p.Images.Pull(ctx, opts.ImageRef)
	if err != nil {
		return rootfsResult{}, err
	}

	// Layer paths as the guest sees them through the layers share.
	lowerDirs := make([]string, len(handle.LayerDirs))
	imagesRoot := p.Layout.ImagesRoot()
	for i, dir := range handle.LayerDirs {
		rel, err := filepath.Rel(imagesRoot, dir)
		if err != nil {
			return rootfsResult{}, berrors.Wrap(berrors.Internal, "relativizing layer path", err)
		}
		lowerDirs[i] = filepath.Join(GuestLayersMount, rel)
	}

	return rootfsResult{
		strategy: guestsession.RootfsStrategy{
			Overlay: &guestsession.OverlayRootfs{
				LowerDirs: lowerDirs,
				UpperDir:  guestOverlayUpper,
				WorkDir:   guestOverlayWork,
				MergedDir: guestOverlayMerged,
				// Copy layers off virtiofs before overlaying: overlayfs
				// on virtiofs lowerdirs trips UID-mapping pathologies.
				CopyLayers: true,
			},
		},
		imageCfg:      handle.Config,
		layersHostDir: imagesRoot,
	}, nil
}

type guestRootfsResult struct {
	// diskPath is the per-box qcow2 COW child when present; empty
	// means the shared read-only guest rootfs is used.
	diskPath string
}

// prepareGuestRootfs chooses between the shared read-only guest rootfs
// and a per-box qcow2 child. Disk image creation itself is the disk
// manager's job; this stage only detects and wires what exists.
func (p *Pipeline) prepareGuestRootfs(ctx context.Context, boxLayout *layout.BoxLayout) (guestRootfsResult, error) {
	diskPath := boxLayout.GuestRootfsPath()
	if _, err := os.Stat(diskPath); err == nil {
		return guestRootfsResult{diskPath: diskPath}, nil
	}
	return guestRootfsResult{}, nil
}

// buildInstanceSpec assembles the serialized VM configuration from the
// stage outputs.
func (p *Pipeline) buildInstanceSpec(cfg store.BoxConfig, boxLayout *layout.BoxLayout, rootfs rootfsResult, guestRootfs guestRootfsResult) (vmm.InstanceSpec, []vmm.DiskConfig) {
	opts := cfg.Options

	sharedHostDir := boxLayout.SharedDir()
	if opts.IsolateMounts {
		if mounts := boxLayout.MountsDir(); dirExists(mounts) {
			sharedHostDir = mounts
		}
	}
	shares := []vmm.MountConfig{
		{Tag: TagShared, HostPath: sharedHostDir, ReadOnly: false},
	}
	if rootfs.layersHostDir != "" {
		shares = append(shares, vmm.MountConfig{Tag: TagLayers, HostPath: rootfs.layersHostDir, ReadOnly: true})
	}
	if rootfs.hostRootfsDir != "" {
		shares = append(shares, vmm.MountConfig{Tag: TagRootfs, HostPath: rootfs.hostRootfsDir, ReadOnly: false})
	}
	for i, vol := range opts.Volumes {
		shares = append(shares, vmm.MountConfig{
			Tag:      fmt.Sprintf("%s%d", TagUserVol, i),
			HostPath: vol.HostPath,
			ReadOnly: vol.ReadOnly,
		})
	}

	var disks []vmm.DiskConfig
	if guestRootfs.diskPath != "" {
		disks = append(disks, vmm.DiskConfig{
			BlockID:  "vda",
			DiskPath: guestRootfs.diskPath,
			Format:   vmm.Qcow2,
		})
	}

	// Agent env: image env first, user env after so last wins; the
	// host's log filter rides along when set.
	var env []vmm.EnvKV
	for _, kv := range rootfs.imageCfg.Env {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env = append(env, vmm.EnvKV{Key: key, Value: value})
		}
	}
	env = append(env, opts.Env...)
	if filter := os.Getenv("RUST_LOG"); filter != "" {
		env = append(env, vmm.EnvKV{Key: "RUST_LOG", Value: filter})
	}

	mappings := netcfg.ResolvePortMappings(opts.Ports, rootfs.imageCfg.ExposedPorts)

	spec := vmm.InstanceSpec{
		BoxID:     string(cfg.ID),
		CPUs:      opts.CPUs,
		MemoryMiB: opts.MemoryMiB,
		FsShares:  shares,
		Disks:     disks,
		GuestEntrypoint: vmm.Entrypoint{
			Executable: guestAgentExecutable,
			Args: []string{
				"--listen", "unix://" + cfg.TransportPath,
				"--notify", "unix://" + cfg.ReadySocketPath,
			},
			Env: env,
		},
		TransportPath:   cfg.TransportPath,
		ReadySocketPath: cfg.ReadySocketPath,
		NetworkConfig:   &vmm.NetworkConfig{PortMappings: mappings},
		HomeDir:         p.Layout.HomeDir(),
		Security:        jailer.DefaultSecurityOptions(),
		Detach:          opts.Detach,
		ParentPID:       uint32(os.Getpid()),
	}
	return spec, disks
}

// guestVolumes lists everything the guest must mount during guest init.
func (p *Pipeline) guestVolumes(cfg store.BoxConfig, rootfs rootfsResult, guestRootfs guestRootfsResult, disks []vmm.DiskConfig) []guestsession.Volume {
	var volumes []guestsession.Volume
	volumes = append(volumes, guestsession.VirtiofsVolume(TagShared, GuestSharedMount, false, string(cfg.ContainerID)))
	if rootfs.layersHostDir != "" {
		volumes = append(volumes, guestsession.VirtiofsVolume(TagLayers, GuestLayersMount, true, ""))
	}
	if rootfs.hostRootfsDir != "" {
		volumes = append(volumes, guestsession.VirtiofsVolume(TagRootfs, GuestRootfsMount, false, ""))
	}
	for i, vol := range cfg.Options.Volumes {
		volumes = append(volumes, guestsession.VirtiofsVolume(
			fmt.Sprintf("%s%d", TagUserVol, i), vol.GuestPath, vol.ReadOnly, ""))
	}
	for _, disk := range disks {
		volumes = append(volumes, guestsession.BlockDeviceVolume(
			"/dev/"+disk.BlockID, "/", "ext4", false, true))
	}
	return volumes
}

// bindMounts projects user volumes into container-visible mounts.
func (p *Pipeline) bindMounts(cfg store.BoxConfig) []guestsession.BindMount {
	var mounts []guestsession.BindMount
	for _, vol := range cfg.Options.Volumes {
		mounts = append(mounts, guestsession.BindMount{
			Source:   vol.GuestPath,
			Target:   vol.GuestPath,
			ReadOnly: vol.ReadOnly,
		})
	}
	return mounts
}

// mergedImageConfig applies the user's working dir override on top of
// the image config.
func (p *Pipeline) mergedImageConfig(cfg store.BoxConfig, imageCfg guestsession.ImageConfig) guestsession.ImageConfig {
	if cfg.Options.WorkingDir != "" {
		imageCfg.WorkingDir = cfg.Options.WorkingDir
	}
	return imageCfg
}

func (p *Pipeline) jailerPaths(boxLayout *layout.BoxLayout) jailer.Paths {
	return jailer.Paths{
		HomeDir:   p.Layout.HomeDir(),
		BoxDir:    boxLayout.Root(),
		BinDir:    boxLayout.BinDir(),
		LogsDir:   p.Layout.LogsRoot(),
		TmpDir:    p.Layout.TmpRoot(),
		ImagesDir: p.Layout.ImagesRoot(),
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

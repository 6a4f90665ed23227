package guestsession

import (
	"context"
	"log/slog"
)

// ContainerInterface creates the container workload in the guest.
type ContainerInterface struct {
	s *Session
}

// Init creates (or on restart, re-creates) the container. The rootfs
// strategy is fused into this call so the container interface is the
// single owner of the container lifecycle.
func (c *ContainerInterface) Init(ctx context.Context, cfg ContainerInitConfig) error {
	slog.DebugContext(ctx, "ContainerInterface.Init",
		"container_id", cfg.ContainerID, "bind_mounts", len(cfg.BindMounts))
	return c.s.call(ctx, "container.init", "/container/init", cfg, nil)
}

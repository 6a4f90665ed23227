package guestsession

import (
	"context"
	"log/slog"
)

// GuestInterface drives guest-level lifecycle: init, health, shutdown.
type GuestInterface struct {
	s *Session
}

// Init sets up volumes and network inside the guest. Must be the first
// call after connect, before Container.Init.
func (g *GuestInterface) Init(ctx context.Context, cfg GuestInitConfig) error {
	slog.DebugContext(ctx, "GuestInterface.Init", "volumes", len(cfg.Volumes), "network", cfg.Network != nil)
	return g.s.call(ctx, "guest.init", "/guest/init", cfg, nil)
}

// Ping probes agent liveness.
func (g *GuestInterface) Ping(ctx context.Context) error {
	return g.s.call(ctx, "guest.ping", "/guest/ping", nil, nil)
}

// Shutdown asks the agent to power the guest down.
func (g *GuestInterface) Shutdown(ctx context.Context) error {
	return g.s.call(ctx, "guest.shutdown", "/guest/shutdown", nil, nil)
}

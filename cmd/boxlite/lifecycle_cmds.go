package main

import (
	"fmt"
	"log/slog"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/runtime"
)

func lookupBox(cctx *Context, idOrName string) (*runtime.BoxHandle, error) {
	rt, err := cctx.Runtime()
	if err != nil {
		return nil, err
	}
	h, err := rt.Get(cctx.Context, idOrName)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, berrors.Newf(berrors.NotFound, "box %q not found", idOrName)
	}
	return h, nil
}

// StartCmd starts a stopped box.
type StartCmd struct {
	ID string `arg:"" name:"box" help:"box ID or name"`
}

func (c *StartCmd) Run(cctx *Context) error {
	slog.InfoContext(cctx.Context, "StartCmd.Run", "box", c.ID)
	h, err := lookupBox(cctx, c.ID)
	if err != nil {
		return err
	}
	if err := h.Start(cctx.Context); err != nil {
		return err
	}
	fmt.Println(h.ID().Short())
	return nil
}

// StopCmd stops a running box.
type StopCmd struct {
	ID string `arg:"" name:"box" help:"box ID or name"`
}

func (c *StopCmd) Run(cctx *Context) error {
	slog.InfoContext(cctx.Context, "StopCmd.Run", "box", c.ID)
	h, err := lookupBox(cctx, c.ID)
	if err != nil {
		return err
	}
	if err := h.Stop(cctx.Context); err != nil {
		return err
	}
	fmt.Println(h.ID().Short())
	return nil
}

// RestartCmd stops then starts a box.
type RestartCmd struct {
	ID string `arg:"" name:"box" help:"box ID or name"`
}

func (c *RestartCmd) Run(cctx *Context) error {
	ctx := cctx.Context
	slog.InfoContext(ctx, "RestartCmd.Run", "box", c.ID)
	h, err := lookupBox(cctx, c.ID)
	if err != nil {
		return err
	}
	if err := h.Stop(ctx); err != nil && !berrors.Is(err, berrors.InvalidState) {
		return err
	}
	// Stop invalidates the handle; start through a fresh one.
	h, err = lookupBox(cctx, c.ID)
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}
	fmt.Println(h.ID().Short())
	return nil
}

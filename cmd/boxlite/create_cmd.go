package main

import (
	"fmt"
	"log/slog"

	"github.com/boxlite/boxlite/internal/identity"
)

// CreateCmd creates a box without starting it.
type CreateCmd struct {
	processFlags
	Image string `arg:"" help:"image reference, e.g. alpine:latest"`
}

func (c *CreateCmd) Run(cctx *Context) error {
	ctx := cctx.Context
	slog.InfoContext(ctx, "CreateCmd.Run", "image", c.Image, "name", c.Name)

	rt, err := cctx.Runtime()
	if err != nil {
		return err
	}
	opts, err := c.buildOptions(c.Image)
	if err != nil {
		return err
	}
	if c.Name == "" {
		c.Name = identity.GenerateName()
	}
	h, err := rt.Create(ctx, opts, c.Name)
	if err != nil {
		return err
	}
	// API creation defers persistence to first start; the CLI persists
	// immediately so the box is visible to later invocations.
	if err := h.Persist(ctx); err != nil {
		return err
	}
	fmt.Println(h.ID().Short())
	return nil
}

package main

import (
	"fmt"
	"log/slog"
)

// PullCmd fetches an image into the local store.
type PullCmd struct {
	Quiet bool   `short:"q" help:"print only the manifest digest (the config digest is not printed)"`
	Image string `arg:"" help:"image reference, e.g. alpine:latest"`
}

func (c *PullCmd) Run(cctx *Context) error {
	ctx := cctx.Context
	slog.InfoContext(ctx, "PullCmd.Run", "image", c.Image)

	rt, err := cctx.Runtime()
	if err != nil {
		return err
	}
	handle, err := rt.PullImage(ctx, c.Image)
	if err != nil {
		return err
	}

	if c.Quiet {
		fmt.Println(handle.Digest)
		return nil
	}
	fmt.Printf("%s\n", handle.Reference)
	fmt.Printf("Digest: %s\n", handle.Digest)
	fmt.Printf("Layers: %d\n", handle.LayerCount())
	return nil
}

package main

import (
	"fmt"
	"log/slog"
)

// RmCmd removes one or more boxes.
type RmCmd struct {
	Force bool     `short:"f" help:"remove even if the box is running (kills it)"`
	IDs   []string `arg:"" name:"box" help:"box IDs or names"`
}

func (c *RmCmd) Run(cctx *Context) error {
	ctx := cctx.Context
	rt, err := cctx.Runtime()
	if err != nil {
		return err
	}
	for _, id := range c.IDs {
		slog.InfoContext(ctx, "RmCmd.Run", "box", id, "force", c.Force)
		if err := rt.Remove(ctx, id, c.Force); err != nil {
			return err
		}
		fmt.Println(id)
	}
	return nil
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// ListCmd lists boxes, newest first.
type ListCmd struct {
	Quiet bool `short:"q" help:"print only box IDs"`
}

func (c *ListCmd) Run(cctx *Context) error {
	ctx := cctx.Context
	rt, err := cctx.Runtime()
	if err != nil {
		return err
	}
	infos, err := rt.ListInfo(ctx)
	if err != nil {
		return err
	}

	if c.Quiet {
		for _, info := range infos {
			fmt.Println(info.Config.ID.Short())
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BOX ID\tNAME\tIMAGE\tSTATUS\tPID\tCREATED\t")
	for _, info := range infos {
		pid := "-"
		if info.State.PID != nil {
			pid = fmt.Sprintf("%d", *info.State.PID)
		}
		imageRef := info.Config.Options.ImageRef
		if imageRef == "" {
			imageRef = info.Config.Options.HostRootfsPath
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			info.Config.ID.Short(),
			info.Config.Name,
			imageRef,
			info.State.Status,
			pid,
			info.Config.CreatedAt.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}

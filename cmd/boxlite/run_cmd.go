package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/boxlite/boxlite/internal/guestsession"
	"github.com/boxlite/boxlite/internal/identity"
	"github.com/boxlite/boxlite/internal/runtime"
)

// RunCmd creates a box, starts it, and optionally attaches an
// interactive shell.
type RunCmd struct {
	processFlags
	Image   string   `arg:"" help:"image reference, e.g. alpine:latest"`
	Command []string `arg:"" optional:"" passthrough:"" help:"command to run instead of the image default"`
}

func (c *RunCmd) Run(cctx *Context) error {
	ctx := cctx.Context
	slog.InfoContext(ctx, "RunCmd.Run", "image", c.Image, "detach", c.Detach)

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
	if err := h.Start(ctx); err != nil {
		return err
	}

	if c.Detach {
		fmt.Println(h.ID().Short())
		return nil
	}

	if len(c.Command) == 0 && !c.Interactive {
		fmt.Println(h.ID().Short())
		return nil
	}

	command := c.Command
	if len(command) == 0 {
		command = []string{"/bin/sh"}
	}
	exitCode, err := attachExec(cctx, h, guestsession.ExecConfig{
		Command: command,
		TTY:     c.TTY,
	}, c.Interactive)
	if err != nil {
		return err
	}
	if c.Rm {
		if err := h.Stop(ctx); err != nil {
			slog.WarnContext(ctx, "RunCmd: stop after --rm failed", "error", err)
		}
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// attachExec bridges the local terminal to a guest execution. With -t
// on a real terminal the local side goes raw; with -t on a pipe a
// local pty pair supplies terminal semantics.
func attachExec(cctx *Context, h *runtime.BoxHandle, cfg guestsession.ExecConfig, interactive bool) (int, error) {
	ctx := cctx.Context
	ex, err := h.Exec(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer ex.Close()

	var stdin io.Reader = os.Stdin
	if cfg.TTY {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
			if err == nil {
				defer term.Restore(int(os.Stdin.Fd()), oldState)
			}
		} else {
			// No terminal on stdin but the guest wants one: feed it
			// through a local pty pair.
			ptmx, tty, err := pty.Open()
			if err == nil {
				defer ptmx.Close()
				defer tty.Close()
				go io.Copy(ptmx, os.Stdin)
				stdin = ptmx
			}
		}
	}

	if interactive {
		go func() {
			io.Copy(ex.Stdin, stdin)
			ex.Stdin.Close()
		}()
	} else {
		ex.Stdin.Close()
	}

	go io.Copy(os.Stderr, ex.Stderr)
	io.Copy(os.Stdout, ex.Stdout)

	res := <-ex.Result
	if res.Error != "" {
		return res.ExitCode, fmt.Errorf("execution failed: %s", res.Error)
	}
	return res.ExitCode, nil
}

// Command boxlite is the Docker-style CLI over the BoxLite runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"

	"github.com/boxlite/boxlite/internal/logging"
	"github.com/boxlite/boxlite/internal/runtime"
	"github.com/boxlite/boxlite/internal/telemetry"
	"github.com/boxlite/boxlite/internal/vmm"
	"github.com/boxlite/boxlite/version"
)

// Context carries shared state into every command's Run method.
type Context struct {
	Context context.Context
	Debug   bool
	HomeDir string

	rt *runtime.Runtime
}

// Runtime constructs the runtime lazily so commands that never touch it
// (completion, version) stay cheap.
func (c *Context) Runtime() (*runtime.Runtime, error) {
	if c.rt != nil {
		return c.rt, nil
	}
	rt, err := runtime.New(c.Context, runtime.Options{
		HomeDir:    c.HomeDir,
		EngineKind: vmm.Libkrun,
	})
	if err != nil {
		return nil, err
	}
	c.rt = rt
	return rt, nil
}

type CLI struct {
	Debug bool   `help:"enable debug logging and verbose errors"`
	Home  string `env:"BOXLITE_HOME" placeholder:"<path>" help:"runtime home directory (default ~/.boxlite)"`

	Run     RunCmd     `cmd:"" help:"create a box and start it"`
	Create  CreateCmd  `cmd:"" help:"create a box without starting it"`
	List    ListCmd    `cmd:"" aliases:"ls,ps" help:"list boxes"`
	Rm      RmCmd      `cmd:"" help:"remove a box"`
	Start   StartCmd   `cmd:"" help:"start a stopped box"`
	Stop    StopCmd    `cmd:"" help:"stop a running box"`
	Restart RestartCmd `cmd:"" help:"restart a box"`
	Pull    PullCmd    `cmd:"" help:"pull an image into the local store"`
	Version VersionCmd `cmd:"" help:"print version information"`

	Completion kongcompletion.Completion `cmd:"" help:"generate shell completion scripts"`
}

const description = `Run OCI container images inside lightweight KVM-based microVMs.

Each box is a supervised microVM with one container workload; detached
boxes survive this process and are recovered across crashes and reboots.`

func defaultHome() (string, error) {
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(userHome, ".boxlite"), nil
}

func main() {
	var cli CLI

	parser := kong.Must(&cli,
		kong.Name("boxlite"),
		kong.Description(description),
		kong.Configuration(kong.JSON, ".boxlite.json", "~/.boxlite.json"),
		kong.Configuration(kongyaml.Loader, ".boxlite.yaml", "~/.boxlite.yaml"),
		kong.UsageOnError(),
	)
	kongcompletion.Register(parser)

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cli.Home == "" {
		cli.Home, err = defaultHome()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if _, err := logging.Setup(logging.Options{
		Debug: cli.Debug,
		Path:  logging.RuntimeLogPath(filepath.Join(cli.Home, "logs")),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(ctx)

	cctx := &Context{Context: ctx, Debug: cli.Debug, HomeDir: cli.Home}
	if err := kctx.Run(cctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cctx.rt != nil {
		_ = cctx.rt.Close()
	}
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cctx *Context) error {
	info := version.Get()
	fmt.Printf("boxlite %s (%s, built %s)\n", info.GitCommit, info.GitBranch, info.BuildTime)
	return nil
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/boxlite/boxlite/internal/store"
	"github.com/boxlite/boxlite/internal/vmm"
)

// maxCPUs is the hard cap the VMM accepts.
const maxCPUs = 255

// processFlags are shared between run and create.
type processFlags struct {
	Interactive bool     `short:"i" help:"keep stdin open"`
	TTY         bool     `short:"t" help:"allocate a pseudo-terminal"`
	Env         []string `short:"e" placeholder:"KEY[=VALUE]" help:"set an environment variable; with no value, copy it from the host"`
	Workdir     string   `short:"w" placeholder:"<dir>" help:"working directory inside the container"`

	CPUs   uint32 `placeholder:"<n>" help:"number of vCPUs"`
	Memory uint32 `placeholder:"<MiB>" help:"guest memory in MiB"`

	Rm     bool   `help:"remove the box when it stops"`
	Detach bool   `short:"d" help:"run the box independent of this process"`
	Name   string `placeholder:"<name>" help:"assign a name to the box"`

	Volume []string `short:"v" placeholder:"<host:guest[:ro]>" help:"bind a host path into the guest"`
}

// buildOptions converts flags into BoxOptions, applying the CPU cap and
// host env passthrough.
func (f *processFlags) buildOptions(imageRef string) (store.BoxOptions, error) {
	opts := store.BoxOptions{
		ImageRef:   imageRef,
		WorkingDir: f.Workdir,
		AutoRemove: f.Rm,
		Detach:     f.Detach,
	}

	if f.CPUs > 0 {
		cpus := f.CPUs
		if cpus > maxCPUs {
			fmt.Fprintf(os.Stderr, "warning: %d cpus requested, capping at %d\n", cpus, maxCPUs)
			cpus = maxCPUs
		}
		c := uint8(cpus)
		opts.CPUs = &c
	}
	if f.Memory > 0 {
		m := f.Memory
		opts.MemoryMiB = &m
	}

	opts.Env = resolveEnvSpecs(f.Env, os.LookupEnv)

	for _, spec := range f.Volume {
		mount, err := parseVolumeSpec(spec)
		if err != nil {
			return store.BoxOptions{}, err
		}
		opts.Volumes = append(opts.Volumes, mount)
	}
	return opts, nil
}

// resolveEnvSpecs parses -e entries. "KEY=VALUE" passes through;
// "KEY" copies the host's value, and a missing host variable logs a
// warning and is skipped. Order (and duplicates) are preserved — the
// consumer applies last-wins.
func resolveEnvSpecs(specs []string, lookup func(string) (string, bool)) []store.EnvVar {
	var out []store.EnvVar
	for _, spec := range specs {
		if key, value, ok := strings.Cut(spec, "="); ok {
			out = append(out, vmm.EnvKV{Key: key, Value: value})
			continue
		}
		if value, ok := lookup(spec); ok {
			out = append(out, vmm.EnvKV{Key: spec, Value: value})
			continue
		}
		fmt.Fprintf(os.Stderr, "warning: environment variable %q not found on host, skipping\n", spec)
	}
	return out
}

// parseVolumeSpec parses "host:guest[:ro]".
func parseVolumeSpec(spec string) (store.VolumeMount, error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 2:
		return store.VolumeMount{HostPath: parts[0], GuestPath: parts[1]}, nil
	case 3:
		if parts[2] != "ro" {
			return store.VolumeMount{}, fmt.Errorf("invalid volume option %q (only \"ro\" is supported)", parts[2])
		}
		return store.VolumeMount{HostPath: parts[0], GuestPath: parts[1], ReadOnly: true}, nil
	default:
		return store.VolumeMount{}, fmt.Errorf("invalid volume spec %q, want host:guest[:ro]", spec)
	}
}

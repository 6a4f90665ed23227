//go:build linux && cgo

// Package krun adapts libkrun's C API to the vmm.Engine interface. The
// hypervisor itself is libkrun; this package only feeds it an
// InstanceSpec and enters the VM.
package krun

/*
#cgo LDFLAGS: -lkrun
#include <stdbool.h>
#include <stdlib.h>
#include <libkrun.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/vmm"
)

func init() {
	vmm.RegisterEngine(vmm.Libkrun, func(cfg vmm.EngineConfig) (vmm.Engine, error) {
		return &engine{}, nil
	})
}

type engine struct{}

type instance struct {
	ctx C.int
}

const (
	defaultCPUs      = 1
	defaultMemoryMiB = 512
)

func (e *engine) Create(spec vmm.InstanceSpec) (vmm.Instance, error) {
	ctx := C.krun_create_ctx()
	if ctx < 0 {
		return nil, berrors.Newf(berrors.Engine, "krun_create_ctx failed: %d", int(ctx))
	}

	cpus := uint8(defaultCPUs)
	if spec.CPUs != nil {
		cpus = *spec.CPUs
	}
	memory := uint32(defaultMemoryMiB)
	if spec.MemoryMiB != nil {
		memory = *spec.MemoryMiB
	}
	if ret := C.krun_set_vm_config(ctx, C.uint8_t(cpus), C.uint32_t(memory)); ret < 0 {
		return nil, berrors.Newf(berrors.Engine, "krun_set_vm_config failed: %d", int(ret))
	}

	for _, share := range spec.FsShares {
		cTag := C.CString(share.Tag)
		cPath := C.CString(share.HostPath)
		ret := C.krun_add_virtiofs(ctx, cTag, cPath)
		C.free(unsafe.Pointer(cTag))
		C.free(unsafe.Pointer(cPath))
		if ret < 0 {
			return nil, berrors.Newf(berrors.Engine, "krun_add_virtiofs(%s) failed: %d", share.Tag, int(ret))
		}
	}

	for _, disk := range spec.Disks {
		format := C.uint32_t(C.KRUN_DISK_FORMAT_RAW)
		if disk.Format == vmm.Qcow2 {
			format = C.uint32_t(C.KRUN_DISK_FORMAT_QCOW2)
		}
		cID := C.CString(disk.BlockID)
		cPath := C.CString(disk.DiskPath)
		ret := C.krun_add_disk2(ctx, cID, cPath, format, C.bool(disk.ReadOnly))
		C.free(unsafe.Pointer(cID))
		C.free(unsafe.Pointer(cPath))
		if ret < 0 {
			return nil, berrors.Newf(berrors.Engine, "krun_add_disk2(%s) failed: %d", disk.BlockID, int(ret))
		}
	}

	// Bridge the two control sockets: the agent port (guest listens,
	// host connects through the Unix socket) and the ready port (host
	// listens, guest connects out).
	if err := addVsockPort(ctx, vmm.GuestAgentPort, spec.TransportPath, true); err != nil {
		return nil, err
	}
	if err := addVsockPort(ctx, vmm.GuestReadyPort, spec.ReadySocketPath, false); err != nil {
		return nil, err
	}

	if spec.ConsoleOutput != "" {
		cOut := C.CString(spec.ConsoleOutput)
		ret := C.krun_set_console_output(ctx, cOut)
		C.free(unsafe.Pointer(cOut))
		if ret < 0 {
			return nil, berrors.Newf(berrors.Engine, "krun_set_console_output failed: %d", int(ret))
		}
	}

	args := vmm.TranslateGuestArgs(spec.GuestEntrypoint.Args)
	if err := setExec(ctx, spec.GuestEntrypoint.Executable, args, flattenEnv(spec.GuestEntrypoint.Env)); err != nil {
		return nil, err
	}

	return &instance{ctx: ctx}, nil
}

func addVsockPort(ctx C.int, port uint32, socketPath string, listen bool) error {
	cPath := C.CString(socketPath)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.krun_add_vsock_port2(ctx, C.uint32_t(port), cPath, C.bool(listen)); ret < 0 {
		return berrors.Newf(berrors.Engine, "krun_add_vsock_port2(%d) failed: %d", port, int(ret))
	}
	return nil
}

// flattenEnv resolves the ordered env list last-wins into KEY=VALUE
// strings.
func flattenEnv(env []vmm.EnvKV) []string {
	resolved := make(map[string]string, len(env))
	order := make([]string, 0, len(env))
	for _, kv := range env {
		if _, seen := resolved[kv.Key]; !seen {
			order = append(order, kv.Key)
		}
		resolved[kv.Key] = kv.Value
	}
	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, fmt.Sprintf("%s=%s", key, resolved[key]))
	}
	return out
}

func setExec(ctx C.int, executable string, args, env []string) error {
	cExec := C.CString(executable)
	defer C.free(unsafe.Pointer(cExec))

	cArgs := make([]*C.char, len(args)+1)
	for i, a := range args {
		cArgs[i] = C.CString(a)
		defer C.free(unsafe.Pointer(cArgs[i]))
	}
	cEnv := make([]*C.char, len(env)+1)
	for i, e := range env {
		cEnv[i] = C.CString(e)
		defer C.free(unsafe.Pointer(cEnv[i]))
	}

	if ret := C.krun_set_exec(ctx, cExec, &cArgs[0], &cEnv[0]); ret < 0 {
		return berrors.Newf(berrors.Engine, "krun_set_exec failed: %d", int(ret))
	}
	return nil
}

// Enter hands the current process to libkrun. On success it never
// returns until the VM shuts down.
func (i *instance) Enter() error {
	if ret := C.krun_start_enter(i.ctx); ret < 0 {
		return berrors.Newf(berrors.Engine, "krun_start_enter failed: %d", int(ret))
	}
	return nil
}

//go:build !linux || !cgo

package krun

import (
	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/vmm"
)

func init() {
	vmm.RegisterEngine(vmm.Libkrun, func(cfg vmm.EngineConfig) (vmm.Engine, error) {
		return nil, berrors.New(berrors.Engine, "libkrun engine requires linux with cgo")
	})
}

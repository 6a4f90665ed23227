package vmm

import (
	"sort"
	"sync"

	"github.com/boxlite/boxlite/internal/berrors"
)

// Instance is a fully configured VM ready to take over the current
// process.
type Instance interface {
	// Enter blocks and hands the current process to the VM. It only
	// returns on VM shutdown or setup failure.
	Enter() error
}

// Engine builds Instances for one Kind.
type Engine interface {
	Create(spec InstanceSpec) (Instance, error)
}

// EngineConfig carries engine-level tunables; empty today, kept so that
// registrations have a stable signature when options appear.
type EngineConfig struct{}

// Factory constructs an Engine.
type Factory func(cfg EngineConfig) (Engine, error)

var (
	enginesMu sync.RWMutex
	engines   = map[Kind]Factory{}
)

// RegisterEngine installs a factory for kind. Engine packages call this
// from init(); the shim binary links in the engines it supports.
func RegisterEngine(kind Kind, f Factory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[kind] = f
}

// CreateEngine builds the engine registered for kind.
func CreateEngine(kind Kind, cfg EngineConfig) (Engine, error) {
	enginesMu.RLock()
	f, ok := engines[kind]
	enginesMu.RUnlock()
	if !ok {
		return nil, berrors.Newf(berrors.Engine, "no engine registered for %q (available: %v)", kind, registeredKinds())
	}
	return f(cfg)
}

func registeredKinds() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	out := make([]string, 0, len(engines))
	for k := range engines {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Package netcfg resolves the box's network configuration: user port
// mappings merged with image-exposed ports, the gvproxy backend the
// shim runs, and optional host aliases.
package netcfg

import "github.com/boxlite/boxlite/internal/vmm"

// Guest interface defaults handed to the guest's network init; they
// match gvproxy's static DHCP lease.
const (
	GuestInterface = "eth0"
	GuestIP        = "192.168.127.2/24"
	GuestGateway   = "192.168.127.1"
)

// ResolvePortMappings merges user-requested mappings with the image's
// exposed ports. A user mapping with zero host port defaults to the
// guest port; exposed ports not overridden by the user get a 1:1
// mapping.
func ResolvePortMappings(user []vmm.PortMapping, exposed []uint16) []vmm.PortMapping {
	out := make([]vmm.PortMapping, 0, len(user)+len(exposed))
	mapped := make(map[uint16]bool, len(user))

	for _, pm := range user {
		if pm.HostPort == 0 {
			pm.HostPort = pm.GuestPort
		}
		out = append(out, pm)
		mapped[pm.GuestPort] = true
	}
	for _, port := range exposed {
		if mapped[port] {
			continue
		}
		out = append(out, vmm.PortMapping{GuestPort: port, HostPort: port})
		mapped[port] = true
	}
	return out
}

// GuestNetworkInit is the network half of GuestInitConfig in its
// plainest form; the pipeline copies it into the RPC type.
type GuestNetworkInit struct {
	Interface string
	IP        string
	Gateway   string
}

// DefaultGuestNetwork returns the standard gvproxy-backed guest
// interface configuration.
func DefaultGuestNetwork() GuestNetworkInit {
	return GuestNetworkInit{
		Interface: GuestInterface,
		IP:        GuestIP,
		Gateway:   GuestGateway,
	}
}

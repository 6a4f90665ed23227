package netcfg

import (
	"github.com/vishvananda/netlink"
)

// DefaultRouteInterface returns the name of the interface carrying the
// default route, used to log which uplink gvproxy will NAT through.
// Empty when no default route exists (offline host).
func DefaultRouteInterface() string {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return ""
	}
	for _, r := range routes {
		if r.Dst != nil {
			continue // not the default route
		}
		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			continue
		}
		return link.Attrs().Name
	}
	return ""
}

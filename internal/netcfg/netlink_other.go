//go:build !linux

package netcfg

// DefaultRouteInterface needs netlink; on other platforms the uplink
// name is not reported.
func DefaultRouteInterface() string { return "" }

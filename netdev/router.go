package netdev

import (
	"net"

	"github.com/brennanlowe/kbnet/kerrors"
)

const opRouteFor = "netdev.Router.RouteFor"

// Router resolves which Device should carry traffic to a destination
// IP. UdpSocket.SendTo consults a Router once per outbound datagram so a
// process bound to more than one NIC doesn't need its callers to name a
// port.
type Router interface {
	RouteFor(dst net.IP) (*Device, error)
}

// SingleDeviceRouter always routes to the one Device it was built with.
// It is the right choice for any process with exactly one NIC/vdev,
// such as the demo binary.
type SingleDeviceRouter struct {
	dev *Device
}

// NewSingleDeviceRouter builds a Router that always returns dev.
func NewSingleDeviceRouter(dev *Device) *SingleDeviceRouter {
	return &SingleDeviceRouter{dev: dev}
}

// RouteFor always returns the router's single Device.
func (r *SingleDeviceRouter) RouteFor(net.IP) (*Device, error) {
	return r.dev, nil
}

// CIDRRoute binds a destination prefix to a Device.
type CIDRRoute struct {
	Net *net.IPNet
	Dev *Device
}

// TableRouter walks an ordered list of CIDR routes and returns the first
// Device whose prefix contains dst, replacing the original source's
// linear (ip, rx, tx) table walk with an explicit, inspectable route
// table.
type TableRouter struct {
	routes   []CIDRRoute
	fallback *Device
}

// NewTableRouter builds a Router over routes, consulted in order, with
// defaultDev used when no route matches (nil means RouteFor returns an
// error instead).
func NewTableRouter(routes []CIDRRoute, defaultDev *Device) *TableRouter {
	return &TableRouter{routes: routes, fallback: defaultDev}
}

// RouteFor returns the Device for the first matching route, or the
// router's default Device if none match.
func (r *TableRouter) RouteFor(dst net.IP) (*Device, error) {
	for _, route := range r.routes {
		if route.Net.Contains(dst) {
			return route.Dev, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, kerrors.New(opRouteFor, kerrors.CodeNoDev, "no route for destination")
}

package kbnet

import (
	"net"

	"github.com/brennanlowe/kbnet/internal/agent"
	"github.com/brennanlowe/kbnet/internal/interfaces"
	"github.com/brennanlowe/kbnet/internal/logging"
	"github.com/brennanlowe/kbnet/netdev"
	"github.com/brennanlowe/kbnet/netdev/nulldev"
	"github.com/brennanlowe/kbnet/netdev/ringdev"
	"github.com/brennanlowe/kbnet/kerrors"
)

const opOpenDevice = "kbnet.OpenDevice"

// DeviceParams configures a single NIC/vdev brought up by OpenDevice.
type DeviceParams struct {
	// ID is the port id this device will be known by to RxAgent/TxAgent
	// and to any Router consulted for outbound traffic.
	ID uint16

	// Name is a diagnostic name, reported by Device.Name and otherwise
	// unused.
	Name string

	// Kind selects which in-process vdev backend to bind when no real
	// NIC binding is supplied. Defaults to netdev.VdevRing.
	Kind netdev.VdevKind

	// NumQueues is the number of RX/TX queue pairs to create for the
	// ring/null vdev backends. Defaults to 1.
	NumQueues uint16

	// RingDepth bounds each ring vdev queue's buffered frame count.
	// Defaults to 64. Unused by netdev.VdevNull.
	RingDepth int

	// MTU is the device's maximum transmission unit in bytes. Defaults
	// to constants.MTU.
	MTU int

	// Driver, if non-nil, is used directly instead of building one of
	// the in-process vdev backends — the path a real NIC binding (or
	// netdev/rawdev) takes.
	Driver interfaces.Driver
}

// DefaultDeviceParams returns single-queue ring vdev parameters for port
// id, suitable for tests and the demo binary.
func DefaultDeviceParams(id uint16) DeviceParams {
	return DeviceParams{
		ID:        id,
		Name:      "vdev0",
		Kind:      netdev.VdevRing,
		NumQueues: 1,
		RingDepth: 64,
		MTU:       MTU,
	}
}

// OpenDevice builds and wraps a poll-mode driver as a netdev.Device,
// choosing among kbnet's in-process vdev backends unless p.Driver names
// one directly. It does not start any RxAgent/TxAgent poll loop;
// NewStack starts those, and Stack.RegisterDevice attaches the device
// to them.
func OpenDevice(p DeviceParams) (*netdev.Device, error) {
	if p.MTU <= 0 {
		p.MTU = MTU
	}
	if p.NumQueues == 0 {
		p.NumQueues = 1
	}

	driver := p.Driver
	if driver == nil {
		switch p.Kind {
		case netdev.VdevNull, "":
			if p.Kind == "" {
				p.Kind = netdev.VdevRing
			}
			fallthrough
		case netdev.VdevRing:
			if p.Kind == netdev.VdevNull {
				driver = nulldev.New(p.NumQueues, p.MTU)
			} else {
				depth := p.RingDepth
				if depth <= 0 {
					depth = 64
				}
				driver = ringdev.New(p.NumQueues, depth, p.MTU)
			}
		default:
			return nil, kerrors.New(opOpenDevice, kerrors.CodeInvalidArg, "DeviceParams.Driver required for VdevKind "+string(p.Kind))
		}
	}

	return netdev.New(p.ID, p.Name, driver), nil
}

// Config gathers the runtime dependencies NewStack wires together:
// the data-plane agents, fd/port table and fragment reassembly are
// shared across every UdpSocket bound from the resulting Stack, mirroring
// one process owning one NIC poll loop regardless of how many sockets
// it serves.
type Config struct {
	// Router resolves the outbound Device for a destination IP. A
	// single-device process can build one with
	// netdev.NewSingleDeviceRouter.
	Router netdev.Router

	// RxCPUAffinity and TxCPUAffinity optionally pin the RxAgent and
	// TxAgent poll loops to
	// specific logical CPUs, one entry per loop's worth of care; nil
	// leaves both loops unpinned.
	RxCPUAffinity []int
	TxCPUAffinity []int

	// TxBufCapacity bounds the number of in-flight outbound datagrams
	// TxAgent will queue per (port, queue) pair before SendTo returns
	// ErrNoBuf; zero uses constants.TxChanCapacity.
	TxBufCapacity int

	// StaticPeers maps a destination IP (by String()) to the Ethernet
	// address SendTo should frame it to. This repo carries no ARP
	// client (out of scope per spec.md's Non-goals on L2 protocols
	// beyond plain Ethernet); an unresolved destination falls back to
	// the Ethernet broadcast address, which every vdev backend and any
	// switched network will still deliver.
	StaticPeers map[string]net.HardwareAddr

	Observer interfaces.Observer
	Logger   *logging.Logger
}

// SrcAddr describes the local MAC/IP this Config's TxAgent stamps on
// frames it sends from the given port.
type SrcAddr struct {
	MAC net.HardwareAddr
	IP  net.IP
}

// BroadcastMAC is used as the destination Ethernet address for any peer
// not present in Config.StaticPeers.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Package packet implements Packet, a pure owned fragment list tagged
// with its L3/L4 protocol, independent of any Mbuf or Mempool. Packet
// is the boundary value RxAgent hands to a socket's mailbox; outbound
// sends pass TxAgent raw payload bytes rather than a Packet.
package packet

import "github.com/brennanlowe/kbnet/internal/constants"

// L3Protocol identifies the network-layer protocol carried by a Packet.
type L3Protocol uint32

const (
	L3Unknown L3Protocol = iota
	L3IPv4
	L3IPv6
)

// Length returns the fixed header length for the protocol, 0 for Unknown.
func (p L3Protocol) Length() int {
	switch p {
	case L3IPv4:
		return constants.IPv4HdrLen
	case L3IPv6:
		return constants.IPv6HdrLen
	default:
		return 0
	}
}

func (p L3Protocol) String() string {
	switch p {
	case L3IPv4:
		return "ipv4"
	case L3IPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// L4Protocol identifies the transport-layer protocol carried by a Packet.
type L4Protocol uint32

const (
	L4Unknown L4Protocol = iota
	L4UDP
	L4TCP
)

// Length returns the fixed header length for the protocol, 0 for Unknown.
func (p L4Protocol) Length() int {
	switch p {
	case L4UDP:
		return constants.UDPHdrLen
	case L4TCP:
		return 20
	default:
		return 0
	}
}

func (p L4Protocol) String() string {
	switch p {
	case L4UDP:
		return "udp"
	case L4TCP:
		return "tcp"
	default:
		return "unknown"
	}
}

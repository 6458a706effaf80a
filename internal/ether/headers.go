// Package ether decodes and encodes the Ethernet/IPv4/IPv6/UDP wire
// formats kbnet's RxAgent and TxAgent need to parse and build.
package ether

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/packet"
)

// L3Protocol and L4Protocol reuse the canonical protocol tags defined by
// the packet package, so a ParsedFrame's protocol hint can be stamped
// straight onto a Packet or an Mbuf's PacketType without translation.
type L3Protocol = packet.L3Protocol
type L4Protocol = packet.L4Protocol

const (
	L3Unknown = packet.L3Unknown
	L3IPv4    = packet.L3IPv4
	L3IPv6    = packet.L3IPv6

	L4Unknown = packet.L4Unknown
	L4UDP     = packet.L4UDP
	L4TCP     = packet.L4TCP
)

// ParsedFrame is the result of decoding a raw Ethernet frame down to its
// UDP payload. L3Len/L4Len record the header lengths actually observed
// on the wire (IPv4 options, for instance, can push L3Len past 20).
type ParsedFrame struct {
	SrcMAC, DstMAC net.HardwareAddr
	L3Protocol     L3Protocol
	L4Protocol     L4Protocol
	L3Len, L4Len   int
	SrcIP, DstIP   net.IP
	SrcPort, DstPort uint16
	// MoreFragments/FragOffset/ID are populated when L3Protocol is IPv4
	// and the packet carries fragmentation flags, so callers can route
	// it through reassembly before trusting Payload.
	MoreFragments bool
	FragOffset    uint16
	ID            uint16
	Payload       []byte
}

// ErrTooShort is returned when a frame is shorter than its declared headers.
var ErrTooShort = fmt.Errorf("ether: frame too short")

// ErrUnsupported is returned for protocols kbnet does not parse (anything
// other than IPv4/IPv6 UDP at present).
var ErrUnsupported = fmt.Errorf("ether: unsupported protocol")

// ParseEthernet decodes an Ethernet+IPv4/IPv6+UDP frame. It does not copy
// frame; Payload aliases into it.
func ParseEthernet(frame []byte) (*ParsedFrame, error) {
	if len(frame) < constants.EtherHdrLen {
		return nil, ErrTooShort
	}
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, ErrTooShort
	}
	eth := ethLayer.(*layers.Ethernet)

	pf := &ParsedFrame{
		SrcMAC: eth.SrcMAC,
		DstMAC: eth.DstMAC,
	}

	switch eth.EthernetType {
	case layers.EthernetTypeIPv4:
		ipLayer := pkt.Layer(layers.LayerTypeIPv4)
		if ipLayer == nil {
			return nil, ErrTooShort
		}
		ip4 := ipLayer.(*layers.IPv4)
		pf.L3Protocol = L3IPv4
		pf.L3Len = int(ip4.IHL) * 4
		pf.SrcIP = ip4.SrcIP
		pf.DstIP = ip4.DstIP
		pf.ID = ip4.Id
		pf.FragOffset = ip4.FragOffset * 8
		pf.MoreFragments = ip4.Flags&layers.IPv4MoreFragments != 0

		if ip4.Protocol != layers.IPProtocolUDP {
			return nil, ErrUnsupported
		}
		if pf.MoreFragments || pf.FragOffset != 0 {
			// Reassembly owns the payload; UDP header is only valid on
			// fragment offset 0 and once reassembled.
			pf.L4Protocol = L4UDP
			pf.Payload = ip4.Payload
			return pf, nil
		}
		return parseUDP(pf, ip4.Payload)
	case layers.EthernetTypeIPv6:
		ipLayer := pkt.Layer(layers.LayerTypeIPv6)
		if ipLayer == nil {
			return nil, ErrTooShort
		}
		ip6 := ipLayer.(*layers.IPv6)
		pf.L3Protocol = L3IPv6
		pf.L3Len = constants.IPv6HdrLen
		pf.SrcIP = ip6.SrcIP
		pf.DstIP = ip6.DstIP
		if ip6.NextHeader != layers.IPProtocolUDP {
			return nil, ErrUnsupported
		}
		return parseUDP(pf, ip6.Payload)
	default:
		return nil, ErrUnsupported
	}
}

func parseUDP(pf *ParsedFrame, payload []byte) (*ParsedFrame, error) {
	if len(payload) < constants.UDPHdrLen {
		return nil, ErrTooShort
	}
	pf.L4Protocol = L4UDP
	pf.L4Len = constants.UDPHdrLen
	pf.SrcPort = binary.BigEndian.Uint16(payload[0:2])
	pf.DstPort = binary.BigEndian.Uint16(payload[4:6])
	pf.Payload = payload[constants.UDPHdrLen:]
	return pf, nil
}

// BuildUDPv4 serializes an Ethernet+IPv4+UDP frame carrying payload.
func BuildUDPv4(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

package ether

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/mbuf"
	"github.com/brennanlowe/kbnet/mempool"
)

// fragID hands out IPv4 Identification values for datagrams this process
// fragments on egress. A real stack derives this per-destination; a
// single process-wide counter is sufficient here since uniqueness only
// needs to hold for the lifetime of one in-flight datagram.
var fragID atomic.Uint32

// BuildUDPv4Fragmented lays the UDP segment (header once, at offset 0,
// plus payload) out across a chain of mp-backed Mbuf segments sized to
// fit mtu, and serializes one Ethernet+IPv4 frame per segment. A
// datagram that fits within mtu in a single IPv4 packet returns a
// one-segment chain and exactly one frame with no fragmentation flags
// set, matching BuildUDPv4's output except for the IPv4 Identification
// field (and so the header checksum). A UDP segment too large for one
// IPv4 datagram is rejected before any Mbuf is allocated.
//
// The returned Mbuf chain's head must be freed by the caller once every
// frame has been handed to Device.TxBurst.
func BuildUDPv4Fragmented(mp *mempool.Mempool, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte, mtu int) (*mbuf.Mbuf, [][]byte, error) {
	if constants.UDPHdrLen+len(payload) > 0xFFFF-constants.IPv4HdrLen {
		return nil, nil, fmt.Errorf("ether: %d-byte payload exceeds the IPv4 datagram size limit", len(payload))
	}
	segment, err := buildUDPSegment(srcIP, dstIP, srcPort, dstPort, payload)
	if err != nil {
		return nil, nil, err
	}

	maxPayload := mtu - constants.IPv4HdrLen
	if maxPayload <= 0 {
		return nil, nil, fmt.Errorf("ether: mtu %d too small for an IPv4 header", mtu)
	}
	fragSize := maxPayload
	if len(segment) > maxPayload {
		// Every fragment but the last must be a multiple of 8 bytes
		// (fragment offset is carried in 8-byte units).
		fragSize = maxPayload &^ 7
		if fragSize == 0 {
			return nil, nil, fmt.Errorf("ether: mtu %d leaves no room for an 8-byte-aligned fragment", mtu)
		}
	}

	id := uint16(fragID.Add(1))
	var head *mbuf.Mbuf
	frames := make([][]byte, 0, (len(segment)+fragSize-1)/fragSize)

	for offset := 0; offset < len(segment); {
		end := offset + fragSize
		more := end < len(segment)
		if !more {
			end = len(segment)
		}

		seg, err := mbuf.New(mp)
		if err != nil {
			if head != nil {
				head.Free()
			}
			return nil, nil, err
		}
		body, err := seg.Append(end - offset)
		if err != nil {
			seg.Free()
			if head != nil {
				head.Free()
			}
			return nil, nil, err
		}
		copy(body, segment[offset:end])

		frame, err := buildIPv4Frame(srcMAC, dstMAC, srcIP, dstIP, id, uint16(offset/8), more, seg.DataSlice())
		if err != nil {
			seg.Free()
			if head != nil {
				head.Free()
			}
			return nil, nil, err
		}
		frames = append(frames, frame)

		if head == nil {
			head = seg
		} else {
			head.Chain(seg)
		}
		offset = end
	}
	return head, frames, nil
}

// buildUDPSegment serializes a UDP header plus payload, with a checksum
// computed against the IPv4 pseudo-header. This segment is only valid
// wrapped in the fragment carrying offset 0; later fragments of the
// same datagram carry raw payload bytes with no UDP header of their own.
func buildUDPSegment(srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
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
	if err := gopacket.SerializeLayers(buf, opts, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// buildIPv4Frame wraps data (an already-built IP payload, whether a
// whole UDP segment or one fragment's slice of one) in an Ethernet+IPv4
// frame carrying the given Identification, FragOffset (in 8-byte units)
// and More Fragments flag.
func buildIPv4Frame(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, id uint16, fragOffset uint16, moreFragments bool, data []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	var flags layers.IPv4Flag
	if moreFragments {
		flags = layers.IPv4MoreFragments
	}
	ip4 := &layers.IPv4{
		Version:    4,
		IHL:        5,
		TTL:        64,
		Protocol:   layers.IPProtocolUDP,
		SrcIP:      srcIP.To4(),
		DstIP:      dstIP.To4(),
		Id:         id,
		Flags:      flags,
		FragOffset: fragOffset,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, gopacket.Payload(data)); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

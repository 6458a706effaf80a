package packet

import (
	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/kerrors"
	"github.com/brennanlowe/kbnet/mbuf"
	"github.com/brennanlowe/kbnet/mempool"
)

const (
	opIntoMbuf = "packet.IntoMbuf"
)

// Packet is a pure, Mbuf-independent owned copy of a frame's payload
// fragments, tagged with the L3/L4 protocol it was parsed as. Because it
// holds its own copies rather than pool-backed segments, a Packet can
// outlive the Mbuf chain it was built from and cross goroutine
// boundaries (e.g. into a mailbox) without any pool bookkeeping.
type Packet struct {
	l3 L3Protocol
	l4 L4Protocol
	// frags holds one []byte per original Mbuf segment, preserving
	// segment boundaries exactly as FromMbuf observed them.
	frags [][]byte
}

// New creates an empty Packet tagged with the given protocols.
func New(l3 L3Protocol, l4 L4Protocol) *Packet {
	return &Packet{l3: l3, l4: l4}
}

// L3Protocol returns the packet's network-layer protocol tag.
func (p *Packet) L3Protocol() L3Protocol { return p.l3 }

// L4Protocol returns the packet's transport-layer protocol tag.
func (p *Packet) L4Protocol() L4Protocol { return p.l4 }

// Append adds a fragment to the end of the packet's fragment list. The
// slice is retained, not copied; callers should not mutate it afterward.
func (p *Packet) Append(frag []byte) {
	p.frags = append(p.frags, frag)
}

// Fragments returns the packet's fragment list in order.
func (p *Packet) Fragments() [][]byte { return p.frags }

// Len returns the total number of bytes across every fragment.
func (p *Packet) Len() int {
	n := 0
	for _, f := range p.frags {
		n += len(f)
	}
	return n
}

// Bytes concatenates every fragment into a single contiguous slice.
func (p *Packet) Bytes() []byte {
	out := make([]byte, 0, p.Len())
	for _, f := range p.frags {
		out = append(out, f...)
	}
	return out
}

// FromMbuf walks m's segment chain, copying each segment's valid data
// into its own fragment, and tags the result with the PacketType
// RxAgent already stamped on m's head segment during parsing.
func FromMbuf(m *mbuf.Mbuf) *Packet {
	pt := m.PacketType()
	p := &Packet{l3: L3Protocol(pt.L3), l4: L4Protocol(pt.L4)}
	for seg := m; seg != nil; seg = seg.Next() {
		data := seg.DataSlice()
		if len(data) == 0 {
			continue
		}
		frag := make([]byte, len(data))
		copy(frag, data)
		p.Append(frag)
	}
	return p
}

// IntoMbuf rebuilds the packet as a single-segment Mbuf allocated from mp,
// concatenating every fragment into the new Mbuf's data area. It stamps
// the Mbuf's PacketType from the Packet's protocol tags.
func (p *Packet) IntoMbuf(mp *mempool.Mempool) (*mbuf.Mbuf, error) {
	m, err := mbuf.New(mp)
	if err != nil {
		return nil, kerrors.Wrap(opIntoMbuf, err)
	}
	total := p.Len()
	body, err := m.Append(total)
	if err != nil {
		m.Free()
		return nil, kerrors.Wrap(opIntoMbuf, err)
	}
	off := 0
	for _, f := range p.frags {
		off += copy(body[off:], f)
	}
	m.SetPacketType(mbuf.PacketType{L3: uint32(p.l3), L4: uint32(p.l4)})
	return m, nil
}

// L2Len returns the Ethernet header length TxAgent should prepend ahead
// of this packet's L3 header when building a frame.
func L2Len() int { return constants.EtherHdrLen }

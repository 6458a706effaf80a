// Package mbuf implements a segmented packet buffer modeled on DPDK's
// rte_mbuf: a chain of pool-backed segments, each with headroom before
// its data and tailroom after it, so headers can be prepended and
// trailers appended without copying.
package mbuf

import (
	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/kerrors"
	"github.com/brennanlowe/kbnet/mempool"
)

const (
	opNew      = "mbuf.New"
	opPrepend  = "mbuf.Prepend"
	opAppend   = "mbuf.Append"
	opAdj      = "mbuf.Adj"
	opTrim     = "mbuf.Trim"
	opLinearize = "mbuf.Linearize"
)

// PacketType mirrors the L3/L4 type hint DPDK stores alongside a chain,
// so downstream code doesn't need to re-parse headers it already parsed.
type PacketType struct {
	L3 uint32
	L4 uint32
}

// Mbuf is one segment of a packet buffer chain. The head segment carries
// the chain's total length (PktLen) and segment count (NumSegs); these
// fields are meaningless on non-head segments.
type Mbuf struct {
	obj  *mempool.Obj
	pool *mempool.Mempool

	dataOff int
	dataLen int
	next    *Mbuf

	// valid on the head segment only
	pktLen  int
	nbSegs  int
	ptype   PacketType
}

// New allocates a single-segment Mbuf from mp, with DefaultHeadroom bytes
// of headroom reserved ahead of an empty data area.
func New(mp *mempool.Mempool) (*Mbuf, error) {
	obj, err := mp.Get()
	if err != nil {
		return nil, kerrors.Wrap(opNew, err)
	}
	headroom := constants.DefaultHeadroom
	if headroom > len(obj.Bytes()) {
		headroom = len(obj.Bytes())
	}
	return &Mbuf{
		obj:     obj,
		pool:    mp,
		dataOff: headroom,
		dataLen: 0,
		pktLen:  0,
		nbSegs:  1,
	}, nil
}

// NewBulk allocates n independent single-segment Mbufs from mp.
func NewBulk(mp *mempool.Mempool, n int) ([]*Mbuf, error) {
	out := make([]*Mbuf, 0, n)
	for i := 0; i < n; i++ {
		m, err := New(mp)
		if err != nil {
			for _, done := range out {
				done.Free()
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DataLen returns this segment's valid data length.
func (m *Mbuf) DataLen() int { return m.dataLen }

// PktLen returns the total data length across every segment in the
// chain. Only meaningful when called on the head segment.
func (m *Mbuf) PktLen() int { return m.pktLen }

// NumSegs returns the number of segments in the chain. Only meaningful
// when called on the head segment.
func (m *Mbuf) NumSegs() int { return m.nbSegs }

// Next returns the next segment in the chain, or nil at the tail.
func (m *Mbuf) Next() *Mbuf { return m.next }

// Headroom returns the number of unused bytes before this segment's data.
func (m *Mbuf) Headroom() int { return m.dataOff }

// Tailroom returns the number of unused bytes after this segment's data.
func (m *Mbuf) Tailroom() int { return len(m.obj.Bytes()) - m.dataOff - m.dataLen }

// PacketType returns the head segment's cached L3/L4 protocol hint.
func (m *Mbuf) PacketType() PacketType { return m.ptype }

// SetPacketType stamps the head segment's L3/L4 protocol hint.
func (m *Mbuf) SetPacketType(pt PacketType) { m.ptype = pt }

// DataSlice returns this segment's valid data.
func (m *Mbuf) DataSlice() []byte {
	return m.obj.Bytes()[m.dataOff : m.dataOff+m.dataLen]
}

func (m *Mbuf) lastSeg() *Mbuf {
	seg := m
	for seg.next != nil {
		seg = seg.next
	}
	return seg
}

// Prepend grows the head segment's data area backwards into its
// headroom by n bytes and returns the newly exposed prefix for the
// caller to fill in (e.g. an Ethernet header).
func (m *Mbuf) Prepend(n int) ([]byte, error) {
	if n > m.Headroom() {
		return nil, kerrors.New(opPrepend, kerrors.CodeNoBuf, "insufficient headroom")
	}
	m.dataOff -= n
	m.dataLen += n
	m.pktLen += n
	return m.obj.Bytes()[m.dataOff : m.dataOff+n], nil
}

// Append grows the chain's last segment forward into its tailroom by n
// bytes and returns the newly exposed suffix for the caller to fill in.
func (m *Mbuf) Append(n int) ([]byte, error) {
	seg := m.lastSeg()
	if n > seg.Tailroom() {
		return nil, kerrors.New(opAppend, kerrors.CodeNoBuf, "insufficient tailroom")
	}
	start := seg.dataOff + seg.dataLen
	seg.dataLen += n
	m.pktLen += n
	return seg.obj.Bytes()[start : start+n], nil
}

// Adj strips n bytes from the front of the chain's head segment,
// e.g. to remove a parsed Ethernet header before handing the remainder
// to IP processing.
func (m *Mbuf) Adj(n int) error {
	if n > m.dataLen {
		return kerrors.New(opAdj, kerrors.CodeInvalidArg, "adj exceeds segment data_len")
	}
	m.dataOff += n
	m.dataLen -= n
	m.pktLen -= n
	return nil
}

// Trim strips n bytes from the back of the chain's last segment.
func (m *Mbuf) Trim(n int) error {
	seg := m.lastSeg()
	if n > seg.dataLen {
		return kerrors.New(opTrim, kerrors.CodeInvalidArg, "trim exceeds segment data_len")
	}
	seg.dataLen -= n
	m.pktLen -= n
	return nil
}

// Chain appends tail as a new segment at the end of m's chain. tail must
// be a single, unchained segment; ownership of tail transfers to m.
func (m *Mbuf) Chain(tail *Mbuf) {
	last := m.lastSeg()
	last.next = tail
	m.nbSegs += tail.nbSegs
	m.pktLen += tail.pktLen
	tail.nbSegs = 0
	tail.pktLen = 0
}

// Linearize copies every segment's data into the head segment's own
// buffer, so the whole chain becomes addressable as one DataSlice. It
// fails if the combined length does not fit in the head segment's
// backing buffer.
func (m *Mbuf) Linearize() error {
	if m.next == nil {
		return nil
	}
	total := m.pktLen
	capacity := len(m.obj.Bytes()) - m.dataOff
	if total > capacity {
		return kerrors.New(opLinearize, kerrors.CodeNoBuf, "chain does not fit in head segment")
	}

	buf := m.obj.Bytes()
	write := m.dataOff + m.dataLen
	var freed []*Mbuf
	for seg := m.next; seg != nil; seg = seg.next {
		n := copy(buf[write:], seg.DataSlice())
		write += n
		freed = append(freed, seg)
	}
	m.dataLen = total
	m.next = nil
	m.nbSegs = 1
	for _, seg := range freed {
		seg.next = nil
		seg.nbSegs = 0
		seg.Free()
	}
	return nil
}

// Free returns every segment in the chain to its owning pool. After
// Free, m and every segment reachable from it must not be used again.
func (m *Mbuf) Free() {
	seg := m
	for seg != nil {
		next := seg.next
		if seg.obj != nil {
			_ = seg.pool.Put(seg.obj)
			seg.obj = nil
		}
		seg = next
	}
}

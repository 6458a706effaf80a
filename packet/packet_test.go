package packet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brennanlowe/kbnet/mbuf"
	"github.com/brennanlowe/kbnet/mempool"
)

func newTestPool(t *testing.T, name string, size, eltSize int) *mempool.Mempool {
	t.Helper()
	mp, err := mempool.Create(name, size, eltSize, 0, 0, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { mempool.Destroy(name) })
	return mp
}

func TestFromMbufPreservesSegmentBoundaries(t *testing.T) {
	mp := newTestPool(t, "packet-from-mbuf", 8, 256)

	segs := make([]*mbuf.Mbuf, 3)
	for i := range segs {
		m, err := mbuf.New(mp)
		require.NoError(t, err)
		body, err := m.Append(5)
		require.NoError(t, err)
		for j := range body {
			body[j] = byte(i)
		}
		segs[i] = m
	}
	head := segs[0]
	head.Chain(segs[1])
	head.Chain(segs[2])
	head.SetPacketType(mbuf.PacketType{L3: uint32(L3IPv4), L4: uint32(L4UDP)})
	defer head.Free()

	p := FromMbuf(head)
	require.Equal(t, L3IPv4, p.L3Protocol())
	require.Equal(t, L4UDP, p.L4Protocol())
	require.Len(t, p.Fragments(), 3)
	require.Equal(t, []byte{0, 0, 0, 0, 0}, p.Fragments()[0])
	require.Equal(t, []byte{1, 1, 1, 1, 1}, p.Fragments()[1])
	require.Equal(t, []byte{2, 2, 2, 2, 2}, p.Fragments()[2])
}

func TestIntoMbufConcatenatesFragments(t *testing.T) {
	mp := newTestPool(t, "packet-into-mbuf", 4, 256)

	p := New(L3IPv4, L4UDP)
	p.Append([]byte{0, 0, 0, 0, 0})
	p.Append([]byte{1, 1, 1, 1, 1})
	p.Append([]byte{2, 2, 2, 2, 2})

	m, err := p.IntoMbuf(mp)
	require.NoError(t, err)
	defer m.Free()

	require.Equal(t, 1, m.NumSegs())
	require.Equal(t, 15, m.PktLen())
	require.Equal(t, []byte{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2}, m.DataSlice())
	require.Equal(t, uint32(L3IPv4), m.PacketType().L3)
	require.Equal(t, uint32(L4UDP), m.PacketType().L4)
}

func TestRoundTripMbufToPacketToMbuf(t *testing.T) {
	mp := newTestPool(t, "packet-roundtrip", 8, 256)

	m1, err := mbuf.New(mp)
	require.NoError(t, err)
	b, err := m1.Append(5)
	require.NoError(t, err)
	copy(b, []byte{0, 0, 0, 0, 0})

	m2, err := mbuf.New(mp)
	require.NoError(t, err)
	b, err = m2.Append(5)
	require.NoError(t, err)
	copy(b, []byte{1, 1, 1, 1, 1})

	m1.Chain(m2)
	m1.SetPacketType(mbuf.PacketType{L3: uint32(L3IPv6), L4: uint32(L4UDP)})

	p := FromMbuf(m1)
	m1.Free()

	out, err := p.IntoMbuf(mp)
	require.NoError(t, err)
	defer out.Free()

	require.Equal(t, []byte{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}, out.DataSlice())
	require.Equal(t, uint32(L3IPv6), out.PacketType().L3)
}

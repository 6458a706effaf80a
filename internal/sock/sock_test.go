package sock

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brennanlowe/kbnet/packet"
)

func TestBindFdEphemeralPort(t *testing.T) {
	tbl := NewTable()
	fd, err := tbl.BindFd(Addr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, 0)

	addr, ok := tbl.Addr(fd)
	require.True(t, ok)
	require.NotEqual(t, uint16(0), addr.Port)
}

func TestBindFdExplicitPortConflict(t *testing.T) {
	tbl := NewTable()
	fd1, err := tbl.BindFd(Addr{IP: net.ParseIP("127.0.0.1"), Port: 9000})
	require.NoError(t, err)
	defer tbl.FreeFd(fd1)

	_, err = tbl.BindFd(Addr{IP: net.ParseIP("127.0.0.1"), Port: 9000})
	require.Error(t, err)
}

func TestFreeFdRejectsUnbound(t *testing.T) {
	tbl := NewTable()
	err := tbl.FreeFd(5)
	require.Error(t, err)

	err = tbl.FreeFd(-1)
	require.Error(t, err)
}

func TestFreeFdReleasesPortForReuse(t *testing.T) {
	tbl := NewTable()
	fd1, err := tbl.BindFd(Addr{Port: 7000})
	require.NoError(t, err)
	require.NoError(t, tbl.FreeFd(fd1))

	fd2, err := tbl.BindFd(Addr{Port: 7000})
	require.NoError(t, err)
	require.Equal(t, fd1, fd2)
}

func TestEphemeralPortWraparound(t *testing.T) {
	tbl := NewTable()
	tbl.nextPort = 0xFFFE

	fd1, err := tbl.BindFd(Addr{})
	require.NoError(t, err)
	addr1, _ := tbl.Addr(fd1)
	require.Equal(t, uint16(0xFFFF), addr1.Port)

	fd2, err := tbl.BindFd(Addr{})
	require.NoError(t, err)
	addr2, _ := tbl.Addr(fd2)
	require.Equal(t, uint16(1), addr2.Port, "ephemeral allocation must wrap 0xFFFF back to 1")
}

func TestMailboxDropOnFull(t *testing.T) {
	mb := NewMailbox(2)
	peer := Addr{IP: net.ParseIP("10.0.0.5"), Port: 1234}

	require.True(t, mb.Put(Msg{Peer: peer, Pkt: packet.New(packet.L3IPv4, packet.L4UDP)}))
	require.True(t, mb.Put(Msg{Peer: peer, Pkt: packet.New(packet.L3IPv4, packet.L4UDP)}))
	require.False(t, mb.Put(Msg{Peer: peer, Pkt: packet.New(packet.L3IPv4, packet.L4UDP)}), "third put must be dropped once mailbox is full")
	require.Equal(t, 2, mb.Len())
}

func TestMailboxRecvBlocksUntilPut(t *testing.T) {
	mb := NewMailbox(4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan Msg, 1)
	go func() {
		msg, err := mb.Recv(ctx)
		require.NoError(t, err)
		done <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	mb.Put(Msg{Peer: Addr{Port: 1}, Pkt: packet.New(packet.L3IPv4, packet.L4UDP)})

	select {
	case msg := <-done:
		require.Equal(t, uint16(1), msg.Peer.Port)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Put")
	}
}

func TestMailboxRecvRespectsContextCancellation(t *testing.T) {
	mb := NewMailbox(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mb.Recv(ctx)
	require.Error(t, err)
}

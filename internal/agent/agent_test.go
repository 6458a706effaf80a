package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brennanlowe/kbnet/internal/ether"
	"github.com/brennanlowe/kbnet/internal/fragment"
	"github.com/brennanlowe/kbnet/internal/interfaces"
	"github.com/brennanlowe/kbnet/internal/sock"
	"github.com/brennanlowe/kbnet/netdev"
	"github.com/brennanlowe/kbnet/netdev/ringdev"
)

type fakeObserver struct {
	drops []string
}

func (o *fakeObserver) ObserveRx(bytes, latencyNs uint64, success bool)        {}
func (o *fakeObserver) ObserveTx(bytes, latencyNs uint64, success bool)        {}
func (o *fakeObserver) ObserveDrop(reason string)                             { o.drops = append(o.drops, reason) }
func (o *fakeObserver) ObserveReassembly(latencyNs uint64, success bool)       {}
func (o *fakeObserver) ObserveQueueDepth(depth uint32)                        {}

var _ interfaces.Observer = (*fakeObserver)(nil)

var (
	srcMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	dstMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
	srcIP  = net.IPv4(10, 0, 0, 1)
	dstIP  = net.IPv4(10, 0, 0, 2)
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRxAgentRegisterRequiresStart(t *testing.T) {
	a := NewRxAgent(sock.NewTable(), fragment.NewTable(), &fakeObserver{}, nil)
	dev := netdev.New(0, "ring0", ringdev.New(1, 8, 1500))
	err := a.Register(dev, 0)
	require.Error(t, err)
}

func TestRxAgentRegisterRejectsDuplicate(t *testing.T) {
	a := NewRxAgent(sock.NewTable(), fragment.NewTable(), &fakeObserver{}, nil)
	require.NoError(t, a.Start(nil))
	defer a.Stop()

	dev := netdev.New(0, "ring0", ringdev.New(1, 8, 1500))
	require.NoError(t, a.Register(dev, 0))
	require.Error(t, a.Register(dev, 0))
}

func TestRxAgentUnregisterUnknownFails(t *testing.T) {
	a := NewRxAgent(sock.NewTable(), fragment.NewTable(), &fakeObserver{}, nil)
	require.NoError(t, a.Start(nil))
	defer a.Stop()
	require.Error(t, a.Unregister(0, 0))
}

func TestRxAgentDeliversUDPToMailbox(t *testing.T) {
	tbl := sock.NewTable()
	fd, err := tbl.BindFd(sock.Addr{IP: dstIP, Port: 9000})
	require.NoError(t, err)

	ring := ringdev.New(1, 8, 1500)
	dev := netdev.New(0, "ring0", ring)

	frame, err := ether.BuildUDPv4(srcMAC, dstMAC, srcIP, dstIP, 5000, 9000, []byte("hello"))
	require.NoError(t, err)
	n, err := ring.TxBurst(0, [][]byte{frame})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	a := NewRxAgent(tbl, fragment.NewTable(), &fakeObserver{}, nil)
	require.NoError(t, a.Start(nil))
	defer a.Stop()
	require.NoError(t, a.Register(dev, 0))

	waitFor(t, func() bool { return tbl.Mailbox(fd).Len() > 0 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := tbl.Mailbox(fd).Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", string(msg.Pkt.Bytes()))
	require.Equal(t, uint16(5000), msg.Peer.Port)
}

func TestTxAgentSendRequiresRegisteredPort(t *testing.T) {
	a := NewTxAgent(0, &fakeObserver{}, nil)
	require.NoError(t, a.Start(nil))
	defer a.Stop()
	err := a.Send(0, 0, srcMAC, dstMAC, srcIP, dstIP, 5000, 9000, []byte("hi"))
	require.Error(t, err)
}

func TestTxAgentRegisterRejectsDuplicate(t *testing.T) {
	a := NewTxAgent(0, &fakeObserver{}, nil)
	require.NoError(t, a.Start(nil))
	defer a.Stop()

	dev := netdev.New(0, "ring0", ringdev.New(1, 8, 1500))
	require.NoError(t, a.Register(dev, 0))
	require.Error(t, a.Register(dev, 0))
}

func TestTxAgentFramesAndTransmits(t *testing.T) {
	ring := ringdev.New(1, 8, 1500)
	dev := netdev.New(3, "ring3", ring)

	a := NewTxAgent(0, &fakeObserver{}, nil)
	require.NoError(t, a.Start(nil))
	defer a.Stop()
	require.NoError(t, a.Register(dev, 0))

	require.NoError(t, a.Send(3, 0, srcMAC, dstMAC, srcIP, dstIP, 5000, 9000, []byte("ping")))

	var frames [][]byte
	waitFor(t, func() bool {
		bufs := make([][]byte, 4)
		for i := range bufs {
			bufs[i] = make([]byte, 2048)
		}
		n, err := ring.RxBurst(0, bufs)
		require.NoError(t, err)
		if n > 0 {
			frames = bufs[:n]
			return true
		}
		return false
	})

	pf, err := ether.ParseEthernet(frames[0])
	require.NoError(t, err)
	require.Equal(t, "ping", string(pf.Payload))
	require.Equal(t, uint16(9000), pf.DstPort)
}

func TestTxAgentUnregisterUnknownFails(t *testing.T) {
	a := NewTxAgent(0, &fakeObserver{}, nil)
	require.NoError(t, a.Start(nil))
	defer a.Stop()
	require.Error(t, a.Unregister(7, 0))
}

func TestTxAgentFragmentsOversizedPayload(t *testing.T) {
	ring := ringdev.New(1, 8, 1500)
	dev := netdev.New(4, "ring4", ring)

	a := NewTxAgent(0, &fakeObserver{}, nil)
	require.NoError(t, a.Start(nil))
	defer a.Stop()
	require.NoError(t, a.Register(dev, 0))

	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, a.Send(4, 0, srcMAC, dstMAC, srcIP, dstIP, 5000, 9000, payload))

	var frames [][]byte
	waitFor(t, func() bool {
		bufs := make([][]byte, 8)
		for i := range bufs {
			bufs[i] = make([]byte, 2048)
		}
		n, err := ring.RxBurst(0, bufs)
		require.NoError(t, err)
		if n > 0 {
			frames = bufs[:n]
			return true
		}
		return false
	})

	require.Greater(t, len(frames), 1, "a 2000-byte UDP datagram must be sent as more than one IPv4 fragment")

	pf0, err := ether.ParseEthernet(frames[0])
	require.NoError(t, err)
	require.True(t, pf0.MoreFragments)
	require.Equal(t, uint16(0), pf0.FragOffset)

	pfLast, err := ether.ParseEthernet(frames[len(frames)-1])
	require.NoError(t, err)
	require.False(t, pfLast.MoreFragments)
	require.NotZero(t, pfLast.FragOffset)
}

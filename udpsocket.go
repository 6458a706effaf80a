package kbnet

import (
	"context"
	"net"
	"sync"

	"github.com/brennanlowe/kbnet/internal/agent"
	"github.com/brennanlowe/kbnet/internal/fragment"
	"github.com/brennanlowe/kbnet/internal/interfaces"
	"github.com/brennanlowe/kbnet/internal/logging"
	"github.com/brennanlowe/kbnet/internal/sock"
	"github.com/brennanlowe/kbnet/kerrors"
	"github.com/brennanlowe/kbnet/netdev"
)

const (
	opNewStack        = "kbnet.NewStack"
	opRegisterDevice  = "kbnet.Stack.RegisterDevice"
	opBind            = "kbnet.Stack.Bind"
	opRecvFrom        = "kbnet.UdpSocket.RecvFrom"
	opSendTo          = "kbnet.UdpSocket.SendTo"
	opClose           = "kbnet.UdpSocket.Close"
)

// Stack owns the data-plane agents and shared tables behind every
// UdpSocket bound from it: one RxAgent poll loop fans received
// datagrams out to each bound socket's mailbox, one TxAgent poll loop
// drains every socket's outbound sends, and one fragment.Table
// reassembles fragmented inbound IPv4 datagrams. This mirrors the
// teacher's one-Device-many-queues shape, generalized to one process
// serving many UDP sockets over a shared NIC/vdev.
type Stack struct {
	mu sync.Mutex

	mailboxes *sock.Table
	frags     *fragment.Table
	rx        *agent.RxAgent
	tx        *agent.TxAgent
	router    netdev.Router

	srcAddrs map[uint16]SrcAddr
	peers    map[string]net.HardwareAddr

	observer interfaces.Observer
	logger   *logging.Logger
}

// NewStack builds and starts the RxAgent/TxAgent poll loops described by
// cfg. Callers register each Device they bring up with RegisterDevice
// before binding sockets against it.
func NewStack(cfg Config) (*Stack, error) {
	if cfg.Router == nil {
		return nil, kerrors.New(opNewStack, kerrors.CodeInvalidArg, "Config.Router is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}

	peers := cfg.StaticPeers
	if peers == nil {
		peers = make(map[string]net.HardwareAddr)
	}

	s := &Stack{
		mailboxes: sock.NewTable(),
		frags:     fragment.NewTable(),
		router:    cfg.Router,
		srcAddrs:  make(map[uint16]SrcAddr),
		peers:     peers,
		observer:  observer,
		logger:    logger,
	}
	s.rx = agent.NewRxAgent(s.mailboxes, s.frags, observer, logger)
	s.tx = agent.NewTxAgent(cfg.TxBufCapacity, observer, logger)

	if err := s.rx.Start(cfg.RxCPUAffinity); err != nil {
		return nil, err
	}
	if err := s.tx.Start(cfg.TxCPUAffinity); err != nil {
		_ = s.rx.Stop()
		return nil, err
	}
	return s, nil
}

// RegisterDevice wires dev into both poll loops: every (port, queue)
// pair is registered with RxAgent so inbound frames are demultiplexed
// to mailboxes, and with TxAgent so each queue gets its own bounded
// outbound buffer. src is the local MAC/IP TxAgent stamps on frames
// sent from dev's port.
func (s *Stack) RegisterDevice(dev *netdev.Device, src SrcAddr) error {
	s.mu.Lock()
	s.srcAddrs[dev.ID()] = src
	s.mu.Unlock()

	for q := uint16(0); q < dev.NumQueues(); q++ {
		if err := s.rx.Register(dev, q); err != nil {
			return kerrors.Wrap(opRegisterDevice, err)
		}
		if err := s.tx.Register(dev, q); err != nil {
			return kerrors.Wrap(opRegisterDevice, err)
		}
	}
	return nil
}

// Bind allocates a socket at addr (an ephemeral port if addr.Port is
// zero) and returns a UdpSocket for it.
func (s *Stack) Bind(addr sock.Addr) (*UdpSocket, error) {
	fd, err := s.mailboxes.BindFd(addr)
	if err != nil {
		return nil, kerrors.Wrap(opBind, err)
	}
	bound, _ := s.mailboxes.Addr(fd)
	return &UdpSocket{stack: s, fd: fd, local: bound}, nil
}

// Stop shuts down both poll loops. Bound sockets become unusable.
func (s *Stack) Stop() error {
	rxErr := s.rx.Stop()
	txErr := s.tx.Stop()
	if rxErr != nil {
		return rxErr
	}
	return txErr
}

// srcAddrFor returns the configured local MAC/IP for port, if any.
func (s *Stack) srcAddrFor(port uint16) (SrcAddr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.srcAddrs[port]
	return a, ok
}

// peerMAC resolves dst to a static Ethernet address, falling back to
// BroadcastMAC when no static entry was configured.
func (s *Stack) peerMAC(dst net.IP) net.HardwareAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mac, ok := s.peers[dst.String()]; ok {
		return mac
	}
	return BroadcastMAC
}

// UdpSocket is a single bound UDP endpoint over a Stack's shared
// poll-mode agents. Its zero value is not usable; build one with
// Stack.Bind.
type UdpSocket struct {
	stack *Stack
	fd    int
	local sock.Addr
}

// LocalAddr returns the socket's bound IP and port.
func (u *UdpSocket) LocalAddr() sock.Addr { return u.local }

// RecvFrom blocks until a datagram is available or ctx is done. On a
// socket already closed when it is called it returns ErrBadFd; closing
// the socket does not wake a RecvFrom that is already blocked. It
// copies up to len(buf) payload bytes into buf and
// returns the number of bytes copied along with the peer address the
// datagram arrived from; a datagram longer than buf is truncated rather
// than erroring, matching net.UDPConn.ReadFromUDP.
func (u *UdpSocket) RecvFrom(ctx context.Context, buf []byte) (int, sock.Addr, error) {
	mb := u.stack.mailboxes.Mailbox(u.fd)
	if mb == nil {
		return 0, sock.Addr{}, kerrors.New(opRecvFrom, kerrors.CodeBadFd, "socket closed")
	}
	msg, err := mb.Recv(ctx)
	if err != nil {
		return 0, sock.Addr{}, kerrors.Wrap(opRecvFrom, err)
	}
	n := copy(buf, msg.Pkt.Bytes())
	return n, msg.Peer, nil
}

// SendTo transmits payload to dst. The outbound Device is chosen by the
// Stack's Router from dst.IP; SendTo returns ErrNoDev if the router
// cannot resolve a route, and ErrNoBuf if TxAgent's buffer is full.
func (u *UdpSocket) SendTo(ctx context.Context, dst sock.Addr, payload []byte) error {
	dev, err := u.stack.router.RouteFor(dst.IP)
	if err != nil {
		return kerrors.Wrap(opSendTo, err)
	}
	src, ok := u.stack.srcAddrFor(dev.ID())
	if !ok {
		return kerrors.New(opSendTo, kerrors.CodeNotConfigured, "no source address configured for routed device")
	}

	select {
	case <-ctx.Done():
		return kerrors.Wrap(opSendTo, ctx.Err())
	default:
	}

	dstMAC := u.stack.peerMAC(dst.IP)
	return u.stack.tx.Send(dev.ID(), 0, src.MAC, dstMAC, src.IP, dst.IP, u.local.Port, dst.Port, payload)
}

// Close releases the socket's fd, port, and mailbox back to the Stack.
func (u *UdpSocket) Close() error {
	if err := u.stack.mailboxes.FreeFd(u.fd); err != nil {
		return kerrors.Wrap(opClose, err)
	}
	return nil
}

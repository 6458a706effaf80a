// Package agent implements RxAgent and TxAgent: the pinned poll-mode
// goroutines that bridge a netdev.Device's burst I/O to per-fd
// mailboxes (RX) and back out again (TX). Both are modeled on the
// teacher codebase's internal/queue.Runner poll loop (LockOSThread plus
// optional CPU affinity) applied to network burst I/O instead of block
// device I/O.
package agent

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/internal/ether"
	"github.com/brennanlowe/kbnet/internal/fragment"
	"github.com/brennanlowe/kbnet/internal/interfaces"
	"github.com/brennanlowe/kbnet/internal/logging"
	"github.com/brennanlowe/kbnet/internal/sock"
	"github.com/brennanlowe/kbnet/kerrors"
	"github.com/brennanlowe/kbnet/mbuf"
	"github.com/brennanlowe/kbnet/mempool"
	"github.com/brennanlowe/kbnet/netdev"
	"github.com/brennanlowe/kbnet/packet"
)

const (
	opRxStart      = "agent.RxAgent.Start"
	opRxStop       = "agent.RxAgent.Stop"
	opRxRegister   = "agent.RxAgent.Register"
	opRxUnregister = "agent.RxAgent.Unregister"

	// rxFrameBufSize is the per-burst scratch buffer size: large enough
	// for any Ethernet frame this module will ever see.
	rxFrameBufSize = 2048
)

type rxTask struct {
	dev   *netdev.Device
	queue uint16
}

type rxKey [2]uint16 // {port, queue}

// RxAgent is a single pinned poll loop serving every registered
// (port, queue) pair, demultiplexing parsed UDP packets into the fd
// table's per-socket mailboxes.
type RxAgent struct {
	mu      sync.Mutex
	running bool
	tasks   map[rxKey]rxTask
	cancel  context.CancelFunc
	done    chan struct{}

	mailboxes *sock.Table
	frags     *fragment.Table
	pool      *mempool.Mempool
	observer  interfaces.Observer
	logger    *logging.Logger
}

// NewRxAgent constructs an RxAgent. mailboxes and frags are typically
// the process-wide singletons shared with the UdpSocket API.
func NewRxAgent(mailboxes *sock.Table, frags *fragment.Table, observer interfaces.Observer, logger *logging.Logger) *RxAgent {
	if logger == nil {
		logger = logging.Default()
	}
	return &RxAgent{
		tasks:     make(map[rxKey]rxTask),
		mailboxes: mailboxes,
		frags:     frags,
		observer:  observer,
		logger:    logger,
	}
}

// Start launches the poll loop, pinned to cpuAffinity if non-empty. It
// is an error to Start an already-running agent.
func (a *RxAgent) Start(cpuAffinity []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return kerrors.New(opRxStart, kerrors.CodeAlready, "RxAgent already started")
	}

	pool, err := newFramePool("rx")
	if err != nil {
		return kerrors.Wrap(opRxStart, err)
	}
	a.pool = pool

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go a.ioLoop(ctx, cpuAffinity, a.done)
	return nil
}

// Stop halts the poll loop and waits for it to exit.
func (a *RxAgent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return kerrors.New(opRxStop, kerrors.CodeNotStart, "RxAgent not started")
	}
	cancel := a.cancel
	done := a.done
	a.running = false
	a.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Register adds (dev, queue) to the set of sources this agent polls.
// It fails with CodeNotStart if the agent has not been started, and
// CodeAlready if the pair is already registered.
func (a *RxAgent) Register(dev *netdev.Device, queue uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return kerrors.New(opRxRegister, kerrors.CodeNotStart, "RxAgent not started")
	}
	key := rxKey{dev.ID(), queue}
	if _, exists := a.tasks[key]; exists {
		return kerrors.New(opRxRegister, kerrors.CodeAlready, "port/queue already registered")
	}
	a.tasks[key] = rxTask{dev: dev, queue: queue}
	return nil
}

// Unregister removes (port, queue) from the polled set. It fails with
// CodeNotStart if the agent has not been started, and CodeNotExist if
// the pair was never registered.
func (a *RxAgent) Unregister(port, queue uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return kerrors.New(opRxUnregister, kerrors.CodeNotStart, "RxAgent not started")
	}
	key := rxKey{port, queue}
	if _, exists := a.tasks[key]; !exists {
		return kerrors.New(opRxUnregister, kerrors.CodeNotExist, "port/queue not registered")
	}
	delete(a.tasks, key)
	return nil
}

func (a *RxAgent) snapshotTasks() []rxTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]rxTask, 0, len(a.tasks))
	for _, t := range a.tasks {
		out = append(out, t)
	}
	return out
}

func (a *RxAgent) ioLoop(ctx context.Context, cpuAffinity []int, done chan<- struct{}) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(cpuAffinity) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, cpu := range cpuAffinity {
			set.Set(cpu)
		}
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			a.logger.Warn("failed to set RxAgent CPU affinity", "error", err)
		}
	}

	frameBufs := make([][]byte, constants.MaxPktBurst)
	for i := range frameBufs {
		frameBufs[i] = make([]byte, rxFrameBufSize)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tasks := a.snapshotTasks()
		a.frags.Tick(time.Now())
		if len(tasks) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		for _, task := range tasks {
			scratch := make([][]byte, len(frameBufs))
			for i := range scratch {
				scratch[i] = frameBufs[i][:rxFrameBufSize]
			}
			n, err := task.dev.RxBurst(task.queue, scratch)
			if err != nil {
				a.observer.ObserveDrop("rx_burst_error")
				continue
			}
			for i := 0; i < n; i++ {
				a.handleFrame(scratch[i], task.dev.ID(), task.queue)
			}
		}
	}
}

func (a *RxAgent) handleFrame(frame []byte, port, queue uint16) {
	start := time.Now()
	pf, err := ether.ParseEthernet(frame)
	if err != nil {
		a.observer.ObserveDrop("parse_error")
		return
	}

	var l3 packet.L3Protocol
	var srcPort, dstPort uint16
	var appData []byte

	switch {
	case pf.L3Protocol == ether.L3IPv4 && (pf.MoreFragments || pf.FragOffset != 0):
		key := fragment.Key{SrcIP: pf.SrcIP.String(), DstIP: pf.DstIP.String(), ID: pf.ID, Proto: constants.IPProtoUDP}
		reassembled, ferr := a.frags.Insert(key, int(pf.FragOffset), pf.Payload, pf.MoreFragments)
		if ferr != nil {
			a.observer.ObserveDrop("reassembly_table_full")
			return
		}
		if reassembled == nil {
			return // need more fragments
		}
		if len(reassembled) < constants.UDPHdrLen {
			a.observer.ObserveDrop("reassembled_too_short")
			return
		}
		srcPort = binary.BigEndian.Uint16(reassembled[0:2])
		dstPort = binary.BigEndian.Uint16(reassembled[4:6])
		appData = reassembled[constants.UDPHdrLen:]
		l3 = packet.L3IPv4
		a.observer.ObserveReassembly(uint64(time.Since(start).Nanoseconds()), true)
	case pf.L3Protocol == ether.L3IPv4 && pf.L4Protocol == ether.L4UDP:
		// IPv6 is parsed (for SrcMAC/DstMAC/L3Protocol bookkeeping and
		// metrics) but never routed to a socket mailbox: reassembly and
		// delivery are IPv4-only.
		srcPort = pf.SrcPort
		dstPort = pf.DstPort
		appData = pf.Payload
		l3 = pf.L3Protocol
	default:
		a.observer.ObserveDrop("unsupported_protocol")
		return
	}

	fd, ok := a.mailboxes.FdForPort(dstPort)
	if !ok {
		a.observer.ObserveDrop("no_listener")
		return
	}
	mb := a.mailboxes.Mailbox(fd)
	if mb == nil {
		a.observer.ObserveDrop("no_listener")
		return
	}

	m, err := mbuf.New(a.pool)
	if err != nil {
		a.observer.ObserveDrop("mempool_exhausted")
		return
	}
	// A reassembled datagram can exceed one segment; spill into a chain.
	for seg, rest := m, appData; ; {
		n := min(len(rest), seg.Tailroom())
		body, _ := m.Append(n)
		copy(body, rest[:n])
		if rest = rest[n:]; len(rest) == 0 {
			break
		}
		if seg, err = mbuf.New(a.pool); err != nil {
			m.Free()
			a.observer.ObserveDrop("mempool_exhausted")
			return
		}
		m.Chain(seg)
	}
	m.SetPacketType(mbuf.PacketType{L3: uint32(l3), L4: uint32(packet.L4UDP)})
	pkt := packet.FromMbuf(m)
	m.Free()

	peer := sock.Addr{IP: pf.SrcIP, Port: srcPort}
	delivered := mb.Put(sock.Msg{Peer: peer, Pkt: pkt})
	a.observer.ObserveRx(uint64(len(frame)), uint64(time.Since(start).Nanoseconds()), delivered)
	if !delivered {
		a.observer.ObserveDrop("mailbox_full")
	}
}


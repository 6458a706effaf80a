package agent

import (
	"context"
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/internal/ether"
	"github.com/brennanlowe/kbnet/internal/interfaces"
	"github.com/brennanlowe/kbnet/internal/logging"
	"github.com/brennanlowe/kbnet/kerrors"
	"github.com/brennanlowe/kbnet/mbuf"
	"github.com/brennanlowe/kbnet/mempool"
	"github.com/brennanlowe/kbnet/netdev"
)

const (
	opTxStart      = "agent.TxAgent.Start"
	opTxStop       = "agent.TxAgent.Stop"
	opTxRegister   = "agent.TxAgent.Register"
	opTxUnregister = "agent.TxAgent.Unregister"
	opTxSend       = "agent.TxAgent.Send"
)

type txKey [2]uint16 // {port, queue}

type txTask struct {
	dev *netdev.Device
	buf *TxBuffer
}

// TxAgent is a single pinned poll loop that drains one bounded outbound
// buffer per registered (port, queue) pair, frames (and, if the payload
// does not fit the device's MTU, fragments) each job, and hands the
// resulting frames to that pair's device, mirroring RxAgent's
// (port, queue) keying on the transmit side.
type TxAgent struct {
	mu      sync.Mutex
	running bool
	tasks   map[txKey]*txTask
	cancel  context.CancelFunc
	done    chan struct{}

	bufCap   int
	pool     *mempool.Mempool
	observer interfaces.Observer
	logger   *logging.Logger
}

// NewTxAgent constructs a TxAgent. bufCap bounds each (port, queue)
// pair's outbound buffer; <= 0 defaults to constants.TxChanCapacity.
func NewTxAgent(bufCap int, observer interfaces.Observer, logger *logging.Logger) *TxAgent {
	if logger == nil {
		logger = logging.Default()
	}
	if bufCap <= 0 {
		bufCap = constants.TxChanCapacity
	}
	return &TxAgent{
		tasks:    make(map[txKey]*txTask),
		bufCap:   bufCap,
		observer: observer,
		logger:   logger,
	}
}

// Start launches the poll loop, pinned to cpuAffinity if non-empty.
func (a *TxAgent) Start(cpuAffinity []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return kerrors.New(opTxStart, kerrors.CodeAlready, "TxAgent already started")
	}

	pool, err := newFramePool("tx")
	if err != nil {
		return kerrors.Wrap(opTxStart, err)
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
func (a *TxAgent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return kerrors.New(opTxStop, kerrors.CodeNotStart, "TxAgent not started")
	}
	cancel := a.cancel
	done := a.done
	a.running = false
	a.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Register adds (dev, queue) as a transmit target with its own bounded
// buffer. It fails with CodeNotStart if the agent has not been started,
// and CodeAlready if the pair is already registered.
func (a *TxAgent) Register(dev *netdev.Device, queue uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return kerrors.New(opTxRegister, kerrors.CodeNotStart, "TxAgent not started")
	}
	key := txKey{dev.ID(), queue}
	if _, exists := a.tasks[key]; exists {
		return kerrors.New(opTxRegister, kerrors.CodeAlready, "port/queue already registered")
	}
	a.tasks[key] = &txTask{dev: dev, buf: NewTxBuffer(a.bufCap)}
	return nil
}

// Unregister removes (port, queue) as a transmit target. It fails with
// CodeNotStart if the agent has not been started, and CodeNotExist if
// the pair was never registered.
func (a *TxAgent) Unregister(port, queue uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return kerrors.New(opTxUnregister, kerrors.CodeNotStart, "TxAgent not started")
	}
	key := txKey{port, queue}
	if _, exists := a.tasks[key]; !exists {
		return kerrors.New(opTxUnregister, kerrors.CodeNotExist, "port/queue not registered")
	}
	delete(a.tasks, key)
	return nil
}

// Send queues payload for transmission on (port, queue), addressed from
// (srcMAC, srcIP, srcPort) to (dstMAC, dstIP, dstPort). It returns
// CodeNotStart if the agent is not running, CodeNotExist if (port, queue)
// is not registered, and CodeNoBuf if that pair's outbound buffer is full.
func (a *TxAgent) Send(port, queue uint16, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) error {
	a.mu.Lock()
	running := a.running
	task, exists := a.tasks[txKey{port, queue}]
	a.mu.Unlock()

	if !running {
		return kerrors.New(opTxSend, kerrors.CodeNotStart, "TxAgent not started")
	}
	if !exists {
		return kerrors.NewQueueError(opTxSend, int(port), int(queue), kerrors.CodeNotExist, "port/queue not registered")
	}

	body := make([]byte, len(payload))
	copy(body, payload)
	job := txJob{
		port: port, queue: queue,
		srcMAC: srcMAC, dstMAC: dstMAC,
		srcIP: srcIP, dstIP: dstIP,
		srcPort: srcPort, dstPort: dstPort,
		payload: body,
	}
	if !task.buf.push(job) {
		return kerrors.NewQueueError(opTxSend, int(port), int(queue), kerrors.CodeNoBuf, "tx buffer full")
	}
	return nil
}

func (a *TxAgent) snapshotTasks() map[txKey]*txTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[txKey]*txTask, len(a.tasks))
	for k, t := range a.tasks {
		out[k] = t
	}
	return out
}

func (a *TxAgent) ioLoop(ctx context.Context, cpuAffinity []int, done chan<- struct{}) {
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
			a.logger.Warn("failed to set TxAgent CPU affinity", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tasks := a.snapshotTasks()
		if len(tasks) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		idle := true
		for key, task := range tasks {
			jobs := task.buf.drain(constants.MaxPktBurst)
			if len(jobs) == 0 {
				continue
			}
			idle = false
			a.flush(key, task.dev, jobs)
		}
		if idle {
			time.Sleep(time.Millisecond)
		}
	}
}

func (a *TxAgent) flush(key txKey, dev *netdev.Device, jobs []txJob) {
	mtu := dev.MTU()
	if mtu <= 0 {
		mtu = constants.MTU
	}

	var frames [][]byte
	var chains []*mbuf.Mbuf
	for _, job := range jobs {
		head, jobFrames, err := ether.BuildUDPv4Fragmented(a.pool, job.srcMAC, job.dstMAC, job.srcIP, job.dstIP, job.srcPort, job.dstPort, job.payload, mtu)
		if err != nil {
			a.observer.ObserveDrop("frame_build_error")
			continue
		}
		chains = append(chains, head)
		frames = append(frames, jobFrames...)
	}
	defer func() {
		for _, head := range chains {
			head.Free()
		}
	}()
	if len(frames) == 0 {
		return
	}

	start := time.Now()
	n, err := dev.TxBurst(key[1], frames)
	elapsed := uint64(time.Since(start).Nanoseconds())
	if err != nil {
		a.observer.ObserveDrop("tx_burst_error")
		return
	}
	for i, frame := range frames {
		a.observer.ObserveTx(uint64(len(frame)), elapsed, i < n)
	}
	if n < len(frames) {
		a.observer.ObserveDrop("tx_burst_short")
	}
}

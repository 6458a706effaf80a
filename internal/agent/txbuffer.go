package agent

import (
	"net"
	"sync"

	"github.com/brennanlowe/kbnet/internal/constants"
)

// txJob is one queued outbound datagram, already addressed but not yet
// framed onto the wire.
type txJob struct {
	port, queue    uint16
	srcMAC, dstMAC net.HardwareAddr
	srcIP, dstIP   net.IP
	srcPort        uint16
	dstPort        uint16
	payload        []byte
}

// TxBuffer is a bounded mpsc-style queue of pending outbound datagrams,
// drained by TxAgent's poll loop in FIFO order. It exists as its own
// type (rather than a channel directly on TxAgent) so TxAgent can snapshot
// and bound its backlog the way RxAgent snapshots its task set.
type TxBuffer struct {
	mu    sync.Mutex
	queue []txJob
	cap   int
}

// NewTxBuffer constructs a TxBuffer with capacity defaulting to
// constants.TxBufCapacity if cap <= 0.
func NewTxBuffer(cap int) *TxBuffer {
	if cap <= 0 {
		cap = constants.TxBufCapacity
	}
	return &TxBuffer{cap: cap}
}

// push enqueues job, returning false if the buffer is full.
func (b *TxBuffer) push(job txJob) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) >= b.cap {
		return false
	}
	b.queue = append(b.queue, job)
	return true
}

// drain removes and returns up to max queued jobs in FIFO order.
func (b *TxBuffer) drain(max int) []txJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max > len(b.queue) {
		max = len(b.queue)
	}
	out := b.queue[:max]
	b.queue = b.queue[max:]
	return out
}

// Len returns the number of jobs currently queued.
func (b *TxBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Package ringdev implements an in-process loopback Driver: frames
// written to a queue's TX side become readable from the same queue's RX
// side via a buffered channel, with no real NIC involved. It is the
// default vdev for tests and the demo binary, standing in for DPDK's
// own Null/loopback PMDs named in this module's design notes.
package ringdev

import (
	"sync"

	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/kerrors"
)

const opClose = "ringdev.Close"

// Device is a loopback Driver with numQueues independent ring pairs.
type Device struct {
	mtu    int
	rings  []chan []byte
	mu     sync.Mutex
	closed bool
}

// New constructs a ringdev.Device with numQueues queues, each buffered to
// depth entries.
func New(numQueues uint16, depth int, mtu int) *Device {
	rings := make([]chan []byte, numQueues)
	for i := range rings {
		rings[i] = make(chan []byte, depth)
	}
	return &Device{mtu: mtu, rings: rings}
}

// NumQueues returns the number of ring pairs.
func (d *Device) NumQueues() uint16 { return uint16(len(d.rings)) }

// MTU returns the device's configured MTU.
func (d *Device) MTU() int { return d.mtu }

// RxBurst pops up to len(bufs) frames previously written to queue by
// TxBurst, copying each into the caller-provided buffer.
func (d *Device) RxBurst(queue uint16, bufs [][]byte) (int, error) {
	if int(queue) >= len(d.rings) {
		return 0, kerrors.New("ringdev.RxBurst", kerrors.CodeInvalidArg, "queue out of range")
	}
	ring := d.rings[queue]
	n := 0
	for n < len(bufs) {
		select {
		case frame := <-ring:
			copy(bufs[n], frame)
			bufs[n] = bufs[n][:len(frame)]
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// TxBurst pushes each frame in bufs onto queue's ring, stopping (and
// reporting how many were accepted) the moment the ring is full.
func (d *Device) TxBurst(queue uint16, bufs [][]byte) (int, error) {
	if int(queue) >= len(d.rings) {
		return 0, kerrors.New("ringdev.TxBurst", kerrors.CodeInvalidArg, "queue out of range")
	}
	ring := d.rings[queue]
	n := 0
	for _, b := range bufs {
		cp := make([]byte, len(b))
		copy(cp, b)
		select {
		case ring <- cp:
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Close marks the device closed. Queued frames are discarded.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return kerrors.New(opClose, kerrors.CodeAlready, "already closed")
	}
	d.closed = true
	for _, ring := range d.rings {
		for drained := false; !drained; {
			select {
			case <-ring:
			default:
				drained = true
			}
		}
	}
	return nil
}

// DefaultQueueDepth mirrors constants.DefaultQueueDepth as a ring depth
// for callers without a specific tuning need; New itself always uses
// the depth it is given.
const DefaultQueueDepth = constants.DefaultQueueDepth

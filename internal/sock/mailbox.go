package sock

import (
	"context"
	"sync"

	"github.com/brennanlowe/kbnet/packet"
)

// Msg pairs a received Packet with the peer address it arrived from.
type Msg struct {
	Peer Addr
	Pkt  *packet.Packet
}

// Mailbox is a bounded per-fd queue fed by RxAgent and drained by a
// socket's RecvFrom. Deliveries beyond capacity are dropped, matching
// UDP's best-effort delivery semantics rather than blocking the poll
// loop that feeds every socket in the process.
type Mailbox struct {
	mu    sync.Mutex
	queue []Msg
	cap   int
	waker chan struct{}
}

// NewMailbox constructs a Mailbox with the given bounded capacity.
func NewMailbox(capacity int) *Mailbox {
	return &Mailbox{
		cap:   capacity,
		waker: make(chan struct{}, 1),
	}
}

// Put enqueues msg, returning false if the mailbox was full and the
// message was dropped.
func (m *Mailbox) Put(msg Msg) bool {
	m.mu.Lock()
	if len(m.queue) >= m.cap {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.waker <- struct{}{}:
	default:
	}
	return true
}

// TryRecv pops the oldest queued message without blocking.
func (m *Mailbox) TryRecv() (Msg, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Msg{}, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true
}

// Recv blocks until a message is available or ctx is done.
func (m *Mailbox) Recv(ctx context.Context) (Msg, error) {
	for {
		if msg, ok := m.TryRecv(); ok {
			return msg, nil
		}
		select {
		case <-m.waker:
			continue
		case <-ctx.Done():
			return Msg{}, ctx.Err()
		}
	}
}

// Len returns the number of messages currently queued.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

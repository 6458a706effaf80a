package agent

import (
	"fmt"
	"sync/atomic"

	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/mempool"
)

var poolSeq atomic.Uint64

// newFramePool creates a uniquely named Mempool sized to hold one
// MTU-sized segment, with DefaultHeadroom to spare for a prepended
// header. RxAgent uses it to carry a parsed frame's payload into a
// Packet via FromMbuf; TxAgent uses it to lay an outbound datagram out
// as a chain of MTU-sized segments before framing and fragmenting it.
func newFramePool(prefix string) (*mempool.Mempool, error) {
	name := fmt.Sprintf("kbnet.agent.%s.%d", prefix, poolSeq.Add(1))
	eltSize := constants.DefaultHeadroom + constants.MTU
	return mempool.Create(name, constants.FramePoolSize, eltSize, 0, 0, 0, 0)
}

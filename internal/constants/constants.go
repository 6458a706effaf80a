// Package constants holds tunables shared across kbnet's internal packages.
package constants

import "time"

const (
	// MaxPktBurst is the number of packet pointers exchanged with a NIC
	// queue per rte_eth_rx_burst/rte_eth_tx_burst-style call.
	MaxPktBurst = 32

	// MTU is the largest IP packet, header included, sent on the wire
	// before egress fragmentation kicks in.
	MTU = 1500

	// EtherHdrLen is the size of an Ethernet II header (dst+src MAC, ethertype).
	EtherHdrLen = 14

	// IPv4HdrLen is the size of a (no-options) IPv4 header.
	IPv4HdrLen = 20

	// IPv6HdrLen is the size of a fixed IPv6 header.
	IPv6HdrLen = 40

	// UDPHdrLen is the size of a UDP header.
	UDPHdrLen = 8

	// IPProtoUDP is the IPv4 next_proto_id value for UDP.
	IPProtoUDP = 0x11

	// DefaultHeadroom is the headroom reserved in freshly allocated mbufs,
	// large enough to always fit a prepended Ethernet header.
	DefaultHeadroom = 128

	// FramePoolSize is the element count of the per-agent Mempool backing
	// RxAgent's FromMbuf and TxAgent's fragmentation path.
	FramePoolSize = 512

	// TxChanCapacity is the channel depth between a socket/application and
	// a TxAgent's per-(port,queue) task.
	TxChanCapacity = 256

	// TxBufCapacity is the FIFO depth of a TxBuffer.
	TxBufCapacity = 1024

	// MaxFdNum is the size of the fd table (one entry per possible socket).
	MaxFdNum = 1024

	// FragTableBucketNum is the number of hash buckets in the IPv4
	// reassembly table.
	FragTableBucketNum = 128

	// FragTableBucketEntries is the associativity (entries per bucket).
	FragTableBucketEntries = 16

	// FragTableMaxEntries bounds the total number of in-flight reassembly
	// entries (<= FragTableBucketNum * FragTableBucketEntries).
	FragTableMaxEntries = 2048

	// MailboxSize is the bounded depth of a per-fd mailbox queue.
	MailboxSize = 128

	// DefaultQueueDepth is the default number of in-flight descriptors a
	// NIC queue is configured with.
	DefaultQueueDepth = 128
)

// FragTableMaxAge is the reassembly window: entries older than this are
// evicted to the death row on every touch, or on overflow.
const FragTableMaxAge = 1 * time.Second

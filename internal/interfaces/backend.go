// Package interfaces provides internal interface definitions for kbnet.
// These are separate from the public interfaces to avoid circular imports
// between the main package and internal packages.
package interfaces

// Driver defines the interface that all NIC/vdev drivers must implement.
// It models a poll-mode burst I/O device: RxBurst/TxBurst move up to n
// raw frames per call with no blocking inside the driver itself.
type Driver interface {
	// RxBurst fills bufs with up to len(bufs) received frames and returns
	// the number actually received. A zero return is not an error; it
	// means no frames were waiting.
	RxBurst(queue uint16, bufs [][]byte) (n int, err error)

	// TxBurst attempts to transmit every frame in bufs and returns the
	// number actually accepted by the device. Frames beyond the returned
	// count were not sent and remain the caller's responsibility.
	TxBurst(queue uint16, bufs [][]byte) (n int, err error)

	NumQueues() uint16
	MTU() int
	Close() error
}

// Logger interface for optional logging.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for metrics collection.
// Implementations must be thread-safe as methods are called from the
// RxAgent/TxAgent poll loops.
type Observer interface {
	ObserveRx(bytes uint64, latencyNs uint64, success bool)
	ObserveTx(bytes uint64, latencyNs uint64, success bool)
	ObserveDrop(reason string)
	ObserveReassembly(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}

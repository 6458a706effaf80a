// Package nulldev implements a Driver that discards everything handed to
// TxBurst and never has anything to receive, mirroring DPDK's own Null
// PMD. It exists to benchmark RxAgent/TxAgent's own overhead in
// isolation from any real or simulated wire.
package nulldev

// Device is a Driver that accepts every TxBurst and never yields an
// RxBurst.
type Device struct {
	numQueues uint16
	mtu       int
	txCount   uint64
}

// New constructs a nulldev.Device with the given queue count and MTU.
func New(numQueues uint16, mtu int) *Device {
	return &Device{numQueues: numQueues, mtu: mtu}
}

// NumQueues returns the configured queue count.
func (d *Device) NumQueues() uint16 { return d.numQueues }

// MTU returns the configured MTU.
func (d *Device) MTU() int { return d.mtu }

// RxBurst always reports zero frames received.
func (d *Device) RxBurst(uint16, [][]byte) (int, error) {
	return 0, nil
}

// TxBurst accepts every frame in bufs without looking at its contents.
func (d *Device) TxBurst(_ uint16, bufs [][]byte) (int, error) {
	d.txCount += uint64(len(bufs))
	return len(bufs), nil
}

// TxCount returns the cumulative number of frames accepted by TxBurst,
// for benchmarks that want a sanity check on throughput.
func (d *Device) TxCount() uint64 { return d.txCount }

// Close is a no-op; nulldev holds no resources.
func (d *Device) Close() error { return nil }

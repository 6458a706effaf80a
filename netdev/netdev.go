// Package netdev is kbnet's NIC/vdev facade: Device wraps a poll-mode
// burst I/O driver (a real NIC binding or one of the vdev backends under
// netdev/ringdev, netdev/nulldev, netdev/rawdev) behind one stable API
// that RxAgent and TxAgent drive without caring which backend it is.
package netdev

import (
	"github.com/brennanlowe/kbnet/internal/interfaces"
	"github.com/brennanlowe/kbnet/kerrors"
)

const (
	opRxBurst = "netdev.RxBurst"
	opTxBurst = "netdev.TxBurst"
)

// Device is a configured NIC or vdev, identified by a port id within the
// process.
type Device struct {
	id     uint16
	name   string
	driver interfaces.Driver
}

// New wraps driver as port id with the given diagnostic name.
func New(id uint16, name string, driver interfaces.Driver) *Device {
	return &Device{id: id, name: name, driver: driver}
}

// ID returns the device's port id.
func (d *Device) ID() uint16 { return d.id }

// Name returns the device's diagnostic name.
func (d *Device) Name() string { return d.name }

// NumQueues returns the number of RX/TX queue pairs the device exposes.
func (d *Device) NumQueues() uint16 { return d.driver.NumQueues() }

// MTU returns the device's maximum transmission unit in bytes.
func (d *Device) MTU() int { return d.driver.MTU() }

// RxBurst receives up to len(bufs) frames on queue into bufs.
func (d *Device) RxBurst(queue uint16, bufs [][]byte) (int, error) {
	n, err := d.driver.RxBurst(queue, bufs)
	if err != nil {
		return n, kerrors.NewQueueError(opRxBurst, int(d.id), int(queue), kerrors.CodeIOError, err.Error())
	}
	return n, nil
}

// TxBurst transmits as many of bufs as the device will accept on queue.
func (d *Device) TxBurst(queue uint16, bufs [][]byte) (int, error) {
	n, err := d.driver.TxBurst(queue, bufs)
	if err != nil {
		return n, kerrors.NewQueueError(opTxBurst, int(d.id), int(queue), kerrors.CodeIOError, err.Error())
	}
	return n, nil
}

// Close releases the underlying driver's resources.
func (d *Device) Close() error {
	return d.driver.Close()
}

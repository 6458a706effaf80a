//go:build linux

// Package rawdev implements a Driver over an AF_PACKET raw socket bound
// to a real Linux interface. It is the one vdev backend in this module
// that actually touches hardware, standing in for a full NIC poll-mode
// driver binding without requiring DPDK's EAL/hugepage bring-up.
package rawdev

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/brennanlowe/kbnet/kerrors"
)

const (
	opOpen    = "rawdev.Open"
	opRxBurst = "rawdev.RxBurst"
	opTxBurst = "rawdev.TxBurst"
	opClose   = "rawdev.Close"
)

// Device is a single-queue Driver backed by one AF_PACKET raw socket.
// Linux raw sockets have no notion of multiple hardware queues, so
// NumQueues is always 1; RxBurst/TxBurst ignore their queue argument
// beyond validating it is 0.
type Device struct {
	fd     int
	ifName string
	ifidx  int
	mtu    int
}

// Open binds a raw socket to ifName, which must already exist (e.g. a
// veth peer or physical NIC), and returns a Driver over it.
func Open(ifName string, mtu int) (*Device, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(unix.ETH_P_ALL))
	if err != nil {
		return nil, kerrors.NewWithErrno(opOpen, kerrors.CodeIOError, err.(unix.Errno))
	}

	iface, err := ifaceByName(ifName)
	if err != nil {
		_ = unix.Close(fd)
		return nil, kerrors.Wrap(opOpen, err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface,
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, kerrors.NewWithErrno(opOpen, kerrors.CodeIOError, err.(unix.Errno))
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, kerrors.NewWithErrno(opOpen, kerrors.CodeIOError, err.(unix.Errno))
	}

	return &Device{fd: fd, ifName: ifName, ifidx: iface, mtu: mtu}, nil
}

// NumQueues always returns 1: AF_PACKET exposes one RX/TX path.
func (d *Device) NumQueues() uint16 { return 1 }

// MTU returns the device's configured MTU.
func (d *Device) MTU() int { return d.mtu }

// RxBurst performs up to len(bufs) non-blocking reads from the socket,
// stopping at the first EAGAIN/EWOULDBLOCK.
func (d *Device) RxBurst(queue uint16, bufs [][]byte) (int, error) {
	if queue != 0 {
		return 0, kerrors.New(opRxBurst, kerrors.CodeInvalidArg, "rawdev has a single queue")
	}
	n := 0
	for n < len(bufs) {
		read, _, err := unix.Recvfrom(d.fd, bufs[n], 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return n, kerrors.NewWithErrno(opRxBurst, kerrors.CodeIOError, err.(unix.Errno))
		}
		bufs[n] = bufs[n][:read]
		n++
	}
	return n, nil
}

// TxBurst writes each frame in bufs to the socket, stopping (and
// reporting the short count) at the first EAGAIN/EWOULDBLOCK.
func (d *Device) TxBurst(queue uint16, bufs [][]byte) (int, error) {
	if queue != 0 {
		return 0, kerrors.New(opTxBurst, kerrors.CodeInvalidArg, "rawdev has a single queue")
	}
	addr := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: d.ifidx}
	n := 0
	for _, b := range bufs {
		if err := unix.Sendto(d.fd, b, 0, addr); err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return n, kerrors.NewWithErrno(opTxBurst, kerrors.CodeIOError, err.(unix.Errno))
		}
		n++
	}
	return n, nil
}

// Close releases the raw socket fd.
func (d *Device) Close() error {
	if err := unix.Close(d.fd); err != nil {
		return kerrors.NewWithErrno(opClose, kerrors.CodeIOError, err.(unix.Errno))
	}
	return nil
}

func ifaceByName(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return iface.Index, nil
}

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

package netdev

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	numQueues uint16
	mtu       int
}

func (f *fakeDriver) RxBurst(uint16, [][]byte) (int, error) { return 0, nil }
func (f *fakeDriver) TxBurst(uint16, [][]byte) (int, error) { return 0, nil }
func (f *fakeDriver) NumQueues() uint16                     { return f.numQueues }
func (f *fakeDriver) MTU() int                              { return f.mtu }
func (f *fakeDriver) Close() error                          { return nil }

func TestSingleDeviceRouterAlwaysReturnsItsDevice(t *testing.T) {
	dev := New(0, "eth0", &fakeDriver{numQueues: 1, mtu: 1500})
	r := NewSingleDeviceRouter(dev)

	got, err := r.RouteFor(net.ParseIP("8.8.8.8"))
	require.NoError(t, err)
	require.Same(t, dev, got)
}

func TestTableRouterMatchesFirstCIDR(t *testing.T) {
	devA := New(0, "eth0", &fakeDriver{numQueues: 1, mtu: 1500})
	devB := New(1, "eth1", &fakeDriver{numQueues: 1, mtu: 1500})

	_, cidrA, _ := net.ParseCIDR("10.0.0.0/24")
	_, cidrB, _ := net.ParseCIDR("192.168.0.0/16")

	r := NewTableRouter([]CIDRRoute{
		{Net: cidrA, Dev: devA},
		{Net: cidrB, Dev: devB},
	}, nil)

	got, err := r.RouteFor(net.ParseIP("10.0.0.5"))
	require.NoError(t, err)
	require.Same(t, devA, got)

	got, err = r.RouteFor(net.ParseIP("192.168.1.1"))
	require.NoError(t, err)
	require.Same(t, devB, got)
}

func TestTableRouterFallsBackToDefault(t *testing.T) {
	devA := New(0, "eth0", &fakeDriver{numQueues: 1, mtu: 1500})
	devDefault := New(1, "eth1", &fakeDriver{numQueues: 1, mtu: 1500})

	_, cidrA, _ := net.ParseCIDR("10.0.0.0/24")
	r := NewTableRouter([]CIDRRoute{{Net: cidrA, Dev: devA}}, devDefault)

	got, err := r.RouteFor(net.ParseIP("172.16.0.1"))
	require.NoError(t, err)
	require.Same(t, devDefault, got)
}

func TestTableRouterErrorsWithNoDefault(t *testing.T) {
	_, cidrA, _ := net.ParseCIDR("10.0.0.0/24")
	devA := New(0, "eth0", &fakeDriver{numQueues: 1, mtu: 1500})
	r := NewTableRouter([]CIDRRoute{{Net: cidrA, Dev: devA}}, nil)

	_, err := r.RouteFor(net.ParseIP("172.16.0.1"))
	require.Error(t, err)
}

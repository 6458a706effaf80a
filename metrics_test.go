package kbnet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecordRxTx(t *testing.T) {
	m := NewMetrics()
	m.RecordRx(100, 5_000, true)
	m.RecordRx(0, 1_000, false)
	m.RecordTx(200, 2_000, true)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.RxOps)
	require.Equal(t, uint64(1), snap.RxErrors)
	require.Equal(t, uint64(100), snap.RxBytes)
	require.Equal(t, uint64(1), snap.TxOps)
	require.Equal(t, uint64(200), snap.TxBytes)
	require.Equal(t, uint64(3), snap.TotalOps)
}

func TestMetricsRecordDropAndDropRate(t *testing.T) {
	m := NewMetrics()
	m.RecordRx(10, 1_000, true)
	m.RecordRx(10, 1_000, true)
	m.RecordDrop()

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.Drops)
	require.InDelta(t, 50.0, snap.DropRate, 0.01)
}

func TestMetricsRecordReassembly(t *testing.T) {
	m := NewMetrics()
	m.RecordReassembly(500, true)
	m.RecordReassembly(500, false)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.ReassemblyOps)
	require.Equal(t, uint64(1), snap.ReassemblyErrors)
}

func TestMetricsQueueDepthTracksMax(t *testing.T) {
	m := NewMetrics()
	m.RecordQueueDepth(4)
	m.RecordQueueDepth(10)
	m.RecordQueueDepth(2)

	snap := m.Snapshot()
	require.Equal(t, uint32(10), snap.MaxQueueDepth)
	require.InDelta(t, float64(16)/3, snap.AvgQueueDepth, 0.01)
}

func TestMetricsLatencyHistogramBuckets(t *testing.T) {
	m := NewMetrics()
	m.RecordRx(10, 500, true)    // bucket 0 (<=1us)
	m.RecordRx(10, 50_000, true) // bucket 2 (<=100us)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.LatencyHistogram[0])
	require.Equal(t, uint64(2), snap.LatencyHistogram[2])
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRx(10, 1_000, true)
	m.RecordDrop()
	m.Reset()

	snap := m.Snapshot()
	require.Zero(t, snap.RxOps)
	require.Zero(t, snap.Drops)
}

func TestNoOpObserverDiscardsEverything(t *testing.T) {
	var o NoOpObserver
	o.ObserveRx(10, 100, true)
	o.ObserveTx(10, 100, true)
	o.ObserveDrop("test")
	o.ObserveReassembly(100, true)
	o.ObserveQueueDepth(5)
}

func TestMetricsObserverUpdatesUnderlyingMetrics(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)
	obs.ObserveRx(64, 1_000, true)
	obs.ObserveDrop("mailbox_full")

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.RxOps)
	require.Equal(t, uint64(1), snap.Drops)
	require.Len(t, obs.Collectors(), 7)
}

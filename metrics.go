package kbnet

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brennanlowe/kbnet/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks rx/tx/drop/reassembly statistics for a running kbnet
// instance, mirroring the teacher's atomic-counter + latency-histogram
// Metrics but retargeted from block I/O ops to datagram ops.
type Metrics struct {
	RxOps  atomic.Uint64
	TxOps  atomic.Uint64
	RxBytes atomic.Uint64
	TxBytes atomic.Uint64

	RxErrors atomic.Uint64
	TxErrors atomic.Uint64
	Drops    atomic.Uint64

	ReassemblyOps     atomic.Uint64
	ReassemblyErrors  atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new Metrics instance with its start time recorded.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordRx records a received-datagram event.
func (m *Metrics) RecordRx(bytes, latencyNs uint64, success bool) {
	m.RxOps.Add(1)
	if success {
		m.RxBytes.Add(bytes)
	} else {
		m.RxErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordTx records a transmitted-datagram event.
func (m *Metrics) RecordTx(bytes, latencyNs uint64, success bool) {
	m.TxOps.Add(1)
	if success {
		m.TxBytes.Add(bytes)
	} else {
		m.TxErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordDrop records a dropped packet, regardless of stage.
func (m *Metrics) RecordDrop() {
	m.Drops.Add(1)
}

// RecordReassembly records a fragment reassembly completion.
func (m *Metrics) RecordReassembly(latencyNs uint64, success bool) {
	m.ReassemblyOps.Add(1)
	if !success {
		m.ReassemblyErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records a queue-depth sample.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// Stop marks the metrics as stopped, freezing uptime calculations.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	RxOps, TxOps     uint64
	RxBytes, TxBytes uint64
	RxErrors, TxErrors uint64
	Drops              uint64
	ReassemblyOps      uint64
	ReassemblyErrors   uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RxPps, TxPps           float64
	RxBandwidth, TxBandwidth float64
	TotalOps, TotalBytes   uint64
	DropRate               float64
}

// Snapshot returns a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RxOps:            m.RxOps.Load(),
		TxOps:            m.TxOps.Load(),
		RxBytes:          m.RxBytes.Load(),
		TxBytes:          m.TxBytes.Load(),
		RxErrors:         m.RxErrors.Load(),
		TxErrors:         m.TxErrors.Load(),
		Drops:            m.Drops.Load(),
		ReassemblyOps:    m.ReassemblyOps.Load(),
		ReassemblyErrors: m.ReassemblyErrors.Load(),
		MaxQueueDepth:    m.MaxQueueDepth.Load(),
	}
	snap.TotalOps = snap.RxOps + snap.TxOps
	snap.TotalBytes = snap.RxBytes + snap.TxBytes

	if count := m.QueueDepthCount.Load(); count > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(count)
	}
	if opCount := m.OpCount.Load(); opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}
	if snap.UptimeNs > 0 {
		seconds := float64(snap.UptimeNs) / 1e9
		snap.RxPps = float64(snap.RxOps) / seconds
		snap.TxPps = float64(snap.TxOps) / seconds
		snap.RxBandwidth = float64(snap.RxBytes) / seconds
		snap.TxBandwidth = float64(snap.TxBytes) / seconds
	}
	if snap.TotalOps > 0 {
		snap.DropRate = float64(snap.Drops) / float64(snap.TotalOps) * 100.0
	}
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// Reset zeroes every counter, for test isolation.
func (m *Metrics) Reset() {
	m.RxOps.Store(0)
	m.TxOps.Store(0)
	m.RxBytes.Store(0)
	m.TxBytes.Store(0)
	m.RxErrors.Store(0)
	m.TxErrors.Store(0)
	m.Drops.Store(0)
	m.ReassemblyOps.Store(0)
	m.ReassemblyErrors.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := range m.LatencyBuckets {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver implements interfaces.Observer over a Metrics instance
// and additionally exposes the same counts as Prometheus metrics, so a
// process embedding kbnet can register it with its own
// prometheus.Registry without running a separate collector.
type MetricsObserver struct {
	metrics *Metrics

	promRxPackets  prometheus.Counter
	promTxPackets  prometheus.Counter
	promRxBytes    prometheus.Counter
	promTxBytes    prometheus.Counter
	promDrops      *prometheus.CounterVec
	promReassembly prometheus.Counter
	promQueueDepth prometheus.Gauge
}

// NewMetricsObserver creates an Observer that records into m and exposes
// Prometheus collectors under the "kbnet" namespace.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{
		metrics: m,
		promRxPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbnet", Name: "rx_packets_total", Help: "Total datagrams received.",
		}),
		promTxPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbnet", Name: "tx_packets_total", Help: "Total datagrams transmitted.",
		}),
		promRxBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbnet", Name: "rx_bytes_total", Help: "Total bytes received.",
		}),
		promTxBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbnet", Name: "tx_bytes_total", Help: "Total bytes transmitted.",
		}),
		promDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbnet", Name: "drops_total", Help: "Total dropped packets by reason.",
		}, []string{"reason"}),
		promReassembly: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbnet", Name: "reassembly_completions_total", Help: "Total fragment reassemblies completed.",
		}),
		promQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbnet", Name: "queue_depth", Help: "Most recently observed queue depth.",
		}),
	}
}

// Collectors returns every Prometheus collector this observer owns, for
// registration with a caller-supplied prometheus.Registerer.
func (o *MetricsObserver) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		o.promRxPackets, o.promTxPackets, o.promRxBytes, o.promTxBytes,
		o.promDrops, o.promReassembly, o.promQueueDepth,
	}
}

func (o *MetricsObserver) ObserveRx(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordRx(bytes, latencyNs, success)
	if success {
		o.promRxPackets.Inc()
		o.promRxBytes.Add(float64(bytes))
	}
}

func (o *MetricsObserver) ObserveTx(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordTx(bytes, latencyNs, success)
	if success {
		o.promTxPackets.Inc()
		o.promTxBytes.Add(float64(bytes))
	}
}

func (o *MetricsObserver) ObserveDrop(reason string) {
	o.metrics.RecordDrop()
	o.promDrops.WithLabelValues(reason).Inc()
}

func (o *MetricsObserver) ObserveReassembly(latencyNs uint64, success bool) {
	o.metrics.RecordReassembly(latencyNs, success)
	if success {
		o.promReassembly.Inc()
	}
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
	o.promQueueDepth.Set(float64(depth))
}

// NoOpObserver discards every observation; the zero value is ready to use.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRx(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveTx(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveDrop(string)              {}
func (NoOpObserver) ObserveReassembly(uint64, bool)  {}
func (NoOpObserver) ObserveQueueDepth(uint32)        {}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)

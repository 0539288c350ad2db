package rcp

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics accumulates router-wide counters with atomics so the hot-path
// Read/Write loops never contend on a mutex just to bump a counter, and
// exposes them to Prometheus through a custom Collector — the same
// Describe/Collect split used by the TCPInfoCollector this is grounded on.
type metrics struct {
	sessionsActiveClient atomic.Int64
	sessionsActiveServer atomic.Int64

	packetsSent           atomic.Uint64
	packetsRetransmitted  atomic.Uint64
	packetsReceived       atomic.Uint64
	packetsDroppedMalform atomic.Uint64
	packetsDroppedWindow  atomic.Uint64
	packetsDroppedUnknown atomic.Uint64

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

func newMetrics() *metrics { return &metrics{} }

func (m *metrics) sessionOpened(isClient bool) {
	if m == nil {
		return
	}
	if isClient {
		m.sessionsActiveClient.Add(1)
	} else {
		m.sessionsActiveServer.Add(1)
	}
}

func (m *metrics) sessionClosed(isClient bool) {
	if m == nil {
		return
	}
	if isClient {
		m.sessionsActiveClient.Add(-1)
	} else {
		m.sessionsActiveServer.Add(-1)
	}
}

func (m *metrics) recordSend(n int, retransmit bool) {
	if m == nil {
		return
	}
	m.packetsSent.Add(1)
	m.bytesSent.Add(uint64(n))
	if retransmit {
		m.packetsRetransmitted.Add(1)
	}
}

func (m *metrics) recordReceive(n int) {
	if m == nil {
		return
	}
	m.packetsReceived.Add(1)
	m.bytesReceived.Add(uint64(n))
}

func (m *metrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	switch reason {
	case "malformed":
		m.packetsDroppedMalform.Add(1)
	case "out_of_window":
		m.packetsDroppedWindow.Add(1)
	default:
		m.packetsDroppedUnknown.Add(1)
	}
}

var (
	descSessionsActive = prometheus.NewDesc(
		"rcp_sessions_active", "Number of live RCP sessions.",
		[]string{"role"}, nil,
	)
	descPacketsSent = prometheus.NewDesc(
		"rcp_packets_sent_total", "RCP packets transmitted.", nil, nil,
	)
	descPacketsRetransmitted = prometheus.NewDesc(
		"rcp_packets_retransmitted_total", "RCP data packets retransmitted.", nil, nil,
	)
	descPacketsReceived = prometheus.NewDesc(
		"rcp_packets_received_total", "RCP packets received (decoded successfully).", nil, nil,
	)
	descPacketsDropped = prometheus.NewDesc(
		"rcp_packets_dropped_total", "RCP datagrams dropped as malformed, from an unknown peer, or by a session as out-of-window or duplicate.",
		[]string{"reason"}, nil,
	)
	descBytesSent = prometheus.NewDesc(
		"rcp_bytes_sent_total", "RCP frame bytes transmitted, all packet types, headers included.", nil, nil,
	)
	descBytesReceived = prometheus.NewDesc(
		"rcp_bytes_received_total", "RCP frame bytes received and decoded, all packet types, headers included.", nil, nil,
	)
)

// rcpCollector implements prometheus.Collector over one Router's *metrics,
// mirroring exporter.TCPInfoCollector's Describe/Collect split: Describe
// only emits static descriptors, Collect snapshots live atomics.
type rcpCollector struct {
	m *metrics
}

func (c *rcpCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descSessionsActive
	ch <- descPacketsSent
	ch <- descPacketsRetransmitted
	ch <- descPacketsReceived
	ch <- descPacketsDropped
	ch <- descBytesSent
	ch <- descBytesReceived
}

func (c *rcpCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descSessionsActive, prometheus.GaugeValue,
		float64(c.m.sessionsActiveClient.Load()), "client")
	ch <- prometheus.MustNewConstMetric(descSessionsActive, prometheus.GaugeValue,
		float64(c.m.sessionsActiveServer.Load()), "server")
	ch <- prometheus.MustNewConstMetric(descPacketsSent, prometheus.CounterValue,
		float64(c.m.packetsSent.Load()))
	ch <- prometheus.MustNewConstMetric(descPacketsRetransmitted, prometheus.CounterValue,
		float64(c.m.packetsRetransmitted.Load()))
	ch <- prometheus.MustNewConstMetric(descPacketsReceived, prometheus.CounterValue,
		float64(c.m.packetsReceived.Load()))
	ch <- prometheus.MustNewConstMetric(descPacketsDropped, prometheus.CounterValue,
		float64(c.m.packetsDroppedMalform.Load()), "malformed")
	ch <- prometheus.MustNewConstMetric(descPacketsDropped, prometheus.CounterValue,
		float64(c.m.packetsDroppedWindow.Load()), "out_of_window")
	ch <- prometheus.MustNewConstMetric(descPacketsDropped, prometheus.CounterValue,
		float64(c.m.packetsDroppedUnknown.Load()), "unknown_peer")
	ch <- prometheus.MustNewConstMetric(descBytesSent, prometheus.CounterValue,
		float64(c.m.bytesSent.Load()))
	ch <- prometheus.MustNewConstMetric(descBytesReceived, prometheus.CounterValue,
		float64(c.m.bytesReceived.Load()))
}

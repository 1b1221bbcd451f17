/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package metrics exposes the engine's Prometheus collector: frame
// throughput, resync and reassembly-drop counters, and buffer pool
// pressure, implemented directly as a prometheus.Collector
// (Describe/Collect).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a prometheus.Collector for one server or client engine.
type Collector struct {
	framesReceived  *prometheus.CounterVec
	framesSent      *prometheus.CounterVec
	resyncs         *prometheus.CounterVec
	reassemblyDrops *prometheus.CounterVec
	clientsGauge    prometheus.Gauge
	poolRentals     prometheus.Counter
}

// New returns a Collector with metric names prefixed by prefix (e.g.
// "netframe_server" or "netframe_client").
func New(prefix string) *Collector {
	return &Collector{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_frames_received_total",
			Help: "Frames successfully decoded and dispatched, by command id.",
		}, []string{"command_id"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_frames_sent_total",
			Help: "Frames successfully written to a peer, by command id.",
		}, []string{"command_id"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_resyncs_total",
			Help: "Times a per-peer framer discarded bytes to find the next sentinel.",
		}, []string{"peer"}),
		reassemblyDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_reassembly_drops_total",
			Help: "Multi-chunk reassemblies discarded due to ttl expiry or an out-of-bounds chunk.",
		}, []string{"reason"}),
		clientsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_clients_connected",
			Help: "Number of clients currently present in the client table.",
		}),
		poolRentals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_pool_rentals_total",
			Help: "Buffers rented from the byte pool across all size classes.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	c.framesReceived.Describe(descs)
	c.framesSent.Describe(descs)
	c.resyncs.Describe(descs)
	c.reassemblyDrops.Describe(descs)
	descs <- c.clientsGauge.Desc()
	descs <- c.poolRentals.Desc()
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.framesReceived.Collect(metrics)
	c.framesSent.Collect(metrics)
	c.resyncs.Collect(metrics)
	c.reassemblyDrops.Collect(metrics)
	metrics <- c.clientsGauge
	metrics <- c.poolRentals
}

// FrameReceived records one dispatched frame for commandID.
func (c *Collector) FrameReceived(commandID string) {
	c.framesReceived.WithLabelValues(commandID).Inc()
}

// FrameSent records one frame written to a peer for commandID.
func (c *Collector) FrameSent(commandID string) {
	c.framesSent.WithLabelValues(commandID).Inc()
}

// Resync records one framer resync for peer.
func (c *Collector) Resync(peer string) {
	c.resyncs.WithLabelValues(peer).Inc()
}

// ReassemblyDrop records one discarded reassembly, reason being "ttl" or
// "out_of_bounds".
func (c *Collector) ReassemblyDrop(reason string) {
	c.reassemblyDrops.WithLabelValues(reason).Inc()
}

// SetClients sets the current client table size.
func (c *Collector) SetClients(n int) {
	c.clientsGauge.Set(float64(n))
}

// PoolRental records one buffer rental.
func (c *Collector) PoolRental() {
	c.poolRentals.Inc()
}

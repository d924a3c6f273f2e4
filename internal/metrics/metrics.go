// Package metrics exposes InfoLogger's Prometheus metrics and admin
// HTTP surface (SPEC_FULL.md §6 expansion: /metrics, /healthz, /stats).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CollectorConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infologger_collector_connections_active",
		Help: "Number of local clients currently connected to the collector daemon's ingest socket",
	})

	CollectorMessagesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infologger_collector_messages_received_total",
		Help: "Total number of complete lines accepted from local clients",
	})

	CollectorPartialLinesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infologger_collector_partial_lines_dropped_total",
		Help: "Total number of partial lines discarded on client disconnect",
	})

	TransportClientState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infologger_transport_client_state",
		Help: "Transport client state machine position (0=NotConnected 1=OpeningClient 2=Connected 3=ClosingClient)",
	})

	TransportBatchesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infologger_transport_batches_sent_total",
		Help: "Total number of batches written to the wire by the transport client",
	})

	TransportBatchesAckedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infologger_transport_batches_acked_total",
		Help: "Total number of batches acknowledged by the transport server",
	})

	TransportServerInboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infologger_transport_server_inbox_depth",
		Help: "Current number of decoded batches waiting in the transport server's inbox",
	})

	DispatchBatchesProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infologger_dispatch_batches_processed_total",
		Help: "Total number of batches decoded and fanned out by the dispatch hub",
	})

	DispatchConsumerDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infologger_dispatch_consumer_dropped_total",
		Help: "Total number of batches dropped for a full consumer queue, by consumer name",
	}, []string{"consumer"})

	DBInsertTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infologger_db_insert_total",
		Help: "Total number of records inserted, by DB worker",
	}, []string{"worker"})

	DBInsertDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infologger_db_insert_dropped_total",
		Help: "Total number of records dropped while a DB worker was disconnected, by worker",
	}, []string{"worker"})

	BroadcastSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infologger_broadcast_subscribers",
		Help: "Current number of connected live-broadcast subscribers",
	})

	StatsSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infologger_stats_subscribers",
		Help: "Current number of connected statistics-stream subscribers",
	})

	ProcessResidentMemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infologger_process_resident_memory_bytes",
		Help: "Resident set size of this process, sampled via gopsutil",
	})

	ProcessCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infologger_process_cpu_percent",
		Help: "Process CPU usage percentage, sampled via gopsutil",
	})

	ProcessOpenFDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infologger_process_open_fds",
		Help: "Number of open file descriptors, sampled via gopsutil",
	})
)

// Registry is a dedicated prometheus registry rather than the global
// default: every daemon binary gets its own, and tests can build one
// per case without fighting "duplicate metrics collector registration"
// panics across the package's global vars.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	registerAll(reg)
	return reg
}

func registerAll(reg *prometheus.Registry) {
	collectors := []prometheus.Collector{
		CollectorConnectionsActive,
		CollectorMessagesReceivedTotal,
		CollectorPartialLinesDroppedTotal,
		TransportClientState,
		TransportBatchesSentTotal,
		TransportBatchesAckedTotal,
		TransportServerInboxDepth,
		DispatchBatchesProcessedTotal,
		DispatchConsumerDroppedTotal,
		DBInsertTotal,
		DBInsertDroppedTotal,
		BroadcastSubscribers,
		StatsSubscribers,
		ProcessResidentMemoryBytes,
		ProcessCPUPercent,
		ProcessOpenFDs,
	}
	for _, c := range collectors {
		safeRegister(reg, c)
	}
}

// safeRegister ignores "already registered" errors so repeated calls
// across multiple NewRegistry invocations in the same test binary
// don't panic (the metric variables above are package-level, shared
// by every registry).
func safeRegister(reg *prometheus.Registry, c prometheus.Collector) {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
	}
}

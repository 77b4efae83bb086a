// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsDecodedTotal counts packets run through the dissector by start kind
	PacketsDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibdissect_packets_decoded_total",
			Help: "Total number of packets decoded",
		},
		[]string{"start"},
	)

	// HeaderSequenceTotal counts classified opcodes by header sequence tag
	HeaderSequenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibdissect_header_sequence_total",
			Help: "Total number of transport headers by extended header sequence",
		},
		[]string{"sequence"},
	)

	// DiagnosticsTotal counts per-packet decode diagnostics by kind and layer
	DiagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibdissect_diagnostics_total",
			Help: "Total number of decode diagnostics",
		},
		[]string{"kind", "layer"},
	)

	// ManagementDatagramsTotal counts management datagrams by class
	ManagementDatagramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibdissect_management_datagrams_total",
			Help: "Total number of management datagrams by class",
		},
		[]string{"class"},
	)

	// PayloadDispatchTotal counts payload hand-offs by the decoder that took them
	PayloadDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibdissect_payload_dispatch_total",
			Help: "Total number of payloads by next-stage decoder",
		},
		[]string{"decoder"},
	)

	// ConnectionContexts tracks live connection-management contexts
	ConnectionContexts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ibdissect_connection_contexts",
			Help: "Number of in-flight or established connection-management contexts",
		},
	)

	// ConversationsActive tracks the conversation table size
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ibdissect_conversations_active",
			Help: "Current number of conversations tracked",
		},
	)

	// ReassemblyActiveMessages tracks Send messages awaiting their last fragment
	ReassemblyActiveMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ibdissect_reassembly_active_messages",
			Help: "Number of multi-packet Send messages in reassembly",
		},
	)

	// ReporterErrorsTotal counts reporter errors by name and error type
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibdissect_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter", "error_type"},
	)

	// ReporterBatchSize tracks Kafka batch size distribution
	ReporterBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ibdissect_reporter_batch_size",
			Help:    "Number of packets sent per reporter batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
		[]string{"reporter"},
	)

	// CaptureFramesTotal counts captured frames by the start kind they were
	// mapped to, or "skipped"
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibdissect_capture_frames_total",
			Help: "Total number of captured frames by demultiplexing outcome",
		},
		[]string{"outcome"},
	)
)

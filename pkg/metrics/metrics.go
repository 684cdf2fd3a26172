// Package metrics centralizes the prometheus collectors shared across
// storage, subscriber, broker, and gateway components, the way the teacher
// centralizes dashboard event types in internal/api/events.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every collector this module exposes on /metrics.
type Registry struct {
	SubscriberLag          prometheus.Gauge
	SubscriberBatchesTotal  *prometheus.CounterVec
	SubscriberDroppedTotal  *prometheus.CounterVec
	BrokerQueueDepth        *prometheus.GaugeVec
	BrokerDroppedTotal      *prometheus.CounterVec
	BrokerRouteFailedTotal  prometheus.Counter
	BrokerDedupHitsTotal    prometheus.Counter
	GatewaySessionsActive   prometheus.Gauge
	GatewayPushedTotal      *prometheus.CounterVec
	CompactionRecordsRead   prometheus.Counter
	CompactionRecordsMerged prometheus.Counter
	CompactionRecordsDropped prometheus.Counter
	CompactionBytesWritten  prometheus.Counter
	CompactionDurationSec   prometheus.Histogram
	CompactionFilesQuarantined prometheus.Counter
	WALAppendDurationSec    prometheus.Histogram
	CheckpointDurationSec   prometheus.Histogram
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid cross-test collisions, and
// prometheus.DefaultRegisterer in production (mirrors the teacher's
// pattern of an explicit constructor per subsystem rather than global
// package-level state).
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SubscriberLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exchanged_subscriber_lag_events",
			Help: "Number of trading events buffered but not yet batched to storage.",
		}),
		SubscriberBatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchanged_subscriber_batches_total",
			Help: "Batches submitted to hybrid storage, by instrument.",
		}, []string{"instrument"}),
		SubscriberDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchanged_subscriber_dropped_total",
			Help: "Events dropped under back-pressure, by priority.",
		}, []string{"priority"}),
		BrokerQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchanged_broker_queue_depth",
			Help: "Current depth of each priority queue.",
		}, []string{"priority"}),
		BrokerDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchanged_broker_dropped_total",
			Help: "Notifications dropped because a priority queue was full.",
		}, []string{"priority"}),
		BrokerRouteFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchanged_broker_route_failed_total",
			Help: "Non-blocking sends to a gateway/global subscriber that failed.",
		}),
		BrokerDedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchanged_broker_dedup_hits_total",
			Help: "Notifications dropped because their message_id was seen within the dedup window.",
		}),
		GatewaySessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exchanged_gateway_sessions_active",
			Help: "Currently registered gateway sessions.",
		}),
		GatewayPushedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchanged_gateway_pushed_total",
			Help: "Notifications pushed to sessions, by channel.",
		}, []string{"channel"}),
		CompactionRecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchanged_compaction_records_read_total",
			Help: "Records read by the compactor across all merges.",
		}),
		CompactionRecordsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchanged_compaction_records_merged_total",
			Help: "Records written to new SSTables by the compactor.",
		}),
		CompactionRecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchanged_compaction_records_dropped_total",
			Help: "Records dropped by the compactor as superseded duplicates.",
		}),
		CompactionBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchanged_compaction_bytes_written_total",
			Help: "Bytes written by the compactor to new SSTables.",
		}),
		CompactionDurationSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "exchanged_compaction_duration_seconds",
			Help: "Wall time of a single compaction pass.",
		}),
		CompactionFilesQuarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchanged_compaction_files_quarantined_total",
			Help: "SSTable files moved aside after a checksum mismatch during compaction.",
		}),
		WALAppendDurationSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "exchanged_wal_append_duration_seconds",
			Help: "Wall time of a single WAL append, including group-commit wait.",
		}),
		CheckpointDurationSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "exchanged_checkpoint_duration_seconds",
			Help: "Wall time to create one checkpoint.",
		}),
	}

	reg.MustRegister(
		r.SubscriberLag, r.SubscriberBatchesTotal, r.SubscriberDroppedTotal,
		r.BrokerQueueDepth, r.BrokerDroppedTotal, r.BrokerRouteFailedTotal, r.BrokerDedupHitsTotal,
		r.GatewaySessionsActive, r.GatewayPushedTotal,
		r.CompactionRecordsRead, r.CompactionRecordsMerged, r.CompactionRecordsDropped,
		r.CompactionBytesWritten, r.CompactionDurationSec, r.CompactionFilesQuarantined,
		r.WALAppendDurationSec, r.CheckpointDurationSec,
	)
	return r
}

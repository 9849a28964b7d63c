package metrics

import "markflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricFeedSample records feed samples dropped before ingestion.
	DropMetricFeedSample DropMetric = "feed_sample_messages_dropped"
	// DropMetricSnapshotFanout records snapshots dropped on the fan-out channel.
	DropMetricSnapshotFanout DropMetric = "snapshot_messages_dropped"
	// DropMetricRiskEvent records risk events dropped before delivery.
	DropMetricRiskEvent DropMetric = "risk_event_messages_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel message.
// The metric value is always incremented by one so callers should invoke this
// helper for each dropped message. Optional metadata (source, symbol, stage) is
// added to the metric fields when provided which enables downstream aggregation
// per feed and pipeline stage.
func EmitDropMetric(log *logger.Log, metric DropMetric, source, symbol, stage string) {
	fields := logger.Fields{}
	if source != "" {
		fields["source"] = source
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}

package metrics

import "markflow/logger"

// EngineStats holds cumulative counters for the aggregation and publication loop.
type EngineStats struct {
	CyclesRun            int64
	CyclesFailed         int64
	SnapshotsPublished   int64
	FallbackPublications int64
	RiskEvents           int64
	SnapshotChannelLen   int
	SnapshotChannelCap   int
	EventChannelLen      int
	EventChannelCap      int
}

// ReportEngine emits cycle metrics for the engine component.
func ReportEngine(log *logger.Log, stats EngineStats) {
	l := log.WithComponent("engine")

	failureRate := float64(0)
	if stats.CyclesRun > 0 {
		failureRate = float64(stats.CyclesFailed) / float64(stats.CyclesRun)
	}

	l.LogMetric("engine", "cycles_run", stats.CyclesRun, "counter", logger.Fields{})
	l.LogMetric("engine", "cycles_failed", stats.CyclesFailed, "counter", logger.Fields{})
	l.LogMetric("engine", "snapshots_published", stats.SnapshotsPublished, "counter", logger.Fields{})
	l.LogMetric("engine", "fallback_publications", stats.FallbackPublications, "counter", logger.Fields{})
	l.LogMetric("engine", "risk_events", stats.RiskEvents, "counter", logger.Fields{})
	l.LogMetric("engine", "cycle_failure_rate", failureRate, "gauge", logger.Fields{})

	entry := l.WithFields(logger.Fields{
		"cycles_run":            stats.CyclesRun,
		"cycles_failed":         stats.CyclesFailed,
		"snapshots_published":   stats.SnapshotsPublished,
		"fallback_publications": stats.FallbackPublications,
		"risk_events":           stats.RiskEvents,
		"cycle_failure_rate":    failureRate,
		"snapshot_channel_len":  stats.SnapshotChannelLen,
		"snapshot_channel_cap":  stats.SnapshotChannelCap,
		"event_channel_len":     stats.EventChannelLen,
		"event_channel_cap":     stats.EventChannelCap,
	})

	if stats.CyclesFailed > 0 {
		entry.Warn("engine metrics")
		return
	}

	entry.Info("engine metrics")
}

// RiskStats holds cumulative counters for the risk evaluator.
type RiskStats struct {
	PositionsEvaluated int64
	TriggersEvaluated  int64
	EventsEmitted      int64
	BreachesBuffered   int64
	WorkerCount        int
}

// ReportRisk emits evaluation metrics for the risk component.
func ReportRisk(log *logger.Log, stats RiskStats) {
	l := log.WithComponent("risk")

	l.LogMetric("risk", "positions_evaluated", stats.PositionsEvaluated, "counter", logger.Fields{})
	l.LogMetric("risk", "triggers_evaluated", stats.TriggersEvaluated, "counter", logger.Fields{})
	l.LogMetric("risk", "events_emitted", stats.EventsEmitted, "counter", logger.Fields{})
	l.LogMetric("risk", "breaches_buffered", stats.BreachesBuffered, "counter", logger.Fields{})

	l.WithFields(logger.Fields{
		"positions_evaluated": stats.PositionsEvaluated,
		"triggers_evaluated":  stats.TriggersEvaluated,
		"events_emitted":      stats.EventsEmitted,
		"breaches_buffered":   stats.BreachesBuffered,
		"worker_count":        stats.WorkerCount,
	}).Info("risk metrics")
}

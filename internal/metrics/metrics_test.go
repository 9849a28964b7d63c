package metrics

import (
	"testing"

	"markflow/logger"
)

func TestReportEngineMetrics(t *testing.T) {
	log := logger.GetLogger()
	stats := EngineStats{
		CyclesRun:            10,
		CyclesFailed:         1,
		SnapshotsPublished:   9,
		FallbackPublications: 2,
		RiskEvents:           3,
		SnapshotChannelLen:   1,
		SnapshotChannelCap:   8,
	}
	ReportEngine(log, stats)
}

func TestReportRiskMetrics(t *testing.T) {
	log := logger.GetLogger()
	stats := RiskStats{
		PositionsEvaluated: 100,
		TriggersEvaluated:  40,
		EventsEmitted:      2,
		BreachesBuffered:   5,
		WorkerCount:        4,
	}
	ReportRisk(log, stats)
}

func TestReportWriterMetrics(t *testing.T) {
	log := logger.GetLogger()
	stats := WriterStats{
		BatchesWritten: 5,
		FilesWritten:   5,
		BytesWritten:   2048,
		ErrorsCount:    0,
		QueueLen:       1,
		QueueCap:       16,
	}
	ReportWriter(log, "snapshot_archiver", stats)
}

func TestIncrementBeforeInit(t *testing.T) {
	IncrementSampleAccepted("binance")
	IncrementSampleRejected("binance", "stale")
	IncrementCycle("published")
	IncrementPublication("normal")
	IncrementTransition("healthy", "degraded")
	IncrementRiskEvent("liquidation")
	SetMarkPrice("BTC-USDT", 50000)
	SetActiveSources("BTC-USDT", 3)
}

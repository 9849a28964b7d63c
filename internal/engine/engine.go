package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	appconfig "markflow/config"
	"markflow/internal/aggregator"
	"markflow/internal/channel"
	"markflow/internal/feedstore"
	"markflow/internal/markprice"
	"markflow/internal/metrics"
	"markflow/internal/monitor"
	"markflow/internal/publisher"
	"markflow/internal/risk"
	"markflow/logger"
	"markflow/models"
)

// Engine owns one symbol's mark-price pipeline: feed ingestion, the periodic
// aggregate/compute/publish cycle, venue health monitoring and risk
// evaluation. Readers submit through it and never touch the stores directly;
// the cycle goroutine is the only writer to the publisher.
type Engine struct {
	config   *appconfig.Config
	store    *feedstore.Store
	trades   *feedstore.LastTradeStore
	agg      *aggregator.Aggregator
	calc     *markprice.Calculator
	mon      *monitor.Monitor
	pub      *publisher.Publisher
	registry *risk.Registry
	eval     *risk.Evaluator
	channels *channel.Channels

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	fundingMu  sync.RWMutex
	funding    models.FundingRate
	hasFunding bool

	// prevState is touched only by the cycle goroutine.
	prevState monitor.State

	cyclesRun            atomic.Int64
	cyclesFailed         atomic.Int64
	snapshotsPublished   atomic.Int64
	fallbackPublications atomic.Int64
	riskEvents           atomic.Int64
}

// New wires the engine components from configuration.
func New(cfg *appconfig.Config, ch *channel.Channels) *Engine {
	registry := risk.NewRegistry()

	return &Engine{
		config: cfg,
		store:  feedstore.NewStore(cfg.Engine.MaxStaleness),
		trades: feedstore.NewLastTradeStore(),
		agg: aggregator.New(aggregator.Config{
			MinSources:       cfg.Engine.MinSources,
			MaxStaleness:     cfg.Engine.MaxStaleness,
			OutlierThreshold: cfg.Engine.OutlierThreshold,
			Weights:          cfg.Sources.Weights,
		}),
		calc: markprice.NewCalculator(markprice.Config{
			Mode:           cfg.Engine.MarkMode,
			FundingClamp:   cfg.Engine.FundingClamp,
			StepLimit:      cfg.Engine.StepLimit,
			SmoothingAlpha: cfg.Engine.SmoothingAlpha,
		}),
		mon:      monitor.New(monitor.Config{MaxOutage: cfg.Engine.MaxOutage}),
		pub:      publisher.New(cfg.Engine.HistoryDepth),
		registry: registry,
		eval: risk.NewEvaluator(registry, risk.Config{
			MaintenanceMarginRatio: cfg.Risk.MaintenanceMarginRatio,
			LiquidationBufferCount: cfg.Risk.LiquidationBufferCount,
			MaxWorkers:             cfg.Risk.MaxWorkers,
		}),
		channels:  ch,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		prevState: monitor.StateHealthy,
	}
}

// Start launches the cycle loop and the metrics reporter.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"operation":     "start",
		"symbol":        e.config.Engine.Symbol,
		"tick_interval": e.config.Engine.TickInterval.String(),
		"mark_mode":     e.config.Engine.MarkMode,
		"min_sources":   e.config.Engine.MinSources,
	}).Info("starting mark price engine")

	e.wg.Add(1)
	go e.run()

	e.wg.Add(1)
	go e.metricsReporter()

	return nil
}

// Stop halts the cycle loop and waits for goroutines to exit. The caller
// cancels the context passed to Start before calling Stop.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.log.WithComponent("engine").Info("stopping mark price engine")
	e.wg.Wait()
	e.log.WithComponent("engine").Info("mark price engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Engine.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.runCycle(e.ctx, now)
		}
	}
}

// SubmitSample validates and stores one feed observation. Rejections are
// counted per reason and returned so readers can react to persistent ones.
func (e *Engine) SubmitSample(sample models.FeedSample) error {
	if err := e.store.Submit(sample); err != nil {
		metrics.IncrementSampleRejected(sample.SourceID, feedstore.RejectReason(err))
		e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{
			"source": sample.SourceID,
			"price":  sample.Price.String(),
		}).Debug("feed sample rejected")
		return err
	}

	metrics.IncrementSampleAccepted(sample.SourceID)
	return nil
}

// SubmitFunding replaces the funding input used by subsequent cycles.
func (e *Engine) SubmitFunding(rate models.FundingRate) {
	e.fundingMu.Lock()
	e.funding = rate
	e.hasFunding = true
	e.fundingMu.Unlock()
}

// SubmitTrade records a venue trade for the suspended fallback price.
func (e *Engine) SubmitTrade(price decimal.Decimal, at time.Time) error {
	return e.trades.Record(price, at)
}

// CurrentMark returns the latest published snapshot.
func (e *Engine) CurrentMark() (models.MarkPriceSnapshot, bool) {
	return e.pub.Current()
}

// MarkHistory returns retained snapshots for the inclusive version range.
func (e *Engine) MarkHistory(from, to uint64) []models.MarkPriceSnapshot {
	return e.pub.History(from, to)
}

// MonitorStatus reports the venue health state.
func (e *Engine) MonitorStatus() monitor.Status {
	return e.mon.Snapshot(time.Now())
}

// ReArm acknowledges a suspension so the next valid cycle resumes publication.
func (e *Engine) ReArm() {
	e.mon.ReArm()
}

// Registry exposes position and trigger-order management.
func (e *Engine) Registry() *risk.Registry {
	return e.registry
}

// Store exposes the feed sample store for adapters wired outside main.
func (e *Engine) Store() *feedstore.Store {
	return e.store
}

// Publisher exposes the snapshot publisher.
func (e *Engine) Publisher() *publisher.Publisher {
	return e.pub
}

// Monitor exposes the health state machine.
func (e *Engine) Monitor() *monitor.Monitor {
	return e.mon
}

// Positions returns a read-only view of the open positions.
func (e *Engine) Positions() []models.Position {
	return e.registry.Positions()
}

// Orders returns a read-only view of the trigger orders.
func (e *Engine) Orders() []models.TriggerOrder {
	return e.registry.Orders()
}

// SourceHealth reports each source's latest sample and staleness.
func (e *Engine) SourceHealth() map[string]models.SourceHealth {
	return e.store.Snapshot(time.Now())
}

// Stats returns cumulative cycle counters plus channel occupancy.
func (e *Engine) Stats() metrics.EngineStats {
	return metrics.EngineStats{
		CyclesRun:            e.cyclesRun.Load(),
		CyclesFailed:         e.cyclesFailed.Load(),
		SnapshotsPublished:   e.snapshotsPublished.Load(),
		FallbackPublications: e.fallbackPublications.Load(),
		RiskEvents:           e.riskEvents.Load(),
		SnapshotChannelLen:   len(e.channels.Snapshots),
		SnapshotChannelCap:   cap(e.channels.Snapshots),
		EventChannelLen:      len(e.channels.Events),
		EventChannelCap:      cap(e.channels.Events),
	}
}

// RiskStats returns cumulative evaluation counters.
func (e *Engine) RiskStats() metrics.RiskStats {
	return e.eval.Stats()
}

func (e *Engine) currentFunding() models.FundingRate {
	e.fundingMu.RLock()
	defer e.fundingMu.RUnlock()
	return e.funding
}

func (e *Engine) metricsReporter() {
	defer e.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.reportMetrics()
		}
	}
}

func (e *Engine) reportMetrics() {
	metrics.ReportEngine(e.log, e.Stats())
	metrics.ReportRisk(e.log, e.eval.Stats())

	for source, health := range e.store.Snapshot(time.Now()) {
		metrics.EmitMetric(e.log, "engine", "source_staleness_ms", health.Staleness.Milliseconds(), "gauge", logger.Fields{
			"source": source,
			"symbol": e.config.Engine.Symbol,
			"unit":   "milliseconds",
		})
	}
}

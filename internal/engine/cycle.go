package engine

import (
	"context"
	"fmt"
	"time"

	"markflow/internal/metrics"
	"markflow/internal/monitor"
	"markflow/logger"
	"markflow/models"
)

// Cycle outcomes recorded on the cycles counter.
const (
	outcomePublished = "published"
	outcomeFallback  = "fallback"
	outcomeSkipped   = "skipped"
	outcomeHalted    = "halted"
	outcomeConflict  = "conflict"
)

// runCycle executes one aggregate/compute/publish/evaluate pass. It is called
// only from the cycle goroutine; tests drive it directly with a fixed clock.
func (e *Engine) runCycle(ctx context.Context, now time.Time) {
	cycleCtx, cancel := context.WithTimeout(ctx, e.config.Engine.CycleTimeout)
	defer cancel()

	e.cyclesRun.Add(1)

	health := e.store.Snapshot(now)
	index, aggErr := e.agg.Aggregate(health, now)
	state := e.mon.Observe(aggErr == nil, now)

	if e.prevState == monitor.StateSuspended && state == monitor.StateHealthy {
		// Leaving suspension invalidates the smoothing memory.
		e.calc.Reset()
	}
	e.prevState = state

	candidate, outcome, buildErr := e.buildCandidate(index, state, now)
	if buildErr != nil {
		e.cyclesFailed.Add(1)
		metrics.IncrementCycle(outcome)
		e.log.WithComponent("engine").WithError(buildErr).WithFields(logger.Fields{
			"state":   string(state),
			"outcome": outcome,
		}).Warn("cycle ended without publication")
		return
	}

	published, err := e.pub.Publish(candidate)
	if err != nil {
		e.cyclesFailed.Add(1)
		metrics.IncrementCycle(outcomeConflict)
		e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{
			"version": e.pub.Version(),
		}).Error("snapshot publication conflict")
		return
	}

	metrics.IncrementCycle(outcome)
	metrics.IncrementPublication(string(published.Derivation))
	value, _ := published.Value.Float64()
	metrics.SetMarkPrice(published.Symbol, value)
	metrics.SetActiveSources(published.Symbol, len(published.IndexSources))

	e.snapshotsPublished.Add(1)
	if published.Derivation.Fallback() {
		e.fallbackPublications.Add(1)
	}

	events := e.eval.EvaluateSnapshot(cycleCtx, published)
	e.riskEvents.Add(int64(len(events)))
	for _, event := range events {
		if !e.channels.SendEvent(cycleCtx, event) {
			metrics.EmitDropMetric(e.log, metrics.DropMetricRiskEvent, "engine", event.Symbol, "events")
		}
	}

	if !e.channels.SendSnapshot(cycleCtx, published) {
		metrics.EmitDropMetric(e.log, metrics.DropMetricSnapshotFanout, "engine", published.Symbol, "snapshots")
	}

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"version":    published.Version,
		"value":      published.Value.String(),
		"derivation": string(published.Derivation),
		"confidence": string(published.IndexConfidence),
		"sources":    len(published.IndexSources),
		"events":     len(events),
	}).Debug("cycle published")
}

// buildCandidate maps the monitor state to a publication candidate. Healthy
// computes a fresh mark, Degraded repeats the last published value and
// Suspended falls back to the last traded price. The returned error means the
// cycle skips publication entirely.
func (e *Engine) buildCandidate(index models.IndexPrice, state monitor.State, now time.Time) (models.MarkPriceSnapshot, string, error) {
	symbol := e.config.Engine.Symbol
	funding := e.currentFunding()

	switch state {
	case monitor.StateHealthy:
		prev, hasPrev := e.pub.Current()
		value, derivation := e.calc.Compute(index.Value, funding, prev.Value, hasPrev)
		return models.MarkPriceSnapshot{
			Symbol:          symbol,
			Value:           value,
			ComputedAt:      now,
			Derivation:      derivation,
			IndexValue:      index.Value,
			IndexConfidence: index.Confidence,
			IndexSources:    index.Sources,
			FundingRate:     funding.Value,
		}, outcomePublished, nil

	case monitor.StateDegraded:
		prev, ok := e.pub.Current()
		if !ok {
			return models.MarkPriceSnapshot{}, outcomeSkipped,
				fmt.Errorf("no previous mark to repeat: %w", models.ErrInsufficientSources)
		}
		return models.MarkPriceSnapshot{
			Symbol:          symbol,
			Value:           prev.Value,
			ComputedAt:      now,
			Derivation:      models.DerivationLastValid,
			IndexConfidence: models.ConfidenceInsufficient,
			FundingRate:     funding.Value,
		}, outcomeFallback, nil

	default:
		price, _, ok := e.trades.Last()
		if !ok {
			return models.MarkPriceSnapshot{}, outcomeHalted,
				fmt.Errorf("suspended with no traded price: %w", models.ErrOutageExceeded)
		}
		return models.MarkPriceSnapshot{
			Symbol:          symbol,
			Value:           price,
			ComputedAt:      now,
			Derivation:      models.DerivationLastTraded,
			IndexConfidence: models.ConfidenceInsufficient,
			FundingRate:     funding.Value,
		}, outcomeFallback, nil
	}
}

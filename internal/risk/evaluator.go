package risk

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"markflow/internal/metrics"
	"markflow/logger"
	"markflow/models"
)

// Config holds the evaluation parameters.
type Config struct {
	MaintenanceMarginRatio float64
	LiquidationBufferCount int
	MaxWorkers             int
}

// Evaluator recomputes margin ratios and trigger conditions for every
// position and pending order against each published snapshot. The margin math
// runs read-only and in parallel across positions; state changes (breach
// streaks, order transitions, event emission) commit sequentially afterwards
// so fallback buffering and exactly-once execution stay race-free.
type Evaluator struct {
	registry    *Registry
	maintenance decimal.Decimal
	bufferCount int
	workers     int
	log         *logger.Log

	positionsEvaluated atomic.Int64
	triggersEvaluated  atomic.Int64
	eventsEmitted      atomic.Int64
	breachesBuffered   atomic.Int64
}

// NewEvaluator creates an evaluator over the registry.
func NewEvaluator(registry *Registry, cfg Config) *Evaluator {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Evaluator{
		registry:    registry,
		maintenance: decimal.NewFromFloat(cfg.MaintenanceMarginRatio),
		bufferCount: cfg.LiquidationBufferCount,
		workers:     workers,
		log:         logger.GetLogger(),
	}
}

// positionVerdict is the read-only result of the parallel margin pass.
type positionVerdict struct {
	state       *positionState
	breached    bool
	marginRatio decimal.Decimal
}

// orderVerdict is the read-only result of the trigger crossing pass.
type orderVerdict struct {
	order   *models.TriggerOrder
	crossed bool
}

// EvaluateSnapshot runs the margin and trigger checks for the snapshot and
// returns the emitted events. A cancelled context abandons the evaluation
// before any state change; the next snapshot re-evaluates from scratch.
func (e *Evaluator) EvaluateSnapshot(ctx context.Context, snap models.MarkPriceSnapshot) []models.RiskEvent {
	states, orders := e.collect()
	if len(states) == 0 && len(orders) == 0 {
		return nil
	}

	verdicts := make([]positionVerdict, len(states))
	orderVerdicts := make([]orderVerdict, len(orders))

	var wg sync.WaitGroup
	chunk := (len(states) + e.workers - 1) / e.workers
	if chunk == 0 {
		chunk = 1
	}

	for start := 0; start < len(states); start += chunk {
		end := start + chunk
		if end > len(states) {
			end = len(states)
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return
				}
				verdicts[i] = e.judgePosition(states[i], snap.Value)
			}
		}(start, end)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, order := range orders {
			if ctx.Err() != nil {
				return
			}
			orderVerdicts[i] = orderVerdict{order: order, crossed: order.Crossed(snap.Value)}
		}
	}()

	wg.Wait()

	if ctx.Err() != nil {
		e.log.WithComponent("risk").WithFields(logger.Fields{
			"version": snap.Version,
		}).Warn("evaluation abandoned before commit")
		return nil
	}

	e.positionsEvaluated.Add(int64(len(states)))
	e.triggersEvaluated.Add(int64(len(orders)))

	return e.commit(snap, verdicts, orderVerdicts)
}

// collect snapshots the evaluation set in a stable order.
func (e *Evaluator) collect() ([]*positionState, []*models.TriggerOrder) {
	e.registry.mu.RLock()
	defer e.registry.mu.RUnlock()

	states := make([]*positionState, 0, len(e.registry.positions))
	for _, state := range e.registry.positions {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].position.PositionID < states[j].position.PositionID
	})

	orders := make([]*models.TriggerOrder, 0, len(e.registry.orders))
	for _, order := range e.registry.orders {
		if order.Status == models.TriggerPending {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })

	return states, orders
}

// judgePosition computes the margin ratio without touching shared state.
func (e *Evaluator) judgePosition(state *positionState, mark decimal.Decimal) positionVerdict {
	position := state.position

	notional := position.Notional(mark)
	if notional.Sign() <= 0 {
		return positionVerdict{state: state}
	}

	equity := position.Collateral.Add(position.UnrealizedPnL(mark))
	ratio := equity.Div(notional)

	return positionVerdict{
		state:       state,
		breached:    ratio.LessThan(e.maintenance),
		marginRatio: ratio,
	}
}

// commit applies streak updates and order transitions under the registry lock
// and emits events. Liquidation on fallback derivations requires the breach
// to persist across bufferCount consecutive snapshots.
func (e *Evaluator) commit(snap models.MarkPriceSnapshot, verdicts []positionVerdict, orderVerdicts []orderVerdict) []models.RiskEvent {
	e.registry.mu.Lock()
	defer e.registry.mu.Unlock()

	now := time.Now()
	events := make([]models.RiskEvent, 0)

	for _, v := range verdicts {
		if v.state == nil {
			continue
		}
		if current, ok := e.registry.positions[v.state.position.PositionID]; !ok || current != v.state {
			continue
		}

		if !v.breached {
			v.state.breachStreak = 0
			v.state.liquidationEmitted = false
			continue
		}

		if snap.Derivation.Fallback() {
			v.state.breachStreak++
			if v.state.breachStreak < e.bufferCount {
				e.breachesBuffered.Add(1)
				continue
			}
		} else {
			v.state.breachStreak = 0
		}

		if v.state.liquidationEmitted {
			continue
		}
		v.state.liquidationEmitted = true

		position := v.state.position
		events = append(events, models.RiskEvent{
			EventID:         uuid.NewString(),
			Kind:            models.EventLiquidation,
			PositionID:      position.PositionID,
			Account:         position.Account,
			Symbol:          position.Symbol,
			MarkValue:       snap.Value,
			SnapshotVersion: snap.Version,
			MarginRatio:     v.marginRatio,
			EmittedAt:       now,
		})

		metrics.IncrementRiskEvent(string(models.EventLiquidation))
		e.log.WithComponent("risk").WithFields(logger.Fields{
			"position_id":  position.PositionID,
			"account":      position.Account,
			"margin_ratio": v.marginRatio.String(),
			"version":      snap.Version,
			"derivation":   string(snap.Derivation),
		}).Warn("liquidation triggered")
	}

	for _, v := range orderVerdicts {
		if v.order == nil || !v.crossed {
			continue
		}
		if current, ok := e.registry.orders[v.order.OrderID]; !ok || current != v.order {
			continue
		}
		if v.order.Status != models.TriggerPending {
			continue
		}

		v.order.Status = models.TriggerExecuted

		kind := models.EventTakeProfit
		if v.order.Kind == models.TriggerStopLoss {
			kind = models.EventStopLoss
		}

		events = append(events, models.RiskEvent{
			EventID:         uuid.NewString(),
			Kind:            kind,
			PositionID:      v.order.PositionID,
			OrderID:         v.order.OrderID,
			Account:         v.order.Account,
			Symbol:          v.order.Symbol,
			MarkValue:       snap.Value,
			SnapshotVersion: snap.Version,
			EmittedAt:       now,
		})

		metrics.IncrementRiskEvent(string(kind))
		e.log.WithComponent("risk").WithFields(logger.Fields{
			"order_id":   v.order.OrderID,
			"kind":       string(v.order.Kind),
			"trigger":    v.order.TriggerPrice.String(),
			"mark":       snap.Value.String(),
			"version":    snap.Version,
			"derivation": string(snap.Derivation),
		}).Info("trigger order executed")
	}

	e.eventsEmitted.Add(int64(len(events)))
	return events
}

// Stats returns cumulative evaluation counters for reporting.
func (e *Evaluator) Stats() metrics.RiskStats {
	return metrics.RiskStats{
		PositionsEvaluated: e.positionsEvaluated.Load(),
		TriggersEvaluated:  e.triggersEvaluated.Load(),
		EventsEmitted:      e.eventsEmitted.Load(),
		BreachesBuffered:   e.breachesBuffered.Load(),
		WorkerCount:        e.workers,
	}
}

package risk

import (
	"fmt"
	"sort"
	"sync"

	"markflow/logger"
	"markflow/models"
)

// positionState pairs a ledger position with the evaluator's per-position
// bookkeeping: the consecutive-breach streak used on fallback derivations and
// the emission latch that keeps liquidation events from repeating every cycle.
type positionState struct {
	position           models.Position
	breachStreak       int
	liquidationEmitted bool
}

// Registry holds the positions and trigger orders visible to the evaluator.
// The ledger collaborator owns the data; the registry is a read model plus
// the evaluator's private per-position state.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]*positionState
	orders    map[string]*models.TriggerOrder
	log       *logger.Log
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		positions: make(map[string]*positionState),
		orders:    make(map[string]*models.TriggerOrder),
		log:       logger.GetLogger(),
	}
}

// UpsertPosition stores or replaces a position. Replacing a position resets
// its breach streak and emission latch since the margin situation changed.
func (r *Registry) UpsertPosition(p models.Position) error {
	if p.PositionID == "" {
		return fmt.Errorf("position id is required")
	}
	if p.Side != models.SideLong && p.Side != models.SideShort {
		return fmt.Errorf("position %s: invalid side %q", p.PositionID, p.Side)
	}
	if p.Size.Sign() <= 0 {
		return fmt.Errorf("position %s: size must be positive", p.PositionID)
	}
	if p.EntryPrice.Sign() <= 0 {
		return fmt.Errorf("position %s: entry price must be positive", p.PositionID)
	}
	if p.Collateral.Sign() < 0 {
		return fmt.Errorf("position %s: collateral must not be negative", p.PositionID)
	}

	r.mu.Lock()
	r.positions[p.PositionID] = &positionState{position: p}
	r.mu.Unlock()

	return nil
}

// RemovePosition drops a position, reporting whether it existed.
func (r *Registry) RemovePosition(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.positions[id]; !ok {
		return false
	}
	delete(r.positions, id)
	return true
}

// Position returns a position by id.
func (r *Registry) Position(id string) (models.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return state.position, true
}

// Positions returns all registered positions sorted by id.
func (r *Registry) Positions() []models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Position, 0, len(r.positions))
	for _, state := range r.positions {
		out = append(out, state.position)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

// UpsertOrder stores a trigger order. New orders must be pending; replacing
// an executed order is rejected to preserve the terminal state.
func (r *Registry) UpsertOrder(o models.TriggerOrder) error {
	if o.OrderID == "" {
		return fmt.Errorf("order id is required")
	}
	if o.Side != models.SideLong && o.Side != models.SideShort {
		return fmt.Errorf("order %s: invalid side %q", o.OrderID, o.Side)
	}
	if o.Kind != models.TriggerTakeProfit && o.Kind != models.TriggerStopLoss {
		return fmt.Errorf("order %s: invalid kind %q", o.OrderID, o.Kind)
	}
	if o.TriggerPrice.Sign() <= 0 {
		return fmt.Errorf("order %s: trigger price must be positive", o.OrderID)
	}
	if o.Status == "" {
		o.Status = models.TriggerPending
	}
	if o.Status != models.TriggerPending {
		return fmt.Errorf("order %s: only pending orders can be submitted", o.OrderID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.orders[o.OrderID]; ok && existing.Status == models.TriggerExecuted {
		return fmt.Errorf("order %s: already executed", o.OrderID)
	}

	stored := o
	r.orders[o.OrderID] = &stored
	return nil
}

// CancelOrder moves a pending order to cancelled. Executed orders are
// terminal and cannot be cancelled.
func (r *Registry) CancelOrder(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("order %s: not found", id)
	}
	if order.Status == models.TriggerExecuted {
		return fmt.Errorf("order %s: already executed", id)
	}
	if order.Status == models.TriggerCancelled {
		return nil
	}

	order.Status = models.TriggerCancelled
	return nil
}

// Order returns an order by id.
func (r *Registry) Order(id string) (models.TriggerOrder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return models.TriggerOrder{}, false
	}
	return *order, true
}

// Orders returns all orders sorted by id.
func (r *Registry) Orders() []models.TriggerOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TriggerOrder, 0, len(r.orders))
	for _, order := range r.orders {
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Counts returns the number of positions and orders.
func (r *Registry) Counts() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions), len(r.orders)
}

package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"markflow/models"
)

func position(id string, side models.Side, size, entry, collateral float64) models.Position {
	return models.Position{
		PositionID: id,
		Account:    "acct-1",
		Symbol:     "BTC-PERP",
		Side:       side,
		Size:       decimal.NewFromFloat(size),
		EntryPrice: decimal.NewFromFloat(entry),
		Collateral: decimal.NewFromFloat(collateral),
	}
}

func triggerOrder(id, positionID string, side models.Side, kind models.TriggerKind, trigger float64) models.TriggerOrder {
	return models.TriggerOrder{
		OrderID:      id,
		PositionID:   positionID,
		Account:      "acct-1",
		Symbol:       "BTC-PERP",
		Side:         side,
		Kind:         kind,
		TriggerPrice: decimal.NewFromFloat(trigger),
	}
}

func TestUpsertPositionValidation(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		name string
		p    models.Position
	}{
		{"missing id", position("", models.SideLong, 1, 100, 10)},
		{"bad side", models.Position{PositionID: "p1", Side: "sideways", Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}},
		{"zero size", position("p1", models.SideLong, 0, 100, 10)},
		{"zero entry", position("p1", models.SideLong, 1, 0, 10)},
		{"negative collateral", position("p1", models.SideLong, 1, 100, -1)},
	}
	for _, c := range cases {
		if err := r.UpsertPosition(c.p); err == nil {
			t.Errorf("%s: expected rejection", c.name)
		}
	}

	if err := r.UpsertPosition(position("p1", models.SideLong, 1, 100, 10)); err != nil {
		t.Fatalf("valid position rejected: %v", err)
	}
	if _, ok := r.Position("p1"); !ok {
		t.Fatal("stored position not found")
	}
}

func TestUpsertPositionResetsRiskState(t *testing.T) {
	r := NewRegistry()
	if err := r.UpsertPosition(position("p1", models.SideLong, 1, 100, 10)); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	r.positions["p1"].breachStreak = 2
	r.positions["p1"].liquidationEmitted = true
	r.mu.Unlock()

	if err := r.UpsertPosition(position("p1", models.SideLong, 2, 100, 10)); err != nil {
		t.Fatal(err)
	}

	r.mu.RLock()
	state := r.positions["p1"]
	r.mu.RUnlock()

	if state.breachStreak != 0 || state.liquidationEmitted {
		t.Fatalf("upsert did not reset risk state: %+v", state)
	}
	if !state.position.Size.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected replaced size 2, got %s", state.position.Size)
	}
}

func TestRemovePosition(t *testing.T) {
	r := NewRegistry()
	if err := r.UpsertPosition(position("p1", models.SideShort, 1, 100, 10)); err != nil {
		t.Fatal(err)
	}

	if !r.RemovePosition("p1") {
		t.Fatal("expected removal of existing position")
	}
	if r.RemovePosition("p1") {
		t.Fatal("removing a missing position must report false")
	}
	if _, ok := r.Position("p1"); ok {
		t.Fatal("removed position still readable")
	}
}

func TestPositionsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"p3", "p1", "p2"} {
		if err := r.UpsertPosition(position(id, models.SideLong, 1, 100, 10)); err != nil {
			t.Fatal(err)
		}
	}

	got := r.Positions()
	if len(got) != 3 || got[0].PositionID != "p1" || got[2].PositionID != "p3" {
		t.Fatalf("expected sorted positions, got %+v", got)
	}
}

func TestUpsertOrderValidation(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		name string
		o    models.TriggerOrder
	}{
		{"missing id", triggerOrder("", "p1", models.SideLong, models.TriggerTakeProfit, 110)},
		{"bad side", models.TriggerOrder{OrderID: "o1", Side: "none", Kind: models.TriggerTakeProfit, TriggerPrice: decimal.NewFromInt(100)}},
		{"bad kind", models.TriggerOrder{OrderID: "o1", Side: models.SideLong, Kind: "trailing", TriggerPrice: decimal.NewFromInt(100)}},
		{"zero trigger", triggerOrder("o1", "p1", models.SideLong, models.TriggerTakeProfit, 0)},
	}
	for _, c := range cases {
		if err := r.UpsertOrder(c.o); err == nil {
			t.Errorf("%s: expected rejection", c.name)
		}
	}

	executed := triggerOrder("o1", "p1", models.SideLong, models.TriggerTakeProfit, 110)
	executed.Status = models.TriggerExecuted
	if err := r.UpsertOrder(executed); err == nil {
		t.Error("submitting an already-executed order must be rejected")
	}

	if err := r.UpsertOrder(triggerOrder("o1", "p1", models.SideLong, models.TriggerTakeProfit, 110)); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}

	stored, ok := r.Order("o1")
	if !ok || stored.Status != models.TriggerPending {
		t.Fatalf("expected stored pending order, got %+v ok=%v", stored, ok)
	}
}

func TestUpsertOrderCannotReplaceExecuted(t *testing.T) {
	r := NewRegistry()
	if err := r.UpsertOrder(triggerOrder("o1", "p1", models.SideLong, models.TriggerTakeProfit, 110)); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	r.orders["o1"].Status = models.TriggerExecuted
	r.mu.Unlock()

	if err := r.UpsertOrder(triggerOrder("o1", "p1", models.SideLong, models.TriggerTakeProfit, 120)); err == nil {
		t.Fatal("replacing an executed order must be rejected")
	}
	stored, _ := r.Order("o1")
	if !stored.TriggerPrice.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("executed order mutated: %+v", stored)
	}
}

func TestCancelOrder(t *testing.T) {
	r := NewRegistry()

	if err := r.CancelOrder("missing"); err == nil {
		t.Fatal("cancelling a missing order must fail")
	}

	if err := r.UpsertOrder(triggerOrder("o1", "p1", models.SideShort, models.TriggerStopLoss, 120)); err != nil {
		t.Fatal(err)
	}
	if err := r.CancelOrder("o1"); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	stored, _ := r.Order("o1")
	if stored.Status != models.TriggerCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}

	// Cancelling twice is a no-op, not an error.
	if err := r.CancelOrder("o1"); err != nil {
		t.Fatalf("repeat cancel must be idempotent: %v", err)
	}

	r.mu.Lock()
	r.orders["o1"].Status = models.TriggerExecuted
	r.mu.Unlock()

	if err := r.CancelOrder("o1"); err == nil {
		t.Fatal("cancelling an executed order must fail")
	}
}

func TestCounts(t *testing.T) {
	r := NewRegistry()
	if err := r.UpsertPosition(position("p1", models.SideLong, 1, 100, 10)); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertOrder(triggerOrder("o1", "p1", models.SideLong, models.TriggerTakeProfit, 110)); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertOrder(triggerOrder("o2", "p1", models.SideLong, models.TriggerStopLoss, 90)); err != nil {
		t.Fatal(err)
	}

	positions, orders := r.Counts()
	if positions != 1 || orders != 2 {
		t.Fatalf("expected 1 position and 2 orders, got %d and %d", positions, orders)
	}
}

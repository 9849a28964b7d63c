package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideDirection(t *testing.T) {
	if !SideLong.Direction().Equal(decimal.NewFromInt(1)) {
		t.Errorf("long direction should be +1")
	}
	if !SideShort.Direction().Equal(decimal.NewFromInt(-1)) {
		t.Errorf("short direction should be -1")
	}
}

func TestPositionUnrealizedPnL(t *testing.T) {
	long := Position{
		Side:       SideLong,
		Size:       decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(100),
	}
	if got := long.UnrealizedPnL(decimal.NewFromInt(110)); !got.Equal(decimal.NewFromInt(20)) {
		t.Errorf("long pnl = %s, want 20", got)
	}

	short := Position{
		Side:       SideShort,
		Size:       decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(100),
	}
	if got := short.UnrealizedPnL(decimal.NewFromInt(110)); !got.Equal(decimal.NewFromInt(-20)) {
		t.Errorf("short pnl = %s, want -20", got)
	}
}

func TestTriggerCrossed(t *testing.T) {
	cases := []struct {
		name    string
		side    Side
		kind    TriggerKind
		trigger int64
		mark    int64
		want    bool
	}{
		{"long tp above", SideLong, TriggerTakeProfit, 100, 101, true},
		{"long tp below", SideLong, TriggerTakeProfit, 100, 99, false},
		{"long sl below", SideLong, TriggerStopLoss, 100, 99, true},
		{"long sl above", SideLong, TriggerStopLoss, 100, 101, false},
		{"short tp below", SideShort, TriggerTakeProfit, 100, 99, true},
		{"short tp above", SideShort, TriggerTakeProfit, 100, 101, false},
		{"short sl above", SideShort, TriggerStopLoss, 100, 101, true},
		{"short sl below", SideShort, TriggerStopLoss, 100, 99, false},
		{"exact touch fires", SideLong, TriggerTakeProfit, 100, 100, true},
	}

	for _, c := range cases {
		o := TriggerOrder{
			Side:         c.side,
			Kind:         c.kind,
			TriggerPrice: decimal.NewFromInt(c.trigger),
		}
		if got := o.Crossed(decimal.NewFromInt(c.mark)); got != c.want {
			t.Errorf("%s: Crossed = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDerivationFallback(t *testing.T) {
	if DerivationNormal.Fallback() || DerivationSmoothed.Fallback() {
		t.Errorf("normal and smoothed are not fallback derivations")
	}
	if !DerivationLastValid.Fallback() || !DerivationLastTraded.Fallback() {
		t.Errorf("last valid and last traded are fallback derivations")
	}
}

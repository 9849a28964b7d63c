package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Confidence grades an index price by how many configured sources survived
// filtering.
type Confidence string

const (
	ConfidenceFull         Confidence = "full"
	ConfidenceDegraded     Confidence = "degraded"
	ConfidenceInsufficient Confidence = "insufficient"
)

// IndexPrice is the aggregated multi-source reference price for one cycle.
// It is computed fresh each cycle and superseded, never edited.
type IndexPrice struct {
	Value      decimal.Decimal `json:"value"`
	ComputedAt time.Time       `json:"computed_at"`
	Sources    []string        `json:"sources"`
	Confidence Confidence      `json:"confidence"`
}

// Derivation records how a published mark price was produced.
type Derivation string

const (
	DerivationNormal     Derivation = "normal"
	DerivationSmoothed   Derivation = "smoothed"
	DerivationLastValid  Derivation = "last_valid_fallback"
	DerivationLastTraded Derivation = "last_traded_fallback"
)

// Fallback reports whether the derivation repeats a previous value instead of
// reflecting a freshly aggregated index. Liquidation evaluation is buffered
// on fallback derivations.
func (d Derivation) Fallback() bool {
	return d == DerivationLastValid || d == DerivationLastTraded
}

// MarkPriceSnapshot is one published mark price. Immutable once published;
// every consumer observing a version sees the identical value.
type MarkPriceSnapshot struct {
	Symbol          string          `json:"symbol"`
	Value           decimal.Decimal `json:"value"`
	Version         uint64          `json:"version"`
	ComputedAt      time.Time       `json:"computed_at"`
	Derivation      Derivation      `json:"derivation"`
	IndexValue      decimal.Decimal `json:"index_value"`
	IndexConfidence Confidence      `json:"index_confidence"`
	IndexSources    []string        `json:"index_sources"`
	FundingRate     decimal.Decimal `json:"funding_rate"`
}

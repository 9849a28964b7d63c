package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedSample is one accepted price observation from a feed source. Samples
// are immutable once stored; a source's newest sample replaces its previous
// one in the store.
type FeedSample struct {
	SourceID   string          `json:"source_id"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
	ReceivedAt time.Time       `json:"received_at"`
	Sequence   uint64          `json:"sequence"`
}

// SourceHealth pairs a source's latest sample with its staleness at the time
// the store snapshot was taken.
type SourceHealth struct {
	Sample    FeedSample    `json:"sample"`
	Staleness time.Duration `json:"staleness"`
}

// FundingRate is the externally supplied funding input to the mark price
// calculation. The calculator clamps the value before applying it.
type FundingRate struct {
	Value       decimal.Decimal `json:"value"`
	EffectiveAt time.Time       `json:"effective_at"`
}

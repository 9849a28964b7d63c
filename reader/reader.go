package reader

import (
	"time"

	"github.com/shopspring/decimal"

	"markflow/models"
)

// Sink receives feed observations from venue adapters. The engine implements
// it; reader tests substitute recording fakes.
type Sink interface {
	// SubmitSample stores a price observation for aggregation. Rejections
	// (non-positive price, out-of-order, stale on arrival) come back as
	// models.ErrInvalidSample wrapped errors.
	SubmitSample(sample models.FeedSample) error

	// SubmitFunding replaces the funding rate used by funding-adjusted marks.
	SubmitFunding(rate models.FundingRate)

	// SubmitTrade records the venue's own last traded price, the fallback
	// used while the engine is suspended.
	SubmitTrade(price decimal.Decimal, at time.Time) error
}

package markprice

import (
	"sync"

	"github.com/shopspring/decimal"

	"markflow/models"
)

// Mode selects how the index price is turned into a mark price candidate.
const (
	ModeDirect          = "direct"
	ModeFundingAdjusted = "funding_adjusted"
	ModeSmoothed        = "smoothed"
)

// Config holds the calculation parameters. The funding clamp and step limit
// are mandatory bounds; SmoothingAlpha only applies to ModeSmoothed.
type Config struct {
	Mode           string
	FundingClamp   float64
	StepLimit      float64
	SmoothingAlpha float64
}

// Calculator combines the index price with the funding rate into a mark price
// candidate and applies the maximum-step bound against the previously
// published mark. The smoothed mode keeps an EWMA of the funding-adjusted
// value across cycles.
type Calculator struct {
	mode      string
	clamp     decimal.Decimal
	stepLimit decimal.Decimal
	alpha     decimal.Decimal

	mu          sync.Mutex
	smoothed    decimal.Decimal
	hasSmoothed bool
}

// NewCalculator creates a calculator for the configured mode.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{
		mode:      cfg.Mode,
		clamp:     decimal.NewFromFloat(cfg.FundingClamp),
		stepLimit: decimal.NewFromFloat(cfg.StepLimit),
		alpha:     decimal.NewFromFloat(cfg.SmoothingAlpha),
	}
}

// Compute returns the mark price candidate and its derivation. prev is the
// previously published mark; the first mark of a run (hasPrev false) skips the
// step bound since there is nothing to step from. A candidate clamped by the
// step bound publishes as Smoothed rather than Normal.
func (c *Calculator) Compute(index decimal.Decimal, funding models.FundingRate, prev decimal.Decimal, hasPrev bool) (decimal.Decimal, models.Derivation) {
	candidate, derivation := c.candidate(index, funding)

	if !hasPrev || prev.Sign() <= 0 {
		return candidate, derivation
	}

	maxDelta := prev.Mul(c.stepLimit)
	delta := candidate.Sub(prev)
	if delta.Abs().GreaterThan(maxDelta) {
		if delta.Sign() > 0 {
			candidate = prev.Add(maxDelta)
		} else {
			candidate = prev.Sub(maxDelta)
		}
		derivation = models.DerivationSmoothed
	}

	return candidate, derivation
}

func (c *Calculator) candidate(index decimal.Decimal, funding models.FundingRate) (decimal.Decimal, models.Derivation) {
	switch c.mode {
	case ModeDirect:
		return index, models.DerivationNormal
	case ModeSmoothed:
		adjusted := c.fundingAdjusted(index, funding)

		c.mu.Lock()
		defer c.mu.Unlock()

		if !c.hasSmoothed {
			c.smoothed = adjusted
			c.hasSmoothed = true
			return c.smoothed, models.DerivationSmoothed
		}

		one := decimal.NewFromInt(1)
		c.smoothed = adjusted.Mul(c.alpha).Add(c.smoothed.Mul(one.Sub(c.alpha)))
		return c.smoothed, models.DerivationSmoothed
	default:
		return c.fundingAdjusted(index, funding), models.DerivationNormal
	}
}

// fundingAdjusted applies mark = index * (1 + clamp(funding, -f_max, f_max)).
// The clamp is unconditional: unbounded funding must never become an unbounded
// mark price jump.
func (c *Calculator) fundingAdjusted(index decimal.Decimal, funding models.FundingRate) decimal.Decimal {
	rate := funding.Value
	if rate.GreaterThan(c.clamp) {
		rate = c.clamp
	}
	if rate.LessThan(c.clamp.Neg()) {
		rate = c.clamp.Neg()
	}
	return index.Mul(decimal.NewFromInt(1).Add(rate))
}

// Reset clears the smoothing state. Used when derivation restarts after a
// suspension re-arm so the EWMA does not anchor to pre-outage values.
func (c *Calculator) Reset() {
	c.mu.Lock()
	c.hasSmoothed = false
	c.smoothed = decimal.Zero
	c.mu.Unlock()
}

package aggregator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"markflow/models"
)

// Config holds the aggregation parameters. All values are required; callers
// validate them at load time.
type Config struct {
	// MinSources is the minimum number of fresh sources needed to compute an
	// index at all.
	MinSources int
	// MaxStaleness bounds how old a sample may be to count as fresh.
	MaxStaleness time.Duration
	// OutlierThreshold is the maximum relative deviation from the median a
	// sample may have before it is discarded.
	OutlierThreshold float64
	// Weights are the static per-source weights, renormalized over the
	// surviving set each cycle. Sources without a weight never contribute.
	Weights map[string]float64
}

// Aggregator converts the current set of valid samples into one index price
// via weighted, outlier-filtered aggregation.
type Aggregator struct {
	cfg       Config
	threshold decimal.Decimal
}

// New creates an aggregator with the given parameters.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		threshold: decimal.NewFromFloat(cfg.OutlierThreshold),
	}
}

type contribution struct {
	source string
	price  decimal.Decimal
	weight decimal.Decimal
}

// Aggregate computes the index price from the store snapshot. The returned
// index carries Insufficient confidence together with a wrapped
// models.ErrInsufficientSources when fewer than MinSources fresh sources
// remain; the caller decides the fallback.
//
// Confidence is Full only when every configured source passed the staleness
// filter and enough samples existed for outlier rejection to have a basis
// (three or more). Two surviving samples produce a valid index but surface as
// Degraded: the median of two is their average and neither can be ruled an
// outlier.
func (a *Aggregator) Aggregate(health map[string]models.SourceHealth, now time.Time) (models.IndexPrice, error) {
	fresh := make([]contribution, 0, len(a.cfg.Weights))
	for source, weight := range a.cfg.Weights {
		if weight <= 0 {
			continue
		}
		h, ok := health[source]
		if !ok {
			continue
		}
		if h.Staleness > a.cfg.MaxStaleness {
			continue
		}
		fresh = append(fresh, contribution{
			source: source,
			price:  h.Sample.Price,
			weight: decimal.NewFromFloat(weight),
		})
	}

	if len(fresh) < a.cfg.MinSources {
		return models.IndexPrice{
				ComputedAt: now,
				Confidence: models.ConfidenceInsufficient,
			}, fmt.Errorf("%w: %d fresh of %d required",
				models.ErrInsufficientSources, len(fresh), a.cfg.MinSources)
	}

	surviving := fresh
	if len(fresh) >= 3 {
		med := median(fresh)
		surviving = make([]contribution, 0, len(fresh))
		for _, c := range fresh {
			deviation := c.price.Sub(med).Abs().Div(med)
			if deviation.GreaterThan(a.threshold) {
				continue
			}
			surviving = append(surviving, c)
		}
	}

	// A bimodal split can discard every sample when the median falls between
	// two distant camps. No consensus exists in that case.
	if len(surviving) == 0 {
		return models.IndexPrice{
				ComputedAt: now,
				Confidence: models.ConfidenceInsufficient,
			}, fmt.Errorf("%w: no consensus among %d fresh sources",
				models.ErrInsufficientSources, len(fresh))
	}

	num := decimal.Zero
	den := decimal.Zero
	sources := make([]string, 0, len(surviving))
	for _, c := range surviving {
		num = num.Add(c.price.Mul(c.weight))
		den = den.Add(c.weight)
		sources = append(sources, c.source)
	}
	sort.Strings(sources)

	confidence := models.ConfidenceDegraded
	if len(fresh) == len(a.cfg.Weights) && len(fresh) >= 3 {
		confidence = models.ConfidenceFull
	}

	return models.IndexPrice{
		Value:      num.Div(den),
		ComputedAt: now,
		Sources:    sources,
		Confidence: confidence,
	}, nil
}

// median returns the middle price of the contributions, or the average of the
// two middle prices for even counts.
func median(contribs []contribution) decimal.Decimal {
	prices := make([]decimal.Decimal, len(contribs))
	for i, c := range contribs {
		prices[i] = c.price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return prices[mid-1].Add(prices[mid]).Div(decimal.NewFromInt(2))
}

package binance

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	appconfig "markflow/config"
	"markflow/logger"
	"markflow/models"
)

// newRestClient builds a futures REST client honoring the configured endpoint
// override.
func newRestClient(cfg appconfig.BinanceSourceConfig) *futures.Client {
	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}

	if cfg.RestURL != "" {
		if parsed, err := url.Parse(cfg.RestURL); err == nil && parsed.Host != "" {
			client.SetApiEndpoint(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host))
		}
	}
	return client
}

func (r *Reader) pollPremiumIndex(symbol string, cfg appconfig.BinanceSourceConfig) {
	defer r.wg.Done()

	client := newRestClient(cfg)

	log := r.log.WithComponent("binance_feed").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "premium_index_poller",
	})
	log.Info("starting premium-index backfill worker")

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			start := time.Now()
			res, err := client.NewPremiumIndexService().Symbol(symbol).Do(r.ctx)
			duration := time.Since(start)
			if err != nil {
				log.WithError(err).Warn("failed to fetch premium index")
				continue
			}
			logger.LogPerformanceEntry(log, "binance_feed", "premium_index_request", duration, logger.Fields{
				"symbol": symbol,
			})

			if len(res) == 0 {
				log.Warn("premium index response empty")
				continue
			}
			r.submitPremiumIndex(res[0])
		}
	}
}

func (r *Reader) submitPremiumIndex(pi *futures.PremiumIndex) {
	log := r.log.WithComponent("binance_feed")

	price, err := decimal.NewFromString(pi.MarkPrice)
	if err != nil {
		log.WithError(err).Debug("unparseable premium-index mark price")
		return
	}

	observedAt := time.UnixMilli(pi.Time).UTC()
	if pi.Time <= 0 {
		observedAt = time.Now().UTC()
	}

	sample := models.FeedSample{
		SourceID:   SourceID,
		Price:      price,
		ObservedAt: observedAt,
	}
	// Overlap with the websocket shows up as out-of-order rejections.
	if err := r.sink.SubmitSample(sample); err != nil {
		log.WithError(err).Debug("premium-index backfill sample rejected")
		return
	}

	if pi.LastFundingRate != "" {
		if funding, err := decimal.NewFromString(pi.LastFundingRate); err == nil {
			r.sink.SubmitFunding(models.FundingRate{
				Value:       funding,
				EffectiveAt: observedAt,
			})
		}
	}
}

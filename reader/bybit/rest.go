package bybit

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"

	appconfig "markflow/config"
	"markflow/internal/metrics/rate"
	"markflow/internal/symbols"
	"markflow/logger"
	"markflow/models"
)

// newRestClient builds a v5 REST client. The websocket URL host is reused when
// no dedicated REST endpoint is configured.
func newRestClient(cfg appconfig.BybitSourceConfig) *bybit.Client {
	base := "https://api.bybit.com"
	if parsed, err := url.Parse(cfg.URL); err == nil && parsed.Host != "" && parsed.Scheme != "wss" && parsed.Scheme != "ws" {
		base = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	}
	return bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
}

type tickersResult struct {
	Category string        `json:"category"`
	List     []tickerEntry `json:"list"`
}

func (r *Reader) pollTickers(cfg appconfig.BybitSourceConfig) {
	defer r.wg.Done()

	client := newRestClient(cfg)

	log := r.log.WithComponent("bybit_feed").WithFields(logger.Fields{
		"symbol": r.symbol,
		"worker": "tickers_poller",
	})
	log.Info("starting tickers backfill worker")

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			r.fetchTickers(client)
		}
	}
}

func (r *Reader) fetchTickers(client *bybit.Client) {
	log := r.log.WithComponent("bybit_feed").WithFields(logger.Fields{
		"symbol":    r.symbol,
		"operation": "fetch_tickers",
	})

	params := map[string]interface{}{
		"category": r.category,
		"symbol":   r.symbol,
	}

	start := time.Now()
	resp, err := client.NewUtaBybitServiceWithParams(params).GetMarketTickers(r.ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch tickers")
		return
	}
	logger.LogPerformanceEntry(log, "bybit_feed", "tickers_request", time.Since(start), logger.Fields{
		"symbol": r.symbol,
	})

	if resp.RetCode != 0 {
		rate.ReportLimitFromMessage(r.log, SourceID, r.symbol, "", "feed", resp.RetMsg)
		log.WithFields(logger.Fields{"ret_code": resp.RetCode, "message": resp.RetMsg}).Warn("tickers request refused")
		return
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		log.WithError(err).Warn("failed to marshal tickers result")
		return
	}
	var result tickersResult
	if err := json.Unmarshal(payload, &result); err != nil {
		log.WithError(err).Warn("failed to decode tickers result")
		return
	}

	observedAt := time.Now().UTC()
	if resp.Time > 0 {
		observedAt = time.UnixMilli(resp.Time).UTC()
	}

	for _, entry := range result.List {
		if canon := symbols.ToCanonical(SourceID, entry.Symbol); canon != r.expected {
			continue
		}
		if entry.MarkPrice == "" {
			continue
		}
		price, err := decimal.NewFromString(entry.MarkPrice)
		if err != nil {
			log.WithError(err).Debug("unparseable tickers mark price")
			continue
		}
		sample := models.FeedSample{
			SourceID:   SourceID,
			Price:      price,
			ObservedAt: observedAt,
		}
		// Overlap with the websocket shows up as out-of-order rejections.
		if err := r.sink.SubmitSample(sample); err != nil {
			log.WithError(err).Debug("tickers backfill sample rejected")
		}
		if entry.FundingRate != "" {
			if funding, err := decimal.NewFromString(entry.FundingRate); err == nil {
				r.sink.SubmitFunding(models.FundingRate{
					Value:       funding,
					EffectiveAt: observedAt,
				})
			}
		}
	}
}

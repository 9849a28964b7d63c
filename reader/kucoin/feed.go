package kucoin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	appconfig "markflow/config"
	"markflow/internal/symbols"
	"markflow/logger"
	"markflow/models"
	"markflow/reader"
)

// SourceID identifies kucoin samples in the feed store and weight table.
const SourceID = "kucoin"

// Reader polls the KuCoin futures contract endpoint for mark prices.
type Reader struct {
	config    *appconfig.Config
	sink      reader.Sink
	marketAPI futuresmarket.MarketAPI

	ctx context.Context
	wg  *sync.WaitGroup
	mu  sync.RWMutex

	log      *logger.Log
	running  bool
	symbol   string
	expected string
	limiter  *rate.Limiter
	interval time.Duration
}

// NewReader constructs a kucoin feed adapter pushing into the given sink.
func NewReader(cfg *appconfig.Config, sink reader.Sink) *Reader {
	srcCfg := cfg.Sources.Kucoin

	baseURL := srcCfg.URL
	if baseURL == "" {
		baseURL = "https://api-futures.kucoin.com"
	}

	timeout := srcCfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(srcCfg.ConnectionPool.MaxIdleConns).
		SetMaxIdleConnsPerHost(srcCfg.ConnectionPool.MaxIdleConns).
		SetMaxConnsPerHost(srcCfg.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(srcCfg.ConnectionPool.IdleConnTimeout).
		SetTimeout(timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)
	marketAPI := client.RestService().GetFuturesService().GetMarketAPI()

	rps := srcCfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := srcCfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Reader{
		config:    cfg,
		sink:      sink,
		marketAPI: marketAPI,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Start schedules the polling loop.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("kucoin feed reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Sources.Kucoin
	if !cfg.Enabled {
		return fmt.Errorf("kucoin feed disabled via configuration")
	}

	r.symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if r.symbol == "" {
		return fmt.Errorf("no symbol configured for kucoin feed reader")
	}
	r.expected = symbols.ToCanonical(SourceID, r.symbol)

	r.interval = cfg.PollInterval
	if r.interval <= 0 {
		r.interval = time.Second
	}

	r.wg.Add(1)
	go r.pollSymbol(r.symbol)

	r.log.WithComponent("kucoin_feed").WithFields(logger.Fields{
		"symbol":   r.symbol,
		"interval": r.interval.String(),
	}).Info("kucoin feed reader started")
	return nil
}

// Stop waits for the polling goroutine to finish.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("kucoin_feed").Info("stopping kucoin feed reader")
	r.wg.Wait()
	r.log.WithComponent("kucoin_feed").Info("kucoin feed reader stopped")
}

func (r *Reader) pollSymbol(symbol string) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.fetchOnce(symbol); err != nil {
			r.log.WithComponent("kucoin_feed").WithFields(logger.Fields{
				"symbol": symbol,
			}).WithError(err).Debug("failed to fetch kucoin contract")
		}

		select {
		case <-ticker.C:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reader) fetchOnce(symbol string) error {
	if err := r.limiter.Wait(r.ctx); err != nil {
		return err
	}

	req := futuresmarket.NewGetSymbolReqBuilder().SetSymbol(symbol).Build()
	resp, err := r.marketAPI.GetSymbol(req, r.ctx)
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("empty response for symbol %s", symbol)
	}

	return r.submitContract(resp)
}

// submitContract converts a contract detail response into a feed sample. The
// endpoint carries no observation timestamp, so receipt time is used.
func (r *Reader) submitContract(resp *futuresmarket.GetSymbolResp) error {
	if canon := symbols.ToCanonical(SourceID, resp.Symbol); canon != r.expected {
		return fmt.Errorf("contract response for foreign symbol %s", resp.Symbol)
	}
	if resp.MarkPrice <= 0 {
		return fmt.Errorf("contract response without mark price for %s", resp.Symbol)
	}

	sample := models.FeedSample{
		SourceID:   SourceID,
		Price:      decimal.NewFromFloat(resp.MarkPrice),
		ObservedAt: time.Now().UTC(),
	}
	if err := r.sink.SubmitSample(sample); err != nil {
		r.log.WithComponent("kucoin_feed").WithError(err).Debug("kucoin mark sample rejected")
	}
	return nil
}

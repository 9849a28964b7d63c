package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	appconfig "markflow/config"
	"markflow/internal/symbols"
	"markflow/logger"
	"markflow/models"
	"markflow/reader"
)

// SourceID identifies binance samples in the feed store and weight table.
const SourceID = "binance"

// Reader streams mark-price updates from the Binance futures websocket and
// backfills over REST while the stream is down.
type Reader struct {
	config   *appconfig.Config
	sink     reader.Sink
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	expected string
}

// NewReader constructs a binance feed adapter pushing into the given sink.
func NewReader(cfg *appconfig.Config, sink reader.Sink) *Reader {
	return &Reader{
		config: cfg,
		sink:   sink,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

// Start launches the websocket worker and, when a poll interval is
// configured, the REST backfill worker.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance feed reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Sources.Binance
	if !cfg.Enabled {
		return fmt.Errorf("binance feed disabled via configuration")
	}
	if cfg.Symbol == "" {
		return fmt.Errorf("no symbol configured for binance feed reader")
	}

	r.expected = symbols.ToCanonical(SourceID, cfg.Symbol)

	r.wg.Add(1)
	go r.streamSymbol(strings.ToUpper(cfg.Symbol), cfg)

	if cfg.PollInterval > 0 {
		r.wg.Add(1)
		go r.pollPremiumIndex(strings.ToUpper(cfg.Symbol), cfg)
	}

	r.log.WithComponent("binance_feed").WithFields(logger.Fields{
		"symbol":        cfg.Symbol,
		"poll_interval": cfg.PollInterval,
	}).Info("binance feed reader started")
	return nil
}

// Stop waits for all workers to exit.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_feed").Info("stopping binance feed reader")
	r.wg.Wait()
	r.log.WithComponent("binance_feed").Info("binance feed reader stopped")
}

type markPricePayload struct {
	Event                string `json:"e"`
	EventTime            int64  `json:"E"`
	Symbol               string `json:"s"`
	MarkPrice            string `json:"p"`
	IndexPrice           string `json:"i"`
	EstimatedSettlePrice string `json:"P"`
	FundingRate          string `json:"r"`
	NextFundingTime      int64  `json:"T"`
}

func (r *Reader) streamSymbol(symbol string, cfg appconfig.BinanceSourceConfig) {
	defer r.wg.Done()

	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		baseURL = "wss://fstream.binance.com/ws"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	reconnect := cfg.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}

	endpoint := fmt.Sprintf("%s/%s@markPrice@1s", baseURL, strings.ToLower(symbol))

	log := r.log.WithComponent("binance_feed").WithFields(logger.Fields{
		"symbol":   symbol,
		"endpoint": endpoint,
	})

	dialer := websocket.Dialer{}

	for {
		if r.ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.Dial(endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to binance mark-price websocket")
			select {
			case <-time.After(reconnect):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				log.WithError(err).Warn("binance mark-price stream error, reconnecting")
				break
			}
			r.handleMessage(raw)
		}

		select {
		case <-time.After(reconnect):
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reader) handleMessage(raw []byte) {
	log := r.log.WithComponent("binance_feed")

	var payload markPricePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.WithError(err).Debug("failed to decode binance mark-price payload")
		return
	}

	if canon := symbols.ToCanonical(SourceID, payload.Symbol); canon != r.expected {
		log.WithFields(logger.Fields{"symbol": payload.Symbol}).Debug("ignoring update for foreign symbol")
		return
	}

	price, err := decimal.NewFromString(payload.MarkPrice)
	if err != nil {
		log.WithError(err).Debug("unparseable binance mark price")
		return
	}

	observedAt := time.UnixMilli(payload.EventTime).UTC()
	if payload.EventTime <= 0 {
		observedAt = time.Now().UTC()
	}

	sample := models.FeedSample{
		SourceID:   SourceID,
		Price:      price,
		ObservedAt: observedAt,
	}
	if err := r.sink.SubmitSample(sample); err != nil {
		log.WithError(err).Debug("binance mark sample rejected")
	}

	if payload.FundingRate != "" {
		if funding, err := decimal.NewFromString(payload.FundingRate); err == nil {
			r.sink.SubmitFunding(models.FundingRate{
				Value:       funding,
				EffectiveAt: observedAt,
			})
		}
	}
}

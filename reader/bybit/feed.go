package bybit

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

// SourceID identifies bybit samples in the feed store and weight table.
const SourceID = "bybit"

// Reader streams mark-price updates from the Bybit v5 tickers websocket and
// backfills over REST while the stream is down.
type Reader struct {
	config   *appconfig.Config
	sink     reader.Sink
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbol   string
	category string
	expected string
	wsConn   *websocket.Conn
	connMu   sync.Mutex
	wg       sync.WaitGroup
}

// NewReader constructs a bybit feed adapter pushing into the given sink.
func NewReader(cfg *appconfig.Config, sink reader.Sink) *Reader {
	return &Reader{
		config: cfg,
		sink:   sink,
		log:    logger.GetLogger(),
	}
}

// Start opens the websocket subscription and, when a poll interval is
// configured, the REST backfill worker.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit feed reader already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	cfg := r.config.Sources.Bybit
	if !cfg.Enabled {
		return fmt.Errorf("bybit feed disabled via configuration")
	}

	r.symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if r.symbol == "" {
		return fmt.Errorf("no symbol configured for bybit feed reader")
	}

	r.category = strings.TrimSpace(cfg.Category)
	if r.category == "" {
		r.category = "linear"
	}

	r.expected = symbols.ToCanonical(SourceID, r.symbol)

	wsURL := cfg.URL
	if wsURL == "" {
		wsURL = fmt.Sprintf("wss://stream.bybit.com/v5/public/%s", r.category)
	}

	topics := []string{fmt.Sprintf("tickers.%s", r.symbol)}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runWebSocket(r.ctx, wsURL, topics, cfg.ReconnectDelay, r.log.WithComponent("bybit_feed"), r.handleMessage, r.trackConn)
	}()

	if cfg.PollInterval > 0 {
		r.wg.Add(1)
		go r.pollTickers(cfg)
	}

	go r.monitorContext()

	r.log.WithComponent("bybit_feed").WithFields(logger.Fields{
		"symbol":   r.symbol,
		"category": r.category,
	}).Info("bybit feed reader started")
	return nil
}

// Stop disconnects the websocket and cancels workers.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.closeActiveConn()
	r.wg.Wait()
	r.log.WithComponent("bybit_feed").Info("bybit feed reader stopped")
}

func (r *Reader) monitorContext() {
	<-r.ctx.Done()
	r.Stop()
}

type tickerEntry struct {
	Symbol          string `json:"symbol"`
	LastPrice       string `json:"lastPrice"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

type tickerPayload struct {
	Topic string      `json:"topic"`
	Type  string      `json:"type"`
	Ts    int64       `json:"ts"`
	Data  tickerEntry `json:"data"`
}

func (r *Reader) handleMessage(raw string) error {
	log := r.log.WithComponent("bybit_feed")

	var ack struct {
		Op      string `json:"op"`
		Success bool   `json:"success"`
		RetMsg  string `json:"ret_msg"`
	}
	if err := json.Unmarshal([]byte(raw), &ack); err == nil && ack.Op != "" {
		if ack.Op != "pong" && !ack.Success {
			log.WithFields(logger.Fields{
				"op":      ack.Op,
				"message": ack.RetMsg,
			}).Warn("tickers subscription acknowledgement failure")
		}
		return nil
	}

	var payload tickerPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	if !strings.HasPrefix(payload.Topic, "tickers") {
		return nil
	}

	if canon := symbols.ToCanonical(SourceID, payload.Data.Symbol); canon != r.expected {
		return nil
	}

	observedAt := time.Now().UTC()
	if payload.Ts > 0 {
		observedAt = time.UnixMilli(payload.Ts).UTC()
	}

	// Delta frames omit unchanged fields, so an absent mark price is normal.
	if payload.Data.MarkPrice != "" {
		price, err := decimal.NewFromString(payload.Data.MarkPrice)
		if err != nil {
			log.WithError(err).Debug("unparseable bybit mark price")
		} else {
			sample := models.FeedSample{
				SourceID:   SourceID,
				Price:      price,
				ObservedAt: observedAt,
			}
			if err := r.sink.SubmitSample(sample); err != nil {
				log.WithError(err).Debug("bybit mark sample rejected")
			}
		}
	}

	if payload.Data.FundingRate != "" {
		if funding, err := decimal.NewFromString(payload.Data.FundingRate); err == nil {
			r.sink.SubmitFunding(models.FundingRate{
				Value:       funding,
				EffectiveAt: observedAt,
			})
		}
	}
	return nil
}

func (r *Reader) trackConn(conn *websocket.Conn) {
	r.connMu.Lock()
	r.wsConn = conn
	r.connMu.Unlock()
}

func (r *Reader) closeActiveConn() {
	r.connMu.Lock()
	conn := r.wsConn
	r.wsConn = nil
	r.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

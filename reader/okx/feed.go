package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	appconfig "markflow/config"
	ratemetrics "markflow/internal/metrics/rate"
	"markflow/internal/symbols"
	"markflow/logger"
	"markflow/models"
	"markflow/reader"
)

// SourceID identifies okx samples in the feed store and weight table.
const SourceID = "okx"

// Reader polls the OKX public mark-price endpoint.
type Reader struct {
	config   *appconfig.Config
	sink     reader.Sink
	client   *http.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	limiter  *rate.Limiter
	endpoint string
	instID   string
	instType string
	expected string
	interval time.Duration
}

// NewReader constructs an okx feed adapter pushing into the given sink.
func NewReader(cfg *appconfig.Config, sink reader.Sink) *Reader {
	srcCfg := cfg.Sources.Okx

	timeout := srcCfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rps := srcCfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := srcCfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Reader{
		config:  cfg,
		sink:    sink,
		client:  &http.Client{Timeout: timeout},
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Start schedules the polling loop.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("okx feed reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Sources.Okx
	if !cfg.Enabled {
		return fmt.Errorf("okx feed disabled via configuration")
	}

	r.instID = strings.ToUpper(strings.TrimSpace(cfg.InstID))
	if r.instID == "" {
		return fmt.Errorf("no instrument configured for okx feed reader")
	}
	r.instType = strings.ToUpper(strings.TrimSpace(cfg.InstType))
	if r.instType == "" {
		r.instType = "SWAP"
	}
	r.expected = symbols.ToCanonical(SourceID, r.instID)

	r.endpoint = strings.TrimRight(cfg.URL, "/")
	if r.endpoint == "" {
		r.endpoint = "https://www.okx.com/api/v5/public/mark-price"
	}

	r.interval = cfg.PollInterval
	if r.interval <= 0 {
		r.interval = time.Second
	}

	r.wg.Add(1)
	go r.poll()

	r.log.WithComponent("okx_feed").WithFields(logger.Fields{
		"inst_id":  r.instID,
		"interval": r.interval.String(),
	}).Info("okx feed reader started")
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

	r.log.WithComponent("okx_feed").Info("stopping okx feed reader")
	r.wg.Wait()
	r.log.WithComponent("okx_feed").Info("okx feed reader stopped")
}

func (r *Reader) poll() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.fetchOnce(); err != nil && r.ctx.Err() == nil {
			r.log.WithComponent("okx_feed").WithFields(logger.Fields{
				"inst_id": r.instID,
			}).WithError(err).Debug("failed to fetch okx mark price")
		}

		select {
		case <-ticker.C:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reader) fetchOnce() error {
	if err := r.limiter.Wait(r.ctx); err != nil {
		return err
	}

	log := r.log.WithComponent("okx_feed").WithFields(logger.Fields{"inst_id": r.instID})

	reqURL := fmt.Sprintf("%s?instType=%s&instId=%s", r.endpoint, url.QueryEscape(r.instType), url.QueryEscape(r.instID))
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "markflow/1.0")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "okx_feed", "api_request", time.Since(start), logger.Fields{
		"inst_id": r.instID,
	})

	ratemetrics.ReportOkxUsedWeight(r.log, resp.Header, "")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		ratemetrics.ReportLimitFromMessage(r.log, SourceID, r.instID, "", "feed", string(body))
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}

	return r.processResponse(body)
}

type markPriceResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstType string `json:"instType"`
		InstID   string `json:"instId"`
		MarkPx   string `json:"markPx"`
		Ts       string `json:"ts"`
	} `json:"data"`
}

func (r *Reader) processResponse(raw []byte) error {
	log := r.log.WithComponent("okx_feed")

	var payload markPriceResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("failed to decode mark-price response: %w", err)
	}

	if payload.Code != "0" {
		ratemetrics.ReportLimitFromMessage(r.log, SourceID, r.instID, "", "feed", payload.Msg)
		return fmt.Errorf("okx mark-price request refused: %s", payload.Msg)
	}

	for _, entry := range payload.Data {
		if canon := symbols.ToCanonical(SourceID, entry.InstID); canon != r.expected {
			continue
		}

		price, err := decimal.NewFromString(entry.MarkPx)
		if err != nil {
			log.WithError(err).Debug("unparseable okx mark price")
			continue
		}

		observedAt := time.Now().UTC()
		if entry.Ts != "" {
			if parsed, err := strconv.ParseInt(entry.Ts, 10, 64); err == nil {
				observedAt = time.UnixMilli(parsed).UTC()
			}
		}

		sample := models.FeedSample{
			SourceID:   SourceID,
			Price:      price,
			ObservedAt: observedAt,
		}
		if err := r.sink.SubmitSample(sample); err != nil {
			log.WithError(err).Debug("okx mark sample rejected")
		}
	}
	return nil
}

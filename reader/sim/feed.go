package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	appconfig "markflow/config"
	"markflow/logger"
	"markflow/models"
	"markflow/reader"
)

const (
	defaultDrift   = 0.0005
	fundingCeiling = 0.003
)

// Reader generates a deterministic random-walk feed for development and
// integration tests. Every configured source id walks independently off the
// same seeded generator, so runs with equal seeds produce equal prices.
type Reader struct {
	config  *appconfig.Config
	sink    reader.Sink
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	rng        *rand.Rand
	sources    []string
	prices     []float64
	base       float64
	drift      float64
	funding    float64
	interval   time.Duration
	tradeEvery int
	tick       int
}

// NewReader constructs the simulator pushing into the given sink.
func NewReader(cfg *appconfig.Config, sink reader.Sink) *Reader {
	simCfg := cfg.Sources.Sim

	seed := simCfg.Seed
	if seed == 0 {
		seed = 1
	}

	interval := simCfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	drift := simCfg.Drift
	if drift <= 0 {
		drift = defaultDrift
	}

	tradeEvery := 0
	if simCfg.TradeInterval > 0 {
		tradeEvery = int(simCfg.TradeInterval / interval)
		if tradeEvery < 1 {
			tradeEvery = 1
		}
	}

	sources := append([]string(nil), simCfg.Sources...)
	prices := make([]float64, len(sources))
	for i := range prices {
		prices[i] = simCfg.BasePrice
	}

	return &Reader{
		config:     cfg,
		sink:       sink,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
		rng:        rand.New(rand.NewSource(seed)),
		sources:    sources,
		prices:     prices,
		base:       simCfg.BasePrice,
		drift:      drift,
		interval:   interval,
		tradeEvery: tradeEvery,
	}
}

// Start launches the generator loop.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("sim feed reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Sources.Sim
	if !cfg.Enabled {
		return fmt.Errorf("sim feed disabled via configuration")
	}
	if len(r.sources) == 0 {
		return fmt.Errorf("no sources configured for sim feed reader")
	}
	if r.base <= 0 {
		return fmt.Errorf("sim feed requires a positive base price")
	}

	r.wg.Add(1)
	go r.loop()

	r.log.WithComponent("sim_feed").WithFields(logger.Fields{
		"sources":    r.sources,
		"interval":   r.interval.String(),
		"base_price": r.base,
	}).Info("sim feed reader started")
	return nil
}

// Stop waits for the generator loop to finish.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("sim_feed").Info("stopping sim feed reader")
	r.wg.Wait()
	r.log.WithComponent("sim_feed").Info("sim feed reader stopped")
}

func (r *Reader) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.step(time.Now().UTC())
		}
	}
}

// step advances every source one walk increment and submits the results.
// Observation times must strictly increase between calls or the store
// rejects the repeat.
func (r *Reader) step(now time.Time) {
	log := r.log.WithComponent("sim_feed")

	for i, source := range r.sources {
		shock := r.rng.NormFloat64() * r.drift
		r.prices[i] *= 1 + shock
		if r.prices[i] <= 0 {
			r.prices[i] = r.base
		}

		sample := models.FeedSample{
			SourceID:   source,
			Price:      decimal.NewFromFloat(r.prices[i]),
			ObservedAt: now,
		}
		if err := r.sink.SubmitSample(sample); err != nil {
			log.WithError(err).Debug("sim sample rejected")
		}
	}

	r.funding += r.rng.NormFloat64() * r.drift * 0.1
	if r.funding > fundingCeiling {
		r.funding = fundingCeiling
	}
	if r.funding < -fundingCeiling {
		r.funding = -fundingCeiling
	}
	r.sink.SubmitFunding(models.FundingRate{
		Value:       decimal.NewFromFloat(r.funding),
		EffectiveAt: now,
	})

	if r.tradeEvery > 0 {
		r.tick++
		if r.tick%r.tradeEvery == 0 {
			trade := r.mean() * (1 + r.rng.NormFloat64()*r.drift*0.5)
			if err := r.sink.SubmitTrade(decimal.NewFromFloat(trade), now); err != nil {
				log.WithError(err).Debug("sim trade rejected")
			}
		}
	}
}

func (r *Reader) mean() float64 {
	var sum float64
	for _, p := range r.prices {
		sum += p
	}
	return sum / float64(len(r.prices))
}

package kucoin

import (
	"context"
	"testing"
	"time"

	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	"github.com/shopspring/decimal"

	appconfig "markflow/config"
	"markflow/logger"
	"markflow/models"
)

type fakeSink struct {
	samples []models.FeedSample
}

func (f *fakeSink) SubmitSample(s models.FeedSample) error {
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeSink) SubmitFunding(r models.FundingRate) {}

func (f *fakeSink) SubmitTrade(price decimal.Decimal, at time.Time) error {
	return nil
}

func minimalConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Sources.Kucoin = appconfig.KucoinSourceConfig{
		Enabled:      true,
		URL:          "https://example.com",
		Symbol:       "XBT-USDTM",
		PollInterval: time.Second,
		ConnectionPool: appconfig.ConnectionPoolConfig{
			MaxIdleConns:    1,
			MaxConnsPerHost: 1,
			IdleConnTimeout: time.Second,
		},
		Timeout: time.Second,
	}
	return cfg
}

func TestNewReader(t *testing.T) {
	if r := NewReader(minimalConfig(), &fakeSink{}); r == nil {
		t.Fatal("NewReader returned nil")
	}
}

func TestSubmitContract(t *testing.T) {
	sink := &fakeSink{}
	r := &Reader{sink: sink, log: logger.GetLogger(), expected: "BTCUSDT"}

	err := r.submitContract(&futuresmarket.GetSymbolResp{
		Symbol:    "XBTUSDTM",
		MarkPrice: 64250.5,
	})
	if err != nil {
		t.Fatalf("submitContract: %v", err)
	}

	if len(sink.samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(sink.samples))
	}
	s := sink.samples[0]
	if s.SourceID != SourceID {
		t.Errorf("unexpected source id: %s", s.SourceID)
	}
	if !s.Price.Equal(decimal.NewFromFloat(64250.5)) {
		t.Errorf("unexpected price: %s", s.Price)
	}
	if s.ObservedAt.IsZero() {
		t.Error("observed_at not set")
	}
}

func TestSubmitContractRejectsForeignSymbol(t *testing.T) {
	sink := &fakeSink{}
	r := &Reader{sink: sink, log: logger.GetLogger(), expected: "BTCUSDT"}

	if err := r.submitContract(&futuresmarket.GetSymbolResp{Symbol: "ETHUSDTM", MarkPrice: 1}); err == nil {
		t.Fatal("expected error for foreign symbol")
	}
	if len(sink.samples) != 0 {
		t.Fatalf("foreign symbol must not produce samples")
	}
}

func TestSubmitContractRequiresMarkPrice(t *testing.T) {
	sink := &fakeSink{}
	r := &Reader{sink: sink, log: logger.GetLogger(), expected: "BTCUSDT"}

	if err := r.submitContract(&futuresmarket.GetSymbolResp{Symbol: "XBTUSDTM"}); err == nil {
		t.Fatal("expected error for missing mark price")
	}
}

func TestStartRequiresEnabledSource(t *testing.T) {
	cfg := minimalConfig()
	cfg.Sources.Kucoin.Enabled = false
	r := NewReader(cfg, &fakeSink{})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for disabled source")
	}
}

package okx

import (
	"context"
	"testing"
	"time"

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

func newTestReader(sink *fakeSink) *Reader {
	return &Reader{
		sink:     sink,
		log:      logger.GetLogger(),
		instID:   "BTC-USDT-SWAP",
		expected: "BTCUSDT",
	}
}

func TestProcessResponse(t *testing.T) {
	sink := &fakeSink{}
	r := newTestReader(sink)

	raw := []byte(`{"code":"0","msg":"","data":[{"instType":"SWAP","instId":"BTC-USDT-SWAP","markPx":"64250.1","ts":"1700000000000"}]}`)
	if err := r.processResponse(raw); err != nil {
		t.Fatalf("processResponse: %v", err)
	}

	if len(sink.samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(sink.samples))
	}
	s := sink.samples[0]
	if s.SourceID != SourceID {
		t.Errorf("unexpected source id: %s", s.SourceID)
	}
	if !s.Price.Equal(decimal.RequireFromString("64250.1")) {
		t.Errorf("unexpected price: %s", s.Price)
	}
	if want := time.UnixMilli(1700000000000).UTC(); !s.ObservedAt.Equal(want) {
		t.Errorf("unexpected observed_at: %s", s.ObservedAt)
	}
}

func TestProcessResponseIgnoresForeignInstrument(t *testing.T) {
	sink := &fakeSink{}
	r := newTestReader(sink)

	raw := []byte(`{"code":"0","msg":"","data":[{"instType":"SWAP","instId":"ETH-USDT-SWAP","markPx":"3300.2","ts":"1700000000000"}]}`)
	if err := r.processResponse(raw); err != nil {
		t.Fatalf("processResponse: %v", err)
	}
	if len(sink.samples) != 0 {
		t.Fatalf("foreign instrument must be ignored, got %d samples", len(sink.samples))
	}
}

func TestProcessResponseRefusal(t *testing.T) {
	sink := &fakeSink{}
	r := newTestReader(sink)

	raw := []byte(`{"code":"50011","msg":"Too Many Requests","data":[]}`)
	if err := r.processResponse(raw); err == nil {
		t.Fatal("expected error for refused request")
	}
	if len(sink.samples) != 0 {
		t.Fatalf("refused request must not produce samples")
	}
}

func TestProcessResponseSkipsBadPrices(t *testing.T) {
	sink := &fakeSink{}
	r := newTestReader(sink)

	raw := []byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","markPx":"","ts":"1700000000000"},{"instId":"BTC-USDT-SWAP","markPx":"64251.0","ts":"1700000001000"}]}`)
	if err := r.processResponse(raw); err != nil {
		t.Fatalf("processResponse: %v", err)
	}
	if len(sink.samples) != 1 {
		t.Fatalf("expected exactly the parseable entry, got %d samples", len(sink.samples))
	}
}

func TestStartRequiresEnabledSource(t *testing.T) {
	cfg := &appconfig.Config{}
	r := NewReader(cfg, &fakeSink{})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for disabled source")
	}

	cfg.Sources.Okx.Enabled = true
	r2 := NewReader(cfg, &fakeSink{})
	if err := r2.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing instrument")
	}
}

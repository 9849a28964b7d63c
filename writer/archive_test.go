package writer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	appconfig "markflow/config"
	"markflow/logger"
	"markflow/models"
)

func testArchiveConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Markflow.Name = "markflow"
	cfg.Storage.S3.Bucket = "marks-archive"
	cfg.Storage.S3.Prefix = "marks"
	cfg.Writer.Archive.BatchSize = 4
	cfg.Writer.Archive.FlushInterval = time.Minute
	return cfg
}

func testSnapshot(version uint64) models.MarkPriceSnapshot {
	return models.MarkPriceSnapshot{
		Symbol:          "BTCUSDT",
		Value:           decimal.NewFromFloat(64250.5),
		Version:         version,
		ComputedAt:      time.Date(2026, 8, 25, 6, 30, 0, 0, time.UTC),
		Derivation:      models.DerivationNormal,
		IndexValue:      decimal.NewFromFloat(64249.9),
		IndexConfidence: models.ConfidenceFull,
		IndexSources:    []string{"binance", "bybit", "okx"},
		FundingRate:     decimal.NewFromFloat(0.0001),
	}
}

func newTestArchiveWriter() *ArchiveWriter {
	return &ArchiveWriter{
		config: testArchiveConfig(),
		buffer: make(map[string][]models.MarkPriceSnapshot),
		log:    logger.GetLogger(),
	}
}

func TestAddSnapshotBuffersBySymbol(t *testing.T) {
	w := newTestArchiveWriter()

	for i := uint64(1); i <= 3; i++ {
		if w.addSnapshot(testSnapshot(i)) {
			t.Fatalf("flush requested before batch size at version %d", i)
		}
	}
	if !w.addSnapshot(testSnapshot(4)) {
		t.Fatal("expected flush request at batch size")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if got := len(w.buffer["BTCUSDT"]); got != 4 {
		t.Fatalf("expected 4 buffered snapshots, got %d", got)
	}
}

func TestCreateParquetProducesFile(t *testing.T) {
	w := newTestArchiveWriter()

	data, err := w.createParquet([]models.MarkPriceSnapshot{testSnapshot(1), testSnapshot(2)})
	if err != nil {
		t.Fatalf("createParquet: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty parquet output")
	}
	magic := []byte("PAR1")
	if !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
		t.Fatalf("output missing parquet magic, got %d bytes", len(data))
	}
}

func TestToRecordNarrowsSnapshot(t *testing.T) {
	snap := testSnapshot(7)
	rec := toRecord(snap)

	if rec.Symbol != "BTCUSDT" || rec.Version != 7 {
		t.Fatalf("unexpected identity columns: %+v", rec)
	}
	if rec.Value != 64250.5 || rec.IndexValue != 64249.9 {
		t.Fatalf("unexpected price columns: %+v", rec)
	}
	if rec.Derivation != "normal" || rec.IndexConfidence != "full" {
		t.Fatalf("unexpected label columns: %+v", rec)
	}
	if rec.IndexSources != "binance,bybit,okx" {
		t.Fatalf("unexpected source column: %q", rec.IndexSources)
	}
	if rec.ComputedAt != snap.ComputedAt.UnixMilli() {
		t.Fatalf("unexpected timestamp column: %d", rec.ComputedAt)
	}
}

func TestS3KeyLayout(t *testing.T) {
	w := newTestArchiveWriter()
	ts := time.Date(2026, 8, 25, 6, 30, 0, 0, time.UTC)

	key := w.s3Key("BTCUSDT", ts, "0a1b2c3d")
	wantPrefix := "marks/symbol=BTCUSDT/year=2026/month=08/day=25/hour=06/"
	if !strings.HasPrefix(key, wantPrefix) {
		t.Fatalf("key %q does not start with %q", key, wantPrefix)
	}
	if !strings.Contains(key, "markflow_marks_20260825063000_0a1b2c3d") {
		t.Fatalf("key %q missing filename parts", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Fatalf("key %q missing parquet extension", key)
	}
}

func TestVersionBounds(t *testing.T) {
	lo, hi := versionBounds([]models.MarkPriceSnapshot{testSnapshot(4), testSnapshot(2), testSnapshot(9)})
	if lo != 2 || hi != 9 {
		t.Fatalf("expected bounds 2..9, got %d..%d", lo, hi)
	}

	lo, hi = versionBounds([]models.MarkPriceSnapshot{testSnapshot(7)})
	if lo != 7 || hi != 7 {
		t.Fatalf("expected single entry bounds 7..7, got %d..%d", lo, hi)
	}
}

func TestManifestKeyLayout(t *testing.T) {
	w := newTestArchiveWriter()
	if got := w.manifestKey(); got != "marks/metadata/manifest.json" {
		t.Fatalf("unexpected manifest key: %q", got)
	}

	w.config.Storage.S3.Prefix = ""
	if got := w.manifestKey(); got != "metadata/manifest.json" {
		t.Fatalf("unexpected manifest key without prefix: %q", got)
	}
}

func TestS3KeyHonorsTimeFormat(t *testing.T) {
	w := newTestArchiveWriter()
	w.config.Storage.S3.Prefix = ""
	w.config.Writer.Archive.TimeFormat = "dt={year}{month}{day}"
	ts := time.Date(2026, 8, 25, 6, 30, 0, 0, time.UTC)

	key := w.s3Key("BTCUSDT", ts, "0a1b2c3d")
	if !strings.HasPrefix(key, "symbol=BTCUSDT/dt=20260825/") {
		t.Fatalf("key %q does not honor time format", key)
	}
}

func TestFlushSymbolSkipsEmptyBuffer(t *testing.T) {
	w := newTestArchiveWriter()

	// No s3 client is wired; an empty buffer must return before any upload.
	w.flushSymbol("BTCUSDT", "interval")

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buffer) != 0 {
		t.Fatalf("unexpected buffer contents: %v", w.buffer)
	}
}

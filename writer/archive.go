package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "markflow/config"
	"markflow/internal/metadata"
	"markflow/internal/metrics"
	"markflow/logger"
	"markflow/models"
)

const defaultBatchSize = 512

// snapshotRecord defines the parquet schema for archived mark prices.
// Price columns are narrowed to DOUBLE; the kafka event stream carries the
// exact decimal text for anything that settles money.
type snapshotRecord struct {
	Symbol          string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Version         int64   `parquet:"name=version, type=INT64"`
	Value           float64 `parquet:"name=value, type=DOUBLE"`
	Derivation      string  `parquet:"name=derivation, type=BYTE_ARRAY, convertedtype=UTF8"`
	IndexValue      float64 `parquet:"name=index_value, type=DOUBLE"`
	IndexConfidence string  `parquet:"name=index_confidence, type=BYTE_ARRAY, convertedtype=UTF8"`
	IndexSources    string  `parquet:"name=index_sources, type=BYTE_ARRAY, convertedtype=UTF8"`
	FundingRate     float64 `parquet:"name=funding_rate, type=DOUBLE"`
	ComputedAt      int64   `parquet:"name=computed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// memoryFileWriter buffers parquet output in memory before the S3 upload.
type memoryFileWriter struct{ buffer *bytes.Buffer }

func newMemoryFileWriter() *memoryFileWriter { return &memoryFileWriter{buffer: &bytes.Buffer{}} }

func (m *memoryFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memoryFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memoryFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memoryFileWriter) Close() error                              { return nil }
func (m *memoryFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// ArchiveWriter drains published snapshots from the engine output channel and
// persists them to S3 in parquet format. Rows are buffered per symbol and
// flushed when a buffer reaches the configured batch size, on every flush
// interval, and once more at shutdown.
type ArchiveWriter struct {
	config       *appconfig.Config
	snapshotChan <-chan models.MarkPriceSnapshot
	s3Client     *s3.Client
	metaGen      *metadata.Generator

	buffer      map[string][]models.MarkPriceSnapshot
	mu          sync.Mutex
	flushTicker *time.Ticker
	ctx         context.Context
	wg          *sync.WaitGroup
	running     bool
	log         *logger.Log

	batchesWritten int64
	filesWritten   int64
	bytesWritten   int64
	errorsCount    int64
}

// NewArchiveWriter builds the S3 client and metadata generator for the mark
// archive. Static credentials from configuration take precedence over the
// ambient AWS credential chain.
func NewArchiveWriter(cfg *appconfig.Config, snapshotChan <-chan models.MarkPriceSnapshot) (*ArchiveWriter, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	if cfg.Storage.S3.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	metaDir := filepath.Join("metadata", tableName(cfg))
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}
	gen := metadata.NewGenerator(metaDir, tableName(cfg))

	w := &ArchiveWriter{
		config:       cfg,
		snapshotChan: snapshotChan,
		s3Client:     s3Client,
		metaGen:      gen,
		buffer:       make(map[string][]models.MarkPriceSnapshot),
		wg:           &sync.WaitGroup{},
		log:          log,
	}
	log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"prefix":     cfg.Storage.S3.Prefix,
		"batch_size": cfg.Writer.Archive.BatchSize,
	}).Debug("archive writer initialized")
	return w, nil
}

func tableName(cfg *appconfig.Config) string {
	name := cfg.Markflow.Name
	if name == "" {
		name = "markflow"
	}
	return name + "_marks"
}

// Start launches the drain worker and flush ticker.
func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx = ctx
	interval := w.config.Writer.Archive.FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	w.flushTicker = time.NewTicker(interval)
	w.mu.Unlock()

	w.wg.Add(1)
	go w.worker()

	w.wg.Add(1)
	go w.flushLoop()

	w.wg.Add(1)
	go w.metricsLoop()

	w.log.WithComponent("archive_writer").Info("archive writer started")
	return nil
}

// Stop waits for the workers and flushes whatever is still buffered.
func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()
	w.flushAll("shutdown")
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *ArchiveWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case snap, ok := <-w.snapshotChan:
			if !ok {
				return
			}
			if w.addSnapshot(snap) {
				w.flushSymbol(snap.Symbol, "batch_size")
			}
		}
	}
}

// addSnapshot appends one snapshot to its symbol buffer and reports whether
// the buffer reached the flush threshold.
func (w *ArchiveWriter) addSnapshot(snap models.MarkPriceSnapshot) bool {
	batchSize := w.config.Writer.Archive.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer[snap.Symbol] = append(w.buffer[snap.Symbol], snap)
	return len(w.buffer[snap.Symbol]) >= batchSize
}

func (w *ArchiveWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushAll("interval")
		}
	}
}

func (w *ArchiveWriter) flushAll(reason string) {
	w.mu.Lock()
	symbols := make([]string, 0, len(w.buffer))
	for sym := range w.buffer {
		symbols = append(symbols, sym)
	}
	w.mu.Unlock()
	for _, sym := range symbols {
		w.flushSymbol(sym, reason)
	}
}

func (w *ArchiveWriter) flushSymbol(symbol, reason string) {
	w.mu.Lock()
	entries := w.buffer[symbol]
	if len(entries) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, symbol)
	w.mu.Unlock()

	batchID := uuid.New().String()
	now := time.Now().UTC()

	data, err := w.createParquet(entries)
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		w.log.WithComponent("archive_writer").WithError(err).Error("create parquet failed")
		return
	}
	key := w.s3Key(symbol, now, batchID)
	if err := w.upload(key, data, symbol, batchID, len(entries)); err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		w.log.WithComponent("archive_writer").WithError(err).Error("upload to s3 failed")
		return
	}
	atomic.AddInt64(&w.batchesWritten, 1)
	atomic.AddInt64(&w.filesWritten, 1)
	atomic.AddInt64(&w.bytesWritten, int64(len(data)))

	loVersion, hiVersion := versionBounds(entries)
	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.config.Storage.S3.Bucket, key),
		FileSize:    int64(len(data)),
		RecordCount: int64(len(entries)),
		MinVersion:  loVersion,
		MaxVersion:  hiVersion,
		Partition: map[string]any{
			"symbol": symbol,
			"year":   now.Year(),
			"month":  int(now.Month()),
			"day":    now.Day(),
			"hour":   now.Hour(),
		},
		Timestamp: now,
	}
	if err := w.metaGen.AddFile(df); err != nil {
		w.log.WithComponent("archive_writer").WithError(err).Warn("failed to update metadata")
	} else if err := w.uploadManifest(); err != nil {
		w.log.WithComponent("archive_writer").WithError(err).Warn("failed to upload audit manifest")
	}

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"s3_key":   key,
		"records":  len(entries),
		"bytes":    len(data),
		"reason":   reason,
		"batch_id": batchID,
	}).Info("snapshot batch archived")
}

func (w *ArchiveWriter) createParquet(entries []models.MarkPriceSnapshot) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(snapshotRecord), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, snap := range entries {
		if err := pw.Write(toRecord(snap)); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return fw.Bytes(), nil
}

func versionBounds(entries []models.MarkPriceSnapshot) (lo, hi uint64) {
	lo, hi = entries[0].Version, entries[0].Version
	for _, snap := range entries[1:] {
		if snap.Version < lo {
			lo = snap.Version
		}
		if snap.Version > hi {
			hi = snap.Version
		}
	}
	return lo, hi
}

func toRecord(snap models.MarkPriceSnapshot) snapshotRecord {
	return snapshotRecord{
		Symbol:          snap.Symbol,
		Version:         int64(snap.Version),
		Value:           snap.Value.InexactFloat64(),
		Derivation:      string(snap.Derivation),
		IndexValue:      snap.IndexValue.InexactFloat64(),
		IndexConfidence: string(snap.IndexConfidence),
		IndexSources:    strings.Join(snap.IndexSources, ","),
		FundingRate:     snap.FundingRate.InexactFloat64(),
		ComputedAt:      snap.ComputedAt.UnixMilli(),
	}
}

// s3Key lays the archive out as a hive partitioned tree so query engines can
// prune by symbol and hour.
func (w *ArchiveWriter) s3Key(symbol string, ts time.Time, batchID string) string {
	tf := w.config.Writer.Archive.TimeFormat
	if tf == "" {
		tf = "year={year}/month={month}/day={day}/hour={hour}"
	}
	tf = strings.ReplaceAll(tf, "{year}", fmt.Sprintf("%04d", ts.Year()))
	tf = strings.ReplaceAll(tf, "{month}", fmt.Sprintf("%02d", int(ts.Month())))
	tf = strings.ReplaceAll(tf, "{day}", fmt.Sprintf("%02d", ts.Day()))
	tf = strings.ReplaceAll(tf, "{hour}", fmt.Sprintf("%02d", ts.Hour()))

	parts := []string{fmt.Sprintf("symbol=%s", symbol), tf}
	if prefix := strings.Trim(w.config.Storage.S3.Prefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	filename := fmt.Sprintf("%s_%s_%s.parquet", tableName(w.config), ts.Format("20060102150405"), batchID)
	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}

func (w *ArchiveWriter) upload(key string, data []byte, symbol, batchID string, records int) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"symbol":       symbol,
			"batch_id":     batchID,
			"record_count": strconv.Itoa(records),
		},
	}
	// The final flush runs after ctx is already cancelled.
	_, err := w.s3Client.PutObject(context.WithoutCancel(w.ctx), input)
	return err
}

// uploadManifest mirrors the audit manifest next to the data files so audit
// tooling can enumerate the archive without reading Iceberg metadata.
func (w *ArchiveWriter) uploadManifest() error {
	data, err := w.metaGen.AuditManifest()
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(w.manifestKey()),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	_, err = w.s3Client.PutObject(context.WithoutCancel(w.ctx), input)
	return err
}

func (w *ArchiveWriter) manifestKey() string {
	parts := []string{"metadata", "manifest.json"}
	if prefix := strings.Trim(w.config.Storage.S3.Prefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

func (w *ArchiveWriter) metricsLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportWriter(w.log, "archive_writer", metrics.WriterStats{
				BatchesWritten: atomic.LoadInt64(&w.batchesWritten),
				FilesWritten:   atomic.LoadInt64(&w.filesWritten),
				BytesWritten:   atomic.LoadInt64(&w.bytesWritten),
				ErrorsCount:    atomic.LoadInt64(&w.errorsCount),
				QueueLen:       len(w.snapshotChan),
				QueueCap:       cap(w.snapshotChan),
			})
		}
	}
}

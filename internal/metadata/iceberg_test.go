package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGeneratorCreatesMetadata(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "markflow_marks")
	df := DataFile{
		Path:        "s3://bucket/marks/symbol=BTCUSDT/year=2026/month=08/day=25/hour=06/file.parquet",
		FileSize:    100,
		RecordCount: 10,
		Partition: map[string]any{
			"symbol": "BTCUSDT",
			"year":   2026,
			"month":  8,
			"day":    25,
			"hour":   6,
		},
		Timestamp: time.Unix(1756100000, 0),
	}
	if err := gen.AddFile(df); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "metadata", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		t.Fatalf("metadata not parseable: %v", err)
	}
	if tm.FormatVersion != 2 || tm.LastSequenceNumber != 1 || len(tm.Snapshots) != 1 {
		t.Fatalf("unexpected table metadata: %+v", tm)
	}
	if tm.Snapshots[0].Summary["added-records"] != "10" {
		t.Fatalf("unexpected snapshot summary: %+v", tm.Snapshots[0].Summary)
	}

	catalogDir := filepath.Join(dir, "catalog")
	if err := gen.WriteCatalogEntry(catalogDir); err != nil {
		t.Fatalf("catalog entry: %v", err)
	}
	if _, err := os.Stat(filepath.Join(catalogDir, "markflow_marks.json")); err != nil {
		t.Fatalf("catalog entry not written: %v", err)
	}
}

func TestGeneratorAdvancesCurrentSnapshot(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "markflow_marks")
	for i := 0; i < 3; i++ {
		df := DataFile{
			Path:        "s3://bucket/marks/file.parquet",
			FileSize:    50,
			RecordCount: 5,
			Partition:   map[string]any{"symbol": "BTCUSDT"},
			Timestamp:   time.Unix(1756100000+int64(i), 0),
		}
		if err := gen.AddFile(df); err != nil {
			t.Fatalf("AddFile %d: %v", i, err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "metadata", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		t.Fatalf("metadata not parseable: %v", err)
	}
	if len(tm.Snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(tm.Snapshots))
	}
	if tm.CurrentSnapshotID != tm.Snapshots[2].SnapshotID {
		t.Fatalf("current snapshot not advanced: %+v", tm)
	}
	if tm.LastSequenceNumber != 3 {
		t.Fatalf("expected sequence 3, got %d", tm.LastSequenceNumber)
	}
}

func TestAuditManifestAggregatesFiles(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "markflow_marks")
	for i := 0; i < 2; i++ {
		df := DataFile{
			Path:        fmt.Sprintf("s3://bucket/marks/file-%d.parquet", i),
			FileSize:    50,
			RecordCount: 5,
			MinVersion:  uint64(i*5 + 1),
			MaxVersion:  uint64(i*5 + 5),
			Partition:   map[string]any{"symbol": "BTCUSDT"},
			Timestamp:   time.Unix(1756100000+int64(i), 0),
		}
		if err := gen.AddFile(df); err != nil {
			t.Fatalf("AddFile %d: %v", i, err)
		}
	}

	b, err := gen.AuditManifest()
	if err != nil {
		t.Fatalf("AuditManifest: %v", err)
	}
	var m AuditManifest
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("manifest not parseable: %v", err)
	}
	if m.Table != "markflow_marks" || m.FileCount != 2 || m.RecordCount != 10 {
		t.Fatalf("unexpected manifest totals: %+v", m)
	}
	if len(m.Files) != 2 || m.Files[1].MinVersion != 6 || m.Files[1].MaxVersion != 10 {
		t.Fatalf("unexpected version ranges: %+v", m.Files)
	}
	if m.UpdatedMs != time.Unix(1756100001, 0).UnixMilli() {
		t.Fatalf("unexpected updated ms: %d", m.UpdatedMs)
	}
}

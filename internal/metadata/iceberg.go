package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DataFile describes a single parquet file uploaded by the archive writer.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	MinVersion  uint64         `json:"min_version"`
	MaxVersion  uint64         `json:"max_version"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot holds minimal information required for time-travel queries over
// the archive.
type Snapshot struct {
	SnapshotID     int64             `json:"snapshot-id"`
	SequenceNumber int64             `json:"sequence-number"`
	TimestampMs    int64             `json:"timestamp-ms"`
	Manifest       string            `json:"manifest-list"`
	Summary        map[string]string `json:"summary,omitempty"`
}

// TableMetadata represents the high level Iceberg table metadata file.
type TableMetadata struct {
	FormatVersion      int        `json:"format-version"`
	TableUUID          string     `json:"table-uuid"`
	Location           string     `json:"location"`
	LastSequenceNumber int64      `json:"last-sequence-number"`
	LastUpdatedMs      int64      `json:"last-updated-ms"`
	CurrentSnapshotID  int64      `json:"current-snapshot-id"`
	Snapshots          []Snapshot `json:"snapshots"`
}

// AuditManifest is a flat listing of every data file in the archive, mirrored
// into the bucket for audit tooling.
type AuditManifest struct {
	Table       string     `json:"table"`
	UpdatedMs   int64      `json:"updated_ms"`
	FileCount   int        `json:"file_count"`
	RecordCount int64      `json:"record_count"`
	Files       []DataFile `json:"files"`
}

// Generator incrementally builds Iceberg metadata for one archive table.
// AddFile may be called from concurrent flushes.
type Generator struct {
	basePath  string
	tableName string
	tableUUID string

	mu        sync.Mutex
	seq       int64
	snapshots []Snapshot
	files     []DataFile
}

// NewGenerator returns a metadata generator rooted at basePath.
func NewGenerator(basePath, tableName string) *Generator {
	return &Generator{
		basePath:  basePath,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

// AddFile records a newly uploaded parquet file and rewrites the table
// metadata so the current snapshot points at it.
func (g *Generator) AddFile(df DataFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	snapID := df.Timestamp.UnixNano()
	manifestFile := fmt.Sprintf("manifest-%d-%d.json", g.seq, snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return err
	}
	entry := ManifestEntry{Status: 1, DataFile: df}
	b, err := json.Marshal([]ManifestEntry{entry})
	if err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return err
	}
	snapshot := Snapshot{
		SnapshotID:     snapID,
		SequenceNumber: g.seq,
		TimestampMs:    df.Timestamp.UnixMilli(),
		Manifest:       manifestFile,
		Summary: map[string]string{
			"operation":        "append",
			"added-data-files": "1",
			"added-records":    strconv.FormatInt(df.RecordCount, 10),
			"added-files-size": strconv.FormatInt(df.FileSize, 10),
		},
	}
	g.snapshots = append(g.snapshots, snapshot)
	g.files = append(g.files, df)
	return g.writeTableMetadata()
}

// AuditManifest serializes a flat manifest covering every file added so far.
func (g *Generator) AuditManifest() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := AuditManifest{
		Table:     g.tableName,
		FileCount: len(g.files),
		Files:     g.files,
	}
	for _, df := range g.files {
		m.RecordCount += df.RecordCount
		if ms := df.Timestamp.UnixMilli(); ms > m.UpdatedMs {
			m.UpdatedMs = ms
		}
	}
	return json.MarshalIndent(m, "", "  ")
}

func (g *Generator) writeTableMetadata() error {
	if len(g.snapshots) == 0 {
		return nil
	}
	last := g.snapshots[len(g.snapshots)-1]
	tm := TableMetadata{
		FormatVersion:      2,
		TableUUID:          g.tableUUID,
		Location:           g.basePath,
		LastSequenceNumber: g.seq,
		LastUpdatedMs:      last.TimestampMs,
		CurrentSnapshotID:  last.SnapshotID,
		Snapshots:          g.snapshots,
	}
	metaPath := filepath.Join(g.basePath, "metadata", "metadata.json")
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, b, 0o644)
}

// WriteCatalogEntry creates a simple catalog entry pointing at the table metadata.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	metaLoc := filepath.Join(g.basePath, "metadata", "metadata.json")
	entry := map[string]string{
		"name":              g.tableName,
		"metadata_location": metaLoc,
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(catalogDir, fmt.Sprintf("%s.json", g.tableName))
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manifest entry status codes as used by Iceberg.
const (
	StatusExisting = 0
	StatusAdded    = 1
	StatusDeleted  = 2
)

// DataFile describes a single parquet file written by a store.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	BatchID     string         `json:"batch_id,omitempty"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot holds minimal information required for time-travel queries.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Operation   string `json:"operation"`
	Manifest    string `json:"manifest-list"`
}

// TableMetadata represents the high level Iceberg table metadata file.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Publisher copies a metadata file to the table's remote location.
type Publisher func(ctx context.Context, name string, data []byte) error

// Generator incrementally builds Iceberg metadata for one table. Appends
// add a snapshot with an "append" manifest; compensating deletes add a
// "delete" snapshot whose entries carry StatusDeleted.
type Generator struct {
	basePath  string
	location  string
	tableName string
	tableUUID string
	publish   Publisher

	mu        sync.Mutex
	snapshots []Snapshot
	lastID    int64
}

// NewGenerator returns a metadata generator rooted at basePath describing
// the table stored under location. publish may be nil.
func NewGenerator(basePath, location, tableName string, publish Publisher) *Generator {
	return &Generator{
		basePath:  basePath,
		location:  location,
		tableName: tableName,
		tableUUID: uuid.NewString(),
		publish:   publish,
	}
}

// AddFile records a newly written parquet file.
func (g *Generator) AddFile(ctx context.Context, df DataFile) error {
	return g.commit(ctx, "append", df.Timestamp, []ManifestEntry{{Status: StatusAdded, DataFile: df}})
}

// RemoveFiles records that files were deleted from the table.
func (g *Generator) RemoveFiles(ctx context.Context, at time.Time, files ...DataFile) error {
	if len(files) == 0 {
		return nil
	}
	entries := make([]ManifestEntry, len(files))
	for i, df := range files {
		entries[i] = ManifestEntry{Status: StatusDeleted, DataFile: df}
	}
	return g.commit(ctx, "delete", at, entries)
}

// Snapshots returns a copy of the snapshot log.
func (g *Generator) Snapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Snapshot(nil), g.snapshots...)
}

func (g *Generator) commit(ctx context.Context, op string, at time.Time, entries []ManifestEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if at.IsZero() {
		at = time.Now()
	}
	snapID := at.UnixNano()
	if snapID <= g.lastID {
		snapID = g.lastID + 1
	}
	g.lastID = snapID

	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifest, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := g.write(ctx, manifestFile, manifest); err != nil {
		return err
	}

	g.snapshots = append(g.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: at.UnixMilli(),
		Operation:   op,
		Manifest:    manifestFile,
	})
	return g.writeTableMetadata(ctx)
}

func (g *Generator) writeTableMetadata(ctx context.Context) error {
	if len(g.snapshots) == 0 {
		return nil
	}
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.location,
		CurrentSnapshotID: g.snapshots[len(g.snapshots)-1].SnapshotID,
		Snapshots:         g.snapshots,
	}
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return g.write(ctx, "metadata.json", b)
}

func (g *Generator) write(ctx context.Context, name string, data []byte) error {
	path := filepath.Join(g.basePath, "metadata", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if g.publish != nil {
		if err := g.publish(ctx, name, data); err != nil {
			return fmt.Errorf("publish %s: %w", name, err)
		}
	}
	return nil
}

// WriteCatalogEntry creates a simple catalog entry pointing at the table metadata.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
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

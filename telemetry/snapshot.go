package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/pthm-cable/meadow/pool"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the population state of a simulation at one tick.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Episode int    `json:"episode"`
	Tick    int64  `json:"tick"`
	Seed    int64  `json:"seed"`

	WorldSize float64 `json:"world_size"`

	Managers []ManagerState `json:"managers"`
	Agents   []pool.Record  `json:"agents"`
}

// ManagerState holds the pool and placement state of one population manager.
type ManagerState struct {
	Name     string      `json:"name"`
	Preset   string      `json:"preset"`
	PoolSize int         `json:"pool_size"`
	Active   int         `json:"active"`
	GridSeed int64       `json:"grid_seed,omitempty"`
	GridSize int         `json:"grid_size,omitempty"`
	Cells    []CellState `json:"cells,omitempty"`
}

// CellState is one occupied placement cell.
type CellState struct {
	X  int    `json:"x"`
	Y  int    `json:"y"`
	ID string `json:"id"`
}

// SnapshotFileName returns the file name used for a snapshot.
func SnapshotFileName(s *Snapshot) string {
	return fmt.Sprintf("snapshot_e%d_t%d.json.zst", s.Episode, s.Tick)
}

// SaveSnapshot writes a zstd-compressed snapshot into dir.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, SnapshotFileName(snapshot))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", fmt.Errorf("zstd writer: %w", err)
	}

	if err := json.NewEncoder(zw).Encode(snapshot); err != nil {
		zw.Close()
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(zr).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snapshot.Version)
	}

	return &snapshot, nil
}

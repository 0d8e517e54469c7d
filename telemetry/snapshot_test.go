package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/meadow/pool"
)

func TestSnapshotRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	snapshot := &Snapshot{
		Version:   SnapshotVersion,
		RunID:     "run-1",
		Episode:   2,
		Tick:      1500,
		Seed:      42,
		WorldSize: 60,
		Managers: []ManagerState{
			{Name: "flowers", Preset: "flower", PoolSize: 10, Active: 1, GridSeed: 9, GridSize: 30,
				Cells: []CellState{{X: 3, Y: 4, ID: "f-1"}}},
			{Name: "voles", Preset: "vole", PoolSize: 5, Active: 1},
		},
		Agents: []pool.Record{
			{ID: "f-1", Class: "flower", Kind: "static", Manager: "flowers", Age: 12.5, Active: true, Energy: 80, X: 1, Y: 2},
			{ID: "v-1", Class: "vole", Kind: "dynamic", Manager: "voles", Replicated: true, Energy: 33.25, Source: "f-1"},
		},
	}

	path, err := SaveSnapshot(snapshot, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	expected := filepath.Join(tmpDir, "snapshot_e2_t1500.json.zst")
	if path != expected {
		t.Errorf("path = %s, want %s", path, expected)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	if loaded.RunID != "run-1" || loaded.Episode != 2 || loaded.Tick != 1500 || loaded.Seed != 42 {
		t.Errorf("header mismatch: %+v", loaded)
	}
	if len(loaded.Managers) != 2 {
		t.Fatalf("managers = %d, want 2", len(loaded.Managers))
	}
	if got := loaded.Managers[0].Cells; len(got) != 1 || got[0] != (CellState{X: 3, Y: 4, ID: "f-1"}) {
		t.Errorf("cells = %+v", got)
	}
	if len(loaded.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(loaded.Agents))
	}
	if loaded.Agents[1] != snapshot.Agents[1] {
		t.Errorf("agent mismatch: got %+v, want %+v", loaded.Agents[1], snapshot.Agents[1])
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.json.zst")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadSnapshotNotCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.json")
	if err := os.WriteFile(path, []byte(`{"version":1}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(path); err == nil {
		t.Error("expected error for uncompressed file")
	}
}

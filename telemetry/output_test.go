package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pthm-cable/meadow/config"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("empty dir should disable output, got %v, %v", om, err)
	}
	// Nil manager methods are no-ops
	if err := om.WriteTelemetry([]WindowStats{{Class: "vole"}}); err != nil {
		t.Error(err)
	}
	if err := om.WriteEpisode(EpisodeSummary{}); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}

func TestOutputManagerWritesCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	if err := om.WriteConfig(config.Defaults()); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	for i := 0; i < 2; i++ {
		rows := []WindowStats{{Episode: 1, WindowEndTick: int64(i * 10), Class: "vole"}}
		if err := om.WriteTelemetry(rows); err != nil {
			t.Fatalf("WriteTelemetry: %v", err)
		}
	}
	if err := om.WritePerf(PerfStats{AvgTickDuration: time.Millisecond}, 10); err != nil {
		t.Fatalf("WritePerf: %v", err)
	}
	if err := om.WriteEpisode(EpisodeSummary{RunID: "r", Episode: 1, Reason: ReasonMaxSteps}); err != nil {
		t.Fatalf("WriteEpisode: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("telemetry lines = %d, want header + 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "episode,window_end,sim_time,class") {
		t.Errorf("telemetry header = %q", lines[0])
	}

	data, err = os.ReadFile(filepath.Join(dir, "episodes.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "max_steps") {
		t.Errorf("episodes.csv missing reason: %s", data)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("config.yaml not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "perf.csv")); err != nil {
		t.Errorf("perf.csv not written: %v", err)
	}
}

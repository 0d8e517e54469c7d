package sim

import (
	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/preset"
	"github.com/pthm-cable/meadow/telemetry"
)

// Options configures a Simulation.
type Options struct {
	Seed           int64
	RunID          string         // Generated when empty
	Config         *config.Config // Uses config.Cfg() if nil
	Loader         *preset.Loader // Built from Config.Presets.Dir if nil
	Policy         Policy         // RandomPolicy if nil
	LogStats       bool           // Log window stats and perf via slog
	StatsWindowSec float64        // Overrides Config.Telemetry.StatsWindow when > 0
	OutputDir      string         // CSV output, empty disables
	SnapshotDir    string         // End of episode snapshots, empty disables

	// Events receives lifecycle events.
	Events telemetry.EventSink

	// StatsCallback is called with every flushed stats window.
	StatsCallback func([]telemetry.WindowStats)

	// EpisodeCallback is called when an episode ends.
	EpisodeCallback func(telemetry.EpisodeSummary)
}

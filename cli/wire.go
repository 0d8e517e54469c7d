package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/persistence/eventlog"
	"github.com/pthm-cable/meadow/persistence/indexdb"
	"github.com/pthm-cable/meadow/sim"
	"github.com/pthm-cable/meadow/telemetry"
)

// addSimFlags registers the flags shared by run and serve.
func addSimFlags(fs *pflag.FlagSet) {
	fs.Int64("seed", 0, "RNG seed (0 = time-based)")
	fs.Bool("log-stats", false, "Log window stats and perf via slog")
	fs.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	fs.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	fs.String("snapshot-dir", "", "Directory for end of episode snapshots")
	fs.String("event-log", "", "Directory for the compressed lifecycle event log")
	fs.String("index", "", "SQLite file indexing runs and episodes")
}

// app holds a simulation and the sinks wired to it.
type app struct {
	sim    *sim.Simulation
	index  *indexdb.SQLiteIndex
	events *eventlog.Writer
	seed   int64
}

func wireApp(v *viper.Viper) (*app, error) {
	cfg := config.Cfg()

	seed := v.GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	runID := uuid.NewString()

	a := &app{seed: seed}
	opts := sim.Options{
		Seed:           seed,
		RunID:          runID,
		Config:         cfg,
		LogStats:       v.GetBool("log-stats"),
		StatsWindowSec: v.GetFloat64("stats-window"),
		OutputDir:      v.GetString("output-dir"),
		SnapshotDir:    v.GetString("snapshot-dir"),
	}

	if dir := v.GetString("event-log"); dir != "" {
		w, err := eventlog.Open(dir, runID)
		if err != nil {
			return nil, fmt.Errorf("wire event log: %w", err)
		}
		a.events = w
		opts.Events = telemetry.MultiSink{w}
	}

	if path := v.GetString("index"); path != "" {
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("wire index: %w", err)
		}
		a.index = idx
		opts.EpisodeCallback = idx.RecordEpisode
	}

	s, err := sim.New(opts)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("wire simulation: %w", err)
	}
	a.sim = s

	if a.index != nil {
		data, err := cfg.YAML()
		if err != nil {
			slog.Warn("config_encode_failed", "error", err)
		}
		a.index.RecordRun(runID, seed, string(data))
	}
	return a, nil
}

// Close releases every sink. The index is closed last so episode rows
// queued by the simulation are flushed.
func (a *app) Close() error {
	var errs []error
	if a.sim != nil {
		errs = append(errs, a.sim.Close())
	}
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.index != nil {
		if n := a.index.Dropped(); n > 0 {
			slog.Warn("index_writes_dropped", "count", n)
		}
		errs = append(errs, a.index.Close())
	}
	return errors.Join(errs...)
}

package sim

import (
	"log/slog"
	"slices"

	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/pool"
	"github.com/pthm-cable/meadow/telemetry"
)

// flushTelemetry flushes the stats window when it is due.
func (s *Simulation) flushTelemetry() {
	if !s.collector.ShouldFlush(s.tick) {
		return
	}

	stats := s.collector.Flush(s.tick, s.episode, s.samples())
	perfStats := s.perf.Stats()
	s.lastStats = stats

	if s.opts.StatsCallback != nil {
		s.opts.StatsCallback(stats)
	}

	if s.opts.LogStats {
		for _, row := range stats {
			row.LogStats()
		}
		perfStats.LogStats()
	}

	if s.output != nil {
		if err := s.output.WriteTelemetry(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := s.output.WritePerf(perfStats, s.tick); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}
}

// samples collects one class sample per agent class, merging managers that
// share a class.
func (s *Simulation) samples() []telemetry.ClassSample {
	var out []telemetry.ClassSample
	for _, m := range s.managers {
		if m.Disabled() {
			continue
		}
		cs := m.sample()
		i := slices.IndexFunc(out, func(o telemetry.ClassSample) bool { return o.Class == cs.Class })
		if i < 0 {
			out = append(out, cs)
			continue
		}
		out[i].Active += cs.Active
		out[i].Free += cs.Free
		out[i].Replicated += cs.Replicated
		out[i].Ages = append(out[i].Ages, cs.Ages...)
		out[i].Energies = append(out[i].Energies, cs.Energies...)
	}
	return out
}

// Snapshot captures the current population state.
func (s *Simulation) Snapshot() *telemetry.Snapshot {
	snap := &telemetry.Snapshot{
		Version:   telemetry.SnapshotVersion,
		RunID:     s.runID,
		Episode:   s.episode,
		Tick:      s.tick,
		Seed:      s.opts.Seed,
		WorldSize: s.cfg.World.Size,
	}
	for _, m := range s.managers {
		snap.Managers = append(snap.Managers, m.state())
	}
	snap.Agents = s.Records()
	return snap
}

// Records returns every active agent across managers.
func (s *Simulation) Records() []pool.Record {
	var out []pool.Record
	for _, m := range s.managers {
		if m.pool != nil {
			out = append(out, m.pool.Records()...)
		}
	}
	return out
}

// Tick returns the number of ticks run.
func (s *Simulation) Tick() int64 { return s.tick }

// Episode returns the current episode number, starting at 1.
func (s *Simulation) Episode() int { return s.episode }

// EpisodeStart returns the tick the current episode started at.
func (s *Simulation) EpisodeStart() int64 { return s.episodeStart }

// RunID returns the run identifier.
func (s *Simulation) RunID() string { return s.runID }

// Config returns the configuration in use.
func (s *Simulation) Config() *config.Config { return s.cfg }

// Managers returns the managers in configuration order.
func (s *Simulation) Managers() []*Manager { return s.managers }

// Manager returns the manager with the given name.
func (s *Simulation) Manager(name string) (*Manager, bool) {
	m, ok := s.byName[name]
	return m, ok
}

// LastStats returns the most recently flushed stats window.
func (s *Simulation) LastStats() []telemetry.WindowStats { return s.lastStats }

// PerfStats returns step timings over the perf window.
func (s *Simulation) PerfStats() telemetry.PerfStats { return s.perf.Stats() }

// Summaries returns the summaries of recently finished episodes, oldest first.
func (s *Simulation) Summaries() []telemetry.EpisodeSummary {
	return slices.Clone(s.summaries)
}

// EpisodeCounts returns the counters of the running episode.
func (s *Simulation) EpisodeCounts() telemetry.Counts { return s.collector.EpisodeTotals() }

package sim

import (
	"log/slog"

	"github.com/pthm-cable/meadow/telemetry"
)

// startEpisode clears all populations and spawns the initial agents of every
// manager on a freshly seeded cover grid.
func (s *Simulation) startEpisode() {
	s.episode++
	s.episodeStart = s.tick
	s.gridSeed = s.nextGridSeed()

	clear(s.registry)
	s.index.Clear()
	s.lifetimes.Reset()
	s.collector.ResetEpisode(s.tick)

	for i, m := range s.managers {
		m.Restart(s.gridSeed + int64(i))
	}

	slog.Info("episode_start",
		"run_id", s.runID,
		"episode", s.episode,
		"tick", s.tick,
		"grid_seed", s.gridSeed,
	)
}

// nextGridSeed returns the configured cover seed offset by the episode
// number, or a draw from the simulation RNG when no seed is configured.
func (s *Simulation) nextGridSeed() int64 {
	if seed := s.cfg.Cover.Seed; seed != 0 {
		return seed + int64(s.episode-1)
	}
	return s.rng.Int63()
}

// checkEpisode ends the episode on step limit, or on extinction of every
// dynamic population at check intervals.
func (s *Simulation) checkEpisode() {
	steps := s.tick - s.episodeStart
	if maxSteps := s.cfg.Episode.MaxSteps; maxSteps > 0 && steps >= int64(maxSteps) {
		s.endEpisode(telemetry.ReasonMaxSteps)
		return
	}
	interval := int64(s.cfg.Episode.CheckInterval)
	if interval < 1 {
		interval = 1
	}
	if steps%interval == 0 && s.Extinct() {
		s.endEpisode(telemetry.ReasonExtinction)
	}
}

// Extinct reports whether every enabled dynamic manager has no active agent.
// A simulation without dynamic managers never goes extinct.
func (s *Simulation) Extinct() bool {
	dynamic := 0
	for _, m := range s.managers {
		if m.Disabled() || m.IsStatic() {
			continue
		}
		dynamic++
		if m.ActiveCount() > 0 {
			return false
		}
	}
	return dynamic > 0
}

// Reset ends the current episode early and starts a new one.
func (s *Simulation) Reset() telemetry.EpisodeSummary {
	return s.endEpisode(telemetry.ReasonReset)
}

// endEpisode records the episode summary and restarts every manager.
func (s *Simulation) endEpisode(reason string) telemetry.EpisodeSummary {
	summary := telemetry.NewEpisodeSummary(s.runID, s.episode, s.episodeStart, s.tick,
		reason, s.gridSeed, s.collector.EpisodeTotals())
	summary.MeanLifespanTicks = s.lifetimes.MeanLifespan()
	for _, m := range s.managers {
		n := m.ActiveCount()
		summary.Survivors += n
		if !m.Disabled() && !m.IsStatic() {
			summary.DynamicSurvivors += n
		}
	}

	slog.Info("episode_end", "summary", summary)
	s.emit(telemetry.Event{Type: telemetry.EventEpisodeEnd, Reason: reason})

	if err := s.output.WriteEpisode(summary); err != nil {
		slog.Error("failed to write episode", "error", err)
	}
	if s.opts.SnapshotDir != "" {
		if path, err := telemetry.SaveSnapshot(s.Snapshot(), s.opts.SnapshotDir); err != nil {
			slog.Error("failed to save snapshot", "error", err)
		} else {
			slog.Info("snapshot_saved", "path", path)
		}
	}
	if s.opts.EpisodeCallback != nil {
		s.opts.EpisodeCallback(summary)
	}

	s.summaries = append(s.summaries, summary)
	if len(s.summaries) > maxSummaries {
		s.summaries = s.summaries[len(s.summaries)-maxSummaries:]
	}

	s.startEpisode()
	return summary
}

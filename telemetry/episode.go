package telemetry

import "log/slog"

// Episode end reasons.
const (
	ReasonExtinction = "extinction"
	ReasonMaxSteps   = "max_steps"
	ReasonReset      = "reset"
)

// EpisodeSummary describes one finished episode.
type EpisodeSummary struct {
	RunID     string `csv:"run_id" json:"run_id"`
	Episode   int    `csv:"episode" json:"episode"`
	StartTick int64  `csv:"start_tick" json:"start_tick"`
	EndTick   int64  `csv:"end_tick" json:"end_tick"`
	Steps     int64  `csv:"steps" json:"steps"`
	Reason    string `csv:"reason" json:"reason"`
	GridSeed  int64  `csv:"grid_seed" json:"grid_seed"`

	Spawns            int     `csv:"spawns" json:"spawns"`
	Expirations       int     `csv:"expirations" json:"expirations"`
	Replications      int     `csv:"replications" json:"replications"`
	PlacementFailures int     `csv:"placement_failures" json:"placement_failures"`
	PoolExhausted     int     `csv:"pool_exhausted" json:"pool_exhausted"`
	Exchanges         int     `csv:"exchanges" json:"exchanges"`
	EnergyTransferred float64 `csv:"energy_transferred" json:"energy_transferred"`

	MeanLifespanTicks float64 `csv:"mean_lifespan_ticks" json:"mean_lifespan_ticks"`
	Survivors         int     `csv:"survivors" json:"survivors"`
	DynamicSurvivors  int     `csv:"dynamic_survivors" json:"dynamic_survivors"`
}

// NewEpisodeSummary fills the counters of a summary from the episode totals.
func NewEpisodeSummary(runID string, episode int, start, end int64, reason string, seed int64, totals Counts) EpisodeSummary {
	return EpisodeSummary{
		RunID:             runID,
		Episode:           episode,
		StartTick:         start,
		EndTick:           end,
		Steps:             end - start,
		Reason:            reason,
		GridSeed:          seed,
		Spawns:            totals.Spawns,
		Expirations:       totals.Expirations,
		Replications:      totals.Replications,
		PlacementFailures: totals.PlacementFailures,
		PoolExhausted:     totals.PoolExhausted,
		Exchanges:         totals.Exchanges,
		EnergyTransferred: totals.EnergyTransferred,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (e EpisodeSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("episode", e.Episode),
		slog.Int64("steps", e.Steps),
		slog.String("reason", e.Reason),
		slog.Int("spawns", e.Spawns),
		slog.Int("expirations", e.Expirations),
		slog.Int("replications", e.Replications),
		slog.Int("exchanges", e.Exchanges),
		slog.Float64("mean_lifespan_ticks", e.MeanLifespanTicks),
		slog.Int("survivors", e.Survivors),
	)
}

package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics of one agent class for a time window.
type WindowStats struct {
	Episode         int     `csv:"episode" json:"episode"`
	WindowStartTick int64   `csv:"-" json:"window_start"`
	WindowEndTick   int64   `csv:"window_end" json:"window_end"`
	SimTimeSec      float64 `csv:"sim_time" json:"sim_time"`
	Class           string  `csv:"class" json:"class"`

	// Population at window end
	Active int `csv:"active" json:"active"`
	Free   int `csv:"free" json:"free"`

	// Events during window
	Spawns              int `csv:"spawns" json:"spawns"`
	Expirations         int `csv:"expirations" json:"expirations"`
	ExpiredUnreplicated int `csv:"expired_unreplicated" json:"expired_unreplicated"`
	Replications        int `csv:"replications" json:"replications"`
	PlacementFailures   int `csv:"placement_failures" json:"placement_failures"`
	PoolExhausted       int `csv:"pool_exhausted" json:"pool_exhausted"`

	// Energy exchange
	Exchanges          int     `csv:"exchanges" json:"exchanges"`
	ExchangesCancelled int     `csv:"exchanges_cancelled" json:"exchanges_cancelled"`
	EnergyTransferred  float64 `csv:"energy_transferred" json:"energy_transferred"`

	// Distributions (sampled at window end)
	AgeMean float64 `csv:"age_mean" json:"age_mean"`
	AgeP50  float64 `csv:"age_p50" json:"age_p50"`
	AgeP90  float64 `csv:"age_p90" json:"age_p90"`

	EnergyMean float64 `csv:"energy_mean" json:"energy_mean"`
	EnergyStd  float64 `csv:"energy_std" json:"energy_std"`
	EnergyP10  float64 `csv:"energy_p10" json:"energy_p10"`
	EnergyP50  float64 `csv:"energy_p50" json:"energy_p50"`
	EnergyP90  float64 `csv:"energy_p90" json:"energy_p90"`

	ReplicationFraction float64 `csv:"replication_fraction" json:"replication_fraction"`
}

func newWindowStats(start, end int64, dt float64, episode int, s ClassSample, n Counts) WindowStats {
	ageMean, _, ageP50, ageP90 := ComputeDistribution(s.Ages)
	energyMean, energyStd, energyP10, energyP50, energyP90 := computeFull(s.Energies)

	var replFrac float64
	if s.Active > 0 {
		replFrac = float64(s.Replicated) / float64(s.Active)
	}

	return WindowStats{
		Episode:         episode,
		WindowStartTick: start,
		WindowEndTick:   end,
		SimTimeSec:      float64(end) * dt,
		Class:           s.Class,

		Active: s.Active,
		Free:   s.Free,

		Spawns:              n.Spawns,
		Expirations:         n.Expirations,
		ExpiredUnreplicated: n.ExpiredUnreplicated,
		Replications:        n.Replications,
		PlacementFailures:   n.PlacementFailures,
		PoolExhausted:       n.PoolExhausted,

		Exchanges:          n.Exchanges,
		ExchangesCancelled: n.ExchangesCancelled,
		EnergyTransferred:  n.EnergyTransferred,

		AgeMean: ageMean,
		AgeP50:  ageP50,
		AgeP90:  ageP90,

		EnergyMean: energyMean,
		EnergyStd:  energyStd,
		EnergyP10:  energyP10,
		EnergyP50:  energyP50,
		EnergyP90:  energyP90,

		ReplicationFraction: replFrac,
	}
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDistribution returns the mean and the 10th, 50th and 90th percentiles.
func ComputeDistribution(values []float64) (mean, p10, p50, p90 float64) {
	mean, _, p10, p50, p90 = computeFull(values)
	return mean, p10, p50, p90
}

// computeFull adds the standard deviation to ComputeDistribution.
// A single value has zero spread.
func computeFull(values []float64) (mean, std, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}
	if n == 1 {
		return values[0], 0, values[0], values[0], values[0]
	}

	mean, std = stat.MeanStdDev(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, std, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("episode", s.Episode),
		slog.Int64("window_end", s.WindowEndTick),
		slog.String("class", s.Class),
		slog.Int("active", s.Active),
		slog.Int("spawns", s.Spawns),
		slog.Int("expirations", s.Expirations),
		slog.Int("replications", s.Replications),
		slog.Int("exchanges", s.Exchanges),
		slog.Float64("energy_transferred", s.EnergyTransferred),
		slog.Float64("age_mean", s.AgeMean),
		slog.Float64("energy_mean", s.EnergyMean),
		slog.Float64("replication_fraction", s.ReplicationFraction),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"episode", s.Episode,
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTimeSec,
		"class", s.Class,
		"active", s.Active,
		"free", s.Free,
		"spawns", s.Spawns,
		"expirations", s.Expirations,
		"expired_unreplicated", s.ExpiredUnreplicated,
		"replications", s.Replications,
		"placement_failures", s.PlacementFailures,
		"pool_exhausted", s.PoolExhausted,
		"exchanges", s.Exchanges,
		"exchanges_cancelled", s.ExchangesCancelled,
		"energy_transferred", s.EnergyTransferred,
		"age_mean", s.AgeMean,
		"age_p50", s.AgeP50,
		"age_p90", s.AgeP90,
		"energy_mean", s.EnergyMean,
		"energy_std", s.EnergyStd,
		"energy_p10", s.EnergyP10,
		"energy_p50", s.EnergyP50,
		"energy_p90", s.EnergyP90,
		"replication_fraction", s.ReplicationFraction,
	)
}

package main

import (
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/sim"
	"github.com/pthm-cable/meadow/telemetry"
)

// FitnessEvaluator runs headless simulations and computes fitness.
type FitnessEvaluator struct {
	params      *ParamVector
	maxTicks    int64
	seeds       []int64
	baseConfig  *config.Config
	statsWindow float64

	preyClass     string
	predatorClass string

	mu          sync.Mutex
	bestFitness float64
	bestSummary *telemetry.EpisodeSummary
	lastQuality float64 // quality from most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxTicks int64, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:        params,
		maxTicks:      maxTicks,
		seeds:         seeds,
		baseConfig:    baseCfg,
		statsWindow:   10.0,
		preyClass:     "vole",
		predatorClass: "stoat",
		bestFitness:   math.Inf(1),
	}
}

// BestSummary returns the episode summary of the best evaluation.
func (fe *FitnessEvaluator) BestSummary() *telemetry.EpisodeSummary {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestSummary
}

// LastQuality returns the quality score from the most recent evaluation.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastQuality
}

// runResult holds the results from a single simulation run.
type runResult struct {
	survivalTicks int64                   // ticks before extinction, maxTicks if survived
	windowStats   []telemetry.WindowStats // collected via StatsCallback each window
	summary       telemetry.EpisodeSummary
}

type seedResult struct {
	fitness float64
	quality float64
	summary telemetry.EpisodeSummary
}

// Evaluate computes fitness for a parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			result, err := fe.runSimulation(x, s)
			if err != nil {
				slog.Error("evaluation_failed", "seed", s, "error", err)
				return
			}
			results[idx] = seedResult{
				fitness: fe.computeFitness(result),
				quality: fe.computeQuality(result.windowStats),
				summary: result.summary,
			}
		}(i, seed)
	}
	wg.Wait()

	var totalFitness, totalQuality float64
	bestSeedFitness := math.Inf(1)
	var bestSeedSummary telemetry.EpisodeSummary
	for _, r := range results {
		totalFitness += r.fitness
		totalQuality += r.quality
		if r.fitness < bestSeedFitness {
			bestSeedFitness = r.fitness
			bestSeedSummary = r.summary
		}
	}

	n := float64(len(fe.seeds))
	avgFitness := totalFitness / n

	fe.mu.Lock()
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
		fe.bestSummary = &bestSeedSummary
	}
	fe.lastQuality = totalQuality / n
	fe.mu.Unlock()

	return avgFitness
}

// runSimulation runs one episode until extinction or maxTicks.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed int64) (*runResult, error) {
	cfg := fe.baseConfig.Clone()
	fe.params.ApplyToConfig(cfg, x)
	cfg.Episode.MaxSteps = int(fe.maxTicks)
	if err := cfg.Recompute(); err != nil {
		return nil, err
	}

	result := &runResult{survivalTicks: fe.maxTicks}
	var ended bool

	s, err := sim.New(sim.Options{
		Seed:           seed,
		Config:         cfg,
		StatsWindowSec: fe.statsWindow,
		StatsCallback: func(stats []telemetry.WindowStats) {
			result.windowStats = append(result.windowStats, stats...)
		},
		EpisodeCallback: func(e telemetry.EpisodeSummary) {
			if ended {
				return
			}
			ended = true
			result.summary = e
			if e.Reason == telemetry.ReasonExtinction {
				result.survivalTicks = e.Steps
			}
		},
	})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	for !ended && s.Tick() < fe.maxTicks {
		s.Step()
	}
	return result, nil
}

// computeFitness calculates the scalar fitness (lower = better).
// Formula: -(survivalTicks × (1.0 + 0.2 × quality))
func (fe *FitnessEvaluator) computeFitness(r *runResult) float64 {
	survival := float64(r.survivalTicks)
	quality := fe.computeQuality(r.windowStats)
	return -(survival * (1.0 + 0.2*quality))
}

// Quality component weights.
const (
	qualityWeightRatio       = 0.30
	qualityWeightStability   = 0.25
	qualityWeightReplication = 0.25
	qualityWeightExchange    = 0.20

	qualityWarmupWindows = 3 // skip first N windows
	qualityMinPop        = 2 // exclude windows where either class is below this
	targetRatio          = 4.0
	targetReplication    = 0.3
)

type classPair struct {
	prey, pred telemetry.WindowStats
}

// pairWindows groups per-class stats by window end.
func (fe *FitnessEvaluator) pairWindows(windows []telemetry.WindowStats) []classPair {
	byEnd := map[int64]*classPair{}
	var order []int64
	for _, w := range windows {
		p, ok := byEnd[w.WindowEndTick]
		if !ok {
			p = &classPair{}
			byEnd[w.WindowEndTick] = p
			order = append(order, w.WindowEndTick)
		}
		switch w.Class {
		case fe.preyClass:
			p.prey = w
		case fe.predatorClass:
			p.pred = w
		}
	}
	out := make([]classPair, 0, len(order))
	for _, end := range order {
		out = append(out, *byEnd[end])
	}
	return out
}

// computeQuality computes population quality in [0, 1] from window stats.
func (fe *FitnessEvaluator) computeQuality(windows []telemetry.WindowStats) float64 {
	pairs := fe.pairWindows(windows)
	if len(pairs) <= qualityWarmupWindows {
		return 0
	}
	valid := pairs[qualityWarmupWindows:]

	var ratioSum, replSum, exchSum float64
	var count int
	preyCounts := make([]float64, 0, len(valid))
	predCounts := make([]float64, 0, len(valid))

	for _, p := range valid {
		if p.prey.Active < qualityMinPop || p.pred.Active < qualityMinPop {
			continue
		}
		count++
		preyCounts = append(preyCounts, float64(p.prey.Active))
		predCounts = append(predCounts, float64(p.pred.Active))

		ratio := float64(p.prey.Active) / float64(p.pred.Active)
		logErr := math.Log(ratio / targetRatio)
		ratioSum += math.Exp(-logErr * logErr)

		repl := (p.prey.ReplicationFraction + p.pred.ReplicationFraction) / 2
		replSum += math.Exp(-math.Pow((repl-targetReplication)/0.2, 2))

		perAgent := float64(p.prey.Exchanges+p.pred.Exchanges) / float64(p.prey.Active+p.pred.Active)
		exchSum += 1.0 - math.Exp(-perAgent/3.0)
	}
	if count == 0 {
		return 0
	}

	stabilityScore := 0.0
	if len(preyCounts) >= 2 {
		cvPrey, cvPred := cv(preyCounts), cv(predCounts)
		stabilityScore = math.Exp(-(cvPrey*cvPrey + cvPred*cvPred))
	}

	n := float64(count)
	quality := qualityWeightRatio*ratioSum/n +
		qualityWeightStability*stabilityScore +
		qualityWeightReplication*replSum/n +
		qualityWeightExchange*exchSum/n
	return clamp01(quality)
}

// cv computes the coefficient of variation (std/mean).
func cv(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(values, nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Package main provides CMA-ES optimization for meadow simulation parameters.
package main

import (
	"math"

	"github.com/pthm-cable/meadow/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec

	// Managers whose initial population is tuned
	PreyManager     string
	PredatorManager string
}

// NewParamVector creates the standard set of optimizable parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Lifecycle
			{Name: "max_age_factor", Path: "lifecycle.max_age_factor", Min: 0.2, Max: 1.0, Default: 0.5},
			{Name: "max_age_sd", Path: "lifecycle.max_age_sd", Min: 0, Max: 200, Default: 100},
			{Name: "replication_age_sd", Path: "lifecycle.replication_age_sd", Min: 0, Max: 100, Default: 25},
			// Cover
			{Name: "spawn_threshold", Path: "cover.spawn_threshold", Min: 0.3, Max: 0.7, Default: 0.5},
			{Name: "noise_scale", Path: "cover.noise_scale", Min: 2, Max: 20, Default: 10},
			{Name: "good_enough_neighbors", Path: "cover.good_enough_neighbors", Min: 1, Max: 8, Default: 4},
			// Contact
			{Name: "contact_radius", Path: "contact.radius", Min: 0.5, Max: 3, Default: 1},
			// Populations
			{Name: "prey_initial", Path: "managers.voles.initial", Min: 4, Max: 40, Default: 12},
			{Name: "pred_initial", Path: "managers.stoats.initial", Min: 1, Max: 12, Default: 3},
		},
		PreyManager:     "voles",
		PredatorManager: "stoats",
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = math.Max(spec.Min, math.Min(spec.Max, v[i]))
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Initial populations never exceed the manager's pool size.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)

	// Order must match Specs order
	i := 0
	cfg.Lifecycle.MaxAgeFactor = clamped[i]
	i++
	cfg.Lifecycle.MaxAgeSD = clamped[i]
	i++
	cfg.Lifecycle.ReplicationAgeSD = clamped[i]
	i++

	cfg.Cover.SpawnThreshold = clamped[i]
	i++
	cfg.Cover.NoiseScale = clamped[i]
	i++
	cfg.Cover.GoodEnoughNeighbors = int(math.Round(clamped[i]))
	i++

	cfg.Contact.Radius = clamped[i]
	i++

	setInitial(cfg, pv.PreyManager, clamped[i])
	i++
	setInitial(cfg, pv.PredatorManager, clamped[i])
}

func setInitial(cfg *config.Config, name string, v float64) {
	for j := range cfg.Managers {
		if cfg.Managers[j].Name != name {
			continue
		}
		n := int(math.Round(v))
		if n > cfg.Managers[j].PoolSize {
			n = cfg.Managers[j].PoolSize
		}
		cfg.Managers[j].Initial = n
	}
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	initial := func(name string) float64 {
		if m, ok := cfg.Manager(name); ok {
			return float64(m.Initial)
		}
		return 0
	}
	return []float64{
		cfg.Lifecycle.MaxAgeFactor,
		cfg.Lifecycle.MaxAgeSD,
		cfg.Lifecycle.ReplicationAgeSD,
		cfg.Cover.SpawnThreshold,
		cfg.Cover.NoiseScale,
		float64(cfg.Cover.GoodEnoughNeighbors),
		cfg.Contact.Radius,
		initial(pv.PreyManager),
		initial(pv.PredatorManager),
	}
}

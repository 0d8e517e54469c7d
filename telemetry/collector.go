package telemetry

import (
	"math"
	"sort"
)

// Counts holds event counters for one agent class.
type Counts struct {
	Spawns              int
	Expirations         int
	ExpiredUnreplicated int
	Replications        int
	PlacementFailures   int
	PoolExhausted       int
	Exchanges           int
	ExchangesCancelled  int
	EnergyTransferred   float64
}

func (c *Counts) add(o Counts) {
	c.Spawns += o.Spawns
	c.Expirations += o.Expirations
	c.ExpiredUnreplicated += o.ExpiredUnreplicated
	c.Replications += o.Replications
	c.PlacementFailures += o.PlacementFailures
	c.PoolExhausted += o.PoolExhausted
	c.Exchanges += o.Exchanges
	c.ExchangesCancelled += o.ExchangesCancelled
	c.EnergyTransferred += o.EnergyTransferred
}

// ClassSample is the population state of one class at window end.
type ClassSample struct {
	Class      string
	Active     int
	Free       int
	Replicated int
	Ages       []float64
	Energies   []float64
}

// Collector accumulates events within time windows and produces WindowStats.
// It also keeps running totals for the current episode.
type Collector struct {
	windowDurationTicks int64
	dt                  float64

	windowStartTick int64

	window  map[string]*Counts
	episode map[string]*Counts
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick
func NewCollector(windowDurationSec, dt float64) *Collector {
	ticksPerWindow := int64(math.Round(windowDurationSec / dt))
	if ticksPerWindow < 1 {
		ticksPerWindow = 1
	}
	return &Collector{
		windowDurationTicks: ticksPerWindow,
		dt:                  dt,
		window:              make(map[string]*Counts),
		episode:             make(map[string]*Counts),
	}
}

func (c *Collector) bump(class string, f func(*Counts)) {
	w, ok := c.window[class]
	if !ok {
		w = &Counts{}
		c.window[class] = w
	}
	e, ok := c.episode[class]
	if !ok {
		e = &Counts{}
		c.episode[class] = e
	}
	f(w)
	f(e)
}

// RecordSpawn records an agent activation.
func (c *Collector) RecordSpawn(class string) {
	c.bump(class, func(n *Counts) { n.Spawns++ })
}

// RecordExpiration records an agent expiration.
func (c *Collector) RecordExpiration(class string, replicated bool) {
	c.bump(class, func(n *Counts) {
		n.Expirations++
		if !replicated {
			n.ExpiredUnreplicated++
		}
	})
}

// RecordReplication records an agent reaching replication age.
func (c *Collector) RecordReplication(class string) {
	c.bump(class, func(n *Counts) { n.Replications++ })
}

// RecordPlacementFailure records a spawn abandoned for lack of space.
func (c *Collector) RecordPlacementFailure(class string) {
	c.bump(class, func(n *Counts) { n.PlacementFailures++ })
}

// RecordPoolExhausted records a spawn skipped because the pool was full.
func (c *Collector) RecordPoolExhausted(class string) {
	c.bump(class, func(n *Counts) { n.PoolExhausted++ })
}

// RecordExchange records an exchange attempt by a requester of class.
func (c *Collector) RecordExchange(class string, completed bool, amount float64) {
	c.bump(class, func(n *Counts) {
		if completed {
			n.Exchanges++
			n.EnergyTransferred += amount
		} else {
			n.ExchangesCancelled++
		}
	})
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// Flush produces one WindowStats row per sampled class and resets the window
// counters. Classes with events but no sample still get a row.
func (c *Collector) Flush(currentTick int64, episode int, samples []ClassSample) []WindowStats {
	byClass := make(map[string]ClassSample, len(samples))
	for _, s := range samples {
		byClass[s.Class] = s
	}
	for class := range c.window {
		if _, ok := byClass[class]; !ok {
			byClass[class] = ClassSample{Class: class}
		}
	}

	classes := make([]string, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	rows := make([]WindowStats, 0, len(classes))
	for _, class := range classes {
		s := byClass[class]
		var n Counts
		if w := c.window[class]; w != nil {
			n = *w
		}
		rows = append(rows, newWindowStats(c.windowStartTick, currentTick, c.dt, episode, s, n))
	}

	c.windowStartTick = currentTick
	clear(c.window)
	return rows
}

// EpisodeTotals returns the counters accumulated since the last ResetEpisode,
// summed over all classes.
func (c *Collector) EpisodeTotals() Counts {
	var total Counts
	for _, n := range c.episode {
		total.add(*n)
	}
	return total
}

// EpisodeCounts returns the episode counters for one class.
func (c *Collector) EpisodeCounts(class string) Counts {
	if n := c.episode[class]; n != nil {
		return *n
	}
	return Counts{}
}

// ResetEpisode clears the episode totals and restarts the window at tick.
func (c *Collector) ResetEpisode(tick int64) {
	clear(c.episode)
	clear(c.window)
	c.windowStartTick = tick
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int64 {
	return c.windowDurationTicks
}

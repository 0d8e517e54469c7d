package telemetry

// LifetimeStats tracks per-agent statistics over its lifetime.
type LifetimeStats struct {
	Class     string
	BirthTick int64

	Replicated     bool
	EnergyReceived float64
	EnergyGiven    float64
	Exchanges      int
}

// LifetimeTracker manages per-agent lifetime statistics and the lifespans of
// agents that expired during the current episode.
type LifetimeTracker struct {
	stats     map[string]*LifetimeStats
	lifespans []float64
}

// NewLifetimeTracker creates a new lifetime tracker.
func NewLifetimeTracker() *LifetimeTracker {
	return &LifetimeTracker{
		stats: make(map[string]*LifetimeStats),
	}
}

// Register creates lifetime stats for a newly spawned agent.
func (lt *LifetimeTracker) Register(id, class string, birthTick int64) {
	lt.stats[id] = &LifetimeStats{Class: class, BirthTick: birthTick}
}

// Get returns the lifetime stats for an agent, or nil if not found.
func (lt *LifetimeTracker) Get(id string) *LifetimeStats {
	return lt.stats[id]
}

// Remove drops an agent's stats, records its lifespan and returns the stats.
func (lt *LifetimeTracker) Remove(id string, tick int64) *LifetimeStats {
	s := lt.stats[id]
	if s == nil {
		return nil
	}
	delete(lt.stats, id)
	lt.lifespans = append(lt.lifespans, float64(tick-s.BirthTick))
	return s
}

// RecordReplication marks an agent as replicated.
func (lt *LifetimeTracker) RecordReplication(id string) {
	if s := lt.stats[id]; s != nil {
		s.Replicated = true
	}
}

// RecordExchange credits both sides of a completed exchange.
func (lt *LifetimeTracker) RecordExchange(requester, provider string, amount float64) {
	if s := lt.stats[requester]; s != nil {
		s.EnergyReceived += amount
		s.Exchanges++
	}
	if s := lt.stats[provider]; s != nil {
		s.EnergyGiven += amount
	}
}

// MeanLifespan returns the mean lifespan in ticks of agents removed since the
// last Reset, or 0 if none expired.
func (lt *LifetimeTracker) MeanLifespan() float64 {
	mean, _, _, _ := ComputeDistribution(lt.lifespans)
	return mean
}

// Len returns the number of tracked agents.
func (lt *LifetimeTracker) Len() int { return len(lt.stats) }

// Reset forgets all agents and lifespans.
func (lt *LifetimeTracker) Reset() {
	clear(lt.stats)
	lt.lifespans = lt.lifespans[:0]
}

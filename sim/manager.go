package sim

import (
	"errors"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/pthm-cable/meadow/components"
	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/grid"
	"github.com/pthm-cable/meadow/pool"
	"github.com/pthm-cable/meadow/preset"
	"github.com/pthm-cable/meadow/systems"
	"github.com/pthm-cable/meadow/telemetry"
)

// Manager owns the pool and placement of one agent population.
// Static populations are placed on a cover grid; dynamic ones anywhere in
// the world away from other agents.
type Manager struct {
	sim  *Simulation
	cfg  config.ManagerConfig
	def  *preset.Definition
	pool *pool.Pool
	grid *grid.Grid

	motion systems.Motion
	kind   components.Kind

	// Expired this tick, released during cleanup
	pending []string

	replications int
	expirations  int
}

func newManager(s *Simulation, mc config.ManagerConfig, def *preset.Definition) *Manager {
	m := &Manager{
		sim: s,
		cfg: mc,
		def: def,
	}
	if def == nil {
		return m
	}
	m.pool = pool.New(s.world, mc.Name, mc.PoolSize)
	m.kind = components.KindDynamic
	if def.IsStatic() {
		m.kind = components.KindStatic
	}
	ms := def.MotionSettings
	m.motion = systems.Motion{
		RunSpeed:      ms.AgentRunSpeed,
		RotationSpeed: ms.AgentRotationSpeed,
		MaxSpeed:      ms.MaxSpeed,
		Damping:       def.RigidbodySettings.LinearDamping,
	}
	return m
}

// Name returns the manager name.
func (m *Manager) Name() string { return m.cfg.Name }

// Definition returns the agent definition, or nil for a disabled manager.
func (m *Manager) Definition() *preset.Definition { return m.def }

// Disabled reports whether the manager has no usable definition.
func (m *Manager) Disabled() bool { return m.def == nil }

// IsStatic reports whether agents are placed on the cover grid.
func (m *Manager) IsStatic() bool { return m.def != nil && m.def.IsStatic() }

// Class returns the agent class, or "" for a disabled manager.
func (m *Manager) Class() string {
	if m.def == nil {
		return ""
	}
	return m.def.AgentClass
}

// Pool returns the record pool, nil for a disabled manager.
func (m *Manager) Pool() *pool.Pool { return m.pool }

// Grid returns the cover grid, nil for dynamic or disabled managers.
func (m *Manager) Grid() *grid.Grid { return m.grid }

// ActiveCount returns the number of active agents.
func (m *Manager) ActiveCount() int {
	if m.pool == nil {
		return 0
	}
	return m.pool.ActiveCount()
}

// Replications returns the replication count of the current episode.
func (m *Manager) Replications() int { return m.replications }

// Expirations returns the expiration count of the current episode.
func (m *Manager) Expirations() int { return m.expirations }

// MeanAge returns the mean age of active agents.
func (m *Manager) MeanAge() float64 {
	if m.pool == nil || m.pool.ActiveCount() == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, id := range m.pool.Active() {
		h, _ := m.pool.Get(id)
		if h.Life.Active {
			sum += h.Life.Age
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ReplicationFraction returns the share of active agents that have replicated.
func (m *Manager) ReplicationFraction() float64 {
	if m.pool == nil || m.pool.ActiveCount() == 0 {
		return 0
	}
	var replicated, n int
	for _, id := range m.pool.Active() {
		h, _ := m.pool.Get(id)
		if !h.Life.Active {
			continue
		}
		n++
		if h.Life.Replicated {
			replicated++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(replicated) / float64(n)
}

// Restart clears the population and spawns the initial agents. Static
// managers rebuild their cover grid from gridSeed.
func (m *Manager) Restart(gridSeed int64) {
	if m.def == nil {
		return
	}
	m.pool.Reset()
	m.pending = m.pending[:0]
	m.replications = 0
	m.expirations = 0
	if m.IsStatic() {
		m.grid = grid.New(grid.ParamsFromConfig(m.sim.cfg, gridSeed))
	}
	for i := 0; i < m.cfg.Initial; i++ {
		m.spawn(false)
	}
	slog.Debug("manager_restart",
		"manager", m.cfg.Name,
		"active", m.pool.ActiveCount(),
		"grid_seed", gridSeed,
	)
}

// spawn activates a new agent. clustered selects neighbour-seeking grid
// placement for static agents. Failures are logged and counted.
func (m *Manager) spawn(clustered bool) (string, bool) {
	s := m.sim
	id := uuid.NewString()

	if _, err := m.pool.Acquire(id); err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) {
			slog.Warn("pool_exhausted", "manager", m.cfg.Name, "size", m.pool.Size())
			s.collector.RecordPoolExhausted(m.def.AgentClass)
			s.emit(telemetry.Event{Type: telemetry.EventPoolExhausted, Class: m.def.AgentClass, Manager: m.cfg.Name})
		} else {
			slog.Warn("spawn_failed", "manager", m.cfg.Name, "error", err)
		}
		return "", false
	}

	var x, y, heading float64
	if m.IsStatic() {
		place := m.grid.TryPlace
		if clustered {
			place = m.grid.TryPlaceClustered
		}
		cell, ok := place(id)
		if !ok {
			if err := m.pool.Release(id); err != nil {
				slog.Error("release_failed", "manager", m.cfg.Name, "agent_id", id, "error", err)
			}
			slog.Warn("no_available_cell", "manager", m.cfg.Name, "clustered", clustered)
			s.collector.RecordPlacementFailure(m.def.AgentClass)
			s.emit(telemetry.Event{Type: telemetry.EventPlacementFailed, Class: m.def.AgentClass, Manager: m.cfg.Name})
			return "", false
		}
		x, y = m.grid.WorldPosition(cell)
	} else {
		x, y = m.freePosition()
		heading = s.rng.Float64()*2*math.Pi - math.Pi
	}

	h, _ := m.pool.Get(id)
	m.initAgent(h, x, y, heading)

	s.registry[id] = m
	s.index.Insert(id, x, y)
	s.lifetimes.Register(id, m.def.AgentClass, s.tick)
	s.collector.RecordSpawn(m.def.AgentClass)
	s.emit(telemetry.NewSpawnEvent(s.tick, s.episode, id, m.def.AgentClass, m.cfg.Name, x, y, h.Energy.Value))
	return id, true
}

func (m *Manager) initAgent(h pool.Handle, x, y, heading float64) {
	s := m.sim
	d := m.def
	lc := s.cfg.Lifecycle

	*h.Identity = components.Identity{
		ID:      h.Identity.ID,
		Class:   d.AgentClass,
		Tag:     d.AgentTag,
		Kind:    m.kind,
		Manager: m.cfg.Name,
	}
	*h.Life = components.Lifecycle{
		MaxAge:           systems.SampleAge(s.rng, d.MaxAge*lc.MaxAgeFactor, lc.MaxAgeSD),
		ReplicationAge:   systems.SampleAge(s.rng, d.ReplicationAge, lc.ReplicationAgeSD),
		Active:           true,
		BirthTick:        s.tick,
		ExpireFromAge:    d.CanExpireFromAge(),
		ExpireFromEnergy: d.CanExpireFromEnergy(),
	}
	*h.Energy = components.Energy{
		Value:        d.InitialEnergy,
		Max:          d.MaxEnergy,
		ExchangeRate: d.EnergyExchangeRate,
		Metabolism:   d.MetabolicRate,
	}
	r := d.RewardSettings
	*h.Reward = components.Reward{
		LongevityPerStep:  r.LongevityRewardPerStep,
		ReplicationAward:  r.ReplicationAward,
		ExpirationPenalty: r.ExpirationWithoutReplicationPenalty,
	}
	*h.Pos = components.Position{X: x, Y: y, Heading: heading}
	*h.Vel = components.Velocity{}
	*h.Contact = components.Contact{}
}

// freePosition samples positions until one is clear of other agents. When
// every attempt collides the agent is placed at the world centre.
func (m *Manager) freePosition() (float64, float64) {
	s := m.sim
	sp := s.cfg.Spawn
	margin := m.def.ColliderSettings.Radius
	span := s.cfg.World.Size - 2*margin
	half := s.cfg.Derived.HalfWorld

	for i := 0; i < sp.DynamicAttempts; i++ {
		x := -half + margin + s.rng.Float64()*span
		y := -half + margin + s.rng.Float64()*span
		if !s.index.AnyWithin(x, y, sp.DynamicCheckRadius) {
			return x, y
		}
	}
	slog.Warn("free_placement_fallback", "manager", m.cfg.Name, "attempts", sp.DynamicAttempts)
	return 0, 0
}

// OnReplicated implements systems.LifecycleEvents.
func (m *Manager) OnReplicated(id string) {
	s := m.sim
	m.replications++
	s.collector.RecordReplication(m.def.AgentClass)
	s.lifetimes.RecordReplication(id)

	ev := telemetry.Event{
		Type:    telemetry.EventReplicate,
		Tick:    s.tick,
		Episode: s.episode,
		AgentID: id,
		Class:   m.def.AgentClass,
		Manager: m.cfg.Name,
	}
	if h, ok := m.pool.Get(id); ok {
		ev.Age = h.Life.Age
		ev.Energy = h.Energy.Value
	}
	s.emit(ev)
}

// OnExpired implements systems.LifecycleEvents. The record stays bound until
// the cleanup phase so handles held during the tick stay valid.
func (m *Manager) OnExpired(id string) {
	s := m.sim
	h, ok := m.pool.Get(id)
	if !ok {
		return
	}
	m.expirations++
	m.pending = append(m.pending, id)

	s.collector.RecordExpiration(m.def.AgentClass, h.Life.Replicated)
	s.emit(telemetry.NewExpireEvent(s.tick, s.episode, id, m.def.AgentClass, m.cfg.Name,
		h.Life.Age, h.Energy.Value, h.Life.Replicated))
	slog.Debug("agent_expired",
		"agent_id", id,
		"manager", m.cfg.Name,
		"age", h.Life.Age,
		"energy", h.Energy.Value,
		"replicated", h.Life.Replicated,
	)
}

// reap releases agents that expired this tick and respawns one new agent for
// every expired agent that had replicated.
func (m *Manager) reap() {
	if len(m.pending) == 0 {
		return
	}
	s := m.sim
	pending := m.pending
	m.pending = nil

	respawns := 0
	for _, id := range pending {
		h, ok := m.pool.Get(id)
		if !ok {
			continue
		}
		if h.Life.Replicated {
			respawns++
		}
		if m.grid != nil {
			m.grid.Remove(id)
		}
		s.index.Remove(id)
		if err := m.pool.Release(id); err != nil {
			slog.Error("release_failed", "manager", m.cfg.Name, "agent_id", id, "error", err)
			continue
		}
		delete(s.registry, id)
		s.lifetimes.Remove(id, s.tick)
	}

	for i := 0; i < respawns; i++ {
		m.spawn(true)
	}
}

// sample returns the population state used for window statistics.
func (m *Manager) sample() telemetry.ClassSample {
	cs := telemetry.ClassSample{
		Class: m.def.AgentClass,
		Free:  m.pool.FreeCount(),
	}
	for _, id := range m.pool.Active() {
		h, _ := m.pool.Get(id)
		if !h.Life.Active {
			continue
		}
		cs.Active++
		if h.Life.Replicated {
			cs.Replicated++
		}
		cs.Ages = append(cs.Ages, h.Life.Age)
		cs.Energies = append(cs.Energies, h.Energy.Value)
	}
	return cs
}

// state returns the snapshot view of the manager.
func (m *Manager) state() telemetry.ManagerState {
	st := telemetry.ManagerState{
		Name:   m.cfg.Name,
		Preset: m.cfg.Preset,
	}
	if m.pool == nil {
		return st
	}
	st.PoolSize = m.pool.Size()
	st.Active = m.pool.ActiveCount()
	if m.grid != nil {
		st.GridSeed = m.grid.Seed()
		st.GridSize = m.grid.Size()
		for _, id := range m.pool.Active() {
			if c, ok := m.grid.CellOf(id); ok {
				st.Cells = append(st.Cells, telemetry.CellState{X: c.X, Y: c.Y, ID: id})
			}
		}
	}
	return st
}

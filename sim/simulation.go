// Package sim drives agent populations through fixed-timestep ticks and
// resets the world when an episode ends.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/meadow/components"
	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/pool"
	"github.com/pthm-cable/meadow/preset"
	"github.com/pthm-cable/meadow/systems"
	"github.com/pthm-cable/meadow/telemetry"
)

// maxSummaries bounds the episode history kept in memory.
const maxSummaries = 256

// Simulation holds the complete simulation state.
type Simulation struct {
	cfg   *config.Config
	opts  Options
	rng   *rand.Rand
	world *ecs.World

	managers []*Manager
	byName   map[string]*Manager
	registry map[string]*Manager // active agent id -> owner

	filter    *pool.Filter
	index     *systems.SpatialGrid
	neighbors []systems.Neighbor
	policy    Policy
	events    telemetry.EventSink

	collector *telemetry.Collector
	perf      *telemetry.PerfCollector
	lifetimes *telemetry.LifetimeTracker
	output    *telemetry.OutputManager

	runID        string
	tick         int64
	episode      int
	episodeStart int64
	gridSeed     int64

	lastStats []telemetry.WindowStats
	summaries []telemetry.EpisodeSummary
}

// New builds a simulation and spawns the first episode. A manager whose
// preset cannot be loaded is disabled and logged, not returned as an error.
func New(opts Options) (*Simulation, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Cfg()
	}

	loader := opts.Loader
	if loader == nil {
		var err error
		loader, err = preset.NewLoader(cfg.Presets.Dir)
		if err != nil {
			return nil, fmt.Errorf("preset loader: %w", err)
		}
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	statsWindow := cfg.Telemetry.StatsWindow
	if opts.StatsWindowSec > 0 {
		statsWindow = opts.StatsWindowSec
	}

	world := ecs.NewWorld()
	s := &Simulation{
		cfg:       cfg,
		opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		world:     world,
		byName:    make(map[string]*Manager, len(cfg.Managers)),
		registry:  make(map[string]*Manager),
		filter:    pool.NewFilter(world),
		index:     systems.NewSpatialGrid(cfg.World.Size, cfg.Contact.GridCellSize),
		neighbors: make([]systems.Neighbor, 0, systems.MaxQueryResults),
		policy:    opts.Policy,
		events:    opts.Events,
		collector: telemetry.NewCollector(statsWindow, cfg.Physics.DT),
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		lifetimes: telemetry.NewLifetimeTracker(),
		runID:     runID,
	}
	if s.policy == nil {
		s.policy = NewRandomPolicy(opts.Seed)
	}

	for _, mc := range cfg.Managers {
		def, err := loader.Load(mc.Preset)
		if err != nil {
			slog.Error("manager_disabled", "manager", mc.Name, "preset", mc.Preset, "error", err)
		}
		m := newManager(s, mc, def)
		s.managers = append(s.managers, m)
		s.byName[mc.Name] = m
	}

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	s.output = output
	if err := s.output.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config", "error", err)
	}

	s.startEpisode()
	return s, nil
}

// Close flushes and closes output files.
func (s *Simulation) Close() error {
	return s.output.Close()
}

// Step runs a single tick.
func (s *Simulation) Step() {
	s.perf.StartTick()

	s.perf.StartPhase(telemetry.PhaseMotion)
	s.updateMotion()

	s.perf.StartPhase(telemetry.PhaseSpatial)
	s.updateSpatialIndex()

	s.perf.StartPhase(telemetry.PhaseContacts)
	s.updateContacts()

	s.perf.StartPhase(telemetry.PhaseLifecycle)
	s.updateLifecycle()

	s.tick++

	s.perf.StartPhase(telemetry.PhaseCleanup)
	for _, m := range s.managers {
		m.reap()
	}

	s.perf.StartPhase(telemetry.PhaseTelemetry)
	s.flushTelemetry()

	s.perf.StartPhase(telemetry.PhaseEpisode)
	s.checkEpisode()

	s.perf.EndTick()
}

// Run steps until ctx is cancelled, maxTicks ticks have run or maxEpisodes
// episodes have ended. Zero limits are unlimited.
func (s *Simulation) Run(ctx context.Context, maxTicks int64, maxEpisodes int) error {
	startEpisode := s.episode
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if maxTicks > 0 && s.tick >= maxTicks {
			return nil
		}
		if maxEpisodes > 0 && s.episode-startEpisode >= maxEpisodes {
			return nil
		}
		s.Step()
	}
}

// updateMotion lets the policy steer every active dynamic agent.
func (s *Simulation) updateMotion() {
	dt := s.cfg.Physics.DT
	half := s.cfg.Derived.HalfWorld

	query := s.filter.Query()
	for query.Next() {
		ident, life, energy, _, pos, vel, contact := query.Get()
		if !life.Active || ident.Kind != components.KindDynamic {
			continue
		}
		m := s.byName[ident.Manager]
		if m == nil {
			continue
		}

		obs := Observation{
			ID:          ident.ID,
			Class:       ident.Class,
			Tick:        s.tick,
			X:           pos.X,
			Y:           pos.Y,
			Heading:     pos.Heading,
			VelX:        vel.X,
			VelY:        vel.Y,
			EnergyRatio: energy.Ratio(),
			Replicated:  life.Replicated,
			Sink:        contact.Sink,
		}
		if life.MaxAge > 0 {
			obs.AgeRatio = life.Age / life.MaxAge
		}
		if src, ok := s.lookup(contact.Source); ok {
			obs.HasSource = true
			obs.SourceDX = src.Pos.X - pos.X
			obs.SourceDY = src.Pos.Y - pos.Y
		}

		act := s.policy.Act(obs)
		systems.ApplyAction(pos, vel, act, m.motion, dt)
		systems.Integrate(pos, vel, m.motion, dt, half)
	}
}

// updateSpatialIndex rebuilds the spatial index from active agents.
func (s *Simulation) updateSpatialIndex() {
	s.index.Clear()

	query := s.filter.Query()
	for query.Next() {
		ident, life, _, _, pos, _, _ := query.Get()
		if life.Active {
			s.index.Insert(ident.ID, pos.X, pos.Y)
		}
	}
}

// updateContacts refreshes the source and sink contacts of agents that can
// sense other agents.
func (s *Simulation) updateContacts() {
	radius := s.cfg.Contact.Radius
	for _, m := range s.managers {
		if m.def == nil || len(m.def.DetectableTags) == 0 {
			continue
		}
		for _, id := range m.pool.Active() {
			h, _ := m.pool.Get(id)
			if !h.Life.Active {
				continue
			}
			s.neighbors = systems.DetectContacts(h.Contact, id, h.Pos.X, h.Pos.Y, radius,
				m.def, s.index, s.tagOf, s.neighbors)
		}
	}
}

// updateLifecycle ages every agent, then lets it draw energy from its source.
// Agents that expire while aging skip the exchange.
func (s *Simulation) updateLifecycle() {
	dt := s.cfg.Physics.DT
	agingRate := s.cfg.Lifecycle.AgingRate

	for _, m := range s.managers {
		if m.def == nil {
			continue
		}
		for _, id := range m.pool.Active() {
			h, ok := m.pool.Get(id)
			if !ok || !h.Life.Active {
				continue
			}
			a := agentOf(h)
			systems.UpdateLifecycle(a, dt, agingRate, m)
			if !h.Life.Active {
				continue
			}
			s.exchange(m, h)
		}
	}
}

// exchange runs one energy request from h to its current source.
func (s *Simulation) exchange(m *Manager, h pool.Handle) {
	if h.Contact.Source == "" || h.Energy.Headroom() <= 0 || h.Energy.ExchangeRate <= 0 {
		return
	}
	src, ok := s.lookup(h.Contact.Source)
	if !ok {
		h.Contact.Source = ""
		return
	}
	owner := s.registry[h.Contact.Source]

	req := systems.Exchange(s.tick, agentOf(h), agentOf(src), owner)
	s.collector.RecordExchange(m.def.AgentClass, req.Completed, req.Amount)
	if !req.Completed {
		return
	}
	s.lifetimes.RecordExchange(req.Requester, req.Provider, req.Amount)
	s.emit(telemetry.NewExchangeEvent(s.tick, s.episode, req.Requester, req.Provider, m.def.AgentClass, req.Amount))
}

// lookup returns the handle of an active agent by id.
func (s *Simulation) lookup(id string) (pool.Handle, bool) {
	if id == "" {
		return pool.Handle{}, false
	}
	m := s.registry[id]
	if m == nil {
		return pool.Handle{}, false
	}
	h, ok := m.pool.Get(id)
	if !ok || !h.Life.Active {
		return pool.Handle{}, false
	}
	return h, true
}

// tagOf implements systems.TagLookup.
func (s *Simulation) tagOf(id string) (string, bool) {
	h, ok := s.lookup(id)
	if !ok {
		return "", false
	}
	return h.Identity.Tag, true
}

func (s *Simulation) emit(e telemetry.Event) {
	if s.events == nil {
		return
	}
	if e.Tick == 0 {
		e.Tick = s.tick
	}
	if e.Episode == 0 {
		e.Episode = s.episode
	}
	s.events.Record(e)
}

func agentOf(h pool.Handle) systems.Agent {
	return systems.Agent{ID: h.Identity.ID, Life: h.Life, Energy: h.Energy, Reward: h.Reward}
}

package sim

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/meadow/config"
	"github.com/pthm-cable/meadow/preset"
	"github.com/pthm-cable/meadow/systems"
	"github.com/pthm-cable/meadow/telemetry"
)

// testConfig returns defaults with every cover cell eligible and the given
// managers.
func testConfig(t *testing.T, managers ...config.ManagerConfig) *config.Config {
	t.Helper()
	cfg := config.Defaults().Clone()
	cfg.Cover.SpawnThreshold = -1
	cfg.Cover.SpawnLowerBound = 0
	cfg.Cover.SpawnUpperBound = 1
	cfg.Managers = managers
	if err := cfg.Recompute(); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	return cfg
}

func newSim(t *testing.T, opts Options) *Simulation {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var stay = PolicyFunc(func(Observation) systems.Action { return systems.ActionNone })

// ---------- construction ----------

func TestNewSpawnsInitialPopulation(t *testing.T) {
	cfg := testConfig(t,
		config.ManagerConfig{Name: "flowers", Preset: "flower", Initial: 40, PoolSize: 60},
		config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 8, PoolSize: 16},
	)
	s := newSim(t, Options{Seed: 1, Config: cfg})

	if s.Episode() != 1 || s.Tick() != 0 {
		t.Fatalf("episode/tick = %d/%d, want 1/0", s.Episode(), s.Tick())
	}

	flowers, _ := s.Manager("flowers")
	voles, _ := s.Manager("voles")
	if flowers.ActiveCount() != 40 {
		t.Errorf("flowers = %d, want 40", flowers.ActiveCount())
	}
	if voles.ActiveCount() != 8 {
		t.Errorf("voles = %d, want 8", voles.ActiveCount())
	}
	if !flowers.IsStatic() || flowers.Grid() == nil {
		t.Error("flowers should be placed on a grid")
	}
	if voles.IsStatic() || voles.Grid() != nil {
		t.Error("voles should use free placement")
	}
	if flowers.Grid().Occupied() != 40 {
		t.Errorf("occupied cells = %d, want 40", flowers.Grid().Occupied())
	}

	half := cfg.Derived.HalfWorld
	for _, r := range voles.Pool().Records() {
		if r.X < -half || r.X > half || r.Y < -half || r.Y > half {
			t.Errorf("vole %s outside world: (%v, %v)", r.ID, r.X, r.Y)
		}
		if r.Energy != 60 || r.MaxEnergy != 100 || !r.Active {
			t.Errorf("vole %s not initialised: %+v", r.ID, r)
		}
	}
}

func TestMissingPresetDisablesManager(t *testing.T) {
	cfg := testConfig(t,
		config.ManagerConfig{Name: "badgers", Preset: "badger", Initial: 3, PoolSize: 5},
		config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 2, PoolSize: 4},
	)
	s := newSim(t, Options{Seed: 1, Config: cfg})

	badgers, ok := s.Manager("badgers")
	if !ok || !badgers.Disabled() {
		t.Fatal("badgers should exist and be disabled")
	}
	if badgers.ActiveCount() != 0 || badgers.Pool() != nil {
		t.Error("disabled manager should hold no agents")
	}

	for i := 0; i < 5; i++ {
		s.Step()
	}
	if voles, _ := s.Manager("voles"); voles.ActiveCount() != 2 {
		t.Errorf("voles = %d, want 2", voles.ActiveCount())
	}
}

// ---------- invariants ----------

func TestPoolAndGridInvariants(t *testing.T) {
	cfg := testConfig(t,
		config.ManagerConfig{Name: "flowers", Preset: "flower", Initial: 30, PoolSize: 50},
		config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 10, PoolSize: 20},
		config.ManagerConfig{Name: "stoats", Preset: "stoat", Initial: 3, PoolSize: 6},
	)
	s := newSim(t, Options{Seed: 7, Config: cfg})

	prevAge := make(map[string]float64)
	for step := 0; step < 400; step++ {
		s.Step()

		for _, m := range s.Managers() {
			p := m.Pool()
			if p.ActiveCount()+p.FreeCount() != p.Size() {
				t.Fatalf("step %d %s: active %d + free %d != size %d",
					step, m.Name(), p.ActiveCount(), p.FreeCount(), p.Size())
			}
			for _, r := range p.Records() {
				if !r.Active || r.Expired {
					t.Fatalf("step %d: released agent %s still bound", step, r.ID)
				}
				if r.Energy < 0 || r.Energy > r.MaxEnergy {
					t.Fatalf("step %d: energy %v outside [0, %v]", step, r.Energy, r.MaxEnergy)
				}
				if prev, ok := prevAge[r.ID]; ok && r.Age < prev {
					t.Fatalf("step %d: age of %s decreased %v -> %v", step, r.ID, prev, r.Age)
				}
				prevAge[r.ID] = r.Age
			}
			if g := m.Grid(); g != nil {
				if g.Occupied() != p.ActiveCount() {
					t.Fatalf("step %d: occupied %d != active %d", step, g.Occupied(), p.ActiveCount())
				}
				for _, id := range p.Active() {
					c, ok := g.CellOf(id)
					if !ok || g.Occupant(c) != id {
						t.Fatalf("step %d: %s not on its cell", step, id)
					}
				}
			}
		}
	}
}

// ---------- lifecycle ----------

const sproutPreset = `{
  "agentType": "static",
  "agentClass": "sprout",
  "maxAge": 10,
  "replicationAge": 1,
  "expirationCauses": ["age"],
  "maxEnergy": 1,
  "initialEnergy": 1,
  "agentTag": "sprout"
}`

func TestReplicatedAgentsRespawn(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sprout.json"), []byte(sproutPreset), 0644); err != nil {
		t.Fatal(err)
	}
	loader, err := preset.NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, config.ManagerConfig{Name: "sprouts", Preset: "sprout", Initial: 20, PoolSize: 30})
	cfg.Lifecycle.MaxAgeFactor = 1
	cfg.Lifecycle.MaxAgeSD = 0
	cfg.Lifecycle.ReplicationAgeSD = 0

	var events []telemetry.Event
	s := newSim(t, Options{
		Seed:   3,
		Config: cfg,
		Loader: loader,
		Events: telemetry.EventSinkFunc(func(e telemetry.Event) { events = append(events, e) }),
	})
	sprouts, _ := s.Manager("sprouts")

	// Age grows 0.6 per tick: replication at tick 2, expiry at tick 17.
	for i := 0; i < 20; i++ {
		s.Step()
	}

	if sprouts.Expirations() != 20 {
		t.Errorf("expirations = %d, want 20", sprouts.Expirations())
	}
	if sprouts.ActiveCount() != 20 {
		t.Errorf("active = %d, want 20 after respawn", sprouts.ActiveCount())
	}
	if sprouts.Grid().Occupied() != 20 {
		t.Errorf("occupied = %d, want 20", sprouts.Grid().Occupied())
	}

	counts := map[telemetry.EventType]int{}
	for _, e := range events {
		counts[e.Type]++
	}
	if counts[telemetry.EventSpawn] != 40 {
		t.Errorf("spawn events = %d, want 40", counts[telemetry.EventSpawn])
	}
	if counts[telemetry.EventExpire] != 20 {
		t.Errorf("expire events = %d, want 20", counts[telemetry.EventExpire])
	}
	if counts[telemetry.EventReplicate] < 20 {
		t.Errorf("replicate events = %d, want at least 20", counts[telemetry.EventReplicate])
	}
}

const molePreset = `{
  "agentType": "dynamic",
  "agentClass": "mole",
  "maxAge": 10,
  "replicationAge": 1,
  "expirationCauses": ["age"],
  "maxEnergy": 1,
  "initialEnergy": 1,
  "agentTag": "mole"
}`

func TestRespawnIgnoresExpiredAgents(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mole.json"), []byte(molePreset), 0644); err != nil {
		t.Fatal(err)
	}
	loader, err := preset.NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, config.ManagerConfig{Name: "moles", Preset: "mole", Initial: 1, PoolSize: 2})
	cfg.World.Size = 4
	cfg.Spawn.DynamicCheckRadius = 10
	cfg.Lifecycle.MaxAgeFactor = 1
	cfg.Lifecycle.MaxAgeSD = 0
	cfg.Lifecycle.ReplicationAgeSD = 0
	if err := cfg.Recompute(); err != nil {
		t.Fatal(err)
	}

	var spawns []telemetry.Event
	s := newSim(t, Options{
		Seed:   5,
		Config: cfg,
		Loader: loader,
		Policy: stay,
		Events: telemetry.EventSinkFunc(func(e telemetry.Event) {
			if e.Type == telemetry.EventSpawn {
				spawns = append(spawns, e)
			}
		}),
	})
	moles, _ := s.Manager("moles")

	// Expiry at tick 17; the only other agent in range is the expired one.
	for i := 0; i < 20; i++ {
		s.Step()
	}

	if moles.Expirations() != 1 {
		t.Fatalf("expirations = %d, want 1", moles.Expirations())
	}
	if len(spawns) != 2 {
		t.Fatalf("spawn events = %d, want 2", len(spawns))
	}
	if r := spawns[1]; r.X == 0 && r.Y == 0 {
		t.Error("respawn fell back to the world centre")
	}
	if moles.ActiveCount() != 1 {
		t.Errorf("active = %d, want 1", moles.ActiveCount())
	}
}

func TestSpawnFailuresAreAbsorbed(t *testing.T) {
	tests := []struct {
		name           string
		manager        config.ManagerConfig
		threshold      float64
		wantActive     int
		wantFree       int
		wantExhausted  int
		wantPlacements int
	}{
		{
			name:          "pool exhausted",
			manager:       config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 10, PoolSize: 4},
			threshold:     -1,
			wantActive:    4,
			wantFree:      0,
			wantExhausted: 6,
		},
		{
			name:           "no eligible cell",
			manager:        config.ManagerConfig{Name: "flowers", Preset: "flower", Initial: 5, PoolSize: 10},
			threshold:      2,
			wantActive:     0,
			wantFree:       10,
			wantPlacements: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.manager)
			cfg.Cover.SpawnThreshold = tt.threshold
			s := newSim(t, Options{Seed: 1, Config: cfg, Policy: stay})

			m, _ := s.Manager(tt.manager.Name)
			if got := m.ActiveCount(); got != tt.wantActive {
				t.Errorf("active = %d, want %d", got, tt.wantActive)
			}
			if got := m.Pool().FreeCount(); got != tt.wantFree {
				t.Errorf("free = %d, want %d", got, tt.wantFree)
			}
			counts := s.EpisodeCounts()
			if counts.PoolExhausted != tt.wantExhausted {
				t.Errorf("pool exhausted = %d, want %d", counts.PoolExhausted, tt.wantExhausted)
			}
			if counts.PlacementFailures != tt.wantPlacements {
				t.Errorf("placement failures = %d, want %d", counts.PlacementFailures, tt.wantPlacements)
			}
			if m.Grid() != nil && m.Grid().Occupied() != 0 {
				t.Errorf("occupied = %d, want 0", m.Grid().Occupied())
			}
		})
	}
}

// ---------- exchange ----------

func TestEnergyExchangeBetweenManagers(t *testing.T) {
	cfg := testConfig(t,
		config.ManagerConfig{Name: "flowers", Preset: "flower", Initial: 10, PoolSize: 10},
		config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 1, PoolSize: 2},
	)
	var exchanges []telemetry.Event
	s := newSim(t, Options{
		Seed:   5,
		Config: cfg,
		Policy: stay,
		Events: telemetry.EventSinkFunc(func(e telemetry.Event) {
			if e.Type == telemetry.EventExchange {
				exchanges = append(exchanges, e)
			}
		}),
	})

	flowers, _ := s.Manager("flowers")
	voles, _ := s.Manager("voles")

	flowerID := flowers.Pool().Active()[0]
	flower, _ := flowers.Pool().Get(flowerID)
	vole, _ := voles.Pool().Get(voles.Pool().Active()[0])

	vole.Pos.X = flower.Pos.X + 0.2
	vole.Pos.Y = flower.Pos.Y
	vole.Energy.Value = 10

	s.Step()

	if vole.Contact.Source != flowerID {
		t.Fatalf("vole source = %q, want %q", vole.Contact.Source, flowerID)
	}
	// 1.5/s metabolism over one 0.02s tick, then a 2 unit exchange
	if math.Abs(vole.Energy.Value-11.97) > 1e-9 {
		t.Errorf("vole energy = %v, want 11.97", vole.Energy.Value)
	}
	if flower.Energy.Value != 98 {
		t.Errorf("flower energy = %v, want 98", flower.Energy.Value)
	}
	if len(exchanges) != 1 || exchanges[0].TargetID != flowerID || exchanges[0].Amount != 2 {
		t.Errorf("exchange events = %+v", exchanges)
	}
	if got := s.EpisodeCounts(); got.Exchanges != 1 || got.EnergyTransferred != 2 {
		t.Errorf("episode counts = %+v", got)
	}
}

// ---------- episodes ----------

func TestStepLimitEndsEpisode(t *testing.T) {
	cfg := testConfig(t, config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 3, PoolSize: 6})
	cfg.Episode.MaxSteps = 10

	var summaries []telemetry.EpisodeSummary
	s := newSim(t, Options{
		Seed:            1,
		Config:          cfg,
		EpisodeCallback: func(e telemetry.EpisodeSummary) { summaries = append(summaries, e) },
	})

	for i := 0; i < 10; i++ {
		s.Step()
	}

	if s.Episode() != 2 {
		t.Fatalf("episode = %d, want 2", s.Episode())
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	sum := summaries[0]
	if sum.Reason != telemetry.ReasonMaxSteps || sum.Steps != 10 || sum.Episode != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Spawns != 3 || sum.DynamicSurvivors != 3 {
		t.Errorf("summary counts = %+v", sum)
	}
	if s.EpisodeStart() != 10 {
		t.Errorf("episode start = %d, want 10", s.EpisodeStart())
	}
	if voles, _ := s.Manager("voles"); voles.ActiveCount() != 3 {
		t.Errorf("voles after restart = %d, want 3", voles.ActiveCount())
	}
}

func TestExtinctionEndsEpisode(t *testing.T) {
	cfg := testConfig(t, config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 2, PoolSize: 4})
	cfg.Lifecycle.MaxAgeFactor = 0.001
	cfg.Lifecycle.MaxAgeSD = 0
	cfg.Lifecycle.ReplicationAgeSD = 0
	cfg.Episode.CheckInterval = 5

	s := newSim(t, Options{Seed: 1, Config: cfg, Policy: stay})

	// Max age floors at 1, reached on the second tick; checked on the fifth.
	for i := 0; i < 4; i++ {
		s.Step()
	}
	if !s.Extinct() {
		t.Fatal("voles should be extinct before the check")
	}
	if s.Episode() != 1 {
		t.Fatalf("episode ended before check interval")
	}

	s.Step()
	if s.Episode() != 2 {
		t.Fatalf("episode = %d, want 2", s.Episode())
	}
	sums := s.Summaries()
	if len(sums) != 1 || sums[0].Reason != telemetry.ReasonExtinction {
		t.Fatalf("summaries = %+v", sums)
	}
	if sums[0].Expirations != 2 || sums[0].Replications != 0 || sums[0].DynamicSurvivors != 0 {
		t.Errorf("summary = %+v", sums[0])
	}
	if sums[0].MeanLifespanTicks != 2 {
		t.Errorf("mean lifespan = %v, want 2", sums[0].MeanLifespanTicks)
	}
}

func TestStaticOnlyNeverExtinct(t *testing.T) {
	cfg := testConfig(t, config.ManagerConfig{Name: "flowers", Preset: "flower", Initial: 0, PoolSize: 4})
	s := newSim(t, Options{Seed: 1, Config: cfg})
	if s.Extinct() {
		t.Error("a simulation without dynamic managers should not be extinct")
	}
}

func TestResetStartsNewEpisode(t *testing.T) {
	cfg := testConfig(t,
		config.ManagerConfig{Name: "flowers", Preset: "flower", Initial: 5, PoolSize: 10},
		config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 2, PoolSize: 4},
	)
	cfg.Cover.Seed = 100
	s := newSim(t, Options{Seed: 1, Config: cfg})

	flowers, _ := s.Manager("flowers")
	if flowers.Grid().Seed() != 100 {
		t.Errorf("first grid seed = %d, want 100", flowers.Grid().Seed())
	}

	s.Step()
	sum := s.Reset()
	if sum.Reason != telemetry.ReasonReset || sum.Episode != 1 || sum.GridSeed != 100 {
		t.Errorf("summary = %+v", sum)
	}
	if s.Episode() != 2 {
		t.Errorf("episode = %d, want 2", s.Episode())
	}
	if flowers.Grid().Seed() != 101 {
		t.Errorf("second grid seed = %d, want 101", flowers.Grid().Seed())
	}
	if flowers.ActiveCount() != 5 {
		t.Errorf("flowers after reset = %d, want 5", flowers.ActiveCount())
	}
}

// ---------- run and telemetry ----------

func TestRunStopsAtLimits(t *testing.T) {
	cfg := testConfig(t, config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 2, PoolSize: 4})
	cfg.Episode.MaxSteps = 20

	s := newSim(t, Options{Seed: 1, Config: cfg})
	if err := s.Run(context.Background(), 50, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Tick() != 50 {
		t.Errorf("tick = %d, want 50", s.Tick())
	}

	if err := s.Run(context.Background(), 0, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Tick() != 60 || s.Episode() != 4 {
		t.Errorf("tick/episode = %d/%d, want 60/4", s.Tick(), s.Episode())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, 0, 0); err == nil {
		t.Error("cancelled context should stop Run with an error")
	}
}

func TestStatsCallback(t *testing.T) {
	cfg := testConfig(t,
		config.ManagerConfig{Name: "flowers", Preset: "flower", Initial: 5, PoolSize: 10},
		config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 3, PoolSize: 6},
	)
	var windows [][]telemetry.WindowStats
	s := newSim(t, Options{
		Seed:           2,
		Config:         cfg,
		StatsWindowSec: 0.2, // 10 ticks
		StatsCallback:  func(w []telemetry.WindowStats) { windows = append(windows, w) },
	})

	for i := 0; i < 25; i++ {
		s.Step()
	}

	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	rows := windows[0]
	if len(rows) != 2 || rows[0].Class != "flower" || rows[1].Class != "vole" {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].WindowEndTick != 10 || rows[0].Active+rows[0].Free != 10 {
		t.Errorf("flower row = %+v", rows[0])
	}
	if len(s.LastStats()) != 2 || s.LastStats()[0].WindowEndTick != 20 {
		t.Errorf("last stats = %+v", s.LastStats())
	}
}

func TestSnapshotAndOutput(t *testing.T) {
	cfg := testConfig(t,
		config.ManagerConfig{Name: "flowers", Preset: "flower", Initial: 6, PoolSize: 10},
		config.ManagerConfig{Name: "voles", Preset: "vole", Initial: 2, PoolSize: 4},
	)
	cfg.Episode.MaxSteps = 5
	out := t.TempDir()
	snaps := filepath.Join(out, "snapshots")

	s := newSim(t, Options{Seed: 4, Config: cfg, OutputDir: out, SnapshotDir: snaps})

	snap := s.Snapshot()
	if len(snap.Managers) != 2 || len(snap.Agents) != 8 {
		t.Fatalf("snapshot managers/agents = %d/%d", len(snap.Managers), len(snap.Agents))
	}
	if len(snap.Managers[0].Cells) != 6 || snap.Managers[1].Cells != nil {
		t.Errorf("cells = %d/%d", len(snap.Managers[0].Cells), len(snap.Managers[1].Cells))
	}

	for i := 0; i < 5; i++ {
		s.Step()
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	loaded, err := telemetry.LoadSnapshot(filepath.Join(snaps, "snapshot_e1_t5.json.zst"))
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.RunID != s.RunID() || loaded.Episode != 1 {
		t.Errorf("loaded snapshot = %+v", loaded)
	}
	for _, name := range []string{"config.yaml", "episodes.csv", "telemetry.csv", "perf.csv"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

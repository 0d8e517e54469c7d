// Package grid implements the cover grid used to place static agents.
//
// A fractal noise field decides which cells may host an agent. Each cell holds
// at most one agent id and each id occupies at most one cell.
package grid

import (
	"log/slog"
	"math"
	"math/rand"

	"github.com/pthm-cable/meadow/config"
)

// Cell addresses a grid cell by column and row.
type Cell struct {
	X, Y int
}

// Params configures a grid.
type Params struct {
	WorldSize           float64
	CellSize            float64
	LowerBound          float64 // fraction of the world span
	UpperBound          float64
	Noise               string
	NoiseScale          float64
	Octaves             int
	Persistence         float64
	Lacunarity          float64
	Threshold           float64
	GoodEnoughNeighbors int
	Seed                int64
}

// ParamsFromConfig builds grid parameters from the cover section.
func ParamsFromConfig(cfg *config.Config, seed int64) Params {
	c := cfg.Cover
	return Params{
		WorldSize:           cfg.World.Size,
		CellSize:            c.CellSize,
		LowerBound:          c.SpawnLowerBound,
		UpperBound:          c.SpawnUpperBound,
		Noise:               c.Noise,
		NoiseScale:          c.NoiseScale,
		Octaves:             c.Octaves,
		Persistence:         c.Persistence,
		Lacunarity:          c.Lacunarity,
		Threshold:           c.SpawnThreshold,
		GoodEnoughNeighbors: c.GoodEnoughNeighbors,
		Seed:                seed,
	}
}

// Grid tracks cell eligibility and occupancy.
type Grid struct {
	params Params
	size   int
	half   float64
	cellW  float64
	rng    *rand.Rand

	noise    []float64
	eligible []bool
	occupant []string
	cellOf   map[string]Cell

	available []Cell
	availIdx  map[Cell]int
}

// New builds the noise field and the available set.
func New(p Params) *Grid {
	size := int(math.Ceil(p.WorldSize / p.CellSize))
	if size < 1 {
		size = 1
	}
	g := &Grid{
		params:   p,
		size:     size,
		half:     p.WorldSize / 2,
		cellW:    p.WorldSize / float64(size),
		rng:      rand.New(rand.NewSource(p.Seed)),
		noise:    make([]float64, size*size),
		eligible: make([]bool, size*size),
		occupant: make([]string, size*size),
		cellOf:   make(map[string]Cell),
		availIdx: make(map[Cell]int),
	}
	g.generateNoise()

	lower := lerp(p.LowerBound, -g.half, g.half)
	upper := lerp(p.UpperBound, -g.half, g.half)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := Cell{x, y}
			if g.noise[g.index(c)] <= p.Threshold {
				continue
			}
			wx, wy := g.WorldPosition(c)
			if wx < lower || wx > upper || wy < lower || wy > upper {
				continue
			}
			g.eligible[g.index(c)] = true
			g.addAvailable(c)
		}
	}
	return g
}

func (g *Grid) generateNoise() {
	src, err := NewSource(g.params.Noise, g.rng.Int63())
	if err != nil {
		slog.Warn("grid_noise_fallback", "noise", g.params.Noise, "error", err)
		src = NewPerlinNoise(g.params.Seed)
	}
	offX := g.rng.Float64() * 10000
	offY := g.rng.Float64() * 10000
	for y := 0; y < g.size; y++ {
		for x := 0; x < g.size; x++ {
			u := float64(x) / float64(g.size) * g.params.NoiseScale
			v := float64(y) / float64(g.size) * g.params.NoiseScale
			g.noise[y*g.size+x] = Fractal(src, u, v, offX, offY,
				g.params.Octaves, g.params.Persistence, g.params.Lacunarity)
		}
	}
}

// TryPlace puts id on a uniformly chosen available cell.
func (g *Grid) TryPlace(id string) (Cell, bool) {
	if _, ok := g.cellOf[id]; ok || len(g.available) == 0 {
		return Cell{}, false
	}
	c := g.available[g.rng.Intn(len(g.available))]
	g.occupy(id, c)
	return c, true
}

// TryPlaceClustered puts id on the empty cell with the most occupied
// neighbours. Candidates are visited in random order and the search stops
// once a cell reaches GoodEnoughNeighbors.
func (g *Grid) TryPlaceClustered(id string) (Cell, bool) {
	if _, ok := g.cellOf[id]; ok {
		return Cell{}, false
	}
	empty := make([]Cell, 0, len(g.occupant)-len(g.cellOf))
	for y := 0; y < g.size; y++ {
		for x := 0; x < g.size; x++ {
			if g.occupant[y*g.size+x] == "" {
				empty = append(empty, Cell{x, y})
			}
		}
	}
	g.rng.Shuffle(len(empty), func(i, j int) { empty[i], empty[j] = empty[j], empty[i] })

	best, bestCount := Cell{}, -1
	for _, c := range empty {
		n := g.occupiedNeighbors(c)
		if n > bestCount {
			best, bestCount = c, n
			if n >= g.params.GoodEnoughNeighbors {
				break
			}
		}
	}
	if bestCount < 0 {
		return Cell{}, false
	}
	g.occupy(id, best)
	return best, true
}

// Remove clears the cell held by id. Eligible cells become available again.
func (g *Grid) Remove(id string) bool {
	c, ok := g.cellOf[id]
	if !ok {
		slog.Warn("grid_remove_unknown", "agent_id", id)
		return false
	}
	i := g.index(c)
	g.occupant[i] = ""
	delete(g.cellOf, id)
	if g.eligible[i] {
		g.addAvailable(c)
	}
	return true
}

func (g *Grid) occupy(id string, c Cell) {
	g.occupant[g.index(c)] = id
	g.cellOf[id] = c
	g.removeAvailable(c)
}

func (g *Grid) addAvailable(c Cell) {
	if _, ok := g.availIdx[c]; ok {
		return
	}
	g.availIdx[c] = len(g.available)
	g.available = append(g.available, c)
}

func (g *Grid) removeAvailable(c Cell) {
	i, ok := g.availIdx[c]
	if !ok {
		return
	}
	last := len(g.available) - 1
	g.available[i] = g.available[last]
	g.availIdx[g.available[i]] = i
	g.available = g.available[:last]
	delete(g.availIdx, c)
}

var neighborOffsets = [8]Cell{
	{-1, 0}, {1, 0}, {0, -1}, {0, 1},
	{-1, -1}, {-1, 1}, {1, -1}, {1, 1},
}

func (g *Grid) occupiedNeighbors(c Cell) int {
	n := 0
	for _, o := range neighborOffsets {
		nx, ny := c.X+o.X, c.Y+o.Y
		if nx < 0 || nx >= g.size || ny < 0 || ny >= g.size {
			continue
		}
		if g.occupant[ny*g.size+nx] != "" {
			n++
		}
	}
	return n
}

// WorldPosition returns the world-space centre of c.
func (g *Grid) WorldPosition(c Cell) (x, y float64) {
	x = -g.half + float64(c.X)*g.cellW + g.cellW/2
	y = -g.half + float64(c.Y)*g.cellW + g.cellW/2
	return x, y
}

// Occupant returns the id on c, or "" when the cell is empty or out of range.
func (g *Grid) Occupant(c Cell) string {
	if !g.inBounds(c) {
		return ""
	}
	return g.occupant[g.index(c)]
}

// CellOf returns the cell held by id.
func (g *Grid) CellOf(id string) (Cell, bool) {
	c, ok := g.cellOf[id]
	return c, ok
}

// NoiseAt returns the normalised noise value of c.
func (g *Grid) NoiseAt(c Cell) float64 {
	if !g.inBounds(c) {
		return 0
	}
	return g.noise[g.index(c)]
}

// Eligible reports whether c passes the noise threshold and spawn bounds.
func (g *Grid) Eligible(c Cell) bool {
	return g.inBounds(c) && g.eligible[g.index(c)]
}

// Available returns the number of eligible empty cells.
func (g *Grid) Available() int { return len(g.available) }

// Occupied returns the number of occupied cells.
func (g *Grid) Occupied() int { return len(g.cellOf) }

// Size returns the number of cells per side.
func (g *Grid) Size() int { return g.size }

// Seed returns the seed the grid was built from.
func (g *Grid) Seed() int64 { return g.params.Seed }

// Noise returns a copy of the noise field in row-major order.
func (g *Grid) Noise() []float64 {
	return append([]float64(nil), g.noise...)
}

// Occupants returns a copy of the occupancy field in row-major order.
func (g *Grid) Occupants() []string {
	return append([]string(nil), g.occupant...)
}

func (g *Grid) inBounds(c Cell) bool {
	return c.X >= 0 && c.X < g.size && c.Y >= 0 && c.Y < g.size
}

func (g *Grid) index(c Cell) int { return c.Y*g.size + c.X }

// Package systems provides the per-tick systems of the simulation: lifecycle,
// energy exchange, motion, contact detection and the spatial index they share.
package systems

import "math"

// Neighbor holds a nearby agent with precomputed spatial data.
type Neighbor struct {
	ID     string
	DX, DY float64 // Delta from query origin
	DistSq float64
}

type spatialEntry struct {
	id   string
	x, y float64
}

// SpatialGrid provides neighbour lookups using a cell-based grid over a square
// world centred on the origin.
type SpatialGrid struct {
	cellSize float64
	cols     int
	half     float64
	cells    [][]spatialEntry
	where    map[string]int // id -> cell index
	count    int
}

// NewSpatialGrid creates a spatial grid covering a world of the given size.
func NewSpatialGrid(worldSize, cellSize float64) *SpatialGrid {
	cols := int(worldSize/cellSize) + 1

	cells := make([][]spatialEntry, cols*cols)
	for i := range cells {
		cells[i] = make([]spatialEntry, 0, 8)
	}

	return &SpatialGrid{
		cellSize: cellSize,
		cols:     cols,
		half:     worldSize / 2,
		cells:    cells,
		where:    make(map[string]int),
	}
}

// Clear removes all agents from the grid.
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
	clear(g.where)
	g.count = 0
}

// Insert adds an agent to the grid at the given position.
func (g *SpatialGrid) Insert(id string, x, y float64) {
	col, row := g.cellCoords(x, y)
	idx := row*g.cols + col
	g.cells[idx] = append(g.cells[idx], spatialEntry{id: id, x: x, y: y})
	g.where[id] = idx
	g.count++
}

// Remove drops an agent from the grid. It reports false when id is not indexed.
func (g *SpatialGrid) Remove(id string) bool {
	idx, ok := g.where[id]
	if !ok {
		return false
	}
	delete(g.where, id)
	cell := g.cells[idx]
	for i := range cell {
		if cell[i].id == id {
			last := len(cell) - 1
			cell[i] = cell[last]
			g.cells[idx] = cell[:last]
			g.count--
			return true
		}
	}
	return false
}

// Len returns the number of indexed agents.
func (g *SpatialGrid) Len() int { return g.count }

// MaxQueryResults caps the number of neighbors returned by spatial queries.
const MaxQueryResults = 128

// QueryRadiusInto appends agents within radius of (x, y) to dst, up to
// MaxQueryResults. Reuse dst across calls to avoid allocations.
func (g *SpatialGrid) QueryRadiusInto(dst []Neighbor, x, y, radius float64, exclude string) []Neighbor {
	cellRadius := int(radius/g.cellSize) + 1
	centerCol, centerRow := g.cellCoords(x, y)
	radiusSq := radius * radius

	for dr := -cellRadius; dr <= cellRadius; dr++ {
		row := centerRow + dr
		if row < 0 || row >= g.cols {
			continue
		}
		for dc := -cellRadius; dc <= cellRadius; dc++ {
			col := centerCol + dc
			if col < 0 || col >= g.cols {
				continue
			}
			for _, e := range g.cells[row*g.cols+col] {
				if e.id == exclude {
					continue
				}
				dx, dy := e.x-x, e.y-y
				distSq := dx*dx + dy*dy
				if distSq <= radiusSq {
					dst = append(dst, Neighbor{ID: e.id, DX: dx, DY: dy, DistSq: distSq})
					if len(dst) >= MaxQueryResults {
						return dst
					}
				}
			}
		}
	}

	return dst
}

// AnyWithin reports whether any agent lies within radius of (x, y).
func (g *SpatialGrid) AnyWithin(x, y, radius float64) bool {
	var buf [1]Neighbor
	return len(g.QueryRadiusInto(buf[:0], x, y, radius, "")) > 0
}

// cellCoords returns the clamped cell for a world position.
func (g *SpatialGrid) cellCoords(x, y float64) (col, row int) {
	col = clampInt(int(math.Floor((x+g.half)/g.cellSize)), 0, g.cols-1)
	row = clampInt(int(math.Floor((y+g.half)/g.cellSize)), 0, g.cols-1)
	return col, row
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

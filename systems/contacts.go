package systems

import "github.com/pthm-cable/meadow/components"

// ContactRules decides which neighbours an agent feeds on or is drained by.
type ContactRules interface {
	FeedsOn(tag string) bool
	DrainedBy(tag string) bool
}

// TagLookup resolves a neighbour id to its tag. ok is false for agents that
// are no longer active.
type TagLookup func(id string) (tag string, ok bool)

// DetectContacts refreshes contact from the agents within radius of (x, y).
// The current source is kept while it stays in range; otherwise the nearest
// feedable neighbour becomes the source. buf is scratch space and is returned
// for reuse.
func DetectContacts(
	contact *components.Contact,
	self string,
	x, y, radius float64,
	rules ContactRules,
	index *SpatialGrid,
	lookup TagLookup,
	buf []Neighbor,
) []Neighbor {
	buf = index.QueryRadiusInto(buf[:0], x, y, radius, self)

	keep := false
	best, bestDist := "", 0.0
	sink := false
	for _, n := range buf {
		tag, ok := lookup(n.ID)
		if !ok {
			continue
		}
		if rules.DrainedBy(tag) {
			sink = true
		}
		if !rules.FeedsOn(tag) {
			continue
		}
		if n.ID == contact.Source {
			keep = true
		}
		if best == "" || n.DistSq < bestDist {
			best, bestDist = n.ID, n.DistSq
		}
	}

	if !keep {
		contact.Source = best
	}
	contact.Sink = sink
	return buf
}

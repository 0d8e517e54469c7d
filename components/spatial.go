package components

// Position represents an agent's world position and facing.
// The world is centred on the origin.
type Position struct {
	X, Y    float64
	Heading float64 // radians
}

// Velocity represents an agent's velocity in world units per second.
type Velocity struct {
	X, Y float64
}

// Contact holds what an agent is touching this tick.
type Contact struct {
	Source string // id of the energy source in range, empty when none
	Sink   bool   // true while an energy sink is in range
}

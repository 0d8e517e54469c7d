package sim

import (
	"math/rand"

	"github.com/pthm-cable/meadow/systems"
)

// Observation is what a policy sees of one dynamic agent before it moves.
type Observation struct {
	ID    string
	Class string
	Tick  int64

	X, Y    float64
	Heading float64
	VelX    float64
	VelY    float64

	EnergyRatio float64 // energy / max energy
	AgeRatio    float64 // age / max age
	Replicated  bool

	// Offset to the current energy source, valid when HasSource is set.
	HasSource bool
	SourceDX  float64
	SourceDY  float64

	// Sink is set while a neighbour that drains this agent is in contact.
	Sink bool
}

// Policy chooses the next discrete action of a dynamic agent.
type Policy interface {
	Act(obs Observation) systems.Action
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(Observation) systems.Action

// Act calls f(obs).
func (f PolicyFunc) Act(obs Observation) systems.Action { return f(obs) }

// RandomPolicy moves agents at random. Agents in contact with a source stay
// put so the exchange can run; agents in contact with a sink run forward.
type RandomPolicy struct {
	rng *rand.Rand
}

// NewRandomPolicy creates a random policy with its own seeded RNG.
func NewRandomPolicy(seed int64) *RandomPolicy {
	return &RandomPolicy{rng: rand.New(rand.NewSource(seed))}
}

// Act implements Policy.
func (p *RandomPolicy) Act(obs Observation) systems.Action {
	switch {
	case obs.Sink:
		return systems.ActionForward
	case obs.HasSource && obs.EnergyRatio < 1:
		return systems.ActionNone
	}
	// Favour running forward so agents cover ground.
	if p.rng.Float64() < 0.5 {
		return systems.ActionForward
	}
	return systems.Action(p.rng.Intn(systems.NumActions))
}

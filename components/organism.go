package components

// Kind distinguishes grid-placed agents from moving ones.
type Kind uint8

const (
	KindStatic  Kind = iota // Placed on the cover grid, never moves
	KindDynamic             // Free placement, driven by a policy
)

// String returns the preset spelling of the kind.
func (k Kind) String() string {
	if k == KindDynamic {
		return "dynamic"
	}
	return "static"
}

// Identity names an agent and the population it belongs to.
type Identity struct {
	ID      string
	Class   string
	Tag     string
	Kind    Kind
	Manager string
}

// Lifecycle tracks aging, replication and expiration.
// Active and Expired are never both true.
type Lifecycle struct {
	Age            float64
	MaxAge         float64
	ReplicationAge float64
	Active         bool
	Expired        bool
	Replicated     bool
	BirthTick      int64

	ExpireFromAge    bool
	ExpireFromEnergy bool
}

// Energy tracks an agent's stored energy.
// Value stays within [0, Max].
type Energy struct {
	Value        float64
	Max          float64
	ExchangeRate float64 // amount requested from a source per tick
	Metabolism   float64 // drain per second
}

// Ratio returns Value/Max, or 0 when Max is not positive.
func (e Energy) Ratio() float64 {
	if e.Max <= 0 {
		return 0
	}
	return e.Value / e.Max
}

// Headroom returns how much energy the agent can still take in.
func (e Energy) Headroom() float64 {
	if e.Value >= e.Max {
		return 0
	}
	return e.Max - e.Value
}

// Reward accumulates the shaping signal for the agent's policy.
type Reward struct {
	Total float64
	Step  float64 // reward added during the current tick

	LongevityPerStep  float64
	ReplicationAward  float64
	ExpirationPenalty float64
}

// Add credits v to both the running total and the current step.
func (r *Reward) Add(v float64) {
	r.Total += v
	r.Step += v
}

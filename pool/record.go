package pool

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/meadow/components"
)

// Handle bundles pointers to a pooled record's components.
type Handle struct {
	Entity   ecs.Entity
	Identity *components.Identity
	Life     *components.Lifecycle
	Energy   *components.Energy
	Reward   *components.Reward
	Pos      *components.Position
	Vel      *components.Velocity
	Contact  *components.Contact
}

// ID returns the bound agent id.
func (h Handle) ID() string { return h.Identity.ID }

func (h Handle) clear() {
	manager := h.Identity.Manager
	*h.Identity = components.Identity{Manager: manager}
	*h.Life = components.Lifecycle{}
	*h.Energy = components.Energy{}
	*h.Reward = components.Reward{}
	*h.Pos = components.Position{}
	*h.Vel = components.Velocity{}
	*h.Contact = components.Contact{}
}

// Record returns a flat copy of the record for reporting.
func (h Handle) Record() Record {
	return Record{
		ID:             h.Identity.ID,
		Class:          h.Identity.Class,
		Tag:            h.Identity.Tag,
		Kind:           h.Identity.Kind.String(),
		Manager:        h.Identity.Manager,
		Age:            h.Life.Age,
		MaxAge:         h.Life.MaxAge,
		ReplicationAge: h.Life.ReplicationAge,
		Active:         h.Life.Active,
		Expired:        h.Life.Expired,
		Replicated:     h.Life.Replicated,
		BirthTick:      h.Life.BirthTick,
		Energy:         h.Energy.Value,
		MaxEnergy:      h.Energy.Max,
		Reward:         h.Reward.Total,
		X:              h.Pos.X,
		Y:              h.Pos.Y,
		Heading:        h.Pos.Heading,
		Source:         h.Contact.Source,
	}
}

// Record is a read-only view of an agent.
type Record struct {
	ID             string  `json:"id"`
	Class          string  `json:"class"`
	Tag            string  `json:"tag"`
	Kind           string  `json:"kind"`
	Manager        string  `json:"manager"`
	Age            float64 `json:"age"`
	MaxAge         float64 `json:"max_age"`
	ReplicationAge float64 `json:"replication_age"`
	Active         bool    `json:"active"`
	Expired        bool    `json:"expired"`
	Replicated     bool    `json:"replicated"`
	BirthTick      int64   `json:"birth_tick"`
	Energy         float64 `json:"energy"`
	MaxEnergy      float64 `json:"max_energy"`
	Reward         float64 `json:"reward"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Heading        float64 `json:"heading"`
	Source         string  `json:"source,omitempty"`
}

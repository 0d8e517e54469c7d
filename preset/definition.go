// Package preset loads agent definitions from JSON and validates them against
// an embedded JSON Schema.
package preset

import (
	"slices"
)

// Agent types.
const (
	TypeStatic  = "static"
	TypeDynamic = "dynamic"
)

// Expiration causes.
const (
	CauseAge    = "age"
	CauseEnergy = "energy"
)

// Definition configures one kind of agent. Field names follow the JSON layout
// shared with the environment's preset files.
type Definition struct {
	AgentType  string `json:"agentType"`
	AgentClass string `json:"agentClass"`

	// Lifecycle
	MaxAge           float64  `json:"maxAge"`
	ReplicationAge   float64  `json:"replicationAge"`
	ExpirationCauses []string `json:"expirationCauses"`

	// Energy
	MaxEnergy          float64 `json:"maxEnergy"`
	EnergyExchangeRate float64 `json:"energyExchangeRate"`
	InitialEnergy      float64 `json:"initialEnergy"`
	MetabolicRate      float64 `json:"metabolicRate,omitempty"` // Energy drained per second

	// Tagging and sensing
	AgentTag       string   `json:"agentTag"`
	DetectableTags []string `json:"detectableTags,omitempty"`
	EnergySources  []string `json:"energySources,omitempty"`
	EnergySinks    []string `json:"energySinks,omitempty"`

	RigidbodySettings *RigidbodySettings `json:"rigidbodySettings,omitempty"`
	ColliderSettings  *ColliderSettings  `json:"colliderSettings,omitempty"`
	RewardSettings    *RewardSettings    `json:"rewardSettings,omitempty"`
	MotionSettings    *MotionSettings    `json:"motionSettings,omitempty"`
}

// RigidbodySettings holds the damping applied to dynamic agents.
type RigidbodySettings struct {
	Mass           float64 `json:"mass"`
	LinearDamping  float64 `json:"linearDamping"`
	AngularDamping float64 `json:"angularDamping"`
}

// ColliderSettings holds the contact radius of the agent body.
type ColliderSettings struct {
	Radius float64 `json:"radius"`
}

// RewardSettings holds reward shaping values.
type RewardSettings struct {
	LongevityRewardPerStep              float64 `json:"longevityRewardPerStep"`
	ExpirationWithoutReplicationPenalty float64 `json:"expirationWithoutReplicationPenalty"`
	ReplicationAward                    float64 `json:"replicationAward"`
}

// MotionSettings holds movement capabilities of dynamic agents.
type MotionSettings struct {
	AgentRunSpeed      float64 `json:"agentRunSpeed"`
	AgentRotationSpeed float64 `json:"agentRotationSpeed"` // Degrees per second
	MaxSpeed           float64 `json:"maxSpeed"`
}

// DefaultRewards returns the reward shaping used when a definition omits it.
func DefaultRewards() RewardSettings {
	return RewardSettings{
		LongevityRewardPerStep:              0.01,
		ExpirationWithoutReplicationPenalty: -1.0,
		ReplicationAward:                    2.0,
	}
}

// applyDefaults fills optional sections.
func (d *Definition) applyDefaults() {
	if d.RewardSettings == nil {
		r := DefaultRewards()
		d.RewardSettings = &r
	}
	if d.RigidbodySettings == nil {
		d.RigidbodySettings = &RigidbodySettings{Mass: 1}
	}
	if d.ColliderSettings == nil {
		d.ColliderSettings = &ColliderSettings{Radius: 0.5}
	}
	if d.MotionSettings == nil {
		d.MotionSettings = &MotionSettings{}
	}
}

// IsStatic reports whether agents of this definition are placed on the cover grid.
func (d *Definition) IsStatic() bool { return d.AgentType == TypeStatic }

// CanExpire reports whether any expiration cause is configured.
func (d *Definition) CanExpire() bool { return len(d.ExpirationCauses) > 0 }

// CanExpireFromAge reports whether reaching max age expires the agent.
func (d *Definition) CanExpireFromAge() bool { return slices.Contains(d.ExpirationCauses, CauseAge) }

// CanExpireFromEnergy reports whether running out of energy expires the agent.
func (d *Definition) CanExpireFromEnergy() bool {
	return slices.Contains(d.ExpirationCauses, CauseEnergy)
}

// Detects reports whether tag is one this agent can sense.
func (d *Definition) Detects(tag string) bool { return slices.Contains(d.DetectableTags, tag) }

// FeedsOn reports whether tag is a detectable energy source.
func (d *Definition) FeedsOn(tag string) bool {
	return d.Detects(tag) && slices.Contains(d.EnergySources, tag)
}

// DrainedBy reports whether tag is a detectable energy sink.
func (d *Definition) DrainedBy(tag string) bool {
	return d.Detects(tag) && slices.Contains(d.EnergySinks, tag)
}

package systems

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pthm-cable/meadow/components"
)

// LifecycleEvents receives lifecycle transitions of a single population.
type LifecycleEvents interface {
	OnReplicated(id string)
	OnExpired(id string)
}

// Agent bundles the components the lifecycle and energy systems touch.
type Agent struct {
	ID     string
	Life   *components.Lifecycle
	Energy *components.Energy
	Reward *components.Reward
}

// UpdateLifecycle advances an agent by one tick: aging, metabolism, longevity
// reward, replication, then expiration. Inactive agents are left untouched.
func UpdateLifecycle(a Agent, dt, agingRate float64, events LifecycleEvents) {
	if !a.Life.Active {
		return
	}
	a.Reward.Step = 0

	a.Life.Age += dt * agingRate

	if a.Energy.Metabolism > 0 {
		a.Energy.Value = math.Max(0, a.Energy.Value-a.Energy.Metabolism*dt)
	}

	a.Reward.Add(a.Reward.LongevityPerStep * dt)

	if !a.Life.Replicated && a.Life.Age >= a.Life.ReplicationAge {
		a.Life.Replicated = true
		a.Reward.Add(a.Reward.ReplicationAward)
		if events != nil {
			events.OnReplicated(a.ID)
		}
	}

	if ShouldExpire(a) {
		Expire(a, events)
	}
}

// ShouldExpire reports whether a configured expiration cause holds.
func ShouldExpire(a Agent) bool {
	if a.Life.ExpireFromAge && a.Life.Age >= a.Life.MaxAge {
		return true
	}
	if a.Life.ExpireFromEnergy && a.Energy.Value <= 0 {
		return true
	}
	return false
}

// Expire moves an active agent to the terminal state. Agents that never
// replicated take the expiration penalty. Returns false if the agent had
// already expired.
func Expire(a Agent, events LifecycleEvents) bool {
	if !a.Life.Active || a.Life.Expired {
		return false
	}
	a.Life.Active = false
	a.Life.Expired = true
	if !a.Life.Replicated {
		a.Reward.Add(a.Reward.ExpirationPenalty)
	}
	if events != nil {
		events.OnExpired(a.ID)
	}
	return true
}

// SampleAge draws from N(mean, sd) floored at 1, using the normal quantile
// of a uniform draw from rng. A non-positive sd returns the mean.
func SampleAge(rng *rand.Rand, mean, sd float64) float64 {
	if sd <= 0 {
		return math.Max(1, mean)
	}
	n := distuv.Normal{Mu: mean, Sigma: sd}
	v := n.Quantile(rng.Float64())
	if math.IsNaN(v) || v < 1 {
		return 1
	}
	return v
}

package systems

import (
	"math"

	"github.com/pthm-cable/meadow/components"
)

// Action is a discrete movement command.
type Action int

const (
	ActionNone Action = iota
	ActionForward
	ActionBackward
	ActionRotateLeft
	ActionRotateRight
	ActionStrafeLeft
	ActionStrafeRight
)

// NumActions is the size of the discrete action space.
const NumActions = 7

// strafeFactor scales sideways movement relative to running.
const strafeFactor = 0.75

// Motion holds the movement capabilities of a dynamic agent.
type Motion struct {
	RunSpeed      float64 // velocity change per action
	RotationSpeed float64 // degrees per second
	MaxSpeed      float64
	Damping       float64 // linear damping per second
}

// ApplyAction turns and pushes an agent according to act.
func ApplyAction(pos *components.Position, vel *components.Velocity, act Action, m Motion, dt float64) {
	fx, fy := math.Cos(pos.Heading), math.Sin(pos.Heading)
	var dirX, dirY, turn float64

	switch act {
	case ActionForward:
		dirX, dirY = fx, fy
	case ActionBackward:
		dirX, dirY = -fx, -fy
	case ActionRotateLeft:
		turn = 1
	case ActionRotateRight:
		turn = -1
	case ActionStrafeLeft:
		dirX, dirY = -fy*strafeFactor, fx*strafeFactor
	case ActionStrafeRight:
		dirX, dirY = fy*strafeFactor, -fx*strafeFactor
	}

	if turn != 0 {
		pos.Heading = normalizeAngle(pos.Heading + turn*m.RotationSpeed*math.Pi/180*dt)
	}
	vel.X += dirX * m.RunSpeed
	vel.Y += dirY * m.RunSpeed

	// Limit velocity
	speed := math.Hypot(vel.X, vel.Y)
	if m.MaxSpeed > 0 && speed > m.MaxSpeed {
		scale := m.MaxSpeed / speed
		vel.X *= scale
		vel.Y *= scale
	}
}

// Integrate moves an agent by its velocity, applies damping and keeps it
// inside the square world [-half, half]. Hitting a wall stops motion along
// that axis.
func Integrate(pos *components.Position, vel *components.Velocity, m Motion, dt, half float64) {
	pos.X += vel.X * dt
	pos.Y += vel.Y * dt

	if pos.X < -half || pos.X > half {
		pos.X = clampFloat(pos.X, -half, half)
		vel.X = 0
	}
	if pos.Y < -half || pos.Y > half {
		pos.Y = clampFloat(pos.Y, -half, half)
		vel.Y = 0
	}

	damp := clampFloat(1-m.Damping*dt, 0, 1)
	vel.X *= damp
	vel.Y *= damp
}

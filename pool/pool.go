// Package pool provides fixed-size pools of agent records stored as entities
// in an ark ECS world. All entities are created up front; acquiring and
// releasing a record only toggles component state, so the world never sees a
// structural change while a simulation is running.
package pool

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/meadow/components"
)

var (
	// ErrPoolExhausted is returned by Acquire when every record is in use.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrDuplicateID is returned by Acquire when the id is already active.
	ErrDuplicateID = errors.New("duplicate agent id")
	// ErrNotActive is returned by Release for ids the pool does not hold.
	ErrNotActive = errors.New("agent not active")
	// ErrStillActive is returned by Release while the record's lifecycle is active.
	ErrStillActive = errors.New("agent lifecycle still active")
)

// Mapper creates and reads pooled entities.
type Mapper = ecs.Map7[
	components.Identity,
	components.Lifecycle,
	components.Energy,
	components.Reward,
	components.Position,
	components.Velocity,
	components.Contact,
]

// Filter iterates every pooled entity in a world.
type Filter = ecs.Filter7[
	components.Identity,
	components.Lifecycle,
	components.Energy,
	components.Reward,
	components.Position,
	components.Velocity,
	components.Contact,
]

// NewMapper returns a mapper for pooled entities in world.
func NewMapper(world *ecs.World) *Mapper {
	return ecs.NewMap7[
		components.Identity,
		components.Lifecycle,
		components.Energy,
		components.Reward,
		components.Position,
		components.Velocity,
		components.Contact,
	](world)
}

// NewFilter returns a filter over pooled entities in world.
func NewFilter(world *ecs.World) *Filter {
	return ecs.NewFilter7[
		components.Identity,
		components.Lifecycle,
		components.Energy,
		components.Reward,
		components.Position,
		components.Velocity,
		components.Contact,
	](world)
}

// Pool holds a fixed number of agent records for one manager.
type Pool struct {
	manager string
	mapper  *Mapper

	entities []ecs.Entity
	free     []ecs.Entity
	active   map[string]ecs.Entity
	order    []string
}

// New creates a pool of size inactive records in world.
func New(world *ecs.World, manager string, size int) *Pool {
	p := &Pool{
		manager:  manager,
		mapper:   NewMapper(world),
		entities: make([]ecs.Entity, 0, size),
		free:     make([]ecs.Entity, 0, size),
		active:   make(map[string]ecs.Entity, size),
	}
	for i := 0; i < size; i++ {
		ident := components.Identity{Manager: manager}
		e := p.mapper.NewEntity(&ident, &components.Lifecycle{}, &components.Energy{}, &components.Reward{},
			&components.Position{}, &components.Velocity{}, &components.Contact{})
		p.entities = append(p.entities, e)
	}
	// Pop from the end so records are handed out in creation order.
	for i := len(p.entities) - 1; i >= 0; i-- {
		p.free = append(p.free, p.entities[i])
	}
	return p
}

// Acquire binds id to a free record and marks it in use. The caller fills in
// the remaining component state through Get.
func (p *Pool) Acquire(id string) (ecs.Entity, error) {
	if _, ok := p.active[id]; ok {
		return ecs.Entity{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if len(p.free) == 0 {
		return ecs.Entity{}, fmt.Errorf("%s: %w", p.manager, ErrPoolExhausted)
	}
	e := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	h := p.handle(e)
	h.clear()
	h.Identity.ID = id
	h.Identity.Manager = p.manager

	p.active[id] = e
	p.order = append(p.order, id)
	return e, nil
}

// Release returns the record bound to id to the free list.
func (p *Pool) Release(id string) error {
	e, ok := p.active[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	h := p.handle(e)
	if h.Life.Active {
		return fmt.Errorf("%w: %s", ErrStillActive, id)
	}
	h.clear()

	delete(p.active, id)
	if i := slices.Index(p.order, id); i >= 0 {
		p.order = slices.Delete(p.order, i, i+1)
	}
	p.free = append(p.free, e)
	return nil
}

// Reset releases every record regardless of lifecycle state.
func (p *Pool) Reset() {
	for _, e := range p.entities {
		p.handle(e).clear()
	}
	clear(p.active)
	p.order = p.order[:0]
	p.free = p.free[:0]
	for i := len(p.entities) - 1; i >= 0; i-- {
		p.free = append(p.free, p.entities[i])
	}
}

// Get returns pointers to the components of the record bound to id.
// The pointers stay valid until the world changes structurally.
func (p *Pool) Get(id string) (Handle, bool) {
	e, ok := p.active[id]
	if !ok {
		return Handle{}, false
	}
	return p.handle(e), true
}

// Record returns a copy of the record bound to id.
func (p *Pool) Record(id string) (Record, bool) {
	h, ok := p.Get(id)
	if !ok {
		return Record{}, false
	}
	return h.Record(), true
}

// Active returns the active ids in activation order.
func (p *Pool) Active() []string {
	return slices.Clone(p.order)
}

// Records returns copies of every active record in activation order.
func (p *Pool) Records() []Record {
	out := make([]Record, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.handle(p.active[id]).Record())
	}
	return out
}

// Manager returns the name of the owning manager.
func (p *Pool) Manager() string { return p.manager }

// ActiveCount returns the number of records in use.
func (p *Pool) ActiveCount() int { return len(p.active) }

// FreeCount returns the number of records available to Acquire.
func (p *Pool) FreeCount() int { return len(p.free) }

// Size returns the total number of records.
func (p *Pool) Size() int { return len(p.entities) }

func (p *Pool) handle(e ecs.Entity) Handle {
	ident, life, energy, reward, pos, vel, contact := p.mapper.Get(e)
	return Handle{
		Entity:   e,
		Identity: ident,
		Life:     life,
		Energy:   energy,
		Reward:   reward,
		Pos:      pos,
		Vel:      vel,
		Contact:  contact,
	}
}

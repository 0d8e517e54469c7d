// Package telemetry provides population statistics, lifecycle events,
// episode summaries, performance timing and snapshots.
package telemetry

// EventType identifies lifecycle events.
type EventType string

const (
	EventSpawn           EventType = "spawn"
	EventReplicate       EventType = "replicate"
	EventExpire          EventType = "expire"
	EventPlacementFailed EventType = "placement_failed"
	EventPoolExhausted   EventType = "pool_exhausted"
	EventExchange        EventType = "exchange"
	EventEpisodeEnd      EventType = "episode_end"
)

// Event represents a single lifecycle event.
type Event struct {
	Type    EventType `json:"type"`
	Tick    int64     `json:"tick"`
	Episode int       `json:"episode"`
	AgentID string    `json:"agent_id,omitempty"`
	Class   string    `json:"class,omitempty"`
	Manager string    `json:"manager,omitempty"`

	// Optional fields depending on event type
	TargetID   string  `json:"target_id,omitempty"` // provider of an exchange
	Age        float64 `json:"age,omitempty"`
	Energy     float64 `json:"energy,omitempty"`
	Amount     float64 `json:"amount,omitempty"` // energy transferred
	Replicated bool    `json:"replicated,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// EventSink receives lifecycle events.
type EventSink interface {
	Record(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Record calls f(e).
func (f EventSinkFunc) Record(e Event) { f(e) }

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

// Record forwards e to every non-nil sink.
func (m MultiSink) Record(e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

// NewSpawnEvent creates a spawn event.
func NewSpawnEvent(tick int64, episode int, id, class, manager string, x, y, energy float64) Event {
	return Event{
		Type:    EventSpawn,
		Tick:    tick,
		Episode: episode,
		AgentID: id,
		Class:   class,
		Manager: manager,
		X:       x,
		Y:       y,
		Energy:  energy,
	}
}

// NewExpireEvent creates an expiration event.
func NewExpireEvent(tick int64, episode int, id, class, manager string, age, energy float64, replicated bool) Event {
	return Event{
		Type:       EventExpire,
		Tick:       tick,
		Episode:    episode,
		AgentID:    id,
		Class:      class,
		Manager:    manager,
		Age:        age,
		Energy:     energy,
		Replicated: replicated,
	}
}

// NewExchangeEvent creates a completed exchange event.
func NewExchangeEvent(tick int64, episode int, requester, provider, class string, amount float64) Event {
	return Event{
		Type:     EventExchange,
		Tick:     tick,
		Episode:  episode,
		AgentID:  requester,
		TargetID: provider,
		Class:    class,
		Amount:   amount,
	}
}

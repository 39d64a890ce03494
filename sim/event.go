package sim

// VTimeInSec defines the time in the simulated space in the unit of second
type VTimeInSec float64

// Nanoseconds converts a virtual time to a nanosecond count, the unit used
// by packet timestamps and by scenario files.
func (t VTimeInSec) Nanoseconds() uint64 {
	return uint64(float64(t) * 1e9)
}

// NanosecondsToVTime converts a nanosecond count to virtual time.
func NanosecondsToVTime(ns uint64) VTimeInSec {
	return VTimeInSec(float64(ns) / 1e9)
}

// An Event is something going to happen in the future.
type Event interface {
	// Return the time that the event should happen
	Time() VTimeInSec

	// Returns the handler that should handle the event
	Handler() Handler

	// IsSecondary tells if the event is a secondary event. Secondary events
	// are handled after all same-time primary events are handled.
	IsSecondary() bool

	// IsCancelled tells if the event has been cancelled. Cancelled events are
	// skipped by the engine instead of being removed from the queue.
	IsCancelled() bool
}

// EventBase provides the basic fields and getters for other events
type EventBase struct {
	ID        string
	time      VTimeInSec
	handler   Handler
	secondary bool
	cancelled bool
}

// NewEventBase creates a new EventBase
func NewEventBase(t VTimeInSec, handler Handler) *EventBase {
	e := new(EventBase)
	e.ID = GetIDGenerator().Generate()
	e.time = t
	e.handler = handler
	return e
}

// Time return the time that the event is going to happen
func (e *EventBase) Time() VTimeInSec {
	return e.time
}

// Handler returns the handler to handle the event.
func (e *EventBase) Handler() Handler {
	return e.handler
}

// IsSecondary returns true if the event is a secondary event.
func (e *EventBase) IsSecondary() bool {
	return e.secondary
}

// Cancel marks the event so that the engine will not dispatch it. Only the
// handler that scheduled the event may cancel it, and only before it fires.
func (e *EventBase) Cancel() {
	e.cancelled = true
}

// IsCancelled returns true if Cancel has been called.
func (e *EventBase) IsCancelled() bool {
	return e.cancelled
}

// A Handler defines a domain for the events.
//
// One event is always constrained to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}

package sim

// A TimeTeller reports the current virtual time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// An EventScheduler accepts events for future execution.
type EventScheduler interface {
	Schedule(e Event)
}

// A SimulationEndHandler runs once after the simulation ends, for final
// flushes and summaries.
type SimulationEndHandler interface {
	Handle(now VTimeInSec)
}

// An Engine drives a discrete-event simulation. It owns the event queue,
// advances virtual time, and dispatches each event to its handler.
type Engine interface {
	Hookable
	TimeTeller
	EventScheduler

	// Run processes events in time order until the queue drains.
	Run() error

	// Pause holds the run loop at the next event boundary until Continue
	// is called.
	Pause()

	// Continue resumes a paused run loop.
	Continue()

	// RegisterSimulationEndHandler adds a handler invoked by Finished.
	RegisterSimulationEndHandler(handler SimulationEndHandler)

	// Finished invokes every registered SimulationEndHandler with the final
	// virtual time.
	Finished()
}

package van

import "context"

// Edge is one observed transition of the VAN RX line: the level after
// the transition and a monotonic timestamp in clock units (nanoseconds
// on real GPIO; simulated ticks in tests).
type Edge struct {
	Level bool
	Time  uint64
}

// EdgeSource is the receive half of the transport: it delivers every
// line transition, in arrival order, until Close is called. Real
// hardware backs this with a GPIO character-device line requested for
// both-edge events (gpio_linux.go); tests back it with SimulatedLine.
type EdgeSource interface {
	Edges(ctx context.Context) (<-chan Edge, error)
	Close() error
}

// LineSensor lets the transmitter read the instantaneous RX line level
// for collision detection while driving (spec.md §4.G step 3).
type LineSensor interface {
	Sense() (level bool, now uint64)
}

// LineDriver is the transmit half of the transport: drive the TX pin
// to a level. Real hardware backs this with a GPIO output line; tests
// back it with SimulatedLine, which also feeds driven transitions back
// into the shared bus so a co-located receiver observes them.
type LineDriver interface {
	Drive(level bool) error
}

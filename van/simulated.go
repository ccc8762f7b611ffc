package van

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Recessive and Dominant name the two line states spec.md's glossary
// defines arbitration in terms of: "the sender whose bit stream has a
// dominant level at the first differing bit wins". Recessive is the
// bus's idle state.
const (
	Recessive = true
	Dominant  = false
)

// SimulatedBus is a software stand-in for the physical VAN wire: a
// wired-AND of every currently driving line, so that a dominant bit
// from any transmitter pulls the shared level dominant regardless of
// what anyone else drives — exactly the electrical behaviour
// arbitration depends on. It carries no GPIO, kernel, or cgo
// dependency, which is what lets the core and its property tests run
// on any host. Grounded in shape (a small broadcast hub multiple
// goroutines attach to) on the teacher's kissnet.go client-fanout
// pattern (_examples/doismellburning-samoyed/src/kissnet.go).
type SimulatedBus struct {
	mu        sync.Mutex
	drivers   map[*SimulatedLine]bool
	listeners map[*SimulatedLine]chan Edge
	lastLevel bool
	start     time.Time
}

// NewSimulatedBus creates an idle bus. now() on it returns nanoseconds
// since creation, suitable as the "cycles" timestamp a Config with
// ClockHz = 1e9 expects.
func NewSimulatedBus() *SimulatedBus {
	return &SimulatedBus{
		drivers:   make(map[*SimulatedLine]bool),
		listeners: make(map[*SimulatedLine]chan Edge),
		lastLevel: Recessive,
		start:     time.Now(),
	}
}

func (b *SimulatedBus) now() uint64 {
	return uint64(time.Since(b.start).Nanoseconds())
}

// Join attaches a new transceiving line: it may both drive and sense
// the bus, and receives every transition as an Edge.
func (b *SimulatedBus) Join() *SimulatedLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := &SimulatedLine{bus: b, ch: make(chan Edge, 256)}
	b.listeners[l] = l.ch
	return l
}

// Listen attaches a receive-only line: it never drives the bus (real
// hardware's RX-only input pin has no electrical effect on the wire).
func (b *SimulatedBus) Listen() *SimulatedLine {
	return b.Join()
}

func (b *SimulatedBus) recomputeLocked() {
	level := Recessive
	for _, driven := range b.drivers {
		if driven == Dominant {
			level = Dominant
			break
		}
	}
	if level == b.lastLevel {
		return
	}
	b.lastLevel = level
	now := b.now()
	for _, ch := range b.listeners {
		select {
		case ch <- Edge{Level: level, Time: now}:
		default:
			// A slow consumer drops the edge rather than blocking the
			// bus; spec.md's ISR is never allowed to block, and this
			// mirrors that for the simulated transport.
		}
	}
}

// SimulatedLine is one node's attachment to a SimulatedBus. It
// implements EdgeSource, LineSensor, and LineDriver.
type SimulatedLine struct {
	bus *SimulatedBus
	ch  chan Edge
}

func (l *SimulatedLine) Edges(ctx context.Context) (<-chan Edge, error) {
	return l.ch, nil
}

func (l *SimulatedLine) Close() error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	delete(l.bus.drivers, l)
	delete(l.bus.listeners, l)
	l.bus.recomputeLocked()
	return nil
}

// Drive asserts level on the wire until the next Drive or Release.
func (l *SimulatedLine) Drive(level bool) error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	l.bus.drivers[l] = level
	l.bus.recomputeLocked()
	return nil
}

// Release goes high-impedance: this line stops affecting the wired-AND.
func (l *SimulatedLine) Release() {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	delete(l.bus.drivers, l)
	l.bus.recomputeLocked()
}

func (l *SimulatedLine) Sense() (bool, uint64) {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	return l.bus.lastLevel, l.bus.now()
}

func (l *SimulatedLine) String() string {
	return fmt.Sprintf("SimulatedLine(%p)", l)
}

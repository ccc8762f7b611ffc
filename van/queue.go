package van

import "sync/atomic"

// DefaultQueueCapacity is spec.md §6's default QUEUE_CAPACITY.
const DefaultQueueCapacity = 15

// MinQueueCapacity is the lowest capacity the ring accepts.
const MinQueueCapacity = 4

// ring is the bounded single-producer/single-consumer packet queue of
// spec.md §4.E. The producer is the GPIO edge path (acting as the
// ISR); the consumer is the application calling Receiver.Receive.
//
// Each slot carries its own "ready" flag in addition to the head/tail
// counters so that publication follows spec.md's prescribed discipline
// exactly: the producer writes every descriptor field, then publishes
// with a single atomic store; the consumer's atomic load of that same
// flag is the one fence each side needs.
type ring struct {
	capacity       uint32
	slots          []Packet
	ready          []atomic.Bool
	head           atomic.Uint32 // count of slots produced
	tail           atomic.Uint32 // count of slots consumed
	overrunPending atomic.Bool
}

func newRing(capacity uint32) *ring {
	if capacity < MinQueueCapacity {
		capacity = MinQueueCapacity
	}
	return &ring{
		capacity: capacity,
		slots:    make([]Packet, capacity),
		ready:    make([]atomic.Bool, capacity),
	}
}

// acquire returns the producer's slot at head for filling in place.
// If the consumer has not yet released that slot (the ring is full),
// acquire refuses to hand it out: the caller must drop the in-progress
// frame. The overrun is not stamped on the dropped frame — spec.md §9
// documents the reference behaviour of attributing it to the next
// successfully *delivered* packet instead, which peek() does, at the
// moment of delivery rather than at the next publish. That distinction
// matters when the consumer stays stalled and no further frame ever
// arrives to publish: the flag still reaches the consumer the next
// time it calls peek/Receive, because peek is the one that stamps it.
func (r *ring) acquire() (*Packet, bool) {
	idx := r.head.Load() % r.capacity
	if r.ready[idx].Load() {
		r.overrunPending.Store(true)
		return nil, false
	}
	return &r.slots[idx], true
}

// publish marks the slot most recently returned by acquire as full and
// advances head. Never spins, never blocks.
func (r *ring) publish() {
	idx := r.head.Load() % r.capacity
	r.ready[idx].Store(true) // publication fence
	r.head.Add(1)
}

// peek returns the consumer's next slot, or ok=false if none is
// available (tail == head in occupancy terms). If a drop happened
// since the last delivery, the overrun flag is stamped on this slot
// now — the slot about to be handed to the consumer, i.e. the
// next-delivered one — rather than on whatever the producer happens
// to be filling when the drop occurred.
func (r *ring) peek() (*Packet, bool) {
	idx := r.tail.Load() % r.capacity
	if !r.ready[idx].Load() {
		return nil, false
	}
	if r.overrunPending.CompareAndSwap(true, false) {
		r.slots[idx].Status |= FlagQueueOverrun
	}
	return &r.slots[idx], true
}

// release hands the consumer's current slot back to the producer.
func (r *ring) release() {
	idx := r.tail.Load() % r.capacity
	r.ready[idx].Store(false)
	r.tail.Add(1)
}

// available reports whether the consumer has at least one slot ready.
func (r *ring) available() bool {
	idx := r.tail.Load() % r.capacity
	return r.ready[idx].Load()
}

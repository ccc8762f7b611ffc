package van

import (
	"context"
	"fmt"
	"io"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Receiver is the facade of spec.md §4.F. It owns the timing
// calibrator (§4.A), the bit decoder (§4.C), the frame state machine
// (§4.D, which in turn owns the CRC engine of §4.B), and the packet
// queue (§4.E) for the lifetime of the program; the application never
// touches those directly.
type Receiver struct {
	cfg     Config
	timing  timingContext
	stats   *Stats
	queue   *ring
	frame   *frameSM
	decoder *bitDecoder

	bitPeriod time.Duration
	edges     EdgeSource
	sensor    LineSensor
	logger    *charmlog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReceiver implements spec.md §4.F's setup(rx_pin): edges is the
// transport delivering every RX line transition (a real GPIO line on
// Linux, via RXLine, or a SimulatedLine in tests); sensor lets the
// frame state machine read the instantaneous line level during the
// ACK slot (§4.D state ACK). logger may be nil to run silently.
func NewReceiver(cfg Config, edges EdgeSource, sensor LineSensor, logger *charmlog.Logger) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("van: invalid config: %w", err)
	}
	timing, err := newTimingContext(cfg.ClockHz, cfg.EdgeToleranceFraction)
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	queue := newRing(cfg.QueueCapacity)
	frame := newFrameSM(queue, stats, cfg)
	decoder := newBitDecoder(timing, frame)

	return &Receiver{
		cfg:       cfg,
		timing:    timing,
		stats:     stats,
		queue:     queue,
		frame:     frame,
		decoder:   decoder,
		bitPeriod: bitClock(cfg),
		edges:     edges,
		sensor:    sensor,
		logger:    logger,
	}, nil
}

// Start installs the edge path and begins decoding. It plays the role
// spec.md §9 assigns the ISR: the goroutine spawned here is the one
// and only writer into the bit decoder and frame state machine for as
// long as the receiver runs.
func (r *Receiver) Start(ctx context.Context) error {
	ch, err := r.edges.Edges(ctx)
	if err != nil {
		return fmt.Errorf("van: starting edge source: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	if r.logger != nil {
		r.logger.Info("van: receiver started", "queue_capacity", r.cfg.QueueCapacity, "clock_hz", r.cfg.ClockHz)
	}
	go r.run(runCtx, ch)
	return nil
}

// Stop halts the edge-consumer goroutine and releases the transport.
func (r *Receiver) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
	if r.logger != nil {
		r.logger.Info("van: receiver stopped", "stats", r.stats.snapshot())
	}
	return r.edges.Close()
}

// receiverTimerStage names which out-of-band sample the GPIO path's
// single pending timer is currently waiting on.
type receiverTimerStage int

const (
	timerNone receiverTimerStage = iota
	timerAck
	timerEOF
)

// run is the edge-consumer loop. Besides feeding every edge to the bit
// decoder in arrival order, it is responsible for the two timing-
// driven (rather than purely edge-driven) steps spec.md §4.D leaves to
// "the GPIO path": sampling the ACK slot roughly one bit-time after
// EOD, and then the EOF bit roughly one bit-time after that. Neither
// reliably produces a wire transition to dispatch on — a receiver
// that doesn't ACK, and the common case of no listener pulling the
// ACK slot at all, both leave the line at the same recessive level
// straight through EOF — so both are sampled directly off the line on
// a timer instead of waiting on an edge.
func (r *Receiver) run(ctx context.Context, edges <-chan Edge) {
	defer close(r.done)

	var timer *time.Timer
	stage := timerNone
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		stage = timerNone
	}
	arm := func(next receiverTimerStage) {
		timer = time.NewTimer(r.bitPeriod)
		stage = next
	}
	defer stopTimer()

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			return

		case e, ok := <-edges:
			if !ok {
				return
			}
			r.decoder.OnEdge(e.Level, e.Time)
			switch {
			case r.frame.state == stateAck && stage == timerNone:
				arm(timerAck)
			case stage == timerAck && r.frame.state != stateAck:
				stopTimer()
			case stage == timerEOF && r.frame.state != stateEOF:
				stopTimer()
			}

		case <-timerC:
			level, _ := r.sensor.Sense()
			switch stage {
			case timerAck:
				r.frame.sampleAck(level == Dominant)
				if r.frame.state == stateEOF {
					arm(timerEOF)
				} else {
					stopTimer()
				}
			case timerEOF:
				r.frame.sampleEOF(level == Recessive)
				stopTimer()
			}
		}
	}
}

// Available implements spec.md §4.F's available().
func (r *Receiver) Available() bool {
	return r.queue.available()
}

// Receive implements spec.md §4.F's receive(&desc, out overrun). It
// copies the oldest undelivered packet into dst and releases the
// slot back to the producer. overrun reports whether a queue_overrun
// happened before this packet — spec.md §9 documents stamping the
// overrun on the next-delivered packet, which is what ring.peek
// arranges; Receive just surfaces it and counts it.
func (r *Receiver) Receive(dst *Packet) (consumed bool, overrun bool) {
	slot, ok := r.queue.peek()
	if !ok {
		return false, false
	}

	*dst = *slot
	if slot.IsrDebugLen > 0 {
		if cap(dst.IsrDebug) < slot.IsrDebugLen {
			dst.IsrDebug = make([]IsrDebugEntry, slot.IsrDebugLen)
		} else {
			dst.IsrDebug = dst.IsrDebug[:slot.IsrDebugLen]
		}
		copy(dst.IsrDebug, slot.IsrDebug[:slot.IsrDebugLen])
	} else {
		dst.IsrDebug = nil
	}

	overrun = dst.Status&FlagQueueOverrun != 0
	if overrun {
		r.stats.Overruns.Add(1)
	}
	r.queue.release()
	return true, overrun
}

// Stats implements spec.md §4.F's stats().
func (r *Receiver) Stats() Snapshot {
	return r.stats.snapshot()
}

// DumpStats implements spec.md §4.F's dump_stats(writer).
func (r *Receiver) DumpStats(w io.Writer) error {
	return r.Stats().DumpStats(w)
}

// Collector exposes the receiver's live counters as a
// prometheus.Collector (component K); purely additive, never required
// to produce a packet.
func (r *Receiver) Collector(namespace string) prometheus.Collector {
	return NewStatsCollector(r.stats, namespace)
}

// sharedStats lets a co-located Transmitter increment
// ArbitrationLosts/SendFailures on the same counters Receive/Stats
// report, so a single dump_stats or /metrics scrape covers both
// directions of spec.md's data flow diagram.
func (r *Receiver) sharedStats() *Stats {
	return r.stats
}

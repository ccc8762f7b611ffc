package van

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// interFrameGapBits is the nominal inter-frame idle gap spec.md §4.G
// step 1 requires before a transmitter may start driving: eight
// bit-times of recessive line.
const interFrameGapBits = 8

// ErrTxNotConfigured is spec.md §7's tx_not_configured kind.
var ErrTxNotConfigured = errors.New("van: transmitter not configured with a TX line")

// ErrSendFailed is returned once every arbitration retry has been
// exhausted — spec.md §7's send_failed outcome.
var ErrSendFailed = errors.New("van: send failed: arbitration retries exhausted")

// Transmitter implements spec.md §4.G: frame assembly, bus
// arbitration, and bit-timed driving with collision detection. It
// shares the LineSensor the receiver uses so it can self-sense the
// wire exactly as spec.md's data-flow diagram describes ("application
// -> G -> (shared line) -> C (self-sensed)").
type Transmitter struct {
	cfg       Config
	stats     *Stats
	driver    LineDriver
	sensor    LineSensor
	bitPeriod time.Duration
	logger    *charmlog.Logger
}

// NewTransmitter implements spec.md §4.F's setup(rx_pin, tx_pin): a
// transceiver is a Receiver plus a Transmitter sharing one Config, one
// Stats block, and one LineSensor.
func NewTransmitter(cfg Config, stats *Stats, driver LineDriver, sensor LineSensor, logger *charmlog.Logger) (*Transmitter, error) {
	if driver == nil || sensor == nil {
		return nil, ErrTxNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("van: invalid config: %w", err)
	}
	return &Transmitter{
		cfg:       cfg,
		stats:     stats,
		driver:    driver,
		sensor:    sensor,
		bitPeriod: bitClock(cfg),
		logger:    logger,
	}, nil
}

// NewTransceiverTransmitter builds a Transmitter that shares r's
// Config, Stats, and LineSensor, so a single Receiver+Transmitter pair
// reports arbitration losses and send failures through the same
// dump_stats/Collector output the receive path uses.
func NewTransceiverTransmitter(r *Receiver, driver LineDriver) (*Transmitter, error) {
	return NewTransmitter(r.cfg, r.sharedStats(), driver, r.sensor, r.logger)
}

// SyncSendPacket implements spec.md §4.G's sync_send_packet: it blocks
// the caller until the frame is on the wire or arbitration has been
// lost on the first attempt and on each of cfg.MaxTxRetries retries.
//
// Driving the bus at bit-level precision is the one place this
// package asks the Go scheduler for something an ISR would get for
// free: the calling goroutine's OS thread is pinned for the duration,
// matching spec.md §4.H's note that the transmitter — never the
// receiver — pays for any scheduling jitter the platform can't avoid.
func (tx *Transmitter) SyncSendPacket(ctx context.Context, iden uint16, com ComFlags, data []byte) (AckState, error) {
	if len(data) > MaxDataBytes {
		return AckUnknown, fmt.Errorf("van: data length %d exceeds MaxDataBytes %d", len(data), MaxDataBytes)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	bits := assembleFrame(iden, com, data)

	for attempt := 0; attempt <= tx.cfg.MaxTxRetries; attempt++ {
		if err := tx.waitForIdle(ctx); err != nil {
			return AckUnknown, err
		}

		won, err := tx.driveBits(bits)
		if err != nil {
			return AckUnknown, err
		}
		if !won {
			tx.stats.ArbitrationLosts.Add(1)
			if tx.logger != nil {
				tx.logger.Warn("van: arbitration lost", "iden", iden, "attempt", attempt)
			}
			continue
		}

		ack := tx.sampleAckSlot(com)
		tx.driveBit(Recessive) // EOF: one recessive bit-time, then idle
		return ack, nil
	}

	tx.stats.SendFailures.Add(1)
	if tx.logger != nil {
		tx.logger.Error("van: send failed", "iden", iden, "retries", tx.cfg.MaxTxRetries)
	}
	return AckUnknown, ErrSendFailed
}

// waitForIdle implements spec.md §4.G step 1: the line must have been
// recessive for a full inter-frame gap before driving; any dominant
// level — ours or someone else's frame — restarts the wait.
func (tx *Transmitter) waitForIdle(ctx context.Context) error {
	gap := time.Duration(interFrameGapBits) * tx.bitPeriod
	poll := tx.bitPeriod / 4
	if poll <= 0 {
		poll = time.Microsecond
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		level, _ := tx.sensor.Sense()
		if level != Recessive {
			time.Sleep(poll)
			continue
		}

		idleStart := time.Now()
		stable := true
		for time.Since(idleStart) < gap {
			if err := ctx.Err(); err != nil {
				return err
			}
			level, _ = tx.sensor.Sense()
			if level != Recessive {
				stable = false
				break
			}
			time.Sleep(poll)
		}
		if stable {
			return nil
		}
	}
}

// driveBits drives each bit of an assembled SOF..EOD bitstream for
// exactly one bit-time, busy-waiting per spec.md §4.H, while sensing
// the line for a dominant-over-recessive mismatch — spec.md §4.G step
// 3's collision/arbitration-loss detection. It returns won=false the
// instant a higher-priority node is detected, without driving the
// remaining bits.
func (tx *Transmitter) driveBits(bits []uint8) (won bool, err error) {
	start := time.Now()
	for i, bit := range bits {
		level := bit != 0
		if err := tx.driver.Drive(level); err != nil {
			return false, fmt.Errorf("van: driving tx line: %w", err)
		}
		busyWaitUntil(start, time.Duration(i+1)*tx.bitPeriod)

		if level == Recessive {
			sensed, _ := tx.sensor.Sense()
			if sensed == Dominant {
				return false, nil
			}
		}
	}
	return true, nil
}

// driveBit drives a single bit-time, used for the EOF marker once
// arbitration is already won and no further collision is possible.
func (tx *Transmitter) driveBit(level bool) {
	start := time.Now()
	_ = tx.driver.Drive(level)
	busyWaitUntil(start, tx.bitPeriod)
}

// sampleAckSlot implements spec.md §4.D state ACK from the
// transmitter's side: release the line for one bit-time and see
// whether a listener pulled it dominant.
func (tx *Transmitter) sampleAckSlot(com ComFlags) AckState {
	start := time.Now()
	_ = tx.driver.Drive(Recessive)
	busyWaitUntil(start, tx.bitPeriod)

	if com&ComA == 0 {
		return NoAckExpected
	}
	level, _ := tx.sensor.Sense()
	if level == Dominant {
		return Acked
	}
	return NotAcked
}

// assembleFrame builds the SOF..EOD bit sequence spec.md §6 specifies,
// in the same field order the frame state machine (framesm.go) parses
// it back in. The ACK slot and EOF marker are driven separately by
// SyncSendPacket since they are not collision-sensitive once
// arbitration has been won.
func assembleFrame(iden uint16, com ComFlags, data []byte) []uint8 {
	bits := make([]uint8, 0, sofPatternBits+idenBits+comBits+lenBits+len(data)*8+len(data)*8/dataStuffGroup+crcBits+eodPatternBits+4)
	appendBits(&bits, uint32(sofPattern), sofPatternBits)
	appendBits(&bits, uint32(iden)&0x0fff, idenBits)
	appendBits(&bits, uint32(com)&0x0f, comBits)
	appendBits(&bits, uint32(len(data))&0x1f, lenBits)
	appendDataBits(&bits, data)

	crc := computeCRC(iden, com, data)
	appendBits(&bits, uint32(crc), crcBits)
	appendBits(&bits, uint32(eodPattern), eodPatternBits)
	return bits
}

// appendBits appends the low n bits of value, MSB first.
func appendBits(bits *[]uint8, value uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		*bits = append(*bits, uint8((value>>uint(i))&1))
	}
}

// appendDataBits mirrors pushDataBit's stuffing cadence exactly: a
// stuff bit follows every dataStuffGroup raw bits counted across the
// whole payload (not per byte), so the receiver's dataBitIndex modulo
// check lands on the same positions regardless of data length. The
// stuff bit's value is never inspected by the receiver, which simply
// skips it — but its value on the wire is not arbitrary: the line is
// driven NRZ (one level per bit-time, no per-bit clock transition of
// its own), and the edge-driven bit decoder infers bit counts purely
// from edge timing, aborting a frame it cannot classify an edge gap
// for (bitdecoder.go's OnEdge, n > 5). A payload with five or more
// consecutive same-value bits — e.g. the 0xFF run in spec.md §8
// scenario 3 — would then cross a dataStuffGroup boundary with no
// transition to mark it if the stuff bit always held the same value.
// So the stuff bit here always carries the complement of whatever bit
// preceded it on the wire, forcing a transition at every stuff
// position regardless of the surrounding data's polarity.
func appendDataBits(bits *[]uint8, data []byte) {
	flat := make([]uint8, 0, len(data)*8)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			flat = append(flat, (b>>uint(i))&1)
		}
	}
	var prev uint8
	if n := len(*bits); n > 0 {
		prev = (*bits)[n-1]
	}
	rawIndex := 0
	fi := 0
	for fi < len(flat) {
		rawIndex++
		if rawIndex%(dataStuffGroup+1) == 0 {
			stuff := prev ^ 1
			*bits = append(*bits, stuff)
			prev = stuff
			continue
		}
		*bits = append(*bits, flat[fi])
		prev = flat[fi]
		fi++
	}
}

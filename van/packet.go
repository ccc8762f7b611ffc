// Package van implements a software receiver and transmitter for the VAN
// comfort bus used in PSA-group vehicles (Peugeot, Citroen): Manchester
// bit decoding, frame parsing, CRC-15 verification, a lock-free packet
// queue between interrupt and application context, and a bus-arbitrating
// transmitter — all driven from a general-purpose GPIO pin.
package van

import "fmt"

// MaxDataBytes is the hard upper bound on a VAN frame's data field.
// The wire standard allows no more; a frame claiming more is truncated
// and flagged MaxLenExceeded.
const MaxDataBytes = 28

// ComFlags holds the 4-bit COM field from a frame header, MSB to LSB:
// R, A, RAK, RTR.
type ComFlags uint8

const (
	ComR   ComFlags = 1 << 3 // read/write
	ComA   ComFlags = 1 << 2 // in-frame ACK requested
	ComRAK ComFlags = 1 << 1 // remote ack
	ComRTR ComFlags = 1 << 0 // remote transmit request
)

func (c ComFlags) String() string {
	return fmt.Sprintf("R=%t A=%t RAK=%t RTR=%t", c&ComR != 0, c&ComA != 0, c&ComRAK != 0, c&ComRTR != 0)
}

// AckState reports whether a receiver pulled the line during the ACK slot.
type AckState uint8

const (
	AckUnknown AckState = iota
	Acked
	NotAcked
	NoAckExpected
)

func (s AckState) String() string {
	switch s {
	case Acked:
		return "acked"
	case NotAcked:
		return "not_acked"
	case NoAckExpected:
		return "no_ack_expected"
	default:
		return "unknown"
	}
}

// StatusFlags is a bitset of the error/notice kinds a slot can carry.
// Multiple flags may be set on the same packet.
type StatusFlags uint16

const (
	FlagQueueOverrun StatusFlags = 1 << iota
	FlagCRCError
	FlagDoubleTransition
	FlagNoEOD
	FlagNoAck
	FlagMaxLenExceeded
	FlagRepaired
)

func (f StatusFlags) String() string {
	if f == 0 {
		return "ok"
	}
	names := []struct {
		bit  StatusFlags
		name string
	}{
		{FlagQueueOverrun, "queue_overrun"},
		{FlagCRCError, "crc_error"},
		{FlagDoubleTransition, "double_transition"},
		{FlagNoEOD, "no_eod"},
		{FlagNoAck, "no_ack"},
		{FlagMaxLenExceeded, "max_len_exceeded"},
		{FlagRepaired, "repaired"},
	}
	out := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

// IsrDebugEntry captures one edge's raw timing for post-mortem of
// malformed frames. Only populated when Config.EnableISRDebug is set.
type IsrDebugEntry struct {
	DeltaCycles    uint64
	Level          bool
	ClassifiedBits int
}

// MaxIsrDebugEntries bounds the per-slot debug trace; a frame longer
// than this simply stops recording (it does not affect decoding).
const MaxIsrDebugEntries = 96

// Packet is one queue slot: a fully decoded (or partially decoded and
// flagged) VAN frame. While being produced it is owned exclusively by
// the edge-interrupt path; once published it is owned exclusively by
// the consumer until released back to the ring.
type Packet struct {
	SeqNo       uint32
	Iden        uint16 // 12-bit identifier
	ComFlags    ComFlags
	Data        [MaxDataBytes]byte
	DataLen     int
	CRC         uint16 // 15-bit CRC as read from the wire
	CRCOk       bool
	AckState    AckState
	Status      StatusFlags
	IsrDebug    []IsrDebugEntry // nil unless ISR debug is enabled
	IsrDebugLen int
}

// DataBytes returns the packet's data as a slice of exactly DataLen bytes.
func (p *Packet) DataBytes() []byte {
	return p.Data[:p.DataLen]
}

func (p *Packet) reset() {
	p.SeqNo = 0
	p.Iden = 0
	p.ComFlags = 0
	p.DataLen = 0
	p.CRC = 0
	p.CRCOk = false
	p.AckState = AckUnknown
	p.Status = 0
	p.IsrDebugLen = 0
}

package van

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func txTestConfig() Config {
	return Config{
		QueueCapacity:         DefaultQueueCapacity,
		MaxTxRetries:          3,
		EnableISRDebug:        false,
		EdgeToleranceFraction: DefaultEdgeToleranceFraction,
		ClockHz:               1_000_000, // tiny bitPeriod keeps driveBits' busy-wait effectively instant in tests
	}
}

// recordingDriver just remembers every level it was asked to drive.
type recordingDriver struct {
	levels []bool
}

func (d *recordingDriver) Drive(level bool) error {
	d.levels = append(d.levels, level)
	return nil
}

// scriptedSensor returns one level per call from a fixed script, then
// Recessive forever after the script is exhausted.
type scriptedSensor struct {
	levels []bool
	i      int
}

func (s *scriptedSensor) Sense() (bool, uint64) {
	if s.i >= len(s.levels) {
		return Recessive, 0
	}
	lvl := s.levels[s.i]
	s.i++
	return lvl, 0
}

// Property 6 / scenario 4 (spec.md §8): arbitration is decided by the
// first differing bit between two contending frames, and the contender
// driving dominant (0) there is the one that wins — which, for IDEN
// compared MSB-first as plain binary, is always the numerically lower
// IDEN. This holds regardless of COM/data as long as the two frames'
// IDEN fields differ, since IDEN is the first field after the shared
// SOF and carries no data-stuffing to disturb bit alignment.
func TestArbitration_LowerIdenWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		idenA := uint16(rapid.IntRange(0, 0x0fff).Draw(t, "idenA"))
		idenB := uint16(rapid.IntRange(0, 0x0fff).Draw(t, "idenB"))
		if idenA == idenB {
			return
		}
		bitsA := assembleFrame(idenA, ComFlags(0), nil)
		bitsB := assembleFrame(idenB, ComFlags(0), nil)

		n := len(bitsA)
		if len(bitsB) < n {
			n = len(bitsB)
		}
		firstDiff := -1
		for i := 0; i < n; i++ {
			if bitsA[i] != bitsB[i] {
				firstDiff = i
				break
			}
		}
		require.GreaterOrEqual(t, firstDiff, 0, "identical IDENs should have been skipped above")

		if bitsA[firstDiff] == 0 {
			assert.Less(t, idenA, idenB)
		} else {
			assert.Less(t, idenB, idenA)
		}
	})
}

// driveBits must stop driving the instant it senses a dominant level
// where it drove recessive, and report the loss.
func TestTransmitter_DriveBits_DetectsArbitrationLoss(t *testing.T) {
	cfg := txTestConfig()
	driver := &recordingDriver{}
	sensor := &scriptedSensor{levels: []bool{Recessive, Recessive, Dominant}}
	tx, err := NewTransmitter(cfg, &Stats{}, driver, sensor, nil)
	require.NoError(t, err)

	bits := []uint8{1, 1, 1, 1, 1}
	won, err := tx.driveBits(bits)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, []bool{Recessive, Recessive, Dominant}, driver.levels)
}

// An uncontested transmission drives every bit and reports a win.
func TestTransmitter_DriveBits_WinsWhenUncontested(t *testing.T) {
	cfg := txTestConfig()
	driver := &recordingDriver{}
	sensor := &scriptedSensor{levels: []bool{Recessive, Recessive, Recessive, Recessive, Recessive}}
	tx, err := NewTransmitter(cfg, &Stats{}, driver, sensor, nil)
	require.NoError(t, err)

	bits := []uint8{1, 1, 0, 1, 1}
	won, err := tx.driveBits(bits)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, []bool{Recessive, Recessive, Dominant, Recessive, Recessive}, driver.levels)
}

func TestNewTransmitter_NotConfigured(t *testing.T) {
	_, err := NewTransmitter(txTestConfig(), &Stats{}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrTxNotConfigured)
}

// A line that never settles recessive means waitForIdle never returns,
// so SyncSendPacket must surface the context's cancellation rather than
// hang.
func TestTransmitter_SyncSendPacket_ContextCanceled(t *testing.T) {
	cfg := txTestConfig()
	driver := &recordingDriver{}
	sensor := &alwaysDominantSensor{}
	tx, err := NewTransmitter(cfg, &Stats{}, driver, sensor, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = tx.SyncSendPacket(ctx, 0x100, ComFlags(0), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type alwaysDominantSensor struct{}

func (alwaysDominantSensor) Sense() (bool, uint64) { return Dominant, 0 }

// SyncSendPacket rejects payloads over MaxDataBytes outright, without
// ever touching the line.
func TestTransmitter_SyncSendPacket_RejectsOversizedData(t *testing.T) {
	cfg := txTestConfig()
	driver := &recordingDriver{}
	sensor := &scriptedSensor{}
	tx, err := NewTransmitter(cfg, &Stats{}, driver, sensor, nil)
	require.NoError(t, err)

	data := make([]byte, MaxDataBytes+1)
	_, err = tx.SyncSendPacket(context.Background(), 0x100, ComFlags(0), data)
	require.Error(t, err)
	assert.Empty(t, driver.levels)
}

package van

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rxTestConfig() Config {
	cfg := DefaultConfig()
	cfg.ClockHz = 1_000_000_000
	return cfg
}

// TestReceiver_LifecycleOnIdleBus exercises the facade plumbing this
// package's other tests never touch: setup, Start/Stop over a real
// EdgeSource/LineSensor pair, and the read-side accessors, all on a bus
// that never carries a frame. A full frame through the real edge-timing
// path is covered separately by bitdecoder_test.go (which drives OnEdge
// directly, with no wall clock) and endtoend_test.go, which needs the
// coarser ClockHz it uses for scheduling slack; this one stays on
// rxTestConfig's tighter clock since it never decodes anything.
func TestReceiver_LifecycleOnIdleBus(t *testing.T) {
	bus := NewSimulatedBus()
	line := bus.Join()

	r, err := NewReceiver(rxTestConfig(), line, line, nil)
	require.NoError(t, err)

	assert.False(t, r.Available())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	var pkt Packet
	consumed, overrun := r.Receive(&pkt)
	assert.False(t, consumed)
	assert.False(t, overrun)

	snap := r.Stats()
	assert.Equal(t, uint64(0), snap.Frames)

	require.NoError(t, r.Stop())
}

// TestReceiver_InvalidConfigRejected confirms NewReceiver surfaces
// Config.Validate's error rather than constructing a half-valid
// receiver.
func TestReceiver_InvalidConfigRejected(t *testing.T) {
	bus := NewSimulatedBus()
	line := bus.Join()

	cfg := rxTestConfig()
	cfg.ClockHz = 0
	_, err := NewReceiver(cfg, line, line, nil)
	assert.Error(t, err)
}

// TestReceiver_StopClosesTransport confirms Stop tears down the edge
// goroutine and releases the transport even when nothing was ever
// received, so a caller can rely on Stop being safe to call right
// after Start.
func TestReceiver_StopClosesTransport(t *testing.T) {
	bus := NewSimulatedBus()
	line := bus.Join()

	r, err := NewReceiver(rxTestConfig(), line, line, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Stop()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

// TestReceiver_CollectorExposesStats confirms the Prometheus facade
// (component K) reflects live counter state without requiring a real
// frame to flow through the decoder.
func TestReceiver_CollectorExposesStats(t *testing.T) {
	bus := NewSimulatedBus()
	line := bus.Join()

	r, err := NewReceiver(rxTestConfig(), line, line, nil)
	require.NoError(t, err)
	r.stats.Frames.Store(3)

	coll := r.Collector("vantest")

	metricCh := make(chan prometheus.Metric, 16)
	coll.Collect(metricCh)
	close(metricCh)

	var framesSeen bool
	for m := range metricCh {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		if strings.Contains(m.Desc().String(), "vantest_frames_total") {
			framesSeen = true
			require.NotNil(t, pb.Counter)
			assert.Equal(t, float64(3), pb.Counter.GetValue())
		}
	}
	assert.True(t, framesSeen)
}

package van

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_DumpStats(t *testing.T) {
	s := &Stats{}
	s.Frames.Store(10)
	s.CRCErrors.Store(1)
	s.Repaired.Store(1)
	s.Overruns.Store(2)
	s.Dropped.Store(3)
	s.ArbitrationLosts.Store(4)
	s.SendFailures.Store(5)

	var buf bytes.Buffer
	require.NoError(t, s.snapshot().DumpStats(&buf))

	out := buf.String()
	assert.Contains(t, out, "# vanbus stats ")
	assert.Contains(t, out, "frames")
	assert.Contains(t, out, "10")
	assert.True(t, strings.Contains(out, "arbitration_lost"))
}

func TestStatsCollector_DescribeAndCollect(t *testing.T) {
	stats := &Stats{}
	stats.Frames.Store(7)
	stats.CRCErrors.Store(2)
	collector := NewStatsCollector(stats, "vanbus")

	descCh := make(chan *prometheus.Desc, 16)
	collector.Describe(descCh)
	close(descCh)
	var descs []*prometheus.Desc
	for d := range descCh {
		descs = append(descs, d)
	}
	assert.Len(t, descs, 7)

	metricCh := make(chan prometheus.Metric, 16)
	collector.Collect(metricCh)
	close(metricCh)

	var framesSeen bool
	for m := range metricCh {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		if strings.Contains(m.Desc().String(), "vanbus_frames_total") {
			framesSeen = true
			require.NotNil(t, pb.Counter)
			assert.Equal(t, float64(7), pb.Counter.GetValue())
		}
	}
	assert.True(t, framesSeen)
}

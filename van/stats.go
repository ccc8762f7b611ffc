package van

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/prometheus/client_golang/prometheus"
)

// dumpTimestampFormat mirrors the strftime-style format string the
// teacher's save-audio-file naming uses (xmit.go, tq.go), reused here
// for dump_stats's header line rather than a filename.
const dumpTimestampFormat = "%Y-%m-%d %H:%M:%S"

// Stats holds the receiver's running counters. Frames, CRCErrors,
// Repaired and Dropped are written from the GPIO edge path, Overruns by
// Receiver.Receive, and ArbitrationLosts/SendFailures by a Transmitter
// sharing this block; readers use a
// single atomic load each, per spec.md §5 ("tearing acceptable for
// display counters, required for correctness on the queue indices" —
// the queue indices themselves live in ring, not here).
type Stats struct {
	Frames           atomic.Uint64
	CRCErrors        atomic.Uint64
	Repaired         atomic.Uint64
	Overruns         atomic.Uint64
	Dropped          atomic.Uint64
	ArbitrationLosts atomic.Uint64
	SendFailures     atomic.Uint64
}

// Snapshot is a point-in-time, non-atomic copy of Stats suitable for
// display or serialisation.
type Snapshot struct {
	Frames           uint64
	CRCErrors        uint64
	Repaired         uint64
	Overruns         uint64
	Dropped          uint64
	ArbitrationLosts uint64
	SendFailures     uint64
}

func (s *Stats) snapshot() Snapshot {
	return Snapshot{
		Frames:           s.Frames.Load(),
		CRCErrors:        s.CRCErrors.Load(),
		Repaired:         s.Repaired.Load(),
		Overruns:         s.Overruns.Load(),
		Dropped:          s.Dropped.Load(),
		ArbitrationLosts: s.ArbitrationLosts.Load(),
		SendFailures:     s.SendFailures.Load(),
	}
}

// DumpStats writes a human-readable counter table to w, per spec.md
// §4.F's dump_stats operation. Sink failures propagate to the caller.
func (s Snapshot) DumpStats(w io.Writer) error {
	stamp, err := strftime.Format(dumpTimestampFormat, time.Now())
	if err != nil {
		stamp = time.Now().UTC().String()
	}
	if _, err := fmt.Fprintf(w, "# vanbus stats %s\n", stamp); err != nil {
		return err
	}

	rows := []struct {
		name  string
		value uint64
	}{
		{"frames", s.Frames},
		{"crc_errors", s.CRCErrors},
		{"repaired", s.Repaired},
		{"overruns", s.Overruns},
		{"dropped", s.Dropped},
		{"arbitration_lost", s.ArbitrationLosts},
		{"send_failures", s.SendFailures},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-20s %d\n", r.name, r.value); err != nil {
			return err
		}
	}
	return nil
}

// statsCollector exposes Stats as Prometheus counters. This is pure
// addition on top of spec.md §4.F: dump_stats still works with no
// Prometheus dependency anywhere near it, this is only reached when a
// caller registers it with a registry.
type statsCollector struct {
	stats *Stats

	framesDesc    *prometheus.Desc
	crcErrorsDesc *prometheus.Desc
	repairedDesc  *prometheus.Desc
	overrunsDesc  *prometheus.Desc
	droppedDesc   *prometheus.Desc
	arbLostDesc   *prometheus.Desc
	sendFailsDesc *prometheus.Desc
}

// NewStatsCollector wraps a receiver's live counters as a
// prometheus.Collector. Grounded on the Prometheus collector pattern
// used across the retrieved corpus's socket-stats exporter
// (runZeroInc/go-tcpinfo's exporter package), which wraps a live
// counter source the same way rather than polling a snapshot on a
// timer.
func NewStatsCollector(stats *Stats, namespace string) prometheus.Collector {
	return &statsCollector{
		stats:         stats,
		framesDesc:    prometheus.NewDesc(namespace+"_frames_total", "VAN frames delivered to the application.", nil, nil),
		crcErrorsDesc: prometheus.NewDesc(namespace+"_crc_errors_total", "Frames delivered with a CRC mismatch.", nil, nil),
		repairedDesc:  prometheus.NewDesc(namespace+"_repaired_total", "Frames whose single-bit CRC error was repaired.", nil, nil),
		overrunsDesc:  prometheus.NewDesc(namespace+"_queue_overruns_total", "Delivered packets flagged queue_overrun (a frame was dropped before them because the packet queue was full).", nil, nil),
		droppedDesc:   prometheus.NewDesc(namespace+"_dropped_total", "Frames aborted by the frame state machine or dropped because the packet queue was full.", nil, nil),
		arbLostDesc:   prometheus.NewDesc(namespace+"_arbitration_lost_total", "Transmit attempts that lost bus arbitration.", nil, nil),
		sendFailsDesc: prometheus.NewDesc(namespace+"_send_failures_total", "sync_send_packet calls that ultimately failed.", nil, nil),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesDesc
	ch <- c.crcErrorsDesc
	ch <- c.repairedDesc
	ch <- c.overrunsDesc
	ch <- c.droppedDesc
	ch <- c.arbLostDesc
	ch <- c.sendFailsDesc
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.snapshot()
	ch <- prometheus.MustNewConstMetric(c.framesDesc, prometheus.CounterValue, float64(s.Frames))
	ch <- prometheus.MustNewConstMetric(c.crcErrorsDesc, prometheus.CounterValue, float64(s.CRCErrors))
	ch <- prometheus.MustNewConstMetric(c.repairedDesc, prometheus.CounterValue, float64(s.Repaired))
	ch <- prometheus.MustNewConstMetric(c.overrunsDesc, prometheus.CounterValue, float64(s.Overruns))
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.arbLostDesc, prometheus.CounterValue, float64(s.ArbitrationLosts))
	ch <- prometheus.MustNewConstMetric(c.sendFailsDesc, prometheus.CounterValue, float64(s.SendFailures))
}

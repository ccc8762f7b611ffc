package van

import "time"

// busyWaitUntil blocks the calling goroutine until deadline has elapsed
// since start, by spinning, per spec.md §4.H: "must not suspend, yield,
// or invoke OS services". A goroutine is not an OS thread, so this
// cannot give the hard real-time guarantee a bare-metal ISR would;
// Transmitter.SyncSendPacket pins the calling OS thread for the
// duration of a send (its scheduling priority is left as is), and spec.md
// §4.H already treats any shortfall as a tolerated degradation, not a
// failure, handled by the receiver's acceptance window (§4.A).
func busyWaitUntil(start time.Time, deadline time.Duration) {
	for time.Since(start) < deadline {
		// deliberately empty: no time.Sleep, no runtime.Gosched
	}
}

// bitClock derives the real-time bit period for the configured
// platform clock. With ClockHz = 1e9 (the convention this package
// uses throughout, where one cycle is one nanosecond), bitPeriod is
// exactly time.Second / VANBitRate.
func bitClock(cfg Config) time.Duration {
	return time.Duration(cfg.ClockHz / VANBitRate) // cfg.ClockHz is in Hz; result in ns when ClockHz==1e9
}

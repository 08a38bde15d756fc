package wsclient

import (
	"sync/atomic"
	"time"
)

// Stats collects lightweight client counters with atomic access.
type Stats struct {
	framesIn     uint64
	framesOut    uint64
	bytesIn      uint64
	bytesOut     uint64
	queued       uint64
	flushed      uint64
	reconnects   uint64
	parseErrors  uint64
	encodeErrors uint64

	connectLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current counter values.
type Snapshot struct {
	FramesIn       uint64
	FramesOut      uint64
	BytesIn        uint64
	BytesOut       uint64
	Queued         uint64
	Flushed        uint64
	Reconnects     uint64
	ParseErrors    uint64
	EncodeErrors   uint64
	ConnectLatency LatencySnapshot
}

func (s *Stats) incFrameIn(n int) {
	atomic.AddUint64(&s.framesIn, 1)
	atomic.AddUint64(&s.bytesIn, uint64(n))
}

func (s *Stats) incFrameOut(n int) {
	atomic.AddUint64(&s.framesOut, 1)
	atomic.AddUint64(&s.bytesOut, uint64(n))
}

func (s *Stats) incQueued()      { atomic.AddUint64(&s.queued, 1) }
func (s *Stats) incFlushed()     { atomic.AddUint64(&s.flushed, 1) }
func (s *Stats) incReconnect()   { atomic.AddUint64(&s.reconnects, 1) }
func (s *Stats) incParseError()  { atomic.AddUint64(&s.parseErrors, 1) }
func (s *Stats) incEncodeError() { atomic.AddUint64(&s.encodeErrors, 1) }

// Snapshot returns a copy of the current counter values.
func (s *Stats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		FramesIn:       atomic.LoadUint64(&s.framesIn),
		FramesOut:      atomic.LoadUint64(&s.framesOut),
		BytesIn:        atomic.LoadUint64(&s.bytesIn),
		BytesOut:       atomic.LoadUint64(&s.bytesOut),
		Queued:         atomic.LoadUint64(&s.queued),
		Flushed:        atomic.LoadUint64(&s.flushed),
		Reconnects:     atomic.LoadUint64(&s.reconnects),
		ParseErrors:    atomic.LoadUint64(&s.parseErrors),
		EncodeErrors:   atomic.LoadUint64(&s.encodeErrors),
		ConnectLatency: s.connectLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}

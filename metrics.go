package segmap

import (
	"errors"

	"github.com/VictoriaMetrics/metrics"
)

// mapMetrics wires a Map's operation counts and live size into an optional
// caller-supplied *metrics.Set, per the operational-counters surface
// (segmap_puts_total, segmap_gets_total, segmap_removes_total,
// segmap_lock_timeouts_total, segmap_segment_full_total, segmap_size). A
// nil *mapMetrics is valid everywhere below: every method is a no-op on a
// nil receiver, so Map never branches on "was metrics configured".
type mapMetrics struct {
	puts, gets, removes      *metrics.Counter
	lockTimeouts, segmentFull *metrics.Counter
}

// newMapMetrics registers the named series on set. sizeFn is polled by the
// segmap_size gauge, so it should be cheap (Map.Size already is: an
// unlocked sum of per-segment counters).
func newMapMetrics(set *metrics.Set, sizeFn func() uint64) *mapMetrics {
	if set == nil {
		return nil
	}
	m := &mapMetrics{
		puts:         set.NewCounter("segmap_puts_total"),
		gets:         set.NewCounter("segmap_gets_total"),
		removes:      set.NewCounter("segmap_removes_total"),
		lockTimeouts: set.NewCounter("segmap_lock_timeouts_total"),
		segmentFull:  set.NewCounter("segmap_segment_full_total"),
	}
	set.NewGauge("segmap_size", func() float64 { return float64(sizeFn()) })
	return m
}

func (m *mapMetrics) incPut() {
	if m != nil {
		m.puts.Inc()
	}
}

func (m *mapMetrics) incGet() {
	if m != nil {
		m.gets.Inc()
	}
}

func (m *mapMetrics) incRemove() {
	if m != nil {
		m.removes.Inc()
	}
}

// recordErr bumps the counter matching err's MapError kind, if any.
func (m *mapMetrics) recordErr(err error) {
	if m == nil || err == nil {
		return
	}
	var merr *MapError
	if !errors.As(err, &merr) {
		return
	}
	switch merr.Kind {
	case ErrLockTimeoutKind:
		m.lockTimeouts.Inc()
	case ErrSegmentFullKind:
		m.segmentFull.Inc()
	}
}

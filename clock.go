package flvmux

import (
	"sync/atomic"
	"time"
)

// streamClock records the timestamp of the last tag emitted on one stream.
// The value is read by the audio path while the video path writes it, so
// both fields are atomics. A stale read only degrades skew correction.
type streamClock struct {
	set atomic.Bool
	ts  atomic.Int64 // time.Duration
}

// last returns the clock and whether it has been seeded.
func (c *streamClock) last() (time.Duration, bool) {
	if !c.set.Load() {
		return 0, false
	}
	return time.Duration(c.ts.Load()), true
}

// delta returns the distance from the last emission to ts in milliseconds.
// An unset clock yields 0. The result may be negative; callers drop such
// samples and leave the clock untouched.
func (c *streamClock) delta(ts time.Duration) float64 {
	last, ok := c.last()
	if !ok {
		return 0
	}
	return durationMillis(ts - last)
}

// advance records an emission at ts.
func (c *streamClock) advance(ts time.Duration) {
	c.ts.Store(int64(ts))
	c.set.Store(true)
}

func (c *streamClock) reset() {
	c.set.Store(false)
	c.ts.Store(0)
}

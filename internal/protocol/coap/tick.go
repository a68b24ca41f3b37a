package coap

import "time"

// Tick is a monotonic time unit counted from engine start.
type Tick uint64

// TicksPerSecond is the tick resolution.
const TicksPerSecond Tick = 1000

const tickDuration = time.Second / time.Duration(TicksPerSecond)

// Duration converts a tick delta into wall-clock time.
func (t Tick) Duration() time.Duration {
	return time.Duration(t) * tickDuration
}

// TicksOf converts a duration into ticks, rounding down. Negative
// durations yield zero.
func TicksOf(d time.Duration) Tick {
	if d <= 0 {
		return 0
	}
	return Tick(d / tickDuration)
}

// clock reports ticks elapsed since it was created.
type clock struct {
	start time.Time
	now   func() time.Time
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{start: now(), now: now}
}

func (c *clock) Now() Tick {
	return TicksOf(c.now().Sub(c.start))
}

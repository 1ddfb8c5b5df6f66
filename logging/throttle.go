package logging

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates a repeated log line so it is emitted at most once per interval. The first call
// always logs.
type Throttle struct {
	sometimes rate.Sometimes
}

// NewThrottle returns a Throttle that lets one call through per interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{sometimes: rate.Sometimes{Interval: interval}}
}

// Do runs logFn if the interval has elapsed since the last run.
func (t *Throttle) Do(logFn func()) {
	t.sometimes.Do(logFn)
}

package motion

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/stableseg/stableseg/logging"
)

// SteadinessGate declares the robot steady once it has not moved for longer than Wait.
type SteadinessGate struct {
	Wait time.Duration

	clock  clock.Clock
	logger logging.Logger

	steadyThrottle    *logging.Throttle
	notSteadyThrottle *logging.Throttle
}

// NewSteadinessGate returns a gate that waits wait after the last motion.
func NewSteadinessGate(wait time.Duration, clk clock.Clock, logger logging.Logger) *SteadinessGate {
	return &SteadinessGate{
		Wait:              wait,
		clock:             clk,
		logger:            logger,
		steadyThrottle:    logging.NewThrottle(10 * time.Second),
		notSteadyThrottle: logging.NewThrottle(time.Second),
	}
}

// IsSteady reports whether state is not moving and more than Wait has passed since
// state.LastMovedTime. A steady result refreshes state.LastSteadyTime.
func (g *SteadinessGate) IsSteady(state *State) bool {
	now := g.clock.Now()
	if !state.Moving && now.Sub(state.LastMovedTime) > g.Wait {
		g.steadyThrottle.Do(func() {
			g.logger.Debug("robot steady")
		})
		state.LastSteadyTime = now
		return true
	}
	g.notSteadyThrottle.Do(func() {
		g.logger.Debugw("robot still not steady hence not processing", "since_moved", now.Sub(state.LastMovedTime))
	})
	return false
}

// Package motion decides from joint states and camera poses whether the robot is moving, and
// whether it has been still long enough to trust its camera frames.
package motion

import (
	"math"
	"time"
)

// MinSampleInterval is how much newer a joint sample must be than the current one to replace it.
const MinSampleInterval = 50 * time.Millisecond

// JointSample is one joint state reading.
type JointSample struct {
	Names      []string
	Positions  []float64
	Velocities []float64
	Stamp      time.Time
}

// PositionDistance returns the Euclidean norm of the position change from prev to s over the
// joints both samples report.
func (s *JointSample) PositionDistance(prev *JointSample) float64 {
	n := len(s.Positions)
	if len(prev.Positions) < n {
		n = len(prev.Positions)
	}
	var sqSum float64
	for i := 0; i < n; i++ {
		d := s.Positions[i] - prev.Positions[i]
		sqSum += d * d
	}
	return math.Sqrt(sqSum)
}

// JointHistory holds the current joint sample and the one before it.
type JointHistory struct {
	current  *JointSample
	previous *JointSample
}

// Update records sample unless it is less than MinSampleInterval newer than the current sample.
// The first sample becomes both current and previous. It reports whether the sample was kept.
func (h *JointHistory) Update(sample JointSample) bool {
	if h.current == nil {
		h.current = &sample
		h.previous = &sample
		return true
	}
	if sample.Stamp.Sub(h.current.Stamp) < MinSampleInterval {
		return false
	}
	h.previous = h.current
	h.current = &sample
	return true
}

// Current returns the latest sample, or nil before the first update.
func (h *JointHistory) Current() *JointSample {
	return h.current
}

// Previous returns the sample preceding Current, or nil before the first update.
func (h *JointHistory) Previous() *JointSample {
	return h.previous
}

// Ready reports whether a sample has been received.
func (h *JointHistory) Ready() bool {
	return h.current != nil
}

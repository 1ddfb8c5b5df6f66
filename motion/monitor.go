package motion

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/spatialmath"
)

// PoseTolerance is the relative precision under which two camera poses count as the same.
const PoseTolerance = 1e-2

// State is the motion state carried between frames.
type State struct {
	Moving         bool
	LastMovedTime  time.Time
	LastSteadyTime time.Time
}

// NewState returns a state that last moved at start, so the robot is not steady until the wait
// interval has passed.
func NewState(start time.Time) *State {
	return &State{Moving: true, LastMovedTime: start}
}

// MonitorConfig selects the cues the Monitor consults.
type MonitorConfig struct {
	UseTransform       bool
	UseJointVelocities bool
	UseSelectiveJoints bool
	SelectiveJoints    []string
	MaxJointVelocity   float64
	MaxJointDifference float64
	WorldFrame         string
}

// Monitor combines the camera pose, joint velocities and joint position change into one moving
// decision.
type Monitor struct {
	cfg    MonitorConfig
	lookup spatialmath.PoseLookup
	clock  clock.Clock
	logger logging.Logger

	lastPose spatialmath.Pose

	tfThrottle     *logging.Throttle
	velThrottle    *logging.Throttle
	posThrottle    *logging.Throttle
	statusThrottle *logging.Throttle
}

// NewMonitor returns a Monitor. lookup may be nil when cfg.UseTransform is false.
func NewMonitor(cfg MonitorConfig, lookup spatialmath.PoseLookup, clk clock.Clock, logger logging.Logger) *Monitor {
	return &Monitor{
		cfg:            cfg,
		lookup:         lookup,
		clock:          clk,
		logger:         logger,
		tfThrottle:     logging.NewThrottle(time.Second),
		velThrottle:    logging.NewThrottle(time.Second),
		posThrottle:    logging.NewThrottle(time.Second),
		statusThrottle: logging.NewThrottle(10 * time.Second),
	}
}

// IsMoving evaluates the enabled cues for a frame captured at stamp in cameraFrame and stores the
// result in state. When the pose or velocity cue fires, state.LastMovedTime becomes the latest time
// among the cues that fired. The position cue marks the robot moving without touching
// LastMovedTime.
func (m *Monitor) IsMoving(
	ctx context.Context,
	current, previous *JointSample,
	cameraFrame string,
	stamp time.Time,
	state *State,
) bool {
	var (
		tfMoved, velExceeded, posExceeded bool
		tfMovedTime, velExceededTime      time.Time
	)

	if m.cfg.UseTransform {
		tfMoved, tfMovedTime = m.checkTransform(ctx, cameraFrame, stamp)
	}
	if current != nil {
		if m.cfg.UseJointVelocities {
			velExceeded, velExceededTime = m.checkJointVelocities(current)
		} else if previous != nil {
			posExceeded = m.checkJointPositionDifference(current, previous)
		}
	}

	moving := true
	switch {
	case tfMoved && velExceeded:
		state.LastMovedTime = tfMovedTime
		if velExceededTime.After(tfMovedTime) {
			state.LastMovedTime = velExceededTime
		}
	case tfMoved:
		state.LastMovedTime = tfMovedTime
	case velExceeded:
		state.LastMovedTime = velExceededTime
	case posExceeded:
		// moving, LastMovedTime kept
	default:
		moving = false
	}
	state.Moving = moving

	m.statusThrottle.Do(func() {
		m.logger.Debugw("robot moving status", "moving", moving, "last_moved", state.LastMovedTime)
	})
	return moving
}

func (m *Monitor) checkTransform(ctx context.Context, cameraFrame string, stamp time.Time) (bool, time.Time) {
	if m.lookup == nil {
		return false, time.Time{}
	}
	pose, err := m.lookup.LookupPose(ctx, m.cfg.WorldFrame, cameraFrame, stamp)
	if err != nil {
		m.logger.Errorw("couldn't find transform to world frame", "error", err)
		return false, time.Time{}
	}

	last := m.lastPose
	m.lastPose = pose
	if last != nil && spatialmath.PoseAlmostEqual(pose, last, PoseTolerance) {
		return false, time.Time{}
	}
	m.tfThrottle.Do(func() {
		m.logger.Warn("camera pose changed since the last frame")
	})
	return true, m.clock.Now()
}

func (m *Monitor) checkJointVelocities(sample *JointSample) (bool, time.Time) {
	exceeded := false
	for i, velocity := range sample.Velocities {
		if m.cfg.UseSelectiveJoints {
			if i >= len(sample.Names) || !lo.Contains(m.cfg.SelectiveJoints, sample.Names[i]) {
				continue
			}
		}
		if velocity > m.cfg.MaxJointVelocity {
			exceeded = true
			m.velThrottle.Do(func() {
				m.logger.Warnw("joint velocity is greater than threshold",
					"velocity", velocity, "max", m.cfg.MaxJointVelocity)
			})
		}
	}
	return exceeded, sample.Stamp
}

func (m *Monitor) checkJointPositionDifference(current, previous *JointSample) bool {
	dist := current.PositionDistance(previous)
	if dist > m.cfg.MaxJointDifference {
		m.posThrottle.Do(func() {
			m.logger.Warnw("joint distance norm is greater than threshold",
				"distance", dist, "max", m.cfg.MaxJointDifference)
		})
		return true
	}
	return false
}

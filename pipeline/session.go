// Package pipeline drives one segmentation session: it gates incoming frames on robot motion,
// selects a stable frame, segments it and publishes the result.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/stableseg/stableseg/config"
	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/motion"
	"github.com/stableseg/stableseg/pointcloud"
	"github.com/stableseg/stableseg/publish"
	"github.com/stableseg/stableseg/rimage"
	"github.com/stableseg/stableseg/rimage/transform"
	"github.com/stableseg/stableseg/segmentation"
	"github.com/stableseg/stableseg/selection"
	"github.com/stableseg/stableseg/spatialmath"
)

// Decision says what a session did with one frame.
type Decision int

const (
	// DecisionNotSteady means the robot had not been still long enough.
	DecisionNotSteady Decision = iota
	// DecisionNoCameraInfo means the camera models were not latched yet.
	DecisionNoCameraInfo
	// DecisionBuffered means the frame was queued for a later selection round.
	DecisionBuffered
	// DecisionNoStableFrame means a selection round ran and the scorer rejected every candidate.
	DecisionNoStableFrame
	// DecisionProcessed means a frame was segmented and its segments routed.
	DecisionProcessed
)

func (d Decision) String() string {
	switch d {
	case DecisionNotSteady:
		return "not_steady"
	case DecisionNoCameraInfo:
		return "no_camera_info"
	case DecisionBuffered:
		return "buffered"
	case DecisionNoStableFrame:
		return "no_stable_frame"
	case DecisionProcessed:
		return "processed"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// FrameInput is one synchronized depth and color pair, with the instance masks detected in the
// color frame when the labeled pipeline is in use.
type FrameInput struct {
	Depth     *rimage.RawDepth
	Color     image.Image
	Instances *segmentation.SemanticInstanceSegmentation
	Stamp     time.Time
	FrameID   string
}

// Report describes how a session handled one frame.
type Report struct {
	Decision Decision
	Moving   bool
	Steady   bool
	// Buffered is the number of candidates queued after the frame.
	Buffered int
	// SelectedIndex is the candidate a selection round picked, or -1 when no round succeeded.
	SelectedIndex int
	// Stamp and FrameID identify the frame that was segmented, which may be an earlier candidate.
	Stamp       time.Time
	FrameID     string
	Publication publish.Publication
}

// Collaborators are the services a Session relies on. Engine and Sink are required; the rest have
// defaults.
type Collaborators struct {
	Engine segmentation.Engine
	Sink   publish.Sink
	// Scorer ranks buffered frames. Defaults to a DepthStabilityScorer.
	Scorer selection.StabilityScorer
	// Lookup resolves camera poses when the pose cue is enabled.
	Lookup spatialmath.PoseLookup
	Clock  clock.Clock
}

// Session holds all state carried between callbacks. Its methods are safe to call from several
// goroutines, but callbacks are processed one at a time.
type Session struct {
	mu sync.Mutex

	cfg      config.Config
	clock    clock.Clock
	logger   logging.Logger
	strategy publish.Strategy

	joints       motion.JointHistory
	state        *motion.State
	monitor      *motion.Monitor
	gate         *motion.SteadinessGate
	preprocessor *rimage.Preprocessor
	selector     *selection.Selector
	engine       segmentation.Engine
	router       *publish.Router

	models *transform.CameraModels
	fatal  error
	seq    uint32

	encodingThrottle *logging.Throttle
}

// NewSession validates cfg and returns a session that starts out moving.
func NewSession(cfg *config.Config, c Collaborators, logger logging.Logger) (*Session, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if c.Engine == nil {
		return nil, errors.New("a segmentation engine is required")
	}
	if c.Sink == nil {
		return nil, errors.New("a sink is required")
	}
	if cfg.UseTransform && c.Lookup == nil {
		return nil, errors.New("use_transform needs a pose lookup")
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.New()
	}
	scorer := c.Scorer
	if scorer == nil {
		scorer = &selection.DepthStabilityScorer{MinValidFraction: cfg.MinValidFraction}
	}

	strategy := publish.StrategyFor(cfg.SemanticInstanceSegmentation.Enable)
	s := &Session{
		cfg:      *cfg,
		clock:    clk,
		logger:   logger,
		strategy: strategy,
		state:    motion.NewState(clk.Now()),
		monitor: motion.NewMonitor(motion.MonitorConfig{
			UseTransform:       cfg.UseTransform,
			UseJointVelocities: cfg.UseJointVelocities,
			UseSelectiveJoints: cfg.UseSelectiveJoints,
			SelectiveJoints:    cfg.SelectiveJointNames,
			MaxJointVelocity:   cfg.MaxJointVelocity,
			MaxJointDifference: cfg.MaxJointDifference,
			WorldFrame:         cfg.WorldFrame,
		}, c.Lookup, clk, logger.Sublogger("motion")),
		gate: motion.NewSteadinessGate(cfg.WaitTimeStationaryDuration(), clk, logger.Sublogger("steadiness")),
		preprocessor: &rimage.Preprocessor{
			DepthScale:   cfg.DepthScale,
			DilateDepth:  cfg.DilateDepthImage,
			DilationSize: cfg.DilationSize,
		},
		engine: c.Engine,
		router: publish.NewRouter(publish.RouterConfig{
			Strategy:                   strategy,
			SegmentTopic:               cfg.SegmentTopic,
			SceneTopic:                 cfg.SceneTopic,
			ForwardLabeledSegmentsOnly: cfg.ForwardLabeledSegmentsOnly,
			UseOverlapBitsOnly:         cfg.UseOverlapBitsOnly,
			VisualizeScene:             cfg.VisualizeSegmentedScene,
			SceneAsXYZL:                cfg.PublishSceneAsXYZL,
		}, segmentation.Validator{
			MinSize:  cfg.MinSegmentSize,
			MinDepth: cfg.MinSegmentDepth,
			MaxDepth: cfg.MaxSegmentDepth,
		}, c.Sink, logger.Sublogger("publish")),
		encodingThrottle: logging.NewThrottle(10 * time.Second),
	}
	if cfg.UseStabilityScore {
		s.selector = selection.NewSelector(scorer, logger.Sublogger("selection"))
	}
	logger.Infow("session created", "strategy", strategy, "publish_while_moving", cfg.PublishWhileMoving,
		"use_stability_score", cfg.UseStabilityScore)
	return s, nil
}

// Strategy returns the pipeline the session runs.
func (s *Session) Strategy() publish.Strategy {
	return s.strategy
}

// MotionState returns a copy of the current motion state.
func (s *Session) MotionState() motion.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state
}

// CameraReady reports whether camera models were latched.
func (s *Session) CameraReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models != nil
}

// Err returns the fatal error the session stopped on, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// OnCameraInfo latches the depth and color camera models and initializes the engine with them.
// Only the first successful call has any effect.
func (s *Session) OnCameraInfo(depth, color *transform.PinholeCameraIntrinsics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.models != nil {
		return nil
	}
	models := transform.CameraModels{Depth: depth, Color: color}
	if err := models.CheckValid(); err != nil {
		return err
	}
	if err := s.engine.Initialize(models); err != nil {
		return errors.Wrap(err, "initializing segmentation engine")
	}
	s.models = &models
	s.logger.Infow("camera models latched",
		"depth", fmt.Sprintf("%dx%d", depth.Width, depth.Height),
		"color", fmt.Sprintf("%dx%d", color.Width, color.Height))
	return nil
}

// OnJointState records a joint sample. Samples less than motion.MinSampleInterval newer than the
// current one are dropped; the return value reports whether sample was kept.
func (s *Session) OnJointState(sample motion.JointSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joints.Update(sample)
}

// OnFrame runs one camera callback. Transient conditions are reported through the returned Report
// with a nil error. An unsupported depth encoding stops the session: that call and every later
// one return the same *rimage.UnsupportedEncodingError.
func (s *Session) OnFrame(ctx context.Context, in FrameInput) (Report, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline::Session::OnFrame")
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{SelectedIndex: selection.NoStableFrame}
	defer func() {
		span.AddAttributes(trace.StringAttribute("decision", report.Decision.String()))
		span.End()
	}()
	if s.fatal != nil {
		return report, s.fatal
	}

	moving, steady := true, false
	if !s.cfg.PublishWhileMoving {
		moving = s.monitor.IsMoving(ctx, s.joints.Current(), s.joints.Previous(), in.FrameID, in.Stamp, s.state)
		steady = s.gate.IsSteady(s.state)
	}
	report.Moving, report.Steady = moving, steady

	var selected *selection.CandidateFrame
	if (steady || s.cfg.PublishWhileMoving) && s.models != nil {
		frame, err := s.preprocessor.Preprocess(in.Depth, in.Color)
		if err != nil {
			var encErr *rimage.UnsupportedEncodingError
			if errors.As(err, &encErr) {
				s.fatal = encErr
				s.logger.Errorw("unknown depth image encoding, stopping", "encoding", encErr.Encoding)
				return report, encErr
			}
			return report, errors.Wrap(err, "preprocessing frame")
		}
		if frame.NonFinite > 0 {
			s.encodingThrottle.Do(func() {
				s.logger.Debugw("replaced non-finite depth samples", "count", frame.NonFinite)
			})
		}
		candidate := selection.CandidateFrame{
			Frame:     frame,
			Instances: in.Instances,
			Stamp:     in.Stamp,
			FrameID:   in.FrameID,
		}
		switch {
		case s.cfg.PublishWhileMoving:
			selected = &candidate
		case s.selector != nil && steady && s.selector.CanBuffer():
			s.selector.Buffer(candidate)
			report.Decision = DecisionBuffered
		case steady:
			selected = &candidate
		}
	} else if s.models == nil && (steady || s.cfg.PublishWhileMoving) {
		report.Decision = DecisionNoCameraInfo
	}

	if s.selector != nil && s.selector.ShouldSelect(moving) {
		candidate, idx, err := s.selector.Select(ctx)
		if err != nil {
			report.Buffered = s.selector.Len()
			report.Decision = DecisionNoStableFrame
			if errors.Is(err, selection.ErrNoStableFrame) {
				return report, nil
			}
			return report, err
		}
		report.SelectedIndex = idx
		selected = &candidate
	}
	if s.selector != nil {
		report.Buffered = s.selector.Len()
	}

	if selected == nil || s.models == nil {
		return report, nil
	}
	pub, err := s.process(ctx, selected)
	report.Publication = pub
	report.Stamp, report.FrameID = selected.Stamp, selected.FrameID
	if err != nil {
		return report, err
	}
	report.Decision = DecisionProcessed
	return report, nil
}

func (s *Session) process(ctx context.Context, c *selection.CandidateFrame) (publish.Publication, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline::Session::process")
	defer span.End()

	instances := c.Instances
	if s.strategy == publish.StrategyPlain {
		instances = nil
	}
	result, err := s.engine.Segment(ctx, c.Frame, instances)
	if err != nil {
		return publish.Publication{}, errors.Wrap(err, "segmenting frame")
	}
	s.seq++
	header := pointcloud.Header{Seq: s.seq, Stamp: c.Stamp, FrameID: c.FrameID}
	return s.router.Route(ctx, header, result)
}

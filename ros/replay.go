package ros

import (
	"context"
	"image"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"

	"github.com/stableseg/stableseg/config"
	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/pipeline"
	"github.com/stableseg/stableseg/rimage"
	"github.com/stableseg/stableseg/segmentation"
)

// TFStaticTopic carries transforms that never change.
const TFStaticTopic = "/tf_static"

// EventKind says which input an Event carries.
type EventKind int

// The inputs a replay feeds to a session.
const (
	EventJointState EventKind = iota
	EventTransform
	EventStaticTransform
	EventDepthInfo
	EventColorInfo
	EventDepth
	EventColor
	EventMasks
)

// Event is one recorded message.
type Event struct {
	Kind  EventKind
	Stamp time.Time

	JointState *JointStateMessage
	TF         *TFMessage
	CameraInfo *CameraInfoMessage
	Image      *ImageMessage
	Masks      *MaskResultMessage
}

// LoadEvents reads every topic the configuration names from rb and returns the messages ordered by
// header time. Transform and mask topics may be missing from the bag.
func LoadEvents(rb *rosbag.RosBag, cfg *config.Config) ([]Event, error) {
	topics := []string{
		cfg.JointStatesTopic, cfg.DepthCameraInfoTopic, cfg.RGBCameraInfoTopic,
		cfg.DepthImageTopic, cfg.RGBImageTopic, cfg.TFTopic, TFStaticTopic,
	}
	if cfg.SemanticInstanceSegmentation.Enable {
		topics = append(topics, cfg.SemanticInstanceSegmentationTopic)
	}
	if err := ParseTopics(rb, topics); err != nil {
		return nil, err
	}
	return EventsFrom(BagSource(rb), cfg)
}

// EventsFrom decodes the topics cfg names from src, ordered by time.
func EventsFrom(src TopicSource, cfg *config.Config) ([]Event, error) {
	var events []Event
	optional := func(err error) error {
		if errors.Is(err, ErrNoMessages) {
			return nil
		}
		return err
	}

	joints, err := messagesFrom[JointStateMessage](src, cfg.JointStatesTopic)
	if optional(err) != nil {
		return nil, err
	}
	for i := range joints {
		events = append(events, Event{Kind: EventJointState, Stamp: joints[i].Data.Header.Stamp.Time(), JointState: &joints[i]})
	}

	for _, tf := range []struct {
		topic string
		kind  EventKind
	}{{cfg.TFTopic, EventTransform}, {TFStaticTopic, EventStaticTransform}} {
		if tf.topic == "" {
			continue
		}
		msgs, err := messagesFrom[TFMessage](src, tf.topic)
		if optional(err) != nil {
			return nil, err
		}
		for i := range msgs {
			events = append(events, Event{Kind: tf.kind, Stamp: msgs[i].Meta.Time(), TF: &msgs[i]})
		}
	}

	for _, info := range []struct {
		topic string
		kind  EventKind
	}{{cfg.DepthCameraInfoTopic, EventDepthInfo}, {cfg.RGBCameraInfoTopic, EventColorInfo}} {
		msgs, err := messagesFrom[CameraInfoMessage](src, info.topic)
		if err != nil {
			return nil, err
		}
		for i := range msgs {
			events = append(events, Event{Kind: info.kind, Stamp: msgs[i].Data.Header.Stamp.Time(), CameraInfo: &msgs[i]})
		}
	}

	for _, img := range []struct {
		topic string
		kind  EventKind
	}{{cfg.DepthImageTopic, EventDepth}, {cfg.RGBImageTopic, EventColor}} {
		msgs, err := messagesFrom[ImageMessage](src, img.topic)
		if err != nil {
			return nil, err
		}
		for i := range msgs {
			events = append(events, Event{Kind: img.kind, Stamp: msgs[i].Data.Header.Stamp.Time(), Image: &msgs[i]})
		}
	}

	if cfg.SemanticInstanceSegmentation.Enable {
		msgs, err := messagesFrom[MaskResultMessage](src, cfg.SemanticInstanceSegmentationTopic)
		if err != nil {
			return nil, err
		}
		for i := range msgs {
			events = append(events, Event{Kind: EventMasks, Stamp: msgs[i].Data.Header.Stamp.Time(), Masks: &msgs[i]})
		}
	}

	SortEvents(events)
	return events, nil
}

// SortEvents orders events by time, keeping the recorded order of simultaneous ones.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Stamp.Before(events[j].Stamp) })
}

// Stats summarizes a replay.
type Stats struct {
	Frames    int
	Dropped   int
	Decisions map[pipeline.Decision]int
	Segments  int
	Scenes    int
}

type pendingFrame struct {
	depth *ImageMessage
	color image.Image
	masks *segmentation.SemanticInstanceSegmentation
	// colorSeen and masksSeen are set even when decoding failed
	colorSeen bool
	masksSeen bool
	broken    bool
}

// Replayer feeds recorded events to a session in time order, advancing a mock clock to each
// event's stamp.
type Replayer struct {
	cfg     *config.Config
	session *pipeline.Session
	tf      *TransformBuffer
	clock   *clock.Mock
	logger  logging.Logger

	depthInfo, colorInfo *CameraInfoMessage
	pending              map[int64]*pendingFrame
	stats                Stats
}

// NewReplayer builds a session for cfg whose clock and pose lookup are driven by the replay.
// collab's Clock and Lookup are replaced. start should be the stamp of the first event.
func NewReplayer(cfg *config.Config, collab pipeline.Collaborators, start time.Time, logger logging.Logger) (*Replayer, error) {
	clk := clock.NewMock()
	clk.Set(start)
	tf := NewTransformBuffer(cfg.TransformToleranceDuration())
	collab.Clock = clk
	collab.Lookup = tf
	session, err := pipeline.NewSession(cfg, collab, logger)
	if err != nil {
		return nil, err
	}
	return &Replayer{
		cfg:     cfg,
		session: session,
		tf:      tf,
		clock:   clk,
		logger:  logger.Sublogger("replay"),
		pending: map[int64]*pendingFrame{},
		stats:   Stats{Decisions: map[pipeline.Decision]int{}},
	}, nil
}

// Session returns the session being driven.
func (r *Replayer) Session() *pipeline.Session {
	return r.session
}

// Stats returns what the replay did so far.
func (r *Replayer) Stats() Stats {
	return r.stats
}

func (r *Replayer) advance(stamp time.Time) {
	if stamp.After(r.clock.Now()) {
		r.clock.Set(stamp)
	}
}

// Feed handles one event. It returns an error only when the session cannot go on.
func (r *Replayer) Feed(ctx context.Context, ev Event) error {
	r.advance(ev.Stamp)
	switch ev.Kind {
	case EventJointState:
		r.session.OnJointState(ev.JointState.Sample())
	case EventTransform, EventStaticTransform:
		r.tf.AddMessage(ev.TF, ev.Kind == EventStaticTransform)
	case EventDepthInfo, EventColorInfo:
		return r.cameraInfo(ev)
	case EventDepth:
		p := r.pendingAt(ev.Stamp)
		p.depth = ev.Image
		return r.tryFrame(ctx, ev.Stamp)
	case EventColor:
		p := r.pendingAt(ev.Stamp)
		p.colorSeen = true
		img, err := rimage.DecodeColor(ev.Image.Data.RawImage())
		if err != nil {
			r.logger.Warnw("dropping frame with undecodable color image", "stamp", ev.Stamp, "error", err)
			p.broken = true
		} else {
			p.color = img
		}
		return r.tryFrame(ctx, ev.Stamp)
	case EventMasks:
		p := r.pendingAt(ev.Stamp)
		p.masksSeen = true
		masks, err := ev.Masks.Segmentation()
		if err != nil {
			r.logger.Warnw("dropping frame with undecodable instance masks", "stamp", ev.Stamp, "error", err)
			p.broken = true
		} else {
			p.masks = masks
		}
		return r.tryFrame(ctx, ev.Stamp)
	}
	return nil
}

func (r *Replayer) cameraInfo(ev Event) error {
	if ev.Kind == EventDepthInfo {
		r.depthInfo = ev.CameraInfo
	} else {
		r.colorInfo = ev.CameraInfo
	}
	if r.depthInfo == nil || r.colorInfo == nil || r.session.CameraReady() {
		return nil
	}
	depth, err := r.depthInfo.Intrinsics()
	if err != nil {
		return errors.Wrap(err, "depth camera info")
	}
	color, err := r.colorInfo.Intrinsics()
	if err != nil {
		return errors.Wrap(err, "color camera info")
	}
	return r.session.OnCameraInfo(depth, color)
}

func (r *Replayer) pendingAt(stamp time.Time) *pendingFrame {
	key := stamp.UnixNano()
	p, ok := r.pending[key]
	if !ok {
		p = &pendingFrame{}
		r.pending[key] = p
	}
	return p
}

func (r *Replayer) tryFrame(ctx context.Context, stamp time.Time) error {
	key := stamp.UnixNano()
	p := r.pending[key]
	needMasks := r.cfg.SemanticInstanceSegmentation.Enable
	if p.depth == nil || !p.colorSeen || (needMasks && !p.masksSeen) {
		return nil
	}
	delete(r.pending, key)
	// pairs older than this one can no longer be completed
	for k := range r.pending {
		if k < key {
			delete(r.pending, k)
			r.stats.Dropped++
		}
	}
	if p.broken {
		r.stats.Dropped++
		return nil
	}

	frameID := p.depth.Data.Header.FrameID
	if r.cfg.CameraFrame != "" {
		frameID = r.cfg.CameraFrame
	}
	r.stats.Frames++
	report, err := r.session.OnFrame(ctx, pipeline.FrameInput{
		Depth:     p.depth.Data.RawDepth(),
		Color:     p.color,
		Instances: p.masks,
		Stamp:     stamp,
		FrameID:   frameID,
	})
	r.stats.Decisions[report.Decision]++
	r.stats.Segments += report.Publication.Published
	if report.Publication.ScenePoints > 0 {
		r.stats.Scenes++
	}
	if err != nil {
		if r.session.Err() != nil {
			return err
		}
		r.logger.Warnw("frame failed", "stamp", stamp, "error", err)
	}
	return nil
}

// Replay feeds events in order until they run out, ctx is done or the session fails.
func (r *Replayer) Replay(ctx context.Context, events []Event) (Stats, error) {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return r.stats, err
		}
		if err := r.Feed(ctx, ev); err != nil {
			return r.stats, err
		}
	}
	r.stats.Dropped += len(r.pending)
	r.pending = map[int64]*pendingFrame{}
	r.logger.Infow("replay done", "frames", r.stats.Frames, "dropped", r.stats.Dropped, "segments", r.stats.Segments)
	return r.stats, nil
}

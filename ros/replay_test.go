package ros

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/stableseg/stableseg/config"
	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/pipeline"
	"github.com/stableseg/stableseg/pointcloud"
	"github.com/stableseg/stableseg/publish"
	"github.com/stableseg/stableseg/rimage"
	"github.com/stableseg/stableseg/segmentation"
)

const depthFrame = "camera_depth_optical_frame"

// recording builds the JSON lines of a bag, one buffer per topic.
type recording map[string]*bytes.Buffer

func (r recording) add(topic, line string) {
	buf, ok := r[topic]
	if !ok {
		buf = &bytes.Buffer{}
		r[topic] = buf
	}
	buf.WriteString(line)
	buf.WriteByte('\n')
}

func (r recording) source() TopicSource {
	return func(topic string) (LineReader, bool) {
		buf, ok := r[topic]
		return buf, ok
	}
}

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

// a 2x2 depth frame one meter away
var depthData = []byte{0xe8, 0x03, 0xe8, 0x03, 0xe8, 0x03, 0xe8, 0x03}

var colorData = []byte{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120}

func (r recording) frame(cfg *config.Config, ms int, depthEncoding, colorEncoding string) {
	r.add(cfg.DepthImageTopic, imageLine(at(ms), depthFrame, depthEncoding, 2, 2, 4, depthData))
	r.add(cfg.RGBImageTopic, imageLine(at(ms), "camera_color_optical_frame", colorEncoding, 2, 2, 6, colorData))
}

func baseRecording(cfg *config.Config) recording {
	r := recording{}
	r.add(cfg.DepthCameraInfoTopic, cameraInfoLine(t0, depthFrame, 2, 2, 100, 100, 1, 1))
	r.add(cfg.RGBCameraInfoTopic, cameraInfoLine(t0, "camera_color_optical_frame", 2, 2, 100, 100, 1, 1))
	for ms := 0; ms <= 2000; ms += 200 {
		r.add(cfg.JointStatesTopic, jointStateLine(at(ms), 0))
	}
	return r
}

func replayConfig() *config.Config {
	cfg := config.Default()
	cfg.UseStabilityScore = false
	cfg.WaitTimeStationary = 0.5
	cfg.MinSegmentSize = 1
	return &cfg
}

func newReplayer(t *testing.T, cfg *config.Config, sink publish.Sink, logger logging.Logger) *Replayer {
	t.Helper()
	r, err := NewReplayer(cfg, pipeline.Collaborators{
		Engine: segmentation.NewMaskProjectionEngine(cfg.SemanticInstanceSegmentation.OverlapThreshold, logger),
		Sink:   sink,
	}, t0, logger)
	test.That(t, err, test.ShouldBeNil)
	return r
}

func TestEventsFromOrdersByTime(t *testing.T) {
	cfg := replayConfig()
	rec := baseRecording(cfg)
	rec.frame(cfg, 100, "16UC1", "rgb8")
	rec.add(cfg.TFTopic, tfLine(at(50), "world", depthFrame, 0, 0, 1))

	events, err := EventsFrom(rec.source(), cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events, test.ShouldHaveLength, 11+2+2+1)
	for i := 1; i < len(events); i++ {
		test.That(t, events[i].Stamp.Before(events[i-1].Stamp), test.ShouldBeFalse)
	}
	kinds := map[EventKind]int{}
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	test.That(t, kinds[EventJointState], test.ShouldEqual, 11)
	test.That(t, kinds[EventTransform], test.ShouldEqual, 1)
	test.That(t, kinds[EventDepth], test.ShouldEqual, 1)
	test.That(t, kinds[EventColor], test.ShouldEqual, 1)
	test.That(t, kinds[EventStaticTransform], test.ShouldEqual, 0)
}

func TestEventsFromRequiresCameraTopics(t *testing.T) {
	cfg := replayConfig()
	rec := baseRecording(cfg)
	rec.add(cfg.DepthImageTopic, imageLine(at(100), depthFrame, "16UC1", 2, 2, 4, depthData))

	_, err := EventsFrom(rec.source(), cfg)
	test.That(t, errors.Is(err, ErrNoMessages), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, cfg.RGBImageTopic)

	cfg.SemanticInstanceSegmentation.Enable = true
	rec.frame(cfg, 200, "16UC1", "rgb8")
	_, err = EventsFrom(rec.source(), cfg)
	test.That(t, errors.Is(err, ErrNoMessages), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, cfg.SemanticInstanceSegmentationTopic)
}

func TestReplayPlain(t *testing.T) {
	cfg := replayConfig()
	rec := baseRecording(cfg)
	rec.frame(cfg, 100, "16UC1", "rgb8")
	rec.frame(cfg, 600, "16UC1", "rgb8")
	rec.frame(cfg, 1100, "16UC1", "rgb8")
	// an undecodable color frame drops its pair
	rec.frame(cfg, 1600, "16UC1", "yuv422")
	// depth without color is never paired
	rec.add(cfg.DepthImageTopic, imageLine(at(2000), depthFrame, "16UC1", 2, 2, 4, depthData))

	events, err := EventsFrom(rec.source(), cfg)
	test.That(t, err, test.ShouldBeNil)

	logger, logs := logging.NewObservedTestLogger(t)
	sink := publish.NewMemorySink()
	r := newReplayer(t, cfg, sink, logger)
	stats, err := r.Replay(context.Background(), events)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, stats.Frames, test.ShouldEqual, 3)
	test.That(t, stats.Dropped, test.ShouldEqual, 2)
	test.That(t, stats.Decisions[pipeline.DecisionNotSteady], test.ShouldEqual, 1)
	test.That(t, stats.Decisions[pipeline.DecisionProcessed], test.ShouldEqual, 2)
	test.That(t, stats.Segments, test.ShouldEqual, 2)
	test.That(t, stats.Scenes, test.ShouldEqual, 2)
	test.That(t, logs.FilterMessageSnippet("undecodable color").Len(), test.ShouldEqual, 1)

	segments := sink.Messages(cfg.SegmentTopic)
	test.That(t, segments, test.ShouldHaveLength, 2)
	first := segments[0].Cloud
	test.That(t, first.Schema, test.ShouldEqual, pointcloud.SchemaSurfel)
	test.That(t, first.Header.Stamp, test.ShouldEqual, at(600))
	test.That(t, first.Header.FrameID, test.ShouldEqual, depthFrame)
	test.That(t, first.Size(), test.ShouldEqual, 4)
	for _, p := range first.Points {
		test.That(t, p.Position.Z, test.ShouldAlmostEqual, 1.0, 1e-6)
	}
	test.That(t, segments[1].Cloud.Header.Stamp, test.ShouldEqual, at(1100))
	test.That(t, segments[1].Cloud.Header.Seq, test.ShouldEqual, uint32(2))
	test.That(t, sink.Messages(cfg.SceneTopic), test.ShouldHaveLength, 2)
}

func TestReplayCameraFrameOverride(t *testing.T) {
	cfg := replayConfig()
	cfg.CameraFrame = "camera_link"
	rec := baseRecording(cfg)
	rec.frame(cfg, 600, "16UC1", "rgb8")

	events, err := EventsFrom(rec.source(), cfg)
	test.That(t, err, test.ShouldBeNil)
	sink := publish.NewMemorySink()
	r := newReplayer(t, cfg, sink, logging.NewTestLogger(t))
	_, err = r.Replay(context.Background(), events)
	test.That(t, err, test.ShouldBeNil)

	segments := sink.Messages(cfg.SegmentTopic)
	test.That(t, segments, test.ShouldHaveLength, 1)
	test.That(t, segments[0].Cloud.Header.FrameID, test.ShouldEqual, "camera_link")
}

func TestReplayLabeled(t *testing.T) {
	cfg := replayConfig()
	cfg.SemanticInstanceSegmentation.Enable = true
	rec := baseRecording(cfg)
	rec.frame(cfg, 600, "16UC1", "rgb8")
	rec.add(cfg.SemanticInstanceSegmentationTopic, fmt.Sprintf(
		`{"meta": %s, "data": {"header": %s, "boxes": [], "class_ids": [4], "class_names": ["pepper"], `+
			`"scores": [0.9], "masks": [%s]}}`,
		metaJSON(at(600)), headerJSON(at(600), "camera_color_optical_frame"),
		imageJSON(at(600), "camera_color_optical_frame", "mono8", 2, 2, 2, []byte{255, 0, 0, 0})))

	events, err := EventsFrom(rec.source(), cfg)
	test.That(t, err, test.ShouldBeNil)
	sink := publish.NewMemorySink()
	r := newReplayer(t, cfg, sink, logging.NewTestLogger(t))
	stats, err := r.Replay(context.Background(), events)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Frames, test.ShouldEqual, 1)
	test.That(t, stats.Segments, test.ShouldEqual, 2)

	segments := sink.Messages(cfg.SegmentTopic)
	test.That(t, segments, test.ShouldHaveLength, 2)
	labeled := segments[0].Cloud
	test.That(t, labeled.Schema, test.ShouldEqual, pointcloud.SchemaSurfelLabel)
	test.That(t, labeled.Size(), test.ShouldEqual, 1)
	test.That(t, labeled.Points[0].InstanceLabel, test.ShouldEqual, uint32(1))
	test.That(t, labeled.Points[0].SemanticLabel, test.ShouldEqual, uint8(4))
	test.That(t, segments[1].Cloud.Size(), test.ShouldEqual, 3)
	test.That(t, segments[1].Cloud.Points[0].InstanceLabel, test.ShouldEqual, uint32(0))
}

func TestReplayStopsOnUnsupportedDepthEncoding(t *testing.T) {
	cfg := replayConfig()
	rec := baseRecording(cfg)
	rec.frame(cfg, 600, "32SC1", "rgb8")
	rec.frame(cfg, 1100, "16UC1", "rgb8")

	events, err := EventsFrom(rec.source(), cfg)
	test.That(t, err, test.ShouldBeNil)
	sink := publish.NewMemorySink()
	r := newReplayer(t, cfg, sink, logging.NewTestLogger(t))
	stats, err := r.Replay(context.Background(), events)

	var encErr *rimage.UnsupportedEncodingError
	test.That(t, errors.As(err, &encErr), test.ShouldBeTrue)
	test.That(t, encErr.Encoding, test.ShouldEqual, "32SC1")
	test.That(t, stats.Frames, test.ShouldEqual, 1)
	test.That(t, sink.Messages(""), test.ShouldBeEmpty)
	test.That(t, r.Session().Err(), test.ShouldNotBeNil)
}

func TestReplayCanceled(t *testing.T) {
	cfg := replayConfig()
	rec := baseRecording(cfg)
	rec.frame(cfg, 600, "16UC1", "rgb8")
	events, err := EventsFrom(rec.source(), cfg)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newReplayer(t, cfg, publish.NewMemorySink(), logging.NewTestLogger(t))
	_, err = r.Replay(ctx, events)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

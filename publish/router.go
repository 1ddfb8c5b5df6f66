package publish

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/pointcloud"
	"github.com/stableseg/stableseg/segmentation"
)

// Strategy selects between the plain and the instance-labeled pipeline.
type Strategy int

const (
	// StrategyPlain publishes unlabeled surfel clouds.
	StrategyPlain Strategy = iota
	// StrategyLabeled publishes surfel clouds carrying instance and semantic labels.
	StrategyLabeled
)

// StrategyFor returns the strategy for a session with instance segmentation enabled or not.
func StrategyFor(instanceSegmentation bool) Strategy {
	if instanceSegmentation {
		return StrategyLabeled
	}
	return StrategyPlain
}

func (s Strategy) String() string {
	switch s {
	case StrategyPlain:
		return "plain"
	case StrategyLabeled:
		return "labeled"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// SegmentSchema returns the schema of per-segment clouds.
func (s Strategy) SegmentSchema() pointcloud.Schema {
	if s == StrategyLabeled {
		return pointcloud.SchemaSurfelLabel
	}
	return pointcloud.SchemaSurfel
}

// RouterConfig fixes the publication policy of a Router.
type RouterConfig struct {
	Strategy     Strategy
	SegmentTopic string
	SceneTopic   string

	ForwardLabeledSegmentsOnly bool
	UseOverlapBitsOnly         bool
	VisualizeScene             bool
	SceneAsXYZL                bool
}

// SceneSchema returns the schema of the scene aggregate.
func (c *RouterConfig) SceneSchema() pointcloud.Schema {
	if c.Strategy != StrategyLabeled {
		return pointcloud.SchemaSurfel
	}
	if c.SceneAsXYZL {
		return pointcloud.SchemaXYZL
	}
	return pointcloud.SchemaSurfelLabel
}

// Publication counts what one Route call did with the segments it was given.
type Publication struct {
	Considered  int
	Unlabeled   int
	Invalid     int
	Published   int
	ScenePoints int
}

// Router labels, validates and publishes segments.
type Router struct {
	cfg       RouterConfig
	validator segmentation.Validator
	sink      Sink
	logger    logging.Logger
}

// NewRouter returns a Router publishing to sink.
func NewRouter(cfg RouterConfig, validator segmentation.Validator, sink Sink, logger logging.Logger) *Router {
	return &Router{cfg: cfg, validator: validator, sink: sink, logger: logger}
}

// Config returns the policy the router was built with.
func (r *Router) Config() RouterConfig {
	return r.cfg
}

// Source picks the segment set to publish from result.
func (r *Router) Source(result *segmentation.Result) []segmentation.Segment {
	if r.cfg.Strategy == StrategyLabeled && r.cfg.UseOverlapBitsOnly {
		return result.OverlapSegments
	}
	return result.Segments
}

func (r *Router) segmentPoint(seg *segmentation.Segment, i int, instance uint32, semantic uint8) pointcloud.Point {
	p := pointcloud.Point{Position: seg.Points[i]}
	if i < len(seg.Normals) {
		p.Normal = seg.Normals[i]
	}
	if i < len(seg.OriginalColors) {
		p.R, p.G, p.B = pointcloud.FillColor(seg.OriginalColors[i])
	} else {
		p.R = 255
	}
	if r.cfg.Strategy == StrategyLabeled {
		p.InstanceLabel = instance
		p.SemanticLabel = semantic
	}
	return p
}

func scenePoint(schema pointcloud.Schema, p pointcloud.Point) pointcloud.Point {
	if schema == pointcloud.SchemaXYZL {
		return pointcloud.Point{Position: p.Position, Label: uint32(p.SemanticLabel)}
	}
	return p
}

// Route publishes the segments of result chosen by the router's policy, each as one cloud on the
// segment topic, followed by the scene aggregate when enabled and anything was published. Every
// cloud carries header. Publishing a segment with no points panics.
func (r *Router) Route(ctx context.Context, header pointcloud.Header, result *segmentation.Result) (Publication, error) {
	ctx, span := trace.StartSpan(ctx, "publish::Router::Route")
	defer span.End()

	var pub Publication
	if result == nil {
		return pub, nil
	}
	segments := r.Source(result)
	pub.Considered = len(segments)

	sceneSchema := r.cfg.SceneSchema()
	var scene *pointcloud.Cloud
	if r.cfg.VisualizeScene {
		scene = pointcloud.New(header, sceneSchema)
	}

	for i := range segments {
		seg := &segments[i]
		if r.cfg.Strategy == StrategyLabeled && r.cfg.ForwardLabeledSegmentsOnly && !seg.IsTargetObject {
			pub.Unlabeled++
			continue
		}
		if err := r.validator.Check(seg); err != nil {
			pub.Invalid++
			r.logger.Debugw("not publishing segment", "reason", err)
			continue
		}
		if seg.Len() == 0 {
			panic(errors.New("publishing a segment with no points"))
		}

		instance, semantic := seg.InstanceLabel(), seg.SemanticLabel()
		if r.cfg.Strategy == StrategyLabeled && seg.IsTargetObject {
			r.logger.Infow("publishing instance segment", "instance_label", instance, "semantic_label", semantic)
		}
		cloud := pointcloud.New(header, r.cfg.Strategy.SegmentSchema())
		cloud.Points = make([]pointcloud.Point, 0, seg.Len())
		for j := range seg.Points {
			p := r.segmentPoint(seg, j, instance, semantic)
			cloud.Add(p)
			if scene != nil {
				scene.Add(scenePoint(sceneSchema, p))
			}
		}
		if err := r.sink.Publish(ctx, r.cfg.SegmentTopic, cloud); err != nil {
			return pub, errors.Wrap(err, "publishing segment")
		}
		pub.Published++
	}

	if scene != nil && pub.Published > 0 {
		pub.ScenePoints = scene.Size()
		if err := r.sink.Publish(ctx, r.cfg.SceneTopic, scene); err != nil {
			return pub, errors.Wrap(err, "publishing scene")
		}
	}
	return pub, nil
}

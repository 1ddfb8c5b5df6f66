// Package config defines the options of a segmentation session and how they are read from disk.
package config

import (
	"time"

	"github.com/pkg/errors"

	"github.com/stableseg/stableseg/logging"
)

// Output sinks a session can publish to.
const (
	OutputMemory = "memory"
	OutputDir    = "dir"
	OutputNATS   = "nats"
)

// SemanticInstanceSegmentation configures the labeled pipeline.
type SemanticInstanceSegmentation struct {
	Enable           bool    `json:"enable"`
	OverlapThreshold float64 `json:"overlap_threshold"`
}

// NATS configures the NATS sink.
type NATS struct {
	URL           string `json:"url"`
	Name          string `json:"name"`
	SubjectPrefix string `json:"subject_prefix"`
}

// Config holds every option of a segmentation session.
type Config struct {
	LogLevel string `json:"log_level"`

	DepthImageTopic                   string `json:"depth_image_topic"`
	RGBImageTopic                     string `json:"rgb_image_topic"`
	DepthCameraInfoTopic              string `json:"depth_camera_info_topic"`
	RGBCameraInfoTopic                string `json:"rgb_camera_info_topic"`
	JointStatesTopic                  string `json:"joint_states_topic"`
	SemanticInstanceSegmentationTopic string `json:"semantic_instance_segmentation_topic"`
	TFTopic                           string `json:"tf_topic"`
	SegmentTopic                      string `json:"segment_topic"`
	SceneTopic                        string `json:"scene_topic"`

	WorldFrame  string `json:"world_frame"`
	CameraFrame string `json:"camera_frame"`

	ForwardLabeledSegmentsOnly bool `json:"forward_labeled_segments_only"`
	UseOverlapBitsOnly         bool `json:"use_overlap_bits_only"`
	PublishWhileMoving         bool `json:"publish_while_moving"`

	UseTransform        bool     `json:"use_transform"`
	TransformTolerance  float64  `json:"transform_tolerance"`
	UseJointVelocities  bool     `json:"use_joint_velocities"`
	UseSelectiveJoints  bool     `json:"use_selective_joints"`
	SelectiveJointNames []string `json:"selective_joint_names"`
	MaxJointVelocity    float64  `json:"max_joint_velocity"`
	MaxJointDifference  float64  `json:"max_joint_difference"`
	WaitTimeStationary  float64  `json:"wait_time_stationary"`

	UseStabilityScore bool    `json:"use_stability_score"`
	MinValidFraction  float64 `json:"min_valid_fraction"`

	MinSegmentSize  int     `json:"min_segment_size"`
	MinSegmentDepth float64 `json:"min_segment_depth"`
	MaxSegmentDepth float64 `json:"max_segment_depth"`

	DilateDepthImage bool    `json:"dilate_depth_image"`
	DilationSize     int     `json:"dilation_size"`
	DepthScale       float64 `json:"depth_scale"`

	VisualizeSegmentedScene      bool                         `json:"visualize_segmented_scene"`
	PublishSceneAsXYZL           bool                         `json:"publish_scene_as_xyzl"`
	SemanticInstanceSegmentation SemanticInstanceSegmentation `json:"semantic_instance_segmentation"`

	Output    string `json:"output"`
	OutputDir string `json:"output_dir"`
	NATS      NATS   `json:"nats"`
}

// Default returns the configuration used for every option a file leaves out.
func Default() Config {
	return Config{
		LogLevel: "info",

		DepthImageTopic:                   "/camera/depth/image_rect_raw",
		RGBImageTopic:                     "/camera/color/image_raw",
		DepthCameraInfoTopic:              "/camera/depth/camera_info",
		RGBCameraInfoTopic:                "/camera/color/camera_info",
		JointStatesTopic:                  "/joint_states",
		SemanticInstanceSegmentationTopic: "/mask_rcnn/result",
		TFTopic:                           "/tf",
		SegmentTopic:                      "depth_segmentation_node/object_segment",
		SceneTopic:                        "segmented_scene",

		WorldFrame: "world",

		UseTransform:       false,
		TransformTolerance: 0.05,
		UseJointVelocities: true,
		MaxJointVelocity:   0.01,
		MaxJointDifference: 0.01,
		WaitTimeStationary: 1.0,

		UseStabilityScore: true,
		MinValidFraction:  0.5,

		MinSegmentSize:  100,
		MinSegmentDepth: 0.1,
		MaxSegmentDepth: 2.0,

		DilationSize: 1,
		DepthScale:   0.001,

		VisualizeSegmentedScene: true,
		SemanticInstanceSegmentation: SemanticInstanceSegmentation{
			OverlapThreshold: 0.8,
		},

		Output:    OutputMemory,
		OutputDir: "segments",
		NATS: NATS{
			URL:           "nats://127.0.0.1:4222",
			Name:          "stableseg",
			SubjectPrefix: "stableseg",
		},
	}
}

// WaitTimeStationaryDuration returns WaitTimeStationary as a duration.
func (c *Config) WaitTimeStationaryDuration() time.Duration {
	return time.Duration(c.WaitTimeStationary * float64(time.Second))
}

// TransformToleranceDuration returns TransformTolerance as a duration.
func (c *Config) TransformToleranceDuration() time.Duration {
	return time.Duration(c.TransformTolerance * float64(time.Second))
}

// Level returns the parsed log level.
func (c *Config) Level() (logging.Level, error) {
	return logging.LevelFromString(c.LogLevel)
}

// CheckValid returns an error naming the first invalid option.
func (c *Config) CheckValid() error {
	if _, err := c.Level(); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if c.DepthImageTopic == "" || c.RGBImageTopic == "" {
		return errors.New("depth_image_topic and rgb_image_topic are required")
	}
	if c.SegmentTopic == "" {
		return errors.New("segment_topic is required")
	}
	if c.VisualizeSegmentedScene && c.SceneTopic == "" {
		return errors.New("scene_topic is required when visualize_segmented_scene is set")
	}
	if c.UseTransform && c.WorldFrame == "" {
		return errors.New("world_frame is required when use_transform is set")
	}
	if c.TransformTolerance < 0 {
		return errors.Errorf("transform_tolerance must be non-negative, got %v", c.TransformTolerance)
	}
	if c.UseSelectiveJoints && len(c.SelectiveJointNames) == 0 {
		return errors.New("selective_joint_names must list at least one joint when use_selective_joints is set")
	}
	if c.MaxJointVelocity < 0 {
		return errors.Errorf("max_joint_velocity must be non-negative, got %v", c.MaxJointVelocity)
	}
	if c.MaxJointDifference < 0 {
		return errors.Errorf("max_joint_difference must be non-negative, got %v", c.MaxJointDifference)
	}
	if c.WaitTimeStationary < 0 {
		return errors.Errorf("wait_time_stationary must be non-negative, got %v", c.WaitTimeStationary)
	}
	if c.MinValidFraction < 0 || c.MinValidFraction > 1 {
		return errors.Errorf("min_valid_fraction must be within [0, 1], got %v", c.MinValidFraction)
	}
	if c.MinSegmentSize < 0 {
		return errors.Errorf("min_segment_size must be non-negative, got %d", c.MinSegmentSize)
	}
	if c.MinSegmentDepth < 0 || c.MaxSegmentDepth <= c.MinSegmentDepth {
		return errors.Errorf("min_segment_depth (%v) and max_segment_depth (%v) must form a non-empty range",
			c.MinSegmentDepth, c.MaxSegmentDepth)
	}
	if c.DilateDepthImage && c.DilationSize < 1 {
		return errors.Errorf("dilation_size must be at least 1, got %d", c.DilationSize)
	}
	if c.DepthScale <= 0 {
		return errors.Errorf("depth_scale must be positive, got %v", c.DepthScale)
	}
	if t := c.SemanticInstanceSegmentation.OverlapThreshold; t < 0 || t > 1 {
		return errors.Errorf("semantic_instance_segmentation.overlap_threshold must be within [0, 1], got %v", t)
	}
	if c.SemanticInstanceSegmentation.Enable && c.SemanticInstanceSegmentationTopic == "" {
		return errors.New("semantic_instance_segmentation_topic is required when semantic_instance_segmentation.enable is set")
	}
	switch c.Output {
	case OutputMemory:
	case OutputDir:
		if c.OutputDir == "" {
			return errors.New("output_dir is required for the dir output")
		}
	case OutputNATS:
		if c.NATS.URL == "" {
			return errors.New("nats.url is required for the nats output")
		}
	default:
		return errors.Errorf("unknown output %q, expected one of %s, %s, %s", c.Output, OutputMemory, OutputDir, OutputNATS)
	}
	return nil
}

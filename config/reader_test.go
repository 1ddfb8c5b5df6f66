package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/stableseg/stableseg/logging"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	conf := Default()
	test.That(t, conf.CheckValid(), test.ShouldBeNil)
	test.That(t, conf.WaitTimeStationaryDuration(), test.ShouldEqual, time.Second)
	level, err := conf.Level()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, logging.INFO)
}

func TestFromAttributes(t *testing.T) {
	t.Parallel()
	conf, unused, err := FromAttributes(AttributeMap{
		"publish_while_moving":  true,
		"use_selective_joints":  true,
		"selective_joint_names": []interface{}{"joint_1", "joint_2"},
		"wait_time_stationary":  "2.5",
		"min_segment_size":      50.0,
		"semantic_instance_segmentation": map[string]interface{}{
			"enable": true,
		},
		"mystery": 1,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.PublishWhileMoving, test.ShouldBeTrue)
	test.That(t, conf.SelectiveJointNames, test.ShouldResemble, []string{"joint_1", "joint_2"})
	test.That(t, conf.WaitTimeStationaryDuration(), test.ShouldEqual, 2500*time.Millisecond)
	test.That(t, conf.MinSegmentSize, test.ShouldEqual, 50)
	test.That(t, conf.SemanticInstanceSegmentation.Enable, test.ShouldBeTrue)
	// nested defaults survive a partial block
	test.That(t, conf.SemanticInstanceSegmentation.OverlapThreshold, test.ShouldEqual, 0.8)
	test.That(t, conf.MaxSegmentDepth, test.ShouldEqual, 2.0)
	test.That(t, unused, test.ShouldResemble, []string{"mystery"})
}

func TestCheckValid(t *testing.T) {
	t.Parallel()
	for key, mutate := range map[string]func(*Config){
		"log_level":             func(c *Config) { c.LogLevel = "loud" },
		"selective_joint_names": func(c *Config) { c.UseSelectiveJoints = true },
		"max_segment_depth":     func(c *Config) { c.MaxSegmentDepth = c.MinSegmentDepth },
		"depth_scale":           func(c *Config) { c.DepthScale = 0 },
		"dilation_size":         func(c *Config) { c.DilateDepthImage, c.DilationSize = true, 0 },
		"overlap_threshold":     func(c *Config) { c.SemanticInstanceSegmentation.OverlapThreshold = 1.5 },
		"unknown output":        func(c *Config) { c.Output = "kafka" },
		"nats.url":              func(c *Config) { c.Output, c.NATS.URL = OutputNATS, "" },
		"wait_time_stationary":  func(c *Config) { c.WaitTimeStationary = -1 },
	} {
		conf := Default()
		mutate(&conf)
		err := conf.CheckValid()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, key)
	}
}

func TestRead(t *testing.T) {
	t.Parallel()
	logger, logs := logging.NewObservedTestLogger(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "session.yaml")
	yamlDoc := `
log_level: debug
use_transform: true
max_joint_velocity: 0.05
output: dir
output_dir: /tmp/segments
extra_key: true
`
	test.That(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0o600), test.ShouldBeNil)
	conf, err := Read(yamlPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.LogLevel, test.ShouldEqual, "debug")
	test.That(t, conf.UseTransform, test.ShouldBeTrue)
	test.That(t, conf.MaxJointVelocity, test.ShouldEqual, 0.05)
	test.That(t, conf.Output, test.ShouldEqual, OutputDir)
	test.That(t, logs.FilterMessage("config has unknown keys").Len(), test.ShouldEqual, 1)

	jsonPath := filepath.Join(dir, "session.json")
	test.That(t, os.WriteFile(jsonPath, []byte(`{"min_segment_depth": 0.2, "publish_scene_as_xyzl": true}`), 0o600),
		test.ShouldBeNil)
	conf, err = Read(jsonPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.MinSegmentDepth, test.ShouldEqual, 0.2)
	test.That(t, conf.PublishSceneAsXYZL, test.ShouldBeTrue)

	badPath := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(badPath, []byte(`{"max_segment_depth": 0.01}`), 0o600), test.ShouldBeNil)
	_, err = Read(badPath, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_segment_depth")

	_, err = Read(filepath.Join(dir, "missing.yaml"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

package segmentation

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/rimage"
	"github.com/stableseg/stableseg/rimage/transform"
)

func testFrame(width, height int, depth float32) *rimage.PreprocessedFrame {
	dm := rimage.NewEmptyFloatDepthMap(width, height)
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dm.Set(x, y, depth)
			img.SetNRGBA(x, y, color.NRGBA{100, 150, 200, 255})
		}
	}
	return &rimage.PreprocessedFrame{Depth: dm, DilatedDepth: dm, Color: img}
}

func testEngine(t *testing.T, width, height int) *MaskProjectionEngine {
	t.Helper()
	intrinsics := &transform.PinholeCameraIntrinsics{
		Width: width, Height: height, Fx: 100, Fy: 100, Ppx: float64(width) / 2, Ppy: float64(height) / 2,
	}
	engine := NewMaskProjectionEngine(DefaultOverlapThreshold, logging.NewTestLogger(t))
	test.That(t, engine.Initialize(transform.CameraModels{Depth: intrinsics, Color: intrinsics}), test.ShouldBeNil)
	return engine
}

func TestMaskProjectionUninitialized(t *testing.T) {
	t.Parallel()
	engine := NewMaskProjectionEngine(DefaultOverlapThreshold, logging.NewTestLogger(t))
	_, err := engine.Segment(context.Background(), testFrame(2, 2, 1), nil)
	test.That(t, err, test.ShouldNotBeNil)

	err = engine.Initialize(transform.CameraModels{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMaskProjectionPlain(t *testing.T) {
	t.Parallel()
	engine := testEngine(t, 4, 3)
	frame := testFrame(4, 3, 1.5)
	frame.Depth.Set(0, 0, 0)

	result, err := engine.Segment(context.Background(), frame, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Segments, test.ShouldHaveLength, 1)
	test.That(t, result.OverlapSegments, test.ShouldBeEmpty)

	seg := result.Segments[0]
	test.That(t, seg.Len(), test.ShouldEqual, 11)
	test.That(t, seg.Normals, test.ShouldHaveLength, 11)
	test.That(t, seg.OriginalColors, test.ShouldHaveLength, 11)
	test.That(t, seg.IsTargetObject, test.ShouldBeFalse)
	test.That(t, seg.InstanceLabels, test.ShouldBeEmpty)
	for i, p := range seg.Points {
		test.That(t, p.Z, test.ShouldEqual, 1.5)
		// a flat wall facing the camera
		test.That(t, seg.Normals[i].Z, test.ShouldAlmostEqual, -1)
		test.That(t, seg.OriginalColors[i].Y, test.ShouldEqual, 150.)
	}
}

func TestMaskProjectionInstances(t *testing.T) {
	t.Parallel()
	engine := testEngine(t, 4, 4)
	frame := testFrame(4, 4, 1)

	// left half: fully backed by depth
	left := image.NewGray(image.Rect(0, 0, 4, 4))
	// bottom right corner: half its pixels have no depth
	corner := image.NewGray(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 2; x++ {
			left.SetGray(x, y, color.Gray{255})
		}
	}
	for y := 2; y < 4; y++ {
		for x := 2; x < 4; x++ {
			corner.SetGray(x, y, color.Gray{1})
		}
	}
	frame.Depth.Set(2, 2, 0)
	frame.Depth.Set(3, 2, 0)

	instances := &SemanticInstanceSegmentation{Masks: []InstanceMask{
		{Mask: left, ClassID: 2, InstanceID: 11, ClassName: "pepper"},
		{Mask: corner, ClassID: 3, InstanceID: 12, ClassName: "leaf"},
		{Mask: image.NewGray(image.Rect(0, 0, 4, 4)), ClassID: 4, InstanceID: 13},
	}}
	result, err := engine.Segment(context.Background(), frame, instances)
	test.That(t, err, test.ShouldBeNil)

	// two masks with depth plus the background; the empty mask yields nothing
	test.That(t, result.Segments, test.ShouldHaveLength, 3)
	test.That(t, result.Segments[0].Len(), test.ShouldEqual, 8)
	test.That(t, result.Segments[0].InstanceLabel(), test.ShouldEqual, uint32(11))
	test.That(t, result.Segments[0].SemanticLabel(), test.ShouldEqual, uint8(2))
	test.That(t, result.Segments[0].IsTargetObject, test.ShouldBeTrue)
	test.That(t, result.Segments[1].Len(), test.ShouldEqual, 2)
	test.That(t, result.Segments[2].Len(), test.ShouldEqual, 4)
	test.That(t, result.Segments[2].IsTargetObject, test.ShouldBeFalse)

	// only the left mask clears the overlap threshold
	test.That(t, result.OverlapSegments, test.ShouldHaveLength, 1)
	test.That(t, result.OverlapSegments[0].InstanceLabel(), test.ShouldEqual, uint32(11))
}

func TestMaskProjectionCanceled(t *testing.T) {
	t.Parallel()
	engine := testEngine(t, 2, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Segment(ctx, testFrame(2, 2, 1), nil)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

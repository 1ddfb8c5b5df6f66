package segmentation

import (
	"context"
	"image"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/rimage"
	"github.com/stableseg/stableseg/rimage/transform"
)

// DefaultOverlapThreshold is the share of a mask's pixels that must carry depth for its segment to
// count as overlap-confirmed.
const DefaultOverlapThreshold = 0.8

// MaskProjectionEngine back-projects depth pixels through the depth camera model. Each instance
// mask becomes one labeled segment; the pixels no mask covers become one unlabeled segment.
type MaskProjectionEngine struct {
	OverlapThreshold float64

	intrinsics *transform.PinholeCameraIntrinsics
	logger     logging.Logger
}

// NewMaskProjectionEngine returns an engine that is usable once Initialize is called.
func NewMaskProjectionEngine(overlapThreshold float64, logger logging.Logger) *MaskProjectionEngine {
	return &MaskProjectionEngine{OverlapThreshold: overlapThreshold, logger: logger}
}

// Initialize latches the depth camera model.
func (e *MaskProjectionEngine) Initialize(models transform.CameraModels) error {
	if err := models.Depth.CheckValid(); err != nil {
		return errors.Wrap(err, "depth camera")
	}
	e.intrinsics = models.Depth
	return nil
}

// cloud holds the back-projected pixels of one frame.
type cloud struct {
	width, height int
	points        []r3.Vector
	valid         []bool
}

func (c *cloud) at(x, y int) (r3.Vector, bool) {
	if x < 0 || y < 0 || x >= c.width || y >= c.height {
		return r3.Vector{}, false
	}
	k := y*c.width + x
	return c.points[k], c.valid[k]
}

// normal estimates the surface normal at (x, y) from its neighbors, facing the camera.
func (c *cloud) normal(x, y int) r3.Vector {
	center, _ := c.at(x, y)
	neighbor := func(x, y int) r3.Vector {
		if p, ok := c.at(x, y); ok {
			return p
		}
		return center
	}
	dx := neighbor(x+1, y).Sub(neighbor(x-1, y))
	dy := neighbor(x, y+1).Sub(neighbor(x, y-1))
	n := dx.Cross(dy)
	if n.Norm() == 0 {
		return r3.Vector{Z: -1}
	}
	n = n.Normalize()
	if n.Dot(center) > 0 {
		n = n.Mul(-1)
	}
	return n
}

func colorAt(img image.Image, x, y int) r3.Vector {
	if img == nil || !(image.Point{x, y}).In(img.Bounds()) {
		return r3.Vector{}
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return r3.Vector{X: float64(r >> 8), Y: float64(g >> 8), Z: float64(b >> 8)}
}

// Segment implements Engine.
func (e *MaskProjectionEngine) Segment(
	ctx context.Context,
	frame *rimage.PreprocessedFrame,
	instances *SemanticInstanceSegmentation,
) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::MaskProjectionEngine::Segment")
	defer span.End()

	if e.intrinsics == nil {
		return nil, errors.New("segmentation engine used before camera models were set")
	}
	depth := frame.Depth
	c := &cloud{
		width:  depth.Width(),
		height: depth.Height(),
		points: make([]r3.Vector, depth.Width()*depth.Height()),
		valid:  make([]bool, depth.Width()*depth.Height()),
	}
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			d := depth.GetDepth(x, y)
			if d <= 0 {
				continue
			}
			k := y*c.width + x
			c.points[k] = e.intrinsics.PixelToPoint(float64(x), float64(y), float64(d))
			c.valid[k] = true
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	appendPixel := func(seg *Segment, x, y int) {
		p, _ := c.at(x, y)
		seg.Points = append(seg.Points, p)
		seg.Normals = append(seg.Normals, c.normal(x, y))
		seg.OriginalColors = append(seg.OriginalColors, colorAt(frame.Color, x, y))
	}

	result := &Result{}
	claimed := make([]bool, len(c.valid))
	if instances != nil {
		for _, m := range instances.Masks {
			if m.Mask == nil {
				continue
			}
			seg := Segment{
				InstanceLabels: []uint32{uint32(m.InstanceID)},
				SemanticLabels: []uint8{uint8(m.ClassID)},
				IsTargetObject: true,
			}
			maskPixels := 0
			bounds := m.Mask.Bounds()
			for y := bounds.Min.Y; y < bounds.Max.Y && y < c.height; y++ {
				for x := bounds.Min.X; x < bounds.Max.X && x < c.width; x++ {
					if m.Mask.GrayAt(x, y).Y == 0 {
						continue
					}
					maskPixels++
					k := y*c.width + x
					if !c.valid[k] || claimed[k] {
						continue
					}
					claimed[k] = true
					appendPixel(&seg, x, y)
				}
			}
			if seg.Len() == 0 {
				e.logger.Debugw("instance mask has no depth", "instance", m.InstanceID, "class", m.ClassName)
				continue
			}
			result.Segments = append(result.Segments, seg)
			if float64(seg.Len())/float64(maskPixels) >= e.OverlapThreshold {
				result.OverlapSegments = append(result.OverlapSegments, seg)
			}
		}
	}

	background := Segment{}
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			k := y*c.width + x
			if c.valid[k] && !claimed[k] {
				appendPixel(&background, x, y)
			}
		}
	}
	if background.Len() > 0 {
		result.Segments = append(result.Segments, background)
	}
	return result, nil
}

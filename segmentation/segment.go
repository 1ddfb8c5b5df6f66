// Package segmentation defines the segments handed back by a segmentation engine, the checks they
// pass before publication, and a reference engine built on instance masks.
package segmentation

import (
	"context"
	"image"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"github.com/stableseg/stableseg/rimage"
	"github.com/stableseg/stableseg/rimage/transform"
)

// Segment is a connected set of 3D points sharing geometric and label attributes. Normals and
// OriginalColors run parallel to Points; colors hold 0-255 channel values in R, G, B order.
type Segment struct {
	Points         []r3.Vector
	Normals        []r3.Vector
	OriginalColors []r3.Vector

	// Empty label sets mean the segment is unlabeled.
	InstanceLabels []uint32
	SemanticLabels []uint8

	IsTargetObject bool
}

// Len returns the number of points.
func (s *Segment) Len() int {
	return len(s.Points)
}

// InstanceLabel returns the smallest instance label, or 0 when unlabeled.
func (s *Segment) InstanceLabel() uint32 {
	return lo.Min(s.InstanceLabels)
}

// SemanticLabel returns the smallest semantic label, or 0 when unlabeled.
func (s *Segment) SemanticLabel() uint8 {
	return lo.Min(s.SemanticLabels)
}

// InstanceMask is one detected instance: a binary mask with its class and instance ids.
type InstanceMask struct {
	Mask       *image.Gray
	ClassID    int
	ClassName  string
	InstanceID int
}

// SemanticInstanceSegmentation is the set of instance masks detected in one color frame.
type SemanticInstanceSegmentation struct {
	Masks []InstanceMask
}

// Result is what an engine returns for one frame. OverlapSegments is the subset of segments
// confirmed by overlap with an instance mask.
type Result struct {
	Segments        []Segment
	OverlapSegments []Segment
}

// Engine turns a preprocessed frame into segments.
type Engine interface {
	// Initialize is called once when the camera models become known.
	Initialize(models transform.CameraModels) error
	// Segment segments frame. instances is nil when no instance masks are in use.
	Segment(ctx context.Context, frame *rimage.PreprocessedFrame, instances *SemanticInstanceSegmentation) (*Result, error)
}

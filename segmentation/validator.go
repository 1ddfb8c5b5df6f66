package segmentation

import (
	"fmt"

	"github.com/pkg/errors"
)

// MaxOutOfRangeFraction is the largest share of a segment's points allowed on either side of the
// depth range.
const MaxOutOfRangeFraction = 0.3

// ErrSegmentTooSmall is returned for segments below the minimum size.
var ErrSegmentTooSmall = errors.New("segment has too few points")

// DepthRangeError describes a segment whose depths fall outside the accepted range.
type DepthRangeError struct {
	FracGreater float64
	FracLesser  float64
	AvgDepth    float64
}

func (e *DepthRangeError) Error() string {
	return fmt.Sprintf("segment depth outside valid range. frac_greater_depth: %.3f frac_lesser_depth: %.3f avg_depth: %.3f",
		e.FracGreater, e.FracLesser, e.AvgDepth)
}

// Validator rejects segments that are too small or mostly outside [MinDepth, MaxDepth].
type Validator struct {
	MinSize  int
	MinDepth float64
	MaxDepth float64
}

// Check returns nil when seg may be published.
func (v *Validator) Check(seg *Segment) error {
	size := seg.Len()
	if size == 0 || size < v.MinSize {
		return errors.Wrapf(ErrSegmentTooSmall, "%d < %d", size, v.MinSize)
	}

	var greater, lesser int
	var sum float64
	for _, p := range seg.Points {
		if p.Z < v.MinDepth {
			lesser++
		}
		if p.Z > v.MaxDepth {
			greater++
		}
		sum += p.Z
	}
	fracGreater := float64(greater) / float64(size)
	fracLesser := float64(lesser) / float64(size)
	avg := sum / float64(size)
	if fracGreater > MaxOutOfRangeFraction || fracLesser > MaxOutOfRangeFraction || avg < v.MinDepth || avg > v.MaxDepth {
		return &DepthRangeError{FracGreater: fracGreater, FracLesser: fracLesser, AvgDepth: avg}
	}
	return nil
}

// Package rimage holds the image and depth types handled by the segmentation pipeline and the
// preprocessing that normalizes them.
package rimage

import (
	"image"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// FloatDepthMap is a row-major depth image in meters. Zero means no return.
type FloatDepthMap struct {
	width  int
	height int

	data []float32
}

// NewEmptyFloatDepthMap returns a zero-filled depth map of the given size.
func NewEmptyFloatDepthMap(width, height int) *FloatDepthMap {
	return &FloatDepthMap{
		width:  width,
		height: height,
		data:   make([]float32, width*height),
	}
}

// Width returns the horizontal size of the depth map.
func (dm *FloatDepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size of the depth map.
func (dm *FloatDepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle dimensions of the depth map.
func (dm *FloatDepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

func (dm *FloatDepthMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// Contains returns whether or not a point is within bounds of the depth map.
func (dm *FloatDepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// GetDepth returns the depth at (x, y).
func (dm *FloatDepthMap) GetDepth(x, y int) float32 {
	return dm.data[dm.kxy(x, y)]
}

// Set sets the depth at (x, y).
func (dm *FloatDepthMap) Set(x, y int, val float32) {
	dm.data[dm.kxy(x, y)] = val
}

// Data returns the underlying row-major samples.
func (dm *FloatDepthMap) Data() []float32 {
	return dm.data
}

// Clone makes a deep copy of the depth map.
func (dm *FloatDepthMap) Clone() *FloatDepthMap {
	out := &FloatDepthMap{width: dm.width, height: dm.height, data: make([]float32, len(dm.data))}
	copy(out.data, dm.data)
	return out
}

// ReplaceNonFinite sets every NaN or infinite sample to zero and returns how many were replaced.
func (dm *FloatDepthMap) ReplaceNonFinite() int {
	replaced := 0
	for i, d := range dm.data {
		f := float64(d)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			dm.data[i] = 0
			replaced++
		}
	}
	return replaced
}

// MinMax returns the minimum and maximum valid (non-zero) depth.
func (dm *FloatDepthMap) MinMax() (float32, float32) {
	var lo, hi float32
	first := true
	for _, d := range dm.data {
		if d == 0 {
			continue
		}
		if first || d < lo {
			lo = d
		}
		if first || d > hi {
			hi = d
		}
		first = false
	}
	return lo, hi
}

// ValidCount returns the number of samples with a depth reading.
func (dm *FloatDepthMap) ValidCount() int {
	n := 0
	for _, d := range dm.data {
		if d > 0 {
			n++
		}
	}
	return n
}

// DepthStats summarizes the valid samples of a depth map.
type DepthStats struct {
	Valid  int
	Mean   float64
	Median float64
	StdDev float64
}

// Stats computes mean, median and standard deviation over the valid samples.
func (dm *FloatDepthMap) Stats() (DepthStats, error) {
	valid := make(stats.Float64Data, 0, len(dm.data))
	for _, d := range dm.data {
		if d > 0 {
			valid = append(valid, float64(d))
		}
	}
	if len(valid) == 0 {
		return DepthStats{}, errors.New("depth map has no valid samples")
	}
	mean, err := valid.Mean()
	if err != nil {
		return DepthStats{}, err
	}
	median, err := valid.Median()
	if err != nil {
		return DepthStats{}, err
	}
	stddev, err := valid.StandardDeviation()
	if err != nil {
		return DepthStats{}, err
	}
	return DepthStats{Valid: len(valid), Mean: mean, Median: median, StdDev: stddev}, nil
}

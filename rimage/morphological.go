package rimage

import (
	"github.com/pkg/errors"
)

// DilateSquare applies a grey-scale dilation with a square structuring element of side 2*size+1:
// every output sample is the maximum of its in-bounds neighborhood. The filter is separable, so it
// runs as a horizontal pass followed by a vertical one.
func DilateSquare(dm *FloatDepthMap, size int) (*FloatDepthMap, error) {
	if size < 0 {
		return nil, errors.Errorf("dilation size must be non-negative, got %d", size)
	}
	if size == 0 {
		return dm.Clone(), nil
	}

	w, h := dm.Width(), dm.Height()
	horizontal := NewEmptyFloatDepthMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			horizontal.Set(x, y, windowMax(x, size, w, func(i int) float32 { return dm.GetDepth(i, y) }))
		}
	}

	out := NewEmptyFloatDepthMap(w, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			out.Set(x, y, windowMax(y, size, h, func(i int) float32 { return horizontal.GetDepth(x, i) }))
		}
	}
	return out, nil
}

func windowMax(center, size, limit int, at func(int) float32) float32 {
	lo := center - size
	if lo < 0 {
		lo = 0
	}
	hi := center + size
	if hi > limit-1 {
		hi = limit - 1
	}
	best := at(lo)
	for i := lo + 1; i <= hi; i++ {
		if v := at(i); v > best {
			best = v
		}
	}
	return best
}

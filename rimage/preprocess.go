package rimage

import (
	"image"

	"github.com/pkg/errors"
)

// PreprocessedFrame is a depth/color pair normalized for segmentation.
type PreprocessedFrame struct {
	Depth        *FloatDepthMap
	DilatedDepth *FloatDepthMap
	Gray         *image.Gray
	Mask         *image.Gray
	Color        image.Image
	RawDepth     *RawDepth

	// NonFinite counts the depth samples that were replaced with zero.
	NonFinite int
}

// Preprocessor turns raw depth and color frames into PreprocessedFrames.
type Preprocessor struct {
	DepthScale   float64
	DilateDepth  bool
	DilationSize int
}

// NewPreprocessor returns a Preprocessor with the default depth scale and no dilation.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{DepthScale: DefaultDepthScale, DilationSize: 1}
}

// Preprocess decodes raw, clears its non-finite samples, optionally dilates it and derives the gray
// image and validity mask from color. An UnsupportedEncodingError is returned as is so callers can
// detect it with errors.As.
func (p *Preprocessor) Preprocess(raw *RawDepth, color image.Image) (*PreprocessedFrame, error) {
	if raw == nil || color == nil {
		return nil, errors.New("preprocessing needs both a depth and a color frame")
	}
	scale := p.DepthScale
	if scale == 0 {
		scale = DefaultDepthScale
	}
	depth, err := DecodeDepth(raw, scale)
	if err != nil {
		return nil, err
	}
	nonFinite := depth.ReplaceNonFinite()

	dilated := depth
	if p.DilateDepth {
		dilated, err = DilateSquare(depth, p.DilationSize)
		if err != nil {
			return nil, err
		}
	}

	bounds := color.Bounds()
	return &PreprocessedFrame{
		Depth:        depth,
		DilatedDepth: dilated,
		Gray:         ToGray(color),
		Mask:         NewFilledMask(bounds.Dx(), bounds.Dy()),
		Color:        color,
		RawDepth:     raw,
		NonFinite:    nonFinite,
	}, nil
}
